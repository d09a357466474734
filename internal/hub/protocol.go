// Package hub owns the real-time layer: WebSocket sessions, the per-connection
// presence lifecycle, snapshot broadcasts and point-to-point notify fan-out.
package hub

import (
	"encoding/json"
	"fmt"
)

// Wire event names. Outbound notify deliveries use the receiver's userId as
// the event name, so receivers subscribe to their own id.
const (
	EventVerifyUser     = "verifyUser"
	EventSetUser        = "set-user"
	EventAuthError      = "auth-error"
	EventOnlineUserList = "online-user-list"
	EventNotify         = "notify"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// AuthError is the payload of an auth-error event.
type AuthError struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

func newEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("hub: marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}
