// Package notify carries point-to-point notification events from fan-out to
// durable storage. Delivery and persistence are deliberately decoupled: the
// real-time path never waits on the database.
package notify

import (
	"time"

	"github.com/rs/xid"
)

// Event is a single notification. It is immutable once the fan-out path has
// stamped NotifyID and CreatedOn; only the seen flag changes later, and not
// through this core.
type Event struct {
	NotifyID     string    `json:"notifyId"`
	SenderID     string    `json:"senderId"`
	SenderName   string    `json:"senderName"`
	ReceiverID   string    `json:"receiverId"`
	ReceiverName string    `json:"receiverName"`
	IssueID      string    `json:"issueId"`
	Message      string    `json:"message"`
	CreatedOn    time.Time `json:"createdOn"`
	Seen         bool      `json:"seen"`
}

// NewID returns a short, unguessable, collision-resistant notify id.
func NewID() string {
	return xid.New().String()
}
