package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/issue-notify/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// session is the per-connection state. A session carries at most one
// authenticated userId, bound only after a successful set-user exchange.
type session struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	// send is never closed; writers race with disconnect, so the write pump
	// exits via done instead.
	send chan Envelope
	done chan struct{}

	closeOnce sync.Once

	mu        sync.Mutex
	userID    string
	authTimer *time.Timer
}

func newSession(h *Hub, conn *websocket.Conn) *session {
	return &session{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan Envelope, h.sendBuffer),
		done: make(chan struct{}),
	}
}

func (s *session) user() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *session) bindUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	if s.authTimer != nil {
		s.authTimer.Stop()
		s.authTimer = nil
	}
}

// armAuthTimer closes the connection if no successful authentication happens
// before the deadline. Anonymous connections otherwise linger forever.
func (s *session) armAuthTimer(deadline time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authTimer = time.AfterFunc(deadline, func() {
		if s.user() != "" {
			return
		}
		slog.Info("Closing unauthenticated connection after deadline", "session", s.id)
		s.close()
	})
}

// trySend queues an envelope without blocking. Slow consumers lose frames;
// the hub counts the drops.
func (s *session) trySend(env Envelope) bool {
	select {
	case <-s.done:
		return false
	case s.send <- env:
		return true
	default:
		return false
	}
}

// close tears down the transport. Idempotent; the read pump notices the
// closed connection and runs the hub-side disconnect path.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Lock()
		if s.authTimer != nil {
			s.authTimer.Stop()
			s.authTimer = nil
		}
		s.mu.Unlock()
	})
}

func (s *session) readPump() {
	defer func() {
		s.hub.disconnect(s)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket read error", "session", s.id, "error", err)
			}
			return
		}
		s.dispatch(env)
	}
}

func (s *session) dispatch(env Envelope) {
	switch env.Event {
	case EventSetUser:
		var tokenString string
		if err := json.Unmarshal(env.Data, &tokenString); err != nil {
			slog.Warn("Malformed set-user payload", "session", s.id, "error", err)
			return
		}
		s.hub.authenticate(s, tokenString)
	case EventNotify:
		var evt notify.Event
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			slog.Warn("Malformed notify payload", "session", s.id, "error", err)
			return
		}
		s.hub.notify(s, evt)
	default:
		slog.Debug("Ignoring unknown event", "session", s.id, "event", env.Event)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case env := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				slog.Debug("WebSocket write error", "session", s.id, "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
