package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/example/issue-notify/internal/notify"
	"github.com/example/issue-notify/internal/registry"
	"github.com/example/issue-notify/internal/token"
)

const (
	defaultSendBuffer   = 32
	defaultAuthDeadline = 2 * time.Minute
	registryTimeout     = 5 * time.Second
)

// Scheduler queues a notify event for asynchronous persistence.
type Scheduler interface {
	Enqueue(e notify.Event) bool
}

// Config wires the hub's collaborators.
type Config struct {
	Registry registry.Store
	Verifier *token.Verifier
	Worker   Scheduler

	// Hash is the registry hash holding online users. Defaults to
	// registry.DefaultHash.
	Hash string
	// AuthDeadline bounds how long a connection may stay unauthenticated.
	AuthDeadline time.Duration
	// SendBuffer is the per-session outbound queue size.
	SendBuffer int
}

// Hub coordinates all live sessions: presence lifecycle, snapshot broadcast
// and notify fan-out. The registry is the source of truth for who is online;
// the hub itself only keeps the connection→userId binding needed to target
// deliveries.
type Hub struct {
	store        registry.Store
	verifier     *token.Verifier
	worker       Scheduler
	hash         string
	authDeadline time.Duration
	sendBuffer   int

	mu       sync.RWMutex
	sessions map[string]*session

	authSuccessCounter metric.Int64Counter
	authFailureCounter metric.Int64Counter
	broadcastCounter   metric.Int64Counter
	deliveredCounter   metric.Int64Counter
	droppedCounter     metric.Int64Counter
}

// New builds a Hub. Registry, Verifier and Worker are required.
func New(cfg Config) *Hub {
	if cfg.Hash == "" {
		cfg.Hash = registry.DefaultHash
	}
	if cfg.AuthDeadline == 0 {
		cfg.AuthDeadline = defaultAuthDeadline
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = defaultSendBuffer
	}

	meter := otel.Meter("hub")
	authSuccess, _ := meter.Int64Counter("hub_auth_success_total",
		metric.WithDescription("Total successful connection authentications"))
	authFailure, _ := meter.Int64Counter("hub_auth_failures_total",
		metric.WithDescription("Total rejected authentication attempts"))
	broadcasts, _ := meter.Int64Counter("hub_presence_broadcasts_total",
		metric.WithDescription("Total online-user-list broadcasts"))
	delivered, _ := meter.Int64Counter("hub_notify_delivered_total",
		metric.WithDescription("Total notify events delivered to live receivers"))
	dropped, _ := meter.Int64Counter("hub_frames_dropped_total",
		metric.WithDescription("Total outbound frames dropped for slow or closed sessions"))

	h := &Hub{
		store:              cfg.Registry,
		verifier:           cfg.Verifier,
		worker:             cfg.Worker,
		hash:               cfg.Hash,
		authDeadline:       cfg.AuthDeadline,
		sendBuffer:         cfg.SendBuffer,
		sessions:           make(map[string]*session),
		authSuccessCounter: authSuccess,
		authFailureCounter: authFailure,
		broadcastCounter:   broadcasts,
		deliveredCounter:   delivered,
		droppedCounter:     dropped,
	}

	sessionsGauge, _ := meter.Int64ObservableGauge("hub_sessions_active",
		metric.WithDescription("Currently open sessions"))
	meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		h.mu.RLock()
		n := len(h.sessions)
		h.mu.RUnlock()
		o.ObserveInt64(sessionsGauge, int64(n))
		return nil
	}, sessionsGauge)

	return h
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Access is gated by the set-user token exchange, not by origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request and runs the connection's lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	s := newSession(h, conn)
	h.register(s)

	go s.writePump()
	go s.readPump()
}

// register adds the session, arms the auth deadline and emits the verifyUser
// challenge.
func (h *Hub) register(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	s.armAuthTimer(h.authDeadline)

	if env, err := newEnvelope(EventVerifyUser, "Please verify your identity"); err == nil {
		s.trySend(env)
	}
	slog.Debug("Session connected", "session", s.id)
}

// authenticate handles a set-user event: verify the token, bind the user,
// register presence and broadcast the fresh snapshot to everyone else.
func (h *Hub) authenticate(s *session, tokenString string) {
	claims, err := h.verifier.Verify(tokenString)
	if err != nil {
		h.authFailureCounter.Add(context.Background(), 1)
		slog.Info("Authentication failed", "session", s.id, "error", err)
		if env, envErr := newEnvelope(EventAuthError, AuthError{
			Status: http.StatusInternalServerError,
			Error:  "Please provide correct auth token",
		}); envErr == nil {
			s.trySend(env)
		}
		return
	}

	s.bindUser(claims.UserID)
	h.authSuccessCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("user", claims.UserID),
	))
	slog.Info("User authenticated", "session", s.id, "user", claims.UserID, "name", claims.FullName())

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()

	if err := h.store.SetField(ctx, h.hash, claims.UserID, claims.FullName()); err != nil {
		// Presence registration is degraded, not fatal: the connection stays
		// authenticated and can still exchange notify events.
		slog.Error("Failed to register online user", "user", claims.UserID, "error", err)
		return
	}
	h.broadcastSnapshot(ctx, s)
}

// disconnect tears the session down. Safe to call more than once; only the
// first call for an authenticated session mutates the registry.
func (h *Hub) disconnect(s *session) {
	h.mu.Lock()
	_, present := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()

	s.close()
	if !present {
		return
	}

	userID := s.user()
	slog.Debug("Session disconnected", "session", s.id, "user", userID)
	if userID == "" {
		return // never registered presence
	}

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()

	if err := h.store.DeleteField(ctx, h.hash, userID); err != nil {
		slog.Error("Failed to remove online user", "user", userID, "error", err)
		return
	}
	h.broadcastSnapshot(ctx, nil)
}

// broadcastSnapshot reads the registry back and pushes the full online list
// to every session except skip. Snapshots always come from a post-mutation
// read of the shared store, never from a locally cached view.
func (h *Hub) broadcastSnapshot(ctx context.Context, skip *session) {
	snapshot, err := h.store.Fields(ctx, h.hash)
	if err != nil {
		slog.Error("Failed to read presence snapshot, broadcasting empty list", "error", err)
		snapshot = []registry.OnlineUser{}
	}

	env, err := newEnvelope(EventOnlineUserList, snapshot)
	if err != nil {
		slog.Error("Failed to encode presence snapshot", "error", err)
		return
	}

	for _, target := range h.snapshotSessions() {
		if skip != nil && target.id == skip.id {
			continue
		}
		if !target.trySend(env) {
			h.droppedCounter.Add(ctx, 1)
		}
	}
	h.broadcastCounter.Add(ctx, 1)
	slog.Debug("Broadcast presence snapshot", "online", len(snapshot))
}

// notify stamps a fresh notifyId, delivers to the receiver's live sessions
// and schedules the durable write. Best effort: an offline receiver gets
// nothing on the real-time path and relies on persistence.
func (h *Hub) notify(s *session, evt notify.Event) {
	if s.user() == "" {
		slog.Warn("Ignoring notify from unauthenticated session", "session", s.id)
		return
	}

	evt.NotifyID = notify.NewID()
	if evt.CreatedOn.IsZero() {
		evt.CreatedOn = time.Now().UTC()
	}

	env, err := newEnvelope(evt.ReceiverID, evt)
	if err != nil {
		slog.Error("Failed to encode notify event", "error", err)
		return
	}

	ctx := context.Background()
	delivered := 0
	for _, target := range h.snapshotSessions() {
		// An empty receiverId must not match unauthenticated sessions; the
		// event still gets persisted with the empty default.
		if evt.ReceiverID == "" || target.user() != evt.ReceiverID {
			continue
		}
		if target.trySend(env) {
			delivered++
		} else {
			h.droppedCounter.Add(ctx, 1)
		}
	}
	h.deliveredCounter.Add(ctx, int64(delivered), metric.WithAttributes(
		attribute.String("receiver", evt.ReceiverID),
	))
	slog.Debug("Fanned out notify event",
		"notifyId", evt.NotifyID, "sender", evt.SenderID, "receiver", evt.ReceiverID, "delivered", delivered)

	h.worker.Enqueue(evt)
}

func (h *Hub) snapshotSessions() []*session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// Shutdown closes every open session.
func (h *Hub) Shutdown() {
	for _, s := range h.snapshotSessions() {
		h.disconnect(s)
	}
}
