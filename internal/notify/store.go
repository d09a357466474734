package notify

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
	notify_id     TEXT PRIMARY KEY,
	sender_id     TEXT NOT NULL,
	sender_name   TEXT NOT NULL,
	receiver_id   TEXT NOT NULL DEFAULT '',
	receiver_name TEXT NOT NULL DEFAULT '',
	issue_id      TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL DEFAULT '',
	created_on    TIMESTAMPTZ NOT NULL,
	seen          BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS notifications_receiver_idx ON notifications (receiver_id, created_on DESC);
`

// Store persists notification events in PostgreSQL.
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
}

// Open connects to PostgreSQL with otelsql instrumentation, ensures the
// schema exists and prepares the hot-path insert.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	db, err := otelsql.Open("postgres", dbURL,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("notify: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("notify: ensure schema: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an existing database handle. The caller keeps ownership of
// schema management when using this constructor.
func NewStore(db *sql.DB) (*Store, error) {
	insert, err := db.Prepare(
		"INSERT INTO notifications (notify_id, sender_id, sender_name, receiver_id, receiver_name, issue_id, message, created_on, seen) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
	)
	if err != nil {
		return nil, fmt.Errorf("notify: prepare insert: %w", err)
	}
	return &Store{db: db, insert: insert}, nil
}

// Insert writes one event. The notify_id primary key makes a duplicate write
// fail rather than produce a second record.
func (s *Store) Insert(ctx context.Context, e Event) error {
	_, err := s.insert.ExecContext(ctx,
		e.NotifyID, e.SenderID, e.SenderName, e.ReceiverID, e.ReceiverName,
		e.IssueID, e.Message, e.CreatedOn, e.Seen,
	)
	if err != nil {
		return fmt.Errorf("notify: insert %s: %w", e.NotifyID, err)
	}
	return nil
}

// ListByReceiver returns all persisted events addressed to a receiver,
// newest first.
func (s *Store) ListByReceiver(ctx context.Context, receiverID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT notify_id, sender_id, sender_name, receiver_id, receiver_name, issue_id, message, created_on, seen FROM notifications WHERE receiver_id = $1 ORDER BY created_on DESC",
		receiverID,
	)
	if err != nil {
		return nil, fmt.Errorf("notify: list for %s: %w", receiverID, err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.NotifyID, &e.SenderID, &e.SenderName, &e.ReceiverID, &e.ReceiverName,
			&e.IssueID, &e.Message, &e.CreatedOn, &e.Seen); err != nil {
			return nil, fmt.Errorf("notify: scan row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate rows: %w", err)
	}
	return events, nil
}

// Close releases the prepared statement and the database handle.
func (s *Store) Close() error {
	s.insert.Close()
	return s.db.Close()
}
