package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// storedTimeLayout is RFC 3339 with a fixed-width fractional part. Timestamps
// are compared as text in SQL, so lexicographic order must equal chronological
// order; RFC3339Nano trims trailing zeros and breaks that.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteLedger is an embedded single-file Ledger.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger wraps db and runs migrations.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS events (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        entity_type TEXT NOT NULL,
        entity_id TEXT NOT NULL,
        event_type TEXT NOT NULL,
        payload JSON,
        actor_id TEXT,
        occurred_at TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id, occurred_at, seq);`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

func (l *SQLiteLedger) Append(ctx context.Context, ev Event) error {
	if ev.EntityID == "" {
		return fmt.Errorf("event: missing entity_id")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("event: payload encoding failed: %w", err)
	}

	query := `INSERT INTO events (id, entity_type, entity_id, event_type, payload, actor_id, occurred_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = l.db.ExecContext(ctx, query,
		ev.ID, ev.EntityType, ev.EntityID, ev.EventType, string(payloadJSON), ev.ActorID,
		ev.OccurredAt.UTC().Format(storedTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("event: append failed: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) ListByEntity(ctx context.Context, entityID string) ([]Event, error) {
	query := `SELECT id, entity_type, entity_id, event_type, payload, actor_id, occurred_at
        FROM events WHERE entity_id = ? ORDER BY occurred_at, seq`
	rows, err := l.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (l *SQLiteLedger) ListByEntityUntil(ctx context.Context, entityID string, until time.Time) ([]Event, error) {
	query := `SELECT id, entity_type, entity_id, event_type, payload, actor_id, occurred_at
        FROM events WHERE entity_id = ? AND occurred_at <= ? ORDER BY occurred_at, seq`
	rows, err := l.db.QueryContext(ctx, query, entityID, until.UTC().Format(storedTimeLayout))
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			ev          Event
			payloadJSON sql.NullString
			actorID     sql.NullString
			occurredAt  string
		)
		if err := rows.Scan(&ev.ID, &ev.EntityType, &ev.EntityID, &ev.EventType, &payloadJSON, &actorID, &occurredAt); err != nil {
			return nil, err
		}
		ev.ActorID = actorID.String
		ev.OccurredAt = parseTime(occurredAt)
		if payloadJSON.Valid && payloadJSON.String != "" {
			_ = json.Unmarshal([]byte(payloadJSON.String), &ev.Payload)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
