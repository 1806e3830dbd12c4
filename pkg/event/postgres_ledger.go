package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/lib/pq"
)

// PostgresLedger is the shared-deployment Ledger backend.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger wraps db. Call Init once to run migrations.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const postgresLedgerSchema = `
CREATE TABLE IF NOT EXISTS events (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload JSONB,
    actor_id TEXT,
    occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id, occurred_at, seq);
`

// Init creates the events table.
func (l *PostgresLedger) Init(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, postgresLedgerSchema)
	return err
}

func (l *PostgresLedger) Append(ctx context.Context, ev Event) error {
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
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = l.db.ExecContext(ctx, query,
		ev.ID, ev.EntityType, ev.EntityID, ev.EventType, string(payloadJSON), ev.ActorID, ev.OccurredAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("event: append failed: %w", err)
	}
	return nil
}

func (l *PostgresLedger) ListByEntity(ctx context.Context, entityID string) ([]Event, error) {
	query := `SELECT id, entity_type, entity_id, event_type, payload, actor_id, occurred_at
        FROM events WHERE entity_id = $1 ORDER BY occurred_at, seq`
	rows, err := l.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, err
	}
	return scanPostgresEvents(rows)
}

func (l *PostgresLedger) ListByEntityUntil(ctx context.Context, entityID string, until time.Time) ([]Event, error) {
	query := `SELECT id, entity_type, entity_id, event_type, payload, actor_id, occurred_at
        FROM events WHERE entity_id = $1 AND occurred_at <= $2 ORDER BY occurred_at, seq`
	rows, err := l.db.QueryContext(ctx, query, entityID, until.UTC())
	if err != nil {
		return nil, err
	}
	return scanPostgresEvents(rows)
}

func scanPostgresEvents(rows *sql.Rows) ([]Event, error) {
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			ev          Event
			payloadJSON sql.NullString
			actorID     sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.EntityType, &ev.EntityID, &ev.EventType, &payloadJSON, &actorID, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.ActorID = actorID.String
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
