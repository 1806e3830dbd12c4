// Package event defines the append-only transaction event ledger. Events
// are immutable facts; current transaction state is always derived by
// folding them, never stored.
package event

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no events exist for an entity.
var ErrNotFound = errors.New("not found")

// Event is an immutable fact about an entity. Events are never updated or
// deleted after append.
type Event struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	ActorID    string         `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Ledger is the append-only event store. Per-entity sequences are ordered
// by occurred_at with ties broken by insertion order. Writers for a single
// entity are expected to serialize; readers never block writers.
type Ledger interface {
	// Append persists a new event. All-or-nothing: a failed append leaves
	// no partial state.
	Append(ctx context.Context, ev Event) error

	// ListByEntity returns the full ordered event sequence for an entity.
	ListByEntity(ctx context.Context, entityID string) ([]Event, error)

	// ListByEntityUntil returns the ordered prefix of events with
	// occurred_at <= until, enabling as-of derivation.
	ListByEntityUntil(ctx context.Context, entityID string, until time.Time) ([]Event, error)
}
