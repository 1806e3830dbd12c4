package event

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-memory Ledger for tests and embedded use.
type MemoryLedger struct {
	mu     sync.RWMutex
	events map[string][]Event // entityID -> append order
	seen   map[string]bool    // event IDs, enforces immutability
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		events: make(map[string][]Event),
		seen:   make(map[string]bool),
	}
}

func (l *MemoryLedger) Append(ctx context.Context, ev Event) error {
	if ev.EntityID == "" {
		return fmt.Errorf("event: missing entity_id")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen[ev.ID] {
		return fmt.Errorf("event: duplicate event id %s", ev.ID)
	}
	l.seen[ev.ID] = true
	l.events[ev.EntityID] = append(l.events[ev.EntityID], ev)
	return nil
}

func (l *MemoryLedger) ListByEntity(ctx context.Context, entityID string) ([]Event, error) {
	return l.ListByEntityUntil(ctx, entityID, time.Time{})
}

func (l *MemoryLedger) ListByEntityUntil(ctx context.Context, entityID string, until time.Time) ([]Event, error) {
	l.mu.RLock()
	stored := l.events[entityID]
	out := make([]Event, 0, len(stored))
	for _, ev := range stored {
		if !until.IsZero() && ev.OccurredAt.After(until) {
			continue
		}
		out = append(out, ev)
	}
	l.mu.RUnlock()

	// Stable sort keeps insertion order for occurred_at ties.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}
