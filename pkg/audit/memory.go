package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Filter selects events for queries and exports. Zero-value fields match
// everything.
type Filter struct {
	NodeID    string
	Type      EventType
	StartTime time.Time
	EndTime   time.Time
}

// MemoryLogger retains events in memory and serves queries over them. Used
// as the export source and in tests that assert on what got audited.
type MemoryLogger struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryLogger creates an empty MemoryLogger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Record appends an event.
func (l *MemoryLogger) Record(_ context.Context, eventType EventType, nodeID, action, resource string, metadata map[string]any) error {
	if nodeID == "" {
		nodeID = "system"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{
		ID:        uuid.New().String(),
		NodeID:    nodeID,
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	return nil
}

// Multi fans out each record to every logger. The first failure is
// returned, but every logger is attempted.
func Multi(loggers ...Logger) Logger {
	return multiLogger(loggers)
}

type multiLogger []Logger

func (m multiLogger) Record(ctx context.Context, eventType EventType, nodeID, action, resource string, metadata map[string]any) error {
	var firstErr error
	for _, l := range m {
		if err := l.Record(ctx, eventType, nodeID, action, resource, metadata); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Query returns events matching the filter, in record order.
func (l *MemoryLogger) Query(filter Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	for _, ev := range l.events {
		if filter.NodeID != "" && ev.NodeID != filter.NodeID {
			continue
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		if !filter.StartTime.IsZero() && ev.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && ev.Timestamp.After(filter.EndTime) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
