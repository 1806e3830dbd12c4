package reputation

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNoSnapshot is returned when a node has never been scored.
var ErrNoSnapshot = errors.New("reputation: no snapshot for node")

// SnapshotStore persists snapshots. Saving never overwrites: superseded
// snapshots stay queryable for audit.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context, nodeID string) (Snapshot, error)
	History(ctx context.Context, nodeID string) ([]Snapshot, error)
}

// MemorySnapshotStore keeps full snapshot history in memory, keyed by node.
type MemorySnapshotStore struct {
	mu      sync.RWMutex
	history map[string][]Snapshot
}

// NewMemorySnapshotStore creates an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{history: make(map[string][]Snapshot)}
}

// Save appends a snapshot to the node's history.
func (s *MemorySnapshotStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[snap.NodeID] = append(s.history[snap.NodeID], snap)
	return nil
}

// Latest returns the most recently computed snapshot for a node.
func (s *MemorySnapshotStore) Latest(_ context.Context, nodeID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.history[nodeID]
	if len(snaps) == 0 {
		return Snapshot{}, ErrNoSnapshot
	}

	latest := snaps[0]
	for _, snap := range snaps[1:] {
		if !snap.ComputedAt.Before(latest.ComputedAt) {
			latest = snap
		}
	}
	return latest, nil
}

// History returns all snapshots for a node, oldest first.
func (s *MemorySnapshotStore) History(_ context.Context, nodeID string) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.history[nodeID]
	out := make([]Snapshot, len(snaps))
	copy(out, snaps)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ComputedAt.Before(out[j].ComputedAt)
	})
	return out, nil
}
