package attestation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and embedded use.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Attestation
	all  []Attestation // append order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Attestation)}
}

func (s *MemoryStore) Append(ctx context.Context, att Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(att)
}

func (s *MemoryStore) AppendBatch(ctx context.Context, atts []Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before touching state: a failure must leave
	// nothing stored.
	for _, att := range atts {
		if att.AttestationID == "" {
			return fmt.Errorf("attestation: missing attestation_id")
		}
		if _, exists := s.byID[att.AttestationID]; exists {
			return fmt.Errorf("attestation: duplicate attestation id %s", att.AttestationID)
		}
	}
	for _, att := range atts {
		if err := s.appendLocked(att); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) appendLocked(att Attestation) error {
	if att.AttestationID == "" {
		return fmt.Errorf("attestation: missing attestation_id")
	}
	if _, exists := s.byID[att.AttestationID]; exists {
		return fmt.Errorf("attestation: duplicate attestation id %s", att.AttestationID)
	}
	s.byID[att.AttestationID] = att
	s.all = append(s.all, att)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, q Query) ([]Attestation, error) {
	s.mu.RLock()
	out := make([]Attestation, 0)
	for _, att := range s.all {
		if att.EntityFingerprint != q.EntityFingerprint {
			continue
		}
		if q.AttestationType != "" && att.AttestationType != q.AttestationType {
			continue
		}
		if !q.After.IsZero() && !att.IssuedAt.After(q.After) {
			continue
		}
		out = append(out, att)
	}
	s.mu.RUnlock()

	sortAttestations(out)
	return out, nil
}

func (s *MemoryStore) ListByIssuer(ctx context.Context, nodeID string) ([]Attestation, error) {
	s.mu.RLock()
	out := make([]Attestation, 0)
	for _, att := range s.all {
		if att.IssuingNodeID == nodeID {
			out = append(out, att)
		}
	}
	s.mu.RUnlock()

	sortAttestations(out)
	return out, nil
}

func sortAttestations(atts []Attestation) {
	sort.SliceStable(atts, func(i, j int) bool {
		if !atts[i].IssuedAt.Equal(atts[j].IssuedAt) {
			return atts[i].IssuedAt.Before(atts[j].IssuedAt)
		}
		return atts[i].AttestationID < atts[j].AttestationID
	})
}
