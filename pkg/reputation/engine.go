// Package reputation derives a 0-100 trust score per federation node from
// that node's own attestation history. The score is a pure function of the
// attestations: recomputing over the same history always yields the same
// snapshot, and a node with no history lands on the neutral midpoint rather
// than the floor or ceiling.
package reputation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/escrowgrid/core/pkg/attestation"
)

// Metric weights. Failure and dispute rates enter inverted so that every
// component rewards the same direction.
const (
	weightOnTimeClose = 0.4
	weightFailure     = 0.3
	weightDispute     = 0.2
	weightAutomation  = 0.1

	// neutralRatio is used for any metric with zero samples, so sparse
	// history pulls the score toward 50 instead of toward an extreme.
	neutralRatio = 0.5
)

// DefaultSnapshotValidity bounds how long a snapshot may be served before
// recomputation.
const DefaultSnapshotValidity = 7 * 24 * time.Hour

// Metrics is the per-node breakdown behind a score. Ratios are 0-1.
type Metrics struct {
	TotalTransactions     int     `json:"total_transactions"`
	TotalAttestations     int     `json:"total_attestations"`
	OnTimeCloseRatio      float64 `json:"on_time_close_ratio"`
	FailureRate           float64 `json:"failure_rate"`
	DisputeFrequency      float64 `json:"dispute_frequency"`
	AutomationReliability float64 `json:"automation_reliability"`
}

// Snapshot is a computed reputation score with its provenance. Superseded
// snapshots are retained, never overwritten.
type Snapshot struct {
	NodeID     string    `json:"node_id"`
	Score      float64   `json:"score"`
	Metrics    Metrics   `json:"metrics"`
	ComputedAt time.Time `json:"computed_at"`
	ValidUntil time.Time `json:"valid_until"`
}

// Expired reports whether the snapshot has passed its validity window.
func (s Snapshot) Expired(now time.Time) bool {
	return now.After(s.ValidUntil)
}

// Engine computes reputation snapshots from an attestation store.
type Engine struct {
	store    attestation.Store
	validity time.Duration
	clock    func() time.Time
}

// NewEngine creates an Engine with the default snapshot validity.
func NewEngine(store attestation.Store) *Engine {
	return &Engine{store: store, validity: DefaultSnapshotValidity, clock: time.Now}
}

// WithValidity overrides the snapshot validity window.
func (e *Engine) WithValidity(d time.Duration) *Engine {
	e.validity = d
	return e
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// ComputeReputation derives a fresh snapshot for a node from its full
// attestation history. A node with zero attestations scores exactly 50.
func (e *Engine) ComputeReputation(ctx context.Context, nodeID string) (Snapshot, error) {
	ctx, span := otel.Tracer("escrowgrid/reputation").Start(ctx, "reputation.ComputeReputation")
	defer span.End()
	span.SetAttributes(attribute.String("node.id", nodeID))

	atts, err := e.store.ListByIssuer(ctx, nodeID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reputation: attestation lookup for %s failed: %w", nodeID, err)
	}

	metrics := deriveMetrics(atts)
	now := e.clock().UTC()

	snap := Snapshot{
		NodeID:     nodeID,
		Score:      score(metrics),
		Metrics:    metrics,
		ComputedAt: now,
		ValidUntil: now.Add(e.validity),
	}
	span.SetAttributes(attribute.Float64("reputation.score", snap.Score))
	return snap, nil
}

// deriveMetrics folds a node's attestation stream into its metric ratios.
//
// Transactions are counted as distinct entity fingerprints. Closes are
// on time when the CLOSING_COMPLETED payload carries on_time=true.
// Failure rate is withdrawal events over all state transitions, dispute
// frequency is the fraction of attestations flagged disputed, and
// automation reliability is the non-withdrawn fraction of attestations
// flagged automated.
func deriveMetrics(atts []attestation.Attestation) Metrics {
	var m Metrics
	m.TotalAttestations = len(atts)

	transactions := make(map[string]struct{})
	var (
		closings, onTime          int
		transitions, withdrawals  int
		disputed                  int
		automated, automatedClean int
	)

	for _, att := range atts {
		transactions[att.EntityFingerprint] = struct{}{}

		if boolField(att.Payload, "disputed") {
			disputed++
		}
		isAutomated := boolField(att.Payload, "automated")
		if isAutomated {
			automated++
		}

		if att.AttestationType != attestation.TypeStateTransitioned {
			continue
		}
		evType, ok := att.Payload["event_type"].(string)
		if !ok {
			continue
		}
		fed := attestation.FederatedEventType(evType)

		transitions++
		_, isWithdrawal := attestation.WithdrawsEvent(fed)
		if isWithdrawal {
			withdrawals++
		}
		if isAutomated && !isWithdrawal {
			automatedClean++
		}
		if fed == attestation.EventClosingCompleted {
			closings++
			if boolField(att.Payload, "on_time") {
				onTime++
			}
		}
	}

	m.TotalTransactions = len(transactions)
	m.OnTimeCloseRatio = ratio(onTime, closings)
	m.FailureRate = ratio(withdrawals, transitions)
	m.DisputeFrequency = ratio(disputed, len(atts))
	m.AutomationReliability = ratio(automatedClean, automated)
	return m
}

// score folds the metrics into the 0-100 scale. Inverted metrics reward
// low failure and dispute rates.
func score(m Metrics) float64 {
	weighted := m.OnTimeCloseRatio*weightOnTimeClose +
		(1-m.FailureRate)*weightFailure +
		(1-m.DisputeFrequency)*weightDispute +
		m.AutomationReliability*weightAutomation

	s := weighted * 100
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// ratio returns numerator/denominator, or the neutral midpoint when there
// are no samples to judge by.
func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return neutralRatio
	}
	return float64(numerator) / float64(denominator)
}

func boolField(payload map[string]any, key string) bool {
	v, ok := payload[key].(bool)
	return ok && v
}
