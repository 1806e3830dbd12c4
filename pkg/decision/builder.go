// Package decision derives the current view of a transaction by folding its
// event history. The fold is a pure function of the event list: replaying
// the same prefix always yields the same context, which is what makes as-of
// narrative generation and cross-node audit possible.
package decision

import (
	"context"
	"time"

	"github.com/escrowgrid/core/pkg/event"
)

// DecisionContext is the derived, never-persisted snapshot of a
// transaction. Recomputed on every query.
type DecisionContext struct {
	TransactionID    string `json:"transaction_id"`
	TransactionState string `json:"transaction_state"`
	ClosingReadiness string `json:"closing_readiness"`
	BlockingReason   string `json:"blocking_reason,omitempty"`
	ActorID          string `json:"actor_id"`
}

// Ledger event types the fold recognizes. Everything else is ignored, not
// rejected: federated and automation-originated event types evolve faster
// than this dictionary, and forward compatibility wins over strictness.
const (
	EvTransactionOpened       = "TransactionOpened"
	EvTransactionStateChanged = "TransactionStateChanged"
	EvClosingReadinessChanged = "ClosingReadinessChanged"
	EvBlockingReasonRaised    = "BlockingReasonRaised"
	EvBlockingReasonCleared   = "BlockingReasonCleared"
	EvActorAssigned           = "ActorAssigned"
)

// Fold reduces an ordered event sequence into a DecisionContext.
//
// Later events of a recognized type override fields set by earlier ones:
// last write wins per field, not per event. Events must already be in
// occurred_at order; Fold does not re-sort.
func Fold(events []event.Event) DecisionContext {
	var dc DecisionContext

	for _, ev := range events {
		if dc.TransactionID == "" {
			dc.TransactionID = ev.EntityID
		}

		switch ev.EventType {
		case EvTransactionOpened:
			dc.TransactionState = stringField(ev.Payload, "state", "opened")
			if ev.ActorID != "" {
				dc.ActorID = ev.ActorID
			}
		case EvTransactionStateChanged:
			if state := stringField(ev.Payload, "state", ""); state != "" {
				dc.TransactionState = state
			}
		case EvClosingReadinessChanged:
			if readiness := stringField(ev.Payload, "readiness", ""); readiness != "" {
				dc.ClosingReadiness = readiness
			}
		case EvBlockingReasonRaised:
			dc.BlockingReason = stringField(ev.Payload, "reason", "blocked")
		case EvBlockingReasonCleared:
			dc.BlockingReason = ""
		case EvActorAssigned:
			dc.ActorID = stringField(ev.Payload, "actor_id", ev.ActorID)
		}
	}

	return dc
}

func stringField(payload map[string]any, key, fallback string) string {
	if payload == nil {
		return fallback
	}
	if v, ok := payload[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Builder reads a ledger and folds. Constructor-injected rather than a
// process-wide instance so concurrent callers share nothing mutable.
type Builder struct {
	ledger event.Ledger
}

// NewBuilder creates a Builder over the given ledger.
func NewBuilder(ledger event.Ledger) *Builder {
	return &Builder{ledger: ledger}
}

// Build folds the full event sequence for a transaction.
func (b *Builder) Build(ctx context.Context, transactionID string) (DecisionContext, error) {
	events, err := b.ledger.ListByEntity(ctx, transactionID)
	if err != nil {
		return DecisionContext{}, err
	}
	return Fold(events), nil
}

// BuildAsOf folds only events with occurred_at <= asOf, reconstructing the
// context the system would have derived at that moment.
func (b *Builder) BuildAsOf(ctx context.Context, transactionID string, asOf time.Time) (DecisionContext, error) {
	events, err := b.ledger.ListByEntityUntil(ctx, transactionID, asOf)
	if err != nil {
		return DecisionContext{}, err
	}
	return Fold(events), nil
}
