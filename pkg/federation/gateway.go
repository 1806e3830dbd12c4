package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/escrowgrid/core/pkg/attestation"
	"github.com/escrowgrid/core/pkg/audit"
	"github.com/escrowgrid/core/pkg/signature"
)

// Envelope freshness bounds. An envelope outside these is rejected before
// any signature work.
const (
	MaxEnvelopeAge = 24 * time.Hour
	MaxClockSkew   = 5 * time.Minute
)

// RejectCode classifies an intake rejection.
type RejectCode string

const (
	RejectStale            RejectCode = "stale_envelope"
	RejectFromFuture       RejectCode = "envelope_from_future"
	RejectUnknownNode      RejectCode = "unknown_node"
	RejectNodeNotActive    RejectCode = "node_not_active"
	RejectNodeTypeMismatch RejectCode = "node_type_mismatch"
	RejectEventNotAllowed  RejectCode = "event_type_not_allowed"
	RejectMalformed        RejectCode = "malformed_envelope"
	RejectGuardDenied      RejectCode = "guard_denied"
	RejectBadSignature     RejectCode = "invalid_signature"
)

// Rejection is the structured intake failure. For signature failures inside
// a batch it names exactly the attestation IDs that failed, for caller
// diagnosis; the whole batch is rejected either way.
type Rejection struct {
	Code                  RejectCode `json:"code"`
	Reason                string     `json:"reason"`
	InvalidAttestationIDs []string   `json:"invalid_attestation_ids,omitempty"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("federation: envelope rejected (%s): %s", r.Code, r.Reason)
}

// Receipt acknowledges a fully accepted envelope.
type Receipt struct {
	EnvelopeID string    `json:"envelope_id"`
	Accepted   int       `json:"accepted"`
	ReceivedAt time.Time `json:"received_at"`
}

// Gateway runs the intake pipeline: ordered hard gates with no partial
// acceptance. A failure at any gate rejects the envelope with no side
// effect beyond the audit record; intake never mutates transactions or
// triggers automation. Accepted attestations are facts awaiting synthesis.
type Gateway struct {
	registry Registry
	store    attestation.Store
	guard    *Guard
	auditor  audit.Logger
	logger   *slog.Logger
	clock    func() time.Time
}

// NewGateway creates a Gateway.
func NewGateway(registry Registry, store attestation.Store, guard *Guard, auditor audit.Logger, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry: registry,
		store:    store,
		guard:    guard,
		auditor:  auditor,
		logger:   logger,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (g *Gateway) WithClock(clock func() time.Time) *Gateway {
	g.clock = clock
	return g
}

// Submit runs an inbound envelope through the pipeline for the peer type
// the receiving endpoint expects. On success the batch is stored atomically
// and a receipt is returned; on failure the returned error is a *Rejection.
func (g *Gateway) Submit(ctx context.Context, peerType NodeType, env attestation.InboxEnvelope) (Receipt, error) {
	ctx, span := otel.Tracer("escrowgrid/federation").Start(ctx, "federation.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("envelope.id", env.EnvelopeID),
		attribute.String("envelope.from", env.FromNodeID),
		attribute.String("peer.type", string(peerType)),
	)

	now := g.clock().UTC()

	// Freshness gate: applies regardless of signature validity.
	if env.SentAt.Before(now.Add(-MaxEnvelopeAge)) {
		return g.reject(ctx, env, &Rejection{Code: RejectStale,
			Reason: fmt.Sprintf("envelope sent_at %s is older than %s", env.SentAt.Format(time.RFC3339), MaxEnvelopeAge)})
	}
	if env.SentAt.After(now.Add(MaxClockSkew)) {
		return g.reject(ctx, env, &Rejection{Code: RejectFromFuture,
			Reason: fmt.Sprintf("envelope sent_at %s is more than %s in the future", env.SentAt.Format(time.RFC3339), MaxClockSkew)})
	}

	// Gate 1: node lookup.
	node, err := g.registry.Get(ctx, env.FromNodeID)
	if err != nil {
		if errors.Is(err, ErrNodeNotFound) {
			return g.reject(ctx, env, &Rejection{Code: RejectUnknownNode,
				Reason: fmt.Sprintf("node %s is not registered", env.FromNodeID)})
		}
		return Receipt{}, fmt.Errorf("federation: node lookup failed: %w", err)
	}
	if !node.Active() {
		return g.reject(ctx, env, &Rejection{Code: RejectNodeNotActive,
			Reason: fmt.Sprintf("node %s is %s", node.NodeID, node.Status)})
	}

	// Gate 2: node type must match the endpoint's expected type.
	if node.NodeType != peerType {
		return g.reject(ctx, env, &Rejection{Code: RejectNodeTypeMismatch,
			Reason: fmt.Sprintf("node %s is registered as %s, endpoint expects %s", node.NodeID, node.NodeType, peerType)})
	}

	// Gate 3: event-type allow-list per attestation.
	for _, att := range env.Attestations {
		ev, ok := transitionEventType(att)
		if att.AttestationType == attestation.TypeStateTransitioned && !ok {
			return g.reject(ctx, env, &Rejection{Code: RejectMalformed,
				Reason:                fmt.Sprintf("attestation %s has no event_type", att.AttestationID),
				InvalidAttestationIDs: []string{att.AttestationID}})
		}
		if !ok {
			continue
		}
		if _, known := attestation.TypeForEvent(ev); !known {
			return g.reject(ctx, env, &Rejection{Code: RejectEventNotAllowed,
				Reason:                fmt.Sprintf("event type %q is not in the federated dictionary", ev),
				InvalidAttestationIDs: []string{att.AttestationID}})
		}
		if !EventAllowed(node, ev) {
			return g.reject(ctx, env, &Rejection{Code: RejectEventNotAllowed,
				Reason:                fmt.Sprintf("node %s may not submit %s", node.NodeID, ev),
				InvalidAttestationIDs: []string{att.AttestationID}})
		}
	}

	// Guard rules, if configured.
	if g.guard != nil {
		if err := g.guard.Check(peerType, env); err != nil {
			return g.reject(ctx, env, &Rejection{Code: RejectGuardDenied, Reason: err.Error()})
		}
	}

	// Gate 4: double-layer signature verification with the registered key.
	pub, err := signature.DecodePublicKey(node.PublicKey)
	if err != nil {
		return Receipt{}, fmt.Errorf("federation: registered key for %s is unusable: %w", node.NodeID, err)
	}
	report := attestation.VerifyEnvelope(env, pub)
	if !report.Valid {
		return g.reject(ctx, env, &Rejection{Code: RejectBadSignature,
			Reason:                report.Reason,
			InvalidAttestationIDs: report.InvalidAttestationIDs})
	}

	// Gate 5: atomic append. A storage failure propagates; the batch
	// either lands whole or not at all.
	if err := g.store.AppendBatch(ctx, env.Attestations); err != nil {
		return Receipt{}, fmt.Errorf("federation: envelope %s store append failed: %w", env.EnvelopeID, err)
	}

	g.audit(ctx, audit.EventAccess, env.FromNodeID, "envelope_accepted", map[string]any{
		"envelope_id": env.EnvelopeID,
		"count":       len(env.Attestations),
	})
	g.logger.Info("envelope accepted",
		"envelope_id", env.EnvelopeID, "from_node", env.FromNodeID, "count", len(env.Attestations))

	return Receipt{EnvelopeID: env.EnvelopeID, Accepted: len(env.Attestations), ReceivedAt: now}, nil
}

// transitionEventType pulls the federated event type from a state
// transition payload.
func transitionEventType(att attestation.Attestation) (attestation.FederatedEventType, bool) {
	raw, ok := att.Payload["event_type"].(string)
	if !ok || raw == "" {
		return "", false
	}
	return attestation.FederatedEventType(raw), true
}

func (g *Gateway) reject(ctx context.Context, env attestation.InboxEnvelope, rej *Rejection) (Receipt, error) {
	metadata := map[string]any{
		"envelope_id": env.EnvelopeID,
		"code":        string(rej.Code),
		"reason":      rej.Reason,
	}
	if len(rej.InvalidAttestationIDs) > 0 {
		metadata["invalid_attestation_ids"] = rej.InvalidAttestationIDs
	}
	g.audit(ctx, audit.EventProtocol, env.FromNodeID, "envelope_rejected", metadata)
	g.logger.Warn("envelope rejected",
		"envelope_id", env.EnvelopeID, "from_node", env.FromNodeID, "code", rej.Code, "reason", rej.Reason)
	return Receipt{}, rej
}

func (g *Gateway) audit(ctx context.Context, eventType audit.EventType, nodeID, action string, metadata map[string]any) {
	if g.auditor == nil {
		return
	}
	if err := g.auditor.Record(ctx, eventType, nodeID, action, "/v1/inbox", metadata); err != nil {
		g.logger.Error("audit record failed", "action", action, "error", err)
	}
}
