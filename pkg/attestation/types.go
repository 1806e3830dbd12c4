// Package attestation implements the cross-organization attestation
// protocol: minimal signed claims one federation node issues about an
// entity, batched into double-signed inbox envelopes for delivery.
package attestation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no attestation matches a lookup.
var ErrNotFound = errors.New("not found")

// Type is the closed set of attestation types. The protocol recognizes
// exactly these five; anything else is a protocol violation, not a warning.
type Type string

const (
	TypeStateTransitioned       Type = "StateTransitioned"
	TypeAuthorityVerified       Type = "AuthorityVerified"
	TypeComplianceVerified      Type = "ComplianceVerified"
	TypeAuditNarrativeGenerated Type = "AuditNarrativeGenerated"
	TypeReputationSnapshot      Type = "ReputationSnapshot"
)

// AllTypes lists every attestation type, in declaration order.
func AllTypes() []Type {
	return []Type{
		TypeStateTransitioned,
		TypeAuthorityVerified,
		TypeComplianceVerified,
		TypeAuditNarrativeGenerated,
		TypeReputationSnapshot,
	}
}

// Valid reports whether t is one of the five protocol types.
func (t Type) Valid() bool {
	switch t {
	case TypeStateTransitioned, TypeAuthorityVerified, TypeComplianceVerified,
		TypeAuditNarrativeGenerated, TypeReputationSnapshot:
		return true
	}
	return false
}

// Attestation is an immutable, PII-free signed claim about an entity.
// Uniquely keyed by AttestationID; never mutated after creation.
type Attestation struct {
	AttestationID     string         `json:"attestation_id"`
	IssuingNodeID     string         `json:"issuing_node_id"`
	AttestationType   Type           `json:"attestation_type"`
	EntityFingerprint string         `json:"entity_fingerprint"`
	Payload           map[string]any `json:"payload"`
	IssuedAt          time.Time      `json:"issued_at"`
	Signature         string         `json:"signature"`
}

// InboxEnvelope is a batch delivery unit. The envelope signature covers the
// whole batch; each attestation additionally carries its own signature.
type InboxEnvelope struct {
	EnvelopeID        string        `json:"envelope_id"`
	FromNodeID        string        `json:"from_node_id"`
	ToNodeID          string        `json:"to_node_id"`
	Attestations      []Attestation `json:"attestations"`
	EnvelopeSignature string        `json:"envelope_signature"`
	SentAt            time.Time     `json:"sent_at"`
}

// MaxEnvelopeAttestations is the wire-format batch cap.
const MaxEnvelopeAttestations = 100

// Query filters attestation lookups by fingerprint.
type Query struct {
	EntityFingerprint string
	AttestationType   Type      // optional; zero value matches all
	After             time.Time // optional; zero value matches all
}

// Store is the append-only attestation store. Attestations are facts
// awaiting synthesis; they are never updated or deleted.
type Store interface {
	// Append persists one attestation. All-or-nothing.
	Append(ctx context.Context, att Attestation) error

	// AppendBatch persists an envelope's attestations atomically. A failure
	// on any attestation leaves none of the batch stored.
	AppendBatch(ctx context.Context, atts []Attestation) error

	// List returns attestations matching q, ordered by issued_at then
	// attestation_id.
	List(ctx context.Context, q Query) ([]Attestation, error)

	// ListByIssuer returns every attestation issued by a node, ordered by
	// issued_at then attestation_id. Reputation derivation scans this.
	ListByIssuer(ctx context.Context, nodeID string) ([]Attestation, error)
}
