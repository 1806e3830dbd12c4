package attestation

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/escrowgrid/core/pkg/canonical"
	"github.com/escrowgrid/core/pkg/signature"
)

// signedView is the canonical unsigned projection of an attestation. The
// signature field is excluded and the timestamp is normalized so two nodes
// always sign and verify byte-identical content.
func signedView(att Attestation) map[string]any {
	return map[string]any{
		"attestation_id":     att.AttestationID,
		"issuing_node_id":    att.IssuingNodeID,
		"attestation_type":   string(att.AttestationType),
		"entity_fingerprint": att.EntityFingerprint,
		"payload":            att.Payload,
		"issued_at":          canonical.NormalizeTime(att.IssuedAt),
	}
}

// envelopeSignedView is the canonical unsigned projection of an envelope.
// The batch content enters through the member attestations' own signed
// views, so the envelope signature covers every field of every attestation.
func envelopeSignedView(env InboxEnvelope) map[string]any {
	members := make([]any, 0, len(env.Attestations))
	for _, att := range env.Attestations {
		view := signedView(att)
		view["signature"] = att.Signature
		members = append(members, view)
	}
	return map[string]any{
		"envelope_id":  env.EnvelopeID,
		"from_node_id": env.FromNodeID,
		"to_node_id":   env.ToNodeID,
		"attestations": members,
		"sent_at":      canonical.NormalizeTime(env.SentAt),
	}
}

// Create builds and signs a new attestation. The payload is sanitized and
// schema-checked before signing; an attestation that would leak internal
// data is never created, let alone signed.
func Create(nodeID string, t Type, entityFingerprint string, payload map[string]any, priv ed25519.PrivateKey) (*Attestation, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("attestation: invalid attestation type %q", t)
	}
	if entityFingerprint == "" {
		return nil, fmt.Errorf("attestation: missing entity fingerprint")
	}
	if err := CheckPayload(payload); err != nil {
		return nil, err
	}
	if err := ValidatePayload(t, payload); err != nil {
		return nil, err
	}

	att := Attestation{
		AttestationID:     uuid.New().String(),
		IssuingNodeID:     nodeID,
		AttestationType:   t,
		EntityFingerprint: entityFingerprint,
		Payload:           payload,
		IssuedAt:          time.Now().UTC().Truncate(time.Second),
	}

	sig, err := signature.Sign(signedView(att), priv)
	if err != nil {
		return nil, fmt.Errorf("attestation: signing failed: %w", err)
	}
	att.Signature = sig
	return &att, nil
}

// Verify re-canonicalizes all fields except the signature and checks the
// signature against the issuing node's public key. Any malformation yields
// false; verification failure is data, not an exception.
func Verify(att Attestation, pub ed25519.PublicKey) bool {
	if !att.AttestationType.Valid() || att.Signature == "" {
		return false
	}
	return signature.Verify(signedView(att), att.Signature, pub)
}

// CreateEnvelope batches attestations for delivery and signs the batch.
// Every attestation must already be signed by the sending node.
func CreateEnvelope(fromNodeID, toNodeID string, atts []Attestation, priv ed25519.PrivateKey) (*InboxEnvelope, error) {
	if len(atts) == 0 {
		return nil, fmt.Errorf("attestation: empty envelope")
	}
	if len(atts) > MaxEnvelopeAttestations {
		return nil, fmt.Errorf("attestation: envelope exceeds %d attestations", MaxEnvelopeAttestations)
	}
	for _, att := range atts {
		if att.IssuingNodeID != fromNodeID {
			return nil, fmt.Errorf("attestation: attestation %s issued by %s, envelope from %s",
				att.AttestationID, att.IssuingNodeID, fromNodeID)
		}
	}

	env := InboxEnvelope{
		EnvelopeID:   uuid.New().String(),
		FromNodeID:   fromNodeID,
		ToNodeID:     toNodeID,
		Attestations: atts,
		SentAt:       time.Now().UTC().Truncate(time.Second),
	}

	sig, err := signature.Sign(envelopeSignedView(env), priv)
	if err != nil {
		return nil, fmt.Errorf("attestation: envelope signing failed: %w", err)
	}
	env.EnvelopeSignature = sig
	return &env, nil
}

// EnvelopeReport is the outcome of envelope verification. A batch with any
// invalid member is rejected as a whole; the report names exactly which
// attestation IDs failed so the sender can diagnose.
type EnvelopeReport struct {
	Valid                 bool     `json:"valid"`
	Reason                string   `json:"reason,omitempty"`
	InvalidAttestationIDs []string `json:"invalid_attestation_ids,omitempty"`
}

// VerifyEnvelope checks envelope shape, issuer consistency, the envelope
// signature, and every member attestation's own signature. The same public
// key verifies both layers: sender and issuer must be the same node.
func VerifyEnvelope(env InboxEnvelope, pub ed25519.PublicKey) EnvelopeReport {
	if len(env.Attestations) == 0 {
		return EnvelopeReport{Reason: "empty envelope"}
	}
	if len(env.Attestations) > MaxEnvelopeAttestations {
		return EnvelopeReport{Reason: fmt.Sprintf("envelope exceeds %d attestations", MaxEnvelopeAttestations)}
	}

	for _, att := range env.Attestations {
		if !att.AttestationType.Valid() {
			return EnvelopeReport{
				Reason:                fmt.Sprintf("unknown attestation type %q", att.AttestationType),
				InvalidAttestationIDs: []string{att.AttestationID},
			}
		}
		if att.IssuingNodeID != env.FromNodeID {
			return EnvelopeReport{
				Reason:                "attestation issuer does not match envelope sender",
				InvalidAttestationIDs: []string{att.AttestationID},
			}
		}
	}

	if !signature.Verify(envelopeSignedView(env), env.EnvelopeSignature, pub) {
		return EnvelopeReport{Reason: "invalid envelope signature"}
	}

	var invalid []string
	for _, att := range env.Attestations {
		if !Verify(att, pub) {
			invalid = append(invalid, att.AttestationID)
		}
	}
	if len(invalid) > 0 {
		return EnvelopeReport{
			Reason:                "invalid attestation signatures",
			InvalidAttestationIDs: invalid,
		}
	}

	return EnvelopeReport{Valid: true}
}
