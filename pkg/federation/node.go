// Package federation is the trust boundary of the system: the node
// registry, the per-peer-type intake pipeline, and the outbox for outgoing
// attestations. Everything crossing this boundary is either fully accepted
// or fully rejected; there is no partial intake.
package federation

import (
	"errors"
	"time"

	"github.com/escrowgrid/core/pkg/attestation"
)

// NodeType is the peer category a federation node registers as. The intake
// pipeline is identical in shape for every type; only the event allow-list
// differs.
type NodeType string

const (
	NodeTypeLender    NodeType = "lender"
	NodeTypeTitle     NodeType = "title"
	NodeTypeInsurance NodeType = "insurance"
)

// Valid reports whether t is a known peer type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeLender, NodeTypeTitle, NodeTypeInsurance:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of a registered node. Nodes are never
// deleted: revocation is a status transition, preserving history.
type NodeStatus string

const (
	StatusActive    NodeStatus = "active"
	StatusSuspended NodeStatus = "suspended"
	StatusRevoked   NodeStatus = "revoked"
)

// Valid reports whether s is a known status.
func (s NodeStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusRevoked:
		return true
	}
	return false
}

// ErrRevokedNode guards the one irreversible transition: a revoked node
// never comes back under the same identity.
var ErrRevokedNode = errors.New("federation: node is revoked")

// FederationNode is a registered peer. PublicKey is the base64-encoded
// Ed25519 key the node signs with; private keys and fingerprint salts never
// appear here.
type FederationNode struct {
	NodeID             string     `json:"node_id"`
	BrokerageName      string     `json:"brokerage_name"`
	Jurisdiction       string     `json:"jurisdiction"`
	NodeType           NodeType   `json:"node_type"`
	PublicKey          string     `json:"public_key"`
	PolicyManifestHash string     `json:"policy_manifest_hash"`
	Status             NodeStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`

	// GrantedEventTypes extends the peer type's protocol allow-list for
	// this specific node. Every entry must be in the federated dictionary.
	GrantedEventTypes []attestation.FederatedEventType `json:"granted_event_types,omitempty"`
}

// Active reports whether the node may currently submit.
func (n FederationNode) Active() bool {
	return n.Status == StatusActive
}
