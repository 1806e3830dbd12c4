package federation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/escrowgrid/core/pkg/attestation"
	"github.com/escrowgrid/core/pkg/signature"
)

// ErrNodeNotFound is returned for lookups of unregistered nodes.
var ErrNodeNotFound = errors.New("federation: node not found")

// Registry persists federation nodes. Nodes are created at registration and
// mutated only through status changes and grants; never deleted.
type Registry interface {
	Register(ctx context.Context, node FederationNode) error
	Get(ctx context.Context, nodeID string) (FederationNode, error)
	SetStatus(ctx context.Context, nodeID string, status NodeStatus) error
	GrantEventType(ctx context.Context, nodeID string, ev attestation.FederatedEventType) error
	ListActive(ctx context.Context) ([]FederationNode, error)
}

// validateNode checks a registration candidate. The public key must decode
// to a usable Ed25519 key: a node that can never verify is a registration
// error, not a runtime surprise.
func validateNode(node FederationNode) error {
	if node.NodeID == "" {
		return fmt.Errorf("federation: missing node_id")
	}
	if !node.NodeType.Valid() {
		return fmt.Errorf("federation: unknown node type %q", node.NodeType)
	}
	if !node.Status.Valid() {
		return fmt.Errorf("federation: unknown status %q", node.Status)
	}
	if _, err := signature.DecodePublicKey(node.PublicKey); err != nil {
		return fmt.Errorf("federation: unusable public key for %s: %w", node.NodeID, err)
	}
	for _, ev := range node.GrantedEventTypes {
		if _, ok := attestation.TypeForEvent(ev); !ok {
			return fmt.Errorf("federation: granted event type %q is not in the federated dictionary", ev)
		}
	}
	return nil
}

// MemoryRegistry is the in-memory Registry, used in tests and single-node
// deployments.
type MemoryRegistry struct {
	mu    sync.RWMutex
	nodes map[string]FederationNode
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{nodes: make(map[string]FederationNode)}
}

// Register adds a node. Registration is create-only: re-registering an
// existing node ID is rejected to keep key rotation an explicit operation.
func (r *MemoryRegistry) Register(_ context.Context, node FederationNode) error {
	if err := validateNode(node); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[node.NodeID]; exists {
		return fmt.Errorf("federation: node %s already registered", node.NodeID)
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}
	r.nodes[node.NodeID] = node
	return nil
}

// Get returns a node by ID.
func (r *MemoryRegistry) Get(_ context.Context, nodeID string) (FederationNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return FederationNode{}, ErrNodeNotFound
	}
	return node, nil
}

// SetStatus transitions a node's lifecycle state. Revocation is terminal.
func (r *MemoryRegistry) SetStatus(_ context.Context, nodeID string, status NodeStatus) error {
	if !status.Valid() {
		return fmt.Errorf("federation: unknown status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	if node.Status == StatusRevoked {
		return ErrRevokedNode
	}
	node.Status = status
	r.nodes[nodeID] = node
	return nil
}

// GrantEventType extends a node's individually granted set.
func (r *MemoryRegistry) GrantEventType(_ context.Context, nodeID string, ev attestation.FederatedEventType) error {
	if _, ok := attestation.TypeForEvent(ev); !ok {
		return fmt.Errorf("federation: event type %q is not in the federated dictionary", ev)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return ErrNodeNotFound
	}
	for _, granted := range node.GrantedEventTypes {
		if granted == ev {
			return nil
		}
	}
	node.GrantedEventTypes = append(node.GrantedEventTypes, ev)
	r.nodes[nodeID] = node
	return nil
}

// ListActive returns active nodes ordered by node ID.
func (r *MemoryRegistry) ListActive(_ context.Context) ([]FederationNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []FederationNode
	for _, node := range r.nodes {
		if node.Active() {
			out = append(out, node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// ActiveNodeIDs adapts the registry to the reputation sweeper.
func (r *MemoryRegistry) ActiveNodeIDs(ctx context.Context) ([]string, error) {
	nodes, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.NodeID
	}
	return ids, nil
}
