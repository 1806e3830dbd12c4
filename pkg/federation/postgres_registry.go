package federation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/escrowgrid/core/pkg/attestation"

	_ "github.com/lib/pq"
)

// PostgresRegistry is the shared-deployment Registry backend.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry wraps db. Call Init once to run migrations.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

const postgresRegistrySchema = `
CREATE TABLE IF NOT EXISTS federation_nodes (
    node_id TEXT PRIMARY KEY,
    brokerage_name TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    node_type TEXT NOT NULL,
    public_key TEXT NOT NULL,
    policy_manifest_hash TEXT NOT NULL,
    status TEXT NOT NULL,
    granted_event_types JSONB,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_federation_nodes_status ON federation_nodes(status, node_id);
`

// Init creates the federation_nodes table.
func (r *PostgresRegistry) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, postgresRegistrySchema)
	return err
}

func (r *PostgresRegistry) Register(ctx context.Context, node FederationNode) error {
	if err := validateNode(node); err != nil {
		return err
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}

	grantsJSON, err := json.Marshal(node.GrantedEventTypes)
	if err != nil {
		return fmt.Errorf("federation: grants encoding failed: %w", err)
	}

	query := `INSERT INTO federation_nodes
        (node_id, brokerage_name, jurisdiction, node_type, public_key, policy_manifest_hash, status, granted_event_types, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.db.ExecContext(ctx, query,
		node.NodeID, node.BrokerageName, node.Jurisdiction, string(node.NodeType),
		node.PublicKey, node.PolicyManifestHash, string(node.Status), string(grantsJSON), node.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("federation: register %s failed: %w", node.NodeID, err)
	}
	return nil
}

func (r *PostgresRegistry) Get(ctx context.Context, nodeID string) (FederationNode, error) {
	query := `SELECT node_id, brokerage_name, jurisdiction, node_type, public_key, policy_manifest_hash, status, granted_event_types, created_at
        FROM federation_nodes WHERE node_id = $1`
	node, err := scanNode(r.db.QueryRowContext(ctx, query, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return FederationNode{}, ErrNodeNotFound
	}
	return node, err
}

func (r *PostgresRegistry) SetStatus(ctx context.Context, nodeID string, status NodeStatus) error {
	if !status.Valid() {
		return fmt.Errorf("federation: unknown status %q", status)
	}

	// Revocation is terminal; the guard lives in the statement so two
	// concurrent status changes cannot resurrect a revoked node.
	query := `UPDATE federation_nodes SET status = $1 WHERE node_id = $2 AND status <> $3`
	res, err := r.db.ExecContext(ctx, query, string(status), nodeID, string(StatusRevoked))
	if err != nil {
		return fmt.Errorf("federation: status change for %s failed: %w", nodeID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, nodeID); err != nil {
			return err
		}
		return ErrRevokedNode
	}
	return nil
}

func (r *PostgresRegistry) GrantEventType(ctx context.Context, nodeID string, ev attestation.FederatedEventType) error {
	if _, ok := attestation.TypeForEvent(ev); !ok {
		return fmt.Errorf("federation: event type %q is not in the federated dictionary", ev)
	}

	node, err := r.Get(ctx, nodeID)
	if err != nil {
		return err
	}
	for _, granted := range node.GrantedEventTypes {
		if granted == ev {
			return nil
		}
	}

	grantsJSON, err := json.Marshal(append(node.GrantedEventTypes, ev))
	if err != nil {
		return fmt.Errorf("federation: grants encoding failed: %w", err)
	}
	query := `UPDATE federation_nodes SET granted_event_types = $1 WHERE node_id = $2`
	if _, err := r.db.ExecContext(ctx, query, string(grantsJSON), nodeID); err != nil {
		return fmt.Errorf("federation: grant for %s failed: %w", nodeID, err)
	}
	return nil
}

func (r *PostgresRegistry) ListActive(ctx context.Context) ([]FederationNode, error) {
	query := `SELECT node_id, brokerage_name, jurisdiction, node_type, public_key, policy_manifest_hash, status, granted_event_types, created_at
        FROM federation_nodes WHERE status = $1 ORDER BY node_id`
	rows, err := r.db.QueryContext(ctx, query, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var nodes []FederationNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nodes, nil
}

// ActiveNodeIDs adapts the registry to the reputation sweeper.
func (r *PostgresRegistry) ActiveNodeIDs(ctx context.Context) ([]string, error) {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (FederationNode, error) {
	var (
		node       FederationNode
		nodeType   string
		status     string
		grantsJSON sql.NullString
	)
	err := row.Scan(&node.NodeID, &node.BrokerageName, &node.Jurisdiction, &nodeType,
		&node.PublicKey, &node.PolicyManifestHash, &status, &grantsJSON, &node.CreatedAt)
	if err != nil {
		return FederationNode{}, err
	}
	node.NodeType = NodeType(nodeType)
	node.Status = NodeStatus(status)
	if grantsJSON.Valid && grantsJSON.String != "" {
		_ = json.Unmarshal([]byte(grantsJSON.String), &node.GrantedEventTypes)
	}
	return node, nil
}
