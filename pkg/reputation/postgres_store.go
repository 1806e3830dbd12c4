package reputation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresSnapshotStore is the durable snapshot store. Every computed
// snapshot is retained; supersession is a matter of ordering, not deletion.
type PostgresSnapshotStore struct {
	db *sql.DB
}

// NewPostgresSnapshotStore wraps db. Call Init before use.
func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

// Init creates the reputation_snapshots table.
func (s *PostgresSnapshotStore) Init(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS reputation_snapshots (
        id BIGSERIAL PRIMARY KEY,
        node_id TEXT NOT NULL,
        score DOUBLE PRECISION NOT NULL,
        metrics JSONB NOT NULL,
        computed_at TIMESTAMPTZ NOT NULL,
        valid_until TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_reputation_node ON reputation_snapshots(node_id, computed_at);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	metricsJSON, err := json.Marshal(snap.Metrics)
	if err != nil {
		return fmt.Errorf("reputation: metrics encoding failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reputation_snapshots (node_id, score, metrics, computed_at, valid_until)
         VALUES ($1, $2, $3, $4, $5)`,
		snap.NodeID, snap.Score, metricsJSON, snap.ComputedAt.UTC(), snap.ValidUntil.UTC(),
	)
	if err != nil {
		return fmt.Errorf("reputation: snapshot insert failed: %w", err)
	}
	return nil
}

func (s *PostgresSnapshotStore) Latest(ctx context.Context, nodeID string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT node_id, score, metrics, computed_at, valid_until FROM reputation_snapshots
         WHERE node_id = $1 ORDER BY computed_at DESC, id DESC LIMIT 1`, nodeID)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("reputation: snapshot lookup for %s failed: %w", nodeID, err)
	}
	return snap, nil
}

func (s *PostgresSnapshotStore) History(ctx context.Context, nodeID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, score, metrics, computed_at, valid_until FROM reputation_snapshots
         WHERE node_id = $1 ORDER BY computed_at, id`, nodeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var (
		snap        Snapshot
		metricsJSON []byte
	)
	if err := row.Scan(&snap.NodeID, &snap.Score, &metricsJSON, &snap.ComputedAt, &snap.ValidUntil); err != nil {
		return Snapshot{}, err
	}
	snap.ComputedAt = snap.ComputedAt.UTC()
	snap.ValidUntil = snap.ValidUntil.UTC()
	if err := json.Unmarshal(metricsJSON, &snap.Metrics); err != nil {
		return Snapshot{}, fmt.Errorf("reputation: metrics decoding failed: %w", err)
	}
	return snap, nil
}
