package attestation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore is the production attestation store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db. Call Init before use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the attestations table and its query indexes.
func (s *PostgresStore) Init(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS attestations (
        attestation_id TEXT PRIMARY KEY,
        issuing_node_id TEXT NOT NULL,
        attestation_type TEXT NOT NULL,
        entity_fingerprint TEXT NOT NULL,
        payload JSONB,
        issued_at TIMESTAMPTZ NOT NULL,
        signature TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_attestations_fingerprint ON attestations(entity_fingerprint, issued_at);
    CREATE INDEX IF NOT EXISTS idx_attestations_issuer ON attestations(issuing_node_id, issued_at);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

const pgInsertAttestation = `INSERT INTO attestations
    (attestation_id, issuing_node_id, attestation_type, entity_fingerprint, payload, issued_at, signature)
    VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (s *PostgresStore) Append(ctx context.Context, att Attestation) error {
	payloadJSON, err := json.Marshal(att.Payload)
	if err != nil {
		return fmt.Errorf("attestation: payload encoding failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx, pgInsertAttestation,
		att.AttestationID, att.IssuingNodeID, string(att.AttestationType), att.EntityFingerprint,
		payloadJSON, att.IssuedAt.UTC(), att.Signature,
	)
	if err != nil {
		return fmt.Errorf("attestation: insert failed: %w", err)
	}
	return nil
}

// AppendBatch stores an envelope's attestations inside one transaction so a
// failure on any member leaves none stored.
func (s *PostgresStore) AppendBatch(ctx context.Context, atts []Attestation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("attestation: begin batch failed: %w", err)
	}
	for _, att := range atts {
		payloadJSON, err := json.Marshal(att.Payload)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("attestation: payload encoding failed: %w", err)
		}
		if _, err := tx.ExecContext(ctx, pgInsertAttestation,
			att.AttestationID, att.IssuingNodeID, string(att.AttestationType), att.EntityFingerprint,
			payloadJSON, att.IssuedAt.UTC(), att.Signature,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("attestation: batch insert failed: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("attestation: batch commit failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, q Query) ([]Attestation, error) {
	query := `SELECT attestation_id, issuing_node_id, attestation_type, entity_fingerprint, payload, issued_at, signature
        FROM attestations WHERE entity_fingerprint = $1`
	args := []any{q.EntityFingerprint}

	if q.AttestationType != "" {
		query += fmt.Sprintf(` AND attestation_type = $%d`, len(args)+1)
		args = append(args, string(q.AttestationType))
	}
	if !q.After.IsZero() {
		query += fmt.Sprintf(` AND issued_at > $%d`, len(args)+1)
		args = append(args, q.After.UTC())
	}
	query += ` ORDER BY issued_at, attestation_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanPgAttestations(rows)
}

func (s *PostgresStore) ListByIssuer(ctx context.Context, nodeID string) ([]Attestation, error) {
	query := `SELECT attestation_id, issuing_node_id, attestation_type, entity_fingerprint, payload, issued_at, signature
        FROM attestations WHERE issuing_node_id = $1 ORDER BY issued_at, attestation_id`
	rows, err := s.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, err
	}
	return scanPgAttestations(rows)
}

func scanPgAttestations(rows *sql.Rows) ([]Attestation, error) {
	defer func() { _ = rows.Close() }()

	var atts []Attestation
	for rows.Next() {
		var (
			att         Attestation
			attType     string
			payloadJSON []byte
		)
		if err := rows.Scan(&att.AttestationID, &att.IssuingNodeID, &attType, &att.EntityFingerprint,
			&payloadJSON, &att.IssuedAt, &att.Signature); err != nil {
			return nil, err
		}
		att.AttestationType = Type(attType)
		att.IssuedAt = att.IssuedAt.UTC()
		if len(payloadJSON) > 0 {
			_ = json.Unmarshal(payloadJSON, &att.Payload)
		}
		atts = append(atts, att)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return atts, nil
}
