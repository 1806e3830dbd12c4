package attestation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// storedTimeLayout is RFC 3339 with a fixed-width fractional part so that
// text comparison in SQL matches chronological order even for wire-supplied
// timestamps carrying sub-second precision.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the embedded attestation store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS attestations (
        attestation_id TEXT PRIMARY KEY,
        issuing_node_id TEXT NOT NULL,
        attestation_type TEXT NOT NULL,
        entity_fingerprint TEXT NOT NULL,
        payload JSON,
        issued_at TEXT NOT NULL,
        signature TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_attestations_fingerprint ON attestations(entity_fingerprint, issued_at);
    CREATE INDEX IF NOT EXISTS idx_attestations_issuer ON attestations(issuing_node_id, issued_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const insertAttestation = `INSERT INTO attestations
    (attestation_id, issuing_node_id, attestation_type, entity_fingerprint, payload, issued_at, signature)
    VALUES (?, ?, ?, ?, ?, ?, ?)`

func (s *SQLiteStore) Append(ctx context.Context, att Attestation) error {
	payloadJSON, err := json.Marshal(att.Payload)
	if err != nil {
		return fmt.Errorf("attestation: payload encoding failed: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertAttestation,
		att.AttestationID, att.IssuingNodeID, string(att.AttestationType), att.EntityFingerprint,
		string(payloadJSON), att.IssuedAt.UTC().Format(storedTimeLayout), att.Signature,
	)
	if err != nil {
		return fmt.Errorf("attestation: insert failed: %w", err)
	}
	return nil
}

// AppendBatch stores an envelope's attestations inside one transaction so a
// failure on any member leaves none stored.
func (s *SQLiteStore) AppendBatch(ctx context.Context, atts []Attestation) error {
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
		if _, err := tx.ExecContext(ctx, insertAttestation,
			att.AttestationID, att.IssuingNodeID, string(att.AttestationType), att.EntityFingerprint,
			string(payloadJSON), att.IssuedAt.UTC().Format(storedTimeLayout), att.Signature,
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

func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Attestation, error) {
	query := `SELECT attestation_id, issuing_node_id, attestation_type, entity_fingerprint, payload, issued_at, signature
        FROM attestations WHERE entity_fingerprint = ?`
	args := []any{q.EntityFingerprint}

	if q.AttestationType != "" {
		query += ` AND attestation_type = ?`
		args = append(args, string(q.AttestationType))
	}
	if !q.After.IsZero() {
		query += ` AND issued_at > ?`
		args = append(args, q.After.UTC().Format(storedTimeLayout))
	}
	query += ` ORDER BY issued_at, attestation_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAttestations(rows)
}

func (s *SQLiteStore) ListByIssuer(ctx context.Context, nodeID string) ([]Attestation, error) {
	query := `SELECT attestation_id, issuing_node_id, attestation_type, entity_fingerprint, payload, issued_at, signature
        FROM attestations WHERE issuing_node_id = ? ORDER BY issued_at, attestation_id`
	rows, err := s.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, err
	}
	return scanAttestations(rows)
}

func scanAttestations(rows *sql.Rows) ([]Attestation, error) {
	defer func() { _ = rows.Close() }()

	var atts []Attestation
	for rows.Next() {
		var (
			att         Attestation
			attType     string
			payloadJSON sql.NullString
			issuedAt    string
		)
		if err := rows.Scan(&att.AttestationID, &att.IssuingNodeID, &attType, &att.EntityFingerprint,
			&payloadJSON, &issuedAt, &att.Signature); err != nil {
			return nil, err
		}
		att.AttestationType = Type(attType)
		att.IssuedAt = parseStoredTime(issuedAt)
		if payloadJSON.Valid && payloadJSON.String != "" {
			_ = json.Unmarshal([]byte(payloadJSON.String), &att.Payload)
		}
		atts = append(atts, att)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return atts, nil
}

func parseStoredTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
