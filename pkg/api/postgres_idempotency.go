package api

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// PostgresIdempotencyStore provides durable idempotency enforcement backed
// by PostgreSQL, surviving process restarts where the memory store does not.
type PostgresIdempotencyStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresIdempotencyStore creates a new PostgreSQL-backed store.
func NewPostgresIdempotencyStore(db *sql.DB, ttl time.Duration) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{db: db, ttl: ttl}
}

const postgresIdempotencySchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
    key TEXT PRIMARY KEY,
    status_code INT NOT NULL,
    headers JSONB,
    body BYTEA,
    cached_at TIMESTAMPTZ NOT NULL
);
`

// Init creates the idempotency_keys table.
func (s *PostgresIdempotencyStore) Init() error {
	_, err := s.db.Exec(postgresIdempotencySchema)
	return err
}

// Check returns a cached response if the key was seen within the TTL.
func (s *PostgresIdempotencyStore) Check(key string) (*cachedResponse, bool) {
	var (
		statusCode  int
		headersJSON []byte
		body        []byte
		cachedAt    time.Time
	)
	err := s.db.QueryRow(
		`SELECT status_code, headers, body, cached_at FROM idempotency_keys WHERE key = $1`,
		key,
	).Scan(&statusCode, &headersJSON, &body, &cachedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(cachedAt) > s.ttl {
		_, _ = s.db.Exec(`DELETE FROM idempotency_keys WHERE key = $1`, key)
		return nil, false
	}

	headers := http.Header{}
	if len(headersJSON) > 0 {
		_ = json.Unmarshal(headersJSON, &headers)
	}
	return &cachedResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		CachedAt:   cachedAt,
	}, true
}

// Set stores a response. Conflicting writes keep the first response: the
// first outcome for a key is the one every retry must see.
func (s *PostgresIdempotencyStore) Set(key string, statusCode int, headers http.Header, body []byte) {
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		slog.Error("idempotency: headers encoding failed", "error", err)
		return
	}

	_, err = s.db.Exec(
		`INSERT INTO idempotency_keys (key, status_code, headers, body, cached_at)
         VALUES ($1, $2, $3, $4, $5) ON CONFLICT (key) DO NOTHING`,
		key, statusCode, headersJSON, body, time.Now().UTC(),
	)
	if err != nil {
		slog.Error("idempotency: cache write failed", "error", err)
	}
}

// Cleanup removes expired idempotency keys older than the TTL.
func (s *PostgresIdempotencyStore) Cleanup() {
	_, _ = s.db.Exec(
		`DELETE FROM idempotency_keys WHERE cached_at < $1`,
		time.Now().Add(-s.ttl),
	)
}
