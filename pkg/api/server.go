package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/escrowgrid/core/pkg/attestation"
	"github.com/escrowgrid/core/pkg/audit"
	"github.com/escrowgrid/core/pkg/decision"
	"github.com/escrowgrid/core/pkg/federation"
	"github.com/escrowgrid/core/pkg/readiness"
	"github.com/escrowgrid/core/pkg/reputation"
)

// Server exposes the federation surface over HTTP. All state lives in the
// injected components; the server itself is stateless and safe to run
// behind multiple listeners.
type Server struct {
	gateway   *federation.Gateway
	registry  federation.Registry
	store     attestation.Store
	snapshots reputation.SnapshotStore
	machine   *readiness.Machine
	builder   *decision.Builder
	exporter  *audit.Exporter
	logger    *slog.Logger
}

// NewServer creates a Server.
func NewServer(gateway *federation.Gateway, registry federation.Registry, store attestation.Store,
	snapshots reputation.SnapshotStore, machine *readiness.Machine, builder *decision.Builder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		gateway:   gateway,
		registry:  registry,
		store:     store,
		snapshots: snapshots,
		machine:   machine,
		builder:   builder,
		logger:    logger,
	}
}

// WithAuditExporter enables the evidence-pack endpoint.
func (s *Server) WithAuditExporter(exporter *audit.Exporter) *Server {
	s.exporter = exporter
	return s
}

// Handler assembles the route table with the middleware chain: per-IP rate
// limiting, then auth, then per-node rate limiting, then idempotent replay.
func (s *Server) Handler(validator *JWTValidator, idem IdempotencyStorer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/inbox/{peer_type}", s.handleInbox)
	mux.HandleFunc("GET /v1/nodes", s.handleListNodes)
	mux.HandleFunc("GET /v1/nodes/{node_id}/reputation", s.handleNodeReputation)
	mux.HandleFunc("GET /v1/attestations", s.handleQueryAttestations)
	mux.HandleFunc("GET /v1/transactions/{transaction_id}/readiness", s.handleReadiness)
	mux.HandleFunc("GET /v1/audit/export", s.handleAuditExport)

	var handler http.Handler = mux
	if idem != nil {
		handler = IdempotencyMiddleware(idem)(handler)
	}
	handler = NewNodeRateLimiter(20, 40).Middleware(handler)
	handler = AuthMiddleware(validator)(handler)
	handler = NewGlobalRateLimiter(50, 100).Middleware(handler)
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInbox is the federated intake endpoint, one path per peer type.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	peerType := federation.NodeType(r.PathValue("peer_type"))
	if !peerType.Valid() {
		WriteNotFound(w, "Unknown peer type")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var env attestation.InboxEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		WriteBadRequest(w, "Invalid envelope body")
		return
	}

	// The authenticated node must be the envelope sender.
	if nodeID, ok := NodeIDFromContext(r.Context()); ok && nodeID != env.FromNodeID {
		WriteForbidden(w, "Envelope from_node_id does not match authenticated node")
		return
	}

	receipt, err := s.gateway.Submit(r.Context(), peerType, env)
	if err != nil {
		var rej *federation.Rejection
		if errors.As(err, &rej) {
			writeJSON(w, http.StatusUnprocessableEntity, rej)
			return
		}
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, receipt)
}

// nodeView is the registry read model: public registration data plus the
// current reputation score. Never keys or salts.
type nodeView struct {
	NodeID             string    `json:"node_id"`
	BrokerageName      string    `json:"brokerage_name"`
	Jurisdiction       string    `json:"jurisdiction"`
	NodeType           string    `json:"node_type"`
	PublicKey          string    `json:"public_key"`
	PolicyManifestHash string    `json:"policy_manifest_hash"`
	ReputationScore    float64   `json:"reputation_score"`
	CreatedAt          time.Time `json:"created_at"`
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.registry.ListActive(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}

	views := make([]nodeView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, nodeView{
			NodeID:             node.NodeID,
			BrokerageName:      node.BrokerageName,
			Jurisdiction:       node.Jurisdiction,
			NodeType:           string(node.NodeType),
			PublicKey:          node.PublicKey,
			PolicyManifestHash: node.PolicyManifestHash,
			ReputationScore:    s.scoreFor(r.Context(), node.NodeID),
			CreatedAt:          node.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": views})
}

// scoreFor returns the node's latest snapshot score, or the neutral 50 when
// the node has never been swept.
func (s *Server) scoreFor(ctx context.Context, nodeID string) float64 {
	if s.snapshots == nil {
		return 50
	}
	snap, err := s.snapshots.Latest(ctx, nodeID)
	if err != nil {
		return 50
	}
	return snap.Score
}

func (s *Server) handleNodeReputation(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("node_id")
	snap, err := s.snapshots.Latest(r.Context(), nodeID)
	if errors.Is(err, reputation.ErrNoSnapshot) {
		WriteNotFound(w, "No reputation snapshot for node")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// chainEntry names an issuing node and its verification key.
type chainEntry struct {
	NodeID        string `json:"node_id"`
	BrokerageName string `json:"brokerage_name"`
	PublicKey     string `json:"public_key"`
}

// handleQueryAttestations serves the verification query interface: the
// matching attestations plus the chain of issuing nodes and their keys, so
// a caller can independently re-verify every signature.
func (s *Server) handleQueryAttestations(w http.ResponseWriter, r *http.Request) {
	fingerprint := r.URL.Query().Get("entity_fingerprint")
	if fingerprint == "" {
		WriteBadRequest(w, "Missing required parameter: entity_fingerprint")
		return
	}

	query := attestation.Query{EntityFingerprint: fingerprint}
	if t := r.URL.Query().Get("attestation_type"); t != "" {
		query.AttestationType = attestation.Type(t)
		if !query.AttestationType.Valid() {
			WriteBadRequest(w, "Unknown attestation_type")
			return
		}
	}
	if after := r.URL.Query().Get("after"); after != "" {
		parsed, err := time.Parse(time.RFC3339, after)
		if err != nil {
			WriteBadRequest(w, "Invalid after timestamp (expected RFC 3339)")
			return
		}
		query.After = parsed
	}

	atts, err := s.store.List(r.Context(), query)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	chain := make([]chainEntry, 0)
	seen := make(map[string]struct{})
	for _, att := range atts {
		if _, ok := seen[att.IssuingNodeID]; ok {
			continue
		}
		seen[att.IssuingNodeID] = struct{}{}

		node, err := s.registry.Get(r.Context(), att.IssuingNodeID)
		if err != nil {
			continue
		}
		chain = append(chain, chainEntry{
			NodeID:        node.NodeID,
			BrokerageName: node.BrokerageName,
			PublicKey:     node.PublicKey,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"attestations":       atts,
		"verification_chain": chain,
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	transactionID := r.PathValue("transaction_id")
	fingerprint := r.URL.Query().Get("entity_fingerprint")
	if fingerprint == "" {
		WriteBadRequest(w, "Missing required parameter: entity_fingerprint")
		return
	}

	var targetClose time.Time
	if raw := r.URL.Query().Get("target_close"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteBadRequest(w, "Invalid target_close timestamp (expected RFC 3339)")
			return
		}
		targetClose = parsed
	}

	dc, err := s.builder.Build(r.Context(), transactionID)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	result, err := s.machine.Evaluate(r.Context(), dc, fingerprint, targetClose)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": transactionID,
		"context":        dc,
		"readiness":      result,
	})
}

// handleAuditExport hands the authenticated node an evidence pack of its own
// audit trail. The sha256 checksum travels in a header so the recipient can
// verify the download before opening it.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		WriteNotFound(w, "Audit export is not enabled on this node")
		return
	}
	nodeID, ok := NodeIDFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	req := audit.ExportRequest{NodeID: nodeID}
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteBadRequest(w, "Invalid start timestamp (expected RFC 3339)")
			return
		}
		req.StartTime = parsed
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteBadRequest(w, "Invalid end timestamp (expected RFC 3339)")
			return
		}
		req.EndTime = parsed
	}

	pack, checksum, err := s.exporter.GeneratePack(r.Context(), req)
	if errors.Is(err, audit.ErrInvalidTimeRange) {
		WriteBadRequest(w, "start must be before end")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("X-Checksum-Sha256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pack)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
