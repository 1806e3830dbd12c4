package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/escrowgrid/core/pkg/merkle"
)

var (
	// ErrEmptyNodeID is returned when node ID is empty.
	ErrEmptyNodeID = errors.New("audit: node_id must not be empty")
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrSourceNotConfigured is returned when export is invoked without a backing source.
	ErrSourceNotConfigured = errors.New("audit: event source not configured (fail-closed)")
)

// EventSource serves queryable audit events for export.
type EventSource interface {
	Query(filter Filter) []Event
}

// ExportRequest defines what to export.
type ExportRequest struct {
	NodeID    string    `json:"node_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Exporter builds evidence packs: a zip of a node's audit events plus a
// manifest with a checksum, suitable for handing to a regulator or a
// counterparty during a dispute.
type Exporter struct {
	source EventSource
}

func NewExporter(source EventSource) *Exporter {
	return &Exporter{source: source}
}

// GeneratePack creates a zip file containing the audit events and a manifest.
func (e *Exporter) GeneratePack(_ context.Context, req ExportRequest) ([]byte, string, error) {
	if req.NodeID == "" {
		return nil, "", ErrEmptyNodeID
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.source == nil {
		return nil, "", ErrSourceNotConfigured
	}

	events := e.source.Query(Filter{
		NodeID:    req.NodeID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})

	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, "", err
	}

	// The merkle root over the exported events makes the pack tamper
	// evident at record granularity: an examiner can demand an inclusion
	// proof for any single event against the root in the manifest.
	records := make(map[string]any, len(events))
	for _, ev := range events {
		records[ev.ID] = ev
	}
	tree, err := merkle.Build(records)
	if err != nil {
		return nil, "", fmt.Errorf("audit: evidence tree build failed: %w", err)
	}

	manifest := map[string]any{
		"node_id":      req.NodeID,
		"generated_at": time.Now().UTC(),
		"event_count":  len(events),
		"merkle_root":  tree.Root,
		"period": map[string]any{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("events.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(eventsJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Evidence Pack for Node %s\nGenerated at %s\n", req.NodeID, time.Now().UTC())

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	checksum := hex.EncodeToString(hash[:])

	return zipBytes, checksum, nil
}
