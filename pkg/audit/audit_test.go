package audit_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowgrid/core/pkg/audit"
)

func TestLogger_Record_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	err := logger.Record(context.Background(), audit.EventAccess, "node-lender-1", "envelope_accepted", "/v1/inbox", nil)
	require.NoError(t, err)

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "AUDIT: "))

	// Parse the JSON part
	jsonPart := strings.TrimPrefix(output, "AUDIT: ")
	jsonPart = strings.TrimSpace(jsonPart)

	var event audit.Event
	err = json.Unmarshal([]byte(jsonPart), &event)
	require.NoError(t, err)

	assert.Equal(t, audit.EventAccess, event.Type)
	assert.Equal(t, "envelope_accepted", event.Action)
	assert.Equal(t, "/v1/inbox", event.Resource)
	assert.Equal(t, "node-lender-1", event.NodeID)
	assert.NotEmpty(t, event.ID)
	// UUID format: 8-4-4-4-12
	assert.Len(t, event.ID, 36)
}

func TestLogger_Record_EmptyNodeDefaultsToSystem(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	meta := map[string]any{"reason": "signature mismatch", "envelope_id": "env-1"}
	err := logger.Record(context.Background(), audit.EventProtocol, "", "envelope_rejected", "/v1/inbox", meta)
	require.NoError(t, err)

	jsonPart := strings.TrimPrefix(buf.String(), "AUDIT: ")
	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(jsonPart)), &event))

	assert.Equal(t, "system", event.NodeID)
	assert.Equal(t, "signature mismatch", event.Metadata["reason"])
}

func TestMemoryLogger_QueryFilters(t *testing.T) {
	logger := audit.NewMemoryLogger()
	ctx := context.Background()

	require.NoError(t, logger.Record(ctx, audit.EventAccess, "node-1", "envelope_accepted", "/v1/inbox", nil))
	require.NoError(t, logger.Record(ctx, audit.EventProtocol, "node-1", "envelope_rejected", "/v1/inbox", nil))
	require.NoError(t, logger.Record(ctx, audit.EventAccess, "node-2", "envelope_accepted", "/v1/inbox", nil))

	assert.Len(t, logger.Query(audit.Filter{}), 3)
	assert.Len(t, logger.Query(audit.Filter{NodeID: "node-1"}), 2)
	assert.Len(t, logger.Query(audit.Filter{NodeID: "node-1", Type: audit.EventProtocol}), 1)
	assert.Empty(t, logger.Query(audit.Filter{NodeID: "node-3"}))
	assert.Empty(t, logger.Query(audit.Filter{EndTime: time.Now().Add(-time.Hour)}))
}

func TestExporter_GeneratePack_Success(t *testing.T) {
	source := audit.NewMemoryLogger()
	require.NoError(t, source.Record(context.Background(), audit.EventAccess, "node-1", "envelope_accepted", "/v1/inbox", nil))

	exporter := audit.NewExporter(source)
	req := audit.ExportRequest{
		NodeID:    "node-1",
		StartTime: time.Now().Add(-24 * time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}

	zipBytes, checksum, err := exporter.GeneratePack(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, zipBytes)
	assert.Len(t, checksum, 64) // sha256 hex
}

func TestExporter_GeneratePack_ManifestCarriesMerkleRoot(t *testing.T) {
	source := audit.NewMemoryLogger()
	ctx := context.Background()
	require.NoError(t, source.Record(ctx, audit.EventAccess, "node-1", "envelope_accepted", "/v1/inbox", nil))
	require.NoError(t, source.Record(ctx, audit.EventProtocol, "node-1", "envelope_rejected", "/v1/inbox", nil))

	exporter := audit.NewExporter(source)
	zipBytes, _, err := exporter.GeneratePack(ctx, audit.ExportRequest{NodeID: "node-1"})
	require.NoError(t, err)

	reader, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	require.NoError(t, err)

	var manifest struct {
		EventCount int    `json:"event_count"`
		MerkleRoot string `json:"merkle_root"`
	}
	for _, file := range reader.File {
		if file.Name != "manifest.json" {
			continue
		}
		rc, err := file.Open()
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(rc).Decode(&manifest))
		require.NoError(t, rc.Close())
	}

	assert.Equal(t, 2, manifest.EventCount)
	assert.Len(t, manifest.MerkleRoot, 64)
}

func TestExporter_GeneratePack_EmptyNodeID(t *testing.T) {
	exporter := audit.NewExporter(audit.NewMemoryLogger())
	req := audit.ExportRequest{NodeID: ""}

	_, _, err := exporter.GeneratePack(context.Background(), req)
	assert.ErrorIs(t, err, audit.ErrEmptyNodeID)
}

func TestExporter_GeneratePack_InvalidTimeRange(t *testing.T) {
	exporter := audit.NewExporter(audit.NewMemoryLogger())
	req := audit.ExportRequest{
		NodeID:    "node-1",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(-1 * time.Hour),
	}

	_, _, err := exporter.GeneratePack(context.Background(), req)
	assert.ErrorIs(t, err, audit.ErrInvalidTimeRange)
}

func TestExporter_GeneratePack_FailClosedWithoutSource(t *testing.T) {
	exporter := audit.NewExporter(nil)
	req := audit.ExportRequest{NodeID: "node-1"}

	_, _, err := exporter.GeneratePack(context.Background(), req)
	assert.ErrorIs(t, err, audit.ErrSourceNotConfigured)
}
