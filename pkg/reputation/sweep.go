package reputation

import (
	"context"
	"log/slog"
	"time"
)

// NodeLister is the slice of the node registry the sweeper needs.
type NodeLister interface {
	ActiveNodeIDs(ctx context.Context) ([]string, error)
}

// SweepReport summarizes one recomputation pass.
type SweepReport struct {
	SweptAt  time.Time         `json:"swept_at"`
	Computed []string          `json:"computed"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// Sweeper recomputes snapshots for every active node on a schedule.
type Sweeper struct {
	engine    *Engine
	snapshots SnapshotStore
	nodes     NodeLister
	logger    *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(engine *Engine, snapshots SnapshotStore, nodes NodeLister, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{engine: engine, snapshots: snapshots, nodes: nodes, logger: logger}
}

// SweepActiveNodes recomputes and persists a snapshot per active node. A
// failure for one node is recorded in the report and does not stop the
// sweep; only a registry listing failure aborts.
func (s *Sweeper) SweepActiveNodes(ctx context.Context) (SweepReport, error) {
	report := SweepReport{
		SweptAt:  s.engine.clock().UTC(),
		Computed: []string{},
	}

	nodeIDs, err := s.nodes.ActiveNodeIDs(ctx)
	if err != nil {
		return report, err
	}

	for _, nodeID := range nodeIDs {
		snap, err := s.engine.ComputeReputation(ctx, nodeID)
		if err == nil {
			err = s.snapshots.Save(ctx, snap)
		}
		if err != nil {
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[nodeID] = err.Error()
			s.logger.Warn("reputation sweep failed for node", "node_id", nodeID, "error", err)
			continue
		}

		report.Computed = append(report.Computed, nodeID)
		s.logger.Info("reputation snapshot computed",
			"node_id", nodeID, "score", snap.Score, "valid_until", snap.ValidUntil)
	}

	return report, nil
}
