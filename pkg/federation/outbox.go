package federation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/escrowgrid/core/pkg/attestation"
)

// Dispatcher delivers an envelope to a peer node. Implementations own
// transport; retries and delivery scheduling are the dispatcher's concern,
// not the protocol's.
type Dispatcher interface {
	Dispatch(ctx context.Context, env attestation.InboxEnvelope) error
}

// DispatchReport summarizes one outbox flush.
type DispatchReport struct {
	FlushedAt  time.Time         `json:"flushed_at"`
	Dispatched []string          `json:"dispatched"`
	Failed     map[string]string `json:"failed,omitempty"`
}

// Outbox queues signed envelopes for delivery. Enqueue never blocks on the
// network; Flush hands each queued envelope to the dispatcher exactly once.
// Failed envelopes stay queued for the next flush.
type Outbox struct {
	mu         sync.Mutex
	queue      []attestation.InboxEnvelope
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewOutbox creates an Outbox over the given dispatcher.
func NewOutbox(dispatcher Dispatcher, logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{dispatcher: dispatcher, logger: logger}
}

// Enqueue adds an envelope to the queue.
func (o *Outbox) Enqueue(env attestation.InboxEnvelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = append(o.queue, env)
}

// Pending returns the number of queued envelopes.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Flush dispatches every queued envelope. Per-envelope failures are
// reported and the envelope is requeued; one bad peer does not stall
// deliveries to the rest.
func (o *Outbox) Flush(ctx context.Context) DispatchReport {
	o.mu.Lock()
	batch := o.queue
	o.queue = nil
	o.mu.Unlock()

	report := DispatchReport{
		FlushedAt:  time.Now().UTC(),
		Dispatched: []string{},
	}

	for _, env := range batch {
		if err := o.dispatcher.Dispatch(ctx, env); err != nil {
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[env.EnvelopeID] = err.Error()
			o.logger.Warn("envelope dispatch failed",
				"envelope_id", env.EnvelopeID, "to_node", env.ToNodeID, "error", err)

			o.mu.Lock()
			o.queue = append(o.queue, env)
			o.mu.Unlock()
			continue
		}
		report.Dispatched = append(report.Dispatched, env.EnvelopeID)
	}

	return report
}
