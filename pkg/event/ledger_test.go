package event

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerBackends(t *testing.T) map[string]Ledger {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sqliteLedger, err := NewSQLiteLedger(db)
	require.NoError(t, err)

	return map[string]Ledger{
		"memory": NewMemoryLedger(),
		"sqlite": sqliteLedger,
	}
}

func TestLedger_OrderedByOccurredAt(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, ledger := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Appended out of order on purpose.
			require.NoError(t, ledger.Append(ctx, Event{
				ID: "e2", EntityType: "transaction", EntityID: "txn-1",
				EventType: "OfferAccepted", OccurredAt: base.Add(2 * time.Hour),
			}))
			require.NoError(t, ledger.Append(ctx, Event{
				ID: "e1", EntityType: "transaction", EntityID: "txn-1",
				EventType: "OfferSubmitted", OccurredAt: base,
			}))
			require.NoError(t, ledger.Append(ctx, Event{
				ID: "e3", EntityType: "transaction", EntityID: "txn-1",
				EventType: "EscrowOpened", OccurredAt: base.Add(4 * time.Hour),
			}))

			events, err := ledger.ListByEntity(ctx, "txn-1")
			require.NoError(t, err)
			require.Len(t, events, 3)
			assert.Equal(t, "e1", events[0].ID)
			assert.Equal(t, "e2", events[1].ID)
			assert.Equal(t, "e3", events[2].ID)
		})
	}
}

func TestLedger_TiesBrokenByInsertionOrder(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, ledger := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, ledger.Append(ctx, Event{ID: "first", EntityID: "txn-1", EntityType: "transaction", EventType: "A", OccurredAt: at}))
			require.NoError(t, ledger.Append(ctx, Event{ID: "second", EntityID: "txn-1", EntityType: "transaction", EventType: "B", OccurredAt: at}))

			events, err := ledger.ListByEntity(ctx, "txn-1")
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, "first", events[0].ID)
			assert.Equal(t, "second", events[1].ID)
		})
	}
}

func TestLedger_SubSecondOrdering(t *testing.T) {
	// Fractional parts of different text lengths must still sort
	// chronologically (120ms vs 123ms).
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, ledger := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, ledger.Append(ctx, Event{
				ID: "b-later", EntityID: "txn-1", EntityType: "transaction",
				EventType: "OfferAccepted", OccurredAt: base.Add(123 * time.Millisecond),
			}))
			require.NoError(t, ledger.Append(ctx, Event{
				ID: "a-earlier", EntityID: "txn-1", EntityType: "transaction",
				EventType: "OfferSubmitted", OccurredAt: base.Add(120 * time.Millisecond),
			}))

			events, err := ledger.ListByEntity(ctx, "txn-1")
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, "a-earlier", events[0].ID)
			assert.Equal(t, "b-later", events[1].ID)

			until, err := ledger.ListByEntityUntil(ctx, "txn-1", base.Add(120*time.Millisecond))
			require.NoError(t, err)
			require.Len(t, until, 1)
			assert.Equal(t, "a-earlier", until[0].ID)
		})
	}
}

func TestLedger_UntilTruncatesPrefix(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, ledger := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i, id := range []string{"e1", "e2", "e3"} {
				require.NoError(t, ledger.Append(ctx, Event{
					ID: id, EntityID: "txn-1", EntityType: "transaction",
					EventType: "Tick", OccurredAt: base.Add(time.Duration(i) * time.Hour),
				}))
			}

			events, err := ledger.ListByEntityUntil(ctx, "txn-1", base.Add(time.Hour))
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, "e1", events[0].ID)
			assert.Equal(t, "e2", events[1].ID)
		})
	}
}

func TestLedger_DuplicateIDRejected(t *testing.T) {
	for name, ledger := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ev := Event{ID: "dup", EntityID: "txn-1", EntityType: "transaction", EventType: "A", OccurredAt: time.Now().UTC()}
			require.NoError(t, ledger.Append(ctx, ev))
			assert.Error(t, ledger.Append(ctx, ev))

			// Failed append left no partial state.
			events, err := ledger.ListByEntity(ctx, "txn-1")
			require.NoError(t, err)
			assert.Len(t, events, 1)
		})
	}
}

func TestLedger_PayloadRoundTrip(t *testing.T) {
	for name, ledger := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, ledger.Append(ctx, Event{
				ID: "e1", EntityID: "txn-1", EntityType: "transaction",
				EventType: "FinancingCleared",
				Payload:   map[string]any{"stage": "underwriting", "conditions": []any{"appraisal"}},
				ActorID:   "lender-7",
				OccurredAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
			}))

			events, err := ledger.ListByEntity(ctx, "txn-1")
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, "underwriting", events[0].Payload["stage"])
			assert.Equal(t, "lender-7", events[0].ActorID)
		})
	}
}

func TestLedger_MissingEntityID(t *testing.T) {
	for name, ledger := range ledgerBackends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ledger.Append(context.Background(), Event{EventType: "A"}))
		})
	}
}
