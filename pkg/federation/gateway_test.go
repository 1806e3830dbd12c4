package federation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowgrid/core/pkg/attestation"
	"github.com/escrowgrid/core/pkg/audit"
	"github.com/escrowgrid/core/pkg/signature"
)

type gatewayFixture struct {
	gateway  *Gateway
	registry *MemoryRegistry
	store    *attestation.MemoryStore
	auditor  *audit.MemoryLogger
	keypair  *signature.Keypair
}

func newGatewayFixture(t *testing.T, nodeID string, nodeType NodeType) *gatewayFixture {
	t.Helper()

	kp, err := signature.GenerateKeypair()
	require.NoError(t, err)

	registry := NewMemoryRegistry()
	require.NoError(t, registry.Register(context.Background(), FederationNode{
		NodeID:             nodeID,
		BrokerageName:      "Harborview Realty",
		Jurisdiction:       "US-WA",
		NodeType:           nodeType,
		PublicKey:          signature.EncodePublicKey(kp.PublicKey),
		PolicyManifestHash: "a1b2c3",
		Status:             StatusActive,
	}))

	guard, err := NewGuard()
	require.NoError(t, err)

	store := attestation.NewMemoryStore()
	auditor := audit.NewMemoryLogger()
	return &gatewayFixture{
		gateway:  NewGateway(registry, store, guard, auditor, nil),
		registry: registry,
		store:    store,
		auditor:  auditor,
		keypair:  kp,
	}
}

func (f *gatewayFixture) signedEnvelope(t *testing.T, fromNodeID string, eventTypes ...attestation.FederatedEventType) attestation.InboxEnvelope {
	t.Helper()

	atts := make([]attestation.Attestation, 0, len(eventTypes))
	for _, ev := range eventTypes {
		att, err := attestation.Create(fromNodeID, attestation.TypeStateTransitioned, "fp-txn-1",
			map[string]any{"event_type": string(ev), "state": "recorded"}, f.keypair.PrivateKey)
		require.NoError(t, err)
		atts = append(atts, *att)
	}

	env, err := attestation.CreateEnvelope(fromNodeID, "node-receiver", atts, f.keypair.PrivateKey)
	require.NoError(t, err)
	return *env
}

func TestSubmit_AcceptsValidEnvelope(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)
	env := f.signedEnvelope(t, "node-lender-1",
		attestation.EventFinancingConditional, attestation.EventFinancingCleared)

	receipt, err := f.gateway.Submit(context.Background(), NodeTypeLender, env)
	require.NoError(t, err)
	assert.Equal(t, env.EnvelopeID, receipt.EnvelopeID)
	assert.Equal(t, 2, receipt.Accepted)

	stored, err := f.store.List(context.Background(), attestation.Query{EntityFingerprint: "fp-txn-1"})
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	accepted := f.auditor.Query(audit.Filter{NodeID: "node-lender-1", Type: audit.EventAccess})
	require.Len(t, accepted, 1)
	assert.Equal(t, "envelope_accepted", accepted[0].Action)
}

func TestSubmit_RejectsUnknownNode(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)
	env := f.signedEnvelope(t, "node-lender-1", attestation.EventFinancingCleared)
	env.FromNodeID = "node-ghost"

	_, err := f.gateway.Submit(context.Background(), NodeTypeLender, env)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectUnknownNode, rej.Code)
}

func TestSubmit_RejectsSuspendedNode(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)
	env := f.signedEnvelope(t, "node-lender-1", attestation.EventFinancingCleared)
	require.NoError(t, f.registry.SetStatus(context.Background(), "node-lender-1", StatusSuspended))

	_, err := f.gateway.Submit(context.Background(), NodeTypeLender, env)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectNodeNotActive, rej.Code)

	stored, err := f.store.List(context.Background(), attestation.Query{EntityFingerprint: "fp-txn-1"})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSubmit_RejectsNodeTypeMismatch(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)
	env := f.signedEnvelope(t, "node-lender-1", attestation.EventFinancingCleared)

	_, err := f.gateway.Submit(context.Background(), NodeTypeTitle, env)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectNodeTypeMismatch, rej.Code)
}

func TestSubmit_RejectsEventOutsideAllowList(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)
	env := f.signedEnvelope(t, "node-lender-1", attestation.EventTitleCleared)

	_, err := f.gateway.Submit(context.Background(), NodeTypeLender, env)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectEventNotAllowed, rej.Code)
	assert.Len(t, rej.InvalidAttestationIDs, 1)
}

func TestSubmit_GrantedEventTypeIsAccepted(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)
	require.NoError(t, f.registry.GrantEventType(context.Background(), "node-lender-1", attestation.EventTitleCleared))
	env := f.signedEnvelope(t, "node-lender-1", attestation.EventTitleCleared)

	_, err := f.gateway.Submit(context.Background(), NodeTypeLender, env)
	assert.NoError(t, err)
}

func TestSubmit_RejectsStaleAndFutureEnvelopes(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)

	stale := f.signedEnvelope(t, "node-lender-1", attestation.EventFinancingCleared)
	stale.SentAt = time.Now().UTC().Add(-25 * time.Hour)
	_, err := f.gateway.Submit(context.Background(), NodeTypeLender, stale)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectStale, rej.Code)

	future := f.signedEnvelope(t, "node-lender-1", attestation.EventFinancingCleared)
	future.SentAt = time.Now().UTC().Add(10 * time.Minute)
	_, err = f.gateway.Submit(context.Background(), NodeTypeLender, future)
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectFromFuture, rej.Code)
}

func TestSubmit_SingleBadSignatureRejectsWholeBatch(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)
	env := f.signedEnvelope(t, "node-lender-1",
		attestation.EventFinancingConditional,
		attestation.EventFinancingCleared,
		attestation.EventAppraisalCompleted)

	// Tamper with the middle attestation after envelope signing.
	env.Attestations[1].Payload["state"] = "tampered"

	_, err := f.gateway.Submit(context.Background(), NodeTypeLender, env)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectBadSignature, rej.Code)

	// Nothing from the batch may land in the store.
	stored, storeErr := f.store.List(context.Background(), attestation.Query{EntityFingerprint: "fp-txn-1"})
	require.NoError(t, storeErr)
	assert.Empty(t, stored)

	// The rejection is audited with the specific reason.
	rejected := f.auditor.Query(audit.Filter{NodeID: "node-lender-1", Type: audit.EventProtocol})
	require.Len(t, rejected, 1)
	assert.Equal(t, "envelope_rejected", rejected[0].Action)
}

func TestSubmit_TamperedMemberOnlyNamesThatMember(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)
	env := f.signedEnvelope(t, "node-lender-1",
		attestation.EventFinancingConditional,
		attestation.EventFinancingCleared,
		attestation.EventAppraisalCompleted)

	// Tamper with one member signature, then re-sign the envelope so only
	// the member layer fails.
	env.Attestations[1].Signature = env.Attestations[0].Signature
	tamperedID := env.Attestations[1].AttestationID
	resigned, err := attestation.CreateEnvelope(env.FromNodeID, env.ToNodeID, env.Attestations, f.keypair.PrivateKey)
	require.NoError(t, err)

	_, err = f.gateway.Submit(context.Background(), NodeTypeLender, *resigned)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectBadSignature, rej.Code)
	assert.Equal(t, []string{tamperedID}, rej.InvalidAttestationIDs)

	stored, storeErr := f.store.List(context.Background(), attestation.Query{EntityFingerprint: "fp-txn-1"})
	require.NoError(t, storeErr)
	assert.Empty(t, stored)
}

func TestSubmit_GuardDeniesSelfDelivery(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)

	att, err := attestation.Create("node-lender-1", attestation.TypeStateTransitioned, "fp-txn-1",
		map[string]any{"event_type": string(attestation.EventFinancingCleared), "state": "recorded"}, f.keypair.PrivateKey)
	require.NoError(t, err)
	env, err := attestation.CreateEnvelope("node-lender-1", "node-lender-1", []attestation.Attestation{*att}, f.keypair.PrivateKey)
	require.NoError(t, err)

	_, err = f.gateway.Submit(context.Background(), NodeTypeLender, *env)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectGuardDenied, rej.Code)
}

func TestGuard_CustomRule(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)
	f.gateway.guard.AddRule(NodeTypeLender, `size(envelope.attestations) <= 1`)

	small := f.signedEnvelope(t, "node-lender-1", attestation.EventFinancingCleared)
	_, err := f.gateway.Submit(context.Background(), NodeTypeLender, small)
	assert.NoError(t, err)

	big := f.signedEnvelope(t, "node-lender-1",
		attestation.EventFinancingConditional, attestation.EventFinancingCleared)
	_, err = f.gateway.Submit(context.Background(), NodeTypeLender, big)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, RejectGuardDenied, rej.Code)
}

func TestGuard_TimeRuleUsesInjectedClock(t *testing.T) {
	f := newGatewayFixture(t, "node-lender-1", NodeTypeLender)
	env := f.signedEnvelope(t, "node-lender-1", attestation.EventFinancingCleared)

	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	guard, err := NewGuard()
	require.NoError(t, err)
	guard.AddRule(NodeTypeLender, `timestamp < 1782864000`) // cutoff as unix seconds

	guard.WithClock(func() time.Time { return cutoff.Add(-time.Minute) })
	assert.NoError(t, guard.Check(NodeTypeLender, env))

	guard.WithClock(func() time.Time { return cutoff.Add(time.Minute) })
	assert.Error(t, guard.Check(NodeTypeLender, env))
}

type recordingDispatcher struct {
	failFor    map[string]bool
	dispatched []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, env attestation.InboxEnvelope) error {
	if d.failFor[env.ToNodeID] {
		return errors.New("peer unreachable")
	}
	d.dispatched = append(d.dispatched, env.EnvelopeID)
	return nil
}

func TestOutbox_FlushRequeuesFailures(t *testing.T) {
	dispatcher := &recordingDispatcher{failFor: map[string]bool{"node-down": true}}
	outbox := NewOutbox(dispatcher, nil)

	outbox.Enqueue(attestation.InboxEnvelope{EnvelopeID: "env-1", ToNodeID: "node-up"})
	outbox.Enqueue(attestation.InboxEnvelope{EnvelopeID: "env-2", ToNodeID: "node-down"})

	report := outbox.Flush(context.Background())
	assert.Equal(t, []string{"env-1"}, report.Dispatched)
	assert.Contains(t, report.Failed, "env-2")
	assert.Equal(t, 1, outbox.Pending())

	// Peer recovers; next flush drains the queue.
	dispatcher.failFor = nil
	report = outbox.Flush(context.Background())
	assert.Equal(t, []string{"env-2"}, report.Dispatched)
	assert.Zero(t, outbox.Pending())
}
