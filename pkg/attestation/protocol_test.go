package attestation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowgrid/core/pkg/signature"
)

func testKeypair(t *testing.T) *signature.Keypair {
	t.Helper()
	kp, err := signature.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

func stateTransitionedPayload(eventType string) map[string]any {
	return map[string]any{
		"event_type": eventType,
		"state":      "cleared",
	}
}

func TestCreate_SignsVerifiably(t *testing.T) {
	kp := testKeypair(t)

	att, err := Create("node-1", TypeStateTransitioned, "fp-abc",
		stateTransitionedPayload("FINANCING_CLEARED"), kp.PrivateKey)
	require.NoError(t, err)

	assert.NotEmpty(t, att.AttestationID)
	assert.False(t, att.IssuedAt.IsZero())
	assert.True(t, Verify(*att, kp.PublicKey))
}

func TestCreate_RejectsPIIPayload(t *testing.T) {
	kp := testKeypair(t)

	_, err := Create("node-1", TypeStateTransitioned, "fp-abc", map[string]any{
		"event_type":  "FINANCING_CLEARED",
		"state":       "cleared",
		"buyer_name":  "Jane Roe",
		"sale_price":  650000,
	}, kp.PrivateKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied fields")
}

func TestCreate_RejectsInvalidType(t *testing.T) {
	kp := testKeypair(t)

	_, err := Create("node-1", Type("MadeUp"), "fp-abc",
		stateTransitionedPayload("FINANCING_CLEARED"), kp.PrivateKey)
	assert.Error(t, err)
}

func TestCreate_RejectsSchemaViolation(t *testing.T) {
	kp := testKeypair(t)

	// StateTransitioned requires event_type and state.
	_, err := Create("node-1", TypeStateTransitioned, "fp-abc",
		map[string]any{"state": "cleared"}, kp.PrivateKey)
	assert.Error(t, err)
}

func TestVerify_TamperedField(t *testing.T) {
	kp := testKeypair(t)

	att, err := Create("node-1", TypeStateTransitioned, "fp-abc",
		stateTransitionedPayload("FINANCING_CLEARED"), kp.PrivateKey)
	require.NoError(t, err)

	tampered := *att
	tampered.EntityFingerprint = "fp-other"
	assert.False(t, Verify(tampered, kp.PublicKey))

	tampered = *att
	tampered.Payload = stateTransitionedPayload("FINANCING_WITHDRAWN")
	assert.False(t, Verify(tampered, kp.PublicKey))
}

func TestVerify_WrongIssuerKey(t *testing.T) {
	kp1 := testKeypair(t)
	kp2 := testKeypair(t)

	att, err := Create("node-1", TypeStateTransitioned, "fp-abc",
		stateTransitionedPayload("FINANCING_CLEARED"), kp1.PrivateKey)
	require.NoError(t, err)

	assert.False(t, Verify(*att, kp2.PublicKey))
}

func TestEnvelope_RoundTrip(t *testing.T) {
	kp := testKeypair(t)

	var atts []Attestation
	for _, evType := range []string{"FINANCING_CLEARED", "TITLE_CLEARED", "BINDER_ISSUED"} {
		att, err := Create("node-1", TypeStateTransitioned, "fp-abc",
			stateTransitionedPayload(evType), kp.PrivateKey)
		require.NoError(t, err)
		atts = append(atts, *att)
	}

	env, err := CreateEnvelope("node-1", "node-2", atts, kp.PrivateKey)
	require.NoError(t, err)
	assert.NotEmpty(t, env.EnvelopeSignature)

	report := VerifyEnvelope(*env, kp.PublicKey)
	assert.True(t, report.Valid)
	assert.Empty(t, report.InvalidAttestationIDs)
}

func TestEnvelope_SingleInvalidMemberRejectsWholeBatch(t *testing.T) {
	kp := testKeypair(t)
	foreign := testKeypair(t)

	var atts []Attestation
	for _, evType := range []string{"FINANCING_CLEARED", "TITLE_CLEARED"} {
		att, err := Create("node-1", TypeStateTransitioned, "fp-abc",
			stateTransitionedPayload(evType), kp.PrivateKey)
		require.NoError(t, err)
		atts = append(atts, *att)
	}

	// Signed with a key that is not the sender's registered key.
	bad, err := Create("node-1", TypeStateTransitioned, "fp-abc",
		stateTransitionedPayload("BINDER_ISSUED"), foreign.PrivateKey)
	require.NoError(t, err)
	atts = append(atts, *bad)

	env, err := CreateEnvelope("node-1", "node-2", atts, kp.PrivateKey)
	require.NoError(t, err)

	report := VerifyEnvelope(*env, kp.PublicKey)
	assert.False(t, report.Valid)
	require.Len(t, report.InvalidAttestationIDs, 1)
	assert.Equal(t, bad.AttestationID, report.InvalidAttestationIDs[0])
}

func TestEnvelope_TamperedBatchSignature(t *testing.T) {
	kp := testKeypair(t)

	att, err := Create("node-1", TypeStateTransitioned, "fp-abc",
		stateTransitionedPayload("FINANCING_CLEARED"), kp.PrivateKey)
	require.NoError(t, err)

	env, err := CreateEnvelope("node-1", "node-2", []Attestation{*att}, kp.PrivateKey)
	require.NoError(t, err)

	env.ToNodeID = "node-3"
	report := VerifyEnvelope(*env, kp.PublicKey)
	assert.False(t, report.Valid)
	assert.Equal(t, "invalid envelope signature", report.Reason)
}

func TestEnvelope_IssuerMismatch(t *testing.T) {
	kp := testKeypair(t)

	att, err := Create("node-9", TypeStateTransitioned, "fp-abc",
		stateTransitionedPayload("FINANCING_CLEARED"), kp.PrivateKey)
	require.NoError(t, err)

	_, err = CreateEnvelope("node-1", "node-2", []Attestation{*att}, kp.PrivateKey)
	assert.Error(t, err)
}

func TestEnvelope_BatchCap(t *testing.T) {
	kp := testKeypair(t)

	att, err := Create("node-1", TypeStateTransitioned, "fp-abc",
		stateTransitionedPayload("FINANCING_CLEARED"), kp.PrivateKey)
	require.NoError(t, err)

	atts := make([]Attestation, MaxEnvelopeAttestations+1)
	for i := range atts {
		atts[i] = *att
	}
	_, err = CreateEnvelope("node-1", "node-2", atts, kp.PrivateKey)
	assert.Error(t, err)
}
