package signature

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	payload := map[string]interface{}{
		"entity_fingerprint": "abc123",
		"status":             "cleared",
	}

	sig, err := Sign(payload, kp.PrivateKey)
	require.NoError(t, err)
	assert.True(t, Verify(payload, sig, kp.PublicKey))
}

func TestVerify_InsertionOrderIndependent(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	signed := map[string]interface{}{"a": 1, "b": 2}
	sig, err := Sign(signed, kp.PrivateKey)
	require.NoError(t, err)

	// Same logical value, different construction order.
	reordered := map[string]interface{}{}
	reordered["b"] = 2
	reordered["a"] = 1

	assert.True(t, Verify(reordered, sig, kp.PublicKey))
}

func TestVerify_TamperedPayload(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	payload := map[string]interface{}{"status": "cleared"}
	sig, err := Sign(payload, kp.PrivateKey)
	require.NoError(t, err)

	tampered := map[string]interface{}{"status": "blocked"}
	assert.False(t, Verify(tampered, sig, kp.PublicKey))
}

func TestVerify_TamperedSignature(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	payload := map[string]interface{}{"status": "cleared"}
	sig, err := Sign(payload, kp.PrivateKey)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)

	// Flip one byte at every position; no variant may verify.
	for i := range raw {
		flipped := make([]byte, len(raw))
		copy(flipped, raw)
		flipped[i] ^= 0x01
		assert.False(t, Verify(payload, base64.StdEncoding.EncodeToString(flipped), kp.PublicKey),
			"flipped byte %d still verified", i)
	}
}

func TestVerify_NeverPanics(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	assert.False(t, Verify(map[string]int{"a": 1}, "not-base64!!!", kp.PublicKey))
	assert.False(t, Verify(map[string]int{"a": 1}, "", kp.PublicKey))
	assert.False(t, Verify(map[string]int{"a": 1}, "aGVsbG8=", kp.PublicKey)) // wrong length
	assert.False(t, Verify(map[string]int{"a": 1}, "aGVsbG8=", nil))          // nil key
	assert.False(t, Verify(func() {}, "aGVsbG8=", kp.PublicKey))              // unmarshalable value
}

func TestVerify_RejectsAlternateEncodings(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	payload := map[string]interface{}{"status": "cleared"}
	sig, err := Sign(payload, kp.PrivateKey)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)

	// The same bytes re-encoded as hex must not verify; a valid signature
	// has exactly one string form.
	assert.False(t, Verify(payload, hex.EncodeToString(raw), kp.PublicKey))
}

func TestVerify_WrongKey(t *testing.T) {
	kp1, err := GenerateKeypair()
	require.NoError(t, err)
	kp2, err := GenerateKeypair()
	require.NoError(t, err)

	payload := map[string]interface{}{"status": "cleared"}
	sig, err := Sign(payload, kp1.PrivateKey)
	require.NoError(t, err)

	assert.False(t, Verify(payload, sig, kp2.PublicKey))
}

func TestPublicKeyEncoding_RoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	encoded := EncodePublicKey(kp.PublicKey)
	decoded, err := DecodePublicKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, decoded)

	_, err = DecodePublicKey("short")
	assert.Error(t, err)
}

func TestSign_InvalidKey(t *testing.T) {
	_, err := Sign(map[string]int{"a": 1}, nil)
	assert.Error(t, err)
}
