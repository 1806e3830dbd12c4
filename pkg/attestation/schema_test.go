package attestation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePayload_StateTransitioned(t *testing.T) {
	assert.NoError(t, ValidatePayload(TypeStateTransitioned, map[string]any{
		"event_type": "TITLE_CLEARED",
		"state":      "cleared",
		"on_time":    true,
	}))

	assert.Error(t, ValidatePayload(TypeStateTransitioned, map[string]any{
		"state": "cleared",
	}), "missing event_type must fail")

	assert.Error(t, ValidatePayload(TypeStateTransitioned, map[string]any{
		"event_type": "",
		"state":      "cleared",
	}), "empty event_type must fail")
}

func TestValidatePayload_AuthorityVerified(t *testing.T) {
	assert.NoError(t, ValidatePayload(TypeAuthorityVerified, map[string]any{
		"authority_type": "listing_agreement",
		"valid":          true,
	}))

	assert.Error(t, ValidatePayload(TypeAuthorityVerified, map[string]any{
		"authority_type": "listing_agreement",
		"valid":          "yes",
	}), "valid must be boolean")
}

func TestValidatePayload_ReputationSnapshot(t *testing.T) {
	assert.NoError(t, ValidatePayload(TypeReputationSnapshot, map[string]any{
		"score":       72.5,
		"computed_at": "2026-06-01T00:00:00Z",
	}))

	assert.Error(t, ValidatePayload(TypeReputationSnapshot, map[string]any{
		"score":       120,
		"computed_at": "2026-06-01T00:00:00Z",
	}), "score above 100 must fail")
}

func TestValidatePayload_UnknownType(t *testing.T) {
	assert.Error(t, ValidatePayload(Type("Gossip"), map[string]any{}))
}
