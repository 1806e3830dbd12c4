package attestation

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Payload shape is schema-constrained per attestation type. Schemas are
// compiled once at package init; a schema that fails to compile is a
// programming error, not a runtime condition.

var payloadSchemas = map[Type]*jsonschema.Schema{
	TypeStateTransitioned: mustCompile("state_transitioned.json", `{
		"type": "object",
		"required": ["event_type", "state"],
		"properties": {
			"event_type": {"type": "string", "minLength": 1},
			"state": {"type": "string", "minLength": 1},
			"occurred_at": {"type": "string"},
			"effective_date": {"type": "string"},
			"expires_at": {"type": "string"},
			"on_time": {"type": "boolean"},
			"automated": {"type": "boolean"},
			"disputed": {"type": "boolean"}
		}
	}`),
	TypeAuthorityVerified: mustCompile("authority_verified.json", `{
		"type": "object",
		"required": ["authority_type", "valid"],
		"properties": {
			"authority_type": {"type": "string", "minLength": 1},
			"valid": {"type": "boolean"},
			"verified_at": {"type": "string"},
			"expires_at": {"type": "string"},
			"automated": {"type": "boolean"},
			"disputed": {"type": "boolean"}
		}
	}`),
	TypeComplianceVerified: mustCompile("compliance_verified.json", `{
		"type": "object",
		"required": ["framework", "passed"],
		"properties": {
			"framework": {"type": "string", "minLength": 1},
			"passed": {"type": "boolean"},
			"checked_at": {"type": "string"},
			"automated": {"type": "boolean"},
			"disputed": {"type": "boolean"}
		}
	}`),
	TypeAuditNarrativeGenerated: mustCompile("audit_narrative_generated.json", `{
		"type": "object",
		"required": ["narrative_hash", "as_of"],
		"properties": {
			"narrative_hash": {"type": "string", "minLength": 1},
			"as_of": {"type": "string"},
			"automated": {"type": "boolean"}
		}
	}`),
	TypeReputationSnapshot: mustCompile("reputation_snapshot.json", `{
		"type": "object",
		"required": ["score", "computed_at"],
		"properties": {
			"score": {"type": "number", "minimum": 0, "maximum": 100},
			"computed_at": {"type": "string"},
			"valid_until": {"type": "string"}
		}
	}`),
}

func mustCompile(name, schema string) *jsonschema.Schema {
	compiled, err := jsonschema.CompileString(name, schema)
	if err != nil {
		panic(fmt.Sprintf("attestation: schema %s: %v", name, err))
	}
	return compiled
}

// ValidatePayload checks payload against the schema for t.
func ValidatePayload(t Type, payload map[string]any) error {
	schema, ok := payloadSchemas[t]
	if !ok {
		return fmt.Errorf("attestation: unknown attestation type %q", t)
	}

	// Round-trip through encoding/json so the validator sees the same value
	// shapes (float64, string, bool) the wire format produces.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("attestation: payload encoding failed: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("attestation: payload decoding failed: %w", err)
	}

	if err := schema.Validate(generic); err != nil {
		return fmt.Errorf("attestation: payload schema violation for %s: %w", t, err)
	}
	return nil
}
