package attestation

import (
	"fmt"
	"strings"
)

// Attestation payloads cross organizational boundaries, so they must never
// carry the issuing node's internal data. Sanitization is a denylist over
// payload keys at every nesting level, enforced before signing and again at
// intake.

// deniedKeyFragments flags any payload key containing one of these
// fragments. Matching is case-insensitive on the normalized key
// (underscores and dashes stripped).
var deniedKeyFragments = []string{
	"name",
	"address",
	"street",
	"price",
	"amount",
	"email",
	"phone",
	"ssn",
	"socialsecurity",
	"dateofbirth",
	"dob",
	"licensenumber",
	"accountnumber",
	"taxid",
}

// SanitizePayload validates that payload carries no personally identifying
// or internal fields. Returns the list of violating key paths; an empty
// list means the payload is safe to sign.
func SanitizePayload(payload map[string]any) []string {
	var violations []string
	walkPayload("", payload, &violations)
	return violations
}

// CheckPayload is SanitizePayload as an error. Used on both the signing and
// the intake path.
func CheckPayload(payload map[string]any) error {
	if violations := SanitizePayload(payload); len(violations) > 0 {
		return fmt.Errorf("attestation: payload carries denied fields: %s", strings.Join(violations, ", "))
	}
	return nil
}

func walkPayload(prefix string, value any, violations *[]string) {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			path := key
			if prefix != "" {
				path = prefix + "." + key
			}
			if keyDenied(key) {
				*violations = append(*violations, path)
				continue
			}
			walkPayload(path, child, violations)
		}
	case []any:
		for i, child := range v {
			walkPayload(fmt.Sprintf("%s[%d]", prefix, i), child, violations)
		}
	}
}

func keyDenied(key string) bool {
	normalized := strings.ToLower(key)
	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	for _, fragment := range deniedKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}
