package readiness

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tunable parts of readiness evaluation. Expiry windows
// are per requirement rather than hardcoded: what makes a binder "expired"
// versus merely old is a policy decision, not protocol.
type Config struct {
	// ExpiryWindows maps requirement IDs to validity windows counted from
	// the satisfying attestation's issued_at. A zero or absent window means
	// the attestation does not expire.
	ExpiryWindows map[RequirementID]time.Duration `yaml:"expiry_windows"`

	// ExpiringSoonWindow flags satisfied requirements whose validity lapses
	// within this horizon. Zero disables the check.
	ExpiringSoonWindow time.Duration `yaml:"expiring_soon_window"`
}

// DefaultConfig returns the windows used when no bundle is supplied:
// insurance binders 30 days, authority checks 90 days, everything else
// non-expiring.
func DefaultConfig() Config {
	return Config{
		ExpiryWindows: map[RequirementID]time.Duration{
			ReqInsuranceBinder:   30 * 24 * time.Hour,
			ReqAuthorityValidity: 90 * 24 * time.Hour,
		},
		ExpiringSoonWindow: 7 * 24 * time.Hour,
	}
}

// LoadConfig reads a YAML bundle. Absent fields fall back to defaults so a
// bundle may override a single window.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("readiness: read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("readiness: parse config %s: %w", path, err)
	}
	return cfg, nil
}
