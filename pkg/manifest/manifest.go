// Package manifest defines the policy manifest exchanged at node
// registration. The manifest's canonical hash is the compatibility
// signature between two federation nodes: any field change yields a new
// hash, so peers can detect protocol drift without diffing fields.
package manifest

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/escrowgrid/core/pkg/attestation"
	"github.com/escrowgrid/core/pkg/canonical"
)

// Manifest is a node's declared protocol contract. Immutable once issued;
// a protocol change requires issuing a new manifest with a new hash.
type Manifest struct {
	Version                     string                        `json:"version"`
	OntologyVersion             string                        `json:"ontology_version"`
	EventDictionaryVersion      string                        `json:"event_dictionary_version"`
	StateMachineVersion         string                        `json:"state_machine_version"`
	AutomationAllowedEventTypes []attestation.FederatedEventType `json:"automation_allowed_event_types"`
	AttestationTypesSupported   []attestation.Type            `json:"attestation_types_supported"`
	ComplianceFrameworks        []string                      `json:"compliance_frameworks"`
	IssuedAt                    time.Time                     `json:"issued_at"`
}

// ErrInvalidManifest wraps all validation failures.
var ErrInvalidManifest = errors.New("manifest: invalid manifest")

// Validate checks structural soundness: all four version fields must be
// valid semver, every supported attestation type must be a known type,
// and every automation event type must belong to the federated dictionary.
func (m Manifest) Validate() error {
	for field, value := range map[string]string{
		"version":                  m.Version,
		"ontology_version":         m.OntologyVersion,
		"event_dictionary_version": m.EventDictionaryVersion,
		"state_machine_version":    m.StateMachineVersion,
	} {
		if _, err := semver.NewVersion(value); err != nil {
			return fmt.Errorf("%w: %s %q is not valid semver: %v", ErrInvalidManifest, field, value, err)
		}
	}

	if len(m.AttestationTypesSupported) == 0 {
		return fmt.Errorf("%w: attestation_types_supported is empty", ErrInvalidManifest)
	}
	for _, t := range m.AttestationTypesSupported {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown attestation type %q", ErrInvalidManifest, t)
		}
	}

	known := make(map[attestation.FederatedEventType]struct{})
	for _, ev := range attestation.AllFederatedEventTypes() {
		known[ev] = struct{}{}
	}
	for _, ev := range m.AutomationAllowedEventTypes {
		if _, ok := known[ev]; !ok {
			return fmt.Errorf("%w: event type %q is not in the federated dictionary", ErrInvalidManifest, ev)
		}
	}

	return nil
}

// Hash returns the manifest's canonical hash, the value exchanged and
// pinned at registration time.
func (m Manifest) Hash() (string, error) {
	return canonical.Hash(m)
}

// Compatible reports whether two nodes can federate. It requires exact
// equality of the ontology, event dictionary, and state machine versions
// (no partial compatibility across protocol versions) and a non-empty
// intersection of supported attestation types. Symmetric by construction:
// Compatible(a, b) == Compatible(b, a).
func Compatible(a, b Manifest) bool {
	if a.OntologyVersion != b.OntologyVersion {
		return false
	}
	if a.EventDictionaryVersion != b.EventDictionaryVersion {
		return false
	}
	if a.StateMachineVersion != b.StateMachineVersion {
		return false
	}
	return intersects(a.AttestationTypesSupported, b.AttestationTypesSupported)
}

func intersects(a, b []attestation.Type) bool {
	set := make(map[attestation.Type]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
