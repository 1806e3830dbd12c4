// Package readiness computes the closing readiness verdict for a
// transaction from its attestation set. The verdict is re-derived from
// scratch on every query: no state is carried between calls, so a ready
// transaction regresses to blocked the moment a withdrawal attestation is
// observed.
package readiness

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/escrowgrid/core/pkg/attestation"
	"github.com/escrowgrid/core/pkg/decision"
)

// State is the readiness verdict.
type State string

const (
	StateReady              State = "ready"
	StateConditionallyReady State = "conditionally_ready"
	StateNotReady           State = "not_ready"
	StateBlocked            State = "blocked"
	StateExpired            State = "expired"
)

// RequirementID identifies one of the five fixed closing requirements.
type RequirementID string

const (
	ReqLenderClearance       RequirementID = "lender_clearance"
	ReqTitleClearance        RequirementID = "title_clearance"
	ReqInsuranceBinder       RequirementID = "insurance_binder"
	ReqAuthorityValidity     RequirementID = "authority_validity"
	ReqContingencyResolution RequirementID = "contingency_resolution"
)

// Requirement is the structured status of one closing requirement. The
// verdict is assembled from these, never re-derived from reason strings.
type Requirement struct {
	ID          RequirementID `json:"id"`
	Label       string        `json:"label"`
	Satisfied   bool          `json:"satisfied"`
	Conditional bool          `json:"conditional"`
	Withdrawn   bool          `json:"withdrawn"`
	Expired     bool          `json:"expired"`
	ExpiresSoon bool          `json:"expires_soon,omitempty"`
	SourceID    string        `json:"source_attestation_id,omitempty"`
	Detail      string        `json:"detail,omitempty"`
}

// Result is the fully explainable readiness verdict.
type Result struct {
	State               State         `json:"state"`
	ReadyToClose        bool          `json:"ready_to_close"`
	Requirements        []Requirement `json:"requirements"`
	BlockingReasons     []string      `json:"blocking_reasons"`
	MissingAttestations []string      `json:"missing_attestations"`
	ConditionalWarnings []string      `json:"conditional_warnings"`
	ExpiringSoon        []string      `json:"expiring_soon"`
	ComputedAt          time.Time     `json:"computed_at"`
}

// requirementDef binds a requirement to the attestation evidence that
// satisfies or withdraws it.
type requirementDef struct {
	id        RequirementID
	label     string
	missing   string // attestation evidence named in missing_attestations
	satisfies []attestation.FederatedEventType
	withdraws []attestation.FederatedEventType
	authority bool // evidence is AuthorityVerified, not StateTransitioned
}

// The fixed requirement set, evaluated in this order on every call.
var requirementDefs = []requirementDef{
	{
		id: ReqLenderClearance, label: "lender clearance",
		missing:   "StateTransitioned/FINANCING_CLEARED",
		satisfies: []attestation.FederatedEventType{attestation.EventFinancingCleared},
		withdraws: []attestation.FederatedEventType{attestation.EventFinancingWithdrawn},
	},
	{
		id: ReqTitleClearance, label: "title clearance",
		missing:   "StateTransitioned/TITLE_CLEARED",
		satisfies: []attestation.FederatedEventType{attestation.EventTitleCleared},
		withdraws: []attestation.FederatedEventType{attestation.EventTitleExceptionRaised},
	},
	{
		id: ReqInsuranceBinder, label: "insurance binder",
		missing:   "StateTransitioned/BINDER_ISSUED",
		satisfies: []attestation.FederatedEventType{attestation.EventBinderIssued, attestation.EventBinderRenewed},
		withdraws: []attestation.FederatedEventType{attestation.EventCoverageWithdrawn},
	},
	{
		id: ReqAuthorityValidity, label: "authority validity",
		missing:   "AuthorityVerified",
		authority: true,
	},
	{
		id: ReqContingencyResolution, label: "contingency resolution",
		missing:   "StateTransitioned/CONTINGENCIES_RESOLVED",
		satisfies: []attestation.FederatedEventType{attestation.EventContingenciesResolved},
		withdraws: []attestation.FederatedEventType{attestation.EventContingencyReopened},
	},
}

// Machine evaluates closing readiness. Constructor-injected store and
// clock; safe for concurrent use since evaluation reads immutable inputs
// and holds no mutable state.
type Machine struct {
	store attestation.Store
	cfg   Config
	clock func() time.Time
}

// NewMachine creates a Machine over the given attestation store.
func NewMachine(store attestation.Store, cfg Config) *Machine {
	return &Machine{store: store, cfg: cfg, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (m *Machine) WithClock(clock func() time.Time) *Machine {
	m.clock = clock
	return m
}

// Evaluate computes the verdict for an entity fingerprint. dc supplies the
// transaction's derived context; targetClose bounds the binder effective
// date check and may be zero.
func (m *Machine) Evaluate(ctx context.Context, dc decision.DecisionContext, entityFingerprint string, targetClose time.Time) (Result, error) {
	ctx, span := otel.Tracer("escrowgrid/readiness").Start(ctx, "readiness.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", dc.TransactionID))

	atts, err := m.store.List(ctx, attestation.Query{EntityFingerprint: entityFingerprint})
	if err != nil {
		return Result{}, fmt.Errorf("readiness: attestation lookup failed: %w", err)
	}

	now := m.clock().UTC()
	result := Result{
		Requirements:        make([]Requirement, 0, len(requirementDefs)),
		BlockingReasons:     []string{},
		MissingAttestations: []string{},
		ConditionalWarnings: []string{},
		ExpiringSoon:        []string{},
		ComputedAt:          now,
	}

	for _, def := range requirementDefs {
		req := m.evaluateRequirement(def, atts, now, targetClose)
		result.Requirements = append(result.Requirements, req)

		switch {
		case req.Withdrawn:
			result.BlockingReasons = append(result.BlockingReasons,
				fmt.Sprintf("%s withdrawn: %s", def.label, req.Detail))
		case req.Expired:
			result.BlockingReasons = append(result.BlockingReasons,
				fmt.Sprintf("%s expired: %s", def.label, req.Detail))
		case !req.Satisfied:
			result.MissingAttestations = append(result.MissingAttestations, def.missing)
		case req.Conditional:
			result.ConditionalWarnings = append(result.ConditionalWarnings,
				fmt.Sprintf("%s: %s", def.label, req.Detail))
		}

		if req.ExpiresSoon {
			result.ExpiringSoon = append(result.ExpiringSoon, fmt.Sprintf("%s: %s", def.label, req.Detail))
		}
	}

	result.State = verdict(result)
	result.ReadyToClose = result.State == StateReady
	span.SetAttributes(attribute.String("readiness.state", string(result.State)))
	return result, nil
}

// verdict applies the transition rules in priority order. Blocking always
// wins over satisfaction regardless of the other requirements.
func verdict(r Result) State {
	anyWithdrawn := false
	anyExpired := false
	allSatisfied := true
	anyConditional := false

	for _, req := range r.Requirements {
		if req.Withdrawn {
			anyWithdrawn = true
		}
		if req.Expired {
			anyExpired = true
		}
		if !req.Satisfied || req.Withdrawn || req.Expired {
			allSatisfied = false
		}
		if req.Conditional {
			anyConditional = true
		}
	}

	switch {
	case anyWithdrawn:
		return StateBlocked
	case anyExpired:
		return StateExpired
	case !allSatisfied:
		return StateNotReady
	case anyConditional:
		return StateConditionallyReady
	default:
		return StateReady
	}
}

func (m *Machine) evaluateRequirement(def requirementDef, atts []attestation.Attestation, now, targetClose time.Time) Requirement {
	req := Requirement{ID: def.id, Label: def.label}

	if def.authority {
		return m.evaluateAuthority(req, atts, now)
	}

	satisfying, withdrawal := latestEvidence(def, atts)

	// Blocking wins: an explicit withdrawal that postdates the satisfying
	// attestation (or stands alone) blocks the requirement outright.
	if withdrawal != nil && (satisfying == nil || !withdrawal.IssuedAt.Before(satisfying.IssuedAt)) {
		req.Withdrawn = true
		req.SourceID = withdrawal.AttestationID
		req.Detail = fmt.Sprintf("withdrawal attestation %s issued %s",
			withdrawal.AttestationID, withdrawal.IssuedAt.Format(time.RFC3339))
		return req
	}

	if satisfying == nil {
		return req
	}

	req.SourceID = satisfying.AttestationID

	if window := m.cfg.ExpiryWindows[def.id]; window > 0 {
		validUntil := satisfying.IssuedAt.Add(window)
		if validUntil.Before(now) {
			req.Expired = true
			req.Detail = fmt.Sprintf("valid until %s", validUntil.Format(time.RFC3339))
			return req
		}
		if m.cfg.ExpiringSoonWindow > 0 && validUntil.Before(now.Add(m.cfg.ExpiringSoonWindow)) {
			req.Detail = fmt.Sprintf("expires %s", validUntil.Format(time.RFC3339))
			req.Conditional = true
			req.ExpiresSoon = true
		}
	}

	req.Satisfied = true

	// Soft warning: coverage that only becomes effective after the target
	// closing date satisfies the requirement but cannot support it.
	if def.id == ReqInsuranceBinder && !targetClose.IsZero() {
		if effective, ok := payloadTime(satisfying.Payload, "effective_date"); ok && effective.After(targetClose) {
			req.Conditional = true
			req.Detail = fmt.Sprintf("binder effective %s, after target close %s",
				effective.Format(time.RFC3339), targetClose.Format(time.RFC3339))
		}
	}

	return req
}

func (m *Machine) evaluateAuthority(req Requirement, atts []attestation.Attestation, now time.Time) Requirement {
	var latest *attestation.Attestation
	for i := range atts {
		att := &atts[i]
		if att.AttestationType != attestation.TypeAuthorityVerified {
			continue
		}
		if latest == nil || !att.IssuedAt.Before(latest.IssuedAt) {
			latest = att
		}
	}

	if latest == nil {
		return req
	}
	req.SourceID = latest.AttestationID

	if valid, ok := latest.Payload["valid"].(bool); ok && !valid {
		req.Withdrawn = true
		req.Detail = fmt.Sprintf("authority revoked by attestation %s", latest.AttestationID)
		return req
	}

	if window := m.cfg.ExpiryWindows[req.ID]; window > 0 {
		validUntil := latest.IssuedAt.Add(window)
		if validUntil.Before(now) {
			req.Expired = true
			req.Detail = fmt.Sprintf("valid until %s", validUntil.Format(time.RFC3339))
			return req
		}
		if m.cfg.ExpiringSoonWindow > 0 && validUntil.Before(now.Add(m.cfg.ExpiringSoonWindow)) {
			req.Detail = fmt.Sprintf("expires %s", validUntil.Format(time.RFC3339))
			req.Conditional = true
			req.ExpiresSoon = true
		}
	}

	req.Satisfied = true
	return req
}

// latestEvidence returns the most recent satisfying and withdrawing
// attestations for a state-transition requirement.
func latestEvidence(def requirementDef, atts []attestation.Attestation) (satisfying, withdrawal *attestation.Attestation) {
	for i := range atts {
		att := &atts[i]
		if att.AttestationType != attestation.TypeStateTransitioned {
			continue
		}
		evType, ok := att.Payload["event_type"].(string)
		if !ok {
			continue
		}
		fed := attestation.FederatedEventType(evType)

		if containsEvent(def.satisfies, fed) {
			if satisfying == nil || !att.IssuedAt.Before(satisfying.IssuedAt) {
				satisfying = att
			}
		}
		if containsEvent(def.withdraws, fed) {
			if withdrawal == nil || !att.IssuedAt.Before(withdrawal.IssuedAt) {
				withdrawal = att
			}
		}
	}
	return satisfying, withdrawal
}

func containsEvent(set []attestation.FederatedEventType, ev attestation.FederatedEventType) bool {
	for _, candidate := range set {
		if candidate == ev {
			return true
		}
	}
	return false
}

func payloadTime(payload map[string]any, key string) (time.Time, bool) {
	raw, ok := payload[key].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
