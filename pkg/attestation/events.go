package attestation

// FederatedEventType is the closed protocol-wide dictionary of event types a
// federated peer may submit. Submissions outside this dictionary are
// protocol violations.
type FederatedEventType string

const (
	// Lender events.
	EventFinancingConditional FederatedEventType = "FINANCING_CONDITIONAL_APPROVAL"
	EventFinancingCleared     FederatedEventType = "FINANCING_CLEARED"
	EventFinancingWithdrawn   FederatedEventType = "FINANCING_WITHDRAWN"
	EventAppraisalCompleted   FederatedEventType = "APPRAISAL_COMPLETED"

	// Title company events.
	EventTitleReportIssued        FederatedEventType = "TITLE_REPORT_ISSUED"
	EventTitleCleared             FederatedEventType = "TITLE_CLEARED"
	EventTitleExceptionRaised     FederatedEventType = "TITLE_EXCEPTION_RAISED"
	EventSettlementStatementReady FederatedEventType = "SETTLEMENT_STATEMENT_READY"
	EventClosingCompleted         FederatedEventType = "CLOSING_COMPLETED"

	// Insurance events.
	EventBinderIssued      FederatedEventType = "BINDER_ISSUED"
	EventBinderRenewed     FederatedEventType = "BINDER_RENEWED"
	EventCoverageWithdrawn FederatedEventType = "COVERAGE_WITHDRAWN"

	// Shared events.
	EventAuthorityVerified     FederatedEventType = "AUTHORITY_VERIFIED"
	EventAuthorityRevoked      FederatedEventType = "AUTHORITY_REVOKED"
	EventContingenciesResolved FederatedEventType = "CONTINGENCIES_RESOLVED"
	EventContingencyReopened   FederatedEventType = "CONTINGENCY_REOPENED"
)

// AllFederatedEventTypes lists the full event dictionary.
func AllFederatedEventTypes() []FederatedEventType {
	return []FederatedEventType{
		EventFinancingConditional, EventFinancingCleared, EventFinancingWithdrawn,
		EventAppraisalCompleted,
		EventTitleReportIssued, EventTitleCleared, EventTitleExceptionRaised,
		EventSettlementStatementReady, EventClosingCompleted,
		EventBinderIssued, EventBinderRenewed, EventCoverageWithdrawn,
		EventAuthorityVerified, EventAuthorityRevoked,
		EventContingenciesResolved, EventContingencyReopened,
	}
}

// TypeForEvent maps a federated event type to the attestation type a node
// issues for it. The switch is exhaustive over the event dictionary so that
// adding an event type without deciding its attestation type fails review
// loudly: an unmapped type returns ok=false and is rejected, never silently
// coerced.
func TypeForEvent(ev FederatedEventType) (Type, bool) {
	switch ev {
	case EventFinancingConditional, EventFinancingCleared, EventFinancingWithdrawn,
		EventAppraisalCompleted,
		EventTitleReportIssued, EventTitleCleared, EventTitleExceptionRaised,
		EventSettlementStatementReady, EventClosingCompleted,
		EventBinderIssued, EventBinderRenewed, EventCoverageWithdrawn,
		EventContingenciesResolved, EventContingencyReopened:
		return TypeStateTransitioned, true
	case EventAuthorityVerified, EventAuthorityRevoked:
		return TypeAuthorityVerified, true
	}
	return "", false
}

// WithdrawsEvent maps a withdrawal event to the event type it withdraws.
// Exhaustive over the withdrawal subset; non-withdrawal events return
// ok=false.
func WithdrawsEvent(ev FederatedEventType) (FederatedEventType, bool) {
	switch ev {
	case EventFinancingWithdrawn:
		return EventFinancingCleared, true
	case EventTitleExceptionRaised:
		return EventTitleCleared, true
	case EventCoverageWithdrawn:
		return EventBinderIssued, true
	case EventContingencyReopened:
		return EventContingenciesResolved, true
	case EventAuthorityRevoked:
		return EventAuthorityVerified, true
	}
	return "", false
}
