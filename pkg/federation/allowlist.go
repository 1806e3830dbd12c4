package federation

import "github.com/escrowgrid/core/pkg/attestation"

// protocolAllowLists is the closed, protocol-wide mapping from peer type to
// the event types that peer may submit. Authority and contingency events are
// shared: any peer type may assert or revoke its own authority and report
// contingency movement on transactions it participates in.
var protocolAllowLists = map[NodeType][]attestation.FederatedEventType{
	NodeTypeLender: {
		attestation.EventFinancingConditional,
		attestation.EventFinancingCleared,
		attestation.EventFinancingWithdrawn,
		attestation.EventAppraisalCompleted,
		attestation.EventAuthorityVerified,
		attestation.EventAuthorityRevoked,
		attestation.EventContingenciesResolved,
		attestation.EventContingencyReopened,
	},
	NodeTypeTitle: {
		attestation.EventTitleReportIssued,
		attestation.EventTitleCleared,
		attestation.EventTitleExceptionRaised,
		attestation.EventSettlementStatementReady,
		attestation.EventClosingCompleted,
		attestation.EventAuthorityVerified,
		attestation.EventAuthorityRevoked,
		attestation.EventContingenciesResolved,
		attestation.EventContingencyReopened,
	},
	NodeTypeInsurance: {
		attestation.EventBinderIssued,
		attestation.EventBinderRenewed,
		attestation.EventCoverageWithdrawn,
		attestation.EventAuthorityVerified,
		attestation.EventAuthorityRevoked,
	},
}

// AllowedEventTypes returns the protocol-wide allow-list for a peer type.
func AllowedEventTypes(t NodeType) []attestation.FederatedEventType {
	list := protocolAllowLists[t]
	out := make([]attestation.FederatedEventType, len(list))
	copy(out, list)
	return out
}

// EventAllowed reports whether a node may submit the given event type:
// either the peer type's protocol allow-list or the node's individually
// granted set must contain it. Grants widen, never narrow.
func EventAllowed(node FederationNode, ev attestation.FederatedEventType) bool {
	for _, allowed := range protocolAllowLists[node.NodeType] {
		if allowed == ev {
			return true
		}
	}
	for _, granted := range node.GrantedEventTypes {
		if granted == ev {
			return true
		}
	}
	return false
}
