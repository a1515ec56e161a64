// Package contracts defines the shared governance types: clearance levels,
// action kinds and their fixed clearance partition, agent and approver
// identities, action and approval requests, audit entries, events, and the
// governance configuration.
//
// These are wire types. JSON field names are part of the audit export
// contract and must not change without bumping the export format version.
package contracts

import "sort"

// ClearanceLevel is a totally ordered rank attached to both agents and
// action kinds. Comparison is by Rank(), never by string value.
type ClearanceLevel string

const (
	ClearanceL0 ClearanceLevel = "L0"
	ClearanceL1 ClearanceLevel = "L1"
	ClearanceL2 ClearanceLevel = "L2"
)

// Rank returns the numeric position of the level. Unknown levels rank
// below L0 so they never satisfy any requirement.
func (c ClearanceLevel) Rank() int {
	switch c {
	case ClearanceL0:
		return 0
	case ClearanceL1:
		return 1
	case ClearanceL2:
		return 2
	default:
		return -1
	}
}

// AtLeast reports whether c satisfies the required level.
func (c ClearanceLevel) AtLeast(required ClearanceLevel) bool {
	return c.Rank() >= required.Rank()
}

// ActionKind is a member of the closed action enumeration. Every kind is
// bound to a required clearance in requiredClearance below; the pairing is
// fixed at build time and checked exhaustively by TestClearancePartition.
type ActionKind string

const (
	// L0 — read-only surface.
	ActionReadPublic    ActionKind = "read-public"
	ActionQueryStatus   ActionKind = "query-status"
	ActionListResources ActionKind = "list-resources"

	// L1 — mutating but reversible.
	ActionModifyConfig   ActionKind = "modify-config"
	ActionDeployService  ActionKind = "deploy-service"
	ActionManageSecrets  ActionKind = "manage-secrets"
	ActionExecuteCommand ActionKind = "execute-command"

	// L2 — destructive or irreversible; always human-gated.
	ActionDestroyResource    ActionKind = "destroy-resource"
	ActionModifyProduction   ActionKind = "modify-production"
	ActionTransferFunds      ActionKind = "transfer-funds"
	ActionDeleteAuditLog     ActionKind = "delete-audit-log"
	ActionEscalatePrivileges ActionKind = "escalate-privileges"
	ActionExecuteArbitrary   ActionKind = "execute-arbitrary"
)

var requiredClearance = map[ActionKind]ClearanceLevel{
	ActionReadPublic:    ClearanceL0,
	ActionQueryStatus:   ClearanceL0,
	ActionListResources: ClearanceL0,

	ActionModifyConfig:   ClearanceL1,
	ActionDeployService:  ClearanceL1,
	ActionManageSecrets:  ClearanceL1,
	ActionExecuteCommand: ClearanceL1,

	ActionDestroyResource:    ClearanceL2,
	ActionModifyProduction:   ClearanceL2,
	ActionTransferFunds:      ClearanceL2,
	ActionDeleteAuditLog:     ClearanceL2,
	ActionEscalatePrivileges: ClearanceL2,
	ActionExecuteArbitrary:   ClearanceL2,
}

// RequiredClearance returns the clearance bound to kind. The second return
// is false for kinds outside the enumeration; callers must treat that as a
// hard rejection, not a default.
func RequiredClearance(kind ActionKind) (ClearanceLevel, bool) {
	lvl, ok := requiredClearance[kind]
	return lvl, ok
}

// KnownActionKinds returns every bound action kind in lexical order.
func KnownActionKinds() []ActionKind {
	kinds := make([]ActionKind, 0, len(requiredClearance))
	for k := range requiredClearance {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
