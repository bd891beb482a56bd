// Package policy is the safety gate in front of every stage transition and
// privileged action. Evaluation is fail-closed: any ambiguity about
// approval resolves to a denial, never a silent allow.
package policy

import (
	"strings"

	"autonomyd/internal/config"
	"autonomyd/internal/types"
)

// Approval levels reported in a decision.
const (
	ApprovalNone     = "none"
	ApprovalOperator = "operator"
)

// Request describes one action to evaluate.
type Request struct {
	Action         string
	ExecutionClass types.ExecutionClass
	Config         config.PolicyConfig
	Approved       bool // a live operator approval covers this action
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Allowed        bool                 `json:"allowed"`
	Reason         string               `json:"reason"`
	ApprovalLevel  string               `json:"approvalLevel"`
	PolicyVersion  int                  `json:"policyVersion"`
	ExecutionClass types.ExecutionClass `json:"executionClass"`
}

// Evaluate applies the rule chain, first match wins:
//  1. explicit deny list
//  2. explicit allow list, read-only actions only
//  3. destructive actions need approval when configured
//  4. reversible writes need approval when configured
//  5. default allow
func Evaluate(req Request) Decision {
	action := strings.TrimSpace(req.Action)
	d := Decision{
		ApprovalLevel:  ApprovalNone,
		PolicyVersion:  req.Config.PolicyVersion,
		ExecutionClass: req.ExecutionClass,
	}

	if containsAction(req.Config.DenyActions, action) {
		d.Reason = "action is explicitly denied by policy"
		return d
	}
	if containsAction(req.Config.AllowActions, action) && req.ExecutionClass == types.ClassReadOnly {
		d.Allowed = true
		d.Reason = "action is explicitly allowed by policy"
		return d
	}
	if req.ExecutionClass == types.ClassDestructive && req.Config.DestructiveRequiresApproval {
		d.ApprovalLevel = ApprovalOperator
		if !req.Approved {
			d.Reason = "destructive action requires operator approval"
			return d
		}
		d.Allowed = true
		d.Reason = "destructive action approved by operator"
		return d
	}
	if req.ExecutionClass == types.ClassReversibleWrite && req.Config.ReversibleWritesRequireApproval {
		d.ApprovalLevel = ApprovalOperator
		if !req.Approved {
			d.Reason = "reversible write requires operator approval"
			return d
		}
		d.Allowed = true
		d.Reason = "reversible write approved by operator"
		return d
	}

	d.Allowed = true
	d.Reason = "allowed by default policy"
	return d
}

func containsAction(list []string, action string) bool {
	for _, a := range list {
		if strings.EqualFold(strings.TrimSpace(a), action) {
			return true
		}
	}
	return false
}

// =============================================================================
// OPERATOR APPROVALS
// =============================================================================

// Grant records an operator approval for one action with an expiry.
func Grant(state *types.AgentState, action, source string, nowMs, ttlMs int64) types.Approval {
	if state.Approvals == nil {
		state.Approvals = make(map[string]types.Approval)
	}
	a := types.Approval{
		Action:     strings.TrimSpace(action),
		ApprovedAt: nowMs,
		ExpiresAt:  nowMs + ttlMs,
		Source:     source,
	}
	state.Approvals[a.Action] = a
	return a
}

// Consume reports whether a live approval covers the action and removes it.
// Approvals are single-use; expired entries are discarded on contact.
func Consume(state *types.AgentState, action string, nowMs int64) bool {
	a, ok := state.Approvals[action]
	if !ok {
		return false
	}
	delete(state.Approvals, action)
	return a.ExpiresAt > nowMs
}

// PruneExpired drops approvals past their expiry.
func PruneExpired(state *types.AgentState, nowMs int64) {
	for action, a := range state.Approvals {
		if a.ExpiresAt <= nowMs {
			delete(state.Approvals, action)
		}
	}
}
