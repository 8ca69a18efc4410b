// Package constraint decides whether a task may enter a workflow state.
// It performs no I/O; callers load the task's state and approval gate in the
// same transaction that applies the decision.
package constraint

import (
	"slices"

	"tasklane/internal/app"
	"tasklane/internal/domain"
)

// Subject is the task side of a state-entry check.
type Subject struct {
	// Current is the state the task occupies. Nil when the task is being created.
	Current *domain.WorkflowState
	// Gate is the approval holding the task, if any.
	Gate *domain.ApprovalGate
	// GateConstraint is the approval constraint behind Gate.
	GateConstraint *domain.ApprovalConstraint
}

// Decision is the outcome of CanEnterState.
type Decision struct {
	Allowed bool
	Reason  string
	// RequestApproval is set when entering the state must enrol the task in
	// the state's approval constraint.
	RequestApproval bool
}

// Err converts a denial into the error returned to callers.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return domain.ConstraintError{Reason: d.Reason}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// CanEnterState evaluates swimlane constraints, then an existing approval
// gate, then whether the target state starts a new approval.
func CanEnterState(s Subject, target domain.WorkflowState, rc app.RequestContext) Decision {
	creating := s.Current == nil
	if !creating && s.Current.ID == target.ID {
		return Decision{Allowed: true}
	}
	if len(target.Constraints) > 0 {
		from := target.Code
		if !creating {
			from = s.Current.Code
		}
		if !swimlaneAllows(target.Constraints, from, rc) {
			if creating {
				return deny(domain.ReasonSwimlaneCreate)
			}
			return deny(domain.ReasonSwimlaneMove)
		}
	}
	if s.Gate != nil {
		if !gateAllows(s.Gate, s.GateConstraint, target) {
			return deny(domain.ReasonInApproval)
		}
		return Decision{Allowed: true}
	}
	return Decision{Allowed: true, RequestApproval: target.ApprovalConstraint != nil}
}

// swimlaneAllows: constraints list the source swimlanes that only the listed
// users or roles may come from.
func swimlaneAllows(constraints []domain.StateConstraint, from string, rc app.RequestContext) bool {
	listed := false
	for _, c := range constraints {
		if slices.Contains(c.UserConstraint, rc.UserID) {
			return true
		}
		for _, role := range c.RoleConstraint {
			if rc.HasRole(role) {
				return true
			}
		}
		if slices.Contains(c.SwimlaneConstraint, from) {
			listed = true
		}
	}
	return !listed
}

// gateAllows lets a gated task stay in the gated state or go to the
// constraint's accept or reject state.
func gateAllows(g *domain.ApprovalGate, ac *domain.ApprovalConstraint, target domain.WorkflowState) bool {
	if target.ID == g.WorkflowStateID {
		return true
	}
	if ac == nil {
		return false
	}
	return target.Code == ac.AcceptState || target.Code == ac.RejectState
}
