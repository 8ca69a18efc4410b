package constraint

import (
	"tasklane/internal/domain"
)

// StatePatch is one state of a workflow edit, in its new order. A patch
// without ID adds a state. A known ID with Updated=false only moves the state.
type StatePatch struct {
	ID                 string
	Code               string
	SystemStageID      *string
	Constraints        []domain.StateConstraint
	ApprovalConstraint *domain.ApprovalConstraint
	Updated            bool
}

// IndexChange moves an existing state without touching its definition.
type IndexChange struct {
	ID    string
	Index int
}

// Plan is the precise diff between a workflow and an edit.
type Plan struct {
	Insert  []domain.WorkflowState
	Reindex []IndexChange
	Replace []domain.WorkflowState
	Remove  []domain.WorkflowState
	// Result is the workflow's states after the plan is applied.
	Result []domain.WorkflowState
}

// PlanWorkflowUpdate diffs existing against patches. States missing from
// patches are removed. newID names inserted states and approval constraints.
func PlanWorkflowUpdate(workflowID string, existing []domain.WorkflowState, patches []StatePatch, newID func() string) (Plan, error) {
	var plan Plan
	if len(patches) == 0 {
		return plan, domain.BadRequestf("workflow needs at least one state")
	}
	byID := make(map[string]domain.WorkflowState, len(existing))
	for _, st := range existing {
		byID[st.ID] = st
	}
	kept := map[string]bool{}
	for i, p := range patches {
		if p.ID == "" {
			if p.Code == "" {
				return plan, domain.BadRequestf("state %d needs a code", i)
			}
			st := stateFromPatch(workflowID, i, p, newID)
			st.ID = newID()
			if st.ApprovalConstraint != nil {
				st.ApprovalConstraint.WorkflowStateID = st.ID
			}
			plan.Insert = append(plan.Insert, st)
			plan.Result = append(plan.Result, st)
			continue
		}
		cur, ok := byID[p.ID]
		if !ok {
			return plan, domain.BadRequestf("state %s does not belong to workflow %s", p.ID, workflowID)
		}
		if kept[p.ID] {
			return plan, domain.BadRequestf("state %s listed twice", p.ID)
		}
		kept[p.ID] = true
		if !p.Updated {
			if cur.Index != i {
				plan.Reindex = append(plan.Reindex, IndexChange{ID: cur.ID, Index: i})
			}
			cur.Index = i
			plan.Result = append(plan.Result, cur)
			continue
		}
		if p.Code == "" {
			p.Code = cur.Code
		}
		if p.ApprovalConstraint != nil && p.ApprovalConstraint.ID == "" && cur.ApprovalConstraint != nil {
			ac := *p.ApprovalConstraint
			ac.ID = cur.ApprovalConstraint.ID
			p.ApprovalConstraint = &ac
		}
		st := stateFromPatch(workflowID, i, p, newID)
		st.ID = cur.ID
		if st.ApprovalConstraint != nil {
			st.ApprovalConstraint.WorkflowStateID = cur.ID
		}
		plan.Replace = append(plan.Replace, st)
		plan.Result = append(plan.Result, st)
	}
	for _, st := range existing {
		if !kept[st.ID] {
			plan.Remove = append(plan.Remove, st)
		}
	}
	codes := map[string]bool{}
	for _, st := range plan.Result {
		if codes[st.Code] {
			return plan, domain.BadRequestf("state code %s used twice", st.Code)
		}
		codes[st.Code] = true
	}
	for _, st := range plan.Result {
		ac := st.ApprovalConstraint
		if ac == nil {
			continue
		}
		if !codes[ac.AcceptState] || !codes[ac.RejectState] {
			return plan, domain.BadRequestf("state %s approval references unknown accept/reject state", st.Code)
		}
	}
	return plan, nil
}

func stateFromPatch(workflowID string, idx int, p StatePatch, newID func() string) domain.WorkflowState {
	st := domain.WorkflowState{
		WorkflowID:    workflowID,
		Code:          p.Code,
		Index:         idx,
		SystemStageID: p.SystemStageID,
		Constraints:   p.Constraints,
	}
	if st.Constraints == nil {
		st.Constraints = []domain.StateConstraint{}
	}
	if p.ApprovalConstraint != nil {
		ac := *p.ApprovalConstraint
		if ac.ID == "" {
			ac.ID = newID()
		}
		if ac.RequiredApprovals <= 0 {
			ac.RequiredApprovals = 1
		}
		st.ApprovalConstraint = &ac
	}
	return st
}
