package constraint_test

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasklane/internal/app"
	"tasklane/internal/domain"
	"tasklane/internal/engine/constraint"
)

var (
	todo   = domain.WorkflowState{ID: "s-todo", Code: "todo", Index: 0}
	review = domain.WorkflowState{ID: "s-review", Code: "review", Index: 1, ApprovalConstraint: &domain.ApprovalConstraint{
		ID: "ac-review", WorkflowStateID: "s-review", AcceptState: "done", RejectState: "todo", UserIDs: []string{"u2"}, RequiredApprovals: 1,
	}}
	done = domain.WorkflowState{ID: "s-done", Code: "done", Index: 2, Constraints: []domain.StateConstraint{
		{SwimlaneConstraint: []string{"todo"}, UserConstraint: []string{"u1"}, RoleConstraint: []string{"lead"}},
	}}
	blocked = domain.WorkflowState{ID: "s-blocked", Code: "blocked", Index: 3}
)

func TestCanEnterState(t *testing.T) {
	u1 := app.RequestContext{TenantID: "t1", UserID: "u1"}
	u3 := app.RequestContext{TenantID: "t1", UserID: "u3"}
	lead := app.RequestContext{TenantID: "t1", UserID: "u3", Roles: []string{"lead"}}
	gate := &domain.ApprovalGate{TaskID: "a", WorkflowStateID: "s-review", ApprovalConstraintID: "ac-review", ApprovalID: "ap-1"}

	cases := []struct {
		name    string
		subject constraint.Subject
		target  domain.WorkflowState
		rc      app.RequestContext
		allowed bool
		reason  string
		approve bool
	}{
		{name: "create unconstrained", target: todo, rc: u3, allowed: true},
		{name: "create listed user", target: done, rc: u1, allowed: true},
		{name: "create unlisted user", target: done, rc: u3, reason: domain.ReasonSwimlaneCreate},
		{name: "create with role", target: done, rc: lead, allowed: true},
		{name: "move from forbidden lane", subject: constraint.Subject{Current: &todo}, target: done, rc: u3, reason: domain.ReasonSwimlaneMove},
		{name: "move from other lane", subject: constraint.Subject{Current: &blocked}, target: done, rc: u3, allowed: true},
		{name: "enter approval state", subject: constraint.Subject{Current: &todo}, target: review, rc: u3, allowed: true, approve: true},
		{name: "create in approval state", target: review, rc: u3, allowed: true, approve: true},
		{name: "gated leaves to other", subject: constraint.Subject{Current: &review, Gate: gate, GateConstraint: review.ApprovalConstraint}, target: blocked, rc: u1, reason: domain.ReasonInApproval},
		{name: "gated to accept", subject: constraint.Subject{Current: &review, Gate: gate, GateConstraint: review.ApprovalConstraint}, target: done, rc: u1, allowed: true},
		{name: "gated to reject", subject: constraint.Subject{Current: &review, Gate: gate, GateConstraint: review.ApprovalConstraint}, target: todo, rc: u3, allowed: true},
		{name: "pending gate blocks", subject: constraint.Subject{Current: &review, Gate: &domain.ApprovalGate{WorkflowStateID: "s-review", Pending: true}, GateConstraint: review.ApprovalConstraint}, target: blocked, rc: u1, reason: domain.ReasonInApproval},
		{name: "same state is a no-op", subject: constraint.Subject{Current: &todo, Gate: gate}, target: todo, rc: u3, allowed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := constraint.CanEnterState(tc.subject, tc.target, tc.rc)
			assert.Equal(t, tc.allowed, d.Allowed)
			assert.Equal(t, tc.reason, d.Reason)
			assert.Equal(t, tc.approve, d.RequestApproval)
			if !tc.allowed {
				var ce domain.ConstraintError
				require.ErrorAs(t, d.Err(), &ce)
			}
		})
	}
}

func sequence() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("new-%d", n)
	}
}

func TestPlanWorkflowUpdatePreservesUnchangedStates(t *testing.T) {
	existing := []domain.WorkflowState{todo, review, done, blocked}
	stage := "closed"
	patches := []constraint.StatePatch{
		{ID: "s-review", Code: "ignored", Constraints: []domain.StateConstraint{{UserConstraint: []string{"zz"}}}},
		{ID: "s-todo"},
		{Code: "qa"},
		{ID: "s-done", Code: "done", SystemStageID: &stage, Updated: true},
	}
	plan, err := constraint.PlanWorkflowUpdate("wf1", existing, patches, sequence())
	require.NoError(t, err)

	assert.Equal(t, []constraint.IndexChange{{ID: "s-review", Index: 0}, {ID: "s-todo", Index: 1}}, plan.Reindex)
	require.Len(t, plan.Insert, 1)
	assert.Equal(t, "new-1", plan.Insert[0].ID)
	assert.Equal(t, 2, plan.Insert[0].Index)
	require.Len(t, plan.Replace, 1)
	assert.Equal(t, 3, plan.Replace[0].Index)
	assert.Equal(t, "closed", *plan.Replace[0].SystemStageID)
	assert.Empty(t, plan.Replace[0].Constraints, "updated state takes the payload's constraints")
	require.Len(t, plan.Remove, 1)
	assert.Equal(t, "s-blocked", plan.Remove[0].ID)

	r := plan.Result[0]
	if diff := cmp.Diff(review.ApprovalConstraint, r.ApprovalConstraint); diff != "" {
		t.Fatalf("unchanged state lost its approval (-want +got):\n%s", diff)
	}
	assert.Equal(t, "review", r.Code)
	assert.Empty(t, r.Constraints)
}

func TestPlanWorkflowUpdateValidates(t *testing.T) {
	existing := []domain.WorkflowState{todo, review, done}
	cases := []struct {
		name    string
		patches []constraint.StatePatch
	}{
		{"empty", nil},
		{"unknown id", []constraint.StatePatch{{ID: "nope"}}},
		{"duplicate code", []constraint.StatePatch{{ID: "s-todo"}, {Code: "todo"}}},
		{"approval to removed state", []constraint.StatePatch{{ID: "s-todo"}, {ID: "s-review"}}},
		{"listed twice", []constraint.StatePatch{{ID: "s-todo"}, {ID: "s-todo"}}},
		{"new without code", []constraint.StatePatch{{ID: "s-todo"}, {}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := constraint.PlanWorkflowUpdate("wf1", existing, tc.patches, sequence())
			var bad domain.BadRequestError
			require.ErrorAs(t, err, &bad)
		})
	}
}
