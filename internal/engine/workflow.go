package engine

import (
	"context"

	"github.com/google/uuid"

	"tasklane/internal/app"
	"tasklane/internal/domain"
	"tasklane/internal/engine/constraint"
	"tasklane/internal/events"
)

func (e Engine) GetWorkflow(ctx context.Context, rc app.RequestContext, id string) (domain.Workflow, error) {
	if err := rc.Validate(); err != nil {
		return domain.Workflow{}, err
	}
	return e.Access.Workflow(ctx, e.DB, rc, id)
}

// UpdateWorkflow applies a partial edit: states not marked updated keep their
// definition and only move, states left out are removed. A removed state must
// hold no tasks.
func (e Engine) UpdateWorkflow(ctx context.Context, rc app.RequestContext, id string, patches []constraint.StatePatch) (domain.Workflow, error) {
	if err := rc.Validate(); err != nil {
		return domain.Workflow{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workflow{}, err
	}
	defer tx.Rollback()

	wf, err := e.Access.Workflow(ctx, tx, rc, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	plan, err := constraint.PlanWorkflowUpdate(wf.ID, wf.States, patches, uuid.NewString)
	if err != nil {
		return domain.Workflow{}, err
	}
	for _, st := range plan.Remove {
		n, err := e.Repo.CountTasksInState(ctx, tx, st.ID)
		if err != nil {
			return domain.Workflow{}, err
		}
		if n > 0 {
			return domain.Workflow{}, domain.BadRequestf("state %s still holds tasks", st.Code)
		}
		if err := e.Repo.DeleteState(ctx, tx, st.ID); err != nil {
			return domain.Workflow{}, err
		}
	}
	// Codes are unique per workflow; park replaced states on their id so
	// renames can swap codes.
	for _, st := range plan.Replace {
		parked := st
		parked.Code = st.ID
		if err := e.Repo.UpdateState(ctx, tx, parked); err != nil {
			return domain.Workflow{}, err
		}
	}
	for _, st := range plan.Replace {
		if err := e.Repo.UpdateState(ctx, tx, st); err != nil {
			return domain.Workflow{}, err
		}
	}
	for _, ch := range plan.Reindex {
		if err := e.Repo.UpdateStateIndex(ctx, tx, ch.ID, ch.Index); err != nil {
			return domain.Workflow{}, err
		}
	}
	for _, st := range plan.Insert {
		if err := e.Repo.InsertState(ctx, tx, st); err != nil {
			return domain.Workflow{}, err
		}
	}
	ids := func(states []domain.WorkflowState) []string {
		out := []string{}
		for _, st := range states {
			out = append(out, st.ID)
		}
		return out
	}
	reindexed := []string{}
	for _, ch := range plan.Reindex {
		reindexed = append(reindexed, ch.ID)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionWorkflowUpdate, TenantID: rc.TenantID, UserID: rc.UserID,
		Payload: events.Payload{
			"workflowId": wf.ID, "inserted": ids(plan.Insert), "replaced": ids(plan.Replace),
			"removed": ids(plan.Remove), "reindexed": reindexed,
		},
	}); err != nil {
		return domain.Workflow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workflow{}, err
	}
	return e.Repo.GetWorkflow(ctx, e.DB, wf.ID)
}
