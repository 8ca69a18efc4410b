package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tasklane/internal/domain"
)

func (r Repo) InsertWorkflow(ctx context.Context, q DBTX, wf domain.Workflow) error {
	_, err := q.ExecContext(ctx, `INSERT INTO workflows(id,tenant_id,name,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, wf.ID, wf.TenantID, wf.Name, now())
	return err
}

// GetWorkflow loads the workflow with its states ordered by index.
func (r Repo) GetWorkflow(ctx context.Context, q DBTX, id string) (domain.Workflow, error) {
	var wf domain.Workflow
	err := q.QueryRowContext(ctx, `SELECT id,tenant_id,name FROM workflows WHERE id=?`, id).Scan(&wf.ID, &wf.TenantID, &wf.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return wf, domain.NotFoundf("workflow %s", id)
	}
	if err != nil {
		return wf, err
	}
	wf.States, err = r.ListStates(ctx, q, id)
	return wf, err
}

const stateColumns = `s.id,s.workflow_id,s.code,s.idx,s.system_stage_id,s.constraints_json,
ac.id,ac.accept_state,ac.reject_state,ac.user_ids_json,ac.authorized_user_ids_json,ac.required_approvals,ac.due_in,ac.due_in_type`

func scanState(s scanner) (domain.WorkflowState, error) {
	var st domain.WorkflowState
	var stage sql.NullString
	var constraints string
	var acID, accept, reject, users, authorized, dueInType sql.NullString
	var required, dueIn sql.NullInt64
	err := s.Scan(&st.ID, &st.WorkflowID, &st.Code, &st.Index, &stage, &constraints,
		&acID, &accept, &reject, &users, &authorized, &required, &dueIn, &dueInType)
	if err != nil {
		return st, err
	}
	st.SystemStageID = stringPtr(stage)
	st.Constraints = []domain.StateConstraint{}
	if constraints != "" {
		if err := json.Unmarshal([]byte(constraints), &st.Constraints); err != nil {
			return st, fmt.Errorf("state %s constraints: %w", st.ID, err)
		}
	}
	if acID.Valid {
		ac := &domain.ApprovalConstraint{
			ID:                acID.String,
			WorkflowStateID:   st.ID,
			AcceptState:       accept.String,
			RejectState:       reject.String,
			RequiredApprovals: int(required.Int64),
			DueIn:             intPtr(dueIn),
			DueInType:         stringPtr(dueInType),
		}
		if ac.UserIDs, err = unmarshalStrings(users.String); err != nil {
			return st, err
		}
		if ac.AuthorizedUserIDs, err = unmarshalStrings(authorized.String); err != nil {
			return st, err
		}
		st.ApprovalConstraint = ac
	}
	return st, nil
}

func (r Repo) ListStates(ctx context.Context, q DBTX, workflowID string) ([]domain.WorkflowState, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+stateColumns+` FROM workflow_states s
LEFT JOIN approval_constraints ac ON ac.workflow_state_id=s.id
WHERE s.workflow_id=? ORDER BY s.idx, s.id`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

func (r Repo) GetState(ctx context.Context, q DBTX, id string) (domain.WorkflowState, error) {
	st, err := scanState(q.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM workflow_states s
LEFT JOIN approval_constraints ac ON ac.workflow_state_id=s.id WHERE s.id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return st, domain.NotFoundf("workflow state %s", id)
	}
	return st, err
}

func (r Repo) GetApprovalConstraint(ctx context.Context, q DBTX, id string) (domain.ApprovalConstraint, error) {
	var ac domain.ApprovalConstraint
	var users, authorized string
	var dueIn sql.NullInt64
	var dueInType sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,workflow_state_id,accept_state,reject_state,user_ids_json,authorized_user_ids_json,required_approvals,due_in,due_in_type
FROM approval_constraints WHERE id=?`, id).
		Scan(&ac.ID, &ac.WorkflowStateID, &ac.AcceptState, &ac.RejectState, &users, &authorized, &ac.RequiredApprovals, &dueIn, &dueInType)
	if errors.Is(err, sql.ErrNoRows) {
		return ac, domain.NotFoundf("approval constraint %s", id)
	}
	if err != nil {
		return ac, err
	}
	ac.DueIn = intPtr(dueIn)
	ac.DueInType = stringPtr(dueInType)
	if ac.UserIDs, err = unmarshalStrings(users); err != nil {
		return ac, err
	}
	ac.AuthorizedUserIDs, err = unmarshalStrings(authorized)
	return ac, err
}

func (r Repo) InsertState(ctx context.Context, q DBTX, st domain.WorkflowState) error {
	constraints, err := marshalConstraints(st.Constraints)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO workflow_states(id,workflow_id,code,idx,system_stage_id,constraints_json) VALUES (?,?,?,?,?,?)`,
		st.ID, st.WorkflowID, st.Code, st.Index, nullableStringPtr(st.SystemStageID), constraints)
	if err != nil {
		return err
	}
	return r.PutApprovalConstraint(ctx, q, st.ID, st.ApprovalConstraint)
}

// UpdateStateIndex moves a state without touching its definition.
func (r Repo) UpdateStateIndex(ctx context.Context, q DBTX, id string, idx int) error {
	_, err := q.ExecContext(ctx, `UPDATE workflow_states SET idx=? WHERE id=?`, idx, id)
	return err
}

// UpdateState rewrites the state's definition, including its approval constraint.
func (r Repo) UpdateState(ctx context.Context, q DBTX, st domain.WorkflowState) error {
	constraints, err := marshalConstraints(st.Constraints)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE workflow_states SET code=?, idx=?, system_stage_id=?, constraints_json=? WHERE id=?`,
		st.Code, st.Index, nullableStringPtr(st.SystemStageID), constraints, st.ID)
	if err != nil {
		return err
	}
	return r.PutApprovalConstraint(ctx, q, st.ID, st.ApprovalConstraint)
}

func (r Repo) DeleteState(ctx context.Context, q DBTX, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM workflow_states WHERE id=?`, id)
	return err
}

// PutApprovalConstraint replaces the state's approval constraint; nil removes it.
func (r Repo) PutApprovalConstraint(ctx context.Context, q DBTX, stateID string, ac *domain.ApprovalConstraint) error {
	if ac == nil {
		_, err := q.ExecContext(ctx, `DELETE FROM approval_constraints WHERE workflow_state_id=?`, stateID)
		return err
	}
	_, err := q.ExecContext(ctx, `INSERT INTO approval_constraints(id,workflow_state_id,accept_state,reject_state,user_ids_json,authorized_user_ids_json,required_approvals,due_in,due_in_type)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(workflow_state_id) DO UPDATE SET id=excluded.id, accept_state=excluded.accept_state, reject_state=excluded.reject_state,
  user_ids_json=excluded.user_ids_json, authorized_user_ids_json=excluded.authorized_user_ids_json,
  required_approvals=excluded.required_approvals, due_in=excluded.due_in, due_in_type=excluded.due_in_type`,
		ac.ID, stateID, ac.AcceptState, ac.RejectState, marshalStrings(ac.UserIDs), marshalStrings(ac.AuthorizedUserIDs),
		ac.RequiredApprovals, nullableIntPtr(ac.DueIn), nullableStringPtr(ac.DueInType))
	return err
}

func marshalConstraints(in []domain.StateConstraint) (string, error) {
	if in == nil {
		in = []domain.StateConstraint{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal constraints: %w", err)
	}
	return string(b), nil
}
