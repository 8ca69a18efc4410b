package repo

import (
	"context"
	"database/sql"
	"errors"

	"tasklane/internal/domain"
)

func (r Repo) InsertApprovalRequest(ctx context.Context, q DBTX, req domain.ApprovalRequest) error {
	_, err := q.ExecContext(ctx, `INSERT INTO approval_requests(correlation_id,tenant_id,task_id,folder_id,approval_constraint_id,workflow_state_id,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		req.CorrelationID, req.TenantID, req.TaskID, req.FolderID, req.ApprovalConstraintID, req.WorkflowStateID, req.Status, req.CreatedAt, req.CreatedAt)
	return err
}

func (r Repo) GetApprovalRequest(ctx context.Context, q DBTX, correlationID string) (domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	err := q.QueryRowContext(ctx, `SELECT correlation_id,tenant_id,task_id,folder_id,approval_constraint_id,workflow_state_id,status,created_at
FROM approval_requests WHERE correlation_id=?`, correlationID).
		Scan(&req.CorrelationID, &req.TenantID, &req.TaskID, &req.FolderID, &req.ApprovalConstraintID, &req.WorkflowStateID, &req.Status, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return req, domain.NotFoundf("approval request %s", correlationID)
	}
	return req, err
}

func (r Repo) SetApprovalRequestStatus(ctx context.Context, q DBTX, correlationID, status string) error {
	_, err := q.ExecContext(ctx, `UPDATE approval_requests SET status=?, updated_at=? WHERE correlation_id=?`, status, now(), correlationID)
	return err
}

// InsertApprovalInstance stores the instance; a repeated approval id is ignored
// and reported through the returned bool.
func (r Repo) InsertApprovalInstance(ctx context.Context, q DBTX, inst domain.ApprovalConstraintInstance) (bool, error) {
	active := 0
	if inst.IsActive {
		active = 1
	}
	res, err := q.ExecContext(ctx, `INSERT INTO approval_constraint_instances(id,approval_id,approval_constraint_id,task_id,folder_id,space_id,workflow_state_id,is_active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?) ON CONFLICT(approval_id) DO NOTHING`,
		inst.ID, inst.ApprovalID, inst.ApprovalConstraintID, inst.TaskID, inst.FolderID, inst.SpaceID, inst.WorkflowStateID, active, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeactivateApprovalInstance clears is_active; it reports whether a row changed.
func (r Repo) DeactivateApprovalInstance(ctx context.Context, q DBTX, approvalID string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE approval_constraint_instances SET is_active=0, updated_at=? WHERE approval_id=? AND is_active=1`, now(), approvalID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetApprovalInstance(ctx context.Context, q DBTX, approvalID string) (domain.ApprovalConstraintInstance, error) {
	var inst domain.ApprovalConstraintInstance
	var active int
	err := q.QueryRowContext(ctx, `SELECT id,approval_id,approval_constraint_id,task_id,folder_id,space_id,workflow_state_id,is_active,created_at,updated_at
FROM approval_constraint_instances WHERE approval_id=?`, approvalID).
		Scan(&inst.ID, &inst.ApprovalID, &inst.ApprovalConstraintID, &inst.TaskID, &inst.FolderID, &inst.SpaceID, &inst.WorkflowStateID, &active, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inst, domain.NotFoundf("approval instance %s", approvalID)
	}
	inst.IsActive = active == 1
	return inst, err
}

// ActiveGate returns what holds the task in approval: an active instance, or
// else a request still waiting for the service. Nil means the task is free.
func (r Repo) ActiveGate(ctx context.Context, q DBTX, taskID string) (*domain.ApprovalGate, error) {
	var g domain.ApprovalGate
	err := q.QueryRowContext(ctx, `SELECT task_id,workflow_state_id,approval_constraint_id,approval_id
FROM approval_constraint_instances WHERE task_id=? AND is_active=1`, taskID).
		Scan(&g.TaskID, &g.WorkflowStateID, &g.ApprovalConstraintID, &g.ApprovalID)
	if err == nil {
		return &g, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	err = q.QueryRowContext(ctx, `SELECT task_id,workflow_state_id,approval_constraint_id,correlation_id
FROM approval_requests WHERE task_id=? AND status=?`, taskID, domain.ApprovalRequestPending).
		Scan(&g.TaskID, &g.WorkflowStateID, &g.ApprovalConstraintID, &g.CorrelationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g.Pending = true
	return &g, nil
}
