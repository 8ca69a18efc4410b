package repo

import (
	"context"
	"database/sql"
	"errors"

	"tasklane/internal/domain"
)

// Scope identifies one ordered position list.
type Scope struct {
	FolderID        string
	WorkflowStateID string
	View            string
}

// ListScope returns the scope's rows ordered by stored index. Gaps are kept.
func (r Repo) ListScope(ctx context.Context, q DBTX, s Scope) ([]domain.TaskPosition, error) {
	return r.scope(ctx, q, `SELECT p.folder_id,p.workflow_state_id,p.view,p.task_relation_id,tr.child_task_id,p.idx
FROM task_positions p JOIN task_relations tr ON tr.id=p.task_relation_id
WHERE p.folder_id=? AND p.workflow_state_id=? AND p.view=?
ORDER BY p.idx, p.task_relation_id`, s)
}

// ListActiveScope is ListScope without the rows of archived or deleted tasks.
func (r Repo) ListActiveScope(ctx context.Context, q DBTX, s Scope) ([]domain.TaskPosition, error) {
	return r.scope(ctx, q, `SELECT p.folder_id,p.workflow_state_id,p.view,p.task_relation_id,tr.child_task_id,p.idx
FROM task_positions p JOIN task_relations tr ON tr.id=p.task_relation_id
JOIN tasks t ON t.id=tr.child_task_id
WHERE p.folder_id=? AND p.workflow_state_id=? AND p.view=? AND t.archived_at IS NULL AND t.deleted_at IS NULL
ORDER BY p.idx, p.task_relation_id`, s)
}

func (r Repo) scope(ctx context.Context, q DBTX, query string, s Scope) ([]domain.TaskPosition, error) {
	rows, err := q.QueryContext(ctx, query, s.FolderID, s.WorkflowStateID, s.View)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskPosition
	for rows.Next() {
		var p domain.TaskPosition
		if err := rows.Scan(&p.FolderID, &p.WorkflowStateID, &p.View, &p.TaskRelationID, &p.TaskID, &p.Index); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) GetPosition(ctx context.Context, q DBTX, relationID, view string) (domain.TaskPosition, error) {
	var p domain.TaskPosition
	err := q.QueryRowContext(ctx, `SELECT p.folder_id,p.workflow_state_id,p.view,p.task_relation_id,tr.child_task_id,p.idx
FROM task_positions p JOIN task_relations tr ON tr.id=p.task_relation_id
WHERE p.task_relation_id=? AND p.view=?`, relationID, view).
		Scan(&p.FolderID, &p.WorkflowStateID, &p.View, &p.TaskRelationID, &p.TaskID, &p.Index)
	if errors.Is(err, sql.ErrNoRows) {
		return p, domain.NotFoundf("position of relation %s in view %s", relationID, view)
	}
	return p, err
}

// PutPosition inserts or replaces the relation's row for p.View.
func (r Repo) PutPosition(ctx context.Context, q DBTX, p domain.TaskPosition) error {
	_, err := q.ExecContext(ctx, `INSERT INTO task_positions(folder_id,workflow_state_id,view,task_relation_id,idx) VALUES (?,?,?,?,?)
ON CONFLICT(task_relation_id, view) DO UPDATE SET folder_id=excluded.folder_id, workflow_state_id=excluded.workflow_state_id, idx=excluded.idx`,
		p.FolderID, p.WorkflowStateID, p.View, p.TaskRelationID, p.Index)
	return err
}

func (r Repo) DeletePosition(ctx context.Context, q DBTX, relationID, view string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM task_positions WHERE task_relation_id=? AND view=?`, relationID, view)
	return err
}

func (r Repo) DeleteRelationPositions(ctx context.Context, q DBTX, relationID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM task_positions WHERE task_relation_id=?`, relationID)
	return err
}
