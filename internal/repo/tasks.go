package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tasklane/internal/domain"
)

const taskColumns = `id,folder_id,parent_task_id,workflow_state_id,owner_id,title,description,assignees_json,start_date,end_date,duration,
archived_at,archived_group_id,archived_why,deleted_at,deleted_group_id,delete_reason,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var parent, desc, start, end, archivedAt, archivedGroup, archivedWhy, deletedAt, deletedGroup, deleteReason sql.NullString
	var duration sql.NullInt64
	var assignees string
	err := s.Scan(&t.ID, &t.FolderID, &parent, &t.WorkflowStateID, &t.OwnerID, &t.Title, &desc, &assignees, &start, &end, &duration,
		&archivedAt, &archivedGroup, &archivedWhy, &deletedAt, &deletedGroup, &deleteReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.ParentTaskID = stringPtr(parent)
	t.Description = desc.String
	t.StartDate = stringPtr(start)
	t.EndDate = stringPtr(end)
	t.Duration = intPtr(duration)
	t.ArchivedAt = stringPtr(archivedAt)
	t.ArchivedGroupID = stringPtr(archivedGroup)
	t.ArchivedWhy = stringPtr(archivedWhy)
	t.DeletedAt = stringPtr(deletedAt)
	t.DeletedGroupID = stringPtr(deletedGroup)
	t.DeleteReason = stringPtr(deleteReason)
	if t.Assignees, err = unmarshalStrings(assignees); err != nil {
		return t, fmt.Errorf("task %s assignees: %w", t.ID, err)
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, q DBTX, t domain.Task) error {
	_, err := q.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.FolderID, nullableStringPtr(t.ParentTaskID), t.WorkflowStateID, t.OwnerID, t.Title, nullable(t.Description),
		marshalStrings(t.Assignees), nullableStringPtr(t.StartDate), nullableStringPtr(t.EndDate), nullableIntPtr(t.Duration),
		nullableStringPtr(t.ArchivedAt), nullableStringPtr(t.ArchivedGroupID), nullableStringPtr(t.ArchivedWhy),
		nullableStringPtr(t.DeletedAt), nullableStringPtr(t.DeletedGroupID), nullableStringPtr(t.DeleteReason),
		t.CreatedAt, t.UpdatedAt)
	return err
}

// SetTaskParent records the task's native parent. A nil parent makes it a root.
func (r Repo) SetTaskParent(ctx context.Context, q DBTX, taskID string, parentID *string, updatedAt string) error {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET parent_task_id=?, updated_at=? WHERE id=?`, nullableStringPtr(parentID), updatedAt, taskID)
	if err != nil {
		return fmt.Errorf("set task parent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("task %s", taskID)
	}
	return nil
}

// UpdateTask rewrites every mutable column of the task row.
func (r Repo) UpdateTask(ctx context.Context, q DBTX, t domain.Task) error {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET folder_id=?, parent_task_id=?, workflow_state_id=?, owner_id=?, title=?, description=?,
assignees_json=?, start_date=?, end_date=?, duration=?, archived_at=?, archived_group_id=?, archived_why=?,
deleted_at=?, deleted_group_id=?, delete_reason=?, updated_at=? WHERE id=?`,
		t.FolderID, nullableStringPtr(t.ParentTaskID), t.WorkflowStateID, t.OwnerID, t.Title, nullable(t.Description),
		marshalStrings(t.Assignees), nullableStringPtr(t.StartDate), nullableStringPtr(t.EndDate), nullableIntPtr(t.Duration),
		nullableStringPtr(t.ArchivedAt), nullableStringPtr(t.ArchivedGroupID), nullableStringPtr(t.ArchivedWhy),
		nullableStringPtr(t.DeletedAt), nullableStringPtr(t.DeletedGroupID), nullableStringPtr(t.DeleteReason),
		t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("task %s", t.ID)
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, q DBTX, id string) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return t, domain.NotFoundf("task %s", id)
	}
	return t, err
}

// GetTasks loads the given ids; missing ids are absent from the result.
func (r Repo) GetTasks(ctx context.Context, q DBTX, ids []string) (map[string]domain.Task, error) {
	res := map[string]domain.Task{}
	if len(ids) == 0 {
		return res, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res[t.ID] = t
	}
	return res, rows.Err()
}

// ListTasksInGroup returns tasks carrying the archive or delete group id.
func (r Repo) ListTasksInGroup(ctx context.Context, q DBTX, deleted bool, groupID string) ([]domain.Task, error) {
	col := "archived_group_id"
	if deleted {
		col = "deleted_group_id"
	}
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE `+col+`=? ORDER BY created_at, id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksInState(ctx context.Context, q DBTX, stateID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT
  (SELECT count(*) FROM tasks WHERE workflow_state_id=?) +
  (SELECT count(*) FROM task_relations WHERE workflow_state_id=?)`, stateID, stateID).Scan(&n)
	return n, err
}

func (r Repo) ListFollowers(ctx context.Context, q DBTX, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM task_followers WHERE task_id=? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// AddFollower appends userID to the follower list; re-adding is a no-op.
func (r Repo) AddFollower(ctx context.Context, q DBTX, taskID, userID string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO task_followers(task_id,user_id,position)
VALUES (?,?,(SELECT COALESCE(MAX(position)+1,0) FROM task_followers WHERE task_id=?))`, taskID, userID, taskID)
	return err
}
