package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tasklane/internal/domain"
)

const relationColumns = `id,folder_id,parent_task_id,child_task_id,workflow_state_id,path_ids_json,shared,created_at`

func scanRelation(s scanner) (domain.TaskRelation, error) {
	var rel domain.TaskRelation
	var parent sql.NullString
	var path string
	var shared int
	if err := s.Scan(&rel.ID, &rel.FolderID, &parent, &rel.ChildTaskID, &rel.WorkflowStateID, &path, &shared, &rel.CreatedAt); err != nil {
		return rel, err
	}
	rel.ParentTaskID = stringPtr(parent)
	rel.Shared = shared == 1
	var err error
	if rel.PathIDs, err = unmarshalStrings(path); err != nil {
		return rel, fmt.Errorf("relation %s path: %w", rel.ID, err)
	}
	return rel, nil
}

func (r Repo) InsertRelation(ctx context.Context, q DBTX, rel domain.TaskRelation) error {
	shared := 0
	if rel.Shared {
		shared = 1
	}
	_, err := q.ExecContext(ctx, `INSERT INTO task_relations(`+relationColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		rel.ID, rel.FolderID, nullableStringPtr(rel.ParentTaskID), rel.ChildTaskID, rel.WorkflowStateID,
		marshalStrings(rel.PathIDs), shared, rel.CreatedAt)
	return err
}

// UpdateRelation persists parent, state, path and folder of an existing relation.
func (r Repo) UpdateRelation(ctx context.Context, q DBTX, rel domain.TaskRelation) error {
	res, err := q.ExecContext(ctx, `UPDATE task_relations SET folder_id=?, parent_task_id=?, workflow_state_id=?, path_ids_json=? WHERE id=?`,
		rel.FolderID, nullableStringPtr(rel.ParentTaskID), rel.WorkflowStateID, marshalStrings(rel.PathIDs), rel.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundf("relation %s", rel.ID)
	}
	return nil
}

// DeleteRelation removes the relation; its positions go with it through the
// foreign key cascade.
func (r Repo) DeleteRelation(ctx context.Context, q DBTX, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM task_relations WHERE id=?`, id)
	return err
}

// GetRelation returns the anchor of taskID in folderID.
func (r Repo) GetRelation(ctx context.Context, q DBTX, folderID, taskID string) (domain.TaskRelation, error) {
	rel, err := scanRelation(q.QueryRowContext(ctx, `SELECT `+relationColumns+` FROM task_relations WHERE folder_id=? AND child_task_id=?`, folderID, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return rel, domain.NotFoundf("task %s in folder %s", taskID, folderID)
	}
	return rel, err
}

func (r Repo) ListFolderRelations(ctx context.Context, q DBTX, folderID string) ([]domain.TaskRelation, error) {
	return r.listRelations(ctx, q, `SELECT `+relationColumns+` FROM task_relations WHERE folder_id=? ORDER BY created_at, rowid`, folderID)
}

// ListTaskRelations returns every folder binding of a task, native first.
func (r Repo) ListTaskRelations(ctx context.Context, q DBTX, taskID string) ([]domain.TaskRelation, error) {
	return r.listRelations(ctx, q, `SELECT `+relationColumns+` FROM task_relations WHERE child_task_id=? ORDER BY shared, created_at, rowid`, taskID)
}

func (r Repo) listRelations(ctx context.Context, q DBTX, query string, args ...any) ([]domain.TaskRelation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskRelation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rel)
	}
	return res, rows.Err()
}
