package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasklane/internal/domain"
)

// DBTX is satisfied by *sql.DB and *sql.Tx so reads can run inside or
// outside the caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB *sql.DB
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (r Repo) InsertTenant(ctx context.Context, q DBTX, t domain.Tenant) error {
	_, err := q.ExecContext(ctx, `INSERT INTO tenants(id,name,created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, t.ID, t.Name, now())
	return err
}

func (r Repo) InsertSpace(ctx context.Context, q DBTX, s domain.Space) error {
	_, err := q.ExecContext(ctx, `INSERT INTO spaces(id,tenant_id,name,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, s.ID, s.TenantID, s.Name, now())
	return err
}

func (r Repo) InsertFolder(ctx context.Context, q DBTX, f domain.Folder) error {
	_, err := q.ExecContext(ctx, `INSERT INTO folders(id,tenant_id,space_id,workflow_id,name,start_date,end_date,created_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, space_id=excluded.space_id, workflow_id=excluded.workflow_id`,
		f.ID, f.TenantID, f.SpaceID, f.WorkflowID, f.Name, nullableStringPtr(f.StartDate), nullableStringPtr(f.EndDate), now())
	return err
}

func (r Repo) GetFolder(ctx context.Context, q DBTX, id string) (domain.Folder, error) {
	var f domain.Folder
	var start, end sql.NullString
	err := q.QueryRowContext(ctx, `SELECT id,tenant_id,space_id,workflow_id,name,start_date,end_date FROM folders WHERE id=?`, id).
		Scan(&f.ID, &f.TenantID, &f.SpaceID, &f.WorkflowID, &f.Name, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return f, domain.NotFoundf("folder %s", id)
	}
	if err != nil {
		return f, err
	}
	f.StartDate = stringPtr(start)
	f.EndDate = stringPtr(end)
	return f, nil
}

// RecomputeFolderWindow sets the folder's start/end to the earliest start and
// latest end among its active native tasks.
func (r Repo) RecomputeFolderWindow(ctx context.Context, q DBTX, folderID string) (domain.Folder, error) {
	_, err := q.ExecContext(ctx, `UPDATE folders SET
  start_date=(SELECT MIN(start_date) FROM tasks WHERE folder_id=folders.id AND archived_at IS NULL AND deleted_at IS NULL AND start_date IS NOT NULL),
  end_date=(SELECT MAX(end_date) FROM tasks WHERE folder_id=folders.id AND archived_at IS NULL AND deleted_at IS NULL AND end_date IS NOT NULL)
WHERE id=?`, folderID)
	if err != nil {
		return domain.Folder{}, fmt.Errorf("recompute folder window: %w", err)
	}
	return r.GetFolder(ctx, q, folderID)
}

func (r Repo) ListActions(ctx context.Context, q DBTX, taskID string, limit int) ([]domain.TaskAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx, `SELECT id,ts,action,tenant_id,COALESCE(folder_id,''),COALESCE(task_id,''),user_id,payload_json
FROM task_actions WHERE task_id=? ORDER BY id ASC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskAction
	for rows.Next() {
		var a domain.TaskAction
		if err := rows.Scan(&a.ID, &a.TS, &a.Action, &a.TenantID, &a.FolderID, &a.TaskID, &a.UserID, &a.Payload); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func marshalStrings(in []string) string {
	if in == nil {
		in = []string{}
	}
	b, _ := json.Marshal(in)
	return string(b)
}

func unmarshalStrings(raw string) ([]string, error) {
	out := []string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(in []string) []any {
	args := make([]any, len(in))
	for i, v := range in {
		args[i] = v
	}
	return args
}
