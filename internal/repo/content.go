package repo

import (
	"context"

	"tasklane/internal/domain"
)

func (r Repo) InsertTag(ctx context.Context, q DBTX, t domain.Tag) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO tags(id,space_id,name) VALUES (?,?,?)`, t.ID, t.SpaceID, t.Name)
	return err
}

func (r Repo) ListSpaceTags(ctx context.Context, q DBTX, spaceID string) ([]domain.Tag, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,space_id,name FROM tags WHERE space_id=? ORDER BY name`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.SpaceID, &t.Name); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListTaskTags(ctx context.Context, q DBTX, taskID string) ([]domain.Tag, error) {
	rows, err := q.QueryContext(ctx, `SELECT t.id,t.space_id,t.name FROM task_tags tt JOIN tags t ON t.id=tt.tag_id WHERE tt.task_id=? ORDER BY t.name`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.SpaceID, &t.Name); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) TagTask(ctx context.Context, q DBTX, taskID, tagID string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO task_tags(task_id,tag_id) VALUES (?,?)`, taskID, tagID)
	return err
}

func (r Repo) InsertCustomField(ctx context.Context, q DBTX, f domain.CustomField) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO custom_fields(id,space_id,name,type) VALUES (?,?,?,?)`, f.ID, f.SpaceID, f.Name, f.Type)
	return err
}

func (r Repo) ListSpaceFields(ctx context.Context, q DBTX, spaceID string) ([]domain.CustomField, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,space_id,name,type FROM custom_fields WHERE space_id=? ORDER BY name`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CustomField
	for rows.Next() {
		var f domain.CustomField
		if err := rows.Scan(&f.ID, &f.SpaceID, &f.Name, &f.Type); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// TaskFieldValues returns the task's custom field values joined with their field.
func (r Repo) TaskFieldValues(ctx context.Context, q DBTX, taskID string) ([]domain.CustomField, []domain.CustomFieldValue, error) {
	rows, err := q.QueryContext(ctx, `SELECT f.id,f.space_id,f.name,f.type,v.value FROM task_custom_field_values v
JOIN custom_fields f ON f.id=v.field_id WHERE v.task_id=? ORDER BY f.name`, taskID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var fields []domain.CustomField
	var values []domain.CustomFieldValue
	for rows.Next() {
		var f domain.CustomField
		var v domain.CustomFieldValue
		if err := rows.Scan(&f.ID, &f.SpaceID, &f.Name, &f.Type, &v.Value); err != nil {
			return nil, nil, err
		}
		v.FieldID = f.ID
		fields = append(fields, f)
		values = append(values, v)
	}
	return fields, values, rows.Err()
}

func (r Repo) SetFieldValue(ctx context.Context, q DBTX, taskID string, v domain.CustomFieldValue) error {
	_, err := q.ExecContext(ctx, `INSERT INTO task_custom_field_values(task_id,field_id,value) VALUES (?,?,?)
ON CONFLICT(task_id,field_id) DO UPDATE SET value=excluded.value`, taskID, v.FieldID, v.Value)
	return err
}

func (r Repo) InsertComment(ctx context.Context, q DBTX, c domain.Comment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO task_comments(id,task_id,author_id,body,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TaskID, c.AuthorID, c.Body, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, q DBTX, taskID string) ([]domain.Comment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,task_id,author_id,body,created_at FROM task_comments WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertAttachment(ctx context.Context, q DBTX, a domain.Attachment) error {
	_, err := q.ExecContext(ctx, `INSERT INTO task_attachments(id,task_id,file_name,storage_key,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.TaskID, a.FileName, a.StorageKey, a.CreatedAt)
	return err
}

func (r Repo) ListAttachments(ctx context.Context, q DBTX, taskID string) ([]domain.Attachment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,task_id,file_name,storage_key,created_at FROM task_attachments WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.FileName, &a.StorageKey, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
