package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tasklane/internal/repo"
)

// Action names recorded in task_actions.
const (
	ActionCreate         = "CREATE"
	ActionUpdate         = "UPDATE"
	ActionMove           = "MOVE"
	ActionMoveFolder     = "MOVE_FOLDER"
	ActionReplicate      = "REPLICATE"
	ActionArchive        = "ARCHIVE"
	ActionRestoreArchive = "RESTORE_ARCHIVE"
	ActionDelete         = "DELETE"
	ActionRestoreDelete  = "RESTORE_DELETE"
	ActionShare          = "SHARE"
	ActionUnshare        = "UNSHARE"
	ActionApproval       = "APPROVAL"
	ActionWorkflowUpdate = "WORKFLOW_UPDATE"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Entry is one row of the action log.
type Entry struct {
	Action   string
	TenantID string
	FolderID string
	TaskID   string
	UserID   string
	Payload  Payload
}

// Append records e inside q, normally the transaction of the mutation it describes.
func (w Writer) Append(ctx context.Context, q repo.DBTX, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal action payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO task_actions(ts,action,tenant_id,folder_id,task_id,user_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Action, e.TenantID, nullable(e.FolderID), nullable(e.TaskID), e.UserID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
