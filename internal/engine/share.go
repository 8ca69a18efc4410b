package engine

import (
	"context"

	"tasklane/internal/app"
	"tasklane/internal/events"
)

// ShareOptions bind a task from one folder into another at a state.
type ShareOptions struct {
	FromFolderID    string
	ToFolderID      string
	WorkflowStateID string
}

// ShareTask binds the task into the destination folder without copying it.
// The binding is appended to the end of its scope in every view.
func (e Engine) ShareTask(ctx context.Context, rc app.RequestContext, id string, opts ShareOptions) (TaskDetail, error) {
	if err := rc.Validate(); err != nil {
		return TaskDetail{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TaskDetail{}, err
	}
	defer tx.Rollback()

	from, err := e.Access.Folder(ctx, tx, rc, opts.FromFolderID)
	if err != nil {
		return TaskDetail{}, err
	}
	to, err := e.Access.Folder(ctx, tx, rc, opts.ToFolderID)
	if err != nil {
		return TaskDetail{}, err
	}
	if from.SpaceID != to.SpaceID {
		if err := e.Access.SpaceMember(ctx, tx, rc, to.SpaceID); err != nil {
			return TaskDetail{}, err
		}
	}
	if _, err := e.activeTask(ctx, tx, id); err != nil {
		return TaskDetail{}, err
	}
	state, err := e.Ledger.CheckState(ctx, tx, to.ID, opts.WorkflowStateID)
	if err != nil {
		return TaskDetail{}, err
	}
	rel, err := e.Tree.Share(ctx, tx, id, from.ID, to.ID, state.ID)
	if err != nil {
		return TaskDetail{}, err
	}
	if err := e.appendAll(ctx, tx, rel); err != nil {
		return TaskDetail{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionShare, TenantID: rc.TenantID, FolderID: to.ID, TaskID: id, UserID: rc.UserID,
		Payload: events.Payload{"fromFolderId": from.ID, "toFolderId": to.ID, "workflowStateId": state.ID, "pathIds": rel.PathIDs},
	}); err != nil {
		return TaskDetail{}, err
	}
	if err := tx.Commit(); err != nil {
		return TaskDetail{}, err
	}
	return e.detail(ctx, e.DB, rc, id, to.ID, "")
}

// UnshareTask removes the task's shared binding in folderID. It is a not
// found error when the task is not shared there.
func (e Engine) UnshareTask(ctx context.Context, rc app.RequestContext, id, folderID string) error {
	if err := rc.Validate(); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	folder, err := e.Access.Folder(ctx, tx, rc, folderID)
	if err != nil {
		return err
	}
	rel, err := e.Tree.Unshare(ctx, tx, id, folder.ID)
	if err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionUnshare, TenantID: rc.TenantID, FolderID: folder.ID, TaskID: id, UserID: rc.UserID,
		Payload: events.Payload{"relationId": rel.ID, "workflowStateId": rel.WorkflowStateID},
	}); err != nil {
		return err
	}
	return tx.Commit()
}
