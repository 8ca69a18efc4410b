package engine

import (
	"context"
	"database/sql"
	"slices"

	"github.com/google/uuid"

	"tasklane/internal/app"
	"tasklane/internal/domain"
	"tasklane/internal/events"
)

// GroupResult names the tasks an archive, delete or restore touched.
type GroupResult struct {
	GroupID string   `json:"groupId"`
	TaskIDs []string `json:"taskIds"`
}

// retirement is either an archive or a delete. Both are soft and grouped.
type retirement struct {
	deleted bool
}

var (
	archiving = retirement{}
	deleting  = retirement{deleted: true}
)

func (k retirement) noun() string {
	if k.deleted {
		return "deleted"
	}
	return "archived"
}

func (k retirement) marked(t domain.Task) bool {
	if k.deleted {
		return t.DeletedAt != nil
	}
	return t.ArchivedAt != nil
}

func (k retirement) group(t domain.Task) string {
	p := t.ArchivedGroupID
	if k.deleted {
		p = t.DeletedGroupID
	}
	if p == nil {
		return ""
	}
	return *p
}

func (k retirement) mark(t *domain.Task, at, groupID, reason string) {
	var why *string
	if reason != "" {
		why = &reason
	}
	if k.deleted {
		t.DeletedAt, t.DeletedGroupID, t.DeleteReason = &at, &groupID, why
		return
	}
	t.ArchivedAt, t.ArchivedGroupID, t.ArchivedWhy = &at, &groupID, why
}

func (k retirement) clear(t *domain.Task) {
	if k.deleted {
		t.DeletedAt, t.DeletedGroupID, t.DeleteReason = nil, nil, nil
		return
	}
	t.ArchivedAt, t.ArchivedGroupID, t.ArchivedWhy = nil, nil, nil
}

func (k retirement) actions() (retire, restore string) {
	if k.deleted {
		return events.ActionDelete, events.ActionRestoreDelete
	}
	return events.ActionArchive, events.ActionRestoreArchive
}

// ArchiveTask archives the task and its active descendants under one group id
// and cancels their pending approvals.
func (e Engine) ArchiveTask(ctx context.Context, rc app.RequestContext, id, folderID, reason string) (GroupResult, error) {
	return e.retireOne(ctx, rc, id, folderID, reason, archiving)
}

// DeleteTask soft-deletes the task and its active descendants.
func (e Engine) DeleteTask(ctx context.Context, rc app.RequestContext, id, folderID, reason string) (GroupResult, error) {
	return e.retireOne(ctx, rc, id, folderID, reason, deleting)
}

func (e Engine) retireOne(ctx context.Context, rc app.RequestContext, id, folderID, reason string, k retirement) (GroupResult, error) {
	if err := rc.Validate(); err != nil {
		return GroupResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GroupResult{}, err
	}
	defer tx.Rollback()

	folder, err := e.Access.Folder(ctx, tx, rc, folderID)
	if err != nil {
		return GroupResult{}, err
	}
	res, err := e.retire(ctx, tx, rc, folder, id, reason, k)
	if err != nil {
		return GroupResult{}, err
	}
	if _, err := e.Repo.RecomputeFolderWindow(ctx, tx, folder.ID); err != nil {
		return GroupResult{}, err
	}
	return res, tx.Commit()
}

// DeleteMany deletes every listed task of the folder, or none. Tasks already
// deleted as descendants of an earlier entry are skipped.
func (e Engine) DeleteMany(ctx context.Context, rc app.RequestContext, folderID string, ids []string, reason string) ([]GroupResult, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if err := e.checkBatch(len(ids)); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	folder, err := e.Access.Folder(ctx, tx, rc, folderID)
	if err != nil {
		return nil, err
	}
	out := []GroupResult{}
	done := map[string]bool{}
	for _, id := range ids {
		if done[id] {
			continue
		}
		res, err := e.retire(ctx, tx, rc, folder, id, reason, deleting)
		if err != nil {
			return nil, err
		}
		for _, tid := range res.TaskIDs {
			done[tid] = true
		}
		out = append(out, res)
	}
	if _, err := e.Repo.RecomputeFolderWindow(ctx, tx, folder.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e Engine) retire(ctx context.Context, tx *sql.Tx, rc app.RequestContext, folder domain.Folder, id, reason string, k retirement) (GroupResult, error) {
	task, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return GroupResult{}, err
	}
	if !task.Active() {
		return GroupResult{}, domain.BadRequestf("task %s is already archived or deleted", id)
	}
	if task.FolderID != folder.ID {
		return GroupResult{}, domain.BadRequestf("task %s can only be %s from its home folder", id, k.noun())
	}
	subtree, _, err := e.nativeSubtree(ctx, tx, folder.ID, id)
	if err != nil {
		return GroupResult{}, err
	}
	tasks, err := e.Repo.GetTasks(ctx, tx, subtree)
	if err != nil {
		return GroupResult{}, err
	}
	res := GroupResult{GroupID: uuid.NewString(), TaskIDs: []string{}}
	at := e.ts()
	for _, tid := range subtree {
		t, ok := tasks[tid]
		if !ok || !t.Active() {
			continue
		}
		k.mark(&t, at, res.GroupID, reason)
		t.UpdatedAt = at
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return res, err
		}
		if _, err := e.Approvals.RequestCancellation(ctx, tx, rc, tid, "task "+k.noun()); err != nil {
			return res, err
		}
		res.TaskIDs = append(res.TaskIDs, tid)
	}
	action, _ := k.actions()
	return res, e.Events.Append(ctx, tx, events.Entry{
		Action: action, TenantID: rc.TenantID, FolderID: folder.ID, TaskID: id, UserID: rc.UserID,
		Payload: events.Payload{"groupId": res.GroupID, "taskIds": res.TaskIDs, "reason": reason},
	})
}

// RestoreArchived brings back the task's archive group. With childIDs only
// the task and those descendants are restored.
func (e Engine) RestoreArchived(ctx context.Context, rc app.RequestContext, id, folderID string, childIDs []string) (GroupResult, error) {
	return e.restore(ctx, rc, id, folderID, childIDs, archiving)
}

func (e Engine) RestoreDeleted(ctx context.Context, rc app.RequestContext, id, folderID string, childIDs []string) (GroupResult, error) {
	return e.restore(ctx, rc, id, folderID, childIDs, deleting)
}

func (e Engine) restore(ctx context.Context, rc app.RequestContext, id, folderID string, childIDs []string, k retirement) (GroupResult, error) {
	if err := rc.Validate(); err != nil {
		return GroupResult{}, err
	}
	if len(childIDs) > 0 {
		if err := e.checkBatch(len(childIDs)); err != nil {
			return GroupResult{}, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GroupResult{}, err
	}
	defer tx.Rollback()

	folder, err := e.Access.Folder(ctx, tx, rc, folderID)
	if err != nil {
		return GroupResult{}, err
	}
	task, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return GroupResult{}, err
	}
	if !k.marked(task) {
		return GroupResult{}, domain.BadRequestf("task %s is not %s", id, k.noun())
	}
	if task.FolderID != folder.ID {
		return GroupResult{}, domain.BadRequestf("task %s can only be restored in its home folder", id)
	}
	if task.ParentTaskID != nil {
		parent, err := e.Repo.GetTask(ctx, tx, *task.ParentTaskID)
		if err != nil {
			return GroupResult{}, err
		}
		if !parent.Active() {
			return GroupResult{}, domain.BadRequestf("parent task %s is archived or deleted", parent.ID)
		}
	}
	res := GroupResult{GroupID: k.group(task), TaskIDs: []string{}}
	var restore []domain.Task
	if len(childIDs) == 0 {
		if restore, err = e.Repo.ListTasksInGroup(ctx, tx, k.deleted, res.GroupID); err != nil {
			return res, err
		}
	} else {
		if restore, err = e.pickChildren(ctx, tx, folder.ID, task, childIDs, k); err != nil {
			return res, err
		}
	}
	at := e.ts()
	for _, t := range restore {
		k.clear(&t)
		t.UpdatedAt = at
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return res, err
		}
		res.TaskIDs = append(res.TaskIDs, t.ID)
	}
	if _, err := e.Repo.RecomputeFolderWindow(ctx, tx, folder.ID); err != nil {
		return res, err
	}
	_, action := k.actions()
	if err := e.Events.Append(ctx, tx, events.Entry{
		Action: action, TenantID: rc.TenantID, FolderID: folder.ID, TaskID: id, UserID: rc.UserID,
		Payload: events.Payload{"groupId": res.GroupID, "taskIds": res.TaskIDs, "childIds": childIDs},
	}); err != nil {
		return res, err
	}
	return res, tx.Commit()
}

// pickChildren resolves an explicit restore list: every child must be a
// retired descendant of root whose parent is active or restored with it.
func (e Engine) pickChildren(ctx context.Context, tx *sql.Tx, folderID string, root domain.Task, childIDs []string, k retirement) ([]domain.Task, error) {
	subtree, _, err := e.nativeSubtree(ctx, tx, folderID, root.ID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.GetTasks(ctx, tx, subtree)
	if err != nil {
		return nil, err
	}
	picked := map[string]bool{root.ID: true}
	for _, cid := range childIDs {
		if cid == root.ID || !slices.Contains(subtree, cid) {
			return nil, domain.BadRequestf("task %s is not a descendant of %s", cid, root.ID)
		}
		if !k.marked(tasks[cid]) {
			return nil, domain.BadRequestf("task %s is not %s", cid, k.noun())
		}
		picked[cid] = true
	}
	out := []domain.Task{root}
	for _, tid := range subtree[1:] {
		if !picked[tid] {
			continue
		}
		t := tasks[tid]
		if p := t.ParentTaskID; p != nil && !picked[*p] && !tasks[*p].Active() {
			return nil, domain.BadRequestf("parent task %s of %s stays %s", *p, tid, k.noun())
		}
		out = append(out, t)
	}
	return out, nil
}
