package engine

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"tasklane/internal/app"
	"tasklane/internal/domain"
	"tasklane/internal/engine/constraint"
	"tasklane/internal/engine/ledger"
	"tasklane/internal/events"
)

// relocate checks the move of rel into stateID, places it at index in view
// and, on a state change, appends it to the new state in every other view.
// rel must be the current row.
func (e Engine) relocate(ctx context.Context, tx *sql.Tx, rc app.RequestContext, task domain.Task, rel domain.TaskRelation, folder domain.Folder, stateID, view string, index int) (ledger.Delta, error) {
	target, err := e.Ledger.CheckState(ctx, tx, folder.ID, stateID)
	if err != nil {
		return ledger.Delta{}, err
	}
	if err := e.enter(ctx, tx, rc, task, rel, folder, target); err != nil {
		return ledger.Delta{}, err
	}
	to := ledger.Scope{FolderID: folder.ID, WorkflowStateID: target.ID, View: view}
	delta, err := e.Ledger.Move(ctx, tx, rel.ID, to, index)
	if err != nil {
		return delta, err
	}
	if rel.WorkflowStateID == target.ID {
		return delta, nil
	}
	for _, v := range e.Config.Ledger.Views {
		if v == view {
			continue
		}
		if _, err := e.Ledger.Move(ctx, tx, rel.ID, ledger.Scope{FolderID: folder.ID, WorkflowStateID: target.ID, View: v}, math.MaxInt32); err != nil {
			return delta, err
		}
	}
	rel.WorkflowStateID = target.ID
	if err := e.Repo.UpdateRelation(ctx, tx, rel); err != nil {
		return delta, err
	}
	if rel.Shared {
		return delta, nil
	}
	t, err := e.Repo.GetTask(ctx, tx, task.ID)
	if err != nil {
		return delta, err
	}
	t.WorkflowStateID = target.ID
	t.UpdatedAt = e.ts()
	return delta, e.Repo.UpdateTask(ctx, tx, t)
}

// MoveTaskOptions position a task inside one folder. ParentTaskNewID attaches
// the task under a new parent; ParentTaskOldID alone detaches it from that
// parent. When both are given the old parent must still be current.
type MoveTaskOptions struct {
	FolderID        string
	WorkflowStateID string
	View            string
	Index           int
	ParentTaskNewID *string
	ParentTaskOldID *string
}

// MoveResult is a task after a move with the ledger delta in the move's view.
type MoveResult struct {
	Task  TaskDetail   `json:"task"`
	Delta ledger.Delta `json:"delta"`
}

func (e Engine) MoveTask(ctx context.Context, rc app.RequestContext, id string, opts MoveTaskOptions) (MoveResult, error) {
	if err := rc.Validate(); err != nil {
		return MoveResult{}, err
	}
	view, err := e.view(opts.View)
	if err != nil {
		return MoveResult{}, err
	}
	if opts.Index < 0 {
		return MoveResult{}, domain.BadRequestf("index must be zero or positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return MoveResult{}, err
	}
	defer tx.Rollback()

	folder, err := e.Access.Folder(ctx, tx, rc, opts.FolderID)
	if err != nil {
		return MoveResult{}, err
	}
	task, err := e.activeTask(ctx, tx, id)
	if err != nil {
		return MoveResult{}, err
	}
	rel, err := e.Repo.GetRelation(ctx, tx, folder.ID, id)
	if err != nil {
		return MoveResult{}, err
	}
	fromState := rel.WorkflowStateID
	if rel, err = e.reparent(ctx, tx, rel, opts.ParentTaskOldID, opts.ParentTaskNewID); err != nil {
		return MoveResult{}, err
	}
	delta, err := e.relocate(ctx, tx, rc, task, rel, folder, opts.WorkflowStateID, view, opts.Index)
	if err != nil {
		return MoveResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionMove, TenantID: rc.TenantID, FolderID: folder.ID, TaskID: id, UserID: rc.UserID,
		Payload: events.Payload{
			"from": delta.From, "to": delta.To, "fromStateId": fromState, "toStateId": opts.WorkflowStateID,
			"parentTaskOldId": opts.ParentTaskOldID, "parentTaskNewId": opts.ParentTaskNewID,
		},
	}); err != nil {
		return MoveResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return MoveResult{}, err
	}
	d, err := e.detail(ctx, e.DB, rc, id, folder.ID, view)
	return MoveResult{Task: d, Delta: delta}, err
}

func (e Engine) activeTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	task, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return task, err
	}
	if !task.Active() {
		return task, domain.BadRequestf("task %s is archived or deleted", id)
	}
	return task, nil
}

// reparent applies the parent change of a move and returns the fresh relation.
func (e Engine) reparent(ctx context.Context, tx *sql.Tx, rel domain.TaskRelation, oldID, newID *string) (domain.TaskRelation, error) {
	if oldID != nil && *oldID != "" {
		if rel.ParentTaskID == nil || *rel.ParentTaskID != *oldID {
			return rel, domain.BadRequestf("task %s is not a child of %s", rel.ChildTaskID, *oldID)
		}
	}
	switch {
	case newID != nil && *newID != "":
		parent, err := e.Repo.GetTask(ctx, tx, *newID)
		if err != nil {
			return rel, err
		}
		if !parent.Active() {
			return rel, domain.BadRequestf("parent task %s is archived or deleted", parent.ID)
		}
		return e.Tree.Attach(ctx, tx, rel.FolderID, *newID, rel.ChildTaskID)
	case newID != nil || (oldID != nil && *oldID != ""):
		return e.Tree.Detach(ctx, tx, rel.FolderID, rel.ChildTaskID)
	}
	return rel, nil
}

// MoveManyOptions move tasks of one folder into a state, in order, starting
// at Index.
type MoveManyOptions struct {
	FolderID        string
	WorkflowStateID string
	View            string
	Index           int
	TaskIDs         []string
}

// MoveMany applies every move or none of them.
func (e Engine) MoveMany(ctx context.Context, rc app.RequestContext, opts MoveManyOptions) ([]ledger.Delta, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if err := e.checkBatch(len(opts.TaskIDs)); err != nil {
		return nil, err
	}
	view, err := e.view(opts.View)
	if err != nil {
		return nil, err
	}
	if opts.Index < 0 {
		return nil, domain.BadRequestf("index must be zero or positive")
	}
	seen := map[string]bool{}
	for _, id := range opts.TaskIDs {
		if seen[id] {
			return nil, domain.BadRequestf("task %s listed twice", id)
		}
		seen[id] = true
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	folder, err := e.Access.Folder(ctx, tx, rc, opts.FolderID)
	if err != nil {
		return nil, err
	}
	deltas := make([]ledger.Delta, 0, len(opts.TaskIDs))
	for i, id := range opts.TaskIDs {
		task, err := e.activeTask(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		rel, err := e.Repo.GetRelation(ctx, tx, folder.ID, id)
		if err != nil {
			return nil, err
		}
		delta, err := e.relocate(ctx, tx, rc, task, rel, folder, opts.WorkflowStateID, view, opts.Index+i)
		if err != nil {
			return nil, err
		}
		if err := e.Events.Append(ctx, tx, events.Entry{
			Action: events.ActionMove, TenantID: rc.TenantID, FolderID: folder.ID, TaskID: id, UserID: rc.UserID,
			Payload: events.Payload{"from": delta.From, "to": delta.To, "fromStateId": rel.WorkflowStateID, "toStateId": opts.WorkflowStateID, "batch": true},
		}); err != nil {
			return nil, err
		}
		deltas = append(deltas, delta)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return deltas, nil
}

// MoveOneOptions move a task with its subtree to another folder, which
// becomes its home folder.
type MoveOneOptions struct {
	FromFolderID    string
	ToFolderID      string
	WorkflowStateID string
	View            string
	Index           *int
}

func (e Engine) MoveOne(ctx context.Context, rc app.RequestContext, id string, opts MoveOneOptions) (TaskDetail, error) {
	if err := rc.Validate(); err != nil {
		return TaskDetail{}, err
	}
	view, err := e.view(opts.View)
	if err != nil {
		return TaskDetail{}, err
	}
	if opts.Index != nil && *opts.Index < 0 {
		return TaskDetail{}, domain.BadRequestf("index must be zero or positive")
	}
	if opts.FromFolderID == opts.ToFolderID {
		return TaskDetail{}, domain.BadRequestf("task is already in folder %s", opts.ToFolderID)
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
	task, err := e.activeTask(ctx, tx, id)
	if err != nil {
		return TaskDetail{}, err
	}
	if task.FolderID != from.ID {
		return TaskDetail{}, domain.BadRequestf("task %s can only be moved from its home folder", id)
	}
	target, err := e.Ledger.CheckState(ctx, tx, to.ID, opts.WorkflowStateID)
	if err != nil {
		return TaskDetail{}, err
	}
	s, err := e.subject(ctx, tx, id, task.WorkflowStateID)
	if err != nil {
		return TaskDetail{}, err
	}
	d := constraint.CanEnterState(s, target, rc)
	if !d.Allowed {
		return TaskDetail{}, d.Err()
	}

	moved, strays, err := e.nativeSubtree(ctx, tx, from.ID, id)
	if err != nil {
		return TaskDetail{}, err
	}
	for _, tid := range moved {
		if _, err := e.Repo.GetRelation(ctx, tx, to.ID, tid); err == nil {
			return TaskDetail{}, domain.BadRequestf("task %s is already shared into folder %s", tid, to.ID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return TaskDetail{}, err
		}
	}
	if _, err := e.Tree.Detach(ctx, tx, from.ID, id); err != nil {
		return TaskDetail{}, err
	}
	for _, sid := range strays {
		if _, err := e.Tree.Detach(ctx, tx, from.ID, sid); err != nil {
			return TaskDetail{}, err
		}
	}
	codes, err := e.stateMapper(ctx, tx, from.WorkflowID, to.WorkflowID)
	if err != nil {
		return TaskDetail{}, err
	}
	for i, tid := range moved {
		rel, err := e.Repo.GetRelation(ctx, tx, from.ID, tid)
		if err != nil {
			return TaskDetail{}, err
		}
		stateID := target.ID
		if i > 0 {
			stateID = codes(rel.WorkflowStateID, target.ID)
		}
		if err := e.Ledger.RemoveAll(ctx, tx, rel.ID); err != nil {
			return TaskDetail{}, err
		}
		rel.FolderID = to.ID
		rel.WorkflowStateID = stateID
		if err := e.Repo.UpdateRelation(ctx, tx, rel); err != nil {
			return TaskDetail{}, err
		}
		t, err := e.Repo.GetTask(ctx, tx, tid)
		if err != nil {
			return TaskDetail{}, err
		}
		t.FolderID = to.ID
		t.WorkflowStateID = stateID
		t.UpdatedAt = e.ts()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return TaskDetail{}, err
		}
		if i == 0 && opts.Index != nil {
			if _, err := e.Ledger.Move(ctx, tx, rel.ID, ledger.Scope{FolderID: to.ID, WorkflowStateID: stateID, View: view}, *opts.Index); err != nil {
				return TaskDetail{}, err
			}
		}
		if err := e.appendAll(ctx, tx, rel); err != nil {
			return TaskDetail{}, err
		}
	}
	if d.RequestApproval {
		task.FolderID = to.ID
		if _, err := e.Approvals.EnqueueApprovalRequest(ctx, tx, rc, task, to, target); err != nil {
			return TaskDetail{}, err
		}
	}
	for _, fid := range []string{from.ID, to.ID} {
		if _, err := e.Repo.RecomputeFolderWindow(ctx, tx, fid); err != nil {
			return TaskDetail{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionMoveFolder, TenantID: rc.TenantID, FolderID: to.ID, TaskID: id, UserID: rc.UserID,
		Payload: events.Payload{"fromFolderId": from.ID, "toFolderId": to.ID, "workflowStateId": target.ID, "taskIds": moved},
	}); err != nil {
		return TaskDetail{}, err
	}
	if err := tx.Commit(); err != nil {
		return TaskDetail{}, err
	}
	return e.detail(ctx, e.DB, rc, id, to.ID, view)
}

// nativeSubtree lists rootID and the descendants whose home is folderID,
// parents first. strays are shared bindings hanging below them, which stay
// behind as roots.
func (e Engine) nativeSubtree(ctx context.Context, tx *sql.Tx, folderID, rootID string) (moved, strays []string, err error) {
	a, err := e.Tree.Arena(ctx, tx, folderID)
	if err != nil {
		return nil, nil, err
	}
	moved = []string{rootID}
	for i := 0; i < len(moved); i++ {
		for _, cid := range a.Children(moved[i]) {
			rel, _ := a.Get(cid)
			if rel.Shared {
				strays = append(strays, cid)
				continue
			}
			moved = append(moved, cid)
		}
	}
	return moved, strays, nil
}

// stateMapper maps a state of workflow src to the state with the same code in
// dst, or to fallback.
func (e Engine) stateMapper(ctx context.Context, tx *sql.Tx, src, dst string) (func(stateID, fallback string) string, error) {
	srcStates, err := e.Repo.ListStates(ctx, tx, src)
	if err != nil {
		return nil, err
	}
	dstStates, err := e.Repo.ListStates(ctx, tx, dst)
	if err != nil {
		return nil, err
	}
	byCode := map[string]string{}
	for _, st := range dstStates {
		byCode[st.Code] = st.ID
	}
	codeOf := map[string]string{}
	for _, st := range srcStates {
		codeOf[st.ID] = st.Code
	}
	return func(stateID, fallback string) string {
		if id, ok := byCode[codeOf[stateID]]; ok {
			return id
		}
		return fallback
	}, nil
}
