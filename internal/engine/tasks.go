package engine

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"

	"tasklane/internal/app"
	"tasklane/internal/domain"
	"tasklane/internal/engine/constraint"
	"tasklane/internal/engine/hierarchy"
	"tasklane/internal/engine/ledger"
	"tasklane/internal/events"
	"tasklane/internal/repo"
)

// TaskDetail is a task seen through one folder.
type TaskDetail struct {
	domain.Task
	Relation   domain.TaskRelation  `json:"relation"`
	PathIDs    []string             `json:"pathIds"`
	Followers  []string             `json:"followers"`
	PrevTaskID *string              `json:"prevTaskId,omitempty"`
	NextTaskID *string              `json:"nextTaskId,omitempty"`
	Approval   *domain.ApprovalGate `json:"approval,omitempty"`
}

// CreateTaskOptions are parameters for creating a task.
type CreateTaskOptions struct {
	FolderID        string
	WorkflowStateID string
	ParentTaskID    *string
	Title           string
	Description     string
	Assignees       []string
	StartDate       *string
	EndDate         *string
	Duration        *int
	// View and Index place the task; other views append it.
	View  string
	Index *int
}

func (e Engine) CreateTask(ctx context.Context, rc app.RequestContext, opts CreateTaskOptions) (TaskDetail, error) {
	if err := rc.Validate(); err != nil {
		return TaskDetail{}, err
	}
	if strings.TrimSpace(opts.Title) == "" {
		return TaskDetail{}, domain.BadRequestf("title is required")
	}
	assignees, err := validateAssignees(opts.Assignees)
	if err != nil {
		return TaskDetail{}, err
	}
	if opts.StartDate, opts.EndDate, err = normalizeDates(opts.StartDate, opts.EndDate); err != nil {
		return TaskDetail{}, err
	}
	view, err := e.view(opts.View)
	if err != nil {
		return TaskDetail{}, err
	}
	if opts.Index != nil && *opts.Index < 0 {
		return TaskDetail{}, domain.BadRequestf("index must be zero or positive")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TaskDetail{}, err
	}
	defer tx.Rollback()

	folder, err := e.Access.Folder(ctx, tx, rc, opts.FolderID)
	if err != nil {
		return TaskDetail{}, err
	}
	state, err := e.Ledger.CheckState(ctx, tx, folder.ID, opts.WorkflowStateID)
	if err != nil {
		return TaskDetail{}, err
	}
	d := constraint.CanEnterState(constraint.Subject{}, state, rc)
	if !d.Allowed {
		return TaskDetail{}, d.Err()
	}
	if opts.ParentTaskID != nil {
		parent, err := e.Repo.GetTask(ctx, tx, *opts.ParentTaskID)
		if err != nil {
			return TaskDetail{}, err
		}
		if !parent.Active() {
			return TaskDetail{}, domain.BadRequestf("parent task %s is archived or deleted", parent.ID)
		}
	}
	now := e.ts()
	task := domain.Task{
		ID:              uuid.NewString(),
		FolderID:        folder.ID,
		ParentTaskID:    opts.ParentTaskID,
		WorkflowStateID: state.ID,
		OwnerID:         rc.UserID,
		Title:           opts.Title,
		Description:     opts.Description,
		Assignees:       assignees,
		StartDate:       opts.StartDate,
		EndDate:         opts.EndDate,
		Duration:        opts.Duration,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
		return TaskDetail{}, err
	}
	for _, u := range append([]string{task.OwnerID}, assignees...) {
		if err := e.Repo.AddFollower(ctx, tx, task.ID, u); err != nil {
			return TaskDetail{}, err
		}
	}
	rel, err := e.Tree.Anchor(ctx, tx, task)
	if err != nil {
		return TaskDetail{}, err
	}
	for _, v := range e.Config.Ledger.Views {
		scope := ledger.Scope{FolderID: folder.ID, WorkflowStateID: state.ID, View: v}
		if v == view && opts.Index != nil {
			_, err = e.Ledger.Move(ctx, tx, rel.ID, scope, *opts.Index)
		} else {
			_, err = e.Ledger.Append(ctx, tx, rel.ID, scope)
		}
		if err != nil {
			return TaskDetail{}, err
		}
	}
	if d.RequestApproval {
		if _, err := e.Approvals.EnqueueApprovalRequest(ctx, tx, rc, task, folder, state); err != nil {
			return TaskDetail{}, err
		}
	}
	if task.StartDate != nil || task.EndDate != nil {
		if _, err := e.Repo.RecomputeFolderWindow(ctx, tx, folder.ID); err != nil {
			return TaskDetail{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionCreate, TenantID: rc.TenantID, FolderID: folder.ID, TaskID: task.ID, UserID: rc.UserID,
		Payload: events.Payload{"workflowStateId": state.ID, "parentTaskId": task.ParentTaskID, "assignees": assignees, "pathIds": rel.PathIDs},
	}); err != nil {
		return TaskDetail{}, err
	}
	if err := tx.Commit(); err != nil {
		return TaskDetail{}, err
	}
	return e.detail(ctx, e.DB, rc, task.ID, folder.ID, view)
}

// UpdateTaskOptions edit a task. Nil fields are left alone; an empty date
// string clears the date.
type UpdateTaskOptions struct {
	FolderID        string
	Title           *string
	Description     *string
	Assignees       *[]string
	StartDate       *string
	EndDate         *string
	Duration        *int
	WorkflowStateID *string
	View            string
}

func (e Engine) UpdateTask(ctx context.Context, rc app.RequestContext, id string, opts UpdateTaskOptions) (TaskDetail, error) {
	if err := rc.Validate(); err != nil {
		return TaskDetail{}, err
	}
	view, err := e.view(opts.View)
	if err != nil {
		return TaskDetail{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TaskDetail{}, err
	}
	defer tx.Rollback()

	task, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return TaskDetail{}, err
	}
	if !task.Active() {
		return TaskDetail{}, domain.BadRequestf("task %s is archived or deleted", id)
	}
	rel, err := e.relation(ctx, tx, id, opts.FolderID)
	if err != nil {
		return TaskDetail{}, err
	}
	folder, err := e.Access.Folder(ctx, tx, rc, rel.FolderID)
	if err != nil {
		return TaskDetail{}, err
	}

	changed := []string{}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return TaskDetail{}, domain.BadRequestf("title is required")
		}
		task.Title = *opts.Title
		changed = append(changed, "title")
	}
	if opts.Description != nil {
		task.Description = *opts.Description
		changed = append(changed, "description")
	}
	if opts.Assignees != nil {
		if task.Assignees, err = validateAssignees(*opts.Assignees); err != nil {
			return TaskDetail{}, err
		}
		for _, u := range task.Assignees {
			if err := e.Repo.AddFollower(ctx, tx, task.ID, u); err != nil {
				return TaskDetail{}, err
			}
		}
		changed = append(changed, "assignees")
	}
	dates := false
	if opts.StartDate != nil {
		task.StartDate = clearable(opts.StartDate)
		dates = true
	}
	if opts.EndDate != nil {
		task.EndDate = clearable(opts.EndDate)
		dates = true
	}
	if dates {
		if task.StartDate, task.EndDate, err = normalizeDates(task.StartDate, task.EndDate); err != nil {
			return TaskDetail{}, err
		}
		changed = append(changed, "dates")
	}
	if opts.Duration != nil {
		task.Duration = opts.Duration
		changed = append(changed, "duration")
	}
	task.UpdatedAt = e.ts()
	if err := e.Repo.UpdateTask(ctx, tx, task); err != nil {
		return TaskDetail{}, err
	}
	if dates {
		if _, err := e.Repo.RecomputeFolderWindow(ctx, tx, task.FolderID); err != nil {
			return TaskDetail{}, err
		}
	}
	payload := events.Payload{"fields": changed}
	if opts.WorkflowStateID != nil && *opts.WorkflowStateID != rel.WorkflowStateID {
		delta, err := e.relocate(ctx, tx, rc, task, rel, folder, *opts.WorkflowStateID, view, math.MaxInt32)
		if err != nil {
			return TaskDetail{}, err
		}
		payload["fromStateId"] = rel.WorkflowStateID
		payload["toStateId"] = *opts.WorkflowStateID
		payload["position"] = delta
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionUpdate, TenantID: rc.TenantID, FolderID: folder.ID, TaskID: task.ID, UserID: rc.UserID, Payload: payload,
	}); err != nil {
		return TaskDetail{}, err
	}
	if err := tx.Commit(); err != nil {
		return TaskDetail{}, err
	}
	return e.detail(ctx, e.DB, rc, task.ID, folder.ID, view)
}

func clearable(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}

// GetTask returns the task as bound in folderID, or in its home folder.
// Neighbors are only resolved when view is set.
func (e Engine) GetTask(ctx context.Context, rc app.RequestContext, id, folderID, view string) (TaskDetail, error) {
	if err := rc.Validate(); err != nil {
		return TaskDetail{}, err
	}
	if view != "" && !e.Config.HasView(view) {
		return TaskDetail{}, domain.BadRequestf("unknown view %s", view)
	}
	return e.detail(ctx, e.DB, rc, id, folderID, view)
}

func (e Engine) detail(ctx context.Context, q repo.DBTX, rc app.RequestContext, id, folderID, view string) (TaskDetail, error) {
	task, err := e.Repo.GetTask(ctx, q, id)
	if err != nil {
		return TaskDetail{}, err
	}
	rel, err := e.relation(ctx, q, id, folderID)
	if err != nil {
		return TaskDetail{}, err
	}
	if _, err := e.Access.Folder(ctx, q, rc, rel.FolderID); err != nil {
		return TaskDetail{}, err
	}
	out := TaskDetail{Task: task, Relation: rel, PathIDs: rel.PathIDs}
	if out.Followers, err = e.Repo.ListFollowers(ctx, q, id); err != nil {
		return out, err
	}
	if out.Followers == nil {
		out.Followers = []string{}
	}
	if out.Approval, err = e.Repo.ActiveGate(ctx, q, id); err != nil {
		return out, err
	}
	prev, next, err := e.Ledger.Neighbors(ctx, q, rel.ID, view)
	if err != nil {
		return out, err
	}
	if prev != nil {
		out.PrevTaskID = &prev.TaskID
	}
	if next != nil {
		out.NextTaskID = &next.TaskID
	}
	return out, nil
}

// TreeOptions select the folder and visibility of a subtree.
type TreeOptions struct {
	FolderID string
	hierarchy.SubtreeOptions
}

func (e Engine) TaskTree(ctx context.Context, rc app.RequestContext, id string, opts TreeOptions) (*hierarchy.TreeNode, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	rel, err := e.relation(ctx, e.DB, id, opts.FolderID)
	if err != nil {
		return nil, err
	}
	if _, err := e.Access.Folder(ctx, e.DB, rc, rel.FolderID); err != nil {
		return nil, err
	}
	root, err := e.Repo.GetTask(ctx, e.DB, id)
	if err != nil {
		return nil, err
	}
	seq, err := e.Tree.Subtree(ctx, e.DB, rel.FolderID, id, opts.SubtreeOptions)
	if err != nil {
		return nil, err
	}
	return hierarchy.Nest(root, rel.PathIDs, seq)
}

// FolderEntry is one ledger row with its task.
type FolderEntry struct {
	Position domain.TaskPosition `json:"position"`
	Task     domain.Task         `json:"task"`
}

// FolderTasksOptions filter FolderTasks. Without a state every state of the
// folder's workflow is listed in workflow order.
type FolderTasksOptions struct {
	WorkflowStateID string
	View            string
	IncludeInactive bool
}

func (e Engine) FolderTasks(ctx context.Context, rc app.RequestContext, folderID string, opts FolderTasksOptions) ([]FolderEntry, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	view, err := e.view(opts.View)
	if err != nil {
		return nil, err
	}
	folder, err := e.Access.Folder(ctx, e.DB, rc, folderID)
	if err != nil {
		return nil, err
	}
	var states []string
	if opts.WorkflowStateID != "" {
		if _, err := e.Ledger.CheckState(ctx, e.DB, folder.ID, opts.WorkflowStateID); err != nil {
			return nil, err
		}
		states = []string{opts.WorkflowStateID}
	} else {
		all, err := e.Repo.ListStates(ctx, e.DB, folder.WorkflowID)
		if err != nil {
			return nil, err
		}
		for _, st := range all {
			states = append(states, st.ID)
		}
	}
	out := []FolderEntry{}
	for _, st := range states {
		list, err := e.Ledger.Ordered(ctx, e.DB, ledger.Scope{FolderID: folder.ID, WorkflowStateID: st, View: view})
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(list))
		for i, p := range list {
			ids[i] = p.TaskID
		}
		tasks, err := e.Repo.GetTasks(ctx, e.DB, ids)
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			t, ok := tasks[p.TaskID]
			if !ok || (!t.Active() && !opts.IncludeInactive) {
				continue
			}
			out = append(out, FolderEntry{Position: p, Task: t})
		}
	}
	return out, nil
}

// TaskActions lists the action log of a task, oldest first.
func (e Engine) TaskActions(ctx context.Context, rc app.RequestContext, id string, limit int) ([]domain.TaskAction, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	task, err := e.Repo.GetTask(ctx, e.DB, id)
	if err != nil {
		return nil, err
	}
	if _, err := e.Access.Folder(ctx, e.DB, rc, task.FolderID); err != nil {
		return nil, err
	}
	actions, err := e.Repo.ListActions(ctx, e.DB, id, limit)
	if actions == nil {
		actions = []domain.TaskAction{}
	}
	return actions, err
}
