package engine

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"tasklane/internal/app"
	"tasklane/internal/domain"
	"tasklane/internal/engine/constraint"
	"tasklane/internal/events"
)

// ReplicateOptions clone a task into another folder, usually in another
// space. The flags select what travels with the clone.
type ReplicateOptions struct {
	FromFolderID    string
	ToFolderID      string
	WorkflowStateID string
	// KeepOriginal leaves the source untouched. Otherwise the source subtree
	// is deleted with reason "moved to space".
	KeepOriginal bool
	Subtasks     bool
	Tags         bool
	CustomFields bool
	Comments     bool
	Attachments  bool
	Followers    bool
}

// ReplicateResult maps every source task id to its clone.
type ReplicateResult struct {
	Task     TaskDetail        `json:"task"`
	IDs      map[string]string `json:"ids"`
	Original *GroupResult      `json:"original,omitempty"`
}

// MovedToSpaceReason is the delete reason of a source replaced by its clone.
const MovedToSpaceReason = "moved to space"

// MoveToSpace deep-clones the task into the destination folder. Tag and
// custom field ids are remapped by name; assignees and followers who are not
// members of the destination space are dropped.
func (e Engine) MoveToSpace(ctx context.Context, rc app.RequestContext, id string, opts ReplicateOptions) (ReplicateResult, error) {
	if err := rc.Validate(); err != nil {
		return ReplicateResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReplicateResult{}, err
	}
	defer tx.Rollback()

	from, err := e.Access.Folder(ctx, tx, rc, opts.FromFolderID)
	if err != nil {
		return ReplicateResult{}, err
	}
	to, err := e.Access.Folder(ctx, tx, rc, opts.ToFolderID)
	if err != nil {
		return ReplicateResult{}, err
	}
	if err := e.Access.SpaceMember(ctx, tx, rc, to.SpaceID); err != nil {
		return ReplicateResult{}, err
	}
	root, err := e.activeTask(ctx, tx, id)
	if err != nil {
		return ReplicateResult{}, err
	}
	if root.FolderID != from.ID {
		return ReplicateResult{}, domain.BadRequestf("task %s can only be replicated from its home folder", id)
	}
	target, err := e.Ledger.CheckState(ctx, tx, to.ID, opts.WorkflowStateID)
	if err != nil {
		return ReplicateResult{}, err
	}
	d := constraint.CanEnterState(constraint.Subject{}, target, rc)
	if !d.Allowed {
		return ReplicateResult{}, d.Err()
	}

	order := []string{id}
	if opts.Subtasks {
		if order, _, err = e.nativeSubtree(ctx, tx, from.ID, id); err != nil {
			return ReplicateResult{}, err
		}
	}
	sources, err := e.Repo.GetTasks(ctx, tx, order)
	if err != nil {
		return ReplicateResult{}, err
	}
	codes, err := e.stateMapper(ctx, tx, from.WorkflowID, to.WorkflowID)
	if err != nil {
		return ReplicateResult{}, err
	}
	c := cloner{e: e, tx: tx, rc: rc, to: to, opts: opts}
	if err := c.load(ctx); err != nil {
		return ReplicateResult{}, err
	}
	res := ReplicateResult{IDs: map[string]string{}}
	for i, sid := range order {
		src, ok := sources[sid]
		if !ok || !src.Active() {
			continue
		}
		stateID := target.ID
		var parent *string
		if i > 0 {
			stateID = codes(src.WorkflowStateID, target.ID)
			if src.ParentTaskID != nil {
				if pid, ok := res.IDs[*src.ParentTaskID]; ok {
					parent = &pid
				}
			}
		}
		clone, err := c.clone(ctx, src, stateID, parent)
		if err != nil {
			return ReplicateResult{}, err
		}
		res.IDs[sid] = clone.ID
		if i == 0 && d.RequestApproval {
			if _, err := e.Approvals.EnqueueApprovalRequest(ctx, tx, rc, clone, to, target); err != nil {
				return ReplicateResult{}, err
			}
		}
	}
	newID := res.IDs[id]
	if !opts.KeepOriginal {
		g, err := e.retire(ctx, tx, rc, from, id, MovedToSpaceReason, deleting)
		if err != nil {
			return ReplicateResult{}, err
		}
		res.Original = &g
	}
	for _, fid := range []string{from.ID, to.ID} {
		if _, err := e.Repo.RecomputeFolderWindow(ctx, tx, fid); err != nil {
			return ReplicateResult{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionReplicate, TenantID: rc.TenantID, FolderID: to.ID, TaskID: newID, UserID: rc.UserID,
		Payload: events.Payload{"sourceTaskId": id, "fromFolderId": from.ID, "toFolderId": to.ID, "ids": res.IDs, "keepOriginal": opts.KeepOriginal},
	}); err != nil {
		return ReplicateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReplicateResult{}, err
	}
	res.Task, err = e.detail(ctx, e.DB, rc, newID, to.ID, "")
	return res, err
}

// cloner copies tasks into one destination folder.
type cloner struct {
	e    Engine
	tx   *sql.Tx
	rc   app.RequestContext
	to   domain.Folder
	opts ReplicateOptions

	members map[string]string
	tags    map[string]string
	fields  map[string]domain.CustomField
}

func (c *cloner) load(ctx context.Context) error {
	var err error
	if c.members, err = c.e.Repo.SpaceMembers(ctx, c.tx, c.to.SpaceID); err != nil {
		return err
	}
	tags, err := c.e.Repo.ListSpaceTags(ctx, c.tx, c.to.SpaceID)
	if err != nil {
		return err
	}
	c.tags = map[string]string{}
	for _, t := range tags {
		c.tags[t.Name] = t.ID
	}
	fields, err := c.e.Repo.ListSpaceFields(ctx, c.tx, c.to.SpaceID)
	if err != nil {
		return err
	}
	c.fields = map[string]domain.CustomField{}
	for _, f := range fields {
		c.fields[f.Name] = f
	}
	return nil
}

func (c *cloner) member(id string) bool {
	_, ok := c.members[id]
	return ok
}

func (c *cloner) keepMembers(ids []string) []string {
	out := []string{}
	for _, id := range ids {
		if c.member(id) {
			out = append(out, id)
		}
	}
	return out
}

func (c *cloner) clone(ctx context.Context, src domain.Task, stateID string, parent *string) (domain.Task, error) {
	e, tx := c.e, c.tx
	now := e.ts()
	t := domain.Task{
		ID:              uuid.NewString(),
		FolderID:        c.to.ID,
		ParentTaskID:    parent,
		WorkflowStateID: stateID,
		OwnerID:         src.OwnerID,
		Title:           src.Title,
		Description:     src.Description,
		Assignees:       c.keepMembers(src.Assignees),
		StartDate:       src.StartDate,
		EndDate:         src.EndDate,
		Duration:        src.Duration,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !c.member(t.OwnerID) {
		t.OwnerID = c.rc.UserID
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return t, err
	}
	rel, err := e.Tree.Anchor(ctx, tx, t)
	if err != nil {
		return t, err
	}
	if err := e.appendAll(ctx, tx, rel); err != nil {
		return t, err
	}
	followers := append([]string{t.OwnerID}, t.Assignees...)
	if c.opts.Followers {
		subs, err := e.Repo.ListFollowers(ctx, tx, src.ID)
		if err != nil {
			return t, err
		}
		followers = append(followers, c.keepMembers(subs)...)
	}
	for _, u := range followers {
		if err := e.Repo.AddFollower(ctx, tx, t.ID, u); err != nil {
			return t, err
		}
	}
	if c.opts.Tags {
		tags, err := e.Repo.ListTaskTags(ctx, tx, src.ID)
		if err != nil {
			return t, err
		}
		for _, tag := range tags {
			if id, ok := c.tags[tag.Name]; ok {
				if err := e.Repo.TagTask(ctx, tx, t.ID, id); err != nil {
					return t, err
				}
			}
		}
	}
	if c.opts.CustomFields {
		fields, values, err := e.Repo.TaskFieldValues(ctx, tx, src.ID)
		if err != nil {
			return t, err
		}
		for i, f := range fields {
			dst, ok := c.fields[f.Name]
			if !ok || dst.Type != f.Type {
				continue
			}
			if err := e.Repo.SetFieldValue(ctx, tx, t.ID, domain.CustomFieldValue{FieldID: dst.ID, Value: values[i].Value}); err != nil {
				return t, err
			}
		}
	}
	if c.opts.Comments {
		comments, err := e.Repo.ListComments(ctx, tx, src.ID)
		if err != nil {
			return t, err
		}
		for _, cm := range comments {
			cm.ID, cm.TaskID = uuid.NewString(), t.ID
			if err := e.Repo.InsertComment(ctx, tx, cm); err != nil {
				return t, err
			}
		}
	}
	if c.opts.Attachments {
		files, err := e.Repo.ListAttachments(ctx, tx, src.ID)
		if err != nil {
			return t, err
		}
		for _, a := range files {
			a.ID, a.TaskID = uuid.NewString(), t.ID
			if err := e.Repo.InsertAttachment(ctx, tx, a); err != nil {
				return t, err
			}
		}
	}
	return t, nil
}
