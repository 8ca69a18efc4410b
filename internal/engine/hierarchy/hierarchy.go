// Package hierarchy maintains parent/child relations and materialized paths
// per folder, and the shared bindings of a task into other folders.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tasklane/internal/domain"
	"tasklane/internal/repo"
)

type Hierarchy struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (h Hierarchy) now() string {
	if h.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return h.Now().UTC().Format(time.RFC3339)
}

// Arena loads the folder's relations.
func (h Hierarchy) Arena(ctx context.Context, q repo.DBTX, folderID string) (*Arena, error) {
	rels, err := h.Repo.ListFolderRelations(ctx, q, folderID)
	if err != nil {
		return nil, err
	}
	return NewArena(rels), nil
}

// Anchor creates the native relation of a freshly created task in its folder.
func (h Hierarchy) Anchor(ctx context.Context, q repo.DBTX, t domain.Task) (domain.TaskRelation, error) {
	rel := domain.TaskRelation{
		ID:              uuid.NewString(),
		FolderID:        t.FolderID,
		ChildTaskID:     t.ID,
		WorkflowStateID: t.WorkflowStateID,
		PathIDs:         []string{t.ID},
		CreatedAt:       h.now(),
	}
	if t.ParentTaskID != nil {
		parent, err := h.Repo.GetRelation(ctx, q, t.FolderID, *t.ParentTaskID)
		if errors.Is(err, domain.ErrNotFound) {
			return rel, domain.BadRequestf("parent task %s is not in folder %s", *t.ParentTaskID, t.FolderID)
		}
		if err != nil {
			return rel, err
		}
		rel.ParentTaskID = t.ParentTaskID
		rel.PathIDs = append(append([]string{}, parent.PathIDs...), t.ID)
	}
	return rel, h.Repo.InsertRelation(ctx, q, rel)
}

// Attach makes childID a child of parentID inside folderID and cascades the
// new path to every descendant.
func (h Hierarchy) Attach(ctx context.Context, q repo.DBTX, folderID, parentID, childID string) (domain.TaskRelation, error) {
	if parentID == childID {
		return domain.TaskRelation{}, domain.BadRequestf("task cannot be its own parent")
	}
	a, err := h.Arena(ctx, q, folderID)
	if err != nil {
		return domain.TaskRelation{}, err
	}
	child, ok := a.Get(childID)
	if !ok {
		return domain.TaskRelation{}, domain.NotFoundf("task %s in folder %s", childID, folderID)
	}
	if _, ok := a.Get(parentID); !ok {
		return domain.TaskRelation{}, domain.BadRequestf("parent task %s is not in folder %s", parentID, folderID)
	}
	if a.IsAncestor(childID, parentID) {
		return domain.TaskRelation{}, domain.BadRequestf("task %s is an ancestor of %s", childID, parentID)
	}
	if child.ParentTaskID != nil && *child.ParentTaskID == parentID {
		return *child, nil
	}
	p := parentID
	a.setParent(childID, &p)
	return h.persist(ctx, q, a, childID)
}

// Detach makes the task a root of folderID. The task itself is kept.
func (h Hierarchy) Detach(ctx context.Context, q repo.DBTX, folderID, taskID string) (domain.TaskRelation, error) {
	a, err := h.Arena(ctx, q, folderID)
	if err != nil {
		return domain.TaskRelation{}, err
	}
	rel, ok := a.Get(taskID)
	if !ok {
		return domain.TaskRelation{}, domain.NotFoundf("task %s in folder %s", taskID, folderID)
	}
	if rel.ParentTaskID == nil {
		return *rel, nil
	}
	a.setParent(taskID, nil)
	return h.persist(ctx, q, a, taskID)
}

func (h Hierarchy) persist(ctx context.Context, q repo.DBTX, a *Arena, taskID string) (domain.TaskRelation, error) {
	changed := a.repath(taskID)
	rel, _ := a.Get(taskID)
	if err := h.Repo.UpdateRelation(ctx, q, *rel); err != nil {
		return *rel, err
	}
	for _, c := range changed {
		if c.ID == rel.ID {
			continue
		}
		if err := h.Repo.UpdateRelation(ctx, q, c); err != nil {
			return *rel, err
		}
	}
	if !rel.Shared {
		if err := h.Repo.SetTaskParent(ctx, q, taskID, rel.ParentTaskID, h.now()); err != nil {
			return *rel, err
		}
	}
	return *rel, nil
}

// PathIDs returns the root-to-self id sequence of the task in folderID.
func (h Hierarchy) PathIDs(ctx context.Context, q repo.DBTX, folderID, taskID string) ([]string, error) {
	rel, err := h.Repo.GetRelation(ctx, q, folderID, taskID)
	if err != nil {
		return nil, err
	}
	return rel.PathIDs, nil
}

// SubtreeOptions select which descendants a subtree walk yields.
type SubtreeOptions struct {
	AllChildren      bool
	ArchivedChildren bool
	DeletedChildren  bool
}

// Node is one descendant yielded by Subtree.
type Node struct {
	Task     domain.Task
	Relation domain.TaskRelation
	Depth    int
}

// Subtree yields the descendants of taskID in folderID depth first. Archived
// and deleted tasks, with everything below them, are skipped unless the
// matching option is set. Without AllChildren only direct children are
// yielded. A failed task lookup is yielded as the last pair. The sequence can
// be ranged over once.
func (h Hierarchy) Subtree(ctx context.Context, q repo.DBTX, folderID, taskID string, opts SubtreeOptions) (iter.Seq2[Node, error], error) {
	a, err := h.Arena(ctx, q, folderID)
	if err != nil {
		return nil, err
	}
	if _, ok := a.Get(taskID); !ok {
		return nil, domain.NotFoundf("task %s in folder %s", taskID, folderID)
	}
	var used atomic.Bool
	return func(yield func(Node, error) bool) {
		if used.Swap(true) {
			return
		}
		var walk func(id string, depth int) bool
		walk = func(id string, depth int) bool {
			for _, cid := range a.Children(id) {
				t, err := h.Repo.GetTask(ctx, q, cid)
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				if err != nil {
					yield(Node{}, fmt.Errorf("subtree of %s: %w", taskID, err))
					return false
				}
				if !visible(t, opts) {
					continue
				}
				rel, _ := a.Get(cid)
				if !yield(Node{Task: t, Relation: *rel, Depth: depth}, nil) {
					return false
				}
				if opts.AllChildren && !walk(cid, depth+1) {
					return false
				}
			}
			return true
		}
		walk(taskID, 1)
	}, nil
}

func visible(t domain.Task, opts SubtreeOptions) bool {
	if t.ArchivedAt != nil && !opts.ArchivedChildren {
		return false
	}
	if t.DeletedAt != nil && !opts.DeletedChildren {
		return false
	}
	return true
}

// TreeNode is a nested view of a subtree.
type TreeNode struct {
	Task     domain.Task `json:"task"`
	PathIDs  []string    `json:"pathIds"`
	Children []*TreeNode `json:"children"`
}

// Nest builds the tree below root from a depth-first node sequence. The
// first error in the sequence is returned instead of a partial tree.
func Nest(root domain.Task, rootPath []string, seq iter.Seq2[Node, error]) (*TreeNode, error) {
	top := &TreeNode{Task: root, PathIDs: rootPath, Children: []*TreeNode{}}
	stack := []*TreeNode{top}
	for n, err := range seq {
		if err != nil {
			return nil, err
		}
		for len(stack) > n.Depth {
			stack = stack[:len(stack)-1]
		}
		node := &TreeNode{Task: n.Task, PathIDs: n.Relation.PathIDs, Children: []*TreeNode{}}
		parent := stack[len(stack)-1]
		parent.Children = append(parent.Children, node)
		stack = append(stack, node)
	}
	return top, nil
}

// Share binds taskID into toFolderID at stateID without copying the task.
// The task keeps its parent in the destination only when the parent is
// already bound there.
func (h Hierarchy) Share(ctx context.Context, q repo.DBTX, taskID, fromFolderID, toFolderID, stateID string) (domain.TaskRelation, error) {
	if fromFolderID == toFolderID {
		return domain.TaskRelation{}, domain.BadRequestf("task cannot be shared into its own folder")
	}
	src, err := h.Repo.GetRelation(ctx, q, fromFolderID, taskID)
	if err != nil {
		return domain.TaskRelation{}, err
	}
	if _, err := h.Repo.GetRelation(ctx, q, toFolderID, taskID); err == nil {
		return domain.TaskRelation{}, domain.BadRequestf("task %s is already in folder %s", taskID, toFolderID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.TaskRelation{}, err
	}
	rel := domain.TaskRelation{
		ID:              uuid.NewString(),
		FolderID:        toFolderID,
		ChildTaskID:     taskID,
		WorkflowStateID: stateID,
		PathIDs:         []string{taskID},
		Shared:          true,
		CreatedAt:       h.now(),
	}
	if src.ParentTaskID != nil {
		parent, err := h.Repo.GetRelation(ctx, q, toFolderID, *src.ParentTaskID)
		switch {
		case err == nil:
			rel.ParentTaskID = src.ParentTaskID
			rel.PathIDs = append(append([]string{}, parent.PathIDs...), taskID)
		case !errors.Is(err, domain.ErrNotFound):
			return rel, err
		}
	}
	return rel, h.Repo.InsertRelation(ctx, q, rel)
}

// Unshare removes the shared binding of taskID in folderID. Tasks bound under
// it in that folder become roots there.
func (h Hierarchy) Unshare(ctx context.Context, q repo.DBTX, taskID, folderID string) (domain.TaskRelation, error) {
	a, err := h.Arena(ctx, q, folderID)
	if err != nil {
		return domain.TaskRelation{}, err
	}
	rel, ok := a.Get(taskID)
	if !ok || !rel.Shared {
		return domain.TaskRelation{}, domain.NotFoundf("task %s is not shared into folder %s", taskID, folderID)
	}
	for _, cid := range append([]string{}, a.Children(taskID)...) {
		a.setParent(cid, nil)
		if _, err := h.persist(ctx, q, a, cid); err != nil {
			return *rel, err
		}
	}
	return *rel, h.Repo.DeleteRelation(ctx, q, rel.ID)
}
