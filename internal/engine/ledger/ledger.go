// Package ledger keeps the ordered task list of every (folder, state, view)
// scope. All methods run inside the caller's transaction.
package ledger

import (
	"context"
	"errors"

	"tasklane/internal/domain"
	"tasklane/internal/repo"
)

type Scope = repo.Scope

type Ledger struct {
	Repo repo.Repo
}

// Delta records a relocation: From is nil when the task had no row in the view.
type Delta struct {
	From *domain.TaskPosition `json:"from,omitempty"`
	To   domain.TaskPosition  `json:"to"`
}

// Relocate returns list with rel placed at index and every entry renumbered
// densely from zero. Any existing entry for rel is dropped first. index is
// clamped to the list length.
func Relocate(list []domain.TaskPosition, p domain.TaskPosition, index int) []domain.TaskPosition {
	out := make([]domain.TaskPosition, 0, len(list)+1)
	for _, e := range list {
		if e.TaskRelationID != p.TaskRelationID {
			out = append(out, e)
		}
	}
	if index > len(out) {
		index = len(out)
	}
	out = append(out, domain.TaskPosition{})
	copy(out[index+1:], out[index:])
	out[index] = p
	for i := range out {
		out[i].Index = i
	}
	return out
}

// Renumber assigns dense indices in the existing order.
func Renumber(list []domain.TaskPosition) []domain.TaskPosition {
	out := make([]domain.TaskPosition, len(list))
	copy(out, list)
	for i := range out {
		out[i].Index = i
	}
	return out
}

// CheckState fails with "task cannot be moved" unless stateID belongs to the
// folder's workflow.
func (l Ledger) CheckState(ctx context.Context, q repo.DBTX, folderID, stateID string) (domain.WorkflowState, error) {
	folder, err := l.Repo.GetFolder(ctx, q, folderID)
	if err != nil {
		return domain.WorkflowState{}, err
	}
	st, err := l.Repo.GetState(ctx, q, stateID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && st.WorkflowID != folder.WorkflowID) {
		return domain.WorkflowState{}, domain.BadRequestError{Message: domain.ReasonStateNotInFlow}
	}
	return st, err
}

// Move places the relation at index inside the target scope, shifting later
// entries. A row the relation already has in to.View is relocated, and the
// scope it leaves is renumbered so no gap is left behind.
func (l Ledger) Move(ctx context.Context, q repo.DBTX, relationID string, to Scope, index int) (Delta, error) {
	if index < 0 {
		return Delta{}, domain.BadRequestf("index must be zero or positive")
	}
	if _, err := l.CheckState(ctx, q, to.FolderID, to.WorkflowStateID); err != nil {
		return Delta{}, err
	}
	var delta Delta
	cur, err := l.Repo.GetPosition(ctx, q, relationID, to.View)
	switch {
	case err == nil:
		delta.From = &cur
	case !errors.Is(err, domain.ErrNotFound):
		return delta, err
	}
	if delta.From != nil && (cur.FolderID != to.FolderID || cur.WorkflowStateID != to.WorkflowStateID) {
		src, err := l.Repo.ListScope(ctx, q, Scope{FolderID: cur.FolderID, WorkflowStateID: cur.WorkflowStateID, View: to.View})
		if err != nil {
			return delta, err
		}
		rest := src[:0:0]
		for _, p := range src {
			if p.TaskRelationID != relationID {
				rest = append(rest, p)
			}
		}
		if err := l.write(ctx, q, src, Renumber(rest)); err != nil {
			return delta, err
		}
	}
	dst, err := l.Repo.ListScope(ctx, q, to)
	if err != nil {
		return delta, err
	}
	p := domain.TaskPosition{FolderID: to.FolderID, WorkflowStateID: to.WorkflowStateID, View: to.View, TaskRelationID: relationID, Index: -1}
	if delta.From != nil {
		p.TaskID = cur.TaskID
	}
	next := Relocate(dst, p, index)
	if err := l.write(ctx, q, dst, next); err != nil {
		return delta, err
	}
	for _, e := range next {
		if e.TaskRelationID == relationID {
			delta.To = e
		}
	}
	return delta, nil
}

// write persists entries of next whose index or scope differ from before.
func (l Ledger) write(ctx context.Context, q repo.DBTX, before, next []domain.TaskPosition) error {
	old := make(map[string]int, len(before))
	for _, p := range before {
		old[p.TaskRelationID] = p.Index
	}
	for _, p := range next {
		if idx, ok := old[p.TaskRelationID]; ok && idx == p.Index {
			continue
		}
		if err := l.Repo.PutPosition(ctx, q, p); err != nil {
			return err
		}
	}
	return nil
}

// Append puts the relation after the last entry of the scope.
func (l Ledger) Append(ctx context.Context, q repo.DBTX, relationID string, s Scope) (domain.TaskPosition, error) {
	list, err := l.Repo.ListScope(ctx, q, s)
	if err != nil {
		return domain.TaskPosition{}, err
	}
	p := domain.TaskPosition{FolderID: s.FolderID, WorkflowStateID: s.WorkflowStateID, View: s.View, TaskRelationID: relationID}
	for _, e := range list {
		if e.TaskRelationID == relationID {
			return e, nil
		}
		if e.Index >= p.Index {
			p.Index = e.Index + 1
		}
	}
	return p, l.Repo.PutPosition(ctx, q, p)
}

// Remove deletes the relation's row in view. Remaining rows keep their index.
func (l Ledger) Remove(ctx context.Context, q repo.DBTX, relationID, view string) error {
	return l.Repo.DeletePosition(ctx, q, relationID, view)
}

// RemoveAll deletes the relation's rows in every view.
func (l Ledger) RemoveAll(ctx context.Context, q repo.DBTX, relationID string) error {
	return l.Repo.DeleteRelationPositions(ctx, q, relationID)
}

// Ordered lists the scope by ascending stored index.
func (l Ledger) Ordered(ctx context.Context, q repo.DBTX, s Scope) ([]domain.TaskPosition, error) {
	return l.Repo.ListScope(ctx, q, s)
}

// Neighbors returns the active entries with the nearest lower and higher index
// in the relation's current scope. Rows of archived or deleted siblings are
// passed over. Without a view there are no neighbors.
func (l Ledger) Neighbors(ctx context.Context, q repo.DBTX, relationID, view string) (prev, next *domain.TaskPosition, err error) {
	if view == "" {
		return nil, nil, nil
	}
	cur, err := l.Repo.GetPosition(ctx, q, relationID, view)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	list, err := l.Repo.ListActiveScope(ctx, q, Scope{FolderID: cur.FolderID, WorkflowStateID: cur.WorkflowStateID, View: view})
	if err != nil {
		return nil, nil, err
	}
	prev, next = Adjacent(list, cur)
	return prev, next, nil
}

// Adjacent picks the neighbors of cur from an ordered scope, tolerating gaps.
func Adjacent(list []domain.TaskPosition, cur domain.TaskPosition) (prev, next *domain.TaskPosition) {
	for i := range list {
		e := list[i]
		if e.TaskRelationID == cur.TaskRelationID {
			continue
		}
		if e.Index < cur.Index && (prev == nil || e.Index > prev.Index) {
			prev = &e
		}
		if e.Index > cur.Index && (next == nil || e.Index < next.Index) {
			next = &e
		}
	}
	return prev, next
}
