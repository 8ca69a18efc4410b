package hierarchy

import (
	"slices"

	"tasklane/internal/domain"
)

// Arena indexes the relations of one folder by task id.
type Arena struct {
	byTask   map[string]*domain.TaskRelation
	children map[string][]string
	roots    []string
}

func NewArena(rels []domain.TaskRelation) *Arena {
	a := &Arena{
		byTask:   make(map[string]*domain.TaskRelation, len(rels)),
		children: map[string][]string{},
	}
	for i := range rels {
		rel := rels[i]
		a.byTask[rel.ChildTaskID] = &rel
	}
	for _, rel := range rels {
		if rel.ParentTaskID != nil {
			if _, ok := a.byTask[*rel.ParentTaskID]; ok {
				a.children[*rel.ParentTaskID] = append(a.children[*rel.ParentTaskID], rel.ChildTaskID)
				continue
			}
		}
		a.roots = append(a.roots, rel.ChildTaskID)
	}
	return a
}

func (a *Arena) Get(taskID string) (*domain.TaskRelation, bool) {
	rel, ok := a.byTask[taskID]
	return rel, ok
}

func (a *Arena) Children(taskID string) []string {
	return a.children[taskID]
}

func (a *Arena) Roots() []string {
	return a.roots
}

// IsAncestor reports whether ancestorID is on taskID's parent chain.
func (a *Arena) IsAncestor(ancestorID, taskID string) bool {
	seen := map[string]bool{}
	cur := taskID
	for {
		rel, ok := a.byTask[cur]
		if !ok || rel.ParentTaskID == nil || seen[cur] {
			return false
		}
		seen[cur] = true
		if *rel.ParentTaskID == ancestorID {
			return true
		}
		cur = *rel.ParentTaskID
	}
}

// Descendants lists every task below taskID, breadth first.
func (a *Arena) Descendants(taskID string) []string {
	var out []string
	queue := slices.Clone(a.children[taskID])
	seen := map[string]bool{taskID: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		queue = append(queue, a.children[id]...)
	}
	return out
}

// setParent rewires taskID under parentID (nil for root) in the index.
func (a *Arena) setParent(taskID string, parentID *string) {
	rel := a.byTask[taskID]
	if rel.ParentTaskID != nil {
		old := *rel.ParentTaskID
		a.children[old] = slices.DeleteFunc(a.children[old], func(id string) bool { return id == taskID })
	} else {
		a.roots = slices.DeleteFunc(a.roots, func(id string) bool { return id == taskID })
	}
	rel.ParentTaskID = parentID
	if parentID != nil {
		a.children[*parentID] = append(a.children[*parentID], taskID)
	} else {
		a.roots = append(a.roots, taskID)
	}
}

// repath recomputes the path of taskID and all its descendants and returns
// the relations whose path changed.
func (a *Arena) repath(taskID string) []domain.TaskRelation {
	var changed []domain.TaskRelation
	var walk func(id string, parentPath []string)
	walk = func(id string, parentPath []string) {
		rel := a.byTask[id]
		path := append(slices.Clone(parentPath), id)
		if !slices.Equal(path, rel.PathIDs) {
			rel.PathIDs = path
			changed = append(changed, *rel)
		}
		for _, c := range a.children[id] {
			walk(c, path)
		}
	}
	var parentPath []string
	if rel := a.byTask[taskID]; rel.ParentTaskID != nil {
		if p, ok := a.byTask[*rel.ParentTaskID]; ok {
			parentPath = p.PathIDs
		}
	}
	walk(taskID, parentPath)
	return changed
}
