package ledger_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasklane/internal/domain"
	"tasklane/internal/engine/ledger"
	"tasklane/internal/repo"
	"tasklane/internal/testutil"
)

func pos(rel string, idx int) domain.TaskPosition {
	return domain.TaskPosition{TaskRelationID: rel, Index: idx}
}

func ids(list []domain.TaskPosition) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.TaskRelationID
	}
	return out
}

func TestRelocate(t *testing.T) {
	base := []domain.TaskPosition{pos("a", 0), pos("b", 1), pos("c", 2)}
	cases := []struct {
		name  string
		rel   string
		index int
		want  []string
	}{
		{"insert front", "x", 0, []string{"x", "a", "b", "c"}},
		{"insert middle", "x", 2, []string{"a", "b", "x", "c"}},
		{"insert at end", "x", 3, []string{"a", "b", "c", "x"}},
		{"clamp past end", "x", 42, []string{"a", "b", "c", "x"}},
		{"move down", "a", 2, []string{"b", "c", "a"}},
		{"move up", "c", 0, []string{"c", "a", "b"}},
		{"same place", "b", 1, []string{"a", "b", "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ledger.Relocate(base, pos(tc.rel, -1), tc.index)
			if diff := cmp.Diff(tc.want, ids(got)); diff != "" {
				t.Fatalf("order mismatch (-want +got):\n%s", diff)
			}
			for i, p := range got {
				assert.Equal(t, i, p.Index)
			}
		})
	}
	assert.Equal(t, 2, base[2].Index, "input must not be modified")
}

func TestAdjacentToleratesGaps(t *testing.T) {
	list := []domain.TaskPosition{pos("a", 0), pos("b", 3), pos("c", 7)}
	prev, next := ledger.Adjacent(list, list[1])
	require.NotNil(t, prev)
	require.NotNil(t, next)
	assert.Equal(t, "a", prev.TaskRelationID)
	assert.Equal(t, "c", next.TaskRelationID)

	prev, next = ledger.Adjacent(list, list[0])
	assert.Nil(t, prev)
	assert.Equal(t, "b", next.TaskRelationID)
}

type env struct {
	ctx    context.Context
	db     *sql.DB
	ledger ledger.Ledger
}

func newEnv(t *testing.T) env {
	t.Helper()
	conn := testutil.Open(t)
	return env{ctx: context.Background(), db: conn, ledger: ledger.Ledger{Repo: repo.Repo{DB: conn}}}
}

// addTask inserts a task with its native relation and returns the relation id.
func (e env) addTask(t *testing.T, id, folder, state string) string {
	t.Helper()
	r := e.ledger.Repo
	require.NoError(t, r.InsertTask(e.ctx, e.db, domain.Task{
		ID: id, FolderID: folder, WorkflowStateID: state, OwnerID: "u1", Title: id,
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	}))
	relID := "rel-" + id
	require.NoError(t, r.InsertRelation(e.ctx, e.db, domain.TaskRelation{
		ID: relID, FolderID: folder, ChildTaskID: id, WorkflowStateID: state, PathIDs: []string{id}, CreatedAt: "2024-01-01T00:00:00Z",
	}))
	return relID
}

func (e env) order(t *testing.T, s ledger.Scope) []string {
	t.Helper()
	list, err := e.ledger.Ordered(e.ctx, e.db, s)
	require.NoError(t, err)
	out := make([]string, len(list))
	for i, p := range list {
		require.Equal(t, i, p.Index, "scope must be dense")
		out[i] = p.TaskID
	}
	return out
}

func TestMoveKeepsScopesDense(t *testing.T) {
	e := newEnv(t)
	todo := ledger.Scope{FolderID: "f1", WorkflowStateID: "s-todo", View: "board"}
	done := ledger.Scope{FolderID: "f1", WorkflowStateID: "s-done", View: "board"}
	rels := map[string]string{}
	for _, id := range []string{"a", "b", "c", "d"} {
		rels[id] = e.addTask(t, id, "f1", "s-todo")
		_, err := e.ledger.Append(e.ctx, e.db, rels[id], todo)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, e.order(t, todo))

	delta, err := e.ledger.Move(e.ctx, e.db, rels["d"], todo, 1)
	require.NoError(t, err)
	require.NotNil(t, delta.From)
	assert.Equal(t, 3, delta.From.Index)
	assert.Equal(t, 1, delta.To.Index)
	assert.Equal(t, []string{"a", "d", "b", "c"}, e.order(t, todo))

	delta, err = e.ledger.Move(e.ctx, e.db, rels["b"], done, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, delta.To.Index)
	assert.Equal(t, []string{"a", "d", "c"}, e.order(t, todo))
	assert.Equal(t, []string{"b"}, e.order(t, done))

	_, err = e.ledger.Move(e.ctx, e.db, rels["a"], done, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, e.order(t, done))
	assert.Equal(t, []string{"d", "c"}, e.order(t, todo))
}

func TestMoveRejectsForeignState(t *testing.T) {
	e := newEnv(t)
	rel := e.addTask(t, "a", "f1", "s-todo")
	_, err := e.ledger.Move(e.ctx, e.db, rel, ledger.Scope{FolderID: "f1", WorkflowStateID: "s2-todo", View: "board"}, 0)
	var bad domain.BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, domain.ReasonStateNotInFlow, bad.Message)

	_, err = e.ledger.Move(e.ctx, e.db, rel, ledger.Scope{FolderID: "f1", WorkflowStateID: "s-todo", View: "board"}, -1)
	require.ErrorAs(t, err, &bad)
}

func TestNeighbors(t *testing.T) {
	e := newEnv(t)
	todo := ledger.Scope{FolderID: "f1", WorkflowStateID: "s-todo", View: "list"}
	rels := map[string]string{}
	for _, id := range []string{"a", "b", "c"} {
		rels[id] = e.addTask(t, id, "f1", "s-todo")
		_, err := e.ledger.Append(e.ctx, e.db, rels[id], todo)
		require.NoError(t, err)
	}
	prev, next, err := e.ledger.Neighbors(e.ctx, e.db, rels["b"], "list")
	require.NoError(t, err)
	assert.Equal(t, "a", prev.TaskID)
	assert.Equal(t, "c", next.TaskID)

	prev, next, err = e.ledger.Neighbors(e.ctx, e.db, rels["b"], "")
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Nil(t, next)

	// removing a row leaves a gap that lookups step over
	require.NoError(t, e.ledger.Remove(e.ctx, e.db, rels["b"], "list"))
	prev, next, err = e.ledger.Neighbors(e.ctx, e.db, rels["c"], "list")
	require.NoError(t, err)
	assert.Equal(t, "a", prev.TaskID)
	assert.Nil(t, next)
	list, err := e.ledger.Ordered(e.ctx, e.db, todo)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, []int{list[0].Index, list[1].Index})
}
