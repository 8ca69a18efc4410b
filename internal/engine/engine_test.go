package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"tasklane/internal/app"
	"tasklane/internal/approval"
	"tasklane/internal/config"
	"tasklane/internal/domain"
	"tasklane/internal/engine"
	"tasklane/internal/engine/auth"
	"tasklane/internal/engine/constraint"
	"tasklane/internal/engine/hierarchy"
	"tasklane/internal/testutil"
)

var (
	rc1     = app.RequestContext{TenantID: "t1", UserID: testutil.U1}
	rc2     = app.RequestContext{TenantID: "t1", UserID: testutil.U2}
	rcLead  = app.RequestContext{TenantID: "t1", UserID: testutil.U3, Roles: []string{"lead"}}
	rcOther = app.RequestContext{TenantID: "t2", UserID: testutil.U1}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	ids    map[string]string
	names  map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn := testutil.Open(t)
	eng := engine.New(conn, config.Default(), nil).
		WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })
	return &testEnv{Engine: eng, Ctx: context.Background(), ids: map[string]string{}, names: map[string]string{}}
}

// create adds a task called name in folder/state as U1, optionally under the
// task called parent.
func (env *testEnv) create(t *testing.T, name, folder, state, parent string, mods ...func(*engine.CreateTaskOptions)) string {
	t.Helper()
	opts := engine.CreateTaskOptions{FolderID: folder, WorkflowStateID: state, Title: name}
	if parent != "" {
		p := env.id(parent)
		opts.ParentTaskID = &p
	}
	for _, m := range mods {
		m(&opts)
	}
	d, err := env.Engine.CreateTask(env.Ctx, rc1, opts)
	require.NoError(t, err, "create %s", name)
	env.ids[name] = d.ID
	env.names[d.ID] = name
	return d.ID
}

func (env *testEnv) id(name string) string { return env.ids[name] }

// order lists the active task names of a scope in ledger order.
func (env *testEnv) order(t *testing.T, folder, state, view string) []string {
	t.Helper()
	entries, err := env.Engine.FolderTasks(env.Ctx, rc1, folder, engine.FolderTasksOptions{WorkflowStateID: state, View: view})
	require.NoError(t, err)
	out := []string{}
	for _, e := range entries {
		out = append(out, env.names[e.Task.ID])
	}
	return out
}

// indexes lists the raw ledger indexes of a scope.
func (env *testEnv) indexes(t *testing.T, folder, state, view string) []int {
	t.Helper()
	entries, err := env.Engine.FolderTasks(env.Ctx, rc1, folder, engine.FolderTasksOptions{WorkflowStateID: state, View: view, IncludeInactive: true})
	require.NoError(t, err)
	out := []int{}
	for _, e := range entries {
		out = append(out, e.Position.Index)
	}
	return out
}

func (env *testEnv) task(t *testing.T, name string) domain.Task {
	t.Helper()
	task, err := env.Engine.Repo.GetTask(env.Ctx, env.Engine.DB, env.id(name))
	require.NoError(t, err)
	return task
}

func (env *testEnv) move(name, folder, state string, index int) error {
	_, err := env.Engine.MoveTask(env.Ctx, rc1, env.id(name), engine.MoveTaskOptions{FolderID: folder, WorkflowStateID: state, Index: index})
	return err
}

func ptr[T any](v T) *T { return &v }

func requireBadRequest(t *testing.T, err error) domain.BadRequestError {
	t.Helper()
	var bad domain.BadRequestError
	require.ErrorAs(t, err, &bad)
	return bad
}

func requireConstraint(t *testing.T, err error, reason string) {
	t.Helper()
	var ce domain.ConstraintError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, reason, ce.Reason)
}

// engineCase is one entry of the registry below. setup and teardown are
// optional.
type engineCase struct {
	name     string
	setup    func(t *testing.T, env *testEnv)
	teardown func(t *testing.T, env *testEnv)
	test     func(t *testing.T, env *testEnv)
}

// threeTodos creates a, b and c in f1/todo.
func threeTodos(t *testing.T, env *testEnv) {
	for _, n := range []string{"a", "b", "c"} {
		env.create(t, n, "f1", "s-todo", "")
	}
}

// family creates p with children c1 and c2, and g under c1, in f1/todo.
func family(t *testing.T, env *testEnv) {
	env.create(t, "p", "f1", "s-todo", "")
	env.create(t, "c1", "f1", "s-todo", "p")
	env.create(t, "c2", "f1", "s-todo", "p")
	env.create(t, "g", "f1", "s-todo", "c1")
}

var registry = []engineCase{
	{
		name:  "create appends in every view and makes the owner first follower",
		setup: threeTodos,
		test: func(t *testing.T, env *testEnv) {
			for _, v := range []string{"board", "list", "gantt"} {
				assert.Equal(t, []string{"a", "b", "c"}, env.order(t, "f1", "s-todo", v))
			}
			d, err := env.Engine.GetTask(env.Ctx, rc1, env.id("a"), "", "")
			require.NoError(t, err)
			assert.Equal(t, []string{testutil.U1}, d.Followers)
			assert.Equal(t, []string{env.id("a")}, d.PathIDs)
			actions, err := env.Engine.TaskActions(env.Ctx, rc1, env.id("a"), 0)
			require.NoError(t, err)
			require.Len(t, actions, 1)
			assert.Equal(t, "CREATE", actions[0].Action)
		},
	},
	{
		name:  "create at an index only shifts that view",
		setup: threeTodos,
		test: func(t *testing.T, env *testEnv) {
			env.create(t, "d", "f1", "s-todo", "", func(o *engine.CreateTaskOptions) {
				o.View, o.Index = "board", ptr(1)
			})
			assert.Equal(t, []string{"a", "d", "b", "c"}, env.order(t, "f1", "s-todo", "board"))
			assert.Equal(t, []string{"a", "b", "c", "d"}, env.order(t, "f1", "s-todo", "list"))
		},
	},
	{
		name: "create validates input",
		test: func(t *testing.T, env *testEnv) {
			cases := map[string]engine.CreateTaskOptions{
				"malformed assignee": {FolderID: "f1", WorkflowStateID: "s-todo", Title: "x", Assignees: []string{"u-nope"}},
				"missing title":      {FolderID: "f1", WorkflowStateID: "s-todo"},
				"end before start":   {FolderID: "f1", WorkflowStateID: "s-todo", Title: "x", StartDate: ptr("2024-02-01T00:00:00Z"), EndDate: ptr("2024-01-01T00:00:00Z")},
				"foreign state":      {FolderID: "f1", WorkflowStateID: "s2-todo", Title: "x"},
				"unknown view":       {FolderID: "f1", WorkflowStateID: "s-todo", Title: "x", View: "calendar"},
			}
			for name, opts := range cases {
				_, err := env.Engine.CreateTask(env.Ctx, rc1, opts)
				var bad domain.BadRequestError
				assert.ErrorAs(t, err, &bad, name)
			}
			d, err := env.Engine.CreateTask(env.Ctx, rc1, engine.CreateTaskOptions{
				FolderID: "f1", WorkflowStateID: "s-todo", Title: "x",
				Assignees: []string{testutil.U2, testutil.U2, testutil.U3},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{testutil.U2, testutil.U3}, d.Assignees)
			assert.Equal(t, []string{testutil.U1, testutil.U2, testutil.U3}, d.Followers)
		},
	},
	{
		name:  "move relocates densely and resolves neighbors per view",
		setup: threeTodos,
		test: func(t *testing.T, env *testEnv) {
			res, err := env.Engine.MoveTask(env.Ctx, rc1, env.id("c"), engine.MoveTaskOptions{FolderID: "f1", WorkflowStateID: "s-todo", View: "board", Index: 0})
			require.NoError(t, err)
			assert.Equal(t, 2, res.Delta.From.Index)
			assert.Equal(t, 0, res.Delta.To.Index)
			assert.Equal(t, []string{"c", "a", "b"}, env.order(t, "f1", "s-todo", "board"))
			assert.Equal(t, []int{0, 1, 2}, env.indexes(t, "f1", "s-todo", "board"))
			assert.Equal(t, []string{"a", "b", "c"}, env.order(t, "f1", "s-todo", "list"))

			d, err := env.Engine.GetTask(env.Ctx, rc1, env.id("a"), "f1", "board")
			require.NoError(t, err)
			require.NotNil(t, d.PrevTaskID)
			require.NotNil(t, d.NextTaskID)
			assert.Equal(t, env.id("c"), *d.PrevTaskID)
			assert.Equal(t, env.id("b"), *d.NextTaskID)

			d, err = env.Engine.GetTask(env.Ctx, rc1, env.id("a"), "f1", "")
			require.NoError(t, err)
			assert.Nil(t, d.PrevTaskID, "no view, no neighbors")
			assert.Nil(t, d.NextTaskID)
		},
	},
	{
		name:  "changing state appends to the new state in other views",
		setup: threeTodos,
		test: func(t *testing.T, env *testEnv) {
			require.NoError(t, env.move("b", "f1", "s-blocked", 0))
			require.NoError(t, env.move("a", "f1", "s-blocked", 0))
			assert.Equal(t, []string{"a", "b"}, env.order(t, "f1", "s-blocked", "board"))
			assert.Equal(t, []string{"b", "a"}, env.order(t, "f1", "s-blocked", "list"))
			assert.Equal(t, []string{"c"}, env.order(t, "f1", "s-todo", "gantt"))
			assert.Equal(t, "s-blocked", env.task(t, "a").WorkflowStateID)
			assert.Equal(t, "task cannot be moved", requireBadRequest(t, env.move("a", "f1", "s2-todo", 0)).Message)
			requireBadRequest(t, env.move("a", "f1", "s-todo", -1))
		},
	},
	{
		name:  "swimlane constraints gate moves by user and role",
		setup: threeTodos,
		test: func(t *testing.T, env *testEnv) {
			_, err := env.Engine.MoveTask(env.Ctx, rc2, env.id("a"), engine.MoveTaskOptions{FolderID: "f1", WorkflowStateID: "s-done"})
			requireConstraint(t, err, domain.ReasonSwimlaneMove)
			_, err = env.Engine.MoveTask(env.Ctx, rcLead, env.id("a"), engine.MoveTaskOptions{FolderID: "f1", WorkflowStateID: "s-done"})
			require.NoError(t, err)
			_, err = env.Engine.MoveTask(env.Ctx, rc2, env.id("b"), engine.MoveTaskOptions{FolderID: "f1", WorkflowStateID: "s-blocked"})
			require.NoError(t, err)
			_, err = env.Engine.MoveTask(env.Ctx, rc2, env.id("b"), engine.MoveTaskOptions{FolderID: "f1", WorkflowStateID: "s-done"})
			require.NoError(t, err, "blocked is not a constrained swimlane")
			_, err = env.Engine.UpdateTask(env.Ctx, rc2, env.id("c"), engine.UpdateTaskOptions{WorkflowStateID: ptr("s-done")})
			requireConstraint(t, err, domain.ReasonSwimlaneMove)
		},
	},
	{
		name: "creation is denied in a swimlane closed to the caller",
		setup: func(t *testing.T, env *testEnv) {
			wf, err := env.Engine.GetWorkflow(env.Ctx, rc1, "wf1")
			require.NoError(t, err)
			patches := make([]constraint.StatePatch, 0, len(wf.States))
			for _, st := range wf.States {
				p := constraint.StatePatch{ID: st.ID, Code: st.Code}
				if st.Code == "blocked" {
					p.Updated = true
					p.Constraints = []domain.StateConstraint{{SwimlaneConstraint: []string{"blocked"}, UserConstraint: []string{testutil.U1}}}
				}
				patches = append(patches, p)
			}
			_, err = env.Engine.UpdateWorkflow(env.Ctx, rc1, "wf1", patches)
			require.NoError(t, err)
		},
		test: func(t *testing.T, env *testEnv) {
			_, err := env.Engine.CreateTask(env.Ctx, rc2, engine.CreateTaskOptions{FolderID: "f1", WorkflowStateID: "s-blocked", Title: "x"})
			requireConstraint(t, err, domain.ReasonSwimlaneCreate)
			env.create(t, "ok", "f1", "s-blocked", "")
		},
	},
	{
		name: "approval gate blocks moves until the instance is resolved",
		setup: func(t *testing.T, env *testEnv) {
			env.create(t, "a", "f1", "s-todo", "")
		},
		test: func(t *testing.T, env *testEnv) {
			require.NoError(t, env.move("a", "f1", "s-review", 0))
			d, err := env.Engine.GetTask(env.Ctx, rc1, env.id("a"), "", "")
			require.NoError(t, err)
			require.NotNil(t, d.Approval)
			assert.True(t, d.Approval.Pending)

			requireConstraint(t, env.move("a", "f1", "s-blocked", 0), domain.ReasonInApproval)
			require.NoError(t, env.move("a", "f1", "s-review", 0), "staying in the gated state is fine")

			bridge := env.Engine.Approvals
			require.NoError(t, bridge.OnApprovalEvent(env.Ctx, approval.Event{ID: "ap-1", TenantID: "t1", Status: approval.StatusCreated,
				MetaData: approval.MetaData{CorrelationID: d.Approval.CorrelationID}}))
			requireConstraint(t, env.move("a", "f1", "s-blocked", 0), domain.ReasonInApproval)

			require.NoError(t, bridge.OnApprovalEvent(env.Ctx, approval.Event{ID: "ap-1", TenantID: "t1", Status: approval.StatusRejected}))
			require.NoError(t, env.move("a", "f1", "s-blocked", 0))

			jobs, err := env.Engine.Repo.ListJobs(env.Ctx, env.Engine.DB, env.Engine.Config.Approval.RequestQueue)
			require.NoError(t, err)
			assert.Len(t, jobs, 1, "re-entering the gated state does not ask again")
		},
	},
	{
		name: "gated task may go to the accept state",
		setup: func(t *testing.T, env *testEnv) {
			env.create(t, "a", "f1", "s-todo", "")
		},
		test: func(t *testing.T, env *testEnv) {
			require.NoError(t, env.move("a", "f1", "s-review", 0))
			require.NoError(t, env.move("a", "f1", "s-done", 0))
		},
	},
	{
		name:  "reparenting through a move cascades paths",
		setup: family,
		test: func(t *testing.T, env *testEnv) {
			env.create(t, "q", "f1", "s-todo", "")
			_, err := env.Engine.MoveTask(env.Ctx, rc1, env.id("c1"), engine.MoveTaskOptions{
				FolderID: "f1", WorkflowStateID: "s-todo", ParentTaskOldID: ptr(env.id("p")), ParentTaskNewID: ptr(env.id("q")),
			})
			require.NoError(t, err)
			d, err := env.Engine.GetTask(env.Ctx, rc1, env.id("g"), "", "")
			require.NoError(t, err)
			assert.Equal(t, []string{env.id("q"), env.id("c1"), env.id("g")}, d.PathIDs)
			assert.Equal(t, env.id("q"), *env.task(t, "c1").ParentTaskID)

			_, err = env.Engine.MoveTask(env.Ctx, rc1, env.id("c1"), engine.MoveTaskOptions{
				FolderID: "f1", WorkflowStateID: "s-todo", ParentTaskOldID: ptr(env.id("p")),
			})
			requireBadRequest(t, err)

			_, err = env.Engine.MoveTask(env.Ctx, rc1, env.id("q"), engine.MoveTaskOptions{
				FolderID: "f1", WorkflowStateID: "s-todo", ParentTaskNewID: ptr(env.id("g")),
			})
			requireBadRequest(t, err)

			_, err = env.Engine.MoveTask(env.Ctx, rc1, env.id("c1"), engine.MoveTaskOptions{
				FolderID: "f1", WorkflowStateID: "s-todo", ParentTaskOldID: ptr(env.id("q")),
			})
			require.NoError(t, err)
			d, err = env.Engine.GetTask(env.Ctx, rc1, env.id("g"), "", "")
			require.NoError(t, err)
			assert.Equal(t, []string{env.id("c1"), env.id("g")}, d.PathIDs)
		},
	},
	{
		name:  "subtree tree honours visibility flags",
		setup: family,
		test: func(t *testing.T, env *testEnv) {
			_, err := env.Engine.ArchiveTask(env.Ctx, rc1, env.id("c2"), "f1", "")
			require.NoError(t, err)
			names := func(n *hierarchy.TreeNode) []string {
				var out []string
				var walk func(n *hierarchy.TreeNode)
				walk = func(n *hierarchy.TreeNode) {
					out = append(out, env.names[n.Task.ID])
					for _, c := range n.Children {
						walk(c)
					}
				}
				walk(n)
				return out
			}
			tree, err := env.Engine.TaskTree(env.Ctx, rc1, env.id("p"), engine.TreeOptions{SubtreeOptions: hierarchy.SubtreeOptions{AllChildren: true}})
			require.NoError(t, err)
			if diff := cmp.Diff([]string{"p", "c1", "g"}, names(tree)); diff != "" {
				t.Fatalf("tree mismatch (-want +got):\n%s", diff)
			}
			tree, err = env.Engine.TaskTree(env.Ctx, rc1, env.id("p"), engine.TreeOptions{FolderID: "f1", SubtreeOptions: hierarchy.SubtreeOptions{ArchivedChildren: true}})
			require.NoError(t, err)
			if diff := cmp.Diff([]string{"p", "c1", "c2"}, names(tree)); diff != "" {
				t.Fatalf("direct children mismatch (-want +got):\n%s", diff)
			}
		},
	},
	{
		name:  "restore brings back only the archive group",
		setup: family,
		test: func(t *testing.T, env *testEnv) {
			first, err := env.Engine.ArchiveTask(env.Ctx, rc1, env.id("c2"), "f1", "later")
			require.NoError(t, err)
			second, err := env.Engine.ArchiveTask(env.Ctx, rc1, env.id("p"), "f1", "done")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{env.id("p"), env.id("c1"), env.id("g")}, second.TaskIDs)
			assert.NotEqual(t, first.GroupID, second.GroupID)

			_, err = env.Engine.RestoreArchived(env.Ctx, rc1, env.id("c1"), "f1", nil)
			requireBadRequest(t, err)

			res, err := env.Engine.RestoreArchived(env.Ctx, rc1, env.id("p"), "f1", nil)
			require.NoError(t, err)
			assert.ElementsMatch(t, second.TaskIDs, res.TaskIDs)
			assert.True(t, env.task(t, "g").Active())
			assert.False(t, env.task(t, "c2").Active(), "archived separately")
			assert.Equal(t, "later", *env.task(t, "c2").ArchivedWhy)
			assert.Equal(t, []string{"p", "c1", "g"}, env.order(t, "f1", "s-todo", "board"))
		},
	},
	{
		name:  "restore with explicit children",
		setup: family,
		test: func(t *testing.T, env *testEnv) {
			_, err := env.Engine.DeleteTask(env.Ctx, rc1, env.id("p"), "f1", "cleanup")
			require.NoError(t, err)
			_, err = env.Engine.RestoreDeleted(env.Ctx, rc1, env.id("p"), "f1", []string{env.id("g")})
			requireBadRequest(t, err)

			res, err := env.Engine.RestoreDeleted(env.Ctx, rc1, env.id("p"), "f1", []string{env.id("c2")})
			require.NoError(t, err)
			assert.Equal(t, []string{env.id("p"), env.id("c2")}, res.TaskIDs)
			assert.True(t, env.task(t, "c2").Active())
			assert.False(t, env.task(t, "c1").Active())
			assert.Equal(t, "cleanup", *env.task(t, "c1").DeleteReason)
		},
	},
	{
		name:  "neighbors pass over archived and deleted siblings",
		setup: threeTodos,
		test: func(t *testing.T, env *testEnv) {
			neighbors := func(name string) (prev, next string) {
				d, err := env.Engine.GetTask(env.Ctx, rc1, env.id(name), "f1", "board")
				require.NoError(t, err)
				if d.PrevTaskID != nil {
					prev = env.names[*d.PrevTaskID]
				}
				if d.NextTaskID != nil {
					next = env.names[*d.NextTaskID]
				}
				return prev, next
			}
			_, err := env.Engine.ArchiveTask(env.Ctx, rc1, env.id("b"), "f1", "")
			require.NoError(t, err)
			prev, _ := neighbors("c")
			assert.Equal(t, "a", prev)
			_, next := neighbors("a")
			assert.Equal(t, "c", next)

			_, err = env.Engine.RestoreArchived(env.Ctx, rc1, env.id("b"), "f1", nil)
			require.NoError(t, err)
			prev, _ = neighbors("c")
			assert.Equal(t, "b", prev)

			_, err = env.Engine.DeleteTask(env.Ctx, rc1, env.id("a"), "f1", "")
			require.NoError(t, err)
			prev, next = neighbors("b")
			assert.Empty(t, prev)
			assert.Equal(t, "c", next)
		},
	},
	{
		name: "folder window orders dates across offsets",
		setup: func(t *testing.T, env *testEnv) {
			env.create(t, "a", "f1", "s-todo", "", func(o *engine.CreateTaskOptions) {
				o.StartDate, o.EndDate = ptr("2024-01-01T05:00:00+09:00"), ptr("2024-01-01T06:00:00+09:00")
			})
			env.create(t, "b", "f1", "s-todo", "", func(o *engine.CreateTaskOptions) {
				o.StartDate, o.EndDate = ptr("2024-01-01T00:00:00Z"), ptr("2024-01-01T01:00:00Z")
			})
		},
		test: func(t *testing.T, env *testEnv) {
			assert.Equal(t, "2023-12-31T20:00:00Z", *env.task(t, "a").StartDate)
			f, err := env.Engine.Repo.GetFolder(env.Ctx, env.Engine.DB, "f1")
			require.NoError(t, err)
			assert.Equal(t, "2023-12-31T20:00:00Z", *f.StartDate)
			assert.Equal(t, "2024-01-01T01:00:00Z", *f.EndDate)

			_, err = env.Engine.UpdateTask(env.Ctx, rc1, env.id("b"), engine.UpdateTaskOptions{EndDate: ptr("2024-01-01T03:00:00-05:00")})
			require.NoError(t, err)
			f, err = env.Engine.Repo.GetFolder(env.Ctx, env.Engine.DB, "f1")
			require.NoError(t, err)
			assert.Equal(t, "2024-01-01T08:00:00Z", *f.EndDate)
		},
	},
	{
		name: "archive cancels the approval and recomputes the folder window",
		setup: func(t *testing.T, env *testEnv) {
			env.create(t, "a", "f1", "s-todo", "", func(o *engine.CreateTaskOptions) {
				o.StartDate, o.EndDate = ptr("2024-01-01T00:00:00Z"), ptr("2024-01-10T00:00:00Z")
			})
			env.create(t, "b", "f1", "s-todo", "", func(o *engine.CreateTaskOptions) {
				o.StartDate, o.EndDate = ptr("2024-01-05T00:00:00Z"), ptr("2024-02-01T00:00:00Z")
			})
		},
		test: func(t *testing.T, env *testEnv) {
			f, err := env.Engine.Repo.GetFolder(env.Ctx, env.Engine.DB, "f1")
			require.NoError(t, err)
			assert.Equal(t, "2024-02-01T00:00:00Z", *f.EndDate)

			require.NoError(t, env.move("b", "f1", "s-review", 0))
			_, err = env.Engine.ArchiveTask(env.Ctx, rc1, env.id("b"), "f1", "")
			require.NoError(t, err)

			f, err = env.Engine.Repo.GetFolder(env.Ctx, env.Engine.DB, "f1")
			require.NoError(t, err)
			assert.Equal(t, "2024-01-01T00:00:00Z", *f.StartDate)
			assert.Equal(t, "2024-01-10T00:00:00Z", *f.EndDate)

			gate, err := env.Engine.Repo.ActiveGate(env.Ctx, env.Engine.DB, env.id("b"))
			require.NoError(t, err)
			assert.Nil(t, gate)
			jobs, err := env.Engine.Repo.ListJobs(env.Ctx, env.Engine.DB, env.Engine.Config.Approval.CancelQueue)
			require.NoError(t, err)
			assert.Len(t, jobs, 1)

			_, err = env.Engine.ArchiveTask(env.Ctx, rc1, env.id("b"), "f1", "")
			requireBadRequest(t, err)
		},
	},
	{
		name:  "delete many is all or nothing and capped",
		setup: family,
		test: func(t *testing.T, env *testEnv) {
			ids := make([]string, 1001)
			for i := range ids {
				ids[i] = env.id("p")
			}
			_, err := env.Engine.DeleteMany(env.Ctx, rc1, "f1", ids, "")
			requireBadRequest(t, err)
			assert.True(t, env.task(t, "p").Active())

			_, err = env.Engine.DeleteMany(env.Ctx, rc1, "f1", []string{env.id("c2"), "missing"}, "")
			require.ErrorIs(t, err, domain.ErrNotFound)
			assert.True(t, env.task(t, "c2").Active(), "rolled back")

			res, err := env.Engine.DeleteMany(env.Ctx, rc1, "f1", []string{env.id("p"), env.id("g")}, "")
			require.NoError(t, err)
			require.Len(t, res, 1, "g went with p")
			assert.Len(t, res[0].TaskIDs, 4)
		},
	},
	{
		name: "share then reparent in the destination leaves the source binding alone",
		setup: func(t *testing.T, env *testEnv) {
			env.create(t, "x", "f1", "s-todo", "")
			env.create(t, "y", "f2", "s-todo", "")
		},
		test: func(t *testing.T, env *testEnv) {
			d, err := env.Engine.ShareTask(env.Ctx, rc1, env.id("x"), engine.ShareOptions{FromFolderID: "f1", ToFolderID: "f2", WorkflowStateID: "s-blocked"})
			require.NoError(t, err)
			assert.True(t, d.Relation.Shared)
			assert.Equal(t, []string{"x"}, env.order(t, "f2", "s-blocked", "list"))

			_, err = env.Engine.MoveTask(env.Ctx, rc1, env.id("x"), engine.MoveTaskOptions{FolderID: "f2", WorkflowStateID: "s-todo", ParentTaskNewID: ptr(env.id("y"))})
			require.NoError(t, err)
			moved, err := env.Engine.GetTask(env.Ctx, rc1, env.id("x"), "f2", "")
			require.NoError(t, err)
			assert.Equal(t, []string{env.id("y"), env.id("x")}, moved.PathIDs)

			home, err := env.Engine.GetTask(env.Ctx, rc1, env.id("x"), "f1", "")
			require.NoError(t, err)
			assert.Nil(t, home.Relation.ParentTaskID)
			assert.Equal(t, "s-todo", home.Relation.WorkflowStateID)
			assert.Nil(t, home.ParentTaskID, "the task row follows its home folder only")
			rels, err := env.Engine.Repo.ListTaskRelations(env.Ctx, env.Engine.DB, env.id("x"))
			require.NoError(t, err)
			assert.Len(t, rels, 2)

			require.NoError(t, env.Engine.UnshareTask(env.Ctx, rc1, env.id("x"), "f2"))
			assert.Equal(t, []string{"y"}, env.order(t, "f2", "s-todo", "board"))
			require.ErrorIs(t, env.Engine.UnshareTask(env.Ctx, rc1, env.id("x"), "f2"), domain.ErrNotFound)
			require.ErrorIs(t, env.Engine.UnshareTask(env.Ctx, rc1, env.id("x"), "f1"), domain.ErrNotFound)
		},
	},
	{
		name: "move one carries the subtree and maps states by code",
		setup: func(t *testing.T, env *testEnv) {
			env.create(t, "p", "f1", "s-blocked", "")
			env.create(t, "c", "f1", "s-done", "p")
			env.create(t, "k", "f1", "s-blocked", "c")
			env.create(t, "stay", "f1", "s-todo", "")
		},
		test: func(t *testing.T, env *testEnv) {
			_, err := env.Engine.MoveOne(env.Ctx, rc2, env.id("p"), engine.MoveOneOptions{FromFolderID: "f1", ToFolderID: "f3", WorkflowStateID: "s2-later"})
			var forbidden auth.ForbiddenError
			require.ErrorAs(t, err, &forbidden, "U2 is not in sp2")

			d, err := env.Engine.MoveOne(env.Ctx, rc1, env.id("p"), engine.MoveOneOptions{FromFolderID: "f1", ToFolderID: "f3", WorkflowStateID: "s2-later"})
			require.NoError(t, err)
			assert.Equal(t, "f3", d.FolderID)
			assert.Equal(t, "s2-later", d.WorkflowStateID)
			assert.Equal(t, "f3", env.task(t, "c").FolderID)
			assert.Equal(t, "s2-done", env.task(t, "c").WorkflowStateID)
			assert.Equal(t, "s2-later", env.task(t, "k").WorkflowStateID, "blocked has no match")
			assert.Equal(t, []string{"p", "k"}, env.order(t, "f3", "s2-later", "board"))

			g, err := env.Engine.GetTask(env.Ctx, rc1, env.id("k"), "", "")
			require.NoError(t, err)
			assert.Equal(t, []string{env.id("p"), env.id("c"), env.id("k")}, g.PathIDs)
			assert.Empty(t, env.order(t, "f1", "s-blocked", "board"))
			assert.Equal(t, []string{"stay"}, env.order(t, "f1", "s-todo", "board"))
		},
	},
	{
		name: "move to space clones, remaps and drops outsiders",
		setup: func(t *testing.T, env *testEnv) {
			id := env.create(t, "a", "f1", "s-todo", "", func(o *engine.CreateTaskOptions) {
				o.Assignees = []string{testutil.U1, testutil.U2}
			})
			env.create(t, "sub", "f1", "s-done", "a")
			r, db, ctx := env.Engine.Repo, env.Engine.DB, env.Ctx
			require.NoError(t, r.TagTask(ctx, db, id, "sp1:bug"))
			require.NoError(t, r.TagTask(ctx, db, id, "sp1:feature"))
			require.NoError(t, r.SetFieldValue(ctx, db, id, domain.CustomFieldValue{FieldID: "sp1:points", Value: "3"}))
			require.NoError(t, r.InsertComment(ctx, db, domain.Comment{ID: "cm1", TaskID: id, AuthorID: testutil.U2, Body: "hi", CreatedAt: "2024-01-01T00:00:00Z"}))
			require.NoError(t, r.InsertAttachment(ctx, db, domain.Attachment{ID: "at1", TaskID: id, FileName: "a.txt", StorageKey: "k/a.txt", CreatedAt: "2024-01-01T00:00:00Z"}))
			require.NoError(t, r.AddFollower(ctx, db, id, testutil.U3))
		},
		test: func(t *testing.T, env *testEnv) {
			res, err := env.Engine.MoveToSpace(env.Ctx, rc1, env.id("a"), engine.ReplicateOptions{
				FromFolderID: "f1", ToFolderID: "f3", WorkflowStateID: "s2-todo",
				Subtasks: true, Tags: true, CustomFields: true, Comments: true, Attachments: true, Followers: true,
			})
			require.NoError(t, err)
			clone := res.Task
			assert.NotEqual(t, env.id("a"), clone.ID)
			assert.Equal(t, "f3", clone.FolderID)
			assert.Equal(t, []string{testutil.U1}, clone.Assignees)
			assert.Equal(t, []string{testutil.U1}, clone.Followers)
			require.Len(t, res.IDs, 2)

			r, db, ctx := env.Engine.Repo, env.Engine.DB, env.Ctx
			tags, err := r.ListTaskTags(ctx, db, clone.ID)
			require.NoError(t, err)
			require.Len(t, tags, 1)
			assert.Equal(t, "sp2:bug", tags[0].ID)
			_, values, err := r.TaskFieldValues(ctx, db, clone.ID)
			require.NoError(t, err)
			assert.Equal(t, []domain.CustomFieldValue{{FieldID: "sp2:points", Value: "3"}}, values)
			comments, err := r.ListComments(ctx, db, clone.ID)
			require.NoError(t, err)
			assert.Len(t, comments, 1)
			files, err := r.ListAttachments(ctx, db, clone.ID)
			require.NoError(t, err)
			assert.Len(t, files, 1)

			sub, err := r.GetTask(ctx, db, res.IDs[env.id("sub")])
			require.NoError(t, err)
			assert.Equal(t, "s2-done", sub.WorkflowStateID)
			assert.Equal(t, clone.ID, *sub.ParentTaskID)

			orig := env.task(t, "a")
			require.NotNil(t, orig.DeletedAt)
			assert.Equal(t, engine.MovedToSpaceReason, *orig.DeleteReason)
			require.NotNil(t, res.Original)
			assert.Len(t, res.Original.TaskIDs, 2)
		},
	},
	{
		name:  "other tenants are forbidden",
		setup: threeTodos,
		test: func(t *testing.T, env *testEnv) {
			var forbidden auth.ForbiddenError
			_, err := env.Engine.GetTask(env.Ctx, rcOther, env.id("a"), "", "")
			require.ErrorAs(t, err, &forbidden)
			_, err = env.Engine.FolderTasks(env.Ctx, rcOther, "f1", engine.FolderTasksOptions{})
			require.ErrorAs(t, err, &forbidden)
			_, err = env.Engine.MoveTask(env.Ctx, rcOther, env.id("a"), engine.MoveTaskOptions{FolderID: "f1", WorkflowStateID: "s-todo"})
			require.ErrorAs(t, err, &forbidden)
			_, err = env.Engine.UpdateWorkflow(env.Ctx, rcOther, "wf1", []constraint.StatePatch{{ID: "s-todo"}})
			require.ErrorAs(t, err, &forbidden)
		},
	},
	{
		name: "workflow update keeps unchanged states and refuses to drop busy ones",
		setup: func(t *testing.T, env *testEnv) {
			env.create(t, "a", "f1", "s-todo", "")
		},
		test: func(t *testing.T, env *testEnv) {
			wf, err := env.Engine.UpdateWorkflow(env.Ctx, rc1, "wf1", []constraint.StatePatch{
				{ID: "s-review"},
				{ID: "s-todo"},
				{Code: "qa"},
				{ID: "s-done"},
			})
			require.NoError(t, err)
			codes := []string{}
			for _, st := range wf.States {
				codes = append(codes, st.Code)
			}
			assert.Equal(t, []string{"review", "todo", "qa", "done"}, codes)
			assert.Equal(t, "ac-review", wf.States[0].ApprovalConstraint.ID)
			require.Len(t, wf.States[3].Constraints, 1)

			_, err = env.Engine.UpdateWorkflow(env.Ctx, rc1, "wf1", []constraint.StatePatch{{ID: "s-review"}, {ID: "s-done"}})
			bad := requireBadRequest(t, err)
			assert.Contains(t, bad.Message, "todo")

			_, err = env.Engine.UpdateWorkflow(env.Ctx, rc1, "wf1", []constraint.StatePatch{
				{ID: "s-review"}, {ID: "s-todo", Updated: true, Code: "done"}, {ID: "s-done", Updated: true, Code: "todo"},
			})
			require.NoError(t, err, "codes can be swapped")
		},
	},
	{
		name: "concurrent moves into one scope stay dense",
		setup: func(t *testing.T, env *testEnv) {
			for i := 0; i < 8; i++ {
				env.create(t, fmt.Sprintf("t%d", i), "f1", "s-todo", "")
			}
		},
		test: func(t *testing.T, env *testEnv) {
			var g errgroup.Group
			for i := 0; i < 8; i++ {
				name := fmt.Sprintf("t%d", i)
				g.Go(func() error { return env.move(name, "f1", "s-blocked", 0) })
			}
			require.NoError(t, g.Wait())
			assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, env.indexes(t, "f1", "s-blocked", "board"))
			assert.Len(t, env.order(t, "f1", "s-blocked", "gantt"), 8)
			assert.Empty(t, env.order(t, "f1", "s-todo", "board"))
		},
	},
	{
		name: "failed operations leave no trace",
		setup: func(t *testing.T, env *testEnv) {
			threeTodos(t, env)
			require.NoError(t, env.move("a", "f1", "s-review", 0))
		},
		test: func(t *testing.T, env *testEnv) {
			_, err := env.Engine.MoveMany(env.Ctx, rc1, engine.MoveManyOptions{
				FolderID: "f1", WorkflowStateID: "s-blocked", TaskIDs: []string{env.id("b"), env.id("a")},
			})
			requireConstraint(t, err, domain.ReasonInApproval)
			assert.Equal(t, "s-todo", env.task(t, "b").WorkflowStateID)
			assert.Equal(t, []string{"b", "c"}, env.order(t, "f1", "s-todo", "board"))

			deltas, err := env.Engine.MoveMany(env.Ctx, rc1, engine.MoveManyOptions{
				FolderID: "f1", WorkflowStateID: "s-blocked", TaskIDs: []string{env.id("c"), env.id("b")},
			})
			require.NoError(t, err)
			require.Len(t, deltas, 2)
			assert.Equal(t, []string{"c", "b"}, env.order(t, "f1", "s-blocked", "board"))
		},
	},
}

func TestEngine(t *testing.T) {
	for _, c := range registry {
		t.Run(c.name, func(t *testing.T) {
			env := newTestEnv(t)
			if c.setup != nil {
				c.setup(t, env)
			}
			if c.teardown != nil {
				t.Cleanup(func() { c.teardown(t, env) })
			}
			c.test(t, env)
		})
	}
}

func TestMoveToSpaceRequiresDestinationMembership(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "a", "f1", "s-todo", "")
	_, err := env.Engine.MoveToSpace(env.Ctx, rc2, env.id("a"), engine.ReplicateOptions{FromFolderID: "f1", ToFolderID: "f3", WorkflowStateID: "s2-todo"})
	var forbidden auth.ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	assert.True(t, env.task(t, "a").Active())
}
