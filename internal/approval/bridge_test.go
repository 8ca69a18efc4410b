package approval_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tasklane/internal/app"
	"tasklane/internal/approval"
	"tasklane/internal/config"
	"tasklane/internal/domain"
	"tasklane/internal/queue"
	"tasklane/internal/repo"
	"tasklane/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var rc = app.RequestContext{TenantID: "t1", UserID: testutil.U1}

type env struct {
	ctx    context.Context
	bridge approval.Bridge
	repo   repo.Repo
	cfg    config.ApprovalConfig
}

func newEnv(t *testing.T) env {
	t.Helper()
	conn := testutil.Open(t)
	r := repo.Repo{DB: conn}
	cfg := config.Default().Approval
	b := approval.Bridge{Repo: r, Queue: queue.Queue{Repo: r}, Config: cfg}
	e := env{ctx: context.Background(), bridge: b, repo: r, cfg: cfg}
	require.NoError(t, r.InsertTask(e.ctx, conn, domain.Task{
		ID: "a", FolderID: "f1", WorkflowStateID: "s-review", OwnerID: testutil.U1, Title: "a",
		CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
	}))
	return e
}

// enqueue opens an approval request for task a in the review state.
func (e env) enqueue(t *testing.T) domain.ApprovalRequest {
	t.Helper()
	folder, err := e.repo.GetFolder(e.ctx, e.repo.DB, "f1")
	require.NoError(t, err)
	state, err := e.repo.GetState(e.ctx, e.repo.DB, "s-review")
	require.NoError(t, err)
	task, err := e.repo.GetTask(e.ctx, e.repo.DB, "a")
	require.NoError(t, err)
	tx, err := e.repo.DB.BeginTx(e.ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	req, err := e.bridge.EnqueueApprovalRequest(e.ctx, tx, rc, task, folder, state)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return req
}

func (e env) gate(t *testing.T) *domain.ApprovalGate {
	t.Helper()
	g, err := e.repo.ActiveGate(e.ctx, e.repo.DB, "a")
	require.NoError(t, err)
	return g
}

func (e env) jobs(t *testing.T, queueName string) []domain.Job {
	t.Helper()
	jobs, err := e.repo.ListJobs(e.ctx, e.repo.DB, queueName)
	require.NoError(t, err)
	return jobs
}

func TestEnqueuePublishesRequest(t *testing.T) {
	e := newEnv(t)
	req := e.enqueue(t)

	jobs := e.jobs(t, e.cfg.RequestQueue)
	require.Len(t, jobs, 1)
	var msg approval.Request
	require.NoError(t, json.Unmarshal([]byte(jobs[0].Payload), &msg))
	assert.Equal(t, "a", msg.EntityID)
	assert.Equal(t, "t1", msg.TenantID)
	assert.Equal(t, "ac-review", msg.ApprovalConstraintID)
	assert.Equal(t, req.CorrelationID, msg.MetaData.CorrelationID)
	assert.Equal(t, []string{testutil.U2}, msg.MetaData.UserIDs)
	require.NotNil(t, msg.MetaData.DueIn)
	assert.Equal(t, 2, *msg.MetaData.DueIn)

	g := e.gate(t)
	require.NotNil(t, g)
	assert.True(t, g.Pending)
	assert.Equal(t, "s-review", g.WorkflowStateID)
}

func TestEventLifecycleIsIdempotent(t *testing.T) {
	e := newEnv(t)
	req := e.enqueue(t)
	created := approval.Event{ID: "ap-1", TenantID: "t1", Status: "created", ApprovalConstraintID: "ac-review",
		MetaData: approval.MetaData{CorrelationID: req.CorrelationID}}

	require.NoError(t, e.bridge.OnApprovalEvent(e.ctx, created))
	require.NoError(t, e.bridge.OnApprovalEvent(e.ctx, created))
	g := e.gate(t)
	require.NotNil(t, g)
	assert.False(t, g.Pending)
	assert.Equal(t, "ap-1", g.ApprovalID)

	inst, err := e.repo.GetApprovalInstance(e.ctx, e.repo.DB, "ap-1")
	require.NoError(t, err)
	assert.True(t, inst.IsActive)
	assert.Equal(t, "sp1", inst.SpaceID)

	approved := approval.Event{ID: "ap-1", TenantID: "t1", Status: approval.StatusApproved}
	require.NoError(t, e.bridge.OnApprovalEvent(e.ctx, approved))
	require.NoError(t, e.bridge.OnApprovalEvent(e.ctx, approved))
	assert.Nil(t, e.gate(t))

	actions, err := e.repo.ListActions(e.ctx, e.repo.DB, "a", 0)
	require.NoError(t, err)
	assert.Len(t, actions, 3, "requested, created, approved")
}

func TestCreatedForeignTenantIsRejected(t *testing.T) {
	e := newEnv(t)
	req := e.enqueue(t)
	err := e.bridge.OnApprovalEvent(e.ctx, approval.Event{ID: "ap-1", TenantID: "t2", Status: approval.StatusCreated,
		MetaData: approval.MetaData{CorrelationID: req.CorrelationID}})
	var bad domain.BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.True(t, e.gate(t).Pending)
}

func TestCancellation(t *testing.T) {
	t.Run("pending request", func(t *testing.T) {
		e := newEnv(t)
		req := e.enqueue(t)
		ok, err := e.bridge.RequestCancellation(e.ctx, e.repo.DB, rc, "a", "archived")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Nil(t, e.gate(t))

		jobs := e.jobs(t, e.cfg.CancelQueue)
		require.Len(t, jobs, 1)
		var msg approval.Cancellation
		require.NoError(t, json.Unmarshal([]byte(jobs[0].Payload), &msg))
		assert.Equal(t, req.CorrelationID, msg.CorrelationID)
		assert.Empty(t, msg.ApprovalID)

		// the service answers late: the instance is cancelled, not stored
		require.NoError(t, e.bridge.OnApprovalEvent(e.ctx, approval.Event{ID: "ap-9", TenantID: "t1", Status: approval.StatusCreated,
			MetaData: approval.MetaData{CorrelationID: req.CorrelationID}}))
		assert.Nil(t, e.gate(t))
		assert.Len(t, e.jobs(t, e.cfg.CancelQueue), 2)
	})
	t.Run("active instance", func(t *testing.T) {
		e := newEnv(t)
		req := e.enqueue(t)
		require.NoError(t, e.bridge.OnApprovalEvent(e.ctx, approval.Event{ID: "ap-1", TenantID: "t1", Status: approval.StatusCreated,
			MetaData: approval.MetaData{CorrelationID: req.CorrelationID}}))
		ok, err := e.bridge.RequestCancellation(e.ctx, e.repo.DB, rc, "a", "deleted")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Nil(t, e.gate(t))
		jobs := e.jobs(t, e.cfg.CancelQueue)
		require.Len(t, jobs, 1)
		var msg approval.Cancellation
		require.NoError(t, json.Unmarshal([]byte(jobs[0].Payload), &msg))
		assert.Equal(t, "ap-1", msg.ApprovalID)

		ok, err = e.bridge.RequestCancellation(e.ctx, e.repo.DB, rc, "a", "deleted")
		require.NoError(t, err)
		assert.False(t, ok, "nothing left to cancel")
	})
}

func TestConsumerDrainsReturnQueue(t *testing.T) {
	e := newEnv(t)
	req := e.enqueue(t)
	_, err := e.bridge.Ingest(e.ctx, approval.Event{ID: "ap-1", TenantID: "t1", Status: "CREATED",
		MetaData: approval.MetaData{CorrelationID: req.CorrelationID}})
	require.NoError(t, err)
	_, err = e.bridge.Ingest(e.ctx, approval.Event{ID: "ap-unknown", TenantID: "t1", Status: "APPROVED"})
	require.NoError(t, err)

	c := queue.Consumer{Queue: e.bridge.Queue, Name: e.cfg.ReturnQueue, Handle: e.bridge.HandleJob}
	n, err := c.Drain(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "ap-1", e.gate(t).ApprovalID)

	jobs := e.jobs(t, e.cfg.ReturnQueue)
	require.Len(t, jobs, 2)
	assert.Equal(t, repo.JobDone, jobs[0].Status)
	assert.Equal(t, repo.JobFailed, jobs[1].Status, "unknown approval is not retried")
}

func TestIngestValidates(t *testing.T) {
	e := newEnv(t)
	cases := []approval.Event{
		{TenantID: "t1", Status: "CREATED"},
		{ID: "x", Status: "CREATED"},
		{ID: "x", TenantID: "t1", Status: "MAYBE"},
		{ID: "x", TenantID: "t1", Status: "CREATED"},
	}
	for _, ev := range cases {
		_, err := e.bridge.Ingest(e.ctx, ev)
		var bad domain.BadRequestError
		require.ErrorAs(t, err, &bad)
	}
	assert.Empty(t, e.jobs(t, e.cfg.ReturnQueue))
}
