package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tasklane/internal/domain"
	"tasklane/internal/queue"
	"tasklane/internal/repo"
	"tasklane/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newQueue(t *testing.T) (queue.Queue, *clock) {
	t.Helper()
	conn := testutil.Open(t)
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return queue.Queue{Repo: repo.Repo{DB: conn}, Now: c.Now, MaxAttempts: 3}, c
}

func statusOf(t *testing.T, q queue.Queue, name string) []string {
	t.Helper()
	jobs, err := q.Repo.ListJobs(context.Background(), q.Repo.DB, name)
	require.NoError(t, err)
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Status
	}
	return out
}

func TestProcessAcksAndRetries(t *testing.T) {
	q, c := newQueue(t)
	ctx := context.Background()
	for _, v := range []string{"ok", "flaky"} {
		_, err := q.Publish(ctx, q.Repo.DB, "work", map[string]string{"v": v})
		require.NoError(t, err)
	}
	var calls atomic.Int32
	handler := func(ctx context.Context, job domain.Job) error {
		calls.Add(1)
		var body map[string]string
		require.NoError(t, json.Unmarshal([]byte(job.Payload), &body))
		if body["v"] == "flaky" && job.Attempts < 2 {
			return errors.New("try again")
		}
		return nil
	}
	n, err := q.Process(ctx, "work", 10, handler)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{repo.JobDone, repo.JobPending}, statusOf(t, q, "work"))

	n, err = q.Process(ctx, "work", 10, handler)
	require.NoError(t, err)
	assert.Zero(t, n, "retry is not due yet")

	c.Advance(queue.Backoff(1))
	n, err = q.Process(ctx, "work", 10, handler)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{repo.JobDone, repo.JobDone}, statusOf(t, q, "work"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFailStopsAfterMaxAttempts(t *testing.T) {
	q, c := newQueue(t)
	ctx := context.Background()
	_, err := q.Publish(ctx, q.Repo.DB, "work", "x")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := q.Process(ctx, "work", 10, func(context.Context, domain.Job) error { return errors.New("down") })
		require.NoError(t, err)
		c.Advance(10 * time.Minute)
	}
	jobs, err := q.Repo.ListJobs(ctx, q.Repo.DB, "work")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, repo.JobFailed, jobs[0].Status)
	assert.Equal(t, 3, jobs[0].Attempts)
	assert.Equal(t, "down", jobs[0].LastError)
}

func TestStaleProcessingIsReclaimed(t *testing.T) {
	q, c := newQueue(t)
	q.Lease = time.Minute
	ctx := context.Background()
	_, err := q.Publish(ctx, q.Repo.DB, "work", "x")
	require.NoError(t, err)
	jobs, err := q.Claim(ctx, "work", 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	again, err := q.Claim(ctx, "work", 1)
	require.NoError(t, err)
	assert.Empty(t, again)

	c.Advance(2 * time.Minute)
	again, err = q.Claim(ctx, "work", 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].Attempts)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, queue.Backoff(0))
	assert.Equal(t, 4*time.Second, queue.Backoff(3))
	assert.Equal(t, 5*time.Minute, queue.Backoff(40))
	assert.Equal(t, 5*time.Minute, queue.Backoff(200))
}

func TestForwarderPostsJobs(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	var mu sync.Mutex
	var got []http.Header
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, r.Header.Clone())
		bodies = append(bodies, string(buf))
		mu.Unlock()
		if r.Header.Get("X-Tasklane-Queue") == "reject" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	_, err := q.Publish(ctx, q.Repo.DB, "approval.request", map[string]string{"entityId": "a"})
	require.NoError(t, err)
	_, err = q.Publish(ctx, q.Repo.DB, "reject", map[string]string{"entityId": "b"})
	require.NoError(t, err)

	f := &queue.Forwarder{Queue: q, Queues: []string{"approval.request", "reject"}, URL: srv.URL, Secret: "s3cret", Client: srv.Client()}
	f.Dispatch(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "s3cret", got[0].Get("X-Tasklane-Secret"))
	assert.Equal(t, "approval.request", got[0].Get("X-Tasklane-Queue"))
	assert.JSONEq(t, `{"entityId":"a"}`, bodies[0])
	assert.Equal(t, []string{repo.JobDone}, statusOf(t, q, "approval.request"))
	assert.Equal(t, []string{repo.JobFailed}, statusOf(t, q, "reject"), "4xx is not retried")
}

func TestSchedulerStopsWithContext(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	s := queue.Scheduler{Tasks: []queue.Task{{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) { runs.Add(1) }}}}
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := queue.Scheduler{Tasks: []queue.Task{{Name: "bad", Schedule: "whenever", Run: func(context.Context) {}}}}
	require.Error(t, s.Run(context.Background()))
}
