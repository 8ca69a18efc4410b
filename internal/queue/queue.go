// Package queue is a durable job queue stored in the jobs table. Producers
// publish inside their own transaction so a job exists exactly when the
// mutation that caused it commits.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tasklane/internal/domain"
	"tasklane/internal/repo"
)

const (
	defaultMaxAttempts = 5
	defaultLease       = time.Minute
	maxBackoff         = 5 * time.Minute
)

// Handler processes one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job domain.Job) error

// ErrPermanent marks a handler error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

type Queue struct {
	Repo        repo.Repo
	Log         *zap.Logger
	Now         func() time.Time
	MaxAttempts int
	Lease       time.Duration
}

func (q Queue) now() time.Time {
	if q.Now != nil {
		return q.Now()
	}
	return time.Now()
}

func (q Queue) log() *zap.Logger {
	if q.Log == nil {
		return zap.NewNop()
	}
	return q.Log
}

// Publish stores payload as a pending job on name using tx.
func (q Queue) Publish(ctx context.Context, tx repo.DBTX, name string, payload any) (domain.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job payload: %w", err)
	}
	ts := q.now().UTC().Format(time.RFC3339)
	job := domain.Job{
		ID:          uuid.NewString(),
		Queue:       name,
		Payload:     string(data),
		Status:      repo.JobPending,
		AvailableAt: ts,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := q.Repo.InsertJob(ctx, tx, job); err != nil {
		return job, fmt.Errorf("publish to %s: %w", name, err)
	}
	return job, nil
}

// Claim takes up to limit due jobs of name for processing.
func (q Queue) Claim(ctx context.Context, name string, limit int) ([]domain.Job, error) {
	lease := q.Lease
	if lease <= 0 {
		lease = defaultLease
	}
	tx, err := q.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	jobs, err := q.Repo.ClaimJobs(ctx, tx, name, limit, q.now(), lease)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (q Queue) Ack(ctx context.Context, job domain.Job) error {
	return q.Repo.CompleteJob(ctx, q.Repo.DB, job.ID)
}

// Fail records cause and reschedules the job with exponential backoff until
// its attempts run out.
func (q Queue) Fail(ctx context.Context, job domain.Job, cause error) error {
	max := q.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	retry := job.Attempts < max && !errors.Is(cause, ErrPermanent)
	next := q.now().Add(Backoff(job.Attempts))
	if err := q.Repo.RetryJob(ctx, q.Repo.DB, job.ID, cause.Error(), retry, next); err != nil {
		return err
	}
	if !retry {
		q.log().Error("job failed permanently",
			zap.String("queue", job.Queue), zap.String("job", job.ID), zap.Int("attempts", job.Attempts), zap.Error(cause))
	}
	return nil
}

// Backoff is the delay after the given number of attempts.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Second << (attempts - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// Process claims a batch from name and runs h on each job in order. It returns
// the number of jobs handled successfully.
func (q Queue) Process(ctx context.Context, name string, limit int, h Handler) (int, error) {
	jobs, err := q.Claim(ctx, name, limit)
	if err != nil {
		return 0, err
	}
	ok := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return ok, err
		}
		if herr := h(ctx, job); herr != nil {
			q.log().Warn("job handler failed",
				zap.String("queue", name), zap.String("job", job.ID), zap.Int("attempt", job.Attempts), zap.Error(herr))
			if err := q.Fail(ctx, job, herr); err != nil {
				return ok, err
			}
			continue
		}
		if err := q.Ack(ctx, job); err != nil {
			return ok, err
		}
		ok++
	}
	return ok, nil
}
