package repo

import (
	"context"
	"database/sql"
	"time"

	"tasklane/internal/domain"
)

const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

func (r Repo) InsertJob(ctx context.Context, q DBTX, j domain.Job) error {
	if j.Status == "" {
		j.Status = JobPending
	}
	_, err := q.ExecContext(ctx, `INSERT INTO jobs(id,queue,payload_json,status,attempts,last_error,available_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`, j.ID, j.Queue, j.Payload, j.Status, j.Attempts, nullable(j.LastError), j.AvailableAt, j.CreatedAt, j.CreatedAt)
	return err
}

// ClaimJobs marks up to limit due jobs of queue as processing and returns them.
// Jobs stuck in processing past the lease are claimable again.
func (r Repo) ClaimJobs(ctx context.Context, tx *sql.Tx, queue string, limit int, at time.Time, lease time.Duration) ([]domain.Job, error) {
	ts := at.UTC().Format(time.RFC3339)
	stale := at.Add(-lease).UTC().Format(time.RFC3339)
	rows, err := tx.QueryContext(ctx, `SELECT id,queue,payload_json,status,attempts,COALESCE(last_error,''),available_at,created_at,updated_at
FROM jobs
WHERE queue=? AND ((status=? AND available_at<=?) OR (status=? AND updated_at<=?))
ORDER BY available_at, created_at, rowid LIMIT ?`, queue, JobPending, ts, JobProcessing, stale, limit)
	if err != nil {
		return nil, err
	}
	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.Queue, &j.Payload, &j.Status, &j.Attempts, &j.LastError, &j.AvailableAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range jobs {
		jobs[i].Status = JobProcessing
		jobs[i].Attempts++
		jobs[i].UpdatedAt = ts
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status=?, attempts=?, updated_at=? WHERE id=?`,
			JobProcessing, jobs[i].Attempts, ts, jobs[i].ID); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (r Repo) CompleteJob(ctx context.Context, q DBTX, id string) error {
	_, err := q.ExecContext(ctx, `UPDATE jobs SET status=?, last_error=NULL, updated_at=? WHERE id=?`, JobDone, now(), id)
	return err
}

// RetryJob puts the job back to pending at next, or marks it failed when
// retry is false.
func (r Repo) RetryJob(ctx context.Context, q DBTX, id, lastErr string, retry bool, next time.Time) error {
	status := JobFailed
	if retry {
		status = JobPending
	}
	_, err := q.ExecContext(ctx, `UPDATE jobs SET status=?, last_error=?, available_at=?, updated_at=? WHERE id=?`,
		status, lastErr, next.UTC().Format(time.RFC3339), now(), id)
	return err
}

// JobStat counts jobs per queue and status.
type JobStat struct {
	Queue  string `json:"queue"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (r Repo) JobStats(ctx context.Context, q DBTX) ([]JobStat, error) {
	rows, err := q.QueryContext(ctx, `SELECT queue,status,count(*) FROM jobs GROUP BY queue,status ORDER BY queue,status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []JobStat
	for rows.Next() {
		var s JobStat
		if err := rows.Scan(&s.Queue, &s.Status, &s.Count); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) ListJobs(ctx context.Context, q DBTX, queue string) ([]domain.Job, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,queue,payload_json,status,attempts,COALESCE(last_error,''),available_at,created_at,updated_at
FROM jobs WHERE queue=? ORDER BY created_at, rowid`, queue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.Queue, &j.Payload, &j.Status, &j.Attempts, &j.LastError, &j.AvailableAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}
