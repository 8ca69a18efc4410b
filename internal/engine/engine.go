// Package engine coordinates task lifecycle operations. Every mutation runs
// in one transaction that covers ledger, hierarchy, approval and action log
// writes.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tasklane/internal/app"
	"tasklane/internal/approval"
	"tasklane/internal/config"
	"tasklane/internal/domain"
	"tasklane/internal/engine/auth"
	"tasklane/internal/engine/constraint"
	"tasklane/internal/engine/hierarchy"
	"tasklane/internal/engine/ledger"
	"tasklane/internal/events"
	"tasklane/internal/queue"
	"tasklane/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Ledger    ledger.Ledger
	Tree      hierarchy.Hierarchy
	Approvals approval.Bridge
	Access    auth.Service
	Log       *zap.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := repo.Repo{DB: db}
	ev := events.Writer{Now: time.Now}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: ev,
		Config: cfg,
		Ledger: ledger.Ledger{Repo: r},
		Tree:   hierarchy.Hierarchy{Repo: r, Now: time.Now},
		Approvals: approval.Bridge{
			Repo:   r,
			Queue:  queue.Queue{Repo: r, Log: log, MaxAttempts: cfg.Approval.MaxAttempts, Lease: time.Duration(cfg.Approval.ProcessingLease) * time.Second},
			Config: cfg.Approval,
			Events: ev,
			Log:    log,
			Now:    time.Now,
		},
		Access: auth.Service{Repo: r},
		Log:    log,
		Now:    time.Now,
	}
}

// WithClock pins every component to now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	e.Tree.Now = now
	e.Approvals.Now = now
	e.Approvals.Events.Now = now
	e.Approvals.Queue.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) view(v string) (string, error) {
	if v == "" {
		return e.Config.DefaultView(), nil
	}
	if !e.Config.HasView(v) {
		return "", domain.BadRequestf("unknown view %s", v)
	}
	return v, nil
}

func (e Engine) batchMax() int {
	if e.Config.Limits.BatchMax > 0 {
		return e.Config.Limits.BatchMax
	}
	return domain.MaxBatchDefault
}

func (e Engine) checkBatch(n int) error {
	if n == 0 {
		return domain.BadRequestf("at least one task id is required")
	}
	if n > e.batchMax() {
		return domain.BadRequestf("batch of %d tasks exceeds the limit of %d", n, e.batchMax())
	}
	return nil
}

// validateAssignees rejects malformed ids and drops repeats, keeping order.
func validateAssignees(ids []string) ([]string, error) {
	out := []string{}
	seen := map[string]bool{}
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return nil, domain.BadRequestf("assignee %q is not a valid id", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// normalizeDates parses both bounds and returns them as UTC RFC3339 so the
// folder window can order them as strings.
func normalizeDates(start, end *string) (*string, *string, error) {
	var s, en time.Time
	var err error
	if start != nil {
		if s, err = time.Parse(time.RFC3339, *start); err != nil {
			return nil, nil, domain.BadRequestf("startDate must be RFC3339")
		}
		start = utc(s)
	}
	if end != nil {
		if en, err = time.Parse(time.RFC3339, *end); err != nil {
			return nil, nil, domain.BadRequestf("endDate must be RFC3339")
		}
		end = utc(en)
	}
	if start != nil && end != nil && en.Before(s) {
		return nil, nil, domain.BadRequestf("endDate must not be before startDate")
	}
	return start, end, nil
}

func utc(t time.Time) *string {
	v := t.UTC().Format(time.RFC3339)
	return &v
}

// subject loads the constraint inputs for a task sitting in currentStateID,
// inside the transaction that will apply the decision.
func (e Engine) subject(ctx context.Context, tx *sql.Tx, taskID, currentStateID string) (constraint.Subject, error) {
	var s constraint.Subject
	cur, err := e.Repo.GetState(ctx, tx, currentStateID)
	if err != nil {
		return s, err
	}
	s.Current = &cur
	gate, err := e.Repo.ActiveGate(ctx, tx, taskID)
	if err != nil {
		return s, err
	}
	s.Gate = gate
	if gate != nil {
		ac, err := e.Repo.GetApprovalConstraint(ctx, tx, gate.ApprovalConstraintID)
		switch {
		case err == nil:
			s.GateConstraint = &ac
		case !errors.Is(err, domain.ErrNotFound):
			return s, err
		}
	}
	return s, nil
}

// enter evaluates the move of task into target and enrols it in the target's
// approval when required. rel is the relation the move happens through.
func (e Engine) enter(ctx context.Context, tx *sql.Tx, rc app.RequestContext, task domain.Task, rel domain.TaskRelation, folder domain.Folder, target domain.WorkflowState) error {
	s, err := e.subject(ctx, tx, task.ID, rel.WorkflowStateID)
	if err != nil {
		return err
	}
	d := constraint.CanEnterState(s, target, rc)
	if !d.Allowed {
		return d.Err()
	}
	if d.RequestApproval {
		if _, err := e.Approvals.EnqueueApprovalRequest(ctx, tx, rc, task, folder, target); err != nil {
			return err
		}
	}
	return nil
}

// relation returns the task's binding in folderID, or its native relation
// when folderID is empty.
func (e Engine) relation(ctx context.Context, q repo.DBTX, taskID, folderID string) (domain.TaskRelation, error) {
	if folderID != "" {
		return e.Repo.GetRelation(ctx, q, folderID, taskID)
	}
	t, err := e.Repo.GetTask(ctx, q, taskID)
	if err != nil {
		return domain.TaskRelation{}, err
	}
	return e.Repo.GetRelation(ctx, q, t.FolderID, taskID)
}

// appendAll places the relation at the end of its scope in every view.
func (e Engine) appendAll(ctx context.Context, tx *sql.Tx, rel domain.TaskRelation) error {
	for _, v := range e.Config.Ledger.Views {
		if _, err := e.Ledger.Append(ctx, tx, rel.ID, ledger.Scope{FolderID: rel.FolderID, WorkflowStateID: rel.WorkflowStateID, View: v}); err != nil {
			return err
		}
	}
	return nil
}
