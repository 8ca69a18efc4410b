// Package approval links tasks to the external approval service. Requests
// and cancellations leave through outbound queues; the service answers on a
// return queue correlated by an opaque id.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tasklane/internal/app"
	"tasklane/internal/config"
	"tasklane/internal/domain"
	"tasklane/internal/events"
	"tasklane/internal/queue"
	"tasklane/internal/repo"
)

// Inbound statuses.
const (
	StatusCreated   = "CREATED"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

const serviceActor = "approval-service"

// MetaData identifies the task entity behind an approval.
type MetaData struct {
	CorrelationID     string   `json:"correlationId"`
	EntityType        string   `json:"entityType"`
	TaskID            string   `json:"taskId"`
	FolderID          string   `json:"folderId"`
	SpaceID           string   `json:"spaceId,omitempty"`
	WorkflowStateID   string   `json:"workflowStateId"`
	RequestedBy       string   `json:"requestedBy,omitempty"`
	UserIDs           []string `json:"userIds,omitempty"`
	AuthorizedUserIDs []string `json:"authorizedUserIds,omitempty"`
	RequiredApprovals int      `json:"requiredApprovals,omitempty"`
	DueIn             *int     `json:"dueIn,omitempty"`
	DueInType         *string  `json:"dueInType,omitempty"`
}

// Request is the outbound job asking the service to open an approval.
type Request struct {
	EntityID             string   `json:"entityId"`
	TenantID             string   `json:"tenantId"`
	ApprovalConstraintID string   `json:"approvalConstraintId"`
	MetaData             MetaData `json:"metaData"`
}

// Event is an inbound message from the service.
type Event struct {
	ID                   string   `json:"id"`
	TenantID             string   `json:"tenantId"`
	Status               string   `json:"status"`
	ApprovalConstraintID string   `json:"approvalConstraintId"`
	MetaData             MetaData `json:"metaData"`
}

// Cancellation asks the service to drop an approval. ApprovalID is empty when
// the service has not reported an instance yet.
type Cancellation struct {
	ApprovalID    string `json:"approvalId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	TenantID      string `json:"tenantId"`
	EntityID      string `json:"entityId"`
	Reason        string `json:"reason"`
}

type Bridge struct {
	Repo   repo.Repo
	Queue  queue.Queue
	Config config.ApprovalConfig
	Events events.Writer
	Log    *zap.Logger
	Now    func() time.Time
}

func (b Bridge) now() string {
	if b.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return b.Now().UTC().Format(time.RFC3339)
}

func (b Bridge) log() *zap.Logger {
	if b.Log == nil {
		return zap.NewNop()
	}
	return b.Log
}

// EnqueueApprovalRequest records a pending request for task in state and
// publishes it on the request queue, both inside tx. It never waits on the
// service.
func (b Bridge) EnqueueApprovalRequest(ctx context.Context, tx repo.DBTX, rc app.RequestContext, task domain.Task, folder domain.Folder, state domain.WorkflowState) (domain.ApprovalRequest, error) {
	ac := state.ApprovalConstraint
	if ac == nil {
		return domain.ApprovalRequest{}, fmt.Errorf("state %s has no approval constraint", state.ID)
	}
	req := domain.ApprovalRequest{
		CorrelationID:        uuid.NewString(),
		TenantID:             rc.TenantID,
		TaskID:               task.ID,
		FolderID:             folder.ID,
		ApprovalConstraintID: ac.ID,
		WorkflowStateID:      state.ID,
		Status:               domain.ApprovalRequestPending,
		CreatedAt:            b.now(),
	}
	if err := b.Repo.InsertApprovalRequest(ctx, tx, req); err != nil {
		return req, fmt.Errorf("insert approval request: %w", err)
	}
	msg := Request{
		EntityID:             task.ID,
		TenantID:             rc.TenantID,
		ApprovalConstraintID: ac.ID,
		MetaData: MetaData{
			CorrelationID:     req.CorrelationID,
			EntityType:        "task",
			TaskID:            task.ID,
			FolderID:          folder.ID,
			SpaceID:           folder.SpaceID,
			WorkflowStateID:   state.ID,
			RequestedBy:       rc.UserID,
			UserIDs:           ac.UserIDs,
			AuthorizedUserIDs: ac.AuthorizedUserIDs,
			RequiredApprovals: ac.RequiredApprovals,
			DueIn:             ac.DueIn,
			DueInType:         ac.DueInType,
		},
	}
	if _, err := b.Queue.Publish(ctx, tx, b.Config.RequestQueue, msg); err != nil {
		return req, err
	}
	return req, b.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionApproval, TenantID: rc.TenantID, FolderID: folder.ID, TaskID: task.ID, UserID: rc.UserID,
		Payload: events.Payload{"status": "requested", "correlationId": req.CorrelationID, "approvalConstraintId": ac.ID},
	})
}

// RequestCancellation releases whatever gates the task and publishes a
// cancellation for it inside tx. It reports whether anything was cancelled.
func (b Bridge) RequestCancellation(ctx context.Context, tx repo.DBTX, rc app.RequestContext, taskID, reason string) (bool, error) {
	gate, err := b.Repo.ActiveGate(ctx, tx, taskID)
	if err != nil || gate == nil {
		return false, err
	}
	msg := Cancellation{TenantID: rc.TenantID, EntityID: taskID, Reason: reason}
	if gate.Pending {
		msg.CorrelationID = gate.CorrelationID
		if err := b.Repo.SetApprovalRequestStatus(ctx, tx, gate.CorrelationID, domain.ApprovalRequestClosed); err != nil {
			return false, err
		}
	} else {
		msg.ApprovalID = gate.ApprovalID
		if _, err := b.Repo.DeactivateApprovalInstance(ctx, tx, gate.ApprovalID); err != nil {
			return false, err
		}
	}
	if _, err := b.Queue.Publish(ctx, tx, b.Config.CancelQueue, msg); err != nil {
		return false, err
	}
	return true, nil
}

// Ingest validates an event from the service and queues it for the consumer.
func (b Bridge) Ingest(ctx context.Context, ev Event) (domain.Job, error) {
	if strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(ev.TenantID) == "" {
		return domain.Job{}, domain.BadRequestf("event id and tenantId are required")
	}
	if !knownStatus(ev.Status) {
		return domain.Job{}, domain.BadRequestf("unknown approval status %q", ev.Status)
	}
	if ev.MetaData.CorrelationID == "" && normalize(ev.Status) == StatusCreated {
		return domain.Job{}, domain.BadRequestf("metaData.correlationId is required")
	}
	return b.Queue.Publish(ctx, b.Repo.DB, b.Config.ReturnQueue, ev)
}

func normalize(status string) string {
	return strings.ToUpper(strings.TrimSpace(status))
}

func knownStatus(status string) bool {
	switch normalize(status) {
	case StatusCreated, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// HandleJob is the return-queue handler.
func (b Bridge) HandleJob(ctx context.Context, job domain.Job) error {
	var ev Event
	if err := json.Unmarshal([]byte(job.Payload), &ev); err != nil {
		return fmt.Errorf("%w: decode approval event: %v", queue.ErrPermanent, err)
	}
	err := b.OnApprovalEvent(ctx, ev)
	var bad domain.BadRequestError
	if errors.Is(err, domain.ErrNotFound) || errors.As(err, &bad) {
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}
	return err
}

// OnApprovalEvent applies one inbound event. Every event is idempotent.
func (b Bridge) OnApprovalEvent(ctx context.Context, ev Event) error {
	tx, err := b.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	switch normalize(ev.Status) {
	case StatusCreated:
		err = b.onCreated(ctx, tx, ev)
	case StatusApproved, StatusRejected, StatusCancelled:
		err = b.onResolved(ctx, tx, ev)
	default:
		err = domain.BadRequestf("unknown approval status %q", ev.Status)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (b Bridge) onCreated(ctx context.Context, tx repo.DBTX, ev Event) error {
	req, err := b.Repo.GetApprovalRequest(ctx, tx, ev.MetaData.CorrelationID)
	if err != nil {
		return err
	}
	if req.TenantID != ev.TenantID {
		return domain.BadRequestf("approval %s belongs to another tenant", ev.ID)
	}
	switch req.Status {
	case domain.ApprovalRequestCreated:
		return nil
	case domain.ApprovalRequestClosed:
		// the task left approval before the service answered
		b.log().Info("approval created for a withdrawn request; cancelling",
			zap.String("approval", ev.ID), zap.String("correlation", req.CorrelationID))
		_, err := b.Queue.Publish(ctx, tx, b.Config.CancelQueue, Cancellation{
			ApprovalID: ev.ID, CorrelationID: req.CorrelationID, TenantID: req.TenantID, EntityID: req.TaskID, Reason: "request withdrawn",
		})
		return err
	}
	folder, err := b.Repo.GetFolder(ctx, tx, req.FolderID)
	if err != nil {
		return err
	}
	ts := b.now()
	inst := domain.ApprovalConstraintInstance{
		ID:                   uuid.NewString(),
		ApprovalID:           ev.ID,
		ApprovalConstraintID: req.ApprovalConstraintID,
		TaskID:               req.TaskID,
		FolderID:             req.FolderID,
		SpaceID:              folder.SpaceID,
		WorkflowStateID:      req.WorkflowStateID,
		IsActive:             true,
		CreatedAt:            ts,
		UpdatedAt:            ts,
	}
	if err := b.Repo.SetApprovalRequestStatus(ctx, tx, req.CorrelationID, domain.ApprovalRequestCreated); err != nil {
		return err
	}
	if _, err := b.Repo.InsertApprovalInstance(ctx, tx, inst); err != nil {
		return fmt.Errorf("insert approval instance: %w", err)
	}
	return b.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionApproval, TenantID: req.TenantID, FolderID: req.FolderID, TaskID: req.TaskID, UserID: serviceActor,
		Payload: events.Payload{"status": StatusCreated, "approvalId": ev.ID, "correlationId": req.CorrelationID},
	})
}

func (b Bridge) onResolved(ctx context.Context, tx repo.DBTX, ev Event) error {
	inst, err := b.Repo.GetApprovalInstance(ctx, tx, ev.ID)
	if errors.Is(err, domain.ErrNotFound) && ev.MetaData.CorrelationID != "" {
		// resolved before the created event was seen
		req, rerr := b.Repo.GetApprovalRequest(ctx, tx, ev.MetaData.CorrelationID)
		if rerr != nil {
			return rerr
		}
		if req.TenantID != ev.TenantID {
			return domain.BadRequestf("approval %s belongs to another tenant", ev.ID)
		}
		return b.Repo.SetApprovalRequestStatus(ctx, tx, req.CorrelationID, domain.ApprovalRequestClosed)
	}
	if err != nil {
		return err
	}
	changed, err := b.Repo.DeactivateApprovalInstance(ctx, tx, ev.ID)
	if err != nil || !changed {
		return err
	}
	folder, err := b.Repo.GetFolder(ctx, tx, inst.FolderID)
	if err != nil {
		return err
	}
	if folder.TenantID != ev.TenantID {
		return domain.BadRequestf("approval %s belongs to another tenant", ev.ID)
	}
	return b.Events.Append(ctx, tx, events.Entry{
		Action: events.ActionApproval, TenantID: folder.TenantID, FolderID: inst.FolderID, TaskID: inst.TaskID, UserID: serviceActor,
		Payload: events.Payload{"status": normalize(ev.Status), "approvalId": ev.ID},
	})
}
