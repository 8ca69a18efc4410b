package server

import (
	"tasklane/internal/approval"
	"tasklane/internal/domain"
	"tasklane/internal/engine"
	"tasklane/internal/engine/constraint"
	"tasklane/internal/engine/hierarchy"
)

// Request payloads

type CreateTaskRequest struct {
	FolderID        string   `json:"folderId"`
	WorkflowStateID string   `json:"workflowStateId"`
	ParentTaskID    *string  `json:"parentTaskId,omitempty"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Assignees       []string `json:"assignees,omitempty"`
	StartDate       *string  `json:"startDate,omitempty" format:"date-time"`
	EndDate         *string  `json:"endDate,omitempty" format:"date-time"`
	Duration        *int     `json:"duration,omitempty"`
	View            string   `json:"view,omitempty"`
	Index           *int     `json:"index,omitempty" minimum:"0"`
}

func (r CreateTaskRequest) options() engine.CreateTaskOptions {
	return engine.CreateTaskOptions{
		FolderID:        r.FolderID,
		WorkflowStateID: r.WorkflowStateID,
		ParentTaskID:    r.ParentTaskID,
		Title:           r.Title,
		Description:     r.Description,
		Assignees:       r.Assignees,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		Duration:        r.Duration,
		View:            r.View,
		Index:           r.Index,
	}
}

// UpdateTaskRequest: an empty startDate or endDate clears the date.
type UpdateTaskRequest struct {
	FolderID        string    `json:"folderId,omitempty"`
	Title           *string   `json:"title,omitempty"`
	Description     *string   `json:"description,omitempty"`
	Assignees       *[]string `json:"assignees,omitempty"`
	StartDate       *string   `json:"startDate,omitempty"`
	EndDate         *string   `json:"endDate,omitempty"`
	Duration        *int      `json:"duration,omitempty"`
	WorkflowStateID *string   `json:"workflowStateId,omitempty"`
	View            string    `json:"view,omitempty"`
}

func (r UpdateTaskRequest) options() engine.UpdateTaskOptions {
	return engine.UpdateTaskOptions{
		FolderID:        r.FolderID,
		Title:           r.Title,
		Description:     r.Description,
		Assignees:       r.Assignees,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		Duration:        r.Duration,
		WorkflowStateID: r.WorkflowStateID,
		View:            r.View,
	}
}

type MoveTaskRequest struct {
	FolderID        string  `json:"folderId"`
	WorkflowStateID string  `json:"workflowStateId"`
	View            string  `json:"view,omitempty"`
	Index           int     `json:"index" minimum:"0"`
	ParentTaskNewID *string `json:"parentTaskNewId,omitempty"`
	ParentTaskOldID *string `json:"parentTaskOldId,omitempty"`
}

type MoveManyRequest struct {
	FolderID        string   `json:"folderId"`
	WorkflowStateID string   `json:"workflowStateId"`
	View            string   `json:"view,omitempty"`
	Index           int      `json:"index" minimum:"0"`
	TaskIDs         []string `json:"taskIds"`
}

type MoveOneRequest struct {
	FromFolderID    string `json:"fromFolderId"`
	ToFolderID      string `json:"toFolderId"`
	WorkflowStateID string `json:"workflowStateId"`
	View            string `json:"view,omitempty"`
	Index           *int   `json:"index,omitempty" minimum:"0"`
}

type ShareTaskRequest struct {
	FromFolderID    string `json:"fromFolderId"`
	ToFolderID      string `json:"toFolderId"`
	WorkflowStateID string `json:"workflowStateId"`
}

type MoveToSpaceRequest struct {
	FromFolderID    string `json:"fromFolderId"`
	ToFolderID      string `json:"toFolderId"`
	WorkflowStateID string `json:"workflowStateId"`
	KeepOriginal    bool   `json:"keepOriginal,omitempty"`
	Subtasks        bool   `json:"subtasks,omitempty"`
	Tags            bool   `json:"tags,omitempty"`
	CustomFields    bool   `json:"customFields,omitempty"`
	Comments        bool   `json:"comments,omitempty"`
	Attachments     bool   `json:"attachments,omitempty"`
	Followers       bool   `json:"followers,omitempty"`
}

func (r MoveToSpaceRequest) options() engine.ReplicateOptions {
	return engine.ReplicateOptions{
		FromFolderID:    r.FromFolderID,
		ToFolderID:      r.ToFolderID,
		WorkflowStateID: r.WorkflowStateID,
		KeepOriginal:    r.KeepOriginal,
		Subtasks:        r.Subtasks,
		Tags:            r.Tags,
		CustomFields:    r.CustomFields,
		Comments:        r.Comments,
		Attachments:     r.Attachments,
		Followers:       r.Followers,
	}
}

type ArchiveTaskRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RestoreTaskRequest struct {
	ChildIDs []string `json:"childIds,omitempty"`
}

type DeleteManyRequest struct {
	FolderID string   `json:"folderId"`
	IDs      []string `json:"ids"`
	Reason   string   `json:"reason,omitempty"`
}

// StateRequest is one state of a workflow edit. States without an id are
// inserted; states with an id and updated=false only change position.
type StateRequest struct {
	ID                 string                     `json:"id,omitempty"`
	Code               string                     `json:"code,omitempty"`
	SystemStageID      *string                    `json:"systemStageId,omitempty"`
	Constraints        []domain.StateConstraint   `json:"constraints,omitempty"`
	ApprovalConstraint *domain.ApprovalConstraint `json:"approvalConstraint,omitempty"`
	Updated            bool                       `json:"updated,omitempty"`
}

type UpdateWorkflowRequest struct {
	States []StateRequest `json:"states"`
}

func (r UpdateWorkflowRequest) patches() []constraint.StatePatch {
	out := make([]constraint.StatePatch, 0, len(r.States))
	for _, s := range r.States {
		out = append(out, constraint.StatePatch{
			ID:                 s.ID,
			Code:               s.Code,
			SystemStageID:      s.SystemStageID,
			Constraints:        s.Constraints,
			ApprovalConstraint: s.ApprovalConstraint,
			Updated:            s.Updated,
		})
	}
	return out
}

// ApprovalEventRequest is what the approval service posts back. Resolution
// events carry the approval id only; metadata matters for CREATED. Fields the
// engine does not read are accepted and dropped.
type ApprovalEventRequest struct {
	_                    struct{}           `json:"-" additionalProperties:"true"`
	ID                   string             `json:"id"`
	TenantID             string             `json:"tenantId"`
	Status               string             `json:"status"`
	ApprovalConstraintID string             `json:"approvalConstraintId,omitempty"`
	MetaData             *ApprovalEventMeta `json:"metaData,omitempty"`
}

type ApprovalEventMeta struct {
	_               struct{} `json:"-" additionalProperties:"true"`
	CorrelationID   string `json:"correlationId,omitempty"`
	EntityType      string `json:"entityType,omitempty"`
	TaskID          string `json:"taskId,omitempty"`
	FolderID        string `json:"folderId,omitempty"`
	SpaceID         string `json:"spaceId,omitempty"`
	WorkflowStateID string `json:"workflowStateId,omitempty"`
}

func (r ApprovalEventRequest) event() approval.Event {
	ev := approval.Event{
		ID:                   r.ID,
		TenantID:             r.TenantID,
		Status:               r.Status,
		ApprovalConstraintID: r.ApprovalConstraintID,
	}
	if m := r.MetaData; m != nil {
		ev.MetaData = approval.MetaData{
			CorrelationID:   m.CorrelationID,
			EntityType:      m.EntityType,
			TaskID:          m.TaskID,
			FolderID:        m.FolderID,
			SpaceID:         m.SpaceID,
			WorkflowStateID: m.WorkflowStateID,
		}
	}
	return ev
}

// Responses

type MoveManyResponse struct {
	Deltas []MoveDelta `json:"deltas"`
}

// MoveDelta mirrors ledger.Delta for API consumers.
type MoveDelta struct {
	From *domain.TaskPosition `json:"from,omitempty"`
	To   domain.TaskPosition  `json:"to"`
}

type DeleteManyResponse struct {
	Groups []engine.GroupResult `json:"groups"`
}

type FolderTasksResponse struct {
	FolderID string               `json:"folderId"`
	Tasks    []engine.FolderEntry `json:"tasks"`
}

type TreeResponse = hierarchy.TreeNode

type ActionsResponse struct {
	Actions []domain.TaskAction `json:"actions"`
}

type QueuedResponse struct {
	JobID string `json:"jobId"`
	Queue string `json:"queue"`
}
