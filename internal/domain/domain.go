package domain

type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Space struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
}

type Folder struct {
	ID         string  `json:"id"`
	TenantID   string  `json:"tenantId"`
	SpaceID    string  `json:"spaceId"`
	WorkflowID string  `json:"workflowId"`
	Name       string  `json:"name"`
	StartDate  *string `json:"startDate,omitempty" format:"date-time"`
	EndDate    *string `json:"endDate,omitempty" format:"date-time"`
}

type Task struct {
	ID              string   `json:"id"`
	FolderID        string   `json:"folderId"`
	ParentTaskID    *string  `json:"parentTaskId,omitempty"`
	WorkflowStateID string   `json:"workflowStateId"`
	OwnerID         string   `json:"ownerId"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Assignees       []string `json:"assignees"`
	StartDate       *string  `json:"startDate,omitempty" format:"date-time"`
	EndDate         *string  `json:"endDate,omitempty" format:"date-time"`
	Duration        *int     `json:"duration,omitempty"`
	ArchivedAt      *string  `json:"archivedAt,omitempty" format:"date-time"`
	ArchivedGroupID *string  `json:"archivedGroupId,omitempty"`
	ArchivedWhy     *string  `json:"archivedWhy,omitempty"`
	DeletedAt       *string  `json:"deletedAt,omitempty" format:"date-time"`
	DeletedGroupID  *string  `json:"deletedGroupId,omitempty"`
	DeleteReason    *string  `json:"deleteReason,omitempty"`
	CreatedAt       string   `json:"createdAt" format:"date-time"`
	UpdatedAt       string   `json:"updatedAt" format:"date-time"`
}

// Active reports whether the task is neither archived nor deleted.
func (t Task) Active() bool {
	return t.ArchivedAt == nil && t.DeletedAt == nil
}

type TaskPosition struct {
	FolderID        string `json:"folderId"`
	WorkflowStateID string `json:"workflowStateId"`
	View            string `json:"view"`
	TaskRelationID  string `json:"taskRelationId"`
	TaskID          string `json:"taskId"`
	Index           int    `json:"index"`
}

// TaskRelation anchors a task in a folder. A task has one native relation in
// its home folder and one shared relation per folder it is shared into.
type TaskRelation struct {
	ID              string   `json:"id"`
	FolderID        string   `json:"folderId"`
	ParentTaskID    *string  `json:"parentTaskId,omitempty"`
	ChildTaskID     string   `json:"childTaskId"`
	WorkflowStateID string   `json:"workflowStateId"`
	PathIDs         []string `json:"pathIds"`
	Shared          bool     `json:"shared"`
	CreatedAt       string   `json:"createdAt" format:"date-time"`
}

type Workflow struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenantId"`
	Name     string          `json:"name"`
	States   []WorkflowState `json:"states"`
}

type StateConstraint struct {
	SwimlaneConstraint []string `json:"swimlaneConstraint"`
	UserConstraint     []string `json:"userConstraint"`
	RoleConstraint     []string `json:"roleConstraint,omitempty"`
}

type WorkflowState struct {
	ID                 string              `json:"id"`
	WorkflowID         string              `json:"workflowId"`
	Code               string              `json:"code"`
	Index              int                 `json:"index"`
	SystemStageID      *string             `json:"systemStageId,omitempty"`
	Constraints        []StateConstraint   `json:"constraints"`
	ApprovalConstraint *ApprovalConstraint `json:"approvalConstraint,omitempty"`
}

type ApprovalConstraint struct {
	ID                string   `json:"id"`
	WorkflowStateID   string   `json:"workflowStateId,omitempty"`
	AcceptState       string   `json:"acceptState"`
	RejectState       string   `json:"rejectState"`
	UserIDs           []string `json:"userIds"`
	AuthorizedUserIDs []string `json:"authorizedUserIds"`
	RequiredApprovals int      `json:"requiredApprovals"`
	DueIn             *int     `json:"dueIn,omitempty"`
	DueInType         *string  `json:"dueInType,omitempty"`
}

type ApprovalConstraintInstance struct {
	ID                   string `json:"id"`
	ApprovalID           string `json:"approvalId"`
	ApprovalConstraintID string `json:"approvalConstraintId"`
	TaskID               string `json:"taskId"`
	FolderID             string `json:"folderId"`
	SpaceID              string `json:"spaceId"`
	WorkflowStateID      string `json:"workflowStateId"`
	IsActive             bool   `json:"isActive"`
	CreatedAt            string `json:"createdAt" format:"date-time"`
	UpdatedAt            string `json:"updatedAt" format:"date-time"`
}

const (
	ApprovalRequestPending = "pending"
	ApprovalRequestCreated = "created"
	ApprovalRequestClosed  = "closed"
)

// ApprovalRequest is the local record of an outbound approval job, kept until
// the approval service reports the instance it created.
type ApprovalRequest struct {
	CorrelationID        string `json:"correlationId"`
	TenantID             string `json:"tenantId"`
	TaskID               string `json:"taskId"`
	FolderID             string `json:"folderId"`
	ApprovalConstraintID string `json:"approvalConstraintId"`
	WorkflowStateID      string `json:"workflowStateId"`
	Status               string `json:"status"`
	CreatedAt            string `json:"createdAt" format:"date-time"`
}

// ApprovalGate is whatever currently holds a task in an approval process:
// either a pending request or an active instance.
type ApprovalGate struct {
	TaskID               string `json:"taskId"`
	WorkflowStateID      string `json:"workflowStateId"`
	ApprovalConstraintID string `json:"approvalConstraintId"`
	ApprovalID           string `json:"approvalId,omitempty"`
	CorrelationID        string `json:"correlationId,omitempty"`
	Pending              bool   `json:"pending"`
}

type TaskAction struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Action   string `json:"action"`
	TenantID string `json:"tenantId"`
	FolderID string `json:"folderId,omitempty"`
	TaskID   string `json:"taskId,omitempty"`
	UserID   string `json:"userId"`
	Payload  string `json:"payload"`
}

type Tag struct {
	ID      string `json:"id"`
	SpaceID string `json:"spaceId"`
	Name    string `json:"name"`
}

type CustomField struct {
	ID      string `json:"id"`
	SpaceID string `json:"spaceId"`
	Name    string `json:"name"`
	Type    string `json:"type"`
}

type CustomFieldValue struct {
	FieldID string `json:"fieldId"`
	Value   string `json:"value"`
}

type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	AuthorID  string `json:"authorId"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt" format:"date-time"`
}

type Attachment struct {
	ID         string `json:"id"`
	TaskID     string `json:"taskId"`
	FileName   string `json:"fileName"`
	StorageKey string `json:"storageKey"`
	CreatedAt  string `json:"createdAt" format:"date-time"`
}

type Job struct {
	ID          string `json:"id"`
	Queue       string `json:"queue"`
	Payload     string `json:"payload"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"lastError,omitempty"`
	AvailableAt string `json:"availableAt" format:"date-time"`
	CreatedAt   string `json:"createdAt" format:"date-time"`
	UpdatedAt   string `json:"updatedAt" format:"date-time"`
}
