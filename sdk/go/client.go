package tasklanesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal tasklane HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// Header identity, honoured only by servers that allow it.
	TenantID   string
	UserID     string
	Roles      []string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://localhost:8080/api.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, Timeout: 10 * time.Second}
}

// As returns a copy of the client acting as another header identity.
func (c *Client) As(tenantID, userID string, roles ...string) *Client {
	cp := *c
	cp.BearerToken = ""
	cp.TenantID, cp.UserID, cp.Roles = tenantID, userID, roles
	return &cp
}

// Task is the API task model.
type Task struct {
	ID              string   `json:"id"`
	FolderID        string   `json:"folderId"`
	ParentTaskID    *string  `json:"parentTaskId,omitempty"`
	WorkflowStateID string   `json:"workflowStateId"`
	OwnerID         string   `json:"ownerId"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Assignees       []string `json:"assignees"`
	StartDate       *string  `json:"startDate,omitempty"`
	EndDate         *string  `json:"endDate,omitempty"`
	ArchivedAt      *string  `json:"archivedAt,omitempty"`
	DeletedAt       *string  `json:"deletedAt,omitempty"`
}

// Relation binds a task into a folder.
type Relation struct {
	ID              string   `json:"id"`
	TaskID          string   `json:"childTaskId"`
	FolderID        string   `json:"folderId"`
	WorkflowStateID string   `json:"workflowStateId"`
	ParentTaskID    *string  `json:"parentTaskId,omitempty"`
	PathIDs         []string `json:"pathIds"`
	Shared          bool     `json:"shared"`
}

type ApprovalGate struct {
	WorkflowStateID string `json:"workflowStateId"`
	ApprovalID      string `json:"approvalId,omitempty"`
	CorrelationID   string `json:"correlationId,omitempty"`
	Pending         bool   `json:"pending"`
}

// TaskDetail is a task as seen from one folder.
type TaskDetail struct {
	Task
	Relation   Relation      `json:"relation"`
	PathIDs    []string      `json:"pathIds"`
	Followers  []string      `json:"followers"`
	PrevTaskID *string       `json:"prevTaskId,omitempty"`
	NextTaskID *string       `json:"nextTaskId,omitempty"`
	Approval   *ApprovalGate `json:"approval,omitempty"`
}

type Position struct {
	FolderID        string `json:"folderId"`
	WorkflowStateID string `json:"workflowStateId"`
	View            string `json:"view"`
	TaskRelationID  string `json:"taskRelationId"`
	TaskID          string `json:"taskId"`
	Index           int    `json:"index"`
}

type Delta struct {
	From *Position `json:"from,omitempty"`
	To   Position  `json:"to"`
}

type MoveResult struct {
	Task  TaskDetail `json:"task"`
	Delta Delta      `json:"delta"`
}

type GroupResult struct {
	GroupID string   `json:"groupId"`
	TaskIDs []string `json:"taskIds"`
}

type ReplicateResult struct {
	Task     TaskDetail        `json:"task"`
	IDs      map[string]string `json:"ids"`
	Original *GroupResult      `json:"original,omitempty"`
}

type TreeNode struct {
	Task     Task        `json:"task"`
	PathIDs  []string    `json:"pathIds"`
	Children []*TreeNode `json:"children"`
}

type FolderEntry struct {
	Position Position `json:"position"`
	Task     Task     `json:"task"`
}

type StateConstraint struct {
	SwimlaneConstraint []string `json:"swimlaneConstraint"`
	UserConstraint     []string `json:"userConstraint"`
	RoleConstraint     []string `json:"roleConstraint,omitempty"`
}

type ApprovalConstraint struct {
	ID                string   `json:"id"`
	AcceptState       string   `json:"acceptState"`
	RejectState       string   `json:"rejectState"`
	UserIDs           []string `json:"userIds"`
	AuthorizedUserIDs []string `json:"authorizedUserIds"`
	RequiredApprovals int      `json:"requiredApprovals"`
}

type WorkflowState struct {
	ID                 string              `json:"id"`
	Code               string              `json:"code"`
	Index              int                 `json:"index"`
	Constraints        []StateConstraint   `json:"constraints"`
	ApprovalConstraint *ApprovalConstraint `json:"approvalConstraint,omitempty"`
}

type Workflow struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	States []WorkflowState `json:"states"`
}

// StateEdit is one state of a workflow edit.
type StateEdit struct {
	ID                 string              `json:"id,omitempty"`
	Code               string              `json:"code,omitempty"`
	Constraints        []StateConstraint   `json:"constraints,omitempty"`
	ApprovalConstraint *ApprovalConstraint `json:"approvalConstraint,omitempty"`
	Updated            bool                `json:"updated,omitempty"`
}

type CreateTaskInput struct {
	FolderID        string   `json:"folderId"`
	WorkflowStateID string   `json:"workflowStateId"`
	ParentTaskID    *string  `json:"parentTaskId,omitempty"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Assignees       []string `json:"assignees,omitempty"`
	StartDate       *string  `json:"startDate,omitempty"`
	EndDate         *string  `json:"endDate,omitempty"`
	View            string   `json:"view,omitempty"`
	Index           *int     `json:"index,omitempty"`
}

type MoveInput struct {
	FolderID        string  `json:"folderId"`
	WorkflowStateID string  `json:"workflowStateId"`
	View            string  `json:"view,omitempty"`
	Index           int     `json:"index"`
	ParentTaskNewID *string `json:"parentTaskNewId,omitempty"`
	ParentTaskOldID *string `json:"parentTaskOldId,omitempty"`
}

type MoveToSpaceInput struct {
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

// ApprovalEvent is what the approval service posts back.
type ApprovalEvent struct {
	ID                   string         `json:"id"`
	TenantID             string         `json:"tenantId"`
	Status               string         `json:"status"`
	ApprovalConstraintID string         `json:"approvalConstraintId,omitempty"`
	MetaData             map[string]any `json:"metaData"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (TaskDetail, error) {
	var resp TaskDetail
	err := c.do(ctx, http.MethodPost, "task", in, &resp)
	return resp, err
}

// GetTask fetches a task. folderID and view may be empty.
func (c *Client) GetTask(ctx context.Context, id, folderID, view string) (TaskDetail, error) {
	q := url.Values{}
	if folderID != "" {
		q.Set("folderId", folderID)
	}
	if view != "" {
		q.Set("view", view)
	}
	var resp TaskDetail
	err := c.do(ctx, http.MethodGet, withQuery("task/"+url.PathEscape(id), q), nil, &resp)
	return resp, err
}

// Tree returns the subtree below id; all selects every depth instead of
// direct children only.
func (c *Client) Tree(ctx context.Context, id, folderID string, all bool) (*TreeNode, error) {
	q := url.Values{}
	if folderID != "" {
		q.Set("folderId", folderID)
	}
	if all {
		q.Set("allChildren", "true")
	}
	var resp TreeNode
	err := c.do(ctx, http.MethodGet, withQuery("task/tree/"+url.PathEscape(id), q), nil, &resp)
	return &resp, err
}

// UpdateTask patches a task with the given fields.
func (c *Client) UpdateTask(ctx context.Context, id string, fields map[string]any) (TaskDetail, error) {
	var resp TaskDetail
	err := c.do(ctx, http.MethodPatch, "task/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

func (c *Client) MoveTask(ctx context.Context, id string, in MoveInput) (MoveResult, error) {
	var resp MoveResult
	err := c.do(ctx, http.MethodPatch, "task/position/"+url.PathEscape(id), in, &resp)
	return resp, err
}

func (c *Client) MoveMany(ctx context.Context, folderID, stateID, view string, index int, ids []string) ([]Delta, error) {
	var resp struct {
		Deltas []Delta `json:"deltas"`
	}
	body := map[string]any{"folderId": folderID, "workflowStateId": stateID, "view": view, "index": index, "taskIds": ids}
	err := c.do(ctx, http.MethodPut, "task/move-many", body, &resp)
	return resp.Deltas, err
}

func (c *Client) MoveOne(ctx context.Context, id, fromFolderID, toFolderID, stateID string) (TaskDetail, error) {
	var resp TaskDetail
	body := map[string]any{"fromFolderId": fromFolderID, "toFolderId": toFolderID, "workflowStateId": stateID}
	err := c.do(ctx, http.MethodPost, "task/move-one/"+url.PathEscape(id), body, &resp)
	return resp, err
}

func (c *Client) MoveToSpace(ctx context.Context, id string, in MoveToSpaceInput) (ReplicateResult, error) {
	var resp ReplicateResult
	err := c.do(ctx, http.MethodPost, "task/move-to-space/"+url.PathEscape(id), in, &resp)
	return resp, err
}

func (c *Client) ShareTask(ctx context.Context, id, fromFolderID, toFolderID, stateID string) (TaskDetail, error) {
	var resp TaskDetail
	body := map[string]any{"fromFolderId": fromFolderID, "toFolderId": toFolderID, "workflowStateId": stateID}
	err := c.do(ctx, http.MethodPost, "task/share/"+url.PathEscape(id), body, &resp)
	return resp, err
}

func (c *Client) UnshareTask(ctx context.Context, id, folderID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("task/un-share/%s/%s", url.PathEscape(id), url.PathEscape(folderID)), nil, nil)
}

func (c *Client) ArchiveTask(ctx context.Context, id, folderID, reason string) (GroupResult, error) {
	var resp GroupResult
	err := c.do(ctx, http.MethodPost, taskFolderPath("task/archive", id, folderID), map[string]any{"reason": reason}, &resp)
	return resp, err
}

func (c *Client) RestoreArchived(ctx context.Context, id, folderID string, childIDs ...string) (GroupResult, error) {
	var resp GroupResult
	err := c.do(ctx, http.MethodPost, taskFolderPath("task/archive/restore", id, folderID), map[string]any{"childIds": childIDs}, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id, folderID, reason string) (GroupResult, error) {
	q := url.Values{}
	if reason != "" {
		q.Set("reason", reason)
	}
	var resp GroupResult
	err := c.do(ctx, http.MethodDelete, withQuery(taskFolderPath("task/delete", id, folderID), q), nil, &resp)
	return resp, err
}

func (c *Client) RestoreDeleted(ctx context.Context, id, folderID string, childIDs ...string) (GroupResult, error) {
	var resp GroupResult
	err := c.do(ctx, http.MethodPost, taskFolderPath("task/delete/restore", id, folderID), map[string]any{"childIds": childIDs}, &resp)
	return resp, err
}

func (c *Client) DeleteMany(ctx context.Context, folderID string, ids []string, reason string) ([]GroupResult, error) {
	var resp struct {
		Groups []GroupResult `json:"groups"`
	}
	err := c.do(ctx, http.MethodPost, "task/delete-many", map[string]any{"folderId": folderID, "ids": ids, "reason": reason}, &resp)
	return resp.Groups, err
}

// FolderTasks lists a folder's ledger. An empty stateID lists every state.
func (c *Client) FolderTasks(ctx context.Context, folderID, stateID, view string) ([]FolderEntry, error) {
	q := url.Values{}
	if stateID != "" {
		q.Set("workflowStateId", stateID)
	}
	if view != "" {
		q.Set("view", view)
	}
	var resp struct {
		Tasks []FolderEntry `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, withQuery(fmt.Sprintf("folder/%s/tasks", url.PathEscape(folderID)), q), nil, &resp)
	return resp.Tasks, err
}

func (c *Client) Workflow(ctx context.Context, id string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, "workflow/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) UpdateWorkflow(ctx context.Context, id string, states []StateEdit) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPatch, "workflow/module/"+url.PathEscape(id), map[string]any{"states": states}, &resp)
	return resp, err
}

// SendApprovalEvent posts an approval service event; secret may be empty.
func (c *Client) SendApprovalEvent(ctx context.Context, ev ApprovalEvent, secret string) error {
	return c.doWith(ctx, http.MethodPost, "approval/events", ev, nil, func(r *http.Request) {
		if secret != "" {
			r.Header.Set("X-Tasklane-Secret", secret)
		}
	})
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	return c.doWith(ctx, method, endpoint, body, out, nil)
}

func (c *Client) doWith(ctx context.Context, method, endpoint string, body any, out any, edit func(*http.Request)) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-Tenant-Id", c.TenantID)
		req.Header.Set("X-User-Id", c.UserID)
		if len(c.Roles) > 0 {
			req.Header.Set("X-Roles", strings.Join(c.Roles, ","))
		}
	}
	if edit != nil {
		edit(req)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		_ = json.Unmarshal(b, apiErr)
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func taskFolderPath(prefix, id, folderID string) string {
	return fmt.Sprintf("%s/%s/folder/%s", prefix, url.PathEscape(id), url.PathEscape(folderID))
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
