package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tasklane/internal/domain"
	"tasklane/internal/engine"
	"tasklane/internal/engine/auth"
	"tasklane/internal/engine/hierarchy"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"constraint_violation"`
	Message string         `json:"message" example:"Task is in approval process"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError is the error body every operation returns.
type apiError struct {
	status int
	apiErrorBody
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// output wraps a JSON response body.
type output[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *output[T] { return &output[T]{Body: v} }

// New returns an HTTP handler exposing the tasklane API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Auth.Log == nil {
		cfg.Auth.Log = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// schema validation failures are plain bad requests here
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Use(accessLog(log))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("tasklane API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerMoves(group, cfg.Engine)
	registerRetirement(group, cfg.Engine)
	registerFolders(group, cfg.Engine)
	registerWorkflows(group, cfg.Engine)
	registerApproval(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		apiErrorBody: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"resource": fe.Resource})
	}
	if errors.Is(err, domain.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ce domain.ConstraintError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusBadRequest, "constraint_violation", ce.Reason, nil)
	}
	var be domain.BadRequestError
	if errors.As(err, &be) {
		return newAPIError(http.StatusBadRequest, "bad_request", be.Message, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func requireBody(ctx context.Context) huma.StatusError {
	if len(bytes.TrimSpace(bodyBytes(ctx))) == 0 {
		return newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
	}
	return nil
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["approvalSecret"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Tasklane-Secret",
	}
	bearer := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = bearer
	public := map[string][]map[string][]string{
		path.Join(basePath, "health"):          {},
		path.Join(basePath, "approval/events"): {{"approvalSecret": {}}},
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if sec, ok := public[route]; ok {
				op.Security = sec
				continue
			}
			op.Security = bearer
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>tasklane API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*output[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

type taskPath struct {
	ID string `path:"id"`
}

type taskFolderPath struct {
	ID       string `path:"id"`
	FolderID string `path:"folderId"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/task",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*output[engine.TaskDetail], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateTask(ctx, rc, input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/task/{id}",
		Summary:     "Get task",
		Description: "Neighbours are only resolved when a view is given.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		FolderID string `query:"folderId"`
		View     string `query:"view"`
	}) (*output[engine.TaskDetail], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.GetTask(ctx, rc, input.ID, input.FolderID, input.View)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-tree",
		Method:      http.MethodGet,
		Path:        "/task/tree/{id}",
		Summary:     "Task subtree",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID               string `path:"id"`
		FolderID         string `query:"folderId"`
		AllChildren      bool   `query:"allChildren"`
		ArchivedChildren bool   `query:"archivedChildren"`
		DeletedChildren  bool   `query:"deletedChildren"`
	}) (*output[*TreeResponse], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tree, err := e.TaskTree(ctx, rc, input.ID, engine.TreeOptions{
			FolderID: input.FolderID,
			SubtreeOptions: hierarchy.SubtreeOptions{
				AllChildren:      input.AllChildren,
				ArchivedChildren: input.ArchivedChildren,
				DeletedChildren:  input.DeletedChildren,
			},
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tree), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-actions",
		Method:      http.MethodGet,
		Path:        "/task/{id}/actions",
		Summary:     "Task action log",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" minimum:"0"`
	}) (*output[ActionsResponse], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actions, err := e.TaskActions(ctx, rc, input.ID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ActionsResponse{Actions: actions}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/task/{id}",
		Summary:     "Update task",
		Description: "A changed workflowStateId goes through the same checks as a move.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*output[engine.TaskDetail], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UpdateTask(ctx, rc, input.ID, input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "share-task",
		Method:      http.MethodPost,
		Path:        "/task/share/{id}",
		Summary:     "Share task into another folder",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body ShareTaskRequest `json:"body"`
	}) (*output[engine.TaskDetail], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.ShareTask(ctx, rc, input.ID, engine.ShareOptions{
			FromFolderID: input.Body.FromFolderID, ToFolderID: input.Body.ToFolderID, WorkflowStateID: input.Body.WorkflowStateID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "unshare-task",
		Method:        http.MethodDelete,
		Path:          "/task/un-share/{id}/{folderId}",
		Summary:       "Remove a shared binding",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *taskFolderPath) (*struct{}, error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.UnshareTask(ctx, rc, input.ID, input.FolderID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerMoves(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPatch,
		Path:        "/task/position/{id}",
		Summary:     "Move task within a folder",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body MoveTaskRequest `json:"body"`
	}) (*output[engine.MoveResult], error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		res, err := e.MoveTask(ctx, rc, input.ID, engine.MoveTaskOptions{
			FolderID: b.FolderID, WorkflowStateID: b.WorkflowStateID, View: b.View, Index: b.Index,
			ParentTaskNewID: b.ParentTaskNewID, ParentTaskOldID: b.ParentTaskOldID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-many",
		Method:      http.MethodPut,
		Path:        "/task/move-many",
		Summary:     "Move tasks into one scope",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body MoveManyRequest `json:"body"`
	}) (*output[MoveManyResponse], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		deltas, err := e.MoveMany(ctx, rc, engine.MoveManyOptions{
			FolderID: b.FolderID, WorkflowStateID: b.WorkflowStateID, View: b.View, Index: b.Index, TaskIDs: b.TaskIDs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := MoveManyResponse{Deltas: make([]MoveDelta, 0, len(deltas))}
		for _, d := range deltas {
			out.Deltas = append(out.Deltas, MoveDelta{From: d.From, To: d.To})
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-one",
		Method:      http.MethodPost,
		Path:        "/task/move-one/{id}",
		Summary:     "Move task and subtree to another folder",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body MoveOneRequest `json:"body"`
	}) (*output[engine.TaskDetail], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		d, err := e.MoveOne(ctx, rc, input.ID, engine.MoveOneOptions{
			FromFolderID: b.FromFolderID, ToFolderID: b.ToFolderID, WorkflowStateID: b.WorkflowStateID, View: b.View, Index: b.Index,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-to-space",
		Method:      http.MethodPost,
		Path:        "/task/move-to-space/{id}",
		Summary:     "Replicate task into another space",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body MoveToSpaceRequest `json:"body"`
	}) (*output[engine.ReplicateResult], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.MoveToSpace(ctx, rc, input.ID, input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func registerRetirement(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "archive-task",
		Method:      http.MethodPost,
		Path:        "/task/archive/{id}/folder/{folderId}",
		Summary:     "Archive task and descendants",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		taskFolderPath
		Body *ArchiveTaskRequest `json:"body,omitempty" required:"false"`
	}) (*output[engine.GroupResult], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		res, err := e.ArchiveTask(ctx, rc, input.ID, input.FolderID, reason)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-archived-task",
		Method:      http.MethodPost,
		Path:        "/task/archive/restore/{id}/folder/{folderId}",
		Summary:     "Restore archived task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		taskFolderPath
		Body *RestoreTaskRequest `json:"body,omitempty" required:"false"`
	}) (*output[engine.GroupResult], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var children []string
		if input.Body != nil {
			children = input.Body.ChildIDs
		}
		res, err := e.RestoreArchived(ctx, rc, input.ID, input.FolderID, children)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/task/delete/{id}/folder/{folderId}",
		Summary:     "Soft-delete task and descendants",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		taskFolderPath
		Reason string `query:"reason"`
	}) (*output[engine.GroupResult], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.DeleteTask(ctx, rc, input.ID, input.FolderID, input.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-deleted-task",
		Method:      http.MethodPost,
		Path:        "/task/delete/restore/{id}/folder/{folderId}",
		Summary:     "Restore deleted task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		taskFolderPath
		Body *RestoreTaskRequest `json:"body,omitempty" required:"false"`
	}) (*output[engine.GroupResult], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var children []string
		if input.Body != nil {
			children = input.Body.ChildIDs
		}
		res, err := e.RestoreDeleted(ctx, rc, input.ID, input.FolderID, children)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-many",
		Method:      http.MethodPost,
		Path:        "/task/delete-many",
		Summary:     "Soft-delete many tasks of a folder",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body DeleteManyRequest `json:"body"`
	}) (*output[DeleteManyResponse], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		groups, err := e.DeleteMany(ctx, rc, input.Body.FolderID, input.Body.IDs, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(DeleteManyResponse{Groups: groups}), nil
	})
}

func registerFolders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-folder-tasks",
		Method:      http.MethodGet,
		Path:        "/folder/{id}/tasks",
		Summary:     "Ordered tasks of a folder",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID              string `path:"id"`
		WorkflowStateID string `query:"workflowStateId"`
		View            string `query:"view"`
		IncludeInactive bool   `query:"includeInactive"`
	}) (*output[FolderTasksResponse], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.FolderTasks(ctx, rc, input.ID, engine.FolderTasksOptions{
			WorkflowStateID: input.WorkflowStateID, View: input.View, IncludeInactive: input.IncludeInactive,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(FolderTasksResponse{FolderID: input.ID, Tasks: entries}), nil
	})
}

func registerWorkflows(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflow/{id}",
		Summary:     "Get workflow",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[domain.Workflow], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		wf, err := e.GetWorkflow(ctx, rc, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(wf), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-workflow",
		Method:      http.MethodPatch,
		Path:        "/workflow/module/{id}",
		Summary:     "Edit workflow states",
		Description: "States left out are removed; a removed state must hold no tasks.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateWorkflowRequest `json:"body"`
	}) (*output[domain.Workflow], error) {
		rc, authErr := requestContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		wf, err := e.UpdateWorkflow(ctx, rc, input.ID, input.Body.patches())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(wf), nil
	})
}

func registerApproval(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "approval-event",
		Method:        http.MethodPost,
		Path:          "/approval/events",
		Summary:       "Receive an approval service event",
		Description:   "The event is queued and applied by the return-queue consumer.",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ApprovalEventRequest `json:"body"`
	}) (*output[QueuedResponse], error) {
		job, err := e.Approvals.Ingest(ctx, input.Body.event())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(QueuedResponse{JobID: job.ID, Queue: job.Queue}), nil
	})
}
