package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"policyline/internal/config"
	"policyline/internal/domain"
	"policyline/internal/engine"
	"policyline/internal/logging"
	"policyline/internal/stats"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	BasePath  string
	Log       *slog.Logger
	RateLimit config.RateLimit
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"Invalid transition from CREATED to COMPLETED"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"CREATED\",\"to\":\"COMPLETED\"}"`
}

// apiError models the error envelope every failure is rendered in.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the policyline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = logging.Discard()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, errorDetails(errs))
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(log))
	if rl := newIPRateLimiter(cfg.RateLimit); rl != nil {
		router.Use(rl.middleware)
	}
	hcfg := huma.DefaultConfig("Policyline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerRoot(api)
	registerDocs(router, basePath)
	registerHealth(group)
	registerPolicies(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func envelope(status int, code, message string, details map[string]any) *apiError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	return envelope(status, code, message, details)
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return map[string]any{"errors": msgs}
}

// handleError maps engine errors onto the envelope. Storage failures and
// unknown errors never carry driver text.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		ve  *engine.ValidationError
		ite *engine.InvalidTransitionError
		ene *engine.EscalationNotAllowedError
		se  *engine.StorageError
	)
	switch {
	case errors.As(err, &ve):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"problems": ve.Problems})
	case errors.As(err, &ite):
		return newAPIError(http.StatusBadRequest, "invalid_transition", err.Error(), map[string]any{"from": ite.From, "to": ite.To})
	case errors.As(err, &ene):
		return newAPIError(http.StatusBadRequest, "escalation_not_allowed", err.Error(), map[string]any{"role": ene.Role})
	case errors.Is(err, engine.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrPolicyExists):
		return newAPIError(http.StatusConflict, "policy_exists", err.Error(), nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.As(err, &se):
		return newAPIError(http.StatusInternalServerError, "storage_failure", se.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
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
			if _, ok := op.Responses["default"]; ok {
				continue
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Policyline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' });
      };
    </script>
  </body>
</html>`, specURL)
}

type statusBody struct {
	Body map[string]string `json:"body"`
}

func okStatus(context.Context, *struct{}) (*statusBody, error) {
	return &statusBody{Body: map[string]string{"status": "ok"}}, nil
}

// registerRoot answers liveness probes that hit / directly.
func registerRoot(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "root",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Liveness",
		Hidden:      true,
	}, okStatus)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, okStatus)
}

type policyPath struct {
	PolicyID string `path:"policy_id"`
}

type taskPath struct {
	TaskID string `path:"task_id"`
}

func registerPolicies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-policy",
		Method:      http.MethodPost,
		Path:        "/policies/ingest",
		Summary:     "Ingest a policy and create one task per rule",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body IngestPolicyRequest `json:"body"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		tasks, err := e.Ingest(ctx, input.Body.toEngine())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-policies",
		Method:      http.MethodGet,
		Path:        "/policies",
		Summary:     "List policies, newest first",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" doc:"Maximum policies to return"`
	}) (*struct {
		Body []domain.Policy `json:"body"`
	}, error) {
		ps, err := e.ListPolicies(ctx, normalizeLimit(input.Limit, engine.DefaultAuditLimit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Policy `json:"body"`
		}{Body: ps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "partial-policies",
		Method:      http.MethodGet,
		Path:        "/policies/partial",
		Summary:     "Policies stored with fewer tasks than rules",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.PartialPolicy `json:"body"`
	}, error) {
		ps, err := e.PartialPolicies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PartialPolicy `json:"body"`
		}{Body: ps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "global-stats",
		Method:      http.MethodGet,
		Path:        "/policies/stats",
		Summary:     "Policy and task counters across the store",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body stats.GlobalStats `json:"body"`
	}, error) {
		g, err := e.GlobalStats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body stats.GlobalStats `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "policy-stats",
		Method:      http.MethodGet,
		Path:        "/policies/stats/{policy_id}",
		Summary:     "Completion and breakdowns for one policy",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *policyPath) (*struct {
		Body stats.PolicyStats `json:"body"`
	}, error) {
		p, err := e.PolicyStats(ctx, input.PolicyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body stats.PolicyStats `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-policy",
		Method:      http.MethodGet,
		Path:        "/policies/{policy_id}",
		Summary:     "Get policy",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *policyPath) (*struct {
		Body domain.Policy `json:"body"`
	}, error) {
		p, err := e.GetPolicy(ctx, input.PolicyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Policy `json:"body"`
		}{Body: p}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "Tasks visible to a role",
		Description: "Admin sees every task; any other role sees tasks assigned to it, compared case-insensitively.",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Role     string `query:"role" required:"true"`
		PolicyID string `query:"policy_id"`
		Status   string `query:"status"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		tasks, err := e.ListTasks(ctx, engine.TaskQuery{
			Role:     domain.Role(input.Role),
			PolicyID: input.PolicyID,
			Status:   input.Status,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-audit-logs",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/audit-logs",
		Summary:     "Audit trail of one task, oldest first",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []AuditLogResponse `json:"body"`
	}, error) {
		logs, err := e.TaskHistory(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AuditLogResponse `json:"body"`
		}{Body: mapAuditLogs(logs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/update-status",
		Summary:     "Move a task along the lifecycle",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Transition(ctx, input.TaskID, input.Body.NewStatus, domain.Role(input.Body.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "escalate-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/escalate",
		Summary:     "Reassign a task one step up the escalation path",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   EscalateRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Escalate(ctx, input.TaskID, domain.Role(input.Body.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "audit-logs",
		Method:      http.MethodGet,
		Path:        "/audit-logs",
		Summary:     "Audit trail across tasks, newest first",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" doc:"Defaults to 50"`
	}) (*struct {
		Body []AuditLogResponse `json:"body"`
	}, error) {
		logs, err := e.AuditLogs(ctx, normalizeLimit(input.Limit, engine.DefaultAuditLimit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AuditLogResponse `json:"body"`
		}{Body: mapAuditLogs(logs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recent-activity",
		Method:      http.MethodGet,
		Path:        "/activity/recent",
		Summary:     "Dashboard feed derived from the newest audit entries",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" doc:"Defaults to 20"`
	}) (*struct {
		Body []domain.Activity `json:"body"`
	}, error) {
		items, err := e.RecentActivity(ctx, normalizeLimit(input.Limit, engine.DefaultActivityLimit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Activity `json:"body"`
		}{Body: items}, nil
	})
}

const maxLimit = 500

func normalizeLimit(in, def int) int {
	if in <= 0 {
		return def
	}
	if in > maxLimit {
		return maxLimit
	}
	return in
}
