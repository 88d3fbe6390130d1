package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gofer/internal/config"
	"gofer/internal/dispatch"
	"gofer/internal/engine"
	"gofer/internal/repo"
	"gofer/internal/report"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	Dispatcher *dispatch.Dispatcher
	Reporter   report.Reporter
	AppConfig  *config.Config
	BasePath   string
	Auth       AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every failing response carries.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gofer API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = dispatch.New(cfg.Engine, cfg.AppConfig)
	}
	if cfg.Reporter.DB == nil {
		cfg.Reporter = report.Reporter{DB: cfg.Engine.DB}
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Gofer API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerCommands(group, cfg.Dispatcher)
	registerRequests(group, cfg.Engine)
	registerReports(group, cfg.Reporter, cfg.AppConfig)
	registerSchedules(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", "temporarily unavailable", nil)
	case errors.Is(err, engine.ErrAlreadyAssigned):
		return newAPIError(http.StatusConflict, "already_assigned", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyCompleted):
		return newAPIError(http.StatusUnprocessableEntity, "already_completed", err.Error(), nil)
	case errors.Is(err, engine.ErrUnassigned):
		return newAPIError(http.StatusUnprocessableEntity, "unassigned", err.Error(), nil)
	case errors.Is(err, dispatch.ErrUnknownCommand), errors.Is(err, dispatch.ErrBadArgument):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func sinceOrWindow(raw string, cfg *config.Config) (time.Time, huma.StatusError) {
	if raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, newAPIError(http.StatusBadRequest, "bad_request", "since must be RFC3339", nil)
		}
		return ts.UTC(), nil
	}
	days := 7
	if cfg != nil && cfg.Report.WindowDays > 0 {
		days = cfg.Report.WindowDays
	}
	return time.Now().UTC().AddDate(0, 0, -days), nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCommands(api huma.API, d *dispatch.Dispatcher) {
	huma.Register(api, huma.Operation{
		OperationID: "handle-command",
		Method:      http.MethodPost,
		Path:        "/commands",
		Summary:     "Handle a gateway command",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CommandRequest `json:"body"`
	}) (*struct {
		Body CommandResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		invoker := ""
		if input.Body.Invoker != nil {
			invoker = *input.Body.Invoker
		}
		if invoker == "" {
			p, ok := principalFromContext(ctx)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invoker is required", nil)
			}
			invoker = p.ActorID
		}
		res, err := d.Handle(ctx, dispatch.Event{
			Name:              input.Body.Name,
			Args:              input.Body.Args,
			InvokerExternalID: invoker,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommandResponse `json:"body"`
		}{Body: commandResponse(res)}, nil
	})
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{request_id}",
		Summary:     "Get a request with its tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RequestID string `path:"request_id"`
	}) (*struct {
		Body RequestViewResponse `json:"body"`
	}, error) {
		view, err := e.View(ctx, input.RequestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestViewResponse `json:"body"`
		}{Body: viewResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List recent requests",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body RequestListResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		reqs, err := e.Repo.ListRequests(ctx, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestListResponse `json:"body"`
		}{Body: RequestListResponse{Requests: reqs}}, nil
	})
}

func registerReports(api huma.API, r report.Reporter, cfg *config.Config) {
	type reportOutput struct {
		Body ReportResponse `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "report-requests-created",
		Method:      http.MethodGet,
		Path:        "/reports/requests-created",
		Summary:     "Requests created per user since a cutoff",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Since string `query:"since"`
	}) (*reportOutput, error) {
		since, herr := sinceOrWindow(input.Since, cfg)
		if herr != nil {
			return nil, herr
		}
		rows, err := r.RequestsCreated(ctx, since)
		if err != nil {
			return nil, handleError(err)
		}
		return &reportOutput{Body: ReportResponse{Since: since.Format(time.RFC3339), Rows: rows}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-requests-completed",
		Method:      http.MethodGet,
		Path:        "/reports/requests-completed",
		Summary:     "Requests completed per user since a cutoff",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Since string `query:"since"`
	}) (*reportOutput, error) {
		since, herr := sinceOrWindow(input.Since, cfg)
		if herr != nil {
			return nil, herr
		}
		rows, err := r.RequestsCompleted(ctx, since)
		if err != nil {
			return nil, handleError(err)
		}
		return &reportOutput{Body: ReportResponse{Since: since.Format(time.RFC3339), Rows: rows}}, nil
	})
}

func registerSchedules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-schedules",
		Method:      http.MethodGet,
		Path:        "/schedules",
		Summary:     "List schedules",
	}, func(ctx context.Context, input *struct {
		Enabled bool `query:"enabled"`
	}) (*struct {
		Body ScheduleListResponse `json:"body"`
	}, error) {
		schedules, err := e.Repo.ListSchedules(ctx, input.Enabled)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScheduleListResponse `json:"body"`
		}{Body: ScheduleListResponse{Schedules: schedules}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "disable-schedule",
		Method:      http.MethodDelete,
		Path:        "/schedules/{schedule_id}",
		Summary:     "Disable a schedule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScheduleID string `path:"schedule_id"`
	}) (*struct{}, error) {
		if _, err := e.Repo.GetSchedule(ctx, input.ScheduleID); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DisableSchedule(ctx, input.ScheduleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent lifecycle events",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"100"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 1000 {
			limit = 100
		}
		events, err := e.Repo.ListEvents(ctx, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Events: events}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		raw := uuid.NewString() + uuid.NewString()
		key := CreateAPIKeyResponse{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Key:     raw,
		}
		err := e.Repo.InsertAPIKey(ctx, domainAPIKey(key.ID, input.Body.ActorID, input.Body.Name, repo.HashAPIKey(raw)))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: key}, nil
	})
}
