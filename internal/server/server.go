package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"brosync/internal/domain"
	"brosync/internal/sync"
)

// Config for the HTTP API handler. Token is the static bearer token the
// operator configured; empty disables auth.
type Config struct {
	Store    sync.Store
	BasePath string
	Token    string
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"sync log row not found"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

// New returns an HTTP handler exposing the sync log ledger.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Token))
	hcfg := huma.DefaultConfig("brosync API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerSyncLogs(group, cfg.Store)

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSyncLogs(api huma.API, store sync.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-synclogs",
		Method:      http.MethodGet,
		Path:        "/synclogs",
		Summary:     "List sync log rows",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind  string `query:"kind" enum:"gmw,gld,frd,gmn,"`
		Limit int    `query:"limit" default:"100"`
	}) (*struct {
		Body []SyncLogResponse `json:"body"`
	}, error) {
		if input.Kind != "" && !domain.ValidKind(input.Kind) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown object kind")
		}
		limit := input.Limit
		if limit < 1 || limit > 1000 {
			limit = 100
		}
		rows, err := store.List(ctx, domain.ObjectKind(input.Kind), limit)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error())
		}
		return &struct {
			Body []SyncLogResponse `json:"body"`
		}{Body: mapSyncLogs(rows)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-synclog",
		Method:      http.MethodGet,
		Path:        "/synclogs/{id}",
		Summary:     "Get sync log row",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body SyncLogResponse `json:"body"`
	}, error) {
		row, err := store.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SyncLogResponse `json:"body"`
		}{Body: syncLogResponse(row)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "requeue-synclog",
		Method:      http.MethodPost,
		Path:        "/synclogs/{id}/requeue",
		Summary:     "Requeue a permanently failed row",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body SyncLogResponse `json:"body"`
	}, error) {
		row, err := store.Requeue(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SyncLogResponse `json:"body"`
		}{Body: syncLogResponse(row)}, nil
	})
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, sync.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	}
	msg := err.Error()
	if strings.Contains(msg, "can be requeued") {
		return newAPIError(http.StatusConflict, "conflict", msg)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", msg)
}
