package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/audit"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/session"
	"github.com/askdb/askdb/internal/sqlserver"
)

type ReadinessCheck func(ctx context.Context) error

// SessionService is the session surface the handlers need. *session.Manager
// satisfies it.
type SessionService interface {
	Connect(ctx context.Context, params sqlserver.ConnParams) (session.Info, error)
	Get(id string) (*session.Session, error)
	List() []session.Info
	Reconnect(ctx context.Context, id string) (session.Info, error)
	Close(id string) error
	Ask(ctx context.Context, id, question string) (nl2sql.Result, error)
	LastResult(id string) (query.ResultSet, bool, error)
}

type ExportPublisher interface {
	Publish(ctx context.Context, sessionID string, format export.Format, rs query.ResultSet) (export.Published, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Sessions          SessionService
	// Exports is nil when publishing to the object store is disabled.
	Exports ExportPublisher
	Audit   audit.Recorder
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	h := sessionHandlers{cfg: cfg, deps: deps}
	mux.HandleFunc("GET /v1/sessions", h.list)
	mux.HandleFunc("POST /v1/sessions", h.connect)
	mux.HandleFunc("GET /v1/sessions/{id}", h.get)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.close)
	mux.HandleFunc("GET /v1/sessions/{id}/schema", h.schema)
	mux.HandleFunc("POST /v1/sessions/{id}/reconnect", h.reconnect)
	mux.HandleFunc("POST /v1/sessions/{id}/ask", h.ask)
	mux.HandleFunc("GET /v1/sessions/{id}/export", h.download)
	mux.HandleFunc("POST /v1/sessions/{id}/export", h.publish)
	mux.HandleFunc("GET /v1/sessions/{id}/history", h.history)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckAudit pings the audit store when one is configured.
func CheckAudit(ping func(ctx context.Context) error) ReadinessCheck {
	if ping == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.New("audit store unavailable: " + err.Error())
		}
		return nil
	}
}

func CheckExportConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.Export.Enabled {
			return nil
		}
		if cfg.Export.Endpoint == "" {
			return errors.New("export endpoint is not configured")
		}
		if cfg.Export.Bucket == "" {
			return errors.New("export bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
