package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/askdb/askdb/internal/audit"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/session"
	"github.com/askdb/askdb/internal/sqlserver"
)

const maxHistoryLimit = 500

type connectRequest struct {
	Server                 string  `json:"server"`
	Port                   int     `json:"port"`
	User                   string  `json:"user"`
	Password               string  `json:"password"`
	Database               string  `json:"database"`
	TrustServerCertificate *bool   `json:"trust_server_certificate"`
	Encrypt                *string `json:"encrypt"`
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	SessionID string         `json:"session_id"`
	Outcome   nl2sql.Outcome `json:"outcome"`
	SQL       string         `json:"sql,omitempty"`
	Columns   []string       `json:"columns,omitempty"`
	Rows      [][]any        `json:"rows,omitempty"`
	RowCount  int            `json:"row_count"`
	Reason    string         `json:"reason,omitempty"`
}

type schemaResponse struct {
	SessionID string             `json:"session_id"`
	Schema    schema.Description `json:"schema"`
	Text      string             `json:"text"`
}

type sessionHandlers struct {
	cfg  config.Config
	deps Dependencies
}

func (h sessionHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session dependencies are not configured", false, nil)
		return false
	}
	return true
}

func (h sessionHandlers) list(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.deps.Sessions.List()})
}

func (h sessionHandlers) connect(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}

	var request connectRequest
	if !decodeBody(w, r, &request) {
		return
	}

	info, err := h.deps.Sessions.Connect(r.Context(), connParams(h.cfg.Database, request))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h sessionHandlers) get(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	s, err := h.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

func (h sessionHandlers) close(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	if err := h.deps.Sessions.Close(r.PathValue("id")); err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h sessionHandlers) schema(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	id := r.PathValue("id")
	s, err := h.deps.Sessions.Get(id)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	desc, text := s.Schema()
	writeJSON(w, http.StatusOK, schemaResponse{SessionID: id, Schema: desc, Text: text})
}

func (h sessionHandlers) reconnect(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	info, err := h.deps.Sessions.Reconnect(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h sessionHandlers) ask(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}

	var request askRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	id := r.PathValue("id")
	result, err := h.deps.Sessions.Ask(r.Context(), id, request.Question)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAskResponse(id, result))
}

func newAskResponse(id string, result nl2sql.Result) askResponse {
	response := askResponse{
		SessionID: id,
		Outcome:   result.Outcome(),
		SQL:       result.SQL(),
		Reason:    result.Reason(),
		RowCount:  nl2sql.RowCount(result),
	}
	if success, ok := result.(nl2sql.Success); ok {
		response.Columns = success.Rows.Columns
		response.Rows = success.Rows.Rows
	}
	return response
}

func (h sessionHandlers) download(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	format, ok := formatFromRequest(w, r)
	if !ok {
		return
	}
	rs, found, err := h.deps.Sessions.LastResult(r.PathValue("id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	if !found {
		writeError(r.Context(), w, http.StatusNotFound, "NO_RESULT", "session has no successful result to export", false, nil)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "result."+format.Extension()))
	w.WriteHeader(http.StatusOK)
	if err := export.Encode(w, format, rs); err != nil && h.deps.Logger != nil {
		// Headers are already written.
		observability.WithTrace(r.Context(), h.deps.Logger).Error("export stream failed",
			slog.String("session_id", r.PathValue("id")),
			slog.Any("error", err),
		)
	}
}

func (h sessionHandlers) publish(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	if h.deps.Exports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_DISABLED", "export publishing is not configured", false, nil)
		return
	}
	format, ok := formatFromRequest(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	rs, found, err := h.deps.Sessions.LastResult(id)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	if !found {
		writeError(r.Context(), w, http.StatusNotFound, "NO_RESULT", "session has no successful result to export", false, nil)
		return
	}

	published, err := h.deps.Exports.Publish(r.Context(), id, format, rs)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "failed to publish export", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, published)
}

func (h sessionHandlers) history(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_DISABLED", audit.ErrDisabled.Error(), false, nil)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHistoryLimit {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}

	id := r.PathValue("id")
	entries, err := h.deps.Audit.ListBySession(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, audit.ErrDisabled) {
			writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_DISABLED", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to load history", true, map[string]any{"details": err.Error()})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "entries": entries})
}

// connParams fills fields the request left empty from the configured
// defaults.
func connParams(defaults config.DatabaseConfig, request connectRequest) sqlserver.ConnParams {
	params := defaults.ConnParams()
	if v := strings.TrimSpace(request.Server); v != "" {
		params.Server = v
	}
	if request.Port != 0 {
		params.Port = request.Port
	}
	if v := strings.TrimSpace(request.User); v != "" {
		params.User = v
	}
	if request.Password != "" {
		params.Password = request.Password
	}
	if v := strings.TrimSpace(request.Database); v != "" {
		params.Database = v
	}
	if request.TrustServerCertificate != nil {
		params.TrustServerCertificate = *request.TrustServerCertificate
	}
	if request.Encrypt != nil {
		params.Encrypt = *request.Encrypt
	}
	return params
}

func formatFromRequest(w http.ResponseWriter, r *http.Request) (export.Format, bool) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FORMAT", err.Error(), false, nil)
		return "", false
	}
	return format, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error(), false, map[string]any{"session_id": r.PathValue("id")})
	case errors.Is(err, session.ErrTooManySessions):
		writeError(ctx, w, http.StatusTooManyRequests, "TOO_MANY_SESSIONS", err.Error(), true, nil)
	case errors.Is(err, sqlserver.ErrConnection):
		writeError(ctx, w, http.StatusBadGateway, "CONNECTION_FAILED", err.Error(), true, nil)
	case errors.Is(err, llm.ErrUnavailable):
		writeError(ctx, w, http.StatusBadGateway, "MODEL_UNAVAILABLE", err.Error(), true, nil)
	case errors.Is(err, nl2sql.ErrInvalidRequest):
		writeError(ctx, w, http.StatusInternalServerError, "PIPELINE_MISCONFIGURED", err.Error(), false, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error(), false, nil)
	}
}
