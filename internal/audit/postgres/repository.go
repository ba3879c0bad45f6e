package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/audit"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return nil
}

func (r *Repository) Record(ctx context.Context, entry audit.Entry) error {
	if strings.TrimSpace(entry.SessionID) == "" {
		return fmt.Errorf("record audit entry: session id is required")
	}
	if strings.TrimSpace(entry.Outcome) == "" {
		return fmt.Errorf("record audit entry: outcome is required")
	}

	query := `
INSERT INTO query_audit (session_id, trace_id, database_name, question, generated_sql, outcome, reason, row_count, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(ctx, query,
		entry.SessionID,
		entry.TraceID,
		entry.DatabaseName,
		entry.Question,
		entry.SQL,
		entry.Outcome,
		entry.Reason,
		entry.RowCount,
		entry.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// ListBySession returns the newest entries first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT audit_id, session_id, trace_id, database_name, question, generated_sql, outcome, reason, row_count, duration_ms, created_at
FROM query_audit
WHERE session_id = $1
ORDER BY created_at DESC, audit_id DESC
LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var entry audit.Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.TraceID,
			&entry.DatabaseName,
			&entry.Question,
			&entry.SQL,
			&entry.Outcome,
			&entry.Reason,
			&entry.RowCount,
			&entry.DurationMs,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		entry.Duration = time.Duration(entry.DurationMs) * time.Millisecond
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return entries, nil
}
