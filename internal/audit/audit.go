package audit

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("audit trail is disabled")

// OutcomeModelUnavailable records runs that failed because the language model
// could not be reached. The other outcomes match nl2sql.Outcome values.
const OutcomeModelUnavailable = "model_unavailable"

type Entry struct {
	ID           int64         `json:"id"`
	SessionID    string        `json:"session_id"`
	TraceID      string        `json:"trace_id,omitempty"`
	DatabaseName string        `json:"database"`
	Question     string        `json:"question"`
	SQL          string        `json:"sql,omitempty"`
	Outcome      string        `json:"outcome"`
	Reason       string        `json:"reason,omitempty"`
	RowCount     int           `json:"row_count"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"duration_ms"`
	CreatedAt    time.Time     `json:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]Entry, error)
}

// Noop drops entries and reports ErrDisabled on reads.
type Noop struct{}

func (Noop) Record(context.Context, Entry) error {
	return nil
}

func (Noop) ListBySession(context.Context, string, int) ([]Entry, error) {
	return nil, ErrDisabled
}
