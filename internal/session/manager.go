package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/audit"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/prompt"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/sqlserver"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrTooManySessions = errors.New("too many open sessions")
)

// Runner executes one pipeline request. *nl2sql.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error)
}

type Options struct {
	Connector Connector
	Pipeline  Runner
	Template  prompt.Template
	Model     string
	// IdleTTL expires sessions unused for longer; zero disables expiry.
	IdleTTL time.Duration
	// MaxSessions caps open sessions; zero means unlimited.
	MaxSessions int
	Recorder    audit.Recorder
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
}

// Manager owns the open sessions. The pipeline itself stays stateless: every
// Ask hands it the session's connection, schema and template.
type Manager struct {
	connector   Connector
	pipeline    Runner
	template    prompt.Template
	model       string
	idleTTL     time.Duration
	maxSessions int
	recorder    audit.Recorder
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if opts.Template.IsZero() {
		return nil, prompt.ErrTemplateMissing
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if opts.Recorder == nil {
		opts.Recorder = audit.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = observability.DiscardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{
		connector:   opts.Connector,
		pipeline:    opts.Pipeline,
		template:    opts.Template,
		model:       opts.Model,
		idleTTL:     opts.IdleTTL,
		maxSessions: opts.MaxSessions,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
		sessions:    map[string]*Session{},
	}, nil
}

// Connect opens a connection, describes its schema and registers a session.
// Failures wrap sqlserver.ErrConnection.
func (m *Manager) Connect(ctx context.Context, params sqlserver.ConnParams) (Info, error) {
	if m.full() {
		return Info{}, ErrTooManySessions
	}
	conn, desc, err := m.connector(ctx, params)
	if err != nil {
		return Info{}, err
	}

	session := newSession(m.newID(), params, conn, desc, m.now())
	m.mu.Lock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		_ = conn.Close()
		return Info{}, ErrTooManySessions
	}
	m.sessions[session.id] = session
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	m.logger.Info("session connected",
		slog.String("session_id", session.id),
		slog.String("server", params.Server),
		slog.String("database", params.Database),
		slog.Int("tables", len(desc.Tables)),
	)
	return session.Info(), nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return session, nil
}

func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reconnect replaces the session's connection and schema. When the new
// connection fails the old one stays in place.
func (m *Manager) Reconnect(ctx context.Context, id string) (Info, error) {
	session, err := m.Get(id)
	if err != nil {
		return Info{}, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closed {
		return Info{}, ErrNotFound
	}

	conn, desc, err := m.connector(ctx, session.params)
	if err != nil {
		return Info{}, err
	}
	if err := session.conn.Close(); err != nil {
		m.logger.Warn("close replaced connection failed", slog.String("session_id", id), slog.Any("error", err))
	}
	session.conn = conn
	session.schema = desc
	session.schemaText = desc.Text()
	session.lastResult = nil
	session.touch(m.now())

	m.logger.Info("session reconnected", slog.String("session_id", id), slog.Int("tables", len(desc.Tables)))
	return session.infoLocked(), nil
}

// Close removes the session and closes its connection after any in-flight
// request finishes.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	observability.SetActiveSessions(count)

	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.closeLocked(); err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	m.logger.Info("session closed", slog.String("session_id", id))
	return nil
}

func (m *Manager) CloseAll() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Close(id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sweep closes sessions idle for longer than IdleTTL and returns how many it
// closed.
func (m *Manager) Sweep() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var expired []string
	for id, session := range m.sessions {
		if session.LastUsed().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	closed := 0
	for _, id := range expired {
		if err := m.Close(id); err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.logger.Warn("close idle session failed", slog.String("session_id", id), slog.Any("error", err))
			}
			continue
		}
		closed++
	}
	if closed > 0 {
		m.logger.Info("idle sessions closed", slog.Int("count", closed))
	}
	return closed
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Ask runs the pipeline against the session. Runs on the same session are
// serialized; different sessions proceed independently.
func (m *Manager) Ask(ctx context.Context, id, question string) (nl2sql.Result, error) {
	session, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closed {
		return nil, ErrNotFound
	}
	session.touch(m.now())

	started := m.now()
	result, err := m.pipeline.Run(ctx, nl2sql.Request{
		Question:   question,
		Conn:       session.conn,
		Schema:     session.schema,
		SchemaText: session.schemaText,
		Template:   m.template,
		Model:      m.model,
	})
	elapsed := m.now().Sub(started)
	session.touch(m.now())

	entry := audit.Entry{
		SessionID:    id,
		TraceID:      observability.TraceIDFromContext(ctx),
		DatabaseName: session.params.Database,
		Question:     strings.TrimSpace(question),
		Duration:     elapsed,
	}
	switch {
	case err == nil:
		entry.Outcome = string(result.Outcome())
		entry.SQL = result.SQL()
		entry.Reason = result.Reason()
		entry.RowCount = nl2sql.RowCount(result)
		if success, ok := result.(nl2sql.Success); ok {
			rows := success.Rows
			session.lastResult = &rows
		}
	case errors.Is(err, llm.ErrUnavailable):
		entry.Outcome = audit.OutcomeModelUnavailable
		entry.Reason = err.Error()
	default:
		return nil, err
	}
	if recordErr := m.recorder.Record(ctx, entry); recordErr != nil {
		m.logger.Warn("audit record failed", slog.String("session_id", id), slog.Any("error", recordErr))
	}
	return result, err
}

// LastResult returns the session's most recent successful result set.
func (m *Manager) LastResult(id string) (query.ResultSet, bool, error) {
	session, err := m.Get(id)
	if err != nil {
		return query.ResultSet{}, false, err
	}
	rs, ok := session.LastResult()
	return rs, ok, nil
}

func (m *Manager) full() bool {
	if m.maxSessions <= 0 {
		return false
	}
	return m.Len() >= m.maxSessions
}
