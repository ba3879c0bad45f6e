package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlserver"
)

// Session owns one database connection and the schema described from it.
// Pipeline runs and reconnects on a session are serialized.
type Session struct {
	id        string
	params    sqlserver.ConnParams
	createdAt time.Time
	lastUsed  atomic.Int64

	mu         sync.Mutex
	conn       Conn
	schema     schema.Description
	schemaText string
	lastResult *query.ResultSet
	closed     bool
}

type Info struct {
	ID          string    `json:"session_id"`
	Server      string    `json:"server"`
	Database    string    `json:"database"`
	User        string    `json:"user"`
	Tables      int       `json:"tables"`
	ForeignKeys int       `json:"foreign_keys"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used"`
}

func newSession(id string, params sqlserver.ConnParams, conn Conn, desc schema.Description, now time.Time) *Session {
	s := &Session{
		id:         id,
		params:     params,
		createdAt:  now,
		conn:       conn,
		schema:     desc,
		schemaText: desc.Text(),
	}
	s.touch(now)
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) touch(now time.Time) {
	s.lastUsed.Store(now.UnixNano())
}

func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load()).UTC()
}

// Schema returns the description built when the session connected.
func (s *Session) Schema() (schema.Description, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema, s.schemaText
}

// LastResult is the most recent successful result set, if any.
func (s *Session) LastResult() (query.ResultSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResult == nil {
		return query.ResultSet{}, false
	}
	return *s.lastResult, true
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	return Info{
		ID:          s.id,
		Server:      s.params.Server,
		Database:    s.params.Database,
		User:        s.params.User,
		Tables:      len(s.schema.Tables),
		ForeignKeys: len(s.schema.ForeignKeys),
		CreatedAt:   s.createdAt,
		LastUsed:    s.LastUsed(),
	}
}

// close releases the connection once. Callers must hold s.mu.
func (s *Session) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.lastResult = nil
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
