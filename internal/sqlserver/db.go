package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
)

var ErrConnection = errors.New("database connection error")

type ConnParams struct {
	Server                 string `json:"server"`
	Port                   int    `json:"port,omitempty"`
	User                   string `json:"user"`
	Password               string `json:"-"`
	Database               string `json:"database"`
	TrustServerCertificate bool   `json:"trust_server_certificate"`
	Encrypt                string `json:"encrypt,omitempty"`
	AppName                string `json:"app_name,omitempty"`
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (p ConnParams) Validate() error {
	if strings.TrimSpace(p.Server) == "" {
		return fmt.Errorf("server is required")
	}
	if strings.TrimSpace(p.Database) == "" {
		return fmt.Errorf("database is required")
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("invalid port %d", p.Port)
	}
	return nil
}

// DSN builds a sqlserver:// URL. Server accepts "host", "host\INSTANCE" and
// the ODBC style "host,port".
func (p ConnParams) DSN() string {
	host, instance, port := splitServer(p.Server)
	if p.Port > 0 {
		port = p.Port
	}
	if port > 0 {
		host = host + ":" + strconv.Itoa(port)
	}

	query := url.Values{}
	query.Set("database", strings.TrimSpace(p.Database))
	if p.TrustServerCertificate {
		query.Set("TrustServerCertificate", "true")
	}
	if encrypt := strings.TrimSpace(p.Encrypt); encrypt != "" {
		query.Set("encrypt", encrypt)
	}
	if appName := strings.TrimSpace(p.AppName); appName != "" {
		query.Set("app name", appName)
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     host,
		RawQuery: query.Encode(),
	}
	if instance != "" {
		u.Path = "/" + instance
	}
	if strings.TrimSpace(p.User) != "" {
		u.User = url.UserPassword(strings.TrimSpace(p.User), p.Password)
	}
	return u.String()
}

// String is safe to log.
func (p ConnParams) String() string {
	redacted := p
	if redacted.Password != "" {
		redacted.Password = "xxxxx"
	}
	return strings.Replace(redacted.DSN(), ":xxxxx@", ":***@", 1)
}

func Open(ctx context.Context, params ConnParams, pool PoolConfig) (*sql.DB, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	db, err := sql.Open("sqlserver", params.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrConnection, err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping database: %w", ErrConnection, err)
	}

	return db, nil
}

func splitServer(server string) (host, instance string, port int) {
	host = strings.TrimSpace(server)
	if idx := strings.LastIndex(host, ","); idx >= 0 {
		if parsed, err := strconv.Atoi(strings.TrimSpace(host[idx+1:])); err == nil {
			port = parsed
			host = strings.TrimSpace(host[:idx])
		}
	}
	if idx := strings.Index(host, `\`); idx >= 0 {
		instance = strings.TrimSpace(host[idx+1:])
		host = strings.TrimSpace(host[:idx])
	}
	if host == "" || host == "." {
		host = "localhost"
	}
	return host, instance, port
}
