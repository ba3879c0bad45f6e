package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/sqlserver"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	AI            AIConfig
	Prompt        PromptConfig
	Safety        SafetyConfig
	Session       SessionConfig
	Audit         AuditConfig
	Export        ExportConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds default connection parameters for the target SQL
// Server plus pool and execution limits.
type DatabaseConfig struct {
	Server                 string
	Port                   int
	User                   string
	Password               string
	Database               string
	TrustServerCertificate bool
	Encrypt                string
	AppName                string
	MaxOpenConns           int
	MaxIdleConns           int
	ConnMaxLifetime        time.Duration
	QueryTimeout           time.Duration
	MaxRows                int
	ExcludedTables         []string
}

type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type PromptConfig struct {
	// TemplatePath is empty to use the built-in template.
	TemplatePath string
}

type SafetyConfig struct {
	RequireSelect bool
}

type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	MaxSessions   int
}

type AuditConfig struct {
	Enabled      bool
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type ExportConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
	URLExpiry        time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func (d DatabaseConfig) ConnParams() sqlserver.ConnParams {
	return sqlserver.ConnParams{
		Server:                 d.Server,
		Port:                   d.Port,
		User:                   d.User,
		Password:               d.Password,
		Database:               d.Database,
		TrustServerCertificate: d.TrustServerCertificate,
		Encrypt:                d.Encrypt,
		AppName:                d.AppName,
	}
}

func (d DatabaseConfig) PoolConfig() sqlserver.PoolConfig {
	return sqlserver.PoolConfig{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	l := loader{lookup: lookup}
	l.str("ASKDB_SERVICE_NAME", &cfg.Service.Name)
	l.str("ASKDB_HTTP_ADDR", &cfg.HTTP.Address)
	l.duration("ASKDB_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	l.duration("ASKDB_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	l.duration("ASKDB_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout)

	l.str("ASKDB_DB_SERVER", &cfg.Database.Server)
	l.integer("ASKDB_DB_PORT", &cfg.Database.Port)
	l.str("ASKDB_DB_USER", &cfg.Database.User)
	l.str("ASKDB_DB_PASSWORD", &cfg.Database.Password)
	l.str("ASKDB_DB_DATABASE", &cfg.Database.Database)
	l.boolean("ASKDB_DB_TRUST_SERVER_CERT", &cfg.Database.TrustServerCertificate)
	l.str("ASKDB_DB_ENCRYPT", &cfg.Database.Encrypt)
	l.str("ASKDB_DB_APP_NAME", &cfg.Database.AppName)
	l.integer("ASKDB_DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	l.integer("ASKDB_DB_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns)
	l.duration("ASKDB_DB_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime)
	l.duration("ASKDB_DB_QUERY_TIMEOUT", &cfg.Database.QueryTimeout)
	l.integer("ASKDB_DB_MAX_ROWS", &cfg.Database.MaxRows)
	l.list("ASKDB_DB_EXCLUDED_TABLES", &cfg.Database.ExcludedTables)

	l.str("ASKDB_AI_BASE_URL", &cfg.AI.BaseURL)
	l.str("OPENAI_API_KEY", &cfg.AI.APIKey)
	l.str("ASKDB_AI_API_KEY", &cfg.AI.APIKey)
	l.str("ASKDB_AI_MODEL", &cfg.AI.Model)
	l.duration("ASKDB_AI_TIMEOUT", &cfg.AI.Timeout)

	l.str("ASKDB_PROMPT_TEMPLATE_PATH", &cfg.Prompt.TemplatePath)
	l.boolean("ASKDB_SAFETY_REQUIRE_SELECT", &cfg.Safety.RequireSelect)

	l.duration("ASKDB_SESSION_IDLE_TTL", &cfg.Session.IdleTTL)
	l.duration("ASKDB_SESSION_SWEEP_INTERVAL", &cfg.Session.SweepInterval)
	l.integer("ASKDB_SESSION_MAX", &cfg.Session.MaxSessions)

	l.boolean("ASKDB_AUDIT_ENABLED", &cfg.Audit.Enabled)
	l.str("ASKDB_AUDIT_DSN", &cfg.Audit.DSN)
	l.integer("ASKDB_AUDIT_MAX_OPEN_CONNS", &cfg.Audit.MaxOpenConns)
	l.integer("ASKDB_AUDIT_MAX_IDLE_CONNS", &cfg.Audit.MaxIdleConns)

	l.boolean("ASKDB_EXPORT_ENABLED", &cfg.Export.Enabled)
	l.str("ASKDB_EXPORT_ENDPOINT", &cfg.Export.Endpoint)
	l.str("ASKDB_EXPORT_REGION", &cfg.Export.Region)
	l.str("ASKDB_EXPORT_BUCKET", &cfg.Export.Bucket)
	l.str("ASKDB_EXPORT_ACCESS_KEY", &cfg.Export.AccessKeyID)
	l.str("ASKDB_EXPORT_SECRET_KEY", &cfg.Export.SecretAccessKey)
	l.boolean("ASKDB_EXPORT_USE_SSL", &cfg.Export.UseSSL)
	l.str("ASKDB_EXPORT_PREFIX", &cfg.Export.Prefix)
	l.boolean("ASKDB_EXPORT_AUTO_CREATE_BUCKET", &cfg.Export.AutoCreateBucket)
	l.duration("ASKDB_EXPORT_URL_EXPIRY", &cfg.Export.URLExpiry)

	l.boolean("ASKDB_LOG_JSON", &cfg.Observability.LogJSON)
	l.logLevel("ASKDB_LOG_LEVEL", &cfg.Observability.LogLevel)
	if l.err != nil {
		return Config{}, l.err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if c.AI.Model == "" {
		return fmt.Errorf("ai model is required")
	}
	if c.Database.MaxRows < 0 {
		return fmt.Errorf("ASKDB_DB_MAX_ROWS must be >= 0")
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("ASKDB_SESSION_MAX must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.DSN == "" {
		return fmt.Errorf("ASKDB_AUDIT_DSN is required when audit is enabled")
	}
	if c.Export.Enabled && (c.Export.Endpoint == "" || c.Export.Bucket == "") {
		return fmt.Errorf("ASKDB_EXPORT_ENDPOINT and ASKDB_EXPORT_BUCKET are required when export is enabled")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askdb-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Server:                 `localhost\SQLEXPRESS`,
			User:                   "sa",
			Database:               "TPC_H",
			TrustServerCertificate: true,
			AppName:                "askdb",
			MaxOpenConns:           4,
			MaxIdleConns:           2,
			ConnMaxLifetime:        30 * time.Minute,
			QueryTimeout:           60 * time.Second,
			MaxRows:                10000,
			ExcludedTables:         []string{"sysdiagrams"},
		},
		AI: AIConfig{
			BaseURL: "https://api.openai.com",
			Model:   "gpt-4o",
			Timeout: 60 * time.Second,
		},
		Session: SessionConfig{
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
			MaxSessions:   50,
		},
		Audit: AuditConfig{
			DSN:          "",
			MaxOpenConns: 5,
			MaxIdleConns: 5,
		},
		Export: ExportConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "askdb-exports",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "exports",
			AutoCreateBucket: true,
			URLExpiry:        15 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Database.TrustServerCertificate = false
		cfg.Database.Encrypt = "true"
		cfg.Safety.RequireSelect = true
		cfg.Export.UseSSL = true
		cfg.Export.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

// loader applies lookups in order and keeps the first error.
type loader struct {
	lookup LookupFunc
	err    error
}

func (l *loader) str(key string, dst *string) {
	if l.err == nil {
		l.err = applyString(l.lookup, key, dst)
	}
}

func (l *loader) integer(key string, dst *int) {
	if l.err == nil {
		l.err = applyInt(l.lookup, key, dst)
	}
}

func (l *loader) boolean(key string, dst *bool) {
	if l.err == nil {
		l.err = applyBool(l.lookup, key, dst)
	}
}

func (l *loader) duration(key string, dst *time.Duration) {
	if l.err == nil {
		l.err = applyDuration(l.lookup, key, dst)
	}
}

func (l *loader) list(key string, dst *[]string) {
	if l.err == nil {
		l.err = applyList(l.lookup, key, dst)
	}
}

func (l *loader) logLevel(key string, dst *slog.Level) {
	if l.err == nil {
		l.err = applyLogLevel(l.lookup, key, dst)
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

// applyList splits a comma-separated value, dropping empty items.
func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
