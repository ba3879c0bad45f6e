package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/audit"
	auditpostgres "github.com/askdb/askdb/internal/audit/postgres"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/prompt"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/session"
	"github.com/askdb/askdb/internal/sqlguard"
	"github.com/askdb/askdb/internal/sqlserver"
	s3store "github.com/askdb/askdb/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	tmpl, err := prompt.Load(cfg.Prompt.TemplatePath, prompt.SQLSlots...)
	if err != nil {
		logger.Error("failed to load prompt template", slog.String("path", cfg.Prompt.TemplatePath), slog.Any("error", err))
		os.Exit(1)
	}

	completer, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL: cfg.AI.BaseURL,
		APIKey:  cfg.AI.APIKey,
		Timeout: cfg.AI.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize language model client", slog.Any("error", err))
		os.Exit(1)
	}

	executor := query.NewExecutor(query.Options{
		Timeout:        cfg.Database.QueryTimeout,
		MaxRows:        cfg.Database.MaxRows,
		DescribeError:  sqlserver.DescribeError,
		NormalizeValue: sqlserver.NormalizeValue,
	})
	pipeline := nl2sql.NewPipeline(
		nl2sql.NewRelevanceValidator(completer),
		nl2sql.NewSQLGenerator(completer),
		sqlguard.Guard{RequireSelect: cfg.Safety.RequireSelect},
		executor,
		logger,
	)

	var recorder audit.Recorder = audit.Noop{}
	var auditPing func(context.Context) error
	if cfg.Audit.Enabled {
		auditDB, err := auditpostgres.Open(context.Background(), auditpostgres.DBConfig{
			DSN:          cfg.Audit.DSN,
			MaxOpenConns: cfg.Audit.MaxOpenConns,
			MaxIdleConns: cfg.Audit.MaxIdleConns,
		})
		if err != nil {
			logger.Error("failed to open audit db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()
		repo := auditpostgres.NewRepository(auditDB)
		recorder = repo
		auditPing = repo.HealthCheck
	}

	var publisher api.ExportPublisher
	if cfg.Export.Enabled {
		store, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.Export.Endpoint,
			Region:           cfg.Export.Region,
			Bucket:           cfg.Export.Bucket,
			AccessKeyID:      cfg.Export.AccessKeyID,
			SecretAccessKey:  cfg.Export.SecretAccessKey,
			UseSSL:           cfg.Export.UseSSL,
			Prefix:           cfg.Export.Prefix,
			AutoCreateBucket: cfg.Export.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize export store", slog.Any("error", err))
			os.Exit(1)
		}
		p, err := export.NewPublisher(store, export.PublisherOptions{URLExpiry: cfg.Export.URLExpiry})
		if err != nil {
			logger.Error("failed to initialize export publisher", slog.Any("error", err))
			os.Exit(1)
		}
		publisher = p
	}

	sessions, err := session.NewManager(session.Options{
		Connector:   session.SQLServerConnector(cfg.Database.PoolConfig(), cfg.Database.ExcludedTables...),
		Pipeline:    pipeline,
		Template:    tmpl,
		Model:       cfg.AI.Model,
		IdleTTL:     cfg.Session.IdleTTL,
		MaxSessions: cfg.Session.MaxSessions,
		Recorder:    recorder,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to initialize session manager", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:   logger,
		Sessions: sessions,
		Exports:  publisher,
		Audit:    recorder,
		Readiness: api.CombineReadinessChecks(
			api.CheckAudit(auditPing),
			api.CheckExportConfig(cfg),
		),
		DependencyTimeout: time.Second,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sessions.RunJanitor(ctx, cfg.Session.SweepInterval)

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("model", cfg.AI.Model),
			slog.Bool("audit", cfg.Audit.Enabled),
			slog.Bool("export", cfg.Export.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	shutdownErr := server.Shutdown(shutdownCtx)
	if err := sessions.CloseAll(); err != nil {
		logger.Warn("closing sessions failed", slog.Any("error", err))
	}
	if shutdownErr != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", shutdownErr))
		_ = server.Close()
		os.Exit(1)
	}
}
