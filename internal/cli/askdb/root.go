// Package askdb implements the local askdb command: it runs the question
// pipeline directly against a database without the HTTP service.
package askdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/prompt"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/session"
	"github.com/askdb/askdb/internal/sqlguard"
	"github.com/askdb/askdb/internal/sqlserver"
)

// errDeclined reports a run that finished without rows. The outcome has
// already been printed.
var errDeclined = errors.New("question was not answered")

type Deps struct {
	// Connector defaults to a pooled SQL Server connection.
	Connector session.Connector
	// Completer defaults to the OpenAI-compatible client from config.
	Completer llm.Completer
	// Lookup defaults to the process environment.
	Lookup  config.LookupFunc
	Out     io.Writer
	Err     io.Writer
	Version string
}

// flagKeys maps persistent flags onto the config keys they override.
var flagKeys = map[string]string{
	"server":         "ASKDB_DB_SERVER",
	"port":           "ASKDB_DB_PORT",
	"user":           "ASKDB_DB_USER",
	"password":       "ASKDB_DB_PASSWORD",
	"database":       "ASKDB_DB_DATABASE",
	"trust-cert":     "ASKDB_DB_TRUST_SERVER_CERT",
	"model":          "ASKDB_AI_MODEL",
	"template":       "ASKDB_PROMPT_TEMPLATE_PATH",
	"require-select": "ASKDB_SAFETY_REQUIRE_SELECT",
	"max-rows":       "ASKDB_DB_MAX_ROWS",
	"log-level":      "ASKDB_LOG_LEVEL",
}

type runner struct {
	deps       Deps
	configFile string
}

func NewRootCommand(deps Deps) *cobra.Command {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Err == nil {
		deps.Err = os.Stderr
	}
	if deps.Lookup == nil {
		deps.Lookup = os.LookupEnv
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	r := &runner{deps: deps}

	root := &cobra.Command{
		Use:           "askdb",
		Short:         "Ask a SQL Server database questions in natural language",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(deps.Out)
	root.SetErr(deps.Err)

	flags := root.PersistentFlags()
	flags.StringVar(&r.configFile, "config", "", "config file (yaml, toml or json)")
	flags.String("server", "", `SQL Server host, host\INSTANCE or host,port`)
	flags.Int("port", 0, "SQL Server TCP port")
	flags.String("user", "", "database login")
	flags.String("password", "", "database password")
	flags.String("database", "", "database name")
	flags.Bool("trust-cert", true, "trust the server certificate")
	flags.String("model", "", "language model identifier")
	flags.String("template", "", "SQL generation prompt template file")
	flags.Bool("require-select", false, "only allow statements starting with SELECT or WITH")
	flags.Int("max-rows", 0, "maximum rows a query may return (0 = unlimited)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		r.askCommand(),
		r.schemaCommand(),
		r.checkSQLCommand(),
		r.versionCommand(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, deps Deps) int {
	cmd := NewRootCommand(deps)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errDeclined) {
			pterm.Error.WithWriter(cmd.ErrOrStderr()).Println(err.Error())
		}
		return 1
	}
	return 0
}

// loadConfig resolves settings as flags, then environment, then config file.
func (r *runner) loadConfig(cmd *cobra.Command) (config.Config, error) {
	lookups := []config.LookupFunc{flagLookup(cmd), r.deps.Lookup}
	if r.configFile != "" {
		fileLookup, err := config.FileLookup(r.configFile)
		if err != nil {
			return config.Config{}, err
		}
		lookups = append(lookups, fileLookup)
	}
	return config.Load("askdb", config.ChainLookup(lookups...))
}

func flagLookup(cmd *cobra.Command) config.LookupFunc {
	return func(key string) (string, bool) {
		for name, mapped := range flagKeys {
			if mapped != key {
				continue
			}
			flag := cmd.Flags().Lookup(name)
			if flag == nil || !flag.Changed {
				return "", false
			}
			return flag.Value.String(), true
		}
		return "", false
	}
}

// app is everything one pipeline run needs, built from config.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	connector session.Connector
	pipeline  *nl2sql.Pipeline
	template  prompt.Template
}

func (r *runner) connectorFor(cfg config.Config) session.Connector {
	if r.deps.Connector != nil {
		return r.deps.Connector
	}
	return session.SQLServerConnector(cfg.Database.PoolConfig(), cfg.Database.ExcludedTables...)
}

func (r *runner) buildApp(cmd *cobra.Command) (*app, error) {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(cfg, r.deps.Err)

	tmpl, err := prompt.Load(cfg.Prompt.TemplatePath, prompt.SQLSlots...)
	if err != nil {
		return nil, err
	}

	completer := r.deps.Completer
	if completer == nil {
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Timeout: cfg.AI.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("configure language model: %w", err)
		}
		completer = client
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
	return &app{
		cfg:       cfg,
		logger:    logger,
		connector: r.connectorFor(cfg),
		pipeline:  pipeline,
		template:  tmpl,
	}, nil
}

func (r *runner) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the askdb version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "askdb %s\n", r.deps.Version)
			return err
		},
	}
}

func (r *runner) checkSQLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-sql <sql>",
		Short: "Run the read-only safety filter over a SQL statement",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := r.loadConfig(cmd)
			if err != nil {
				return err
			}
			sqlText := strings.Join(args, " ")
			ok, reason := sqlguard.Guard{RequireSelect: cfg.Safety.RequireSelect}.Check(sqlText)
			if !ok {
				pterm.Warning.WithWriter(cmd.OutOrStdout()).Println("unsafe: " + reason)
				return errDeclined
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Println("safe")
			return nil
		},
	}
}
