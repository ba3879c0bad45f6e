package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/prompt"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
)

var ErrInvalidRequest = errors.New("invalid pipeline request")

const (
	StageValidating     = "validating"
	StageGenerating     = "generating"
	StageSafetyChecking = "safety_checking"
	StageExecuting      = "executing"
)

const (
	reasonBlankQuestion    = "question is empty"
	reasonRejectedQuestion = "the question is not valid or is not related to the database"
)

type Validator interface {
	Validate(ctx context.Context, question, schemaText, model string) (bool, error)
}

type Generator interface {
	Generate(ctx context.Context, question, schemaText string, tmpl prompt.Template, model string) (string, error)
}

// SafetyChecker reports whether sql may run and, if not, why.
type SafetyChecker interface {
	Check(sql string) (bool, string)
}

type Executor interface {
	Execute(ctx context.Context, db query.Querier, sql string) (query.ResultSet, error)
}

// Request carries everything one run needs. The pipeline holds no session
// state of its own.
type Request struct {
	Question string
	Conn     query.Querier
	Schema   schema.Description
	// SchemaText overrides Schema.Text() when set.
	SchemaText string
	Template   prompt.Template
	Model      string
}

type Pipeline struct {
	validator Validator
	generator Generator
	safety    SafetyChecker
	executor  Executor
	logger    *slog.Logger
}

func NewPipeline(validator Validator, generator Generator, safety SafetyChecker, executor Executor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Pipeline{
		validator: validator,
		generator: generator,
		safety:    safety,
		executor:  executor,
		logger:    logger,
	}
}

// Run moves a question through validation, generation, the safety check and
// execution, stopping at the first stage that declines. Declines come back as
// a Result; an error means the pipeline could not run, e.g. the model was
// unreachable.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	logger := observability.WithTrace(ctx, p.logger)

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return p.finish(logger, RejectedQuestion{Message: reasonBlankQuestion}), nil
	}
	schemaText := req.SchemaText
	if schemaText == "" {
		schemaText = req.Schema.Text()
	}

	logger.Debug("pipeline stage", slog.String("stage", StageValidating))
	started := time.Now()
	valid, err := p.validator.Validate(ctx, question, schemaText, req.Model)
	observability.ObservePipelineStage(StageValidating, time.Since(started))
	if err != nil {
		return nil, err
	}
	if !valid {
		return p.finish(logger, RejectedQuestion{Message: reasonRejectedQuestion}), nil
	}

	logger.Debug("pipeline stage", slog.String("stage", StageGenerating))
	started = time.Now()
	generated, err := p.generator.Generate(ctx, question, schemaText, req.Template, req.Model)
	observability.ObservePipelineStage(StageGenerating, time.Since(started))
	if err != nil {
		return nil, err
	}

	logger.Debug("pipeline stage", slog.String("stage", StageSafetyChecking), slog.String("sql", generated))
	if safe, reason := p.safety.Check(generated); !safe {
		return p.finish(logger, UnsafeQuery{GeneratedSQL: generated, Message: reason}), nil
	}

	logger.Debug("pipeline stage", slog.String("stage", StageExecuting))
	started = time.Now()
	rows, err := p.executor.Execute(ctx, req.Conn, generated)
	observability.ObservePipelineStage(StageExecuting, time.Since(started))
	if err != nil {
		if cause := errors.Unwrap(err); cause != nil {
			logger.Debug("query execution failed", slog.String("cause", cause.Error()))
		}
		return p.finish(logger, ExecutionError{GeneratedSQL: generated, Message: err.Error()}), nil
	}
	return p.finish(logger, Success{GeneratedSQL: generated, Rows: rows}), nil
}

func (p *Pipeline) finish(logger *slog.Logger, result Result) Result {
	observability.IncrementPipelineOutcome(string(result.Outcome()))
	attrs := []any{slog.String("outcome", string(result.Outcome()))}
	if sql := result.SQL(); sql != "" {
		attrs = append(attrs, slog.String("sql", sql))
	}
	if reason := result.Reason(); reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	if success, ok := result.(Success); ok {
		attrs = append(attrs, slog.Int("rows", success.Rows.Len()))
	}
	logger.Info("pipeline finished", attrs...)
	return result
}

func (r Request) validate() error {
	if r.Conn == nil {
		return fmt.Errorf("%w: connection is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if r.Template.IsZero() {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, prompt.ErrTemplateMissing)
	}
	return nil
}
