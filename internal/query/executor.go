package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ExecutionError is the only error Execute returns. Message is meant for end
// users; Err keeps the driver error for logs.
type ExecutionError struct {
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type Options struct {
	// Timeout bounds a single execution; zero leaves it to the driver.
	Timeout time.Duration
	// MaxRows fails the execution once exceeded; zero means unlimited.
	MaxRows int
	// DescribeError renders driver errors; defaults to err.Error().
	DescribeError func(error) string
	// NormalizeValue converts scanned values given the column's database type
	// name; defaults to turning []byte into string.
	NormalizeValue func(databaseType string, value any) any
}

type Executor struct {
	opts Options
}

func NewExecutor(opts Options) *Executor {
	if opts.DescribeError == nil {
		opts.DescribeError = func(err error) string { return err.Error() }
	}
	if opts.NormalizeValue == nil {
		opts.NormalizeValue = normalizeValue
	}
	return &Executor{opts: opts}
}

// Execute runs sqlText once. It either returns every row or an
// *ExecutionError and no rows.
func (e *Executor) Execute(ctx context.Context, db Querier, sqlText string) (ResultSet, error) {
	if db == nil {
		return ResultSet{}, &ExecutionError{Message: "error executing query: no database connection"}
	}
	if strings.TrimSpace(sqlText) == "" {
		return ResultSet{}, &ExecutionError{Message: "error executing query: sql is required"}
	}
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return ResultSet{}, e.fail(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return ResultSet{}, e.fail(err)
	}
	databaseTypes := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil {
		for i, columnType := range columnTypes {
			if i < len(databaseTypes) {
				databaseTypes[i] = columnType.DatabaseTypeName()
			}
		}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		if e.opts.MaxRows > 0 && len(resultRows) >= e.opts.MaxRows {
			return ResultSet{}, &ExecutionError{
				Message: fmt.Sprintf("error executing query: result exceeds %d rows; refine the question", e.opts.MaxRows),
			}
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return ResultSet{}, e.fail(err)
		}
		for i, value := range values {
			values[i] = e.opts.NormalizeValue(databaseTypes[i], value)
		}
		resultRows = append(resultRows, values)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, e.fail(err)
	}

	return ResultSet{Columns: columns, Rows: resultRows}, nil
}

func (e *Executor) fail(err error) *ExecutionError {
	return &ExecutionError{
		Message: "error executing query: " + e.opts.DescribeError(err),
		Err:     err,
	}
}

func normalizeValue(_ string, value any) any {
	if typed, ok := value.([]byte); ok {
		return string(typed)
	}
	return value
}
