package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestExecuteReturnsColumnsAndRowsInOrder(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT name, total FROM orders")).
		WillReturnRows(sqlmock.NewRows([]string{"name", "total"}).
			AddRow([]byte("acme"), int64(10)).
			AddRow("globex", int64(7)))

	result, err := NewExecutor(Options{}).Execute(context.Background(), db, "SELECT name, total FROM orders")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.Join(result.Columns, ",") != "name,total" {
		t.Fatalf("columns = %#v", result.Columns)
	}
	if result.Len() != 2 {
		t.Fatalf("rows = %#v", result.Rows)
	}
	if result.Rows[0][0] != "acme" {
		t.Fatalf("[]byte value not normalized: %#v", result.Rows[0][0])
	}
	record := result.Record(1)
	if record["name"] != "globex" || record["total"] != int64(7) {
		t.Fatalf("Record(1) = %#v", record)
	}
	assertSQLMock(t, mock)
}

func TestExecuteEmptyResultKeepsColumns(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery("SELECT id FROM customers").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	result, err := NewExecutor(Options{}).Execute(context.Background(), db, "SELECT id FROM customers WHERE 1 = 0")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 1 || result.Len() != 0 || result.Rows == nil {
		t.Fatalf("result = %#v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteWrapsDriverErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	driverErr := errors.New("Invalid object name 'ordres'")
	mock.ExpectQuery("SELECT").WillReturnError(driverErr)

	_, err := NewExecutor(Options{}).Execute(context.Background(), db, "SELECT * FROM ordres")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %T (%v)", err, err)
	}
	if !errors.Is(err, driverErr) {
		t.Fatalf("driver error not wrapped: %v", err)
	}
	if !strings.Contains(execErr.Message, "ordres") {
		t.Fatalf("message = %q", execErr.Message)
	}
	assertSQLMock(t, mock)
}

func TestExecuteUsesDescribeError(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("raw"))

	executor := NewExecutor(Options{DescribeError: func(error) string { return "described" }})
	_, err := executor.Execute(context.Background(), db, "SELECT 1")
	if err == nil || err.Error() != "error executing query: described" {
		t.Fatalf("Execute() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReturnsNoPartialRowsOnIterationError(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(int64(1)).
			AddRow(int64(2)).
			RowError(1, errors.New("connection reset")))

	result, err := NewExecutor(Options{}).Execute(context.Background(), db, "SELECT id FROM t")
	if err == nil {
		t.Fatal("expected execution error")
	}
	if result.Len() != 0 || result.Columns != nil {
		t.Fatalf("partial result returned: %#v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteFailsWhenMaxRowsExceeded(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))

	_, err := NewExecutor(Options{MaxRows: 2}).Execute(context.Background(), db, "SELECT id FROM t")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || !strings.Contains(execErr.Message, "exceeds 2 rows") {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestExecuteAllowsExactlyMaxRows(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	result, err := NewExecutor(Options{MaxRows: 2}).Execute(context.Background(), db, "SELECT id FROM t")
	if err != nil || result.Len() != 2 {
		t.Fatalf("Execute() = %#v, %v", result, err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteAppliesTimeout(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery("SELECT").
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	_, err := NewExecutor(Options{Timeout: 10 * time.Millisecond}).Execute(context.Background(), db, "SELECT id FROM t")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected timeout execution error, got %v", err)
	}
}

func TestExecuteRejectsMissingInputs(t *testing.T) {
	executor := NewExecutor(Options{})
	if _, err := executor.Execute(context.Background(), nil, "SELECT 1"); err == nil {
		t.Fatal("expected error for nil connection")
	}
	db, _ := newSQLMock(t)
	if _, err := executor.Execute(context.Background(), db, "   "); err == nil {
		t.Fatal("expected error for blank sql")
	}
}

func TestRecordOutOfRange(t *testing.T) {
	rs := ResultSet{Columns: []string{"a"}, Rows: [][]any{{1}}}
	if rs.Record(3) != nil || rs.Record(-1) != nil {
		t.Fatal("expected nil record")
	}
	if got := rs.Records(); len(got) != 1 || got[0]["a"] != 1 {
		t.Fatalf("Records() = %#v", got)
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func formatRows(rows [][]any) string {
	parts := make([]string, 0, len(rows))
	for _, row := range rows {
		parts = append(parts, strings.TrimSpace(fmt.Sprintln(row...)))
	}
	return strings.Join(parts, "|")
}
