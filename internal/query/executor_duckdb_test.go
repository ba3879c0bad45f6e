package query

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/marcboeker/go-duckdb/v2"
)

func openDuckDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("sql.Open(duckdb) error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestExecuteAgainstDuckDB(t *testing.T) {
	db := openDuckDB(t)
	ctx := context.Background()
	for _, stmt := range []string{
		"CREATE TABLE customers (id INTEGER, name VARCHAR)",
		"INSERT INTO customers VALUES (2, 'globex'), (1, 'acme'), (3, NULL)",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}

	result, err := NewExecutor(Options{}).Execute(ctx, db, "SELECT id, name FROM customers ORDER BY id")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "id" || result.Columns[1] != "name" {
		t.Fatalf("columns = %#v", result.Columns)
	}
	if got := formatRows(result.Rows); got != "1 acme|2 globex|3 <nil>" {
		t.Fatalf("rows = %q", got)
	}
}

func TestExecuteDuckDBSyntaxErrorIsExecutionError(t *testing.T) {
	db := openDuckDB(t)
	_, err := NewExecutor(Options{}).Execute(context.Background(), db, "SELEC 1")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Err == nil {
		t.Fatalf("Execute() error = %v", err)
	}
}
