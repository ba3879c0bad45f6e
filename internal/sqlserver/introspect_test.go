package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestDescribeTwoTablesOneForeignKey(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(columnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE"}).
			AddRow("orders", "id", "int").
			AddRow("orders", "customer_id", "int").
			AddRow("orders", "created_at", "datetime2").
			AddRow("customers", "id", "int").
			AddRow("customers", "name", "nvarchar").
			AddRow("sysdiagrams", "definition", "varbinary"))
	mock.ExpectQuery(regexp.QuoteMeta(foreignKeysQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"parent_table", "parent_column", "referenced_table", "referenced_column"}).
			AddRow("orders", "customer_id", "customers", "id"))

	desc, err := NewIntrospector(db).Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if len(desc.Tables) != 2 {
		t.Fatalf("tables = %#v", desc.Tables)
	}
	if desc.Tables[0].Name != "customers" || desc.Tables[1].Name != "orders" {
		t.Fatalf("table order = %q, %q", desc.Tables[0].Name, desc.Tables[1].Name)
	}
	orders := desc.Tables[1]
	if len(orders.Columns) != 3 || orders.Columns[2].Name != "created_at" || orders.Columns[2].DataType != "datetime2" {
		t.Fatalf("orders columns = %#v", orders.Columns)
	}
	if len(desc.ForeignKeys) != 1 {
		t.Fatalf("foreign keys = %#v", desc.ForeignKeys)
	}
	fk := desc.ForeignKeys[0]
	if fk.ParentTable != "orders" || fk.ParentColumn != "customer_id" || fk.ReferencedTable != "customers" || fk.ReferencedColumn != "id" {
		t.Fatalf("foreign key = %#v", fk)
	}
	assertSQLMock(t, mock)
}

func TestDescribeSortsForeignKeysRegardlessOfDriverOrder(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(columnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE"}).
			AddRow("lineitem", "l_orderkey", "int").
			AddRow("orders", "o_custkey", "int"))
	mock.ExpectQuery(regexp.QuoteMeta(foreignKeysQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"parent_table", "parent_column", "referenced_table", "referenced_column"}).
			AddRow("orders", "o_custkey", "customer", "c_custkey").
			AddRow("lineitem", "l_suppkey", "supplier", "s_suppkey").
			AddRow("lineitem", "l_orderkey", "orders", "o_orderkey"))

	desc, err := NewIntrospector(db).Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	want := []string{"lineitem.l_orderkey", "lineitem.l_suppkey", "orders.o_custkey"}
	if len(desc.ForeignKeys) != len(want) {
		t.Fatalf("foreign keys = %#v", desc.ForeignKeys)
	}
	for i, fk := range desc.ForeignKeys {
		if got := fk.ParentTable + "." + fk.ParentColumn; got != want[i] {
			t.Fatalf("ForeignKeys[%d] = %q, want %q", i, got, want[i])
		}
	}
	assertSQLMock(t, mock)
}

func TestDescribeCustomExclusions(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(columnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE"}).
			AddRow("audit_log", "id", "int").
			AddRow("orders", "id", "int"))
	mock.ExpectQuery(regexp.QuoteMeta(foreignKeysQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"parent_table", "parent_column", "referenced_table", "referenced_column"}).
			AddRow("audit_log", "order_id", "orders", "id"))

	desc, err := NewIntrospector(db, "AUDIT_LOG").Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if len(desc.Tables) != 1 || desc.Tables[0].Name != "orders" {
		t.Fatalf("tables = %#v", desc.Tables)
	}
	if len(desc.ForeignKeys) != 0 {
		t.Fatalf("foreign keys = %#v", desc.ForeignKeys)
	}
	assertSQLMock(t, mock)
}

func TestDescribeMetadataFailureIsConnectionError(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(columnsQuery)).
		WillReturnError(sql.ErrConnDone)

	_, err := NewIntrospector(db).Describe(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("error = %v, want ErrConnection", err)
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("error = %v, want wrapped driver error", err)
	}
	assertSQLMock(t, mock)
}

func TestDescribeForeignKeyFailureIsConnectionError(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(columnsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME", "DATA_TYPE"}).AddRow("t", "c", "int"))
	mock.ExpectQuery(regexp.QuoteMeta(foreignKeysQuery)).
		WillReturnError(errors.New("permission denied on sys.foreign_keys"))

	_, err := NewIntrospector(db).Describe(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("error = %v, want ErrConnection", err)
	}
	assertSQLMock(t, mock)
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
