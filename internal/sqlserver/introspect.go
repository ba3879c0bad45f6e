package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/schema"
)

const columnsQuery = `
SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE
FROM INFORMATION_SCHEMA.COLUMNS
ORDER BY TABLE_NAME, ORDINAL_POSITION`

const foreignKeysQuery = `
SELECT
	tp.name AS parent_table,
	cp.name AS parent_column,
	tr.name AS referenced_table,
	cr.name AS referenced_column
FROM sys.foreign_keys fk
INNER JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
INNER JOIN sys.tables tp ON tp.object_id = fk.parent_object_id
INNER JOIN sys.columns cp ON fkc.parent_column_id = cp.column_id AND cp.object_id = tp.object_id
INNER JOIN sys.tables tr ON tr.object_id = fk.referenced_object_id
INNER JOIN sys.columns cr ON fkc.referenced_column_id = cr.column_id AND cr.object_id = tr.object_id
ORDER BY parent_table, parent_column, referenced_table, referenced_column`

// DefaultExcludedTables are SQL Server bookkeeping tables that never belong in
// the model context.
var DefaultExcludedTables = []string{"sysdiagrams"}

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Introspector struct {
	db       Querier
	excluded map[string]struct{}
}

func NewIntrospector(db Querier, excludedTables ...string) *Introspector {
	if len(excludedTables) == 0 {
		excludedTables = DefaultExcludedTables
	}
	excluded := make(map[string]struct{}, len(excludedTables))
	for _, name := range excludedTables {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			excluded[name] = struct{}{}
		}
	}
	return &Introspector{db: db, excluded: excluded}
}

// Describe runs the two read-only metadata queries and assembles the schema
// description. Any failure is reported as ErrConnection.
func (i *Introspector) Describe(ctx context.Context) (schema.Description, error) {
	if i.db == nil {
		return schema.Description{}, fmt.Errorf("%w: database handle is required", ErrConnection)
	}
	tables, err := i.listColumns(ctx)
	if err != nil {
		return schema.Description{}, err
	}
	keys, err := i.listForeignKeys(ctx)
	if err != nil {
		return schema.Description{}, err
	}
	return schema.New(tables, keys), nil
}

func (i *Introspector) listColumns(ctx context.Context) ([]schema.Table, error) {
	rows, err := i.db.QueryContext(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: query columns: %w", ErrConnection, err)
	}
	defer func() { _ = rows.Close() }()

	var tables []schema.Table
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("%w: scan column: %w", ErrConnection, err)
		}
		if i.isExcluded(tableName) {
			continue
		}
		pos, ok := index[tableName]
		if !ok {
			pos = len(tables)
			index[tableName] = pos
			tables = append(tables, schema.Table{Name: tableName})
		}
		tables[pos].Columns = append(tables[pos].Columns, schema.Column{Name: columnName, DataType: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate columns: %w", ErrConnection, err)
	}
	return tables, nil
}

func (i *Introspector) listForeignKeys(ctx context.Context) ([]schema.ForeignKey, error) {
	rows, err := i.db.QueryContext(ctx, foreignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: query foreign keys: %w", ErrConnection, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []schema.ForeignKey
	for rows.Next() {
		var fk schema.ForeignKey
		if err := rows.Scan(&fk.ParentTable, &fk.ParentColumn, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, fmt.Errorf("%w: scan foreign key: %w", ErrConnection, err)
		}
		if i.isExcluded(fk.ParentTable) || i.isExcluded(fk.ReferencedTable) {
			continue
		}
		keys = append(keys, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate foreign keys: %w", ErrConnection, err)
	}
	return keys, nil
}

func (i *Introspector) isExcluded(table string) bool {
	_, ok := i.excluded[strings.ToLower(table)]
	return ok
}
