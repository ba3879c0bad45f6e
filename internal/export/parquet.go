package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/query"
)

// ColumnsMetadataKey holds the JSON array of column names in projection
// order. Parquet groups store fields sorted by name, so readers that care
// about the original order use this key.
const ColumnsMetadataKey = "askdb.columns"

// WriteParquet writes every column as an optional UTF-8 string. Repeated
// column names get a numeric suffix.
func WriteParquet(w io.Writer, rs query.ResultSet) error {
	if len(rs.Columns) == 0 {
		return fmt.Errorf("parquet export requires at least one column")
	}
	names := uniqueColumnNames(rs.Columns)

	group := parquet.Group{}
	for _, name := range names {
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("result", group)

	// Leaf columns follow sorted field names; map projection index to leaf index.
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	leafIndex := make(map[string]int, len(sorted))
	for i, name := range sorted {
		leafIndex[name] = i
	}

	order, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encode column order: %w", err)
	}
	writer := parquet.NewWriter(w, schema, parquet.KeyValueMetadata(ColumnsMetadataKey, string(order)))

	rows := make([]parquet.Row, 0, len(rs.Rows))
	for i, values := range rs.Rows {
		if len(values) != len(names) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(values), len(names))
		}
		row := make(parquet.Row, len(names))
		for j, value := range values {
			leaf := leafIndex[names[j]]
			text, ok := FormatValue(value)
			if !ok {
				row[leaf] = parquet.NullValue().Level(0, 0, leaf)
				continue
			}
			row[leaf] = parquet.ByteArrayValue([]byte(text)).Level(0, 1, leaf)
		}
		rows = append(rows, row)
	}
	if _, err := writer.WriteRows(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func uniqueColumnNames(columns []string) []string {
	seen := make(map[string]int, len(columns))
	names := make([]string, len(columns))
	for i, column := range columns {
		name := column
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		for {
			count := seen[name]
			seen[name] = count + 1
			if count == 0 {
				break
			}
			name = name + "_" + strconv.Itoa(count+1)
		}
		names[i] = name
	}
	return names
}
