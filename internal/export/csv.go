package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/askdb/askdb/internal/query"
)

// WriteCSV writes a header of column names followed by one record per row.
// NULL becomes an empty field.
func WriteCSV(w io.Writer, rs query.ResultSet) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(rs.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(rs.Columns))
	for i, row := range rs.Rows {
		if len(row) != len(rs.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(rs.Columns))
		}
		for j, value := range row {
			record[j], _ = FormatValue(value)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadCSV parses output of WriteCSV. Every value comes back as a string.
func ReadCSV(r io.Reader) (query.ResultSet, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return query.ResultSet{}, fmt.Errorf("read csv header: empty input")
		}
		return query.ResultSet{}, fmt.Errorf("read csv header: %w", err)
	}
	rs := query.ResultSet{Columns: header, Rows: make([][]any, 0)}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return query.ResultSet{}, fmt.Errorf("read csv row %d: %w", len(rs.Rows), err)
		}
		row := make([]any, len(record))
		for i, field := range record {
			row[i] = field
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}
