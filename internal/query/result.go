package query

// ResultSet keeps rows in projection order. Rows[i][j] is the value of
// Columns[j].
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (rs ResultSet) Len() int {
	return len(rs.Rows)
}

// Record returns row i as a column-name mapping. When a projection repeats a
// column name the last value wins; use Rows for lossless access.
func (rs ResultSet) Record(i int) map[string]any {
	if i < 0 || i >= len(rs.Rows) {
		return nil
	}
	record := make(map[string]any, len(rs.Columns))
	for j, column := range rs.Columns {
		if j < len(rs.Rows[i]) {
			record[column] = rs.Rows[i][j]
		}
	}
	return record
}

func (rs ResultSet) Records() []map[string]any {
	records := make([]map[string]any, 0, len(rs.Rows))
	for i := range rs.Rows {
		records = append(records, rs.Record(i))
	}
	return records
}
