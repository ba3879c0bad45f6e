package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/query"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

func (f Format) Extension() string {
	return string(f)
}

func (f Format) ContentType() string {
	if f == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv; charset=utf-8"
}

func Encode(w io.Writer, format Format, rs query.ResultSet) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, rs)
	case FormatParquet:
		return WriteParquet(w, rs)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// FormatValue renders one cell as text. The second result is false for SQL
// NULL.
func FormatValue(value any) (string, bool) {
	switch typed := value.(type) {
	case nil:
		return "", false
	case string:
		return typed, true
	case []byte:
		return string(typed), true
	case time.Time:
		return typed.Format(time.RFC3339Nano), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32), true
	case bool:
		return strconv.FormatBool(typed), true
	default:
		return fmt.Sprint(typed), true
	}
}
