package sqlserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
)

// DescribeError renders a driver error as a message fit for end users.
func DescribeError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "query timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "query was canceled"
	}
	var serverErr mssql.Error
	if errors.As(err, &serverErr) {
		return fmt.Sprintf("SQL Server error %d: %s", serverErr.Number, strings.TrimSpace(serverErr.Message))
	}
	return err.Error()
}

// NormalizeValue converts driver values that have no useful default text
// form. UNIQUEIDENTIFIER columns arrive as mixed-endian bytes; DECIMAL and
// MONEY arrive as their decimal text.
func NormalizeValue(databaseType string, value any) any {
	raw, ok := value.([]byte)
	if !ok {
		return value
	}
	switch strings.ToUpper(databaseType) {
	case "UNIQUEIDENTIFIER":
		var id mssql.UniqueIdentifier
		if err := id.Scan(raw); err == nil {
			return id.String()
		}
		return fmt.Sprintf("%x", raw)
	case "BINARY", "VARBINARY", "IMAGE", "TIMESTAMP":
		return "0x" + strings.ToUpper(fmt.Sprintf("%x", raw))
	default:
		return string(raw)
	}
}
