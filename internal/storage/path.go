package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath lays out exports as
// <session>/date=YYYY-MM-DD/<export id>.<extension>, dated in UTC.
func BuildExportPath(sessionID string, createdAt time.Time, exportID, extension string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(exportID, "export id"); err != nil {
		return "", err
	}
	extension = strings.TrimPrefix(extension, ".")
	if err := validatePathComponent(extension, "extension"); err != nil {
		return "", err
	}

	ts := createdAt.UTC()
	return path.Join(
		sessionID,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		exportID+"."+extension,
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
