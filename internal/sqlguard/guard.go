// Package sqlguard rejects generated SQL that could modify the database.
//
// The check is a keyword blacklist over the raw text, not a parser: keywords
// hidden by unusual encodings slip through, and keywords inside string
// literals or comments are rejected.
package sqlguard

import (
	"regexp"
	"strings"
)

var MutatingKeywords = []string{"DELETE", "UPDATE", "INSERT", "DROP", "ALTER", "TRUNCATE", "CREATE", "MERGE"}

var mutatingPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(MutatingKeywords, "|") + `)\b`)

// IsSafe reports whether sqlText contains none of MutatingKeywords as a whole
// word, ignoring case.
func IsSafe(sqlText string) bool {
	return !mutatingPattern.MatchString(sqlText)
}

// Violations lists the distinct mutating keywords found, upper-cased, in order
// of first appearance.
func Violations(sqlText string) []string {
	matches := mutatingPattern.FindAllString(sqlText, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(matches))
	for _, match := range matches {
		keyword := strings.ToUpper(match)
		if _, ok := seen[keyword]; ok {
			continue
		}
		seen[keyword] = struct{}{}
		out = append(out, keyword)
	}
	return out
}

// Guard is the configurable form of the filter. The zero value applies the
// keyword blacklist only.
type Guard struct {
	// RequireSelect additionally demands the statement start with SELECT or WITH.
	RequireSelect bool
}

// Check returns ok=false and a human-readable reason when sqlText is rejected.
func (g Guard) Check(sqlText string) (bool, string) {
	if strings.TrimSpace(sqlText) == "" {
		return false, "generated query is empty"
	}
	if found := Violations(sqlText); len(found) > 0 {
		return false, "generated query is not read-only (contains " + strings.Join(found, ", ") + ")"
	}
	if g.RequireSelect && !startsWithSelect(sqlText) {
		return false, "only SELECT/WITH statements are allowed"
	}
	return true, ""
}

func startsWithSelect(sqlText string) bool {
	normalized := strings.ToLower(strings.TrimLeft(sqlText, " \t\r\n("))
	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}
