package store

import "strings"

// isUniqueViolation reports whether err came from a UNIQUE constraint
// failure. modernc.org/sqlite surfaces these as plain errors whose message
// mirrors the C library's text, so the check is string-based rather than
// against a typed sentinel.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
