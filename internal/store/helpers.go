// ABOUTME: SQL helper functions shared by the store files.
// ABOUTME: LIKE escaping for page filters and SQLite boolean conversion.

package store

import "strings"

// escapeSQLLike escapes SQL LIKE pattern special characters so a user-supplied
// filter only ever matches literally. Backslash goes first to avoid double-escaping.
func escapeSQLLike(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "\\", "\\\\")
	pattern = strings.ReplaceAll(pattern, "%", "\\%")
	pattern = strings.ReplaceAll(pattern, "_", "\\_")
	return pattern
}

// boolToInt maps a Go bool onto SQLite's integer booleans.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
