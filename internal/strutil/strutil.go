// Package strutil holds small string helpers shared by the audit store and
// CLI output.
package strutil

import "unicode/utf8"

// TruncateUTF8 cuts s to at most maxBytes bytes without leaving a split
// multi-byte character at the end: a rune the cut would bisect is dropped
// entirely.
func TruncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
