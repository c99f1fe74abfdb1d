package strutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		maxBytes int
		want     string
	}{
		{"empty", "", 10, ""},
		{"zero max", "hello", 0, ""},
		{"negative max", "hello", -1, ""},
		{"ascii cut", "hello world", 5, "hello"},
		{"fits", "short", 100, "short"},
		{"multibyte cut mid-rune", "日本語テスト", 7, "日本"},
		{"multibyte exact boundary", "abc日", 6, "abc日"},
		{"emoji cut mid-rune", "ab🚀cd", 4, "ab"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TruncateUTF8(tc.in, tc.maxBytes); got != tc.want {
				t.Fatalf("TruncateUTF8(%q, %d) = %q, want %q", tc.in, tc.maxBytes, got, tc.want)
			}
		})
	}
}

func TestTruncateUTF8NeverSplitsRunes(t *testing.T) {
	s := strings.Repeat("híロ🚀", 100)
	for limit := 1; limit <= len(s); limit += 5 {
		got := TruncateUTF8(s, limit)
		if len(got) > limit {
			t.Fatalf("limit %d: result is %d bytes", limit, len(got))
		}
		if !utf8.ValidString(got) {
			t.Fatalf("limit %d: invalid UTF-8 %q", limit, got)
		}
		if !strings.HasPrefix(s, got) {
			t.Fatalf("limit %d: result is not a prefix", limit)
		}
	}
}
