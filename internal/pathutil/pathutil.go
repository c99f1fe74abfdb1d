// Package pathutil resolves user-supplied file paths from config values:
// home expansion and parent-directory creation for the sqlite, approval,
// audit, and workspace paths.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHomePath resolves a leading "~" against the current user's home
// directory and cleans the result. Paths without a tilde are cleaned as-is;
// when the home directory cannot be determined the path is returned cleaned
// but unexpanded.
func ExpandHomePath(p string) string {
	p = strings.TrimSpace(p)
	switch {
	case p == "":
		return ""
	case p != "~" && !strings.HasPrefix(p, "~/"):
		return filepath.Clean(p)
	}

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Clean(p)
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/")
	if rest == "" {
		return filepath.Clean(home)
	}
	return filepath.Clean(filepath.Join(home, rest))
}

// EnsureParentDir creates the parent directory of path with owner-only
// permissions. A path with no meaningful parent is a no-op.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(strings.TrimSpace(path))
	if dir == "" || dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	return os.MkdirAll(dir, 0o700)
}
