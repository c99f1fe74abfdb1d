package db

import (
	"fmt"

	"gorm.io/gorm"
)

// applySQLitePragmas tunes the connection for a single-process engine with
// multiple scheduler workers: WAL keeps readers unblocked during step-result
// writes, and the busy timeout covers claim contention.
func applySQLitePragmas(gdb *gorm.DB, cfg SQLiteConfig) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}

	var pragmas []string
	if cfg.WAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL;", "PRAGMA synchronous=NORMAL;")
	}
	if cfg.BusyTimeoutMs > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout=%d;", cfg.BusyTimeoutMs))
	}
	if cfg.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys=ON;")
	}

	for _, p := range pragmas {
		if err := gdb.Exec(p).Error; err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return nil
}
