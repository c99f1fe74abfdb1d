package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// Open connects the engine store. SQLite is the only supported driver; the
// Config shape leaves room for a server database later without touching
// callers.
func Open(ctx context.Context, cfg Config) (*gorm.DB, error) {
	_ = ctx
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if driver != "sqlite" {
		return nil, fmt.Errorf("unsupported db.driver: %s (only sqlite is implemented)", cfg.Driver)
	}
	return openSQLite(cfg)
}

func openSQLite(cfg Config) (*gorm.DB, error) {
	dsn, err := ResolveSQLiteDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", dsn, err)
	}
	if err := applySQLitePragmas(gdb, cfg.SQLite); err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
	}
	return gdb, nil
}
