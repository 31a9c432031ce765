package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens (and creates if needed) a SQLite database for local
// development and store tests, then applies schema. The handle is limited to
// one connection: SQLite allows a single writer, and this keeps ":memory:"
// databases alive for the lifetime of the handle.
func OpenSQLite(ctx context.Context, path string, schema string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if err := execWithRetry(ctx, sqlDB, p, 5, 10*time.Millisecond); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}

	if schema != "" {
		if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return sqlDB, nil
}

func execWithRetry(ctx context.Context, sqlDB *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := sqlDB.ExecContext(ctx, stmt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}
