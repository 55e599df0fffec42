package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"policyline/internal/repo"
)

const (
	storageDir    = ".policyline"
	defaultDBName = "policyline.db"
)

type Config struct {
	Workspace string
	// Driver is "sqlite" or "postgres". Empty means sqlite.
	Driver string
	// DSN overrides the workspace database file for sqlite and is required for postgres.
	DSN string
}

// EnsureWorkspace creates the storage directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, storageDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Path returns the sqlite database path for the workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, storageDir, defaultDBName)
}

// Open opens the configured database and reports the SQL dialect to use with it.
func Open(cfg Config) (*sql.DB, repo.Dialect, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return nil, "", err
			}
			dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", Path(cfg.Workspace))
		}
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, "", err
		}
		conn.SetMaxOpenConns(1) // prevent SQLITE_BUSY
		return conn, repo.SQLite, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, "", fmt.Errorf("postgres driver requires a dsn")
		}
		conn, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, "", err
		}
		return conn, repo.Postgres, nil
	default:
		return nil, "", fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
