// Package app wires storage, migrations and the engine from a loaded config.
// The CLI and the HTTP server both start here.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"policyline/internal/config"
	"policyline/internal/db"
	"policyline/internal/engine"
	"policyline/internal/migrate"
	"policyline/internal/telemetry"
)

type App struct {
	DB     *sql.DB
	Engine engine.Engine
	Config *config.Config
	Log    *slog.Logger
}

// Open connects to the configured database, applies migrations and builds an
// engine that logs to log and records on the global otel providers.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	conn, dialect, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := migrate.Migrate(ctx, conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e, err := engine.New(conn, dialect, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if log != nil {
		e.Log = log
	}
	inst, err := telemetry.Global()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	e.Telemetry = inst
	log = e.Log
	log.DebugContext(ctx, "storage ready", "driver", dialect)
	return &App{DB: conn, Engine: e, Config: cfg, Log: log}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
