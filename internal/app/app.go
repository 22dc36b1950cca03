// Package app wires the workspace database, config and the conversation
// engine together for the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"alertline/internal/config"
	"alertline/internal/db"
	"alertline/internal/draft"
	"alertline/internal/dsl"
	"alertline/internal/engine"
	"alertline/internal/metrics"
	"alertline/internal/migrate"
	"alertline/internal/repo"
	"alertline/internal/scope"
)

type App struct {
	DB      *sql.DB
	Repo    repo.Repo
	Drafts  *draft.MemoryStore
	Metrics *metrics.Collector
	Engine  engine.Engine
	Config  *config.Config
	Logger  *slog.Logger
}

// Open opens and migrates the workspace database and builds the engine. A
// nil cfg loads <workspace>/alertline.yml, falling back to defaults.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		loaded, err := config.LoadOptional(workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r := repo.New(conn)
	drafts := draft.NewMemoryStore(cfg.Draft.TTL)
	var m *metrics.Collector
	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.TrackDrafts(drafts.Len)
	}
	logger.DebugContext(ctx, "workspace opened", slog.String("db", db.Path(workspace)), slog.Bool("metrics", m != nil))

	return &App{
		DB:      conn,
		Repo:    r,
		Drafts:  drafts,
		Metrics: m,
		Config:  cfg,
		Logger:  logger,
		Engine: engine.Engine{
			Drafts: drafts,
			Scope:  scope.Resolver{Directory: r},
			Rules:  r,
			Validator: dsl.Validator{
				DefaultAtTime:   cfg.DSL.DefaultAtTime,
				DefaultTimezone: cfg.DSL.DefaultTimezone,
			},
			Metrics: m,
			Logger:  logger,
		},
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
