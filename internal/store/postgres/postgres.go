// Package postgres registers the "postgres" store driver backed by lib/pq.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/jensholdgaard/discord-scrim-bot/internal/clock"
	"github.com/jensholdgaard/discord-scrim-bot/internal/config"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/sqlrepo"
)

func init() {
	store.Register("postgres", func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock, logger *slog.Logger) (*store.Repositories, error) {
		return Open(ctx, cfg.DSN(), clk, logger)
	})
}

// Open connects to the database at dsn, creates any missing tables and
// returns the repositories.
func Open(ctx context.Context, dsn string, clk clock.Clock, logger *slog.Logger) (*store.Repositories, error) {
	eng, err := engine.Open(ctx, engine.Postgres, dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := eng.InitialiseSchema(ctx); err != nil {
		_ = eng.Disconnect()
		return nil, fmt.Errorf("initialising schema: %w", err)
	}

	repos := sqlrepo.Build(eng, clk)
	repos.Closer = eng
	return repos, nil
}
