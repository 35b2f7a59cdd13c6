// Package sqlite registers the "sqlite" store driver, a single database file
// opened through modernc.org/sqlite.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/jensholdgaard/discord-scrim-bot/internal/clock"
	"github.com/jensholdgaard/discord-scrim-bot/internal/config"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/sqlrepo"
)

func init() {
	store.Register("sqlite", open)
}

// DSN returns a modernc.org/sqlite connection string for path with foreign
// keys enforced and a busy timeout set on every connection.
func DSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock, logger *slog.Logger) (*store.Repositories, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	eng, err := engine.Open(ctx, engine.SQLite, DSN(cfg.Path), logger)
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
