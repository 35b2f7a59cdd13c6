package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/jensholdgaard/discord-scrim-bot/internal/clock"
	"github.com/jensholdgaard/discord-scrim-bot/internal/config"
	"github.com/jensholdgaard/discord-scrim-bot/internal/event"
)

// Repositories groups all repository implementations returned by a store driver.
type Repositories struct {
	Users               UserRepository
	Teams               TeamRepository
	Memberships         TeamMembershipRepository
	Admins              AdminConfigRepository
	Games               GameRepository
	Maps                MapRepository
	MatchFormats        MatchFormatRepository
	PermittedMaps       PermittedMapRepository
	Leagues             LeagueRepository
	LeagueMemberships   LeagueMembershipRepository
	Matches             MatchRepository
	MatchResults        MatchResultRepository
	TeamUserPermissions TeamPermissionsUserRepository
	TeamRolePermissions TeamPermissionsRoleRepository
	Logs                LogRepository
	Events              event.Store
	Schema              SchemaManager

	// Tx runs fn with repositories bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	Tx func(ctx context.Context, fn func(r *Repositories) error) error
	// Closer is called to release underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// InTx runs fn inside r.Tx, or directly against r when the driver has no
// transaction support.
func (r *Repositories) InTx(ctx context.Context, fn func(r *Repositories) error) error {
	if r.Tx == nil {
		return fn(r)
	}
	return r.Tx(ctx, fn)
}

// Driver is a function that opens a connection and returns Repositories.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock, logger *slog.Logger) (*Repositories, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns Repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock, logger *slog.Logger) (*Repositories, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk, logger)
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
