// Package sqlrepo implements the store repositories on top of the storage
// engine. Every repository borrows the engine per call and holds no other
// state, so a set bound to a transaction is built the same way as the
// top-level set.
package sqlrepo

import (
	"context"
	"time"

	"github.com/jensholdgaard/discord-scrim-bot/internal/clock"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
)

// Build returns a full set of repositories over eng. Repositories.Tx hands
// its callback a set bound to a single transaction; callbacks must only use
// that set until they return.
func Build(eng *engine.Engine, clk clock.Clock) *store.Repositories {
	b := base{eng: eng, clk: clk}
	r := &store.Repositories{
		Users:               &UserRepo{b},
		Teams:               &TeamRepo{b},
		Memberships:         &MembershipRepo{b},
		Admins:              &AdminRepo{b},
		Games:               &GameRepo{b},
		Maps:                &MapRepo{b},
		MatchFormats:        &MatchFormatRepo{b},
		PermittedMaps:       &PermittedMapRepo{b},
		Leagues:             &LeagueRepo{b},
		LeagueMemberships:   &LeagueMembershipRepo{b},
		Matches:             &MatchRepo{b},
		MatchResults:        &MatchResultRepo{b},
		TeamUserPermissions: &UserPermissionsRepo{b},
		TeamRolePermissions: &RolePermissionsRepo{b},
		Logs:                &LogRepo{b},
		Events:              &EventStore{b},
		Schema:              eng,
		Ping:                eng.Ping,
	}
	r.Tx = func(ctx context.Context, fn func(*store.Repositories) error) error {
		return eng.InTx(ctx, func(tx *engine.Engine) error {
			return fn(Build(tx, clk))
		})
	}
	return r
}

type base struct {
	eng *engine.Engine
	clk clock.Clock
}

// now returns the current time at the precision every backend can store.
func (b base) now() time.Time {
	return b.clk.Now().UTC().Truncate(time.Microsecond)
}

func getOne[T any](ctx context.Context, eng *engine.Engine, table string, q engine.Query) (*T, error) {
	var v T
	found, err := eng.SelectOneInto(ctx, &v, table, q)
	if err != nil || !found {
		return nil, err
	}
	return &v, nil
}

func list[T any](ctx context.Context, eng *engine.Engine, table string, q engine.Query) ([]T, error) {
	var out []T
	if err := eng.SelectInto(ctx, &out, table, q); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// nullString writes nil and empty strings as NULL.
func nullString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

// optString reads NULL and empty strings as nil.
func optString(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func orNow(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t.UTC()
}
