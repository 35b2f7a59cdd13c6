// Package catalog manages reference data: games, and read access to
// registered users.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-scrim-bot/internal/authz"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
)

var (
	ErrNotBotOwner     = errors.New("only the bot owner can change games")
	ErrGameExists      = errors.New("a game with that name already exists")
	ErrGameNotFound    = errors.New("game not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrNothingToUpdate = errors.New("nothing to update")
)

// Manager handles game and user catalog operations.
type Manager struct {
	repos  *store.Repositories
	authz  *authz.Resolver
	logger *slog.Logger
	tracer trace.Tracer
}

// NewManager creates a catalog Manager.
func NewManager(repos *store.Repositories, resolver *authz.Resolver, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		repos:  repos,
		authz:  resolver,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/discord-scrim-bot/internal/catalog"),
	}
}

// AddGame creates a game. Names are unique ignoring case.
func (m *Manager) AddGame(ctx context.Context, req authz.Requester, name, series string) (*store.Game, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AddGame",
		trace.WithAttributes(attribute.String("game.name", name)),
	)
	defer span.End()

	if err := m.requireOwner(ctx, req); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &store.ValidationError{Field: "name", Reason: "required"}
	}
	if err := m.nameFree(ctx, name, 0); err != nil {
		return nil, err
	}

	g := &store.Game{Name: name, Series: optional(series)}
	if err := m.repos.Games.Save(ctx, g); err != nil {
		return nil, fmt.Errorf("saving game: %w", err)
	}

	m.logger.InfoContext(ctx, "game added",
		slog.Int64("game_id", g.ID),
		slog.String("name", g.Name),
	)
	return g, nil
}

// ListGames returns every game ordered by name.
func (m *Manager) ListGames(ctx context.Context) ([]store.Game, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListGames")
	defer span.End()

	games, err := m.repos.Games.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	return games, nil
}

// UpdateGame changes a game's name and/or series. Empty values are left
// unchanged.
func (m *Manager) UpdateGame(ctx context.Context, req authz.Requester, id int64, name, series string) (*store.Game, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.UpdateGame",
		trace.WithAttributes(attribute.Int64("game.id", id)),
	)
	defer span.End()

	if err := m.requireOwner(ctx, req); err != nil {
		return nil, err
	}
	name, series = strings.TrimSpace(name), strings.TrimSpace(series)
	if name == "" && series == "" {
		return nil, ErrNothingToUpdate
	}

	g, err := m.repos.Games.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading game: %w", err)
	}
	if g == nil {
		return nil, ErrGameNotFound
	}
	if name != "" {
		if err := m.nameFree(ctx, name, g.ID); err != nil {
			return nil, err
		}
		g.Name = name
	}
	if series != "" {
		g.Series = &series
	}
	if err := m.repos.Games.Save(ctx, g); err != nil {
		return nil, fmt.Errorf("saving game: %w", err)
	}

	m.logger.InfoContext(ctx, "game updated",
		slog.Int64("game_id", g.ID),
		slog.String("name", g.Name),
	)
	return g, nil
}

// DeleteGame removes a game and returns what was deleted.
func (m *Manager) DeleteGame(ctx context.Context, req authz.Requester, id int64) (*store.Game, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.DeleteGame",
		trace.WithAttributes(attribute.Int64("game.id", id)),
	)
	defer span.End()

	if err := m.requireOwner(ctx, req); err != nil {
		return nil, err
	}
	g, err := m.repos.Games.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading game: %w", err)
	}
	if g == nil {
		return nil, ErrGameNotFound
	}
	n, err := m.repos.Games.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("deleting game: %w", err)
	}
	if n == 0 {
		return nil, ErrGameNotFound
	}

	m.logger.InfoContext(ctx, "game deleted",
		slog.Int64("game_id", g.ID),
		slog.String("name", g.Name),
	)
	return g, nil
}

// ListUsers returns every registered user.
func (m *Manager) ListUsers(ctx context.Context) ([]store.User, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListUsers")
	defer span.End()

	users, err := m.repos.Users.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// FindUser returns the registered user for a Discord id.
func (m *Manager) FindUser(ctx context.Context, discordID string) (*store.User, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.FindUser",
		trace.WithAttributes(attribute.String("discord_id", discordID)),
	)
	defer span.End()

	u, err := m.repos.Users.GetByDiscordID(ctx, discordID)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// UserTeams returns the teams the registered user with discordID belongs to,
// in the order they joined.
func (m *Manager) UserTeams(ctx context.Context, discordID string) ([]store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.UserTeams",
		trace.WithAttributes(attribute.String("discord_id", discordID)),
	)
	defer span.End()

	u, err := m.FindUser(ctx, discordID)
	if err != nil {
		return nil, err
	}
	memberships, err := m.repos.Memberships.GetByUser(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	teams := make([]store.Team, 0, len(memberships))
	for _, ms := range memberships {
		t, err := m.repos.Teams.GetByID(ctx, ms.TeamID)
		if err != nil {
			return nil, fmt.Errorf("loading team %d: %w", ms.TeamID, err)
		}
		if t != nil {
			teams = append(teams, *t)
		}
	}
	span.SetAttributes(attribute.Int("teams", len(teams)))
	return teams, nil
}

// SearchUsers matches display names by case-insensitive substring.
func (m *Manager) SearchUsers(ctx context.Context, term string) ([]store.User, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SearchUsers")
	defer span.End()

	users, err := m.repos.Users.Search(ctx, strings.TrimSpace(term))
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	return users, nil
}

func (m *Manager) nameFree(ctx context.Context, name string, self int64) error {
	existing, err := m.repos.Games.GetByName(ctx, name)
	if err != nil {
		return fmt.Errorf("checking game name: %w", err)
	}
	if existing != nil && existing.ID != self {
		return ErrGameExists
	}
	return nil
}

func (m *Manager) requireOwner(ctx context.Context, req authz.Requester) error {
	owner, err := m.authz.IsBotOwner(ctx, req)
	if err != nil {
		return err
	}
	if !owner {
		return ErrNotBotOwner
	}
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
