package teams

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-scrim-bot/internal/authz"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
)

var (
	ErrLeagueNotFound     = errors.New("no league with that name on this server")
	ErrUserNotRegistered  = errors.New("that user is not registered")
	ErrLeagueFilterServer = errors.New("the league filter only works inside a server")
)

// maxSummaryLeagues caps the leagues named in a team summary.
const maxSummaryLeagues = 3

// ListFilter narrows List. Empty fields do not filter.
type ListFilter struct {
	Search        string
	League        string
	UserDiscordID string
}

// Summary describes a team for listings.
type Summary struct {
	Team        store.Team
	Owner       *store.User
	MemberCount int
	Leagues     []string
}

// List returns the teams on the requester's server that pass f. Outside a
// server it returns the requester's own teams across every server.
func (m *Manager) List(ctx context.Context, req authz.Requester, f ListFilter) ([]store.Team, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.List",
		trace.WithAttributes(
			attribute.String("server", req.GuildID),
			attribute.String("filter.league", f.League),
			attribute.String("filter.user", f.UserDiscordID),
		),
	)
	defer span.End()

	var (
		candidates []store.Team
		err        error
	)
	if req.GuildID == "" {
		if f.League != "" {
			return nil, ErrLeagueFilterServer
		}
		user, err := m.repos.Users.GetByDiscordID(ctx, req.DiscordID)
		if err != nil {
			return nil, fmt.Errorf("looking up requester: %w", err)
		}
		if user == nil {
			return nil, ErrNotRegistered
		}
		candidates, err = m.memberTeams(ctx, user.ID, "")
		if err != nil {
			return nil, err
		}
	} else {
		candidates, err = m.ListByServer(ctx, req.GuildID)
		if err != nil {
			return nil, err
		}
	}

	if f.League != "" {
		keep, err := m.leagueTeams(ctx, req.GuildID, f.League)
		if err != nil {
			return nil, err
		}
		candidates = keepIDs(candidates, keep)
	}

	if f.UserDiscordID != "" {
		user, err := m.repos.Users.GetByDiscordID(ctx, f.UserDiscordID)
		if err != nil {
			return nil, fmt.Errorf("looking up user: %w", err)
		}
		if user == nil {
			return nil, ErrUserNotRegistered
		}
		memberships, err := m.repos.Memberships.GetByUser(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("listing memberships: %w", err)
		}
		keep := make(map[int64]bool, len(memberships))
		for _, ms := range memberships {
			keep[ms.TeamID] = true
		}
		candidates = keepIDs(candidates, keep)
	}

	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]store.Team, 0, len(candidates))
	for _, t := range candidates {
		if matches(t, search) {
			out = append(out, t)
		}
	}
	span.SetAttributes(attribute.Int("teams", len(out)))
	return out, nil
}

func (m *Manager) leagueTeams(ctx context.Context, server, name string) (map[int64]bool, error) {
	leagues, err := m.repos.Leagues.GetByServer(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("listing leagues: %w", err)
	}
	for _, l := range leagues {
		if !strings.EqualFold(l.Name, strings.TrimSpace(name)) {
			continue
		}
		memberships, err := m.repos.LeagueMemberships.GetByLeague(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("listing league teams: %w", err)
		}
		keep := make(map[int64]bool, len(memberships))
		for _, lm := range memberships {
			keep[lm.TeamID] = true
		}
		return keep, nil
	}
	return nil, ErrLeagueNotFound
}

// Summarize loads the owner, member count and up to three leagues of each
// team.
func (m *Manager) Summarize(ctx context.Context, teams []store.Team) ([]Summary, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Summarize",
		trace.WithAttributes(attribute.Int("teams", len(teams))),
	)
	defer span.End()

	leagueNames := make(map[int64]string)
	out := make([]Summary, 0, len(teams))
	for _, t := range teams {
		s := Summary{Team: t}

		owner, err := m.repos.Users.GetByID(ctx, t.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("loading owner of team %d: %w", t.ID, err)
		}
		s.Owner = owner

		memberships, err := m.repos.Memberships.GetByTeam(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("listing members of team %d: %w", t.ID, err)
		}
		s.MemberCount = len(memberships)

		joined, err := m.repos.LeagueMemberships.GetByTeam(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("listing leagues of team %d: %w", t.ID, err)
		}
		for _, lm := range joined {
			if len(s.Leagues) == maxSummaryLeagues {
				break
			}
			name, ok := leagueNames[lm.LeagueID]
			if !ok {
				l, err := m.repos.Leagues.GetByID(ctx, lm.LeagueID)
				if err != nil {
					return nil, fmt.Errorf("loading league %d: %w", lm.LeagueID, err)
				}
				if l != nil {
					name = l.Name
				}
				leagueNames[lm.LeagueID] = name
			}
			if name != "" {
				s.Leagues = append(s.Leagues, name)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// memberTeams returns the teams userID belongs to, limited to server unless
// server is empty.
func (m *Manager) memberTeams(ctx context.Context, userID int64, server string) ([]store.Team, error) {
	memberships, err := m.repos.Memberships.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	teams := make([]store.Team, 0, len(memberships))
	for _, ms := range memberships {
		t, err := m.repos.Teams.GetByID(ctx, ms.TeamID)
		if err != nil {
			return nil, fmt.Errorf("loading team %d: %w", ms.TeamID, err)
		}
		if t != nil && (server == "" || t.DiscordServer == server) {
			teams = append(teams, *t)
		}
	}
	return teams, nil
}

func keepIDs(teams []store.Team, keep map[int64]bool) []store.Team {
	out := teams[:0:0]
	for _, t := range teams {
		if keep[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// matches reports whether lowered term is a substring of the team's name or
// tag. An empty term matches everything.
func matches(t store.Team, term string) bool {
	return term == "" ||
		strings.Contains(strings.ToLower(t.Name), term) ||
		strings.Contains(strings.ToLower(t.Tag), term)
}
