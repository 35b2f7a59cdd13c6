package sqlrepo

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
)

const (
	leaguesTable          = "leagues"
	leagueMembershipTable = "league_membership"
	matchesTable          = "matches"
	matchResultsTable     = "match_results"
)

// LeagueRepo implements store.LeagueRepository.
type LeagueRepo struct{ base }

func (r *LeagueRepo) Save(ctx context.Context, l *store.League) error {
	l.CreatedDate = orNow(l.CreatedDate, r.now)
	return saveByID(ctx, r.eng, leaguesTable, &l.ID, engine.Values{
		"name":           l.Name,
		"game_id":        l.GameID,
		"match_format":   l.MatchFormat,
		"discord_server": l.DiscordServer,
		"created_date":   l.CreatedDate,
		"created_by":     l.CreatedBy,
		"updated_date":   nullTime(l.UpdatedDate),
		"updated_by":     nullInt(l.UpdatedBy),
	})
}

func (r *LeagueRepo) Delete(ctx context.Context, id int64) (int64, error) {
	return r.eng.Delete(ctx, leaguesTable, "id = ?", id)
}

func (r *LeagueRepo) GetByID(ctx context.Context, id int64) (*store.League, error) {
	l, err := getOne[store.League](ctx, r.eng, leaguesTable, engine.Query{Where: "id = ?", Args: []any{id}})
	if err != nil {
		return nil, fmt.Errorf("getting league: %w", err)
	}
	return l, nil
}

func (r *LeagueRepo) GetByServer(ctx context.Context, server string) ([]store.League, error) {
	return r.many(ctx, engine.Query{Where: "discord_server = ?", Args: []any{server}, OrderBy: "name, id"})
}

func (r *LeagueRepo) GetAll(ctx context.Context) ([]store.League, error) {
	return r.many(ctx, engine.Query{OrderBy: "name, id"})
}

func (r *LeagueRepo) many(ctx context.Context, q engine.Query) ([]store.League, error) {
	ls, err := list[store.League](ctx, r.eng, leaguesTable, q)
	if err != nil {
		return nil, fmt.Errorf("listing leagues: %w", err)
	}
	return ls, nil
}

// LeagueMembershipRepo implements store.LeagueMembershipRepository.
type LeagueMembershipRepo struct{ base }

func (r *LeagueMembershipRepo) Save(ctx context.Context, m *store.LeagueMembership) error {
	m.JoinedDate = orNow(m.JoinedDate, r.now)
	_, err := r.eng.Upsert(ctx, leagueMembershipTable, []string{"league_id", "team_id"}, engine.Values{
		"league_id":   m.LeagueID,
		"team_id":     m.TeamID,
		"joined_date": m.JoinedDate,
		"joined_by":   m.JoinedBy,
	})
	if err != nil {
		return fmt.Errorf("saving league membership: %w", err)
	}
	return nil
}

func (r *LeagueMembershipRepo) Delete(ctx context.Context, leagueID, teamID int64) (int64, error) {
	return r.eng.Delete(ctx, leagueMembershipTable, "league_id = ? AND team_id = ?", leagueID, teamID)
}

func (r *LeagueMembershipRepo) GetByLeague(ctx context.Context, leagueID int64) ([]store.LeagueMembership, error) {
	return r.many(ctx, engine.Query{Where: "league_id = ?", Args: []any{leagueID}, OrderBy: "joined_date, team_id"})
}

func (r *LeagueMembershipRepo) GetByTeam(ctx context.Context, teamID int64) ([]store.LeagueMembership, error) {
	return r.many(ctx, engine.Query{Where: "team_id = ?", Args: []any{teamID}, OrderBy: "joined_date, league_id"})
}

func (r *LeagueMembershipRepo) many(ctx context.Context, q engine.Query) ([]store.LeagueMembership, error) {
	ms, err := list[store.LeagueMembership](ctx, r.eng, leagueMembershipTable, q)
	if err != nil {
		return nil, fmt.Errorf("listing league memberships: %w", err)
	}
	return ms, nil
}

// MatchRepo implements store.MatchRepository.
type MatchRepo struct{ base }

func (r *MatchRepo) Save(ctx context.Context, m *store.Match) error {
	m.IssuedDate = orNow(m.IssuedDate, r.now)
	return saveByID(ctx, r.eng, matchesTable, &m.ID, engine.Values{
		"league_id":        m.LeagueID,
		"challenging_team": m.ChallengingTeam,
		"defending_team":   m.DefendingTeam,
		"issued_date":      m.IssuedDate,
		"issued_by":        m.IssuedBy,
		"match_date":       m.MatchDate.UTC(),
		"winning_team":     nullInt(m.WinningTeam),
		"match_accepted":   m.MatchAccepted,
		"match_cancelled":  m.MatchCancelled,
	})
}

func (r *MatchRepo) Delete(ctx context.Context, id int64) (int64, error) {
	return r.eng.Delete(ctx, matchesTable, "id = ?", id)
}

func (r *MatchRepo) GetByID(ctx context.Context, id int64) (*store.Match, error) {
	m, err := getOne[store.Match](ctx, r.eng, matchesTable, engine.Query{Where: "id = ?", Args: []any{id}})
	if err != nil {
		return nil, fmt.Errorf("getting match: %w", err)
	}
	return m, nil
}

func (r *MatchRepo) GetByLeague(ctx context.Context, leagueID int64) ([]store.Match, error) {
	return r.many(ctx, engine.Query{Where: "league_id = ?", Args: []any{leagueID}, OrderBy: "issued_date, id"})
}

// GetByTeam returns matches where the team is challenger or defender.
func (r *MatchRepo) GetByTeam(ctx context.Context, teamID int64) ([]store.Match, error) {
	return r.many(ctx, engine.Query{
		Where:   "challenging_team = ? OR defending_team = ?",
		Args:    []any{teamID, teamID},
		OrderBy: "issued_date, id",
	})
}

func (r *MatchRepo) GetAll(ctx context.Context) ([]store.Match, error) {
	return r.many(ctx, engine.Query{OrderBy: "id"})
}

func (r *MatchRepo) many(ctx context.Context, q engine.Query) ([]store.Match, error) {
	ms, err := list[store.Match](ctx, r.eng, matchesTable, q)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	return ms, nil
}

// MatchResultRepo implements store.MatchResultRepository. Results are keyed
// by (match_id, round).
type MatchResultRepo struct{ base }

func (r *MatchResultRepo) Save(ctx context.Context, res *store.MatchResult) error {
	_, err := r.eng.Upsert(ctx, matchResultsTable, []string{"match_id", "round"}, engine.Values{
		"match_id":               res.MatchID,
		"round":                  res.Round,
		"map_id":                 res.MapID,
		"challenging_team_score": res.ChallengingTeamScore,
		"defending_team_score":   res.DefendingTeamScore,
		"winning_team":           res.WinningTeam,
	})
	if err != nil {
		return fmt.Errorf("saving match result: %w", err)
	}
	return nil
}

func (r *MatchResultRepo) Delete(ctx context.Context, matchID int64, round int) (int64, error) {
	return r.eng.Delete(ctx, matchResultsTable, "match_id = ? AND round = ?", matchID, round)
}

func (r *MatchResultRepo) GetByMatch(ctx context.Context, matchID int64) ([]store.MatchResult, error) {
	rs, err := list[store.MatchResult](ctx, r.eng, matchResultsTable, engine.Query{
		Where:   "match_id = ?",
		Args:    []any{matchID},
		OrderBy: "round",
	})
	if err != nil {
		return nil, fmt.Errorf("listing match results: %w", err)
	}
	return rs, nil
}
