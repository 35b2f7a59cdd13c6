package sqlrepo

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
)

const (
	gamesTable         = "games"
	mapsTable          = "maps"
	matchFormatsTable  = "match_formats"
	permittedMapsTable = "permitted_maps"
)

// saveByID inserts values when *id is zero and writes the new id back,
// otherwise it updates the row with that id.
func saveByID(ctx context.Context, eng *engine.Engine, table string, id *int64, values engine.Values) error {
	if *id != 0 {
		if _, err := eng.Update(ctx, table, values, "id = ?", *id); err != nil {
			return fmt.Errorf("updating %s: %w", table, err)
		}
		return nil
	}
	newID, err := eng.Insert(ctx, table, values)
	if err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	if newID == 0 {
		return store.ErrInsertFailed
	}
	*id = newID
	return nil
}

// GameRepo implements store.GameRepository.
type GameRepo struct{ base }

func (r *GameRepo) Save(ctx context.Context, g *store.Game) error {
	if err := saveByID(ctx, r.eng, gamesTable, &g.ID, engine.Values{
		"name":   g.Name,
		"series": nullString(g.Series),
	}); err != nil {
		return err
	}
	g.Series = optString(g.Series)
	return nil
}

func (r *GameRepo) Delete(ctx context.Context, id int64) (int64, error) {
	return r.eng.Delete(ctx, gamesTable, "id = ?", id)
}

func (r *GameRepo) GetByID(ctx context.Context, id int64) (*store.Game, error) {
	return r.one(ctx, engine.Query{Where: "id = ?", Args: []any{id}})
}

// GetByName matches case-insensitively.
func (r *GameRepo) GetByName(ctx context.Context, name string) (*store.Game, error) {
	return r.one(ctx, engine.Query{Where: "LOWER(name) = LOWER(?)", Args: []any{name}})
}

func (r *GameRepo) GetAll(ctx context.Context) ([]store.Game, error) {
	games, err := list[store.Game](ctx, r.eng, gamesTable, engine.Query{OrderBy: "name"})
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	for i := range games {
		games[i].Series = optString(games[i].Series)
	}
	return games, nil
}

func (r *GameRepo) one(ctx context.Context, q engine.Query) (*store.Game, error) {
	g, err := getOne[store.Game](ctx, r.eng, gamesTable, q)
	if err != nil {
		return nil, fmt.Errorf("getting game: %w", err)
	}
	if g != nil {
		g.Series = optString(g.Series)
	}
	return g, nil
}

// MapRepo implements store.MapRepository.
type MapRepo struct{ base }

func (r *MapRepo) Save(ctx context.Context, m *store.Map) error {
	if err := saveByID(ctx, r.eng, mapsTable, &m.ID, engine.Values{
		"name":            m.Name,
		"mode":            m.Mode,
		"experience_code": nullString(m.ExperienceCode),
		"game_id":         m.GameID,
	}); err != nil {
		return err
	}
	m.ExperienceCode = optString(m.ExperienceCode)
	return nil
}

func (r *MapRepo) Delete(ctx context.Context, id int64) (int64, error) {
	return r.eng.Delete(ctx, mapsTable, "id = ?", id)
}

func (r *MapRepo) GetByID(ctx context.Context, id int64) (*store.Map, error) {
	m, err := getOne[store.Map](ctx, r.eng, mapsTable, engine.Query{Where: "id = ?", Args: []any{id}})
	if err != nil {
		return nil, fmt.Errorf("getting map: %w", err)
	}
	if m != nil {
		m.ExperienceCode = optString(m.ExperienceCode)
	}
	return m, nil
}

func (r *MapRepo) GetByGame(ctx context.Context, gameID int64) ([]store.Map, error) {
	return r.many(ctx, engine.Query{Where: "game_id = ?", Args: []any{gameID}, OrderBy: "name, id"})
}

func (r *MapRepo) GetAll(ctx context.Context) ([]store.Map, error) {
	return r.many(ctx, engine.Query{OrderBy: "name, id"})
}

func (r *MapRepo) many(ctx context.Context, q engine.Query) ([]store.Map, error) {
	maps, err := list[store.Map](ctx, r.eng, mapsTable, q)
	if err != nil {
		return nil, fmt.Errorf("listing maps: %w", err)
	}
	for i := range maps {
		maps[i].ExperienceCode = optString(maps[i].ExperienceCode)
	}
	return maps, nil
}

// MatchFormatRepo implements store.MatchFormatRepository.
type MatchFormatRepo struct{ base }

func (r *MatchFormatRepo) Save(ctx context.Context, f *store.MatchFormat) error {
	return saveByID(ctx, r.eng, matchFormatsTable, &f.ID, engine.Values{
		"max_players": f.MaxPlayers,
		"match_count": f.MatchCount,
	})
}

func (r *MatchFormatRepo) Delete(ctx context.Context, id int64) (int64, error) {
	return r.eng.Delete(ctx, matchFormatsTable, "id = ?", id)
}

func (r *MatchFormatRepo) GetByID(ctx context.Context, id int64) (*store.MatchFormat, error) {
	f, err := getOne[store.MatchFormat](ctx, r.eng, matchFormatsTable, engine.Query{Where: "id = ?", Args: []any{id}})
	if err != nil {
		return nil, fmt.Errorf("getting match format: %w", err)
	}
	return f, nil
}

func (r *MatchFormatRepo) GetAll(ctx context.Context) ([]store.MatchFormat, error) {
	fs, err := list[store.MatchFormat](ctx, r.eng, matchFormatsTable, engine.Query{OrderBy: "id"})
	if err != nil {
		return nil, fmt.Errorf("listing match formats: %w", err)
	}
	return fs, nil
}

// PermittedMapRepo implements store.PermittedMapRepository. Saving an
// existing pair is a no-op.
type PermittedMapRepo struct{ base }

func (r *PermittedMapRepo) Save(ctx context.Context, p *store.PermittedMap) error {
	_, err := r.eng.Upsert(ctx, permittedMapsTable, []string{"match_format_id", "map_id"}, engine.Values{
		"match_format_id": p.MatchFormatID,
		"map_id":          p.MapID,
	})
	if err != nil {
		return fmt.Errorf("saving permitted map: %w", err)
	}
	return nil
}

func (r *PermittedMapRepo) Delete(ctx context.Context, formatID, mapID int64) (int64, error) {
	return r.eng.Delete(ctx, permittedMapsTable, "match_format_id = ? AND map_id = ?", formatID, mapID)
}

func (r *PermittedMapRepo) GetByFormat(ctx context.Context, formatID int64) ([]store.PermittedMap, error) {
	ps, err := list[store.PermittedMap](ctx, r.eng, permittedMapsTable, engine.Query{
		Where:   "match_format_id = ?",
		Args:    []any{formatID},
		OrderBy: "map_id",
	})
	if err != nil {
		return nil, fmt.Errorf("listing permitted maps: %w", err)
	}
	return ps, nil
}
