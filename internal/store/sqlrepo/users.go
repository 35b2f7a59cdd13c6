package sqlrepo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
)

const usersTable = "users"

// UserRepo implements store.UserRepository.
type UserRepo struct{ base }

func (r *UserRepo) Save(ctx context.Context, u *store.User) error {
	values := engine.Values{
		"discord_id":   u.DiscordID,
		"display_name": nullString(u.DisplayName),
	}
	if u.ID != 0 {
		if _, err := r.eng.Update(ctx, usersTable, values, "id = ?", u.ID); err != nil {
			return fmt.Errorf("updating user: %w", err)
		}
		return nil
	}

	u.CreatedDate = orNow(u.CreatedDate, r.now)
	values["created_date"] = u.CreatedDate
	id, err := r.eng.Insert(ctx, usersTable, values)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	if id == 0 {
		return store.ErrInsertFailed
	}
	u.ID = id
	u.DisplayName = optString(u.DisplayName)
	return nil
}

func (r *UserRepo) Delete(ctx context.Context, id int64) (int64, error) {
	return r.eng.Delete(ctx, usersTable, "id = ?", id)
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*store.User, error) {
	return r.one(ctx, engine.Query{Where: "id = ?", Args: []any{id}})
}

func (r *UserRepo) GetByDiscordID(ctx context.Context, discordID string) (*store.User, error) {
	return r.one(ctx, engine.Query{Where: "discord_id = ?", Args: []any{discordID}})
}

func (r *UserRepo) GetOrCreate(ctx context.Context, discordID, displayName string) (*store.User, error) {
	u, err := r.GetByDiscordID(ctx, discordID)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return u, nil
	}

	u = &store.User{DiscordID: discordID}
	if displayName != "" {
		u.DisplayName = &displayName
	}
	if err := r.Save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Search matches display names containing term, case-insensitively. % and _
// in term match themselves.
func (r *UserRepo) Search(ctx context.Context, term string) ([]store.User, error) {
	return r.many(ctx, engine.Query{
		Where:   `LOWER(display_name) LIKE ? ESCAPE '\'`,
		Args:    []any{"%" + likeEscaper.Replace(strings.ToLower(term)) + "%"},
		OrderBy: "display_name",
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (r *UserRepo) GetAll(ctx context.Context) ([]store.User, error) {
	return r.many(ctx, engine.Query{OrderBy: "display_name, id"})
}

func (r *UserRepo) one(ctx context.Context, q engine.Query) (*store.User, error) {
	u, err := getOne[store.User](ctx, r.eng, usersTable, q)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if u != nil {
		u.DisplayName = optString(u.DisplayName)
	}
	return u, nil
}

func (r *UserRepo) many(ctx context.Context, q engine.Query) ([]store.User, error) {
	users, err := list[store.User](ctx, r.eng, usersTable, q)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	for i := range users {
		users[i].DisplayName = optString(users[i].DisplayName)
	}
	return users, nil
}
