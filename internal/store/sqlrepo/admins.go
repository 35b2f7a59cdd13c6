package sqlrepo

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
)

const adminsTable = "admins"

// AdminRepo implements store.AdminConfigRepository.
type AdminRepo struct{ base }

// Save validates the scope before writing anything.
func (r *AdminRepo) Save(ctx context.Context, a *store.AdminConfig) error {
	if err := a.Validate(); err != nil {
		return err
	}

	values := engine.Values{
		"discord_user_id":   nullString(a.DiscordUserID),
		"discord_server_id": nullString(a.DiscordServerID),
		"discord_role_id":   nullString(a.DiscordRoleID),
		"scope":             string(a.Scope),
		"admin":             a.Admin,
		"created_by":        a.CreatedBy,
		"updated_date":      nullTime(a.UpdatedDate),
		"updated_by":        nullInt(a.UpdatedBy),
	}
	if a.ID != 0 {
		if _, err := r.eng.Update(ctx, adminsTable, values, "id = ?", a.ID); err != nil {
			return fmt.Errorf("updating admin config: %w", err)
		}
		return nil
	}

	a.CreatedDate = orNow(a.CreatedDate, r.now)
	values["created_date"] = a.CreatedDate
	id, err := r.eng.Insert(ctx, adminsTable, values)
	if err != nil {
		return fmt.Errorf("creating admin config: %w", err)
	}
	if id == 0 {
		return store.ErrInsertFailed
	}
	a.ID = id
	return nil
}

func (r *AdminRepo) Delete(ctx context.Context, id int64) (int64, error) {
	return r.eng.Delete(ctx, adminsTable, "id = ?", id)
}

func (r *AdminRepo) GetByID(ctx context.Context, id int64) (*store.AdminConfig, error) {
	return r.one(ctx, engine.Query{Where: "id = ?", Args: []any{id}})
}

// GetByUserID returns the user-scoped grant for discordUserID.
func (r *AdminRepo) GetByUserID(ctx context.Context, discordUserID string) (*store.AdminConfig, error) {
	return r.one(ctx, engine.Query{
		Where:   "scope = ? AND discord_user_id = ?",
		Args:    []any{string(store.ScopeUser), discordUserID},
		OrderBy: "id",
	})
}

// GetByServerAndRole returns the role-scoped grant for a role on a server.
func (r *AdminRepo) GetByServerAndRole(ctx context.Context, serverID, roleID string) (*store.AdminConfig, error) {
	return r.one(ctx, engine.Query{
		Where:   "scope = ? AND discord_server_id = ? AND discord_role_id = ?",
		Args:    []any{string(store.ScopeRole), serverID, roleID},
		OrderBy: "id",
	})
}

func (r *AdminRepo) GetAll(ctx context.Context) ([]store.AdminConfig, error) {
	return r.many(ctx, engine.Query{OrderBy: "id"})
}

// GetAllAdmins returns grants whose admin flag is set.
func (r *AdminRepo) GetAllAdmins(ctx context.Context) ([]store.AdminConfig, error) {
	return r.many(ctx, engine.Query{Where: "admin = ?", Args: []any{true}, OrderBy: "id"})
}

func (r *AdminRepo) one(ctx context.Context, q engine.Query) (*store.AdminConfig, error) {
	a, err := getOne[store.AdminConfig](ctx, r.eng, adminsTable, q)
	if err != nil {
		return nil, fmt.Errorf("getting admin config: %w", err)
	}
	if a != nil {
		normalizeAdmin(a)
	}
	return a, nil
}

func (r *AdminRepo) many(ctx context.Context, q engine.Query) ([]store.AdminConfig, error) {
	as, err := list[store.AdminConfig](ctx, r.eng, adminsTable, q)
	if err != nil {
		return nil, fmt.Errorf("listing admin configs: %w", err)
	}
	for i := range as {
		normalizeAdmin(&as[i])
	}
	return as, nil
}

func normalizeAdmin(a *store.AdminConfig) {
	a.DiscordUserID = optString(a.DiscordUserID)
	a.DiscordServerID = optString(a.DiscordServerID)
	a.DiscordRoleID = optString(a.DiscordRoleID)
}
