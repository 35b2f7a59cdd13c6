package sqlrepo

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
)

const (
	teamsTable           = "teams"
	membershipTable      = "team_membership"
	userPermissionsTable = "team_permissions_users"
	rolePermissionsTable = "team_permissions_roles"
)

// TeamRepo implements store.TeamRepository.
type TeamRepo struct{ base }

func (r *TeamRepo) Save(ctx context.Context, t *store.Team) error {
	values := engine.Values{
		"name":           t.Name,
		"tag":            t.Tag,
		"owner_id":       t.OwnerID,
		"created_by":     t.CreatedBy,
		"discord_server": t.DiscordServer,
	}
	if t.ID != 0 {
		if _, err := r.eng.Update(ctx, teamsTable, values, "id = ?", t.ID); err != nil {
			return fmt.Errorf("updating team: %w", err)
		}
		return nil
	}

	t.CreatedAt = orNow(t.CreatedAt, r.now)
	values["created_at"] = t.CreatedAt
	id, err := r.eng.Insert(ctx, teamsTable, values)
	if err != nil {
		return fmt.Errorf("creating team: %w", err)
	}
	if id == 0 {
		return store.ErrInsertFailed
	}
	t.ID = id
	return nil
}

func (r *TeamRepo) Delete(ctx context.Context, id int64) (int64, error) {
	return r.eng.Delete(ctx, teamsTable, "id = ?", id)
}

func (r *TeamRepo) GetByID(ctx context.Context, id int64) (*store.Team, error) {
	t, err := getOne[store.Team](ctx, r.eng, teamsTable, engine.Query{Where: "id = ?", Args: []any{id}})
	if err != nil {
		return nil, fmt.Errorf("getting team by id: %w", err)
	}
	return t, nil
}

// GetByName matches the name case-insensitively within one server.
func (r *TeamRepo) GetByName(ctx context.Context, server, name string) (*store.Team, error) {
	t, err := getOne[store.Team](ctx, r.eng, teamsTable, engine.Query{
		Where:   "discord_server = ? AND LOWER(name) = LOWER(?)",
		Args:    []any{server, name},
		OrderBy: "id",
	})
	if err != nil {
		return nil, fmt.Errorf("getting team by name: %w", err)
	}
	return t, nil
}

func (r *TeamRepo) GetByServer(ctx context.Context, server string) ([]store.Team, error) {
	return r.many(ctx, engine.Query{Where: "discord_server = ?", Args: []any{server}, OrderBy: "name, id"})
}

func (r *TeamRepo) GetByOwner(ctx context.Context, ownerID int64) ([]store.Team, error) {
	return r.many(ctx, engine.Query{Where: "owner_id = ?", Args: []any{ownerID}, OrderBy: "name, id"})
}

func (r *TeamRepo) GetAll(ctx context.Context) ([]store.Team, error) {
	return r.many(ctx, engine.Query{OrderBy: "name, id"})
}

func (r *TeamRepo) many(ctx context.Context, q engine.Query) ([]store.Team, error) {
	teams, err := list[store.Team](ctx, r.eng, teamsTable, q)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	return teams, nil
}

// MembershipRepo implements store.TeamMembershipRepository. Memberships are
// keyed by (user_id, team_id) and saved as upserts.
type MembershipRepo struct{ base }

func (r *MembershipRepo) Save(ctx context.Context, m *store.TeamMembership) error {
	m.JoinedDate = orNow(m.JoinedDate, r.now)
	_, err := r.eng.Upsert(ctx, membershipTable, []string{"user_id", "team_id"}, engine.Values{
		"user_id":      m.UserID,
		"team_id":      m.TeamID,
		"captain":      m.Captain,
		"joined_date":  m.JoinedDate,
		"updated_date": nullTime(m.UpdatedDate),
	})
	if err != nil {
		return fmt.Errorf("saving membership: %w", err)
	}
	return nil
}

func (r *MembershipRepo) Delete(ctx context.Context, userID, teamID int64) (int64, error) {
	return r.eng.Delete(ctx, membershipTable, "user_id = ? AND team_id = ?", userID, teamID)
}

func (r *MembershipRepo) Get(ctx context.Context, userID, teamID int64) (*store.TeamMembership, error) {
	m, err := getOne[store.TeamMembership](ctx, r.eng, membershipTable, engine.Query{
		Where: "user_id = ? AND team_id = ?",
		Args:  []any{userID, teamID},
	})
	if err != nil {
		return nil, fmt.Errorf("getting membership: %w", err)
	}
	return m, nil
}

func (r *MembershipRepo) GetByTeam(ctx context.Context, teamID int64) ([]store.TeamMembership, error) {
	return r.many(ctx, engine.Query{Where: "team_id = ?", Args: []any{teamID}, OrderBy: "joined_date, user_id"})
}

func (r *MembershipRepo) GetByUser(ctx context.Context, userID int64) ([]store.TeamMembership, error) {
	return r.many(ctx, engine.Query{Where: "user_id = ?", Args: []any{userID}, OrderBy: "joined_date, team_id"})
}

func (r *MembershipRepo) many(ctx context.Context, q engine.Query) ([]store.TeamMembership, error) {
	ms, err := list[store.TeamMembership](ctx, r.eng, membershipTable, q)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	return ms, nil
}

func permissionValues(p store.TeamPermissions) engine.Values {
	return engine.Values{
		"perm_edit_details":  p.EditDetails,
		"perm_edit_members":  p.EditMembers,
		"perm_join_leagues":  p.JoinLeagues,
		"perm_issue_matches": p.IssueMatches,
	}
}

// UserPermissionsRepo implements store.TeamPermissionsUserRepository.
type UserPermissionsRepo struct{ base }

func (r *UserPermissionsRepo) Save(ctx context.Context, p *store.TeamPermissionsUser) error {
	p.CreatedDate = orNow(p.CreatedDate, r.now)
	values := permissionValues(p.TeamPermissions)
	values["team_id"] = p.TeamID
	values["user_id"] = p.UserID
	values["created_date"] = p.CreatedDate
	values["created_by"] = p.CreatedBy
	values["updated_date"] = nullTime(p.UpdatedDate)
	values["updated_by"] = nullInt(p.UpdatedBy)

	if _, err := r.eng.Upsert(ctx, userPermissionsTable, []string{"team_id", "user_id"}, values); err != nil {
		return fmt.Errorf("saving user permissions: %w", err)
	}
	return nil
}

func (r *UserPermissionsRepo) Delete(ctx context.Context, teamID, userID int64) (int64, error) {
	return r.eng.Delete(ctx, userPermissionsTable, "team_id = ? AND user_id = ?", teamID, userID)
}

func (r *UserPermissionsRepo) Get(ctx context.Context, teamID, userID int64) (*store.TeamPermissionsUser, error) {
	p, err := getOne[store.TeamPermissionsUser](ctx, r.eng, userPermissionsTable, engine.Query{
		Where: "team_id = ? AND user_id = ?",
		Args:  []any{teamID, userID},
	})
	if err != nil {
		return nil, fmt.Errorf("getting user permissions: %w", err)
	}
	return p, nil
}

func (r *UserPermissionsRepo) GetByTeam(ctx context.Context, teamID int64) ([]store.TeamPermissionsUser, error) {
	ps, err := list[store.TeamPermissionsUser](ctx, r.eng, userPermissionsTable, engine.Query{
		Where:   "team_id = ?",
		Args:    []any{teamID},
		OrderBy: "user_id",
	})
	if err != nil {
		return nil, fmt.Errorf("listing user permissions: %w", err)
	}
	return ps, nil
}

// RolePermissionsRepo implements store.TeamPermissionsRoleRepository.
type RolePermissionsRepo struct{ base }

func (r *RolePermissionsRepo) Save(ctx context.Context, p *store.TeamPermissionsRole) error {
	p.CreatedDate = orNow(p.CreatedDate, r.now)
	values := permissionValues(p.TeamPermissions)
	values["team_id"] = p.TeamID
	values["role_id"] = p.RoleID
	values["created_date"] = p.CreatedDate
	values["created_by"] = p.CreatedBy
	values["updated_date"] = nullTime(p.UpdatedDate)
	values["updated_by"] = nullInt(p.UpdatedBy)

	if _, err := r.eng.Upsert(ctx, rolePermissionsTable, []string{"team_id", "role_id"}, values); err != nil {
		return fmt.Errorf("saving role permissions: %w", err)
	}
	return nil
}

func (r *RolePermissionsRepo) Delete(ctx context.Context, teamID int64, roleID string) (int64, error) {
	return r.eng.Delete(ctx, rolePermissionsTable, "team_id = ? AND role_id = ?", teamID, roleID)
}

func (r *RolePermissionsRepo) Get(ctx context.Context, teamID int64, roleID string) (*store.TeamPermissionsRole, error) {
	p, err := getOne[store.TeamPermissionsRole](ctx, r.eng, rolePermissionsTable, engine.Query{
		Where: "team_id = ? AND role_id = ?",
		Args:  []any{teamID, roleID},
	})
	if err != nil {
		return nil, fmt.Errorf("getting role permissions: %w", err)
	}
	return p, nil
}

func (r *RolePermissionsRepo) GetByTeam(ctx context.Context, teamID int64) ([]store.TeamPermissionsRole, error) {
	ps, err := list[store.TeamPermissionsRole](ctx, r.eng, rolePermissionsTable, engine.Query{
		Where:   "team_id = ?",
		Args:    []any{teamID},
		OrderBy: "role_id",
	})
	if err != nil {
		return nil, fmt.Errorf("listing role permissions: %w", err)
	}
	return ps, nil
}
