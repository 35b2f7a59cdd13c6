package store

import (
	"context"
	"time"
)

// User is a Discord account known to the bot. Users are created lazily on
// first interaction.
type User struct {
	ID          int64     `db:"id"`
	DiscordID   string    `db:"discord_id"`
	DisplayName *string   `db:"display_name"`
	CreatedDate time.Time `db:"created_date"`
}

// Name returns the display name or the fallback when none is stored.
func (u User) Name(fallback string) string {
	if u.DisplayName == nil {
		return fallback
	}
	return *u.DisplayName
}

// Team is a competitive team hosted on a Discord server. OwnerID is the single
// owner and is tracked independently from membership rows.
type Team struct {
	ID            int64     `db:"id"`
	Name          string    `db:"name"`
	Tag           string    `db:"tag"`
	OwnerID       int64     `db:"owner_id"`
	CreatedAt     time.Time `db:"created_at"`
	CreatedBy     int64     `db:"created_by"`
	DiscordServer string    `db:"discord_server"`
}

// TeamMembership links a user to a team. Keyed by (UserID, TeamID).
type TeamMembership struct {
	UserID      int64      `db:"user_id"`
	TeamID      int64      `db:"team_id"`
	Captain     bool       `db:"captain"`
	JoinedDate  time.Time  `db:"joined_date"`
	UpdatedDate *time.Time `db:"updated_date"`
}

// AdminScope selects which identity fields of an AdminConfig are populated.
type AdminScope string

const (
	ScopeUser AdminScope = "user"
	ScopeRole AdminScope = "role"
)

// AdminConfig grants bot administration to a user or to a role on a server.
type AdminConfig struct {
	ID              int64      `db:"id"`
	DiscordUserID   *string    `db:"discord_user_id"`
	DiscordServerID *string    `db:"discord_server_id"`
	DiscordRoleID   *string    `db:"discord_role_id"`
	Scope           AdminScope `db:"scope"`
	Admin           bool       `db:"admin"`
	CreatedDate     time.Time  `db:"created_date"`
	CreatedBy       int64      `db:"created_by"`
	UpdatedDate     *time.Time `db:"updated_date"`
	UpdatedBy       *int64     `db:"updated_by"`
}

// Validate checks that the scope is known and that exactly the identity
// fields belonging to it are set.
func (a AdminConfig) Validate() error {
	set := func(s *string) bool { return s != nil && *s != "" }

	switch a.Scope {
	case ScopeUser:
		if !set(a.DiscordUserID) {
			return &ValidationError{Field: "discord_user_id", Reason: "required for user scope"}
		}
		if set(a.DiscordServerID) || set(a.DiscordRoleID) {
			return &ValidationError{Field: "scope", Reason: "user scope cannot carry server or role"}
		}
	case ScopeRole:
		if !set(a.DiscordServerID) || !set(a.DiscordRoleID) {
			return &ValidationError{Field: "discord_role_id", Reason: "server and role required for role scope"}
		}
		if set(a.DiscordUserID) {
			return &ValidationError{Field: "scope", Reason: "role scope cannot carry a user"}
		}
	default:
		return &ValidationError{Field: "scope", Reason: "must be \"user\" or \"role\", got " + quote(string(a.Scope))}
	}
	return nil
}

// Game is reference data owning zero or more maps.
type Game struct {
	ID     int64   `db:"id"`
	Name   string  `db:"name"`
	Series *string `db:"series"`
}

// Map is a playable map for a game.
type Map struct {
	ID             int64   `db:"id"`
	Name           string  `db:"name"`
	Mode           string  `db:"mode"`
	ExperienceCode *string `db:"experience_code"`
	GameID         int64   `db:"game_id"`
}

// MatchFormat defines player and round counts.
type MatchFormat struct {
	ID         int64 `db:"id"`
	MaxPlayers int   `db:"max_players"`
	MatchCount int   `db:"match_count"`
}

// PermittedMap allows a map in a match format.
type PermittedMap struct {
	MatchFormatID int64 `db:"match_format_id"`
	MapID         int64 `db:"map_id"`
}

// League binds a game and a match format on a hosting server.
type League struct {
	ID            int64      `db:"id"`
	Name          string     `db:"name"`
	GameID        int64      `db:"game_id"`
	MatchFormat   int64      `db:"match_format"`
	DiscordServer string     `db:"discord_server"`
	CreatedDate   time.Time  `db:"created_date"`
	CreatedBy     int64      `db:"created_by"`
	UpdatedDate   *time.Time `db:"updated_date"`
	UpdatedBy     *int64     `db:"updated_by"`
}

// LeagueMembership records a team joining a league.
type LeagueMembership struct {
	LeagueID   int64     `db:"league_id"`
	TeamID     int64     `db:"team_id"`
	JoinedDate time.Time `db:"joined_date"`
	JoinedBy   int64     `db:"joined_by"`
}

// Match is a challenge between two teams within a league.
type Match struct {
	ID              int64     `db:"id"`
	LeagueID        int64     `db:"league_id"`
	ChallengingTeam int64     `db:"challenging_team"`
	DefendingTeam   int64     `db:"defending_team"`
	IssuedDate      time.Time `db:"issued_date"`
	IssuedBy        int64     `db:"issued_by"`
	MatchDate       time.Time `db:"match_date"`
	WinningTeam     *int64    `db:"winning_team"`
	MatchAccepted   bool      `db:"match_accepted"`
	MatchCancelled  bool      `db:"match_cancelled"`
}

// MatchResult is one round of a match.
type MatchResult struct {
	MatchID              int64 `db:"match_id"`
	Round                int   `db:"round"`
	MapID                int64 `db:"map_id"`
	ChallengingTeamScore int   `db:"challenging_team_score"`
	DefendingTeamScore   int   `db:"defending_team_score"`
	WinningTeam          int64 `db:"winning_team"`
}

// TeamPermissions are the capability flags shared by user and role grants.
type TeamPermissions struct {
	EditDetails  bool `db:"perm_edit_details"`
	EditMembers  bool `db:"perm_edit_members"`
	JoinLeagues  bool `db:"perm_join_leagues"`
	IssueMatches bool `db:"perm_issue_matches"`
}

// TeamPermissionsUser grants capabilities on a team to a user.
type TeamPermissionsUser struct {
	TeamID int64 `db:"team_id"`
	UserID int64 `db:"user_id"`
	TeamPermissions
	CreatedDate time.Time  `db:"created_date"`
	CreatedBy   int64      `db:"created_by"`
	UpdatedDate *time.Time `db:"updated_date"`
	UpdatedBy   *int64     `db:"updated_by"`
}

// TeamPermissionsRole grants capabilities on a team to a Discord role.
type TeamPermissionsRole struct {
	TeamID int64  `db:"team_id"`
	RoleID string `db:"role_id"`
	TeamPermissions
	CreatedDate time.Time  `db:"created_date"`
	CreatedBy   int64      `db:"created_by"`
	UpdatedDate *time.Time `db:"updated_date"`
	UpdatedBy   *int64     `db:"updated_by"`
}

// LogEntry is a row of the logs table.
type LogEntry struct {
	ID         int64     `db:"log_id"`
	Timestamp  time.Time `db:"timestamp"`
	Level      string    `db:"level"`
	LoggerName string    `db:"logger_name"`
	Message    string    `db:"message"`
	Module     *string   `db:"module"`
	Function   *string   `db:"function"`
	LineNumber *int      `db:"line_number"`
}

// UserRepository defines user persistence operations.
type UserRepository interface {
	Save(ctx context.Context, u *User) error
	Delete(ctx context.Context, id int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByDiscordID(ctx context.Context, discordID string) (*User, error)
	// GetOrCreate returns the user for discordID, creating it when absent.
	GetOrCreate(ctx context.Context, discordID, displayName string) (*User, error)
	Search(ctx context.Context, term string) ([]User, error)
	GetAll(ctx context.Context) ([]User, error)
}

// TeamRepository defines team persistence operations.
type TeamRepository interface {
	Save(ctx context.Context, t *Team) error
	Delete(ctx context.Context, id int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*Team, error)
	GetByName(ctx context.Context, server, name string) (*Team, error)
	GetByServer(ctx context.Context, server string) ([]Team, error)
	GetByOwner(ctx context.Context, ownerID int64) ([]Team, error)
	GetAll(ctx context.Context) ([]Team, error)
}

// TeamMembershipRepository defines membership persistence operations.
type TeamMembershipRepository interface {
	Save(ctx context.Context, m *TeamMembership) error
	Delete(ctx context.Context, userID, teamID int64) (int64, error)
	Get(ctx context.Context, userID, teamID int64) (*TeamMembership, error)
	GetByTeam(ctx context.Context, teamID int64) ([]TeamMembership, error)
	GetByUser(ctx context.Context, userID int64) ([]TeamMembership, error)
}

// AdminConfigRepository defines bot admin grant persistence operations.
type AdminConfigRepository interface {
	Save(ctx context.Context, a *AdminConfig) error
	Delete(ctx context.Context, id int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*AdminConfig, error)
	GetByUserID(ctx context.Context, discordUserID string) (*AdminConfig, error)
	GetByServerAndRole(ctx context.Context, serverID, roleID string) (*AdminConfig, error)
	GetAll(ctx context.Context) ([]AdminConfig, error)
	GetAllAdmins(ctx context.Context) ([]AdminConfig, error)
}

// GameRepository defines game persistence operations.
type GameRepository interface {
	Save(ctx context.Context, g *Game) error
	Delete(ctx context.Context, id int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*Game, error)
	GetByName(ctx context.Context, name string) (*Game, error)
	GetAll(ctx context.Context) ([]Game, error)
}

// MapRepository defines map persistence operations.
type MapRepository interface {
	Save(ctx context.Context, m *Map) error
	Delete(ctx context.Context, id int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*Map, error)
	GetByGame(ctx context.Context, gameID int64) ([]Map, error)
	GetAll(ctx context.Context) ([]Map, error)
}

// MatchFormatRepository defines match format persistence operations.
type MatchFormatRepository interface {
	Save(ctx context.Context, f *MatchFormat) error
	Delete(ctx context.Context, id int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*MatchFormat, error)
	GetAll(ctx context.Context) ([]MatchFormat, error)
}

// PermittedMapRepository defines permitted map persistence operations.
type PermittedMapRepository interface {
	Save(ctx context.Context, p *PermittedMap) error
	Delete(ctx context.Context, formatID, mapID int64) (int64, error)
	GetByFormat(ctx context.Context, formatID int64) ([]PermittedMap, error)
}

// LeagueRepository defines league persistence operations.
type LeagueRepository interface {
	Save(ctx context.Context, l *League) error
	Delete(ctx context.Context, id int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*League, error)
	GetByServer(ctx context.Context, server string) ([]League, error)
	GetAll(ctx context.Context) ([]League, error)
}

// LeagueMembershipRepository defines league membership persistence operations.
type LeagueMembershipRepository interface {
	Save(ctx context.Context, m *LeagueMembership) error
	Delete(ctx context.Context, leagueID, teamID int64) (int64, error)
	GetByLeague(ctx context.Context, leagueID int64) ([]LeagueMembership, error)
	GetByTeam(ctx context.Context, teamID int64) ([]LeagueMembership, error)
}

// MatchRepository defines match persistence operations.
type MatchRepository interface {
	Save(ctx context.Context, m *Match) error
	Delete(ctx context.Context, id int64) (int64, error)
	GetByID(ctx context.Context, id int64) (*Match, error)
	GetByLeague(ctx context.Context, leagueID int64) ([]Match, error)
	GetByTeam(ctx context.Context, teamID int64) ([]Match, error)
	GetAll(ctx context.Context) ([]Match, error)
}

// MatchResultRepository defines match result persistence operations.
type MatchResultRepository interface {
	Save(ctx context.Context, r *MatchResult) error
	Delete(ctx context.Context, matchID int64, round int) (int64, error)
	GetByMatch(ctx context.Context, matchID int64) ([]MatchResult, error)
}

// TeamPermissionsUserRepository defines user capability grant operations.
type TeamPermissionsUserRepository interface {
	Save(ctx context.Context, p *TeamPermissionsUser) error
	Delete(ctx context.Context, teamID, userID int64) (int64, error)
	Get(ctx context.Context, teamID, userID int64) (*TeamPermissionsUser, error)
	GetByTeam(ctx context.Context, teamID int64) ([]TeamPermissionsUser, error)
}

// TeamPermissionsRoleRepository defines role capability grant operations.
type TeamPermissionsRoleRepository interface {
	Save(ctx context.Context, p *TeamPermissionsRole) error
	Delete(ctx context.Context, teamID int64, roleID string) (int64, error)
	Get(ctx context.Context, teamID int64, roleID string) (*TeamPermissionsRole, error)
	GetByTeam(ctx context.Context, teamID int64) ([]TeamPermissionsRole, error)
}

// LogRepository persists application log records.
type LogRepository interface {
	Write(ctx context.Context, e *LogEntry) error
	Recent(ctx context.Context, limit int) ([]LogEntry, error)
}

// SchemaManager creates and resets the database schema.
type SchemaManager interface {
	// InitialiseSchema creates every table that does not exist yet.
	InitialiseSchema(ctx context.Context) error
	// Reset drops every table except logs and recreates the schema. It
	// returns the number of tables dropped.
	Reset(ctx context.Context) (int, error)
}
