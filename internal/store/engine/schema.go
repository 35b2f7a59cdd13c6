package engine

import (
	"context"
	"log/slog"
)

// LogTable is the application log table. It survives DropAllTables and Reset.
const LogTable = "logs"

// TableDef describes one table of the schema.
type TableDef struct {
	Name        string
	Columns     []Column
	Constraints []string
}

// IndexDef describes a secondary index.
type IndexDef struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// Schema lists every table in dependency order: referenced tables come before
// the tables that reference them.
var Schema = []TableDef{
	{
		Name: LogTable,
		Columns: []Column{
			{"log_id", "{{serial}}"},
			{"timestamp", "{{timestamp}} NOT NULL"},
			{"level", "TEXT NOT NULL"},
			{"logger_name", "TEXT NOT NULL"},
			{"message", "TEXT NOT NULL"},
			{"module", "TEXT"},
			{"function", "TEXT"},
			{"line_number", "INTEGER"},
		},
	},
	{
		Name: "games",
		Columns: []Column{
			{"id", "{{serial}}"},
			{"name", "TEXT NOT NULL UNIQUE"},
			{"series", "TEXT"},
		},
	},
	{
		Name: "maps",
		Columns: []Column{
			{"id", "{{serial}}"},
			{"name", "TEXT NOT NULL"},
			{"mode", "TEXT NOT NULL"},
			{"experience_code", "TEXT"},
			{"game_id", "{{ref}} NOT NULL REFERENCES games(id)"},
		},
	},
	{
		Name: "match_formats",
		Columns: []Column{
			{"id", "{{serial}}"},
			{"max_players", "INTEGER NOT NULL"},
			{"match_count", "INTEGER NOT NULL"},
		},
	},
	{
		Name: "permitted_maps",
		Columns: []Column{
			{"match_format_id", "{{ref}} NOT NULL REFERENCES match_formats(id)"},
			{"map_id", "{{ref}} NOT NULL REFERENCES maps(id)"},
		},
		Constraints: []string{"PRIMARY KEY (match_format_id, map_id)"},
	},
	{
		Name: "users",
		Columns: []Column{
			{"id", "{{serial}}"},
			{"discord_id", "TEXT NOT NULL"},
			{"display_name", "TEXT"},
			{"created_date", "{{timestamp}} NOT NULL"},
		},
	},
	{
		Name: "teams",
		Columns: []Column{
			{"id", "{{serial}}"},
			{"name", "TEXT NOT NULL"},
			{"tag", "TEXT NOT NULL"},
			{"owner_id", "{{ref}} NOT NULL REFERENCES users(id)"},
			{"created_at", "{{timestamp}} NOT NULL"},
			{"created_by", "{{ref}} NOT NULL REFERENCES users(id)"},
			{"discord_server", "TEXT NOT NULL"},
		},
	},
	{
		Name: "leagues",
		Columns: []Column{
			{"id", "{{serial}}"},
			{"name", "TEXT NOT NULL"},
			{"game_id", "{{ref}} NOT NULL REFERENCES games(id)"},
			{"match_format", "{{ref}} NOT NULL REFERENCES match_formats(id)"},
			{"discord_server", "TEXT NOT NULL"},
			{"created_date", "{{timestamp}} NOT NULL"},
			{"created_by", "{{ref}} NOT NULL REFERENCES users(id)"},
			{"updated_date", "{{timestamp}}"},
			{"updated_by", "{{ref}} REFERENCES users(id)"},
		},
	},
	{
		Name: "team_membership",
		Columns: []Column{
			{"user_id", "{{ref}} NOT NULL REFERENCES users(id)"},
			{"team_id", "{{ref}} NOT NULL REFERENCES teams(id)"},
			{"captain", "{{bool}} NOT NULL DEFAULT FALSE"},
			{"joined_date", "{{timestamp}} NOT NULL"},
			{"updated_date", "{{timestamp}}"},
		},
		Constraints: []string{"PRIMARY KEY (user_id, team_id)"},
	},
	{
		Name: "team_permissions_users",
		Columns: []Column{
			{"team_id", "{{ref}} NOT NULL REFERENCES teams(id)"},
			{"user_id", "{{ref}} NOT NULL REFERENCES users(id)"},
			{"perm_edit_details", "{{bool}} NOT NULL DEFAULT FALSE"},
			{"perm_edit_members", "{{bool}} NOT NULL DEFAULT FALSE"},
			{"perm_join_leagues", "{{bool}} NOT NULL DEFAULT FALSE"},
			{"perm_issue_matches", "{{bool}} NOT NULL DEFAULT FALSE"},
			{"created_date", "{{timestamp}} NOT NULL"},
			{"created_by", "{{ref}} NOT NULL REFERENCES users(id)"},
			{"updated_date", "{{timestamp}}"},
			{"updated_by", "{{ref}} REFERENCES users(id)"},
		},
		Constraints: []string{"PRIMARY KEY (team_id, user_id)"},
	},
	{
		Name: "team_permissions_roles",
		Columns: []Column{
			{"team_id", "{{ref}} NOT NULL REFERENCES teams(id)"},
			{"role_id", "TEXT NOT NULL"},
			{"perm_edit_details", "{{bool}} NOT NULL DEFAULT FALSE"},
			{"perm_edit_members", "{{bool}} NOT NULL DEFAULT FALSE"},
			{"perm_join_leagues", "{{bool}} NOT NULL DEFAULT FALSE"},
			{"perm_issue_matches", "{{bool}} NOT NULL DEFAULT FALSE"},
			{"created_date", "{{timestamp}} NOT NULL"},
			{"created_by", "{{ref}} NOT NULL REFERENCES users(id)"},
			{"updated_date", "{{timestamp}}"},
			{"updated_by", "{{ref}} REFERENCES users(id)"},
		},
		Constraints: []string{"PRIMARY KEY (team_id, role_id)"},
	},
	{
		Name: "league_membership",
		Columns: []Column{
			{"league_id", "{{ref}} NOT NULL REFERENCES leagues(id)"},
			{"team_id", "{{ref}} NOT NULL REFERENCES teams(id)"},
			{"joined_date", "{{timestamp}} NOT NULL"},
			{"joined_by", "{{ref}} NOT NULL REFERENCES users(id)"},
		},
		Constraints: []string{"PRIMARY KEY (league_id, team_id)"},
	},
	{
		Name: "matches",
		Columns: []Column{
			{"id", "{{serial}}"},
			{"league_id", "{{ref}} NOT NULL REFERENCES leagues(id)"},
			{"challenging_team", "{{ref}} NOT NULL REFERENCES teams(id)"},
			{"defending_team", "{{ref}} NOT NULL REFERENCES teams(id)"},
			{"issued_date", "{{timestamp}} NOT NULL"},
			{"issued_by", "{{ref}} NOT NULL REFERENCES users(id)"},
			{"match_date", "{{timestamp}} NOT NULL"},
			{"winning_team", "{{ref}} REFERENCES teams(id)"},
			{"match_accepted", "{{bool}} NOT NULL DEFAULT FALSE"},
			{"match_cancelled", "{{bool}} NOT NULL DEFAULT FALSE"},
		},
	},
	{
		Name: "match_results",
		Columns: []Column{
			{"match_id", "{{ref}} NOT NULL REFERENCES matches(id)"},
			{"round", "INTEGER NOT NULL"},
			{"map_id", "{{ref}} NOT NULL REFERENCES maps(id)"},
			{"challenging_team_score", "INTEGER NOT NULL"},
			{"defending_team_score", "INTEGER NOT NULL"},
			{"winning_team", "{{ref}} NOT NULL REFERENCES teams(id)"},
		},
		Constraints: []string{"PRIMARY KEY (match_id, round)"},
	},
	{
		Name: "admins",
		Columns: []Column{
			{"id", "{{serial}}"},
			{"discord_user_id", "TEXT"},
			{"discord_server_id", "TEXT"},
			{"discord_role_id", "TEXT"},
			{"scope", "TEXT NOT NULL"},
			{"admin", "{{bool}} NOT NULL DEFAULT TRUE"},
			{"created_date", "{{timestamp}} NOT NULL"},
			{"created_by", "{{ref}} NOT NULL"},
			{"updated_date", "{{timestamp}}"},
			{"updated_by", "{{ref}}"},
		},
	},
	{
		Name: "events",
		Columns: []Column{
			{"id", "{{serial}}"},
			{"aggregate_id", "TEXT NOT NULL"},
			{"type", "TEXT NOT NULL"},
			{"data", "TEXT NOT NULL"},
			{"version", "INTEGER NOT NULL"},
			{"created_at", "{{timestamp}} NOT NULL"},
		},
	},
}

// Indexes lists the secondary indexes created after the tables.
var Indexes = []IndexDef{
	{Name: "users_discord_id", Table: "users", Columns: []string{"discord_id"}, Unique: true},
	{Name: "teams_server", Table: "teams", Columns: []string{"discord_server"}},
	{Name: "team_membership_team", Table: "team_membership", Columns: []string{"team_id"}},
	{Name: "events_type", Table: "events", Columns: []string{"type"}},
	{Name: "logs_timestamp", Table: LogTable, Columns: []string{"timestamp"}},
}

// InitialiseSchema creates every missing table and index. It is idempotent.
func (e *Engine) InitialiseSchema(ctx context.Context) error {
	for _, t := range Schema {
		if err := e.CreateTable(ctx, t.Name, t.Columns, true, t.Constraints...); err != nil {
			return err
		}
	}
	for _, idx := range Indexes {
		if err := e.CreateIndex(ctx, idx.Name, idx.Table, idx.Columns, idx.Unique); err != nil {
			return err
		}
	}
	e.logger.InfoContext(ctx, "schema initialised", slog.Int("tables", len(Schema)))
	return nil
}

// Reset drops every table except the log table and recreates the schema.
func (e *Engine) Reset(ctx context.Context) (int, error) {
	n, err := e.DropAllTables(ctx)
	if err != nil {
		return n, err
	}
	return n, e.InitialiseSchema(ctx)
}
