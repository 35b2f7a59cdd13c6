package engine

import (
	"strings"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Dialect captures what differs between the supported SQL backends.
type Dialect struct {
	// Driver is the database/sql driver name.
	Driver string
	// Bind is the sqlx bind type used to rewrite '?' placeholders.
	Bind int
	// System identifies the backend on otelsql spans.
	System attribute.KeyValue
	// MaxOpenConns limits the pool; zero leaves the database/sql default.
	MaxOpenConns int

	types *strings.Replacer

	tablesQuery string
	existsQuery string
	fkOff       string
	fkOn        string
	dropSuffix  string
	returning   bool
}

// SQLite is the single-file backend (modernc.org/sqlite). SQLite allows one
// writer, so the pool holds a single connection.
var SQLite = Dialect{
	Driver:       "sqlite",
	Bind:         sqlx.QUESTION,
	System:       semconv.DBSystemSqlite,
	MaxOpenConns: 1,
	types: strings.NewReplacer(
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ref}}", "INTEGER",
		"{{timestamp}}", "DATETIME",
		"{{bool}}", "BOOLEAN",
	),
	tablesQuery: `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
	existsQuery: `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
	fkOff:       "PRAGMA foreign_keys = OFF",
	fkOn:        "PRAGMA foreign_keys = ON",
}

// Postgres is the server backend (lib/pq).
var Postgres = Dialect{
	Driver: "postgres",
	Bind:   sqlx.DOLLAR,
	System: semconv.DBSystemPostgreSQL,
	types: strings.NewReplacer(
		"{{serial}}", "BIGSERIAL PRIMARY KEY",
		"{{ref}}", "BIGINT",
		"{{timestamp}}", "TIMESTAMPTZ",
		"{{bool}}", "BOOLEAN",
	),
	tablesQuery: `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name`,
	existsQuery: `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = ?`,
	dropSuffix: " CASCADE",
	returning:  true,
}

// expandType replaces the portable type placeholders used in column
// definitions.
func (d Dialect) expandType(t string) string {
	if d.types == nil {
		return t
	}
	return d.types.Replace(t)
}
