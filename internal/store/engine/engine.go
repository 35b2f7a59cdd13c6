// Package engine is the only place SQL text is assembled. It offers generic
// table operations over a single database whose table and column names are
// validated and quoted, while values always travel as bound parameters.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
)

// Errors returned by the engine.
var (
	ErrNotConnected  = errors.New("engine is not connected")
	ErrInTransaction = errors.New("operation not allowed inside a transaction")
)

// Values maps column names to values for inserts and updates.
type Values map[string]any

// Row is a result row keyed by column name.
type Row map[string]any

// Column is a column definition for CreateTable. Type may use the portable
// placeholders {{serial}}, {{ref}}, {{timestamp}} and {{bool}}.
type Column struct {
	Name string
	Type string
}

// Query describes a SELECT. Where is trusted SQL written by repositories with
// '?' placeholders for Args; it is never built from user input.
type Query struct {
	Columns []string
	Where   string
	Args    []any
	OrderBy string
	Limit   int
}

// Engine wraps one database. An Engine returned by InTx is bound to a
// transaction and shares nothing mutable with its parent.
type Engine struct {
	dialect Dialect
	dsn     string
	logger  *slog.Logger

	mu sync.RWMutex
	db *sqlx.DB

	tx *sqlx.Tx
}

// New returns a disconnected Engine.
func New(dialect Dialect, dsn string, logger *slog.Logger) *Engine {
	return &Engine{dialect: dialect, dsn: dsn, logger: logger}
}

// Open returns a connected Engine.
func Open(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*Engine, error) {
	e := New(dialect, dsn, logger)
	if err := e.Connect(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Use opens an Engine, runs fn and disconnects on every exit path.
func Use(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger, fn func(e *Engine) error) (err error) {
	e, err := Open(ctx, dialect, dsn, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Disconnect(); err == nil {
			err = cerr
		}
	}()
	return fn(e)
}

// Dialect returns the engine's dialect.
func (e *Engine) Dialect() Dialect { return e.dialect }

// Connect opens the connection pool through otelsql and verifies it.
// Connecting an already connected engine is a no-op.
func (e *Engine) Connect(ctx context.Context) error {
	if e.tx != nil {
		return ErrInTransaction
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db != nil {
		return nil
	}

	db, err := otelsql.Open(e.dialect.Driver, e.dsn, otelsql.WithAttributes(e.dialect.System))
	if err != nil {
		return fmt.Errorf("opening %s database: %w", e.dialect.Driver, err)
	}
	if n := e.dialect.MaxOpenConns; n > 0 {
		db.SetMaxOpenConns(n)
		db.SetMaxIdleConns(n)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("pinging %s database: %w", e.dialect.Driver, err)
	}

	e.db = sqlx.NewDb(db, e.dialect.Driver)
	e.logger.InfoContext(ctx, "database connected", slog.String("driver", e.dialect.Driver))
	return nil
}

// Disconnect closes the pool. Disconnecting twice is a no-op.
func (e *Engine) Disconnect() error {
	if e.tx != nil {
		return ErrInTransaction
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Close implements io.Closer.
func (e *Engine) Close() error { return e.Disconnect() }

// Connected reports whether the engine holds an open pool or transaction.
func (e *Engine) Connected() bool {
	_, err := e.ext()
	return err == nil
}

// Ping checks the connection.
func (e *Engine) Ping(ctx context.Context) error {
	db, err := e.pool()
	if err != nil {
		if e.tx != nil {
			return nil
		}
		return err
	}
	return db.PingContext(ctx)
}

func (e *Engine) pool() (*sqlx.DB, error) {
	if e.tx != nil {
		return nil, ErrInTransaction
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.db == nil {
		return nil, ErrNotConnected
	}
	return e.db, nil
}

func (e *Engine) ext() (sqlx.ExtContext, error) {
	if e.tx != nil {
		return e.tx, nil
	}
	return e.pool()
}

func (e *Engine) rebind(query string) string {
	return sqlx.Rebind(e.dialect.Bind, query)
}

// fail logs a driver error with its operation and table, then wraps it.
func (e *Engine) fail(ctx context.Context, op, table string, err error) error {
	e.logger.ErrorContext(ctx, "database operation failed",
		slog.String("op", op),
		slog.String("table", table),
		slog.Any("error", err),
	)
	if table == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

// Execute runs a single statement with bound parameters.
func (e *Engine) Execute(ctx context.Context, query string, args ...any) (sql.Result, error) {
	x, err := e.ext()
	if err != nil {
		return nil, err
	}
	res, err := x.ExecContext(ctx, e.rebind(query), args...)
	if err != nil {
		return nil, e.fail(ctx, "execute", "", err)
	}
	return res, nil
}

// CreateTable creates a table from validated column names. Constraints are
// appended verbatim and must come from code, never from input.
func (e *Engine) CreateTable(ctx context.Context, name string, columns []Column, ifNotExists bool, constraints ...string) error {
	table, err := QuoteIdentifier("table name", name)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return &store.ValidationError{Field: "columns", Reason: "at least one column is required"}
	}

	defs := make([]string, 0, len(columns)+len(constraints))
	for _, c := range columns {
		col, err := QuoteIdentifier("column name", c.Name)
		if err != nil {
			return err
		}
		defs = append(defs, col+" "+e.dialect.expandType(c.Type))
	}
	defs = append(defs, constraints...)

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(defs, ", "))
	b.WriteString(")")

	x, err := e.ext()
	if err != nil {
		return err
	}
	if _, err := x.ExecContext(ctx, b.String()); err != nil {
		return e.fail(ctx, "create table", name, err)
	}
	e.logger.DebugContext(ctx, "table created", slog.String("table", name))
	return nil
}

// CreateIndex creates an index over validated columns.
func (e *Engine) CreateIndex(ctx context.Context, name, table string, columns []string, unique bool) error {
	idx, err := QuoteIdentifier("index name", name)
	if err != nil {
		return err
	}
	tbl, err := QuoteIdentifier("table name", table)
	if err != nil {
		return err
	}
	cols, err := quoteAll("column name", columns)
	if err != nil {
		return err
	}
	kw := "CREATE INDEX IF NOT EXISTS "
	if unique {
		kw = "CREATE UNIQUE INDEX IF NOT EXISTS "
	}
	x, err := e.ext()
	if err != nil {
		return err
	}
	if _, err := x.ExecContext(ctx, kw+idx+" ON "+tbl+" ("+strings.Join(cols, ", ")+")"); err != nil {
		return e.fail(ctx, "create index", table, err)
	}
	return nil
}

// DropTable drops a single table.
func (e *Engine) DropTable(ctx context.Context, name string, ifExists bool) error {
	table, err := QuoteIdentifier("table name", name)
	if err != nil {
		return err
	}
	x, err := e.ext()
	if err != nil {
		return err
	}
	q := "DROP TABLE "
	if ifExists {
		q += "IF EXISTS "
	}
	if _, err := x.ExecContext(ctx, q+table+e.dialect.dropSuffix); err != nil {
		return e.fail(ctx, "drop table", name, err)
	}
	return nil
}

// TableExists reports whether a table is present.
func (e *Engine) TableExists(ctx context.Context, name string) (bool, error) {
	if err := ValidateIdentifier("table name", name); err != nil {
		return false, err
	}
	x, err := e.ext()
	if err != nil {
		return false, err
	}
	rows, err := x.QueryxContext(ctx, e.rebind(e.dialect.existsQuery), name)
	if err != nil {
		return false, e.fail(ctx, "table exists", name, err)
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

// DropAllTables drops every table except the log table and system tables.
// Foreign key enforcement is switched off on a pinned connection for the
// duration and switched back on before returning.
func (e *Engine) DropAllTables(ctx context.Context) (int, error) {
	db, err := e.pool()
	if err != nil {
		return 0, err
	}
	conn, err := db.Connx(ctx)
	if err != nil {
		return 0, e.fail(ctx, "drop all tables", "", err)
	}
	defer conn.Close()

	if e.dialect.fkOff != "" {
		if _, err := conn.ExecContext(ctx, e.dialect.fkOff); err != nil {
			return 0, e.fail(ctx, "disable foreign keys", "", err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), e.dialect.fkOn); err != nil {
				e.logger.ErrorContext(ctx, "re-enabling foreign keys failed", slog.Any("error", err))
			}
		}()
	}

	var names []string
	if err := sqlx.SelectContext(ctx, conn, &names, e.dialect.tablesQuery); err != nil {
		return 0, e.fail(ctx, "list tables", "", err)
	}

	dropped := 0
	for _, name := range names {
		if name == LogTable || strings.HasPrefix(name, "sqlite_") {
			continue
		}
		table, err := QuoteIdentifier("table name", name)
		if err != nil {
			return dropped, err
		}
		if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+e.dialect.dropSuffix); err != nil {
			return dropped, e.fail(ctx, "drop table", name, err)
		}
		dropped++
	}

	e.logger.WarnContext(ctx, "dropped all tables", slog.Int("count", dropped))
	return dropped, nil
}

// Insert inserts one row and returns the generated id, or 0 for tables
// without a surrogate key.
func (e *Engine) Insert(ctx context.Context, table string, values Values) (int64, error) {
	tbl, cols, args, err := e.prepareValues(table, values)
	if err != nil {
		return 0, err
	}
	x, err := e.ext()
	if err != nil {
		return 0, err
	}

	q := "INSERT INTO " + tbl + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")"

	if e.dialect.returning {
		row := Row{}
		if err := x.QueryRowxContext(ctx, e.rebind(q+" RETURNING *"), args...).MapScan(row); err != nil {
			return 0, e.fail(ctx, "insert", table, err)
		}
		id, _ := toInt64(row["id"])
		return id, nil
	}

	res, err := x.ExecContext(ctx, e.rebind(q), args...)
	if err != nil {
		return 0, e.fail(ctx, "insert", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, e.fail(ctx, "insert", table, err)
	}
	return id, nil
}

// InsertMany inserts rows sharing the same columns in one transaction and
// returns the number inserted.
func (e *Engine) InsertMany(ctx context.Context, table string, rows []Values) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tbl, cols, _, err := e.prepareValues(table, rows[0])
	if err != nil {
		return 0, err
	}
	names := sortedKeys(rows[0])
	for i, r := range rows[1:] {
		if !sameKeys(names, r) {
			return 0, &store.ValidationError{Field: "rows", Reason: "row " + strconv.Itoa(i+1) + " has different columns"}
		}
	}

	q := e.rebind("INSERT INTO " + tbl + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")")

	var inserted int64
	err = e.InTx(ctx, func(tx *Engine) error {
		stmt, err := tx.tx.PreparexContext(ctx, q)
		if err != nil {
			return e.fail(ctx, "prepare insert", table, err)
		}
		defer stmt.Close()

		for _, r := range rows {
			args := make([]any, len(names))
			for i, n := range names {
				args[i] = r[n]
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return e.fail(ctx, "insert many", table, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Upsert inserts a row or, when a row with the same key columns exists,
// updates its remaining columns. With no remaining columns an existing row is
// left untouched. It returns the number of rows written.
func (e *Engine) Upsert(ctx context.Context, table string, keys []string, values Values) (int64, error) {
	if len(keys) == 0 {
		return 0, &store.ValidationError{Field: "keys", Reason: "at least one key column is required"}
	}
	for _, k := range keys {
		if _, ok := values[k]; !ok {
			return 0, &store.ValidationError{Field: "keys", Reason: strconv.Quote(k) + " has no value"}
		}
	}
	tbl, cols, args, err := e.prepareValues(table, values)
	if err != nil {
		return 0, err
	}
	keyCols, err := quoteAll("column name", keys)
	if err != nil {
		return 0, err
	}

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var sets []string
	for _, name := range sortedKeys(values) {
		if isKey[name] {
			continue
		}
		col := `"` + name + `"`
		sets = append(sets, col+" = excluded."+col)
	}

	q := "INSERT INTO " + tbl + " (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")" +
		" ON CONFLICT (" + strings.Join(keyCols, ", ") + ")"
	if len(sets) == 0 {
		q += " DO NOTHING"
	} else {
		q += " DO UPDATE SET " + strings.Join(sets, ", ")
	}

	x, err := e.ext()
	if err != nil {
		return 0, err
	}
	res, err := x.ExecContext(ctx, e.rebind(q), args...)
	if err != nil {
		return 0, e.fail(ctx, "upsert", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, e.fail(ctx, "upsert", table, err)
	}
	return n, nil
}

// Select returns matching rows as maps.
func (e *Engine) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	query, err := e.buildSelect(table, q)
	if err != nil {
		return nil, err
	}
	x, err := e.ext()
	if err != nil {
		return nil, err
	}
	rows, err := x.QueryxContext(ctx, query, q.Args...)
	if err != nil {
		return nil, e.fail(ctx, "select", table, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r := Row{}
		if err := rows.MapScan(r); err != nil {
			return nil, e.fail(ctx, "scan", table, err)
		}
		for k, v := range r {
			if b, ok := v.([]byte); ok {
				r[k] = string(b)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, e.fail(ctx, "select", table, err)
	}
	return out, nil
}

// SelectOne returns the first matching row, or nil.
func (e *Engine) SelectOne(ctx context.Context, table string, q Query) (Row, error) {
	q.Limit = 1
	rows, err := e.Select(ctx, table, q)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// SelectInto scans matching rows into dest, a pointer to a slice of structs
// with db tags.
func (e *Engine) SelectInto(ctx context.Context, dest any, table string, q Query) error {
	query, err := e.buildSelect(table, q)
	if err != nil {
		return err
	}
	x, err := e.ext()
	if err != nil {
		return err
	}
	if err := sqlx.SelectContext(ctx, x, dest, query, q.Args...); err != nil {
		return e.fail(ctx, "select", table, err)
	}
	return nil
}

// SelectOneInto scans the first matching row into dest and reports whether a
// row was found.
func (e *Engine) SelectOneInto(ctx context.Context, dest any, table string, q Query) (bool, error) {
	q.Limit = 1
	query, err := e.buildSelect(table, q)
	if err != nil {
		return false, err
	}
	x, err := e.ext()
	if err != nil {
		return false, err
	}
	err = sqlx.GetContext(ctx, x, dest, query, q.Args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, e.fail(ctx, "select one", table, err)
	}
	return true, nil
}

// Update sets values on rows matching where and returns the affected count.
func (e *Engine) Update(ctx context.Context, table string, values Values, where string, args ...any) (int64, error) {
	if strings.TrimSpace(where) == "" {
		return 0, &store.ValidationError{Field: "where", Reason: "update requires a condition"}
	}
	tbl, cols, vals, err := e.prepareValues(table, values)
	if err != nil {
		return 0, err
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	x, err := e.ext()
	if err != nil {
		return 0, err
	}
	q := "UPDATE " + tbl + " SET " + strings.Join(sets, ", ") + " WHERE " + where
	res, err := x.ExecContext(ctx, e.rebind(q), append(vals, args...)...)
	if err != nil {
		return 0, e.fail(ctx, "update", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, e.fail(ctx, "update", table, err)
	}
	return n, nil
}

// Delete removes rows matching where and returns the affected count.
func (e *Engine) Delete(ctx context.Context, table, where string, args ...any) (int64, error) {
	tbl, err := QuoteIdentifier("table name", table)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(where) == "" {
		return 0, &store.ValidationError{Field: "where", Reason: "delete requires a condition"}
	}
	x, err := e.ext()
	if err != nil {
		return 0, err
	}
	res, err := x.ExecContext(ctx, e.rebind("DELETE FROM "+tbl+" WHERE "+where), args...)
	if err != nil {
		return 0, e.fail(ctx, "delete", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, e.fail(ctx, "delete", table, err)
	}
	return n, nil
}

// InTx runs fn with an engine bound to a new transaction, committing when fn
// returns nil. Called on a transaction-bound engine, fn joins the outer
// transaction.
func (e *Engine) InTx(ctx context.Context, fn func(tx *Engine) error) (err error) {
	if e.tx != nil {
		return fn(e)
	}
	db, err := e.pool()
	if err != nil {
		return err
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return e.fail(ctx, "begin transaction", "", err)
	}
	child := &Engine{dialect: e.dialect, logger: e.logger, tx: tx}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(child); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.ErrorContext(ctx, "rollback failed", slog.Any("error", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return e.fail(ctx, "commit", "", err)
	}
	return nil
}

func (e *Engine) buildSelect(table string, q Query) (string, error) {
	tbl, err := QuoteIdentifier("table name", table)
	if err != nil {
		return "", err
	}
	cols := "*"
	if len(q.Columns) > 0 {
		quoted, err := quoteAll("column name", q.Columns)
		if err != nil {
			return "", err
		}
		cols = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(cols)
	b.WriteString(" FROM ")
	b.WriteString(tbl)
	if q.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.Where)
	}
	if q.OrderBy != "" {
		if err := ValidateOrderBy(q.OrderBy); err != nil {
			return "", err
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(q.Limit))
	}
	return e.rebind(b.String()), nil
}

// prepareValues validates the table and column names and returns them quoted
// alongside the values in a deterministic column order.
func (e *Engine) prepareValues(table string, values Values) (string, []string, []any, error) {
	tbl, err := QuoteIdentifier("table name", table)
	if err != nil {
		return "", nil, nil, err
	}
	if len(values) == 0 {
		return "", nil, nil, &store.ValidationError{Field: "values", Reason: "at least one column is required"}
	}
	names := sortedKeys(values)
	cols, err := quoteAll("column name", names)
	if err != nil {
		return "", nil, nil, err
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = values[n]
	}
	return tbl, cols, args, nil
}

func sortedKeys(v Values) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameKeys(names []string, v Values) bool {
	if len(names) != len(v) {
		return false
	}
	for _, n := range names {
		if _, ok := v[n]; !ok {
			return false
		}
	}
	return true
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
