package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
)

func sqliteDSN(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrim.db")
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	ctx := context.Background()
	e, err := engine.Open(ctx, engine.SQLite, sqliteDSN(t), slog.Default())
	if err != nil {
		t.Fatalf("opening engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Disconnect() })
	if err := e.InitialiseSchema(ctx); err != nil {
		t.Fatalf("initialising schema: %v", err)
	}
	return e
}

var playerColumns = []engine.Column{
	{Name: "id", Type: "{{serial}}"},
	{Name: "name", Type: "TEXT NOT NULL"},
	{Name: "score", Type: "INTEGER NOT NULL DEFAULT 0"},
}

func TestEngine_Disconnected(t *testing.T) {
	ctx := context.Background()
	e := engine.New(engine.SQLite, sqliteDSN(t), slog.Default())

	checks := map[string]error{
		"execute": func() error { _, err := e.Execute(ctx, "SELECT 1"); return err }(),
		"create":  e.CreateTable(ctx, "players", playerColumns, true),
		"drop":    e.DropTable(ctx, "players", true),
		"exists":  func() error { _, err := e.TableExists(ctx, "players"); return err }(),
		"dropall": func() error { _, err := e.DropAllTables(ctx); return err }(),
		"insert":  func() error { _, err := e.Insert(ctx, "players", engine.Values{"name": "a"}); return err }(),
		"select":  func() error { _, err := e.Select(ctx, "players", engine.Query{}); return err }(),
		"update": func() error {
			_, err := e.Update(ctx, "players", engine.Values{"name": "b"}, "id = ?", 1)
			return err
		}(),
		"delete": func() error { _, err := e.Delete(ctx, "players", "id = ?", 1); return err }(),
		"upsert": func() error {
			_, err := e.Upsert(ctx, "players", []string{"id"}, engine.Values{"id": 1, "name": "a"})
			return err
		}(),
		"intx":  e.InTx(ctx, func(*engine.Engine) error { return nil }),
		"reset": func() error { _, err := e.Reset(ctx); return err }(),
	}
	for name, err := range checks {
		if !errors.Is(err, engine.ErrNotConnected) {
			t.Errorf("%s: got %v, want ErrNotConnected", name, err)
		}
	}
	if e.Connected() {
		t.Error("expected Connected() = false")
	}
}

func TestEngine_ValidationBeforeSQL(t *testing.T) {
	ctx := context.Background()
	// A disconnected engine would answer ErrNotConnected if any SQL were
	// attempted, so a validation error proves the input was rejected first.
	e := engine.New(engine.SQLite, sqliteDSN(t), slog.Default())
	bad := "players; DROP TABLE users"

	tests := map[string]error{
		"create table": e.CreateTable(ctx, bad, playerColumns, true),
		"bad column":   e.CreateTable(ctx, "players", []engine.Column{{Name: "x y;", Type: "TEXT"}}, true),
		"no columns":   e.CreateTable(ctx, "players", nil, true),
		"drop table":   e.DropTable(ctx, bad, true),
		"insert":       func() error { _, err := e.Insert(ctx, bad, engine.Values{"name": "a"}); return err }(),
		"insert column": func() error {
			_, err := e.Insert(ctx, "players", engine.Values{"name) VALUES (1); --": "a"})
			return err
		}(),
		"select order": func() error {
			_, err := e.Select(ctx, "players", engine.Query{OrderBy: "name; DROP TABLE players"})
			return err
		}(),
		"select column": func() error {
			_, err := e.Select(ctx, "players", engine.Query{Columns: []string{"*"}})
			return err
		}(),
		"update no where": func() error {
			_, err := e.Update(ctx, "players", engine.Values{"name": "b"}, "")
			return err
		}(),
		"delete no where": func() error { _, err := e.Delete(ctx, "players", " "); return err }(),
		"upsert no keys": func() error {
			_, err := e.Upsert(ctx, "players", nil, engine.Values{"name": "a"})
			return err
		}(),
		"upsert missing key": func() error {
			_, err := e.Upsert(ctx, "players", []string{"id"}, engine.Values{"name": "a"})
			return err
		}(),
	}
	for name, err := range tests {
		if !errors.Is(err, store.ErrValidation) {
			t.Errorf("%s: got %v, want validation error", name, err)
		}
	}
}

func TestEngine_CRUD(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	if err := e.CreateTable(ctx, "players", playerColumns, false); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	ok, err := e.TableExists(ctx, "players")
	if err != nil || !ok {
		t.Fatalf("TableExists = %v, %v; want true", ok, err)
	}

	id1, err := e.Insert(ctx, "players", engine.Values{"name": "alice", "score": 10})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id2, err := e.Insert(ctx, "players", engine.Values{"name": "bob", "score": 20})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id1 == 0 || id2 <= id1 {
		t.Fatalf("unexpected ids %d, %d", id1, id2)
	}

	rows, err := e.Select(ctx, "players", engine.Query{OrderBy: "score DESC"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 2 || rows[0]["name"] != "bob" {
		t.Fatalf("unexpected rows: %v", rows)
	}

	row, err := e.SelectOne(ctx, "players", engine.Query{
		Columns: []string{"name"},
		Where:   `"id" = ?`,
		Args:    []any{id1},
	})
	if err != nil {
		t.Fatalf("SelectOne: %v", err)
	}
	if row["name"] != "alice" {
		t.Errorf("name = %v, want alice", row["name"])
	}
	if _, ok := row["score"]; ok {
		t.Error("score should not be selected")
	}

	n, err := e.Update(ctx, "players", engine.Values{"score": 15}, "id = ?", id1)
	if err != nil || n != 1 {
		t.Fatalf("Update = %d, %v", n, err)
	}

	type player struct {
		ID    int64  `db:"id"`
		Name  string `db:"name"`
		Score int    `db:"score"`
	}
	var p player
	found, err := e.SelectOneInto(ctx, &p, "players", engine.Query{Where: "id = ?", Args: []any{id1}})
	if err != nil || !found {
		t.Fatalf("SelectOneInto = %v, %v", found, err)
	}
	if p.Score != 15 {
		t.Errorf("score = %d, want 15", p.Score)
	}

	n, err = e.Delete(ctx, "players", "id = ?", id1)
	if err != nil || n != 1 {
		t.Fatalf("Delete = %d, %v", n, err)
	}
	found, err = e.SelectOneInto(ctx, &p, "players", engine.Query{Where: "id = ?", Args: []any{id1}})
	if err != nil || found {
		t.Fatalf("SelectOneInto after delete = %v, %v", found, err)
	}

	none, err := e.Select(ctx, "players", engine.Query{Where: "name = ?", Args: []any{"nobody"}})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", none)
	}
	missing, err := e.SelectOne(ctx, "players", engine.Query{Where: "name = ?", Args: []any{"nobody"}})
	if err != nil || missing != nil {
		t.Errorf("SelectOne = %v, %v; want nil, nil", missing, err)
	}

	var all []player
	if err := e.SelectInto(ctx, &all, "players", engine.Query{OrderBy: "id", Limit: 10}); err != nil {
		t.Fatalf("SelectInto: %v", err)
	}
	if len(all) != 1 || all[0].Name != "bob" {
		t.Errorf("unexpected players: %+v", all)
	}

	if err := e.DropTable(ctx, "players", false); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	ok, err = e.TableExists(ctx, "players")
	if err != nil || ok {
		t.Fatalf("TableExists after drop = %v, %v", ok, err)
	}
}

func TestEngine_InsertMany(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	if err := e.CreateTable(ctx, "players", playerColumns, true); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	n, err := e.InsertMany(ctx, "players", []engine.Values{
		{"name": "a", "score": 1},
		{"name": "b", "score": 2},
		{"name": "c", "score": 3},
	})
	if err != nil || n != 3 {
		t.Fatalf("InsertMany = %d, %v", n, err)
	}

	_, err = e.InsertMany(ctx, "players", []engine.Values{
		{"name": "d", "score": 4},
		{"name": "e"},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Errorf("mismatched rows: got %v, want validation error", err)
	}

	rows, err := e.Select(ctx, "players", engine.Query{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("got %d rows, want 3", len(rows))
	}
}

func TestEngine_Upsert(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	err := e.CreateTable(ctx, "grants", []engine.Column{
		{Name: "team_id", Type: "INTEGER NOT NULL"},
		{Name: "user_id", Type: "INTEGER NOT NULL"},
		{Name: "level", Type: "TEXT"},
	}, true, "PRIMARY KEY (team_id, user_id)")
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	keys := []string{"team_id", "user_id"}
	for _, level := range []string{"low", "high"} {
		if _, err := e.Upsert(ctx, "grants", keys, engine.Values{"team_id": 1, "user_id": 2, "level": level}); err != nil {
			t.Fatalf("Upsert(%s): %v", level, err)
		}
	}

	rows, err := e.Select(ctx, "grants", engine.Query{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0]["level"] != "high" {
		t.Errorf("level = %v, want high", rows[0]["level"])
	}

	// Key-only upsert leaves the existing row alone.
	n, err := e.Upsert(ctx, "grants", keys, engine.Values{"team_id": 1, "user_id": 2})
	if err != nil {
		t.Fatalf("key-only Upsert: %v", err)
	}
	if n != 0 {
		t.Errorf("key-only upsert affected %d rows, want 0", n)
	}
}

func TestEngine_InTxRollback(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	if err := e.CreateTable(ctx, "players", playerColumns, true); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	interrupted := errors.New("interrupted")
	err := e.InTx(ctx, func(tx *engine.Engine) error {
		if _, err := tx.Insert(ctx, "players", engine.Values{"name": "first"}); err != nil {
			return err
		}
		// Nested calls join the outer transaction.
		return tx.InTx(ctx, func(inner *engine.Engine) error {
			if _, err := inner.Insert(ctx, "players", engine.Values{"name": "second"}); err != nil {
				return err
			}
			return interrupted
		})
	})
	if !errors.Is(err, interrupted) {
		t.Fatalf("InTx error = %v, want %v", err, interrupted)
	}

	rows, err := e.Select(ctx, "players", engine.Query{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows after rollback, want 0", len(rows))
	}

	err = e.InTx(ctx, func(tx *engine.Engine) error {
		_, err := tx.Insert(ctx, "players", engine.Values{"name": "kept"})
		return err
	})
	if err != nil {
		t.Fatalf("InTx commit: %v", err)
	}
	rows, _ = e.Select(ctx, "players", engine.Query{})
	if len(rows) != 1 {
		t.Errorf("got %d rows after commit, want 1", len(rows))
	}
}

func TestEngine_InTxPanic(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	if err := e.CreateTable(ctx, "players", playerColumns, true); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = e.InTx(ctx, func(tx *engine.Engine) error {
			if _, err := tx.Insert(ctx, "players", engine.Values{"name": "ghost"}); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	rows, err := e.Select(ctx, "players", engine.Query{})
	if err != nil {
		t.Fatalf("Select after panic: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
}

func TestEngine_DropAllTablesKeepsLogs(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	if _, err := e.Insert(ctx, engine.LogTable, engine.Values{
		"timestamp":   time.Now().UTC(),
		"level":       "INFO",
		"logger_name": "test",
		"message":     "survives reset",
	}); err != nil {
		t.Fatalf("inserting log: %v", err)
	}
	if _, err := e.Insert(ctx, "games", engine.Values{"name": "Halo"}); err != nil {
		t.Fatalf("inserting game: %v", err)
	}

	n, err := e.DropAllTables(ctx)
	if err != nil {
		t.Fatalf("DropAllTables: %v", err)
	}
	if want := len(engine.Schema) - 1; n != want {
		t.Errorf("dropped %d tables, want %d", n, want)
	}

	for _, def := range engine.Schema {
		ok, err := e.TableExists(ctx, def.Name)
		if err != nil {
			t.Fatalf("TableExists(%s): %v", def.Name, err)
		}
		if want := def.Name == engine.LogTable; ok != want {
			t.Errorf("TableExists(%s) = %v, want %v", def.Name, ok, want)
		}
	}

	logs, err := e.Select(ctx, engine.LogTable, engine.Query{})
	if err != nil {
		t.Fatalf("Select logs: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("got %d log rows, want 1", len(logs))
	}

	// Foreign keys are back on: a map pointing at a missing game is rejected.
	if err := e.InitialiseSchema(ctx); err != nil {
		t.Fatalf("InitialiseSchema: %v", err)
	}
	if _, err := e.Insert(ctx, "maps", engine.Values{"name": "Lockout", "mode": "Slayer", "game_id": 999}); err == nil {
		t.Error("expected foreign key violation after DropAllTables")
	}
}

func TestEngine_Reset(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	if _, err := e.Insert(ctx, "games", engine.Values{"name": "Halo"}); err != nil {
		t.Fatalf("inserting game: %v", err)
	}
	if _, err := e.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	rows, err := e.Select(ctx, "games", engine.Query{})
	if err != nil {
		t.Fatalf("Select after reset: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d games after reset, want 0", len(rows))
	}
}

func TestEngine_InitialiseSchemaIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	if err := e.InitialiseSchema(ctx); err != nil {
		t.Fatalf("second InitialiseSchema: %v", err)
	}
}

func TestUse_Disconnects(t *testing.T) {
	ctx := context.Background()
	var held *engine.Engine
	sentinel := errors.New("work failed")

	err := engine.Use(ctx, engine.SQLite, sqliteDSN(t), slog.Default(), func(e *engine.Engine) error {
		held = e
		if !e.Connected() {
			t.Error("expected connected engine inside Use")
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Use error = %v, want %v", err, sentinel)
	}
	if held.Connected() {
		t.Error("engine still connected after Use returned")
	}
	if _, err := held.Select(ctx, "games", engine.Query{}); !errors.Is(err, engine.ErrNotConnected) {
		t.Errorf("Select after Use = %v, want ErrNotConnected", err)
	}
}
