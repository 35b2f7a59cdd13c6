package store_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jensholdgaard/discord-scrim-bot/internal/clock"
	"github.com/jensholdgaard/discord-scrim-bot/internal/config"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"

	// Import drivers so their init() functions register them.
	_ "github.com/jensholdgaard/discord-scrim-bot/internal/store/postgres"
	_ "github.com/jensholdgaard/discord-scrim-bot/internal/store/sqlite"
)

// fakeDriver is a store.Driver that always succeeds without connecting to a DB.
func fakeDriver(_ context.Context, _ config.DatabaseConfig, _ clock.Clock, _ *slog.Logger) (*store.Repositories, error) {
	return &store.Repositories{}, nil
}

func TestOpen(t *testing.T) {
	store.Register("test-driver", fakeDriver)

	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		wantErr bool
	}{
		{
			name: "registered driver succeeds",
			cfg:  config.DatabaseConfig{Driver: "test-driver"},
		},
		{
			name: "sqlite driver opens a file",
			cfg:  config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "scrim.db")},
		},
		{
			name:    "unknown driver fails",
			cfg:     config.DatabaseConfig{Driver: "nonexistent"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repos, err := store.Open(context.Background(), tt.cfg, clock.Real{}, slog.Default())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open(driver=%q) error = %v, wantErr %v", tt.cfg.Driver, err, tt.wantErr)
			}
			if repos != nil && repos.Closer != nil {
				_ = repos.Closer.Close()
			}
		})
	}
}

func TestOpen_PostgresRegistered(t *testing.T) {
	// Nothing listens on this port, so the driver must fail to connect rather
	// than report an unknown driver.
	cfg := config.DatabaseConfig{Driver: "postgres", Host: "127.0.0.1", Port: 1, SSLMode: "disable"}
	_, err := store.Open(context.Background(), cfg, clock.Real{}, slog.Default())
	if err == nil {
		t.Fatal("expected error (no DB running), got nil")
	}
	if strings.Contains(err.Error(), "unknown store driver") {
		t.Errorf("expected connection error, got unknown driver error: %v", err)
	}
}

func TestRepositories_InTxWithoutDriverSupport(t *testing.T) {
	r := &store.Repositories{}
	called := false
	err := r.InTx(context.Background(), func(got *store.Repositories) error {
		called = got == r
		return nil
	})
	if err != nil || !called {
		t.Errorf("InTx = %v, called with same set = %v", err, called)
	}
}
