package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord        DiscordConfig        `yaml:"discord"`
	Database       DatabaseConfig       `yaml:"database"`
	Log            LogConfig            `yaml:"log"`
	Confirm        ConfirmConfig        `yaml:"confirm"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`
	// OwnerID overrides the application owner reported by Discord.
	OwnerID string `yaml:"owner_id"`
	// KeepCommands leaves slash commands registered on shutdown.
	KeepCommands bool `yaml:"keep_commands"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "postgres"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// LogConfig controls console output and the database log sink.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	// Database enables writing records to the logs table.
	Database bool `yaml:"database"`
	// Buffer is the number of records queued for the database sink.
	Buffer int `yaml:"buffer"`
}

// SlogLevel parses Level, falling back to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ConfirmConfig holds the response windows for interactive confirmations.
type ConfirmConfig struct {
	InviteTimeout   time.Duration `yaml:"invite_timeout"`
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
	ResetTimeout    time.Duration `yaml:"reset_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Defaults returns the configuration used before the file and environment
// are applied.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Path:    "./data/scrimbot.db",
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "text",
			Database: true,
			Buffer:   256,
		},
		Confirm: ConfirmConfig{
			InviteTimeout:   48 * time.Hour,
			TransferTimeout: 5 * time.Minute,
			ResetTimeout:    60 * time.Second,
			SweepInterval:   15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "scrimbot",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "scrimbot-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}
}

// Load reads a YAML configuration file from the given path, then applies
// variables from a .env file next to the working directory and the process
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv populates unset environment variables from file. A missing file
// is not an error.
func loadDotEnv(file string) error {
	err := godotenv.Load(file)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", file, err)
}

// applyEnv overrides secrets and deployment specific values from the
// environment.
func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString(&c.Discord.Token, "DISCORD_TOKEN")
	setString(&c.Discord.GuildID, "DISCORD_GUILD_ID")
	setString(&c.Discord.OwnerID, "DISCORD_OWNER_ID")
	setString(&c.Database.Driver, "DATABASE_DRIVER")
	setString(&c.Database.Path, "DATABASE_PATH")
	setString(&c.Database.Password, "DATABASE_PASSWORD")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case "postgres":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlite\" or \"postgres\"", c.Database.Driver)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}

	if c.Confirm.InviteTimeout <= 0 || c.Confirm.TransferTimeout <= 0 || c.Confirm.ResetTimeout <= 0 {
		return errors.New("confirm timeouts must be positive")
	}
	return nil
}
