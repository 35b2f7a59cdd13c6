package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensholdgaard/discord-scrim-bot/internal/admin"
	"github.com/jensholdgaard/discord-scrim-bot/internal/authz"
	"github.com/jensholdgaard/discord-scrim-bot/internal/bot"
	"github.com/jensholdgaard/discord-scrim-bot/internal/bot/commands"
	"github.com/jensholdgaard/discord-scrim-bot/internal/catalog"
	"github.com/jensholdgaard/discord-scrim-bot/internal/clock"
	"github.com/jensholdgaard/discord-scrim-bot/internal/config"
	"github.com/jensholdgaard/discord-scrim-bot/internal/confirm"
	"github.com/jensholdgaard/discord-scrim-bot/internal/health"
	"github.com/jensholdgaard/discord-scrim-bot/internal/leader"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/teams"
	"github.com/jensholdgaard/discord-scrim-bot/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/discord-scrim-bot/internal/store/postgres"
	_ "github.com/jensholdgaard/discord-scrim-bot/internal/store/sqlite"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = version
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	// The store logs through a logger without the database sink so that
	// its own writes are never fed back into the logs table.
	baseLogger := tp.NewLogger(cfg.Log, os.Stderr)
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk, baseLogger)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger := baseLogger
	if cfg.Log.Database {
		dbHandler := telemetry.NewDBHandler(repos.Logs, tp.ServiceName, cfg.Log.SlogLevel(), cfg.Log.Buffer)
		if obsErr := dbHandler.Observe(tp.MeterProvider); obsErr != nil {
			baseLogger.WarnContext(ctx, "registering log sink metrics", slog.Any("error", obsErr))
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if closeErr := dbHandler.Close(closeCtx); closeErr != nil {
				baseLogger.Warn("flushing database log sink", slog.Any("error", closeErr))
			}
		}()
		logger = tp.NewLogger(cfg.Log, os.Stderr, dbHandler)
	}
	slog.SetDefault(logger)

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	session, err := bot.NewSession(cfg.Discord)
	if err != nil {
		return err
	}

	resolver := authz.NewResolver(bot.NewOwnerChecker(session, cfg.Discord.OwnerID), tp.TracerProvider)
	confirms := confirm.NewManager(repos.Events, logger, tp.TracerProvider, tp.MeterProvider, clk)
	teamMgr := teams.NewManager(repos, resolver, confirms, cfg.Confirm, logger, tp.TracerProvider)
	adminMgr := admin.NewManager(repos, resolver, confirms, cfg.Confirm, logger, tp.TracerProvider)
	catalogMgr := catalog.NewManager(repos, resolver, logger, tp.TracerProvider)
	handlers := commands.NewHandlers(teamMgr, adminMgr, catalogMgr, confirms, logger, tp.TracerProvider)

	discordBot := bot.New(session, cfg.Discord, handlers, logger)

	healthHandler := health.NewHandler(clk, version,
		health.Checker{Name: "database", Check: repos.Ping},
		health.Checker{Name: "discord", Check: discordBot.Ready},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler())
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting health server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "health server error", slog.Any("error", listenErr))
		}
	}()

	// runBot recovers pending confirmations, connects to Discord and blocks
	// until ctx ends. Only the leader runs it.
	runBot := func(ctx context.Context) error {
		if n, recoverErr := confirms.RecoverPending(ctx); recoverErr != nil {
			logger.ErrorContext(ctx, "confirmation recovery failed", slog.Any("error", recoverErr))
		} else if n > 0 {
			logger.InfoContext(ctx, "recovered pending confirmations", slog.Int("count", n))
		}
		go confirms.Run(ctx, cfg.Confirm.SweepInterval)

		if startErr := discordBot.Start(ctx); startErr != nil {
			return fmt.Errorf("starting bot: %w", startErr)
		}

		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "scrimbot is running", slog.String("version", version))

		<-ctx.Done()
		logger.Info("shutting down...")

		healthHandler.SetReady(false)
		if stopErr := discordBot.Stop(); stopErr != nil {
			logger.Error("bot shutdown error", slog.Any("error", stopErr))
		}
		return nil
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, func(ctx context.Context) {
			if botErr := runBot(ctx); botErr != nil {
				logger.ErrorContext(ctx, "bot failed", slog.Any("error", botErr))
				cancel()
			}
		}, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else if botErr := runBot(ctx); botErr != nil {
		return botErr
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
