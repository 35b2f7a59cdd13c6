package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/discord-scrim-bot/internal/bot/commands"
	"github.com/jensholdgaard/discord-scrim-bot/internal/config"
)

// ErrNotReady is reported by Ready until the gateway has delivered READY.
var ErrNotReady = errors.New("discord session not ready")

// NewSession creates a Discord session for the configured token. It does not
// connect.
func NewSession(cfg config.DiscordConfig) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages
	return session, nil
}

// OwnerChecker identifies the bot owner from the Discord application. A
// configured override takes precedence. A successful lookup is cached.
type OwnerChecker struct {
	override string
	fetch    func() (string, error)

	mu    sync.Mutex
	owner string
}

// NewOwnerChecker returns an OwnerChecker backed by the application owner of
// session.
func NewOwnerChecker(session *discordgo.Session, override string) *OwnerChecker {
	return &OwnerChecker{
		override: override,
		fetch: func() (string, error) {
			app, err := session.Application("@me")
			if err != nil {
				return "", err
			}
			if app.Owner == nil {
				return "", errors.New("application has no owner")
			}
			return app.Owner.ID, nil
		},
	}
}

func (o *OwnerChecker) IsBotOwner(_ context.Context, discordID string) (bool, error) {
	if o.override != "" {
		return discordID == o.override, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.owner == "" {
		id, err := o.fetch()
		if err != nil {
			return false, fmt.Errorf("looking up application owner: %w", err)
		}
		o.owner = id
	}
	return discordID == o.owner, nil
}

// Bot wraps the Discord session and command handlers.
type Bot struct {
	session  *discordgo.Session
	cfg      config.DiscordConfig
	logger   *slog.Logger
	handlers *commands.Handlers
	cmds     []*discordgo.ApplicationCommand
}

// New creates a Bot on an existing session.
func New(session *discordgo.Session, cfg config.DiscordConfig, handlers *commands.Handlers, logger *slog.Logger) *Bot {
	return &Bot{
		session:  session,
		cfg:      cfg,
		logger:   logger,
		handlers: handlers,
	}
}

// Start opens the Discord connection and registers slash commands.
func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.InfoContext(ctx, "bot is ready",
			slog.String("user", r.User.Username),
			slog.Int("guilds", len(r.Guilds)),
		)
	})
	b.session.AddHandler(b.handlers.InteractionCreate)
	b.handlers.Bind(b.session)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.cfg.GuildID, commands.SlashCommands())
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	b.cmds = registered

	b.logger.InfoContext(ctx, "slash commands registered",
		slog.Int("count", len(registered)),
		slog.String("guild", b.cfg.GuildID),
	)
	return nil
}

// Stop closes the Discord connection. Registered commands are removed unless
// KeepCommands is set.
func (b *Bot) Stop() error {
	if !b.cfg.KeepCommands {
		for _, cmd := range b.cmds {
			if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
				b.logger.Error("failed to delete command", slog.String("command", cmd.Name), slog.Any("error", err))
			}
		}
	}
	return b.session.Close()
}

// Ready is a readiness check for the gateway connection.
func (b *Bot) Ready(context.Context) error {
	if !b.session.DataReady {
		return ErrNotReady
	}
	return nil
}
