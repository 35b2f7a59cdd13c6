// Package commands defines the slash commands, autocomplete and message
// components, and routes interactions to the domain managers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/discord-scrim-bot/internal/admin"
	"github.com/jensholdgaard/discord-scrim-bot/internal/authz"
	"github.com/jensholdgaard/discord-scrim-bot/internal/catalog"
	"github.com/jensholdgaard/discord-scrim-bot/internal/confirm"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/teams"
	"github.com/jensholdgaard/discord-scrim-bot/internal/telemetry"
)

// Handlers process Discord interactions.
type Handlers struct {
	teams    *teams.Manager
	admin    *admin.Manager
	catalog  *catalog.Manager
	confirms *confirm.Manager
	logger   *slog.Logger
	tracer   trace.Tracer

	// session is set by Bind and used to edit prompts on resolution.
	session *discordgo.Session
	prompts *promptRegistry
}

// NewHandlers creates command handlers.
func NewHandlers(teamMgr *teams.Manager, adminMgr *admin.Manager, catalogMgr *catalog.Manager, confirms *confirm.Manager, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		teams:    teamMgr,
		admin:    adminMgr,
		catalog:  catalogMgr,
		confirms: confirms,
		logger:   logger,
		tracer:   tp.Tracer("github.com/jensholdgaard/discord-scrim-bot/internal/bot/commands"),
		prompts:  newPromptRegistry(),
	}
}

// Bind attaches the session and subscribes to confirmation outcomes so
// prompts are updated when they resolve, including by timeout.
func (h *Handlers) Bind(s *discordgo.Session) {
	h.session = s
	h.confirms.OnResolved(h.onResolved)
}

// InteractionCreate routes slash commands, autocomplete requests and button
// presses.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		h.command(s, i)
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.autocomplete(s, i)
	case discordgo.InteractionMessageComponent:
		h.component(s, i)
	}
}

func (h *Handlers) command(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	sub := subcommand(data.Options)
	ctx, span := h.tracer.Start(context.Background(), "InteractionCreate",
		trace.WithAttributes(
			attribute.String("command", data.Name),
			attribute.String("subcommand", sub.name),
		),
	)
	defer span.End()

	req := requesterFrom(i)
	logger := telemetry.LogWithTrace(ctx, h.logger).With(
		slog.String("command", data.Name),
		slog.String("subcommand", sub.name),
		slog.String("user", req.DiscordID),
	)
	logger.DebugContext(ctx, "command received")

	var err error
	switch data.Name {
	case "team":
		err = h.team(ctx, s, i, req, sub)
	case "teams":
		err = h.listTeams(ctx, s, i, req, sub.opts)
	case "admin":
		err = h.adminCommand(ctx, s, i, req, sub)
	case "games":
		err = h.games(ctx, s, i, req, sub)
	case "users":
		err = h.users(ctx, s, i, sub)
	default:
		err = errUnknownCommand
	}

	if err != nil {
		msg, internal := userMessage(err)
		if internal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.ErrorContext(ctx, "command failed", slog.Any("error", err))
		}
		reply(s, i, msg)
	}
}

var errUnknownCommand = errors.New("unknown command")

// userMessage maps an error to text shown to the user. internal reports
// whether the error is unexpected and worth logging.
func userMessage(err error) (string, bool) {
	known := []error{
		teams.ErrNotRegistered, teams.ErrTeamNotFound, teams.ErrNotAuthorized,
		teams.ErrAlreadyMember, teams.ErrNotMember, teams.ErrOwnerCannotLeave,
		teams.ErrCannotRemoveOwner, teams.ErrAlreadyOwner, teams.ErrSelfTransfer,
		teams.ErrNothingToUpdate, teams.ErrServerOnly,
		teams.ErrLeagueNotFound, teams.ErrUserNotRegistered, teams.ErrLeagueFilterServer,
		admin.ErrNotBotOwner, admin.ErrAlreadyAdmin, admin.ErrNotAdmin,
		admin.ErrCannotRemoveOwner, admin.ErrServerOnly,
		catalog.ErrNotBotOwner, catalog.ErrGameExists, catalog.ErrGameNotFound,
		catalog.ErrUserNotFound, catalog.ErrNothingToUpdate,
		confirm.ErrWrongResponder, confirm.ErrExpired, confirm.ErrResolved, confirm.ErrNotFound,
		errUnknownCommand,
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return "❌ " + capitalize(k.Error()) + ".", false
		}
	}
	if errors.Is(err, store.ErrValidation) || errors.Is(err, confirm.ErrPrecondition) {
		return "❌ " + capitalize(err.Error()) + ".", false
	}
	return "❌ Something went wrong. Please try again later.", true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}

// requesterFrom extracts the caller's identity. Member is set in guilds,
// User in direct messages.
func requesterFrom(i *discordgo.InteractionCreate) authz.Requester {
	r := authz.Requester{GuildID: i.GuildID}
	switch {
	case i.Member != nil && i.Member.User != nil:
		r.DiscordID = i.Member.User.ID
		r.RoleIDs = i.Member.Roles
		r.DisplayName = i.Member.Nick
		if r.DisplayName == "" {
			r.DisplayName = displayName(i.Member.User)
		}
	case i.User != nil:
		r.DiscordID = i.User.ID
		r.DisplayName = displayName(i.User)
	}
	return r
}

func displayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

type invocation struct {
	name string
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption
}

// subcommand returns the invoked subcommand, or the top-level options when
// the command has none.
func subcommand(opts []*discordgo.ApplicationCommandInteractionDataOption) invocation {
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return invocation{name: opts[0].Name, opts: optionMap(opts[0].Options)}
	}
	return invocation{opts: optionMap(opts)}
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (inv invocation) str(name string) string {
	if o, ok := inv.opts[name]; ok {
		return o.StringValue()
	}
	return ""
}

func (inv invocation) integer(name string) int64 {
	if o, ok := inv.opts[name]; ok {
		return o.IntValue()
	}
	return 0
}

// id returns the raw snowflake of a user or role option.
func (inv invocation) id(name string) string {
	if o, ok := inv.opts[name]; ok {
		if s, ok := o.Value.(string); ok {
			return s
		}
	}
	return ""
}

// user resolves a user option from the interaction's resolved data.
func (inv invocation) user(i *discordgo.InteractionCreate, name string) *discordgo.User {
	id := inv.id(name)
	if id == "" {
		return nil
	}
	if r := i.ApplicationCommandData().Resolved; r != nil {
		if u, ok := r.Users[id]; ok {
			return u
		}
	}
	return &discordgo.User{ID: id}
}

func reply(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	respondData(s, i, &discordgo.InteractionResponseData{
		Content: msg,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

func announce(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	respondData(s, i, &discordgo.InteractionResponseData{Content: msg})
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, e *discordgo.MessageEmbed) {
	respondData(s, i, &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{e}})
}

func respondData(s *discordgo.Session, i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

const maxEmbedFields = 25

// listEmbed builds an embed with at most 25 fields and a footer noting
// truncation.
func listEmbed(title, description string, fields []*discordgo.MessageEmbedField, colour int) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       colour,
	}
	if len(fields) > maxEmbedFields {
		e.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Showing first %d of %d", maxEmbedFields, len(fields))}
		fields = fields[:maxEmbedFields]
	}
	e.Fields = fields
	return e
}

const (
	colourInfo    = 0x3498db
	colourSuccess = 0x2ecc71
	colourDanger  = 0xe74c3c
)

// promptRegistry remembers where each confirmation prompt was posted.
type promptRegistry struct {
	mu   sync.Mutex
	refs map[string]promptRef
}

type promptRef struct {
	// interaction is set for prompts sent as an interaction response.
	interaction *discordgo.Interaction
	channelID   string
	messageID   string
}

func newPromptRegistry() *promptRegistry {
	return &promptRegistry{refs: make(map[string]promptRef)}
}

func (p *promptRegistry) put(id string, ref promptRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs[id] = ref
}

// adopt stores ref unless a prompt is already known for id.
func (p *promptRegistry) adopt(id string, ref promptRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.refs[id]; !ok {
		p.refs[id] = ref
	}
}

// update replaces the ref for id if one is still stored.
func (p *promptRegistry) update(id string, ref promptRef) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.refs[id]; ok {
		p.refs[id] = ref
	}
}

func (p *promptRegistry) take(id string) (promptRef, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ref, ok := p.refs[id]
	delete(p.refs, id)
	return ref, ok
}
