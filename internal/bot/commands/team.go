package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/discord-scrim-bot/internal/authz"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/teams"
)

func (h *Handlers) team(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, req authz.Requester, inv invocation) error {
	teamID := inv.integer("team")

	switch inv.name {
	case "create":
		t, err := h.teams.Create(ctx, req, inv.str("name"), inv.str("tag"))
		if err != nil {
			return err
		}
		announce(s, i, fmt.Sprintf("✅ Team %s created. <@%s> is the owner.", teamLabel(t), req.DiscordID))

	case "members":
		t, err := h.teams.Get(ctx, i.GuildID, teamID)
		if err != nil {
			return err
		}
		members, err := h.teams.Members(ctx, i.GuildID, teamID)
		if err != nil {
			return err
		}
		respondEmbed(s, i, membersEmbed(t, members))

	case "invite":
		u := inv.user(i, "user")
		if u == nil {
			return teams.ErrNotRegistered
		}
		c, err := h.teams.Invite(ctx, req, teamID, teams.Member{DiscordID: u.ID, DisplayName: displayName(u)})
		if err != nil {
			return err
		}
		h.sendInvite(ctx, s, i, c.Snapshot())

	case "edit":
		t, err := h.teams.Edit(ctx, req, teamID, inv.str("name"), inv.str("tag"))
		if err != nil {
			return err
		}
		reply(s, i, fmt.Sprintf("✅ Team updated: %s.", teamLabel(t)))

	case "leave":
		if err := h.teams.Leave(ctx, req, teamID); err != nil {
			return err
		}
		reply(s, i, "✅ You left the team.")

	case "remove":
		u := inv.user(i, "user")
		if u == nil {
			return teams.ErrNotMember
		}
		if err := h.teams.Remove(ctx, req, teamID, u.ID); err != nil {
			return err
		}
		reply(s, i, fmt.Sprintf("✅ <@%s> was removed from the team.", u.ID))

	case "owner":
		u := inv.user(i, "user")
		if u == nil {
			return teams.ErrNotRegistered
		}
		c, err := h.teams.RequestTransfer(ctx, req, teamID, u.ID)
		if err != nil {
			return err
		}
		h.sendPrompt(s, i, c.Snapshot())

	default:
		return errUnknownCommand
	}
	return nil
}

func (h *Handlers) listTeams(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, req authz.Requester, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) error {
	inv := invocation{opts: opts}
	f := teams.ListFilter{
		Search:        strings.TrimSpace(inv.str("search")),
		League:        strings.TrimSpace(inv.str("league")),
		UserDiscordID: inv.id("user"),
	}
	list, err := h.teams.List(ctx, req, f)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		reply(s, i, "No teams found.")
		return nil
	}

	shown := list
	if len(shown) > maxEmbedFields {
		shown = shown[:maxEmbedFields]
	}
	summaries, err := h.teams.Summarize(ctx, shown)
	if err != nil {
		return err
	}
	respondEmbed(s, i, teamsEmbed(summaries, len(list), f, i.GuildID == ""))
	return nil
}

// teamsEmbed renders summaries, the first of total matching teams.
func teamsEmbed(summaries []teams.Summary, total int, f teams.ListFilter, dm bool) *discordgo.MessageEmbed {
	title := "📋 Teams"
	if dm {
		title = "📋 Your Teams"
	}
	if f.League != "" {
		title += " in " + f.League
	}
	if f.UserDiscordID != "" {
		title += fmt.Sprintf(" with <@%s>", f.UserDiscordID)
	}
	if f.Search != "" {
		title += fmt.Sprintf(" matching '%s'", f.Search)
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(summaries))
	for _, sum := range summaries {
		owner := "Unknown"
		if sum.Owner != nil {
			owner = fmt.Sprintf("<@%s>", sum.Owner.DiscordID)
		}
		leagues := "No leagues"
		if len(sum.Leagues) > 0 {
			leagues = "Leagues: " + strings.Join(sum.Leagues, ", ")
		}
		value := fmt.Sprintf("Owner: %s\nMembers: %d\n%s\nID: %d", owner, sum.MemberCount, leagues, sum.Team.ID)
		if dm {
			value += "\nServer: " + sum.Team.DiscordServer
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   teamLabel(&sum.Team),
			Value:  value,
			Inline: true,
		})
	}

	e := listEmbed(title, fmt.Sprintf("%d team(s)", total), fields, colourInfo)
	if total > len(summaries) {
		e.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Showing first %d of %d", len(summaries), total)}
	}
	return e
}

func membersEmbed(t *store.Team, members []teams.MemberView) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(members))
	for _, m := range members {
		role := "Member"
		switch {
		case m.Owner:
			role = "Owner"
		case m.Captain:
			role = "Captain"
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   m.User.Name(m.User.DiscordID),
			Value:  fmt.Sprintf("%s · <@%s>", role, m.User.DiscordID),
			Inline: true,
		})
	}
	return listEmbed(teamLabel(t), fmt.Sprintf("%d member(s)", len(members)), fields, colourInfo)
}

func teamLabel(t *store.Team) string {
	return fmt.Sprintf("%s [%s]", t.Name, t.Tag)
}

// autocomplete answers the focused "team" option with the teams the caller
// can see.
func (h *Handlers) autocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, span := h.tracer.Start(context.Background(), "Autocomplete")
	defer span.End()

	data := i.ApplicationCommandData()
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		opts = opts[0].Options
	}

	var filter string
	for _, o := range opts {
		if o.Focused {
			filter = fmt.Sprint(o.Value)
		}
	}

	var choices []*discordgo.ApplicationCommandOptionChoice
	list, err := h.teams.VisibleTeams(ctx, requesterFrom(i), filter)
	if err != nil {
		h.logger.WarnContext(ctx, "team autocomplete failed", slog.Any("error", err))
	}
	for _, t := range list {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  teamLabel(&t),
			Value: t.ID,
		})
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	}); err != nil {
		h.logger.WarnContext(ctx, "responding to autocomplete", slog.Any("error", err))
	}
}
