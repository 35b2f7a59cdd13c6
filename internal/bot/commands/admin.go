package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/discord-scrim-bot/internal/admin"
	"github.com/jensholdgaard/discord-scrim-bot/internal/authz"
	"github.com/jensholdgaard/discord-scrim-bot/internal/catalog"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
)

func (h *Handlers) adminCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, req authz.Requester, inv invocation) error {
	switch inv.name {
	case "add-user":
		u := inv.user(i, "user")
		if u == nil {
			return admin.ErrNotAdmin
		}
		if _, err := h.admin.AddUser(ctx, req, u.ID, displayName(u)); err != nil {
			return err
		}
		reply(s, i, fmt.Sprintf("✅ <@%s> is now a bot admin.", u.ID))

	case "add-role":
		role := inv.id("role")
		if _, err := h.admin.AddRole(ctx, req, role); err != nil {
			return err
		}
		reply(s, i, fmt.Sprintf("✅ <@&%s> members are now bot admins on this server.", role))

	case "remove-user":
		u := inv.user(i, "user")
		if u == nil {
			return admin.ErrNotAdmin
		}
		if err := h.admin.RemoveUser(ctx, req, u.ID); err != nil {
			return err
		}
		reply(s, i, fmt.Sprintf("✅ <@%s> is no longer a bot admin.", u.ID))

	case "remove-role":
		role := inv.id("role")
		if err := h.admin.RemoveRole(ctx, req, role); err != nil {
			return err
		}
		reply(s, i, fmt.Sprintf("✅ <@&%s> is no longer a bot admin role.", role))

	case "list":
		grants, err := h.admin.List(ctx, req)
		if err != nil {
			return err
		}
		respondData(s, i, &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{adminsEmbed(grants)},
			Flags:  discordgo.MessageFlagsEphemeral,
		})

	case "reset":
		c, err := h.admin.RequestReset(ctx, req)
		if err != nil {
			return err
		}
		h.sendPrompt(s, i, c.Snapshot())

	default:
		return errUnknownCommand
	}
	return nil
}

func adminsEmbed(grants []store.AdminConfig) *discordgo.MessageEmbed {
	var users, roles []string
	for _, g := range grants {
		switch g.Scope {
		case store.ScopeUser:
			users = append(users, fmt.Sprintf("<@%s>", deref(g.DiscordUserID)))
		case store.ScopeRole:
			roles = append(roles, fmt.Sprintf("<@&%s> (server %s)", deref(g.DiscordRoleID), deref(g.DiscordServerID)))
		}
	}
	return &discordgo.MessageEmbed{
		Title: "Bot admins",
		Color: colourInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Users", Value: joinOrNone(users)},
			{Name: "Roles", Value: joinOrNone(roles)},
		},
	}
}

func (h *Handlers) games(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, req authz.Requester, inv invocation) error {
	switch inv.name {
	case "add":
		g, err := h.catalog.AddGame(ctx, req, inv.str("name"), inv.str("series"))
		if err != nil {
			return err
		}
		reply(s, i, fmt.Sprintf("✅ Added %s (ID %d).", gameLabel(g), g.ID))

	case "list":
		list, err := h.catalog.ListGames(ctx)
		if err != nil {
			return err
		}
		fields := make([]*discordgo.MessageEmbedField, 0, len(list))
		for _, g := range list {
			fields = append(fields, &discordgo.MessageEmbedField{
				Name:   gameLabel(&g),
				Value:  fmt.Sprintf("ID %d", g.ID),
				Inline: true,
			})
		}
		respondEmbed(s, i, listEmbed("Games", fmt.Sprintf("%d game(s)", len(list)), fields, colourInfo))

	case "update":
		g, err := h.catalog.UpdateGame(ctx, req, inv.integer("id"), inv.str("name"), inv.str("series"))
		if err != nil {
			return err
		}
		reply(s, i, fmt.Sprintf("✅ Updated game %d: %s.", g.ID, gameLabel(g)))

	case "delete":
		g, err := h.catalog.DeleteGame(ctx, req, inv.integer("id"))
		if err != nil {
			return err
		}
		reply(s, i, fmt.Sprintf("🗑️ Deleted %s.", gameLabel(g)))

	default:
		return errUnknownCommand
	}
	return nil
}

func gameLabel(g *store.Game) string {
	if g.Series == nil {
		return g.Name
	}
	return fmt.Sprintf("%s (%s)", g.Name, *g.Series)
}

func (h *Handlers) users(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, inv invocation) error {
	var (
		list  []store.User
		title = "Registered users"
	)
	switch inv.name {
	case "list":
		all, err := h.catalog.ListUsers(ctx)
		if err != nil {
			return err
		}
		list = all

	case "search":
		title = "Matching users"
		if u := inv.user(i, "user"); u != nil {
			found, err := h.catalog.FindUser(ctx, u.ID)
			if err != nil {
				return err
			}
			joined, err := h.catalog.UserTeams(ctx, u.ID)
			if err != nil {
				return err
			}
			respondEmbed(s, i, userEmbed(found, joined))
			return nil
		}
		name := inv.str("name")
		if strings.TrimSpace(name) == "" {
			return &store.ValidationError{Field: "search", Reason: "give a user or part of a name"}
		}
		found, err := h.catalog.SearchUsers(ctx, name)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return catalog.ErrUserNotFound
		}
		list = found

	default:
		return errUnknownCommand
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(list))
	for _, u := range list {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   u.Name(u.DiscordID),
			Value:  fmt.Sprintf("<@%s> · joined %s", u.DiscordID, u.CreatedDate.Format("2006-01-02")),
			Inline: true,
		})
	}
	respondEmbed(s, i, listEmbed(title, fmt.Sprintf("%d user(s)", len(list)), fields, colourInfo))
	return nil
}

// userEmbed shows one user's record and the teams they belong to.
func userEmbed(u *store.User, joined []store.Team) *discordgo.MessageEmbed {
	labels := make([]string, len(joined))
	for i := range joined {
		labels[i] = teamLabel(&joined[i])
	}
	teamList := "No teams"
	if len(labels) > 0 {
		teamList = strings.Join(labels, "\n")
	}
	return &discordgo.MessageEmbed{
		Title: "👤 " + u.Name(u.DiscordID),
		Color: colourInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Database ID", Value: fmt.Sprint(u.ID), Inline: true},
			{Name: "Discord ID", Value: u.DiscordID, Inline: true},
			{Name: "Display name", Value: u.Name("Not set"), Inline: true},
			{Name: "Teams", Value: teamList},
			{Name: "Registered", Value: u.CreatedDate.Format("2006-01-02")},
		},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, "\n")
}
