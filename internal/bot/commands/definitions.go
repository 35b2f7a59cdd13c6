package commands

import "github.com/bwmarrin/discordgo"

func teamOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionInteger,
		Name:         "team",
		Description:  "The team",
		Required:     true,
		Autocomplete: true,
	}
}

func userOption(description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: description,
		Required:    required,
	}
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

func sub(name, description string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     opts,
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	gameID := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "id",
		Description: "Game ID",
		Required:    true,
	}
	role := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        "role",
		Description: "The role",
		Required:    true,
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "team",
			Description: "Create and manage teams",
			Options: []*discordgo.ApplicationCommandOption{
				sub("create", "Create a team you own",
					stringOption("name", "Team name", true),
					stringOption("tag", "Short team tag", true),
				),
				sub("members", "List a team's members", teamOption()),
				sub("invite", "Invite a user to a team", teamOption(), userOption("User to invite", true)),
				sub("edit", "Change a team's name or tag",
					teamOption(),
					stringOption("name", "New team name", false),
					stringOption("tag", "New team tag", false),
				),
				sub("leave", "Leave a team", teamOption()),
				sub("remove", "Remove a member from a team", teamOption(), userOption("Member to remove", true)),
				sub("owner", "Transfer team ownership to a member", teamOption(), userOption("New owner", true)),
			},
		},
		{
			Name:        "teams",
			Description: "List teams on this server, or your own teams in a DM",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("league", "Only teams in this league", false),
				userOption("Only teams this user belongs to", false),
				stringOption("search", "Filter by name or tag", false),
			},
		},
		{
			Name:        "admin",
			Description: "Bot administration (bot owner only)",
			Options: []*discordgo.ApplicationCommandOption{
				sub("add-user", "Make a user a bot admin", userOption("User to promote", true)),
				sub("add-role", "Make a role bot admins on this server", role),
				sub("remove-user", "Revoke a user's bot admin", userOption("User to demote", true)),
				sub("remove-role", "Revoke a role's bot admin", role),
				sub("list", "List bot admins"),
				sub("reset", "Drop and recreate every table except logs"),
			},
		},
		{
			Name:        "games",
			Description: "Manage games",
			Options: []*discordgo.ApplicationCommandOption{
				sub("add", "Add a game",
					stringOption("name", "Game name", true),
					stringOption("series", "Series or franchise", false),
				),
				sub("list", "List games"),
				sub("update", "Update a game",
					gameID,
					stringOption("name", "New name", false),
					stringOption("series", "New series", false),
				),
				sub("delete", "Delete a game", gameID),
			},
		},
		{
			Name:        "users",
			Description: "Browse registered users",
			Options: []*discordgo.ApplicationCommandOption{
				sub("list", "List registered users"),
				sub("search", "Find a registered user",
					userOption("Discord user", false),
					stringOption("name", "Part of a display name", false),
				),
			},
		},
	}
}
