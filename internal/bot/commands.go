package bot

import "github.com/bwmarrin/discordgo"

var banDurations = []*discordgo.ApplicationCommandOptionChoice{
	{Name: "1 day", Value: 1440},
	{Name: "3 days", Value: 4320},
	{Name: "7 days", Value: 10080},
	{Name: "14 days", Value: 20160},
	{Name: "30 days", Value: 43200},
	{Name: "60 days", Value: 86400},
	{Name: "90 days", Value: 129600},
	{Name: "180 days", Value: 259200},
	{Name: "1 year", Value: 525600},
}

func permission(p int64) *int64 { return &p }

func memberOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "member",
		Description: description,
		Required:    true,
	}
}

func reasonOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: description,
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	dm := false
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "warn",
			Description:              "Issue a warning to a member",
			DMPermission:             &dm,
			DefaultMemberPermissions: permission(discordgo.PermissionModerateMembers),
			Options: []*discordgo.ApplicationCommandOption{
				memberOption("The member you would like to warn"),
				reasonOption("The reason for the warning"),
			},
		},
		{
			Name:                     "mute",
			Description:              "Give a member the mute role",
			DMPermission:             &dm,
			DefaultMemberPermissions: permission(discordgo.PermissionManageRoles),
			Options: []*discordgo.ApplicationCommandOption{
				memberOption("The member you would like to mute"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "time",
					Description: "How long to mute the member, in minutes",
					MinValue:    floatPtr(1),
				},
				reasonOption("The reason for the mute"),
			},
		},
		{
			Name:                     "unmute",
			Description:              "Remove the mute role from a member",
			DMPermission:             &dm,
			DefaultMemberPermissions: permission(discordgo.PermissionManageRoles),
			Options: []*discordgo.ApplicationCommandOption{
				memberOption("The member you would like to unmute"),
				reasonOption("The reason for the unmute"),
			},
		},
		{
			Name:                     "timeout",
			Description:              "Prevent a member from talking for a while",
			DMPermission:             &dm,
			DefaultMemberPermissions: permission(discordgo.PermissionModerateMembers),
			Options: []*discordgo.ApplicationCommandOption{
				memberOption("The member you would like to time out"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "time",
					Description: "Minutes to time out the member for, 0 to remove a timeout",
					Required:    true,
					MinValue:    floatPtr(0),
					MaxValue:    40320,
				},
				reasonOption("The reason for the timeout"),
			},
		},
		{
			Name:                     "kick",
			Description:              "Remove a member from the server",
			DMPermission:             &dm,
			DefaultMemberPermissions: permission(discordgo.PermissionKickMembers),
			Options: []*discordgo.ApplicationCommandOption{
				memberOption("The member you would like to kick"),
				reasonOption("The reason for the kick"),
			},
		},
		{
			Name:                     "ban",
			Description:              "Prohibit a user from joining the server",
			DMPermission:             &dm,
			DefaultMemberPermissions: permission(discordgo.PermissionBanMembers),
			Options: []*discordgo.ApplicationCommandOption{
				memberOption("The member you would like to ban"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "time",
					Description: "How long to ban the user",
					Choices:     banDurations,
				},
				reasonOption("The reason for the ban"),
			},
		},
		{
			Name:                     "unban",
			Description:              "Allow a banned user to join the server again",
			DMPermission:             &dm,
			DefaultMemberPermissions: permission(discordgo.PermissionBanMembers),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "user",
					Description: "The ID of the user you would like to unban",
					Required:    true,
				},
				reasonOption("The reason for the unban"),
			},
		},
		{
			Name:                     "modstats",
			Description:              "Show moderation totals for the server",
			DMPermission:             &dm,
			DefaultMemberPermissions: permission(discordgo.PermissionModerateMembers),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "days",
					Description: "How many days to look back (default 7)",
					MinValue:    floatPtr(1),
					MaxValue:    365,
				},
			},
		},
		{
			Name:                     "modconfig",
			Description:              "View or change moderation settings",
			DMPermission:             &dm,
			DefaultMemberPermissions: permission(discordgo.PermissionManageServer),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "action_channel",
					Description:  "Channel for moderation reports",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "log_external",
					Description: "Record bans, kicks and timeouts made without Shibe",
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "mute_role",
					Description: "Role given by /mute",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "commands_enabled",
					Description: "Allow moderation commands in this server",
				},
			},
		},
	}
}

func floatPtr(v float64) *float64 { return &v }

func (b *Bot) registerCommands() error {
	commands := commandDefinitions()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
