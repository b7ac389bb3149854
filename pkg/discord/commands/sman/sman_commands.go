// Package sman provides the /sman slash commands that administrators use
// to configure per-guild settings.
package sman

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/small-frappuccino/modbot/pkg/discord/commands/core"
	"github.com/small-frappuccino/modbot/pkg/settings"
)

// permissionFanout caps concurrent channel permission edits.
const permissionFanout = 4

// RegisterSettingsCommands registers the /sman group.
func RegisterSettingsCommands(router *core.CommandRouter) {
	checker := router.GetPermissionChecker()

	sman := core.NewGroupCommand("sman", "Manage server settings", checker).
		WithDefaultMemberPermissions(discordgo.PermissionAdministrator)

	channels := core.NewGroupCommand("channels", "Configure log channels", checker)
	channels.AddSubCommand(newSnowflakeSetting(
		"moderation-log", "Set the moderation log channel.",
		settings.KeyModerationLogChannel,
		channelOption("The channel that will be the moderation log channel, ignore to disable", discordgo.ChannelTypeGuildText),
	))
	channels.AddSubCommand(newSnowflakeSetting(
		"message-change-log", "Set the message change log channel.",
		settings.KeyMessageChangeLogChannel,
		channelOption("The channel that will be the message change log channel, ignore to disable", discordgo.ChannelTypeGuildText),
	))
	sman.AddSubCommand(channels)

	tempvoice := core.NewGroupCommand("tempvoice", "Configure temporary voice channels", checker)
	tempvoice.AddSubCommand(newSnowflakeSetting(
		"creator-channel", "Set the creator channel for temporary voice.",
		settings.KeyCreatorVoiceChannel,
		channelOption("The channel that will be the creator channel, ignore this to disable", discordgo.ChannelTypeGuildVoice),
	))
	sman.AddSubCommand(tempvoice)

	softban := core.NewGroupCommand("softban", "Configure softban", checker)
	softban.AddSubCommand(newSnowflakeSetting(
		"set-role", "Set role for softban.",
		settings.KeySoftbanRole,
		roleOption("The new softban role, leave blank to disable"),
	))
	softban.AddSubCommand(&softbanSetupCommand{})
	sman.AddSubCommand(softban)

	sman.AddSubCommand(newSnowflakeSetting(
		"flooder-role", "Set the Flooder role for the server.",
		settings.KeyFlooderRole,
		roleOption("Role that will be Flooder role, ignore to unset"),
	))
	sman.AddSubCommand(&showCommand{})

	router.RegisterCommand(sman)
}

func channelOption(description string, channelType discordgo.ChannelType) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         "channel",
		Description:  description,
		ChannelTypes: []discordgo.ChannelType{channelType},
	}
}

func roleOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        "role",
		Description: description,
	}
}

// snowflakeSettingCommand stores the id picked in its single optional option
// under one setting key. Omitting the option disables the setting.
type snowflakeSettingCommand struct {
	name        string
	description string
	key         settings.KeyInfo
	option      *discordgo.ApplicationCommandOption
}

func newSnowflakeSetting(name, description, key string, option *discordgo.ApplicationCommandOption) *snowflakeSettingCommand {
	info, ok := settings.LookupKey(key)
	if !ok {
		panic("settings commands: unknown setting key " + key)
	}
	return &snowflakeSettingCommand{name: name, description: description, key: info, option: option}
}

func (c *snowflakeSettingCommand) Name() string { return c.name }

func (c *snowflakeSettingCommand) Description() string { return c.description }

func (c *snowflakeSettingCommand) Options() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{c.option}
}

func (c *snowflakeSettingCommand) RequiresGuild() bool { return true }

func (c *snowflakeSettingCommand) RequiresPermissions() bool { return true }

func (c *snowflakeSettingCommand) Handle(ctx *core.Context) error {
	guildID, err := guildSnowflake(ctx)
	if err != nil {
		return err
	}

	id := core.NewOptionExtractor(ctx.Options).Snowflake(c.option.Name)
	if err := ctx.Settings.SetSnowflake(ctx.Ctx, guildID, c.key.Key, id); err != nil {
		return err
	}

	ctx.Logger.Info("Guild setting updated", "key", c.key.Key, "value", id)
	return core.NewResponder(ctx.Session).Ephemeral(ctx.Interaction, SettingChangedMessage(c.key, id))
}

// SettingChangedMessage is the confirmation shown after a setting changes.
func SettingChangedMessage(key settings.KeyInfo, id string) string {
	if id == "" {
		return fmt.Sprintf("The %s has been disabled.", key.Name)
	}
	return fmt.Sprintf("The %s has been set to %s", key.Name, key.Mention(id))
}

type showCommand struct{}

func (c *showCommand) Name() string { return "show" }

func (c *showCommand) Description() string { return "Show the current server settings." }

func (c *showCommand) Options() []*discordgo.ApplicationCommandOption { return nil }

func (c *showCommand) RequiresGuild() bool { return true }

func (c *showCommand) RequiresPermissions() bool { return true }

func (c *showCommand) Handle(ctx *core.Context) error {
	guildID, err := guildSnowflake(ctx)
	if err != nil {
		return err
	}

	embed := &discordgo.MessageEmbed{Title: "Server settings"}
	for _, key := range settings.KnownKeys {
		value := "Disabled"
		if id, ok := ctx.Settings.Snowflake(ctx.Ctx, guildID, key.Key); ok {
			value = key.Mention(id)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   key.Name,
			Value:  value,
			Inline: true,
		})
	}
	return core.NewResponder(ctx.Session).Embed(ctx.Interaction, embed, core.ResponseInfo, true)
}

// softbanSetupCommand denies the softban role everywhere: on every channel
// without a parent category, on categories, and on channels whose overwrites
// are not synced with their category.
type softbanSetupCommand struct{}

func (c *softbanSetupCommand) Name() string { return "setup-permissions" }

func (c *softbanSetupCommand) Description() string {
	return "Block the softban role from using all channels in this server."
}

func (c *softbanSetupCommand) Options() []*discordgo.ApplicationCommandOption { return nil }

func (c *softbanSetupCommand) RequiresGuild() bool { return true }

func (c *softbanSetupCommand) RequiresPermissions() bool { return true }

func (c *softbanSetupCommand) Handle(ctx *core.Context) error {
	guildID, err := guildSnowflake(ctx)
	if err != nil {
		return err
	}
	roleID, ok := ctx.Settings.Snowflake(ctx.Ctx, guildID, settings.KeySoftbanRole)
	if !ok {
		return core.NewCommandError("The softban role is not configured. Use `/sman softban set-role` first.", true)
	}

	channels, err := ctx.Session.GuildChannels(ctx.GuildID, discordgo.WithContext(ctx.Ctx))
	if err != nil {
		return fmt.Errorf("list guild channels: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx.Ctx)
	g.SetLimit(permissionFanout)
	for _, ch := range channels {
		if ch.ParentID != "" && len(ch.PermissionOverwrites) == 0 {
			continue
		}
		channelID := ch.ID
		g.Go(func() error {
			return ctx.Session.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, 0, discordgo.PermissionAll,
				discordgo.WithContext(gctx))
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("deny softban role: %w", err)
	}

	return core.NewResponder(ctx.Session).Ephemeral(ctx.Interaction,
		fmt.Sprintf("Denied <@&%s> from accessing all channels.", roleID))
}

func guildSnowflake(ctx *core.Context) (uint64, error) {
	if ctx.Settings == nil {
		return 0, core.NewCommandError("Settings are not available right now.", true)
	}
	if err := core.ValidateGuildContext(ctx); err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(ctx.GuildID, 10, 64)
	if err != nil {
		return 0, core.NewValidationError("guild", "Invalid server id")
	}
	return id, nil
}
