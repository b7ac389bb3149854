package core

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/modbot/pkg/log"
	"github.com/small-frappuccino/modbot/pkg/settings"
)

// ContextBuilder creates contexts for command execution
type ContextBuilder struct {
	session  *discordgo.Session
	settings *settings.Store
}

func NewContextBuilder(session *discordgo.Session, store *settings.Store) *ContextBuilder {
	return &ContextBuilder{session: session, settings: store}
}

// BuildContext creates a complete context for command execution
func (cb *ContextBuilder) BuildContext(ctx context.Context, i *discordgo.InteractionCreate) *Context {
	userID := extractUserID(i)
	path := GetCommandPath(i)

	return &Context{
		Ctx:         ctx,
		Session:     cb.session,
		Interaction: i,
		Settings:    cb.settings,
		Logger: log.DiscordLogger().With(
			"command", path,
			"guild_id", i.GuildID,
			"user_id", userID,
		),
		GuildID: i.GuildID,
		UserID:  userID,
		Options: i.ApplicationCommandData().Options,
		Path:    path,
	}
}

// extractUserID extracts the user ID from the interaction
func extractUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	} else if i.User != nil {
		return i.User.ID
	}
	return ""
}

func isSubCommandOption(opt *discordgo.ApplicationCommandInteractionDataOption) bool {
	return opt.Type == discordgo.ApplicationCommandOptionSubCommand ||
		opt.Type == discordgo.ApplicationCommandOptionSubCommandGroup
}

// GetSubCommandName returns the first subcommand or group name in options.
func GetSubCommandName(options []*discordgo.ApplicationCommandInteractionDataOption) string {
	if len(options) > 0 && isSubCommandOption(options[0]) {
		return options[0].Name
	}
	return ""
}

// GetSubCommandOptions returns the options of the innermost subcommand.
func GetSubCommandOptions(i *discordgo.InteractionCreate) []*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	for len(options) > 0 && isSubCommandOption(options[0]) {
		options = options[0].Options
	}
	return options
}

// GetCommandPath returns the command name followed by any subcommand names.
func GetCommandPath(i *discordgo.InteractionCreate) string {
	data := i.ApplicationCommandData()
	parts := []string{data.Name}
	options := data.Options
	for len(options) > 0 && isSubCommandOption(options[0]) {
		parts = append(parts, options[0].Name)
		options = options[0].Options
	}
	return strings.Join(parts, " ")
}

func IsSlashCommandInteraction(i *discordgo.InteractionCreate) bool {
	return i.Type == discordgo.InteractionApplicationCommand
}

// ValidateGuildContext validates if the context has the required server information
func ValidateGuildContext(ctx *Context) error {
	if ctx.GuildID == "" {
		return NewCommandError("This command can only be used in a server", true)
	}
	return nil
}
