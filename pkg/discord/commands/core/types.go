package core

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/modbot/pkg/settings"
)

// Command is a top-level slash command.
type Command interface {
	Name() string
	Description() string
	Options() []*discordgo.ApplicationCommandOption
	Handle(ctx *Context) error
	RequiresGuild() bool
	RequiresPermissions() bool
}

// SubCommand is a subcommand, or a nested group of subcommands, inside a
// GroupCommand.
type SubCommand interface {
	Name() string
	Description() string
	Options() []*discordgo.ApplicationCommandOption
	Handle(ctx *Context) error
	RequiresGuild() bool
	RequiresPermissions() bool
}

// MemberPermissionDefaults is implemented by commands that set
// default_member_permissions when synced to Discord.
type MemberPermissionDefaults interface {
	DefaultMemberPermissions() *int64
}

// Context carries everything a handler needs for one interaction.
type Context struct {
	Ctx         context.Context
	Session     *discordgo.Session
	Interaction *discordgo.InteractionCreate
	Settings    *settings.Store
	Logger      *slog.Logger
	GuildID     string
	UserID      string
	// Options holds the options at the level of the command being handled.
	// GroupCommand narrows it while descending into subcommands.
	Options []*discordgo.ApplicationCommandInteractionDataOption
	// Path is the invoked command path, e.g. "sman channels moderation-log".
	Path string
}

// CommandRegistry stores commands by name.
type CommandRegistry struct {
	commands map[string]Command
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]Command)}
}

// Register adds cmd, replacing any command with the same name.
func (r *CommandRegistry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

func (r *CommandRegistry) GetCommand(name string) (Command, bool) {
	cmd, exists := r.commands[name]
	return cmd, exists
}

func (r *CommandRegistry) GetAllCommands() map[string]Command {
	return r.commands
}

// CommandError is a failure whose message is safe to show to the user.
type CommandError struct {
	Message   string
	Ephemeral bool
}

func (e *CommandError) Error() string {
	return e.Message
}

func NewCommandError(message string, ephemeral bool) *CommandError {
	return &CommandError{
		Message:   message,
		Ephemeral: ephemeral,
	}
}

// ValidationError reports an invalid or missing option.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
