package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/modbot/pkg/errors"
	"github.com/small-frappuccino/modbot/pkg/log"
	"github.com/small-frappuccino/modbot/pkg/settings"
)

// commandTimeout bounds the backend work a single interaction may do.
const commandTimeout = 10 * time.Second

// CommandRouter routes interactions to registered commands.
type CommandRouter struct {
	registry       *CommandRegistry
	contextBuilder *ContextBuilder
	responder      *Responder
	permChecker    *PermissionChecker
	errorHandler   *errors.ErrorHandler
}

func NewCommandRouter(session *discordgo.Session, store *settings.Store) *CommandRouter {
	return &CommandRouter{
		registry:       NewCommandRegistry(),
		contextBuilder: NewContextBuilder(session, store),
		responder:      NewResponder(session),
		permChecker:    NewPermissionChecker(session),
		errorHandler:   errors.NewErrorHandler(),
	}
}

func (cr *CommandRouter) RegisterCommand(cmd Command) {
	cr.registry.Register(cmd)
}

// HandleInteraction is the discordgo handler for InteractionCreate events.
func (cr *CommandRouter) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !IsSlashCommandInteraction(i) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	cr.handleSlashCommand(ctx, i)
}

func (cr *CommandRouter) handleSlashCommand(parent context.Context, i *discordgo.InteractionCreate) {
	ctx := cr.contextBuilder.BuildContext(parent, i)
	commandName := i.ApplicationCommandData().Name

	ctx.Logger.Debug("Processing slash command")

	cmd, exists := cr.registry.GetCommand(commandName)
	if !exists {
		ctx.Logger.Warn("Command not found")
		cr.reply(ctx, cr.responder.Error(i, "Command not found"))
		return
	}

	if cmd.RequiresGuild() && ctx.GuildID == "" {
		ctx.Logger.Warn("Command used outside of guild")
		cr.reply(ctx, cr.responder.Error(i, "This command can only be used in a server"))
		return
	}

	if cmd.RequiresPermissions() && !cr.permChecker.HasPermission(ctx.GuildID, i.Member) {
		ctx.Logger.Warn("User without permission tried to use command")
		cr.reply(ctx, cr.responder.Error(i, "You do not have permission to use this command"))
		return
	}

	ctx.Logger.Info("Executing command")
	if err := cmd.Handle(ctx); err != nil {
		cr.reply(ctx, cr.respondError(ctx, err))
	}
}

// respondError maps a handler error to a user-facing reply.
func (cr *CommandRouter) respondError(ctx *Context, err error) error {
	var cmdErr *CommandError
	if stderrors.As(err, &cmdErr) {
		ctx.Logger.Info("Command rejected", "reason", cmdErr.Message)
		if cmdErr.Ephemeral {
			return cr.responder.Error(ctx.Interaction, cmdErr.Message)
		}
		return cr.responder.PublicError(ctx.Interaction, cmdErr.Message)
	}

	var valErr *ValidationError
	if stderrors.As(err, &valErr) {
		return cr.responder.Error(ctx.Interaction, valErr.Message)
	}

	handled := cr.errorHandler.Handle(ctx.Ctx, err)
	if errors.IsCategory(handled, errors.CategoryStorage) {
		return cr.responder.Error(ctx.Interaction, "Failed to save the setting. Please try again later.")
	}
	return cr.responder.Error(ctx.Interaction, "An error occurred while executing the command")
}

func (cr *CommandRouter) reply(ctx *Context, err error) {
	if err != nil {
		ctx.Logger.Error("Failed to respond to interaction", "err", err)
	}
}

func (cr *CommandRouter) GetSession() *discordgo.Session { return cr.contextBuilder.session }

func (cr *CommandRouter) GetSettings() *settings.Store { return cr.contextBuilder.settings }

func (cr *CommandRouter) GetRegistry() *CommandRegistry { return cr.registry }

func (cr *CommandRouter) GetResponder() *Responder { return cr.responder }

func (cr *CommandRouter) GetPermissionChecker() *PermissionChecker { return cr.permChecker }

// CommandManager owns the router and keeps Discord's global command list in
// sync with it.
type CommandManager struct {
	session *discordgo.Session
	router  *CommandRouter
	logger  *slog.Logger
}

func NewCommandManager(session *discordgo.Session, store *settings.Store) *CommandManager {
	return &CommandManager{
		session: session,
		router:  NewCommandRouter(session, store),
		logger:  log.DiscordLogger().With("component", "command_manager"),
	}
}

func (cm *CommandManager) GetRouter() *CommandRouter {
	return cm.router
}

// SetupCommands installs the interaction handler and creates, updates or
// deletes global commands so Discord matches the registry.
func (cm *CommandManager) SetupCommands() error {
	cm.session.AddHandler(cm.router.HandleInteraction)

	if cm.session.State == nil || cm.session.State.User == nil {
		return fmt.Errorf("session is not ready: missing application user")
	}
	appID := cm.session.State.User.ID

	registered, err := cm.session.ApplicationCommands(appID, "")
	if err != nil {
		return fmt.Errorf("failed to fetch registered commands: %w", err)
	}
	regByName := make(map[string]*discordgo.ApplicationCommand, len(registered))
	for _, rc := range registered {
		regByName[rc.Name] = rc
	}

	codeCommands := cm.router.registry.GetAllCommands()
	created, updated, unchanged := 0, 0, 0
	for name, cmd := range codeCommands {
		desired := ApplicationCommandFor(cmd)

		if existing, ok := regByName[name]; ok {
			if CompareCommands(existing, desired) {
				cm.logger.Debug("Command unchanged, skipping", "command", name)
				unchanged++
				continue
			}
			if _, err := cm.session.ApplicationCommandEdit(appID, "", existing.ID, desired); err != nil {
				return fmt.Errorf("error updating command '%s': %w", name, err)
			}
			cm.logger.Info("Command updated", "command", name)
			updated++
			continue
		}

		if _, err := cm.session.ApplicationCommandCreate(appID, "", desired); err != nil {
			return fmt.Errorf("error creating command '%s': %w", name, err)
		}
		cm.logger.Info("Command created", "command", name)
		created++
	}

	deleted := 0
	for _, rc := range registered {
		if _, exists := codeCommands[rc.Name]; exists {
			continue
		}
		if err := cm.session.ApplicationCommandDelete(appID, "", rc.ID); err != nil {
			cm.logger.Warn("Error removing orphan command", "command", rc.Name, "err", err)
			continue
		}
		cm.logger.Info("Orphan command removed", "command", rc.Name)
		deleted++
	}

	cm.logger.Info("Command synchronization completed",
		"created", created,
		"updated", updated,
		"deleted", deleted,
		"unchanged", unchanged,
		"total", len(codeCommands),
	)
	return nil
}

// ApplicationCommandFor builds the Discord definition of cmd.
func ApplicationCommandFor(cmd Command) *discordgo.ApplicationCommand {
	ac := &discordgo.ApplicationCommand{
		Name:        cmd.Name(),
		Description: cmd.Description(),
		Options:     cmd.Options(),
	}
	if d, ok := cmd.(MemberPermissionDefaults); ok {
		ac.DefaultMemberPermissions = d.DefaultMemberPermissions()
	}
	if cmd.RequiresGuild() {
		contexts := []discordgo.InteractionContextType{discordgo.InteractionContextGuild}
		ac.Contexts = &contexts
	}
	return ac
}

// GroupCommand is a command, or a subcommand group, made of subcommands.
// Nesting a GroupCommand inside another yields a Discord subcommand group.
type GroupCommand struct {
	name               string
	description        string
	subcommands        map[string]SubCommand
	checker            *PermissionChecker
	defaultPermissions *int64
}

func NewGroupCommand(name, description string, checker *PermissionChecker) *GroupCommand {
	return &GroupCommand{
		name:        name,
		description: description,
		subcommands: make(map[string]SubCommand),
		checker:     checker,
	}
}

func (gc *GroupCommand) AddSubCommand(subcmd SubCommand) {
	gc.subcommands[subcmd.Name()] = subcmd
}

// WithDefaultMemberPermissions sets the permissions Discord requires by
// default before showing the command to a member.
func (gc *GroupCommand) WithDefaultMemberPermissions(perms int64) *GroupCommand {
	gc.defaultPermissions = &perms
	return gc
}

func (gc *GroupCommand) DefaultMemberPermissions() *int64 { return gc.defaultPermissions }

func (gc *GroupCommand) Name() string { return gc.name }

func (gc *GroupCommand) Description() string { return gc.description }

// Options lists the subcommands sorted by name so synced definitions are
// stable across restarts.
func (gc *GroupCommand) Options() []*discordgo.ApplicationCommandOption {
	names := make([]string, 0, len(gc.subcommands))
	for name := range gc.subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	options := make([]*discordgo.ApplicationCommandOption, 0, len(names))
	for _, name := range names {
		subcmd := gc.subcommands[name]
		optType := discordgo.ApplicationCommandOptionSubCommand
		if _, nested := subcmd.(*GroupCommand); nested {
			optType = discordgo.ApplicationCommandOptionSubCommandGroup
		}
		options = append(options, &discordgo.ApplicationCommandOption{
			Type:        optType,
			Name:        subcmd.Name(),
			Description: subcmd.Description(),
			Options:     subcmd.Options(),
		})
	}
	return options
}

func (gc *GroupCommand) RequiresGuild() bool {
	for _, subcmd := range gc.subcommands {
		if subcmd.RequiresGuild() {
			return true
		}
	}
	return false
}

func (gc *GroupCommand) RequiresPermissions() bool {
	for _, subcmd := range gc.subcommands {
		if subcmd.RequiresPermissions() {
			return true
		}
	}
	return false
}

// Handle dispatches to the subcommand named by the current option level.
func (gc *GroupCommand) Handle(ctx *Context) error {
	if len(ctx.Options) == 0 || !isSubCommandOption(ctx.Options[0]) {
		return NewCommandError("No subcommand specified", true)
	}
	opt := ctx.Options[0]

	subcmd, exists := gc.subcommands[opt.Name]
	if !exists {
		return NewCommandError("Unknown subcommand", true)
	}

	if subcmd.RequiresGuild() && ctx.GuildID == "" {
		return NewCommandError("This subcommand can only be used in a server", true)
	}
	if subcmd.RequiresPermissions() && (gc.checker == nil || !gc.checker.HasPermission(ctx.GuildID, ctx.Interaction.Member)) {
		return NewCommandError("You don't have permission to use this subcommand", true)
	}

	ctx.Options = opt.Options
	return subcmd.Handle(ctx)
}
