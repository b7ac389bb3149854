package commands

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/modbot/pkg/discord/commands/core"
	"github.com/small-frappuccino/modbot/pkg/discord/commands/sman"
	"github.com/small-frappuccino/modbot/pkg/log"
	"github.com/small-frappuccino/modbot/pkg/settings"
)

// CommandHandler is the main handler that coordinates all bot commands
type CommandHandler struct {
	session        *discordgo.Session
	settings       *settings.Store
	commandManager *core.CommandManager
}

// NewCommandHandler creates a new CommandHandler instance
func NewCommandHandler(session *discordgo.Session, store *settings.Store) *CommandHandler {
	return &CommandHandler{
		session:        session,
		settings:       store,
		commandManager: core.NewCommandManager(session, store),
	}
}

// RegisterCommands adds every bot command to the router without touching
// Discord.
func (ch *CommandHandler) RegisterCommands() {
	sman.RegisterSettingsCommands(ch.commandManager.GetRouter())
}

// SetupCommands registers all bot commands and syncs them with Discord.
func (ch *CommandHandler) SetupCommands() error {
	log.ApplicationLogger().Info("Setting up bot commands")

	ch.RegisterCommands()

	if err := ch.commandManager.SetupCommands(); err != nil {
		return fmt.Errorf("failed to setup commands: %w", err)
	}

	log.ApplicationLogger().Info("Bot commands setup completed",
		"commands", len(ch.commandManager.GetRouter().GetRegistry().GetAllCommands()))
	return nil
}

// GetCommandManager returns the command manager (for tests or extensions)
func (ch *CommandHandler) GetCommandManager() *core.CommandManager {
	return ch.commandManager
}

// GetSettings returns the settings store commands read and write.
func (ch *CommandHandler) GetSettings() *settings.Store {
	return ch.settings
}
