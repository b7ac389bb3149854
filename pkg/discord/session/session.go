package session

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/modbot/pkg/log"
)

// Intents the bot identifies with. Voice states feed the temporary voice
// creator channel and message content feeds the message change log.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentGuildModeration |
	discordgo.IntentMessageContent

var (
	newSession   = func(token string) (*discordgo.Session, error) { return discordgo.New("Bot " + token) }
	openSession  = func(s *discordgo.Session) error { return s.Open() }
	closeSession = func(s *discordgo.Session) error { return s.Close() }
)

// NewDiscordSession creates a session for token and opens the gateway.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	logger := log.DiscordLogger()

	if token == "" {
		return nil, errors.New("discord bot token is empty")
	}

	s, err := newSession(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	s.Identify.Intents = Intents

	logger.Info("Connecting to Discord")
	if err := openSession(s); err != nil {
		_ = closeSession(s)
		return nil, fmt.Errorf("failed to connect to Discord: %w", err)
	}

	logger.Info("Connected to Discord")
	return s, nil
}
