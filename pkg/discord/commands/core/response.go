package core

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// ResponseType selects the prefix and embed color of a reply.
type ResponseType int

const (
	ResponseSuccess ResponseType = iota
	ResponseError
	ResponseWarning
	ResponseInfo
)

const (
	colorSuccess = 0x57F287
	colorError   = 0xED4245
	colorWarning = 0xFEE75C
	colorInfo    = 0x5865F2
)

// Responder sends interaction responses.
type Responder struct {
	session *discordgo.Session
}

func NewResponder(session *discordgo.Session) *Responder {
	return &Responder{session: session}
}

// Success sends an ephemeral success message.
func (r *Responder) Success(i *discordgo.InteractionCreate, message string) error {
	return r.text(i, message, ResponseSuccess, true)
}

// Error sends an ephemeral error message.
func (r *Responder) Error(i *discordgo.InteractionCreate, message string) error {
	return r.text(i, message, ResponseError, true)
}

// PublicError sends an error message visible to the whole channel.
func (r *Responder) PublicError(i *discordgo.InteractionCreate, message string) error {
	return r.text(i, message, ResponseError, false)
}

// Ephemeral sends a plain message only the invoking user sees.
func (r *Responder) Ephemeral(i *discordgo.InteractionCreate, message string) error {
	return r.respond(i, &discordgo.InteractionResponseData{
		Content: message,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

// Embed sends a single embed colored for responseType.
func (r *Responder) Embed(i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, responseType ResponseType, ephemeral bool) error {
	if embed.Color == 0 {
		embed.Color = colorForType(responseType)
	}
	if embed.Timestamp == "" {
		embed.Timestamp = time.Now().Format(time.RFC3339)
	}
	data := &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return r.respond(i, data)
}

func (r *Responder) text(i *discordgo.InteractionCreate, message string, responseType ResponseType, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{Content: formatTextMessage(message, responseType)}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return r.respond(i, data)
}

func (r *Responder) respond(i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) error {
	return r.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}

func formatTextMessage(message string, responseType ResponseType) string {
	switch responseType {
	case ResponseSuccess:
		return "✅ " + message
	case ResponseError:
		return "❌ " + message
	case ResponseWarning:
		return "⚠️ " + message
	case ResponseInfo:
		return "ℹ️ " + message
	default:
		return message
	}
}

func colorForType(responseType ResponseType) int {
	switch responseType {
	case ResponseSuccess:
		return colorSuccess
	case ResponseError:
		return colorError
	case ResponseWarning:
		return colorWarning
	default:
		return colorInfo
	}
}
