package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// OptionExtractor simplifies extraction of options for Discord commands
type OptionExtractor struct {
	options []*discordgo.ApplicationCommandInteractionDataOption
}

func NewOptionExtractor(options []*discordgo.ApplicationCommandInteractionDataOption) *OptionExtractor {
	return &OptionExtractor{options: options}
}

func (e *OptionExtractor) find(name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range e.options {
		if opt.Name == name {
			return opt
		}
	}
	return nil
}

// String extracts a string option by name
func (e *OptionExtractor) String(name string) string {
	if opt := e.find(name); opt != nil && opt.Type == discordgo.ApplicationCommandOptionString {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

// StringRequired extracts a required string option
func (e *OptionExtractor) StringRequired(name string) (string, error) {
	value := e.String(name)
	if value == "" {
		return "", NewValidationError(name, fmt.Sprintf("Option '%s' is required", name))
	}
	return value, nil
}

func (e *OptionExtractor) Bool(name string) bool {
	if opt := e.find(name); opt != nil && opt.Type == discordgo.ApplicationCommandOptionBoolean {
		return opt.BoolValue()
	}
	return false
}

// Snowflake returns the raw id of a channel, role, user or mentionable
// option. Missing options yield "".
func (e *OptionExtractor) Snowflake(name string) string {
	opt := e.find(name)
	if opt == nil {
		return ""
	}
	switch opt.Type {
	case discordgo.ApplicationCommandOptionChannel,
		discordgo.ApplicationCommandOptionRole,
		discordgo.ApplicationCommandOptionUser,
		discordgo.ApplicationCommandOptionMentionable:
		id, _ := opt.Value.(string)
		return id
	}
	return ""
}

func (e *OptionExtractor) HasOption(name string) bool {
	return e.find(name) != nil
}

// PermissionChecker decides who may run administrative commands.
type PermissionChecker struct {
	session *discordgo.Session
}

func NewPermissionChecker(session *discordgo.Session) *PermissionChecker {
	return &PermissionChecker{session: session}
}

// HasPermission reports whether the invoking member is an administrator of
// the guild or its owner. Interactions carry the member's resolved
// permissions, so the owner lookup is only a fallback.
func (pc *PermissionChecker) HasPermission(guildID string, member *discordgo.Member) bool {
	if guildID == "" || member == nil {
		return false
	}
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	if member.User == nil {
		return false
	}
	ownerID, ok := pc.getOwnerID(guildID)
	return ok && ownerID == member.User.ID
}

// getOwnerID resolves the guild owner ID using state, then REST.
func (pc *PermissionChecker) getOwnerID(guildID string) (string, bool) {
	if pc.session == nil {
		return "", false
	}
	if pc.session.State != nil {
		if g, _ := pc.session.State.Guild(guildID); g != nil {
			return g.OwnerID, true
		}
	}
	if g, err := pc.session.Guild(guildID); err == nil && g != nil {
		return g.OwnerID, true
	}
	return "", false
}

// CompareCommands compares two commands to check if they are semantically equal
func CompareCommands(a, b *discordgo.ApplicationCommand) bool {
	type commandShape struct {
		Name                     string                                `json:"name"`
		Description              string                                `json:"description"`
		Options                  []*discordgo.ApplicationCommandOption `json:"options"`
		DefaultMemberPermissions *int64                                `json:"default_member_permissions"`
	}
	ba, _ := json.Marshal(commandShape{a.Name, a.Description, a.Options, a.DefaultMemberPermissions})
	bb, _ := json.Marshal(commandShape{b.Name, b.Description, b.Options, b.DefaultMemberPermissions})
	return string(ba) == string(bb)
}
