package settings

import (
	"context"
	"strconv"
)

// Known guild setting keys.
const (
	KeyModerationLogChannel    = "moderation_log_channel"
	KeyMessageChangeLogChannel = "message_change_log_channel"
	KeyCreatorVoiceChannel     = "creator_voice_channel"
	KeyFlooderRole             = "flooder_role"
	KeySoftbanRole             = "softban_role"
)

// Kind says what a snowflake setting points at.
type Kind int

const (
	KindChannel Kind = iota
	KindRole
)

// KeyInfo describes a known setting for display.
type KeyInfo struct {
	Key  string
	Name string
	Kind Kind
}

// Mention renders id the way Discord formats a reference of this kind.
func (k KeyInfo) Mention(id string) string {
	if k.Kind == KindRole {
		return "<@&" + id + ">"
	}
	return "<#" + id + ">"
}

// KnownKeys lists every setting the bot reads, in display order.
var KnownKeys = []KeyInfo{
	{Key: KeyModerationLogChannel, Name: "moderation log channel", Kind: KindChannel},
	{Key: KeyMessageChangeLogChannel, Name: "message change log channel", Kind: KindChannel},
	{Key: KeyCreatorVoiceChannel, Name: "creator voice channel", Kind: KindChannel},
	{Key: KeyFlooderRole, Name: "Flooder role", Kind: KindRole},
	{Key: KeySoftbanRole, Name: "softban role", Kind: KindRole},
}

// LookupKey returns the description of a known key.
func LookupKey(key string) (KeyInfo, bool) {
	for _, k := range KnownKeys {
		if k.Key == key {
			return k, true
		}
	}
	return KeyInfo{}, false
}

// Snowflake returns the setting as a Discord id. Values that do not parse as
// an id are logged and reported as unset.
func (s *Store) Snowflake(ctx context.Context, guildID uint64, key string) (string, bool) {
	v, ok := s.Get(ctx, guildID, key)
	if !ok {
		return "", false
	}
	if _, err := strconv.ParseUint(v, 10, 64); err != nil {
		s.logger.Warn("Guild setting is not a valid snowflake",
			"guild_id", guildID, "key", key, "value", v)
		return "", false
	}
	return v, true
}

// SetSnowflake stores id under key, or disables the setting when id is empty.
func (s *Store) SetSnowflake(ctx context.Context, guildID uint64, key, id string) error {
	if id == "" {
		return s.Set(ctx, guildID, key, nil)
	}
	return s.Set(ctx, guildID, key, &id)
}
