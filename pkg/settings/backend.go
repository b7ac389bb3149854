package settings

import (
	"context"
	"database/sql"
)

// Backend is the durable guild settings table keyed by (guild, key).
// Implementations must be safe for concurrent use.
type Backend interface {
	// UpsertGuildSetting inserts or overwrites the row. An invalid value
	// stores NULL, which marks the setting as disabled.
	UpsertGuildSetting(ctx context.Context, guildID uint64, key string, value sql.NullString) error
	// GuildSetting returns the row value and whether a row exists.
	GuildSetting(ctx context.Context, guildID uint64, key string) (value sql.NullString, found bool, err error)
}
