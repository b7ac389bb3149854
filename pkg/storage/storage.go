// Package storage provides the durable guild settings backends.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultPoolSize = 24
)

// GuildSettingsStore is a settings backend that owns a database handle.
type GuildSettingsStore interface {
	UpsertGuildSetting(ctx context.Context, guildID uint64, key string, value sql.NullString) error
	GuildSetting(ctx context.Context, guildID uint64, key string) (sql.NullString, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ GuildSettingsStore = (*SQLiteStore)(nil)
	_ GuildSettingsStore = (*PostgresStore)(nil)
)

// Open returns an initialized store for driver. For sqlite the dsn is a file
// path; for postgres it is a connection URL or keyword string.
func Open(ctx context.Context, driver, dsn string, poolSize int) (GuildSettingsStore, error) {
	switch NormalizeDriver(driver) {
	case DriverSQLite:
		s := NewSQLiteStore(dsn)
		if err := s.Init(); err != nil {
			return nil, err
		}
		return s, nil
	case DriverPostgres:
		return OpenPostgres(ctx, dsn, poolSize)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NormalizeDriver lowercases driver and maps aliases to the Driver constants.
// An empty driver selects SQLite.
func NormalizeDriver(driver string) string {
	switch d := strings.ToLower(strings.TrimSpace(driver)); d {
	case "":
		return DriverSQLite
	case "postgresql":
		return DriverPostgres
	default:
		return d
	}
}
