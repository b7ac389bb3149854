package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

var errNotInitialized = errors.New("store not initialized")

// SQLiteStore keeps guild settings in an embedded SQLite database.
// It uses modernc.org/sqlite for CGO-less builds.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
}

// NewSQLiteStore creates a store pointing to dbPath. Call Init() before using it.
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath}
}

// Init opens the SQLite database, configures pragmas, and ensures the schema exists.
func (s *SQLiteStore) Init() error {
	if s.db != nil {
		return nil
	}
	if s.dbPath == "" {
		return errors.New("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.dbPath), 0o755); err != nil {
		return errors.Wrap(err, "failed to create db directory")
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return errors.Wrap(err, "open sqlite")
	}
	// Connection pragmas below apply to this single connection only.
	db.SetMaxOpenConns(1)

	// Pragmas for durability and concurrency
	pragmas := []struct{ stmt, what string }{
		{`PRAGMA journal_mode=WAL;`, "set WAL"},
		{`PRAGMA foreign_keys=ON;`, "enable FKs"},
		{`PRAGMA busy_timeout=5000;`, "set busy_timeout"},
		{`PRAGMA synchronous=NORMAL;`, "set synchronous"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return errors.Wrap(err, p.what)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "create schema")
	}

	s.db = db
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}
	return s.db.PingContext(ctx)
}

// UpsertGuildSetting inserts or overwrites the (guild, key) row.
func (s *SQLiteStore) UpsertGuildSetting(ctx context.Context, guildID uint64, key string, value sql.NullString) error {
	if s.db == nil {
		return errNotInitialized
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_settings (guild, key, value) VALUES (?, ?, ?)
         ON CONFLICT(guild, key) DO UPDATE SET value=excluded.value`,
		int64(guildID), key, value,
	)
	return errors.Wrapf(err, "upsert guild setting %d/%s", guildID, key)
}

// GuildSetting returns the row value and whether the row exists.
func (s *SQLiteStore) GuildSetting(ctx context.Context, guildID uint64, key string) (sql.NullString, bool, error) {
	if s.db == nil {
		return sql.NullString{}, false, errNotInitialized
	}
	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM guild_settings WHERE guild=? AND key=?`,
		int64(guildID), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.NullString{}, false, nil
	}
	if err != nil {
		return sql.NullString{}, false, errors.Wrapf(err, "select guild setting %d/%s", guildID, key)
	}
	return value, true, nil
}

// Guild ids are Discord snowflakes stored bit-for-bit in a signed column.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS guild_settings (
  guild INTEGER NOT NULL,
  key   TEXT    NOT NULL,
  value TEXT,
  PRIMARY KEY (guild, key)
);`
