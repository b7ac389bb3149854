package storage

import (
	"context"
	"database/sql"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// PostgresStore keeps guild settings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn, sizes the pool and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, poolSize int) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(max(1, poolSize/4))
	db.SetConnMaxLifetime(2 * time.Hour)
	db.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) UpsertGuildSetting(ctx context.Context, guildID uint64, key string, value sql.NullString) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guild_settings (guild, key, value) VALUES ($1, $2, $3)
         ON CONFLICT (guild, key) DO UPDATE SET value = EXCLUDED.value`,
		int64(guildID), key, value,
	)
	return errors.Wrapf(err, "upsert guild setting %d/%s", guildID, key)
}

func (s *PostgresStore) GuildSetting(ctx context.Context, guildID uint64, key string) (sql.NullString, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM guild_settings WHERE guild = $1 AND key = $2`,
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

const postgresSchema = `
CREATE TABLE IF NOT EXISTS guild_settings (
  guild BIGINT NOT NULL,
  key   TEXT   NOT NULL,
  value TEXT,
  PRIMARY KEY (guild, key)
);`
