// Package settings exposes per-guild settings to the rest of the bot. Reads
// go through the partitioned LFU cache and fall back to the backend; writes
// invalidate the cache before touching the backend.
package settings

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/small-frappuccino/modbot/pkg/cache"
	"github.com/small-frappuccino/modbot/pkg/errors"
	"github.com/small-frappuccino/modbot/pkg/log"
	"github.com/small-frappuccino/modbot/pkg/stats"
)

const (
	writeStripes = 64
	// loadTimeout bounds a backend read shared by coalesced callers.
	loadTimeout = 5 * time.Second
)

// Options configures a Store.
type Options struct {
	Stats  stats.Collector
	Logger *slog.Logger
}

// writeStripe serializes cache fills against writes for the keys hashed to it.
// gen changes on every write, so a fill that loaded before a write can detect
// it and drop its result.
type writeStripe struct {
	mu  sync.Mutex
	gen uint64
}

// Store is the read-through, write-through settings façade.
type Store struct {
	backend Backend
	cache   *cache.Partitioned
	stats   stats.Collector
	logger  *slog.Logger

	loads   singleflight.Group
	stripes [writeStripes]writeStripe
}

type loadResult struct {
	value string
	ok    bool
}

// NewStore creates a Store over backend. A nil cache gets the default
// configuration.
func NewStore(backend Backend, c *cache.Partitioned, opts Options) *Store {
	if c == nil {
		c = cache.NewPartitioned(cache.Config{Stats: opts.Stats})
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.DatabaseLogger()
	}
	return &Store{
		backend: backend,
		cache:   c,
		stats:   stats.OrNoop(opts.Stats),
		logger:  logger,
	}
}

// Get returns the value of key for the guild. Absent rows, NULL rows and
// backend failures all report ok=false.
func (s *Store) Get(ctx context.Context, guildID uint64, key string) (string, bool) {
	ck := cache.CacheKey{PartitionID: guildID, Name: key}
	if v, ok := s.cache.Get(ck); ok {
		return v, true
	}

	// The shared load outlives any single caller; each caller only waits
	// as long as its own context allows.
	ch := s.loads.DoChan(flightKey(guildID, key), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.load(loadCtx, ck)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			s.logger.Debug("Guild setting load failed, treating as unset",
				"guild_id", guildID, "key", key, "err", res.Err)
			return "", false
		}
		r := res.Val.(loadResult)
		return r.value, r.ok
	case <-ctx.Done():
		s.logger.Debug("Gave up waiting for guild setting, treating as unset",
			"guild_id", guildID, "key", key, "err", ctx.Err())
		return "", false
	}
}

// load reads one row and fills the cache unless a write to the same key
// started after the read began.
func (s *Store) load(ctx context.Context, ck cache.CacheKey) (loadResult, error) {
	stripe := s.stripeFor(ck.PartitionID, ck.Name)
	stripe.mu.Lock()
	gen := stripe.gen
	stripe.mu.Unlock()

	start := time.Now()
	value, found, err := s.backend.GuildSetting(ctx, ck.PartitionID, ck.Name)
	s.stats.ObserveHistogram(stats.MetricStoreLatency, time.Since(start).Seconds())
	s.stats.IncCounter(stats.MetricStoreLoads, 1)
	if err != nil {
		s.stats.IncCounter(stats.MetricStoreLoadErrors, 1)
		return loadResult{}, err
	}
	if !found || !value.Valid {
		return loadResult{}, nil
	}

	stripe.mu.Lock()
	if stripe.gen == gen {
		s.cache.Insert(ck, value.String)
	}
	stripe.mu.Unlock()
	return loadResult{value: value.String, ok: true}, nil
}

// Set writes key for the guild. A nil value stores the setting as disabled.
// On failure the cache stays invalidated and the returned error is a storage
// ServiceError wrapping the backend error.
func (s *Store) Set(ctx context.Context, guildID uint64, key string, value *string) error {
	ck := cache.CacheKey{PartitionID: guildID, Name: key}
	stripe := s.stripeFor(guildID, key)

	stripe.mu.Lock()
	stripe.gen++
	gen := stripe.gen
	s.cache.Invalidate(ck)
	stripe.mu.Unlock()

	row := sql.NullString{}
	if value != nil {
		row = sql.NullString{String: *value, Valid: true}
	}
	start := time.Now()
	err := s.backend.UpsertGuildSetting(ctx, guildID, key, row)
	s.stats.ObserveHistogram(stats.MetricStoreLatency, time.Since(start).Seconds())
	s.stats.IncCounter(stats.MetricStoreWrites, 1)

	stripe.mu.Lock()
	switch {
	case err != nil:
	case stripe.gen != gen:
		// Another write to a key on this stripe landed meanwhile; its value
		// may be older than ours in the backend.
		s.cache.Invalidate(ck)
	case value != nil:
		s.cache.Insert(ck, *value)
	}
	stripe.gen++
	stripe.mu.Unlock()
	s.loads.Forget(flightKey(guildID, key))

	if err != nil {
		s.stats.IncCounter(stats.MetricStoreWriteErrors, 1)
		return errors.NewServiceError(errors.CategoryStorage, errors.SeverityHigh,
			"settings", "Set", "failed to write guild setting", err).
			WithContext("guild_id", guildID).
			WithContext("key", key)
	}
	return nil
}

// Cache returns the underlying partitioned cache.
func (s *Store) Cache() *cache.Partitioned { return s.cache }

func (s *Store) stripeFor(guildID uint64, key string) *writeStripe {
	h := cache.HashPartition(guildID)
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= cache.FNVPrime64
	}
	return &s.stripes[h%writeStripes]
}

func flightKey(guildID uint64, key string) string {
	return strconv.FormatUint(guildID, 10) + "/" + key
}
