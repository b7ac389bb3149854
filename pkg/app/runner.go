package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/small-frappuccino/modbot/pkg/cache"
	"github.com/small-frappuccino/modbot/pkg/control"
	"github.com/small-frappuccino/modbot/pkg/discord/commands"
	"github.com/small-frappuccino/modbot/pkg/discord/session"
	"github.com/small-frappuccino/modbot/pkg/log"
	"github.com/small-frappuccino/modbot/pkg/settings"
	promstats "github.com/small-frappuccino/modbot/pkg/stats/prometheus"
	"github.com/small-frappuccino/modbot/pkg/storage"
	"github.com/small-frappuccino/modbot/pkg/util"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvToken         = "MODBOT_TOKEN"
	EnvDBDriver      = "MODBOT_DB_DRIVER"
	EnvDBDSN         = "MODBOT_DB_DSN"
	EnvDBPoolSize    = "MODBOT_DB_POOL_SIZE"
	EnvCacheCapacity = "MODBOT_SETTINGS_CACHE_CAPACITY"
	EnvControlAddr   = "MODBOT_CONTROL_ADDR"
)

const (
	defaultSQLitePath = "data/modbot.db"
	shutdownTimeout   = 30 * time.Second
)

// Config is the runtime configuration of the bot.
type Config struct {
	Token         string
	DBDriver      string
	DBDSN         string
	DBPoolSize    int
	CacheCapacity int
	ControlAddr   string
}

// ConfigFromEnv reads Config from the process environment. Token is left to
// the caller since it goes through the .env fallback.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		DBDriver:      storage.NormalizeDriver(util.EnvString(EnvDBDriver, storage.DriverSQLite)),
		DBDSN:         util.EnvString(EnvDBDSN, ""),
		DBPoolSize:    int(util.EnvInt64(EnvDBPoolSize, storage.DefaultPoolSize)),
		CacheCapacity: int(util.EnvInt64(EnvCacheCapacity, cache.DefaultCapacity)),
		ControlAddr:   util.EnvString(EnvControlAddr, ""),
	}
	if cfg.DBDSN == "" && cfg.DBDriver == storage.DriverSQLite {
		cfg.DBDSN = defaultSQLitePath
	}
	if cfg.CacheCapacity <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", EnvCacheCapacity, cfg.CacheCapacity)
	}
	if cfg.DBPoolSize <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", EnvDBPoolSize, cfg.DBPoolSize)
	}
	return cfg, nil
}

// formatStartupMessage names the app and its version, adding the modbot
// version only when the two differ.
func formatStartupMessage(appName, appVersion, coreVersion string) string {
	appName = strings.TrimSpace(appName)
	appVersion = strings.TrimSpace(appVersion)
	coreVersion = strings.TrimSpace(coreVersion)

	switch {
	case appVersion == "":
		return fmt.Sprintf("Starting %s (modbot %s)", appName, coreVersion)
	case appVersion == coreVersion:
		return fmt.Sprintf("Starting %s %s", appName, appVersion)
	default:
		return fmt.Sprintf("Starting %s %s (modbot %s)", appName, appVersion, coreVersion)
	}
}

// services holds everything that does not need a Discord connection.
type services struct {
	db       storage.GuildSettingsStore
	registry *prometheus.Registry
	settings *settings.Store
	control  *control.Server
}

func newServices(ctx context.Context, cfg Config) (*services, error) {
	db, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN, cfg.DBPoolSize)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := promstats.New(registry)
	settingsCache := cache.NewPartitioned(cache.Config{
		Capacity: cfg.CacheCapacity,
		Stats:    collector,
	})
	store := settings.NewStore(db, settingsCache, settings.Options{Stats: collector})

	return &services{
		db:       db,
		registry: registry,
		settings: store,
		control:  control.NewServer(cfg.ControlAddr, store, db, registry),
	}, nil
}

func (s *services) close(ctx context.Context) {
	if err := s.control.Stop(ctx); err != nil {
		log.ErrorLoggerRaw().Error("Control server did not stop cleanly", "err", err)
	}
	if err := s.db.Close(); err != nil {
		log.ErrorLoggerRaw().Error("Failed to close settings database", "err", err)
	}
}

// Run bootstraps the bot and blocks until SIGINT or SIGTERM.
// tokenEnv is read from the environment first, then from the .env candidates.
func Run(appName, tokenEnv string) error {
	started := time.Now()

	token, loadErr := util.LoadEnv(tokenEnv)

	if err := log.SetupLogger(); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer log.GlobalLogger.Sync()
	logger := log.ApplicationLogger()

	if loadErr != nil {
		logger.Warn("Environment not fully loaded", "err", loadErr)
	}
	if token == "" {
		return fmt.Errorf("%s not set in environment or .env file", tokenEnv)
	}

	cfg, err := ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg.Token = token

	logger.Info(formatStartupMessage(appName, AppVersion(), Version), "db_driver", cfg.DBDriver)

	ctx := context.Background()
	svc, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		svc.close(shutdownCtx)
	}

	discordSession, err := session.NewDiscordSession(cfg.Token)
	if err != nil {
		shutdown()
		return fmt.Errorf("create discord session: %w", err)
	}
	if discordSession.State == nil || discordSession.State.User == nil {
		_ = discordSession.Close()
		shutdown()
		return fmt.Errorf("discord session state not properly initialized")
	}
	log.DiscordLogger().Info("Authenticated", "user", discordSession.State.User.Username)

	commandHandler := commands.NewCommandHandler(discordSession, svc.settings)
	if err := commandHandler.SetupCommands(); err != nil {
		_ = discordSession.Close()
		shutdown()
		return fmt.Errorf("configure slash commands: %w", err)
	}

	if err := svc.control.Start(); err != nil {
		_ = discordSession.Close()
		shutdown()
		return fmt.Errorf("start control server: %w", err)
	}

	logger.Info("Initialized", "app", appName, "elapsed", time.Since(started).Round(time.Millisecond))
	logger.Info("Running. Press Ctrl+C to stop", "app", appName)

	util.WaitForInterrupt(ctx, nil)
	logger.Info("Stopping", "app", appName)

	if err := discordSession.Close(); err != nil {
		log.ErrorLoggerRaw().Error("Failed to close Discord session", "err", err)
	}
	shutdown()
	return nil
}
