// Package log provides the process-wide category loggers. Each category writes
// structured records to stderr and, once SetupLogger has run, to its own
// rotated file under the log directory.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Category selects one of the process loggers.
type Category int

const (
	Application Category = iota
	DiscordEvents
	Database
	Errors
)

var categoryFiles = map[Category]string{
	Application:   "application.log",
	DiscordEvents: "discord_events.log",
	Database:      "database.log",
	Errors:        "error.log",
}

const (
	EnvLogDir   = "MODBOT_LOG_DIR"
	EnvLogLevel = "MODBOT_LOG_LEVEL"
)

// Options configures SetupLogger. Zero values take their defaults.
type Options struct {
	Dir        string
	Level      slog.Level
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stderr overrides the console writer. Tests pass io.Discard.
	Stderr io.Writer
}

// Logger owns the category loggers and their rotating files.
type Logger struct {
	mu      sync.Mutex
	loggers map[Category]*slog.Logger
	files   []*lumberjack.Logger
}

// GlobalLogger is set by SetupLogger. It is nil until then, and every accessor
// falls back to slog.Default.
var GlobalLogger *Logger

var globalMu sync.RWMutex

// SetupLogger configures the global category loggers from the environment.
func SetupLogger() error {
	level, err := ParseLevel(os.Getenv(EnvLogLevel))
	if err != nil {
		return err
	}
	dir := os.Getenv(EnvLogDir)
	if dir == "" {
		dir = "logs"
	}
	return SetupLoggerWithOptions(Options{Dir: dir, Level: level})
}

// SetupLoggerWithOptions configures the global category loggers.
func SetupLoggerWithOptions(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}

	globalMu.Lock()
	prev := GlobalLogger
	GlobalLogger = l
	globalMu.Unlock()

	if prev != nil {
		_ = prev.Sync()
	}
	return nil
}

// New builds a Logger without installing it globally.
func New(opts Options) (*Logger, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 20
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = 28
	}
	console := opts.Stderr
	if console == nil {
		console = os.Stderr
	}

	l := &Logger{loggers: make(map[Category]*slog.Logger, len(categoryFiles))}
	for cat, name := range categoryFiles {
		file := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, name),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		l.files = append(l.files, file)

		h := slog.NewJSONHandler(io.MultiWriter(console, file), &slog.HandlerOptions{Level: opts.Level})
		l.loggers[cat] = slog.New(h).With("category", categoryName(cat))
	}
	return l, nil
}

// Logger returns the logger for cat.
func (l *Logger) Logger(cat Category) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	if lg, ok := l.loggers[cat]; ok {
		return lg
	}
	return slog.Default()
}

// Sync closes the rotating files. Later writes reopen them.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func current(cat Category) *slog.Logger {
	globalMu.RLock()
	l := GlobalLogger
	globalMu.RUnlock()
	return l.Logger(cat)
}

func ApplicationLogger() *slog.Logger { return current(Application) }
func DiscordLogger() *slog.Logger     { return current(DiscordEvents) }
func DatabaseLogger() *slog.Logger    { return current(Database) }
func ErrorLoggerRaw() *slog.Logger    { return current(Errors) }

// ParseLevel maps debug, info, warn and error to slog levels. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid %s %q", EnvLogLevel, s)
	}
}

func categoryName(cat Category) string {
	switch cat {
	case DiscordEvents:
		return "discord"
	case Database:
		return "database"
	case Errors:
		return "error"
	default:
		return "application"
	}
}
