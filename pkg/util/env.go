package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvFileCandidates returns the .env files LoadEnv reads, in priority order:
// ./.env, then <user config dir>/modbot/.env.
func EnvFileCandidates() []string {
	paths := []string{".env"}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		paths = append(paths, filepath.Join(dir, "modbot", ".env"))
	}
	return paths
}

// LoadEnv populates missing variables from the candidate .env files without
// overwriting anything already set, then returns the value of requiredVar.
// Earlier files win over later ones.
func LoadEnv(requiredVar string) (string, error) {
	return loadEnvFrom(requiredVar, EnvFileCandidates())
}

func loadEnvFrom(requiredVar string, paths []string) (string, error) {
	var tried []string
	for _, p := range paths {
		if info, err := os.Stat(p); err != nil || info.IsDir() {
			continue
		}
		tried = append(tried, p)
		// godotenv.Load will NOT override variables that are already set.
		if err := godotenv.Load(p); err != nil {
			return "", fmt.Errorf("load %s: %w", p, err)
		}
	}

	if v := strings.TrimSpace(os.Getenv(requiredVar)); v != "" {
		return v, nil
	}
	if len(tried) == 0 {
		return "", fmt.Errorf("environment variable %q not set and no .env file found in %v", requiredVar, paths)
	}
	return "", fmt.Errorf("environment variable %q not set; loaded %v", requiredVar, tried)
}

// EnvString returns the trimmed value of name, or def when unset or blank.
func EnvString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// EnvBool reports whether name holds a truthy value (1, true, yes, on).
func EnvBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on", "y":
		return true
	default:
		return false
	}
}

// EnvInt64 parses name as an integer, returning def when unset or invalid.
func EnvInt64(name string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// EnvDuration parses name with time.ParseDuration, returning def when unset
// or invalid.
func EnvDuration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
