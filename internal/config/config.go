package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds settings for the server and the command line tools.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Underwriter UnderwritingConfig
	SeedFile    string
}

type ServerConfig struct {
	Port string
	// SlowRequest is the latency above which a request is counted as slow.
	SlowRequest time.Duration
}

type DatabaseConfig struct {
	URL     string
	Backend string
}

type UnderwritingConfig struct {
	// Workers bounds concurrent lender evaluations; 0 means GOMAXPROCS.
	Workers      int
	SoftBonusCap int
	// CacheTTL bounds how long the active-lender snapshot is reused; 0
	// keeps it until policy changes.
	CacheTTL time.Duration
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var errs []error
	atoi := func(key string, def int) int {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, raw))
			return def
		}
		return n
	}
	duration := func(key string, def time.Duration) time.Duration {
		raw := get(key, "")
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a duration", key, raw))
			return def
		}
		return d
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        get("PORT", "8080"),
			SlowRequest: duration("SLOW_REQUEST_THRESHOLD", time.Second),
		},
		Database: DatabaseConfig{
			URL:     get("DATABASE_URL", ""),
			Backend: strings.ToLower(get("STORE_BACKEND", BackendPostgres)),
		},
		Underwriter: UnderwritingConfig{
			Workers:      atoi("UNDERWRITING_WORKERS", 0),
			SoftBonusCap: atoi("SOFT_BONUS_CAP", 10),
			CacheTTL:     duration("POLICY_CACHE_TTL", 0),
		},
		SeedFile: get("SEED_FILE", ""),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q must be %s or %s", c.Database.Backend, BackendPostgres, BackendMemory))
	}
	if p, err := strconv.Atoi(c.Server.Port); err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT %q is not a valid port", c.Server.Port))
	}
	if c.Underwriter.Workers < 0 {
		errs = append(errs, errors.New("UNDERWRITING_WORKERS must not be negative"))
	}
	if c.Underwriter.SoftBonusCap < 0 || c.Underwriter.SoftBonusCap > 100 {
		errs = append(errs, errors.New("SOFT_BONUS_CAP must be between 0 and 100"))
	}
	if c.Underwriter.CacheTTL < 0 {
		errs = append(errs, errors.New("POLICY_CACHE_TTL must not be negative"))
	}
	return errors.Join(errs...)
}
