package config

import (
	"strings"
	"testing"
	"time"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

// TestFromEnvDefaults verifies defaults apply when nothing is set
func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envOf(nil))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Database.Backend != BackendPostgres {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Underwriter.SoftBonusCap != 10 || cfg.Underwriter.Workers != 0 || cfg.Underwriter.CacheTTL != 0 {
		t.Errorf("unexpected underwriting defaults: %+v", cfg.Underwriter)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("postgres without DATABASE_URL should not validate, got %v", err)
	}
}

// TestFromEnvOverrides verifies every variable is read
func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"PORT":                 "9090",
		"STORE_BACKEND":        "Memory",
		"SEED_FILE":            "seed/lenders.yaml",
		"UNDERWRITING_WORKERS": "4",
		"SOFT_BONUS_CAP":       "20",
		"POLICY_CACHE_TTL":     "30s",
	}))
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Database.Backend != BackendMemory || cfg.SeedFile != "seed/lenders.yaml" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Underwriter.Workers != 4 || cfg.Underwriter.SoftBonusCap != 20 || cfg.Underwriter.CacheTTL != 30*time.Second {
		t.Errorf("unexpected underwriting config: %+v", cfg.Underwriter)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected a valid config, got %v", err)
	}
}

// TestFromEnvMalformed verifies unparsable numbers are reported together
func TestFromEnvMalformed(t *testing.T) {
	_, err := FromEnv(envOf(map[string]string{
		"UNDERWRITING_WORKERS": "many",
		"POLICY_CACHE_TTL":     "soon",
	}))
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, key := range []string{"UNDERWRITING_WORKERS", "POLICY_CACHE_TTL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

// TestValidate verifies out-of-range settings are rejected
func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:      ServerConfig{Port: "8080"},
			Database:    DatabaseConfig{Backend: BackendMemory},
			Underwriter: UnderwritingConfig{SoftBonusCap: 10},
		}
	}
	cases := map[string]func(c *Config){
		"backend":  func(c *Config) { c.Database.Backend = "mongo" },
		"port":     func(c *Config) { c.Server.Port = "http" },
		"workers":  func(c *Config) { c.Underwriter.Workers = -1 },
		"bonus":    func(c *Config) { c.Underwriter.SoftBonusCap = 101 },
		"cacheTTL": func(c *Config) { c.Underwriter.CacheTTL = -time.Second },
	}
	for name, mutate := range cases {
		c := base()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", name)
		}
	}
	if err := base().Validate(); err != nil {
		t.Errorf("base config should validate: %v", err)
	}
}
