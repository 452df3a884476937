// Package config loads the process-wide configuration once at startup.
//
// Sources are merged with increasing priority: built-in defaults, an
// optional YAML file, then PDIFIN_* environment variables. The resulting
// Config value is immutable and handed to constructors explicitly.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the environment variable prefix, e.g. PDIFIN_AUTH_SECRET.
const EnvPrefix = "PDIFIN_"

// Session ledger backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Logout scopes.
const (
	LogoutToken = "token" // revoke only the presented token's session
	LogoutLogin = "login" // revoke every session minted by the same login
)

// Config is the full configuration surface consumed by the service.
type Config struct {
	ListenAddr string `koanf:"listen_addr"`

	// Storage
	PGDSN          string `koanf:"pg_dsn"`
	RedisAddr      string `koanf:"redis_addr"`
	SessionBackend string `koanf:"session_backend"`

	// Authentication core
	AuthSecret       string        `koanf:"auth_secret"`
	Issuer           string        `koanf:"issuer"`
	AccessTTL        time.Duration `koanf:"access_ttl"`
	RefreshTTL       time.Duration `koanf:"refresh_ttl"`
	MaxLoginAttempts int           `koanf:"max_login_attempts"`
	LockoutDuration  time.Duration `koanf:"lockout_duration"`
	LogoutScope      string        `koanf:"logout_scope"`

	// Login endpoint rate limiting (per client IP)
	LoginRatePerSec int `koanf:"login_rate_per_sec"`
	LoginRateBurst  int `koanf:"login_rate_burst"`

	// Password policy for account provisioning
	PasswordMinLength      int  `koanf:"password_min_length"`
	PasswordRequireUpper   bool `koanf:"password_require_upper"`
	PasswordRequireLower   bool `koanf:"password_require_lower"`
	PasswordRequireDigit   bool `koanf:"password_require_digit"`
	PasswordRequireSpecial bool `koanf:"password_require_special"`
}

func defaults() map[string]any {
	return map[string]any{
		"listen_addr":              ":8080",
		"session_backend":          BackendPostgres,
		"issuer":                   "pdifin",
		"access_ttl":               "30m",
		"refresh_ttl":              "168h",
		"max_login_attempts":       5,
		"lockout_duration":         "15m",
		"logout_scope":             LogoutToken,
		"login_rate_per_sec":       5,
		"login_rate_burst":         10,
		"password_min_length":      8,
		"password_require_upper":   true,
		"password_require_lower":   true,
		"password_require_digit":   true,
		"password_require_special": true,
	}
}

// Load reads configuration from defaults, the optional YAML file at path,
// and PDIFIN_* environment variables, in that order of priority.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// PDIFIN_AUTH_SECRET -> auth_secret; keys are flat by design.
	transform := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("config: auth_secret is required")
	}
	switch c.SessionBackend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("config: unknown session_backend %q", c.SessionBackend)
	}
	if c.SessionBackend == BackendPostgres && strings.TrimSpace(c.PGDSN) == "" {
		return errors.New("config: pg_dsn is required for the postgres backend")
	}
	if c.SessionBackend == BackendRedis && strings.TrimSpace(c.RedisAddr) == "" {
		return errors.New("config: redis_addr is required for the redis backend")
	}
	switch c.LogoutScope {
	case LogoutToken, LogoutLogin:
	default:
		return fmt.Errorf("config: unknown logout_scope %q", c.LogoutScope)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.MaxLoginAttempts < 1 {
		return errors.New("config: max_login_attempts must be at least 1")
	}
	if c.LockoutDuration <= 0 {
		return errors.New("config: lockout_duration must be positive")
	}
	return nil
}
