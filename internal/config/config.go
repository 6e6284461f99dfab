// Package config loads patchbay.yml.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/patchbay/internal/instance"
	"github.com/dyluth/patchbay/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// Version is the only supported config schema version.
const Version = "1.0"

// Routing store kinds.
const (
	StoreRedis = "redis"
	StoreFile  = "file"
)

// Config represents the top-level patchbay.yml configuration
type Config struct {
	Version    string           `yaml:"version"`
	Namespace  string           `yaml:"namespace"`             // Shared by every instance of a deployment
	InstanceID string           `yaml:"instance_id,omitempty"` // Generated when empty
	Redis      RedisConfig      `yaml:"redis"`
	Admins     []string         `yaml:"admins,omitempty"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Routing    RoutingConfig    `yaml:"routing"`
	OSC        OSCConfig        `yaml:"osc"`
	Server     ServerConfig     `yaml:"server"`
	Overlay    OverlayConfig    `yaml:"overlay"`
	Analytics  *AnalyticsConfig `yaml:"analytics,omitempty"`
}

// RedisConfig locates the coordination Redis.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// RateLimitConfig tunes the hybrid limiter. Refill rates are tokens per second.
type RateLimitConfig struct {
	UserCooldown       time.Duration `yaml:"user_cooldown"`
	SystemCapacity     int           `yaml:"system_capacity"`
	SystemRefillRate   int           `yaml:"system_refill_rate"`
	VariableCapacity   int           `yaml:"variable_capacity"`
	VariableRefillRate int           `yaml:"variable_refill_rate"`
	AdminCapacity      int           `yaml:"admin_capacity"`
	AdminRefillRate    int           `yaml:"admin_refill_rate"`
	MaxVariableBuckets int           `yaml:"max_variable_buckets"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
}

// CatalogConfig points at catalog files. Empty paths use the built-in catalogs.
type CatalogConfig struct {
	Modules string `yaml:"modules,omitempty"`
	Outputs string `yaml:"outputs,omitempty"`
}

// RoutingConfig selects where the routing table is persisted.
type RoutingConfig struct {
	Store string `yaml:"store"`          // "redis" (default) or "file"
	Path  string `yaml:"path,omitempty"` // Required for "file"
}

// OSCConfig locates the patch host. An empty host logs instead of sending.
type OSCConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// OverlayConfig configures the overlay hub.
type OverlayConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"` // Default true
}

// AnalyticsConfig enables the PostgreSQL command log.
type AnalyticsConfig struct {
	DatabaseURL string `yaml:"database_url"`
	Buffer      int    `yaml:"buffer,omitempty"`
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	c := &Config{Version: Version}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return c
}

// Load reads and validates patchbay.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate applies defaults and performs strict validation.
func (c *Config) Validate() error {
	if c.Version != Version {
		return fmt.Errorf("unsupported version: %s (expected: %s)", c.Version, Version)
	}

	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if err := instance.ValidateName(c.Namespace); err != nil {
		return fmt.Errorf("namespace: %w", err)
	}
	if c.InstanceID != "" {
		if err := instance.ValidateName(c.InstanceID); err != nil {
			return fmt.Errorf("instance_id: %w", err)
		}
	}

	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379"
	}

	for i, admin := range c.Admins {
		c.Admins[i] = strings.ToLower(strings.TrimSpace(admin))
		if c.Admins[i] == "" {
			return fmt.Errorf("admins[%d] is empty", i)
		}
	}

	if err := c.RateLimit.validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}

	switch c.Routing.Store {
	case "":
		c.Routing.Store = StoreRedis
	case StoreRedis:
	case StoreFile:
		if c.Routing.Path == "" {
			return fmt.Errorf("routing.path is required when routing.store is '%s'", StoreFile)
		}
	default:
		return fmt.Errorf("invalid routing.store: %s (must be '%s' or '%s')", c.Routing.Store, StoreRedis, StoreFile)
	}

	if c.OSC.Port == 0 {
		c.OSC.Port = 7400
	}
	if c.OSC.Port < 1 || c.OSC.Port > 65535 {
		return fmt.Errorf("osc.port out of range: %d", c.OSC.Port)
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	if c.Overlay.Enabled == nil {
		enabled := true
		c.Overlay.Enabled = &enabled
	}

	if c.Analytics != nil {
		if c.Analytics.DatabaseURL == "" {
			return fmt.Errorf("analytics.database_url is required when analytics is configured")
		}
		if c.Analytics.Buffer < 0 {
			return fmt.Errorf("analytics.buffer must be >= 0, got %d", c.Analytics.Buffer)
		}
	}

	return nil
}

func (r *RateLimitConfig) validate() error {
	def := ratelimit.DefaultConfig()

	if r.UserCooldown == 0 {
		r.UserCooldown = def.UserCooldown
	}
	if r.CleanupInterval == 0 {
		r.CleanupInterval = def.CleanupInterval
	}
	if r.UserCooldown < 0 || r.CleanupInterval < 0 {
		return fmt.Errorf("durations must be positive")
	}

	ints := []struct {
		name  string
		value *int
		def   int
	}{
		{"system_capacity", &r.SystemCapacity, def.SystemCapacity},
		{"system_refill_rate", &r.SystemRefillRate, def.SystemRefillRate},
		{"variable_capacity", &r.VariableCapacity, def.VariableCapacity},
		{"variable_refill_rate", &r.VariableRefillRate, def.VariableRefillRate},
		{"admin_capacity", &r.AdminCapacity, def.AdminCapacity},
		{"admin_refill_rate", &r.AdminRefillRate, def.AdminRefillRate},
		{"max_variable_buckets", &r.MaxVariableBuckets, def.MaxVariableBuckets},
	}
	for _, f := range ints {
		if *f.value == 0 {
			*f.value = f.def
		}
		if *f.value < 0 {
			return fmt.Errorf("%s must be > 0, got %d", f.name, *f.value)
		}
	}
	return nil
}

// Limiter converts the rate limit section for the limiter.
func (r RateLimitConfig) Limiter() ratelimit.Config {
	return ratelimit.Config{
		UserCooldown:       r.UserCooldown,
		SystemCapacity:     r.SystemCapacity,
		SystemRefillRate:   r.SystemRefillRate,
		VariableCapacity:   r.VariableCapacity,
		VariableRefillRate: r.VariableRefillRate,
		AdminCapacity:      r.AdminCapacity,
		AdminRefillRate:    r.AdminRefillRate,
		MaxVariableBuckets: r.MaxVariableBuckets,
		CleanupInterval:    r.CleanupInterval,
	}
}

// IsAdmin reports whether user is a configured admin (case-insensitive).
func (c *Config) IsAdmin(user string) bool {
	user = strings.ToLower(user)
	for _, admin := range c.Admins {
		if admin == user {
			return true
		}
	}
	return false
}

// OverlayEnabled returns the overlay default.
func (c *Config) OverlayEnabled() bool {
	return c.Overlay.Enabled == nil || *c.Overlay.Enabled
}

// ApplyEnv overrides fields from the environment and revalidates:
// REDIS_URL, PATCHBAY_NAMESPACE, PATCHBAY_INSTANCE_ID, PATCHBAY_ADMINS
// (comma separated), DATABASE_URL, OSC_HOST, OSC_PORT.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("REDIS_URL"); ok && v != "" {
		c.Redis.URL = v
	}
	if v, ok := os.LookupEnv("PATCHBAY_NAMESPACE"); ok && v != "" {
		c.Namespace = v
	}
	if v, ok := os.LookupEnv("PATCHBAY_INSTANCE_ID"); ok && v != "" {
		c.InstanceID = v
	}
	if v, ok := os.LookupEnv("PATCHBAY_ADMINS"); ok && v != "" {
		c.Admins = c.Admins[:0]
		for _, admin := range strings.Split(v, ",") {
			if admin = strings.TrimSpace(admin); admin != "" {
				c.Admins = append(c.Admins, admin)
			}
		}
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok && v != "" {
		if c.Analytics == nil {
			c.Analytics = &AnalyticsConfig{}
		}
		c.Analytics.DatabaseURL = v
	}
	if v, ok := os.LookupEnv("OSC_HOST"); ok && v != "" {
		c.OSC.Host = v
	}
	if v, ok := os.LookupEnv("OSC_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid OSC_PORT %q: %w", v, err)
		}
		c.OSC.Port = port
	}

	return c.Validate()
}
