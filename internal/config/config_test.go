package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "patchbay.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
namespace: "stream-night"
instance_id: "bot-1"
redis:
  url: "redis://cache:6379"
admins: ["Operator", "mod"]
rate_limit:
  user_cooldown: 2s
  system_capacity: 50
  cleanup_interval: 30s
routing:
  store: file
  path: /var/lib/patchbay/routes.json
osc:
  host: "10.0.0.5"
  port: 9000
server:
  port: 9090
overlay:
  enabled: false
analytics:
  database_url: "postgres://localhost/patchbay"
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "stream-night", config.Namespace)
	assert.Equal(t, "bot-1", config.InstanceID)
	assert.Equal(t, "redis://cache:6379", config.Redis.URL)
	assert.Equal(t, []string{"operator", "mod"}, config.Admins)
	assert.Equal(t, 2*time.Second, config.RateLimit.UserCooldown)
	assert.Equal(t, 50, config.RateLimit.SystemCapacity)
	assert.Equal(t, 10, config.RateLimit.SystemRefillRate, "unset fields take defaults")
	assert.Equal(t, 30*time.Second, config.RateLimit.CleanupInterval)
	assert.Equal(t, StoreFile, config.Routing.Store)
	assert.Equal(t, "10.0.0.5", config.OSC.Host)
	assert.Equal(t, 9000, config.OSC.Port)
	assert.Equal(t, 9090, config.Server.Port)
	assert.False(t, config.OverlayEnabled())
	require.NotNil(t, config.Analytics)
	assert.Equal(t, "postgres://localhost/patchbay", config.Analytics.DatabaseURL)
}

func TestLoad_MinimalConfigGetsDefaults(t *testing.T) {
	config, err := Load(writeConfig(t, `version: "1.0"`))
	require.NoError(t, err)

	assert.Equal(t, "default", config.Namespace)
	assert.Equal(t, "redis://localhost:6379", config.Redis.URL)
	assert.Equal(t, StoreRedis, config.Routing.Store)
	assert.Equal(t, 7400, config.OSC.Port)
	assert.Equal(t, 8080, config.Server.Port)
	assert.True(t, config.OverlayEnabled())
	assert.Nil(t, config.Analytics)

	limiter := config.RateLimit.Limiter()
	assert.Equal(t, time.Second, limiter.UserCooldown)
	assert.Equal(t, 100, limiter.SystemCapacity)
	assert.Equal(t, 20, limiter.VariableCapacity)
	assert.Equal(t, 1000, limiter.AdminCapacity)
	assert.Equal(t, 500, limiter.MaxVariableBuckets)
	assert.Equal(t, time.Minute, limiter.CleanupInterval)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/patchbay.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	config, err := Load(writeConfig(t, "version: \"1.0\"\nadmins:\n  - a\n  b: [\n"))
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"unsupported version", Config{Version: "2.0"}, "unsupported version: 2.0"},
		{"missing version", Config{}, "unsupported version"},
		{"bad namespace", Config{Version: Version, Namespace: "Bad_NS"}, "namespace"},
		{"bad instance id", Config{Version: Version, InstanceID: "-x"}, "instance_id"},
		{"empty admin", Config{Version: Version, Admins: []string{" "}}, "admins[0] is empty"},
		{"negative capacity", Config{Version: Version, RateLimit: RateLimitConfig{SystemCapacity: -1}}, "system_capacity must be > 0"},
		{"negative cooldown", Config{Version: Version, RateLimit: RateLimitConfig{UserCooldown: -time.Second}}, "durations must be positive"},
		{"unknown store", Config{Version: Version, Routing: RoutingConfig{Store: "etcd"}}, "invalid routing.store: etcd"},
		{"file store without path", Config{Version: Version, Routing: RoutingConfig{Store: StoreFile}}, "routing.path is required"},
		{"osc port", Config{Version: Version, OSC: OSCConfig{Port: 70000}}, "osc.port out of range"},
		{"server port", Config{Version: Version, Server: ServerConfig{Port: -1}}, "server.port out of range"},
		{"analytics without url", Config{Version: Version, Analytics: &AnalyticsConfig{}}, "analytics.database_url is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefault(t *testing.T) {
	config := Default()
	assert.Equal(t, Version, config.Version)
	assert.Equal(t, "default", config.Namespace)
	assert.True(t, config.OverlayEnabled())
}

func TestIsAdmin(t *testing.T) {
	config := Default()
	config.Admins = []string{"operator"}

	assert.True(t, config.IsAdmin("operator"))
	assert.True(t, config.IsAdmin("OPERATOR"))
	assert.False(t, config.IsAdmin("viewer"))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://env:6380")
	t.Setenv("PATCHBAY_NAMESPACE", "env-ns")
	t.Setenv("PATCHBAY_INSTANCE_ID", "env-1")
	t.Setenv("PATCHBAY_ADMINS", "Alice, bob ,,")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("OSC_HOST", "max.local")
	t.Setenv("OSC_PORT", "7500")

	config := Default()
	require.NoError(t, config.ApplyEnv())

	assert.Equal(t, "redis://env:6380", config.Redis.URL)
	assert.Equal(t, "env-ns", config.Namespace)
	assert.Equal(t, "env-1", config.InstanceID)
	assert.Equal(t, []string{"alice", "bob"}, config.Admins)
	require.NotNil(t, config.Analytics)
	assert.Equal(t, "postgres://env/db", config.Analytics.DatabaseURL)
	assert.Equal(t, "max.local", config.OSC.Host)
	assert.Equal(t, 7500, config.OSC.Port)
}

func TestApplyEnv_InvalidPort(t *testing.T) {
	t.Setenv("OSC_PORT", "not-a-port")

	err := Default().ApplyEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid OSC_PORT")
}
