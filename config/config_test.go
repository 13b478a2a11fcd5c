package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost:6379", cfg.Bus.Endpoint)
	assert.Equal(t, 500*time.Millisecond, cfg.Bus.ReconnectInitial)
	assert.Equal(t, 30*time.Second, cfg.Bus.ReconnectMax)

	assert.Equal(t, 60*time.Second, cfg.Registry.AdvertisementTTL)

	assert.Equal(t, 15*time.Second, cfg.Lifecycle.SpawnTimeout)
	assert.Equal(t, 3, cfg.Lifecycle.UnhealthyThreshold)

	assert.Equal(t, 8, cfg.Coordinator.InFlightCap)
	assert.Equal(t, "best-effort", cfg.Coordinator.FailurePolicy)

	assert.Equal(t, 0.2, cfg.Knowledge.IngestionFloor)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, Validate(cfg))
}

func TestLoaderLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Bus.Endpoint)
	assert.Equal(t, 8, cfg.Coordinator.InFlightCap)
}

func TestLoaderLoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
bus:
  endpoint: "redis.example.com:6379"
  reconnect_max: 45s

coordinator:
  in_flight_cap: 16
  failure_policy: "strict"

knowledge:
  ingestion_floor: 0.3

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "redis.example.com:6379", cfg.Bus.Endpoint)
	assert.Equal(t, 45*time.Second, cfg.Bus.ReconnectMax)
	assert.Equal(t, 16, cfg.Coordinator.InFlightCap)
	assert.Equal(t, "strict", cfg.Coordinator.FailurePolicy)
	assert.Equal(t, 0.3, cfg.Knowledge.IngestionFloor)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// Defaults not present in the file survive untouched.
	assert.Equal(t, 500*time.Millisecond, cfg.Bus.ReconnectInitial)
}

func TestLoaderLoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"HSP_BUS_ENDPOINT":                  "env-redis:6379",
		"HSP_COORDINATOR_IN_FLIGHT_CAP":      "20",
		"HSP_COORDINATOR_FAILURE_POLICY":     "strict",
		"HSP_LOG_LEVEL":                      "warn",
		"HSP_LIFECYCLE_UNHEALTHY_THRESHOLD":  "5",
	}
	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "env-redis:6379", cfg.Bus.Endpoint)
	assert.Equal(t, 20, cfg.Coordinator.InFlightCap)
	assert.Equal(t, "strict", cfg.Coordinator.FailurePolicy)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Lifecycle.UnhealthyThreshold)
}

func TestLoaderRejectsInvalidFailurePolicy(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("coordinator:\n  failure_policy: \"whenever\"\n"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoaderCustomValidatorRuns(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(cfg *Config) error {
		called = true
		return nil
	}).Load()
	require.NoError(t, err)
	assert.True(t, called)
}
