package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 1200*time.Millisecond, cfg.Simulator.Interval())
	assert.Equal(t, 150*time.Millisecond, cfg.Simulator.Stagger())
	assert.Equal(t, 10*time.Second, cfg.Simulator.MaxElapsed())
	assert.Equal(t, 10, cfg.Simulator.MinWaypoints)
	assert.Equal(t, -26.5, cfg.Simulator.Bounds.MinLat)
	assert.Equal(t, "osrm", cfg.Routing.Provider)
	assert.Equal(t, 10*time.Second, cfg.Routing.Timeout())
	assert.True(t, cfg.Routing.Cache)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
simulator:
  interval_ms: 1000
  seed: 42
routing:
  provider: google
  google:
    api_key: test-key
telemetry:
  enabled: true
  address: localhost:5027
  frequency_seconds: 2
log:
  level: debug
  format: json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Simulator.Interval())
	assert.Equal(t, int64(42), cfg.Simulator.Seed)
	assert.Equal(t, 45.0, cfg.Simulator.MaxSpeedKmh)
	assert.Equal(t, "google", cfg.Routing.Provider)
	assert.Equal(t, "test-key", cfg.Routing.Google.APIKey)
	assert.Equal(t, "localhost:5027", cfg.Telemetry.Address)
	assert.Equal(t, 2*time.Second, cfg.Telemetry.Frequency())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ROUTING_OSRM_BASE_URL", "http://osrm.internal:5000")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://osrm.internal:5000", cfg.Routing.OSRM.BaseUrl)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown provider":     "routing:\n  provider: bing\n",
		"google without key":   "routing:\n  provider: google\n",
		"snapping without key": "routing:\n  snap_to_roads: true\n",
		"speed bounds":         "simulator:\n  min_speed_kmh: 50\n",
		"initial speeds":       "simulator:\n  initial_min_speed_kmh: 41\n",
		"interval":             "simulator:\n  interval_ms: 0\n",
		"bounds":               "simulator:\n  bounds:\n    min_lat: -25\n",
		"telemetry address":    "telemetry:\n  enabled: true\n",
		"bad address":          "telemetry:\n  enabled: true\n  address: nowhere\n",
		"log level":            "log:\n  level: loud\n",
		"port":                 "server:\n  port: 70000\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, t.TempDir(), body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	_, err := LoadConfig("")
	require.NoError(t, err)
	assert.Error(t, Watch(nil))

	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")
	_, err = LoadConfig(path)
	require.NoError(t, err)

	var level atomic.Value
	require.NoError(t, Watch(func(cfg *AppConfig) { level.Store(cfg.Log.Level) }))

	// an invalid edit is ignored
	writeConfig(t, dir, "log:\n  level: loud\n")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "info", GetCurrentConfig().Log.Level)

	writeConfig(t, dir, "log:\n  level: debug\n")
	assert.Eventually(t, func() bool {
		v, _ := level.Load().(string)
		return v == "debug"
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "debug", GetCurrentConfig().Log.Level)
}
