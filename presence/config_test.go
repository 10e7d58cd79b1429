package presence

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 200*time.Millisecond, cfg.Publish.MinInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Publish.MaxInterval)
	assert.Equal(t, 10*time.Second, cfg.Expiry.Timeout)
	assert.Equal(t, time.Second, cfg.Transport.ReconnectDelay)
	assert.Equal(t, "file", cfg.Session.Backend)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"inverted publish window", func(c *Config) { c.Publish.MinInterval = 2 * time.Second }},
		{"equal publish window", func(c *Config) { c.Publish.MaxInterval = c.Publish.MinInterval }},
		{"hint slower than min", func(c *Config) { c.Publish.HintInterval = time.Second }},
		{"move longer than min publish", func(c *Config) { c.Animation.MoveDuration = time.Second }},
		{"zero expiry", func(c *Config) { c.Expiry.Timeout = 0 }},
		{"negative reconnect", func(c *Config) { c.Transport.ReconnectDelay = -time.Second }},
		{"opaque stale", func(c *Config) { c.Animation.StaleOpacity = 1 }},
		{"unknown backend", func(c *Config) { c.Session.Backend = "etcd" }},
		{"empty url", func(c *Config) { c.Server.URL = "" }},
		{"zero spread", func(c *Config) { c.Origin.Spread = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "geopresence.yaml")
	content := `
server:
  url: ws://example.test/ws
publish:
  min_interval: 250ms
  max_interval: 2s
session:
  backend: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("GEOPRESENCE_EXPIRY_TIMEOUT", "30s")

	v := viper.New()
	v.SetConfigFile(path)
	cfg, err := LoadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "ws://example.test/ws", cfg.Server.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Publish.MinInterval)
	assert.Equal(t, 2*time.Second, cfg.Publish.MaxInterval)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, 30*time.Second, cfg.Expiry.Timeout)
	assert.Equal(t, 4000.0, cfg.Viewport.Meters)
}

func TestLoadConfig_RejectsInvertedWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("publish:\n  min_interval: 3s\n  max_interval: 1s\n"), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	_, err := LoadConfig(v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
