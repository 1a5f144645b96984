package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Chunking.Window)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, time.Minute, cfg.Watch.ErrorBackoff)
	assert.Equal(t, 0.2, cfg.Anomaly.Probability)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "port out of range", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "unknown database provider", mutate: func(c *Config) { c.Database.Provider = "sqlite" }, wantErr: true},
		{name: "memory provider allowed", mutate: func(c *Config) { c.Database.Provider = "memory" }},
		{name: "zero watch interval", mutate: func(c *Config) { c.Watch.Interval = 0 }, wantErr: true},
		{name: "probability above one", mutate: func(c *Config) { c.Anomaly.Probability = 1.5 }, wantErr: true},
		{name: "overlap not below window", mutate: func(c *Config) { c.Chunking.Overlap = 1000 }, wantErr: true},
		{name: "snap backoff larger than window", mutate: func(c *Config) { c.Chunking.SnapBackoff = 2000 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "server:\n  port: 9000\nlogging:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("REGWATCH_SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env wins over file, file wins over default.
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestTransformEnvKey(t *testing.T) {
	assert.Equal(t, "server.port", transformEnvKey("REGWATCH_SERVER_PORT"))
	assert.Equal(t, "watch.error_backoff", transformEnvKey("REGWATCH_WATCH_ERROR_BACKOFF"))
	assert.Equal(t, "database.url", transformEnvKey("REGWATCH_DATABASE_URL"))
}
