package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 18001, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.True(t, cfg.Database.RunMigrations)
	assert.Empty(t, cfg.Auth.Token)
	assert.Empty(t, cfg.Forward.IngestURL)
	assert.Equal(t, 5*time.Second, cfg.Forward.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Forward.TickTimeout)
	assert.Equal(t, 10, cfg.Forward.ConfirmKeys)
	assert.Equal(t, "./spool", cfg.Spool.Dir)
	assert.Equal(t, 2*time.Second, cfg.Spool.ReplayInterval)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  port: 19001
auth:
  token: supersecret
forward:
  ingest_url: http://main:18001/ingest
  confirm_url: http://main:18001/ingest/confirm
  confirm_keys: 5
spool:
  dir: /var/spool/tickbridge
  replay_interval: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 19001, cfg.Server.Port)
	assert.Equal(t, "supersecret", cfg.Auth.Token)
	assert.Equal(t, "http://main:18001/ingest", cfg.Forward.IngestURL)
	assert.Equal(t, 5, cfg.Forward.ConfirmKeys)
	assert.Equal(t, "/var/spool/tickbridge", cfg.Spool.Dir)
	assert.Equal(t, 10*time.Second, cfg.Spool.ReplayInterval)

	// Unset keys keep their defaults
	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.Equal(t, 5*time.Second, cfg.Forward.ConfirmTimeout)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TICKBRIDGE_SERVER_PORT", "20001")
	t.Setenv("TICKBRIDGE_AUTH_TOKEN", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 20001, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.Token)
}

func TestLoad_MissingFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
