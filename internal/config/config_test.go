package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Store.Provider)
	require.Equal(t, "maintainer.db", cfg.Store.SQLitePath)
	require.Equal(t, 2, cfg.Jobs.Workers)
	require.Equal(t, 3, cfg.Jobs.TerminalPublishAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.TerminalPublishBackoff())
	require.Equal(t, 24*time.Hour, cfg.Retention())
	require.Equal(t, 64, cfg.Events.BufferSize)
	require.Equal(t, 30, cfg.Events.HeartbeatSeconds)
	require.Equal(t, 15, cfg.Watch.IntervalSeconds)
	require.Equal(t, 60, cfg.Watch.StaleAfterSeconds)
	require.Equal(t, 100, cfg.Cache.LockTimeoutMs)
	require.Equal(t, 30, cfg.Cache.LeaseTTLSeconds)
	require.Equal(t, []string{".cbz"}, cfg.Library.Extensions)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
jobs:
  workers: 8
store:
  provider: memory
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 8, cfg.Jobs.Workers)
	require.Equal(t, "memory", cfg.Store.Provider)
	// Untouched knobs keep their defaults.
	require.Equal(t, 3, cfg.Jobs.TerminalPublishAttempts)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_Rejections(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Jobs.Workers = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Watch.StaleAfterSeconds = cfg.Watch.IntervalSeconds - 1
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Provider = "redis"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Provider = "sqlite"
	cfg.Store.SQLitePath = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Provider = "postgres"
	require.Error(t, cfg.Validate())
	cfg.Store.PostgresDSN = "postgres://localhost/maintainer"
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())
	cfg.Auth.APIKey = "secret"
	require.NoError(t, cfg.Validate())
}
