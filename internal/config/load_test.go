package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("applies defaults with only the database URL provided", func(t *testing.T) {
		t.Setenv("PLAYNEST_DATABASE_URL", "postgres://localhost:5432/playnest")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "info", cfg.Server.LogLevel)
		assert.Equal(t, 500, cfg.Task.PollIntervalMillis)
		assert.Equal(t, 500, cfg.Task.BaseRetryDelayMillis)
		assert.Equal(t, 3, cfg.Task.DefaultMaxAttempts)
		assert.Equal(t, 30, cfg.Task.AbandonedTaskAgeMinutes)
		assert.Equal(t, 25, cfg.Task.SSEHeartbeatSeconds)
		assert.Equal(t, "postgres://localhost:5432/playnest", cfg.Database.URL)
	})

	t.Run("environment variables override defaults", func(t *testing.T) {
		t.Setenv("PLAYNEST_DATABASE_URL", "postgres://localhost:5432/playnest")
		t.Setenv("PLAYNEST_SERVER_PORT", "9090")
		t.Setenv("PLAYNEST_SERVER_LOG_LEVEL", "debug")
		t.Setenv("PLAYNEST_TASK_DEFAULT_MAX_ATTEMPTS", "5")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Server.LogLevel)
		assert.Equal(t, 5, cfg.Task.DefaultMaxAttempts)
	})

	t.Run("fails without a database URL", func(t *testing.T) {
		t.Setenv("PLAYNEST_DATABASE_URL", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("rejects an out-of-range port", func(t *testing.T) {
		t.Setenv("PLAYNEST_DATABASE_URL", "postgres://localhost:5432/playnest")
		t.Setenv("PLAYNEST_SERVER_PORT", "70000")

		_, err := Load()
		require.Error(t, err)
	})

	t.Run("rejects an unknown log level", func(t *testing.T) {
		t.Setenv("PLAYNEST_DATABASE_URL", "postgres://localhost:5432/playnest")
		t.Setenv("PLAYNEST_SERVER_LOG_LEVEL", "verbose")

		_, err := Load()
		require.Error(t, err)
	})
}
