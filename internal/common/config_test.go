package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 8951, cfg.Server.Port)
	assert.Equal(t, "claude", cfg.Extraction.Provider)
	assert.Equal(t, 10, cfg.Reconcile.MaxAttempts)
	assert.Len(t, cfg.Reconcile.RetryDelays, 10)
	assert.True(t, cfg.Tickets.Enabled)
	assert.Contains(t, cfg.Tickets.TestPhones, "PlayFile")

	require.NoError(t, cfg.Validate())
}

func TestDefaultRetryDelaysNonDecreasing(t *testing.T) {
	cfg := NewDefaultConfig()

	var prev string
	for i, d := range cfg.Reconcile.RetryDelays {
		if i > 0 {
			assert.LessOrEqual(t, MustDuration(prev), MustDuration(d),
				"retry delay %d shrinks from %s to %s", i, prev, d)
		}
		prev = d
	}
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrapline.toml")
	content := `
environment = "production"

[server]
port = 9000

[storage.badger]
path = "/tmp/wrapline-test"

[reconcile]
max_attempts = 5
retry_delays = ["10s", "30s"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Reconcile.MaxAttempts)
	assert.Equal(t, []string{"10s", "30s"}, cfg.Reconcile.RetryDelays)
	// Untouched sections keep their defaults
	assert.Equal(t, "1h", cfg.Tickets.DedupWindow)
}

func TestLoadFromFilesLaterOverridesEarlier(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")
	require.NoError(t, os.WriteFile(base, []byte("[server]\nport = 9000\n"), 0644))
	require.NoError(t, os.WriteFile(override, []byte("[server]\nport = 9001\n"), 0644))

	cfg, err := LoadFromFiles(base, override)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestValidateRejectsBadCron(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Schedules.Reconcile = "not a cron"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedules.reconcile")
}

func TestValidateRejectsBadDuration(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sweep.GracePeriod = "soon"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep.grace_period")
}

func TestValidateRejectsBadRetryDelay(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Reconcile.RetryDelays = []string{"15s", "forever"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_delays")
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()
	ApplyFlagOverrides(cfg, 7777, "127.0.0.1")
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	ApplyFlagOverrides(cfg, 0, "")
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}
