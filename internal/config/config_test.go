package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraconfig "github.com/ironscout/harvester/infrastructure/config"
	"github.com/ironscout/harvester/internal/config"
)

const sampleYAML = `
database:
  user: harvester
  database: harvester
scheduler:
  enabled: true
  tick_interval: 30s
  adapter_enabled_check: false
adapters:
  - id: acme
    version: "1.4.0"
`

func TestLoad_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.ModeAdapter, cfg.Scheduler.Mode)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 100, cfg.Scheduler.MaxTargetsPerTick)
	assert.Equal(t, 20, cfg.Scheduler.ManualTriggersPerTick)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.StaleRunAfter)
	assert.False(t, cfg.Scheduler.CheckAdapterEnabled())
	assert.Equal(t, 50, cfg.Maintenance.RecheckBatchSize)
	assert.Equal(t, 90*24*time.Hour, cfg.Maintenance.BrokenRetention)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, []config.AdapterConfig{{ID: "acme", Version: "1.4.0"}}, cfg.Adapters)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	t.Setenv("SCHEDULER_MAX_TARGETS", "250")
	t.Setenv("SCHEDULER_MODE", "target")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Scheduler.MaxTargetsPerTick)
	assert.Equal(t, config.ModeTarget, cfg.Scheduler.Mode)
}

func TestValidate_RejectsUnknownMode(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	config.SetDefaults(cfg)
	cfg.Database.User = "u"
	cfg.Database.Database = "d"
	cfg.Scheduler.Mode = "round-robin"

	var vErr *infraconfig.ValidationError
	require.True(t, errors.As(cfg.Validate(), &vErr))
	assert.Equal(t, "scheduler.mode", vErr.Field)
}

func TestValidate_AdapterIDRequired(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Adapters: []config.AdapterConfig{{Name: "nameless"}}}
	config.SetDefaults(cfg)
	cfg.Database.User = "u"
	cfg.Database.Database = "d"

	var vErr *infraconfig.ValidationError
	require.True(t, errors.As(cfg.Validate(), &vErr))
	assert.Equal(t, "adapters[0].id", vErr.Field)
}
