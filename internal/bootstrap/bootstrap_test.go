package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/config"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/registry"
	"github.com/ironscout/harvester/testutils"
)

func TestSchedulerEnabled(t *testing.T) {
	ctx := context.Background()

	t.Run("falls back to config when unset", func(t *testing.T) {
		store := testutils.NewMemStore(nil).Store()

		enabled, err := schedulerEnabled(ctx, store.Settings, true, logger.NewNop())
		require.NoError(t, err)
		assert.True(t, enabled)
	})

	t.Run("persisted flag wins", func(t *testing.T) {
		store := testutils.NewMemStore(nil).Store()
		require.NoError(t, store.Settings.SetBool(ctx, database.SettingSchedulerEnabled, false))

		enabled, err := schedulerEnabled(ctx, store.Settings, true, logger.NewNop())
		require.NoError(t, err)
		assert.False(t, enabled)
	})

	t.Run("read error", func(t *testing.T) {
		mem := testutils.NewMemStore(nil)
		mem.FailOn("Settings.GetBool", errors.New("db down"))

		_, err := schedulerEnabled(ctx, mem.Store().Settings, true, logger.NewNop())
		require.Error(t, err)
	})
}

func TestEnsureAdapters(t *testing.T) {
	mem := testutils.NewMemStore(nil)
	reg := registry.New([]config.AdapterConfig{{ID: "acme", Version: "1.0.0"}, {ID: "zeta"}})

	require.NoError(t, ensureAdapters(context.Background(), mem.Store(), reg, logger.NewNop()))

	for _, id := range []string{"acme", "zeta"} {
		a, ok := mem.Adapter(id)
		require.True(t, ok, id)
		assert.True(t, a.Enabled)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.yml")
	require.NoError(t, os.WriteFile(valid, []byte(`
database:
  user: harvester
  database: harvester
adapters:
  - id: acme
`), 0o600))

	cfg, err := LoadConfig(valid)
	require.NoError(t, err)
	assert.Equal(t, config.ModeAdapter, cfg.Scheduler.Mode)

	invalid := filepath.Join(dir, "invalid.yml")
	require.NoError(t, os.WriteFile(invalid, []byte(`
database:
  user: harvester
  database: harvester
scheduler:
  mode: sideways
`), 0o600))

	_, err = LoadConfig(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler.mode")
}
