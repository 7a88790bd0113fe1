//go:build integration

package database_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironscout/harvester/infrastructure/logger"
	"github.com/ironscout/harvester/internal/database"
	"github.com/ironscout/harvester/internal/domain"
	"github.com/ironscout/harvester/internal/keyset"
	"github.com/ironscout/harvester/testutils"
)

func TestMigrationsAndKeysetAgainstPostgres(t *testing.T) {
	ctx := context.Background()

	pg, err := testutils.StartPostgres(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Stop(ctx) })

	db, err := database.NewPostgresConnection(ctx, pg.Config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator, err := database.NewMigrator(db, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, migrator.Up())

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Second Up is a no-op.
	require.NoError(t, migrator.Up())

	var sourceID string
	require.NoError(t, db.GetContext(ctx, &sourceID,
		`INSERT INTO sources (name, retailer_id) VALUES ('shop', gen_random_uuid()) RETURNING id`))

	const total = 25
	for i := range total {
		_, err = db.ExecContext(ctx,
			`INSERT INTO targets (url, source_id, adapter_id, priority) VALUES ($1, $2, 'acme', $3)`,
			fmt.Sprintf("https://shop.example/p/%d", i), sourceID, i%4)
		require.NoError(t, err)
	}

	store := database.NewStore(db)

	count, err := store.Targets.CountEligibleByAdapter(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, total, count)

	seen := map[string]bool{}
	cursor := keyset.Start
	for {
		page, listErr := store.Targets.ListEligibleByAdapter(ctx, "acme", cursor, 7)
		require.NoError(t, listErr)
		if len(page) == 0 {
			break
		}
		for _, tg := range page {
			assert.False(t, seen[tg.ID], "target %s returned twice", tg.ID)
			seen[tg.ID] = true
			assert.Equal(t, domain.TargetStatusActive, tg.Status)
		}
		last := page[len(page)-1]
		cursor = keyset.At(last.Priority, last.ID)
	}
	assert.Len(t, seen, total)

	require.NoError(t, store.Settings.SetBool(ctx, database.SettingSchedulerEnabled, true))
	enabled, found, err := store.Settings.GetBool(ctx, database.SettingSchedulerEnabled)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, enabled)

	require.NoError(t, migrator.Down(1))
}
