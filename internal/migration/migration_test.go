package migration

import (
	"io/fs"
	"testing"

	"github.com/smallbiznis/orderguard/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["000001_init.up.sql"])
	assert.True(t, names["000001_init.down.sql"])
}

func TestAutoMigrateCreatesEveryTable(t *testing.T) {
	db := dbtest.Open(t)
	require.NoError(t, AutoMigrate(db))

	for _, table := range []string{
		"processed_events", "queue_items", "orders", "risk_settings",
		"risk_stats", "merchant_subscriptions", "api_keys", "exchange_rates",
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}
