package mcdb

import (
	"testing"

	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MustOpenTestDB creates a migrated in memory sqlite database private to t. The
// database is closed when the test finishes.
func MustOpenTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	name, err := uuid.GenerateUUID()
	require.NoError(t, err)

	db, err := OpenSqlite(NewSqliteMemoryDSN(name))
	require.NoErrorf(t, err, "gorm.Open failed: %s", err)

	err = RunMigrations(db)
	require.NoErrorf(t, err, "Migration failed with: %s", err)

	t.Cleanup(func() {
		if sqlitedb, err := db.DB(); err == nil {
			_ = sqlitedb.Close()
		}
	})

	return db
}
