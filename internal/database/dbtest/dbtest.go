// Package dbtest opens throwaway sqlite databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"parkly/internal/database"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// New returns a migrated database in t.TempDir, closed on cleanup.
func New(t testing.TB) *database.DB {
	t.Helper()

	logger := zerolog.Nop()
	db, err := database.NewDB(database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "parkly.db"),
	}, &logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}
