package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/appstore/migrations"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.Len(t, names, 3)

	for _, n := range names {
		raw, err := fs.ReadFile(migrations.FS, n)
		require.NoError(t, err)
		require.Contains(t, string(raw), "-- +goose Up", n)
		require.Contains(t, string(raw), "-- +goose Down", n)
	}

	raw, err := fs.ReadFile(migrations.FS, "00001_catalog.sql")
	require.NoError(t, err)
	require.True(t, strings.Contains(string(raw), "DEFERRABLE INITIALLY DEFERRED"))
	require.True(t, strings.Contains(string(raw), "UNIQUE (app_id, architecture)"))
}
