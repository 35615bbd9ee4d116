package database

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames(t *testing.T) {
	fsys := fstest.MapFS{
		"m/002_b.sql": {Data: []byte("SELECT 2")},
		"m/001_a.sql": {Data: []byte("SELECT 1")},
		"m/README.md": {Data: []byte("docs")},
		"m/sub/x.sql": {Data: []byte("SELECT 3")},
	}
	names, err := migrationNames(fsys, "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, names)
}

func TestEmbeddedSchema(t *testing.T) {
	names, err := migrationNames(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	raw, err := fs.ReadFile(migrationsFS, "migrations/"+names[0])
	require.NoError(t, err)
	for _, table := range []string{"user_sessions", "watch_sessions", "video_engagement"} {
		assert.Contains(t, string(raw), "CREATE TABLE IF NOT EXISTS "+table)
	}
}
