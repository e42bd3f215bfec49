package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRaw(t *testing.T) *sql.DB {
	t.Helper()
	raw, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	raw.SetMaxOpenConns(1)
	t.Cleanup(func() { raw.Close() })
	return raw
}

func TestOpenAppliesMigrations(t *testing.T) {
	dir := t.TempDir()
	database, err := Open(dir)
	require.NoError(t, err)
	defer database.Close()

	_, err = os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)

	var walMode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&walMode))
	assert.Equal(t, "wal", walMode)

	var fk int
	require.NoError(t, database.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	version, err := NewMigrator(database.DB, nil).CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestOpenInvalidDataDir(t *testing.T) {
	_, err := Open("/dev/null/cannot/create")
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	raw := openRaw(t)
	require.NoError(t, Migrate(raw))
	require.NoError(t, Migrate(raw))

	applied, err := NewMigrator(raw, nil).GetAppliedMigrations()
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "records", applied[0].Description)
	assert.Len(t, applied[0].Checksum, 64)
}

func TestMigratorUpDown(t *testing.T) {
	raw := openRaw(t)
	fsys := fstest.MapFS{
		"V1__one.up.sql":   {Data: []byte("CREATE TABLE one (id INTEGER);")},
		"V1__one.down.sql": {Data: []byte("DROP TABLE one;")},
		"V2__two.up.sql":   {Data: []byte("CREATE TABLE two (id INTEGER);")},
		"V2__two.down.sql": {Data: []byte("DROP TABLE two;")},
		"README.md":        {Data: []byte("ignored")},
	}
	m := NewMigrator(raw, fsys)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())

	version, err := m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	require.NoError(t, m.Down())
	version, err = m.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	var name string
	err = raw.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='two'").Scan(&name)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMigratorDetectsModifiedMigration(t *testing.T) {
	raw := openRaw(t)
	fsys := fstest.MapFS{
		"V1__one.up.sql": {Data: []byte("CREATE TABLE one (id INTEGER);")},
	}
	m := NewMigrator(raw, fsys)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Up())

	fsys["V1__one.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE one (id TEXT);")}
	err := m.Up()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modified")
}

func TestMigratorDownWithoutMigrations(t *testing.T) {
	raw := openRaw(t)
	m := NewMigrator(raw, fstest.MapFS{})
	require.NoError(t, m.Initialize())
	assert.Error(t, m.Down())
}
