package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d := NewDatabase(filepath.Join(t.TempDir(), "data", DefaultFileName))
	require.NoError(t, d.Open(context.Background()))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpen_CreatesEveryCollectionAndIndex(t *testing.T) {
	d := openTestDB(t)
	db, err := d.DB()
	require.NoError(t, err)

	for _, c := range Collections() {
		var n int
		require.NoError(t, db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, c.Name).Scan(&n))
		assert.Equal(t, 1, n, "table %s", c.Name)

		for _, f := range c.Indexes {
			require.NoError(t, db.QueryRow(
				`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, "idx_"+c.Name+"_"+f).Scan(&n))
			assert.Equal(t, 1, n, "index %s.%s", c.Name, f)
		}
	}
}

func TestOpen_IsIdempotentAndVersioned(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DefaultFileName)

	d := NewDatabase(path)
	require.False(t, d.IsOpen())
	require.NoError(t, d.Open(ctx))
	require.NoError(t, d.Open(ctx))
	require.True(t, d.IsOpen())

	v, err := d.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(Version), v)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	require.False(t, d.IsOpen())

	// reopening an existing file keeps the version
	require.NoError(t, d.Open(ctx))
	defer d.Close()
	v, err = d.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(Version), v)
}

func TestClosedDatabase(t *testing.T) {
	d := NewDatabase(filepath.Join(t.TempDir(), "x.db"))

	_, err := d.DB()
	require.ErrorIs(t, err, ErrDatabaseClosed)

	_, err = d.Version(context.Background())
	require.ErrorIs(t, err, ErrDatabaseClosed)
}

func TestOpen_EmptyPath(t *testing.T) {
	require.Error(t, NewDatabase("").Open(context.Background()))
}

func TestDeleteDatabase_RemovesFiles(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	db, err := d.DB()
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO jobs (pk, persona_id, data) VALUES ('1', 'member', '{"id":"1"}')`)
	require.NoError(t, err)

	size, err := d.Size()
	require.NoError(t, err)
	assert.Positive(t, size)

	require.NoError(t, d.DeleteDatabase(ctx))
	assert.False(t, d.IsOpen())

	for _, p := range []string{d.Path(), d.Path() + "-wal", d.Path() + "-shm"} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}

	// a deleted database can be recreated empty
	require.NoError(t, d.Open(ctx))
	db, err = d.DB()
	require.NoError(t, err)
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&n))
	assert.Zero(t, n)
}

func TestDataMustBeJSON(t *testing.T) {
	d := openTestDB(t)
	db, err := d.DB()
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO goals (pk, data) VALUES ('g', 'not json')`)
	require.Error(t, err)
}
