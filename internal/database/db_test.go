package database

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{Path: "file::memory:", Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrate_CreatesTablesAndIsRepeatable(t *testing.T) {
	db := newMemoryDB(t)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	for _, table := range []string{"regions", "warehouses", "stock_snapshot", "in_transit", "warehouse_state_log", "transfer_runs", "quota_snapshots"} {
		var name string
		err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestNew_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "restock.db")
	db, err := New(Config{Path: path})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, path, db.Path())
	assert.Equal(t, "restock", db.Name())
	require.NoError(t, db.Migrate())
	require.NoError(t, db.WALCheckpoint(""))
	assert.Greater(t, db.SizeBytes(), int64(0))
}

func TestWithTransaction(t *testing.T) {
	db := newMemoryDB(t)
	require.NoError(t, db.Migrate())

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO regions (id, name, region_key) VALUES (1, 'Central', 'central')")
		return err
	})
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO regions (id, name, region_key) VALUES (2, 'South', 'south')"); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM regions").Scan(&count))
	assert.Equal(t, 1, count)

	assert.Error(t, WithTransaction(nil, func(tx *sql.Tx) error { return nil }))
}
