package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir, Config{Truncate: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWriteBatchCommitReturnsCleanPtr(t *testing.T) {
	db := newTestDB(t)

	wb := db.NewWriteBatch()
	wb.Insert([]byte("key1"), []byte("value1"))
	root, err := wb.Commit()
	require.NoError(t, err)
	require.NotZero(t, root)

	v, ok, err := db.Get([]byte("key1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value1", string(v))
}

// TestNoopCommitLeavesIdentifierUnchanged exercises P3: committing a
// batch with no staged changes must return the same root identifier the
// batch started from.
func TestNoopCommitLeavesIdentifierUnchanged(t *testing.T) {
	db := newTestDB(t)

	wb := db.NewWriteBatch()
	wb.Insert([]byte("key1"), []byte("value1"))
	root1, err := wb.Commit()
	require.NoError(t, err)

	wb2 := db.NewWriteBatch()
	root2, err := wb2.Commit()
	require.NoError(t, err)

	require.Equal(t, root1, root2)
}

// TestDeleteToEmptyReturnsZeroIdentifier exercises the requirement that
// emptying the trie always reports identifier 0, regardless of how many
// commits preceded it.
func TestDeleteToEmptyReturnsZeroIdentifier(t *testing.T) {
	db := newTestDB(t)

	wb := db.NewWriteBatch()
	wb.Insert([]byte("key1"), []byte("value1"))
	_, err := wb.Commit()
	require.NoError(t, err)

	wb2 := db.NewWriteBatch()
	wb2.Insert([]byte("key2"), []byte("value2"))
	_, err = wb2.Commit()
	require.NoError(t, err)

	wb3 := db.NewWriteBatch()
	wb3.Delete([]byte("key1"))
	wb3.Delete([]byte("key2"))
	root, err := wb3.Commit()
	require.NoError(t, err)
	require.Zero(t, root)
}

func TestOpenRootByCleanPtrReturnsHistoricalValue(t *testing.T) {
	db := newTestDB(t)

	wb := db.NewWriteBatch()
	wb.Insert([]byte("key"), []byte("v1"))
	rootV1, err := wb.Commit()
	require.NoError(t, err)

	wb2 := db.NewWriteBatch()
	wb2.Insert([]byte("key"), []byte("v2"))
	_, err = wb2.Commit()
	require.NoError(t, err)

	require.NoError(t, db.OpenRoot(rootV1))
	v, ok, err := db.Get([]byte("key"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))
}
