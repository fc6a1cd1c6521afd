package statedb

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahadb/ahadb/trie"
)

func newTestDB(t *testing.T) *StateDB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir, trie.Config{Truncate: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAccountRoundTrip(t *testing.T) {
	a := NewAccount()
	a.Nonce = 7
	a.Balance = big.NewInt(1234)
	a.StorageRoot = 42
	a.CodeHash = append([]byte{}, EmptyCodeHash[:]...)

	enc, err := a.Encode()
	require.NoError(t, err)

	got, err := DecodeAccount(enc)
	require.NoError(t, err)
	require.Equal(t, a.Nonce, got.Nonce)
	require.Equal(t, 0, a.Balance.Cmp(got.Balance))
	require.Equal(t, a.StorageRoot, got.StorageRoot)
	require.Equal(t, a.CodeHash, got.CodeHash)
}

func TestBatchSetNonceAndBalance(t *testing.T) {
	db := newTestDB(t)
	addr := []byte("0x0000000000000000000000000000000000dead")

	b := db.NewBatch()
	b.SetNonce(addr, 3)
	b.SetBalance(addr, big.NewInt(500))
	_, err := b.Commit()
	require.NoError(t, err)

	got, ok, err := db.GetAccount(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), got.Nonce)
	require.Equal(t, 0, big.NewInt(500).Cmp(got.Balance))
}

func TestBatchStorageRoundTrip(t *testing.T) {
	db := newTestDB(t)
	addr := []byte("0x00000000000000000000000000000000000001")

	b := db.NewBatch()
	b.SetStorage(addr, []byte("slot1"), []byte("value1"))
	b.SetStorage(addr, []byte("slot2"), []byte("value2"))
	_, err := b.Commit()
	require.NoError(t, err)

	v, ok, err := db.GetStorage(addr, []byte("slot1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value1", string(v))

	v, ok, err = db.GetStorage(addr, []byte("slot2"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value2", string(v))
}

func TestBatchStorageAcrossCommits(t *testing.T) {
	db := newTestDB(t)
	addr := []byte("0x00000000000000000000000000000000000002")

	b1 := db.NewBatch()
	b1.SetStorage(addr, []byte("k"), []byte("v1"))
	_, err := b1.Commit()
	require.NoError(t, err)

	b2 := db.NewBatch()
	b2.SetStorage(addr, []byte("k"), []byte("v2"))
	_, err = b2.Commit()
	require.NoError(t, err)

	v, ok, err := db.GetStorage(addr, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(v))
}

func TestBatchSetCodeAndGetCode(t *testing.T) {
	db := newTestDB(t)
	addr := []byte("0x00000000000000000000000000000000000003")
	code := []byte{0x60, 0x01, 0x60, 0x02, 0x01}

	b := db.NewBatch()
	b.SetCode(addr, code)
	_, err := b.Commit()
	require.NoError(t, err)

	got, ok, err := db.GetCode(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, code, got)
}

func TestAccountWithNoCodeHasNoCode(t *testing.T) {
	db := newTestDB(t)
	addr := []byte("0x00000000000000000000000000000000000004")

	b := db.NewBatch()
	b.SetNonce(addr, 1)
	_, err := b.Commit()
	require.NoError(t, err)

	_, ok, err := db.GetCode(addr)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnknownAccountNotFound(t *testing.T) {
	db := newTestDB(t)
	_, ok, err := db.GetAccount([]byte("nobody"))
	require.NoError(t, err)
	require.False(t, ok)
}
