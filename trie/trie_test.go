package trie

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahadb/ahadb/aha"
	"github.com/ahadb/ahadb/pagefile"
)

func newTestStore(t *testing.T) *NodeStore {
	t.Helper()
	return newTestStoreWithTiers(t, []int{16})
}

func newTestStoreWithTiers(t *testing.T, lens []int) *NodeStore {
	t.Helper()
	dir := t.TempDir()
	backend, err := pagefile.Open(filepath.Join(dir, "node"), 64*1024, true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	ahaSt, err := aha.Open(dir, lens, 64*1024, true)
	require.NoError(t, err)
	t.Cleanup(func() { ahaSt.Close() })

	return NewNodeStore(backend, 1<<16, ahaSt)
}

func TestEmptyTrieHash(t *testing.T) {
	store := newTestStore(t)
	tr := New(store)

	h, err := tr.Hash()
	require.NoError(t, err)
	require.Equal(t, "56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421", hex.EncodeToString(h[:]))
}

func TestInsertGetDelete(t *testing.T) {
	store := newTestStore(t)
	tr := New(store)

	require.NoError(t, tr.Insert([]byte("doe"), []byte("reindeer"), nil))
	require.NoError(t, tr.Insert([]byte("dog"), []byte("puppy"), nil))
	require.NoError(t, tr.Insert([]byte("dogglesworth"), []byte("cat"), nil))

	v, ok, err := tr.Get([]byte("dog"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "puppy", string(v))

	v, ok, err = tr.Get([]byte("dogglesworth"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cat", string(v))

	_, ok, err = tr.Get([]byte("cat"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tr.Delete([]byte("dog")))
	_, ok, err = tr.Get([]byte("dog"))
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err = tr.Get([]byte("doe"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "reindeer", string(v))
}

func TestCommitIsDeterministic(t *testing.T) {
	build := func(t *testing.T) [32]byte {
		store := newTestStore(t)
		tr := New(store)
		require.NoError(t, tr.Insert([]byte("doe"), []byte("reindeer"), nil))
		require.NoError(t, tr.Insert([]byte("dog"), []byte("puppy"), nil))
		require.NoError(t, tr.Insert([]byte("dogglesworth"), []byte("cat"), nil))
		h, err := tr.Hash()
		require.NoError(t, err)
		return h
	}
	h1 := build(t)
	h2 := build(t)
	require.Equal(t, h1, h2)
}

func TestHashOrderIndependent(t *testing.T) {
	storeA := newTestStore(t)
	trA := New(storeA)
	require.NoError(t, trA.Insert([]byte("a"), []byte("1"), nil))
	require.NoError(t, trA.Insert([]byte("b"), []byte("2"), nil))
	require.NoError(t, trA.Insert([]byte("c"), []byte("3"), nil))
	hA, err := trA.Hash()
	require.NoError(t, err)

	storeB := newTestStore(t)
	trB := New(storeB)
	require.NoError(t, trB.Insert([]byte("c"), []byte("3"), nil))
	require.NoError(t, trB.Insert([]byte("a"), []byte("1"), nil))
	require.NoError(t, trB.Insert([]byte("b"), []byte("2"), nil))
	hB, err := trB.Hash()
	require.NoError(t, err)

	require.Equal(t, hA, hB)
}

func TestCommitThenReopenFromCleanPtr(t *testing.T) {
	store := newTestStore(t)
	tr := New(store)
	require.NoError(t, tr.Insert([]byte("key1"), []byte("value1"), nil))
	require.NoError(t, tr.Insert([]byte("key2"), []byte("value2"), nil))

	root, wantHash, err := tr.Commit()
	require.NoError(t, err)
	require.NotZero(t, root)

	reopened := Open(store, root)
	v, ok, err := reopened.Get([]byte("key1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value1", string(v))

	gotHash, err := reopened.Hash()
	require.NoError(t, err)
	require.Equal(t, wantHash, gotHash)
}

func TestCowDoesNotMutatePriorRoot(t *testing.T) {
	store := newTestStore(t)
	tr := New(store)
	require.NoError(t, tr.Insert([]byte("key"), []byte("v1"), nil))
	rootV1, _, err := tr.Commit()
	require.NoError(t, err)

	tr2 := Open(store, rootV1)
	require.NoError(t, tr2.Insert([]byte("key"), []byte("v2"), nil))
	_, _, err = tr2.Commit()
	require.NoError(t, err)

	original := Open(store, rootV1)
	v, ok, err := original.Get([]byte("key"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))
}

func TestManyKeysRoundTrip(t *testing.T) {
	store := newTestStore(t)
	tr := New(store)

	keys := make([][]byte, 0, 200)
	for i := 0; i < 200; i++ {
		k := []byte{byte(i), byte(i >> 8), byte(i * 7)}
		keys = append(keys, k)
		require.NoError(t, tr.Insert(k, []byte{byte(i)}, nil))
	}

	root, _, err := tr.Commit()
	require.NoError(t, err)

	reopened := Open(store, root)
	for i, k := range keys {
		v, ok, err := reopened.Get(k)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte{byte(i)}, v)
	}
}

// TestAHATierSelectionByArity builds branches with distinct present
// child counts and confirms each lands in the smallest configured AHA
// tier that fits it, rather than always the widest tier.
func TestAHATierSelectionByArity(t *testing.T) {
	store := newTestStoreWithTiers(t, []int{4, 8, 12, 16})

	for _, n := range []int{8, 9, 13} {
		tr := New(store)
		for i := 0; i < n; i++ {
			key := []byte{byte(i << 4)}
			require.NoError(t, tr.Insert(key, []byte{byte(i)}, nil))
		}
		root, _, err := tr.Commit()
		require.NoError(t, err)

		node, err := store.GetClean(root)
		require.NoError(t, err)
		branch, ok := node.(*BranchNode)
		require.True(t, ok)

		wantTier, ok := store.ahaStore.TierFor(n)
		require.True(t, ok)
		require.Equal(t, wantTier, branch.AHALen, "n=%d", n)
	}
}

// TestAHARecordSurvivesCOWAcrossCommits exercises the case a single-commit
// test can't: a branch committed once, then copy-on-write promoted and
// re-committed after a second write touches it. The first root's AHA
// record must still resolve the untouched siblings' original values —
// not a record overwritten in place by the second commit.
func TestAHARecordSurvivesCOWAcrossCommits(t *testing.T) {
	store := newTestStoreWithTiers(t, []int{4, 8, 12, 16})
	tr := New(store)

	for i := 0; i < 8; i++ {
		key := []byte{byte(i << 4), byte(i)}
		require.NoError(t, tr.Insert(key, []byte{byte(i), 'v', '1'}, nil))
	}
	rootV1, _, err := tr.Commit()
	require.NoError(t, err)

	tr2 := Open(store, rootV1)
	require.NoError(t, tr2.Insert([]byte{0x00, 0x00}, []byte{0, 'v', '2'}, nil))
	rootV2, _, err := tr2.Commit()
	require.NoError(t, err)
	require.NotEqual(t, rootV1, rootV2)

	original := Open(store, rootV1)
	for i := 1; i < 8; i++ {
		v, ok, err := original.Get([]byte{byte(i << 4), byte(i)})
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte{byte(i), 'v', '1'}, v)
	}
	v, ok, err := original.Get([]byte{0x00, 0x00})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0, 'v', '1'}, v)

	hashV1, err := original.Hash()
	require.NoError(t, err)

	updated := Open(store, rootV2)
	v, ok, err = updated.Get([]byte{0x00, 0x00})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0, 'v', '2'}, v)

	hashV2, err := updated.Hash()
	require.NoError(t, err)
	require.NotEqual(t, hashV1, hashV2)
}
