package trie

// WriteBatch stages inserts against a snapshot of the database's
// current root, applying them to a private Trie handle. Nothing is
// visible to other readers of the DB until Commit.
type WriteBatch struct {
	db   *DB
	trie *Trie
	err  error
}

// Insert stages key/value, with no extra metadata.
func (wb *WriteBatch) Insert(key, value []byte) {
	wb.InsertWithExtra(key, value, nil)
}

// InsertWithExtra stages key/value along with opaque caller metadata
// that travels with the leaf but never participates in the canonical
// hash.
func (wb *WriteBatch) InsertWithExtra(key, value, extra []byte) {
	if wb.err != nil {
		return
	}
	wb.err = wb.trie.Insert(key, value, extra)
}

// Delete stages a key removal.
func (wb *WriteBatch) Delete(key []byte) {
	if wb.err != nil {
		return
	}
	wb.err = wb.trie.Delete(key)
}

// Commit persists every staged change and returns the CleanPtr of the
// published root — the database's root identifier, zero meaning the
// trie is now empty. Committing a batch with no staged changes returns
// the same identifier the batch started from.
func (wb *WriteBatch) Commit() (CleanPtr, error) {
	if wb.err != nil {
		return 0, wb.err
	}
	return wb.db.commitBatch(wb.trie)
}
