package trie

import (
	"fmt"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ahadb/ahadb/aha"
	"github.com/ahadb/ahadb/log"
	"github.com/ahadb/ahadb/pagefile"
)

// nodeFileName and journalFileName are the on-disk layout: a single
// node file plus the root journal, alongside one aha_<N> file per
// configured tier.
const (
	nodeFileName    = "node"
	journalFileName = "root"
)

// DB is the public handle on a versioned, append-only MPT store.
type DB struct {
	mu      sync.Mutex
	cfg     Config
	log     *log.Logger
	backend *pagefile.File
	ahaSt   *aha.Store
	store   *NodeStore
	journal *Journal

	values *lru.Cache[string, []byte]
	// root names the current trie root, updated by every committed
	// WriteBatch.
	root   CleanPtr
	closed bool
}

// Open opens or creates a database rooted at dir.
func Open(dir string, cfg Config) (*DB, error) {
	cfg = cfg.withDefaults()

	backend, err := pagefile.Open(filepath.Join(dir, nodeFileName), cfg.PageCacheSize, cfg.Truncate)
	if err != nil {
		return nil, err
	}
	ahaSt, err := aha.Open(dir, cfg.AHALens, cfg.AHACacheSize, cfg.Truncate)
	if err != nil {
		backend.Close()
		return nil, err
	}
	journal, err := OpenJournal(filepath.Join(dir, journalFileName), cfg.PageCacheSize, cfg.Truncate)
	if err != nil {
		backend.Close()
		ahaSt.Close()
		return nil, err
	}

	valuePages := cfg.ValueCacheSize / 256
	if valuePages < 1 {
		valuePages = 1
	}
	values, err := lru.New[string, []byte](valuePages)
	if err != nil {
		return nil, err
	}

	db := &DB{
		cfg:     cfg,
		log:     log.Module("db"),
		backend: backend,
		ahaSt:   ahaSt,
		store:   NewNodeStore(backend, cfg.CacheSize, ahaSt),
		journal: journal,
		values:  values,
	}

	if n := journal.Len(); n > 0 {
		root, err := journal.At(n - 1)
		if err != nil {
			return nil, err
		}
		db.root = root
	}
	return db, nil
}

// OpenRoot repoints the database's current root at root — a CleanPtr
// previously returned by WriteBatch.Commit, zero meaning the empty
// trie — discarding any uncommitted work.
func (db *DB) OpenRoot(root CleanPtr) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	if root != 0 {
		if _, err := db.store.GetClean(root); err != nil {
			return fmt.Errorf("trie: open root %d: %w", root, err)
		}
	}
	db.root = root
	db.values.Purge()
	return nil
}

// NewWriteBatch starts a batch of inserts against the database's
// current root.
func (db *DB) NewWriteBatch() *WriteBatch {
	db.mu.Lock()
	defer db.mu.Unlock()
	return &WriteBatch{
		db:   db,
		trie: Open(db.store, db.root),
	}
}

// Get looks up key against the current root.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, false, ErrClosed
	}
	if v, ok := db.values.Get(string(key)); ok {
		if v == nil {
			return nil, false, nil
		}
		return v, true, nil
	}
	t := Open(db.store, db.root)
	value, ok, err := t.Get(key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		db.values.Add(string(key), value)
	} else {
		db.values.Add(string(key), nil)
	}
	return value, ok, nil
}

// Hash returns the canonical root hash of the current root.
func (db *DB) Hash() ([32]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.root == 0 {
		return emptyRoot, nil
	}
	item, err := db.store.resolveItem(ChildRef{Dirty: NoDirty, Clean: db.root})
	if err != nil {
		return [32]byte{}, err
	}
	return rootHashFromItem(item), nil
}

// Flush durably syncs the node file, AHA tiers, and root journal.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.store.Flush(); err != nil {
		return err
	}
	return db.journal.Flush()
}

// Close flushes and closes every underlying file.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if err := db.store.Flush(); err != nil {
		return err
	}
	if err := db.journal.Close(); err != nil {
		return err
	}
	if err := db.ahaSt.Close(); err != nil {
		return err
	}
	return db.backend.Close()
}

// Stats returns a snapshot of cache hit/miss counters.
func (db *DB) Stats() map[string]int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.store.Stats()
}

// Store returns the node store backing this database, so a caller
// composing more than one trie over the same node file (an
// account-state layer pairing an accounts trie with per-account
// storage tries, for instance) can open additional Trie handles against
// it directly.
func (db *DB) Store() *NodeStore {
	return db.store
}

// commitBatch is called by WriteBatch.Commit; it owns the DB lock for
// the duration of the commit so concurrent writers (which the store
// does not otherwise support: a Trie or WriteBatch is not internally
// synchronized) cannot interleave. The returned identifier is the CleanPtr of the
// published root (zero for an emptied trie), matching the public root
// identifier spec defines; the journal entry is purely internal
// bookkeeping for DB.Open's "restore latest root" step.
func (db *DB) commitBatch(t *Trie) (CleanPtr, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, ErrClosed
	}
	root, _, err := t.Commit()
	if err != nil {
		return 0, err
	}
	if _, err := db.journal.Append(root); err != nil {
		return 0, err
	}
	db.root = root
	db.values.Purge()
	return root, nil
}
