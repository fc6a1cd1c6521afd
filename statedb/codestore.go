package statedb

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ahadb/ahadb/crypto"
	"github.com/ahadb/ahadb/pagefile"
)

// recordHeaderSize is the fixed prefix ahead of every code blob: its
// 32-byte Keccak-256 hash followed by a 4-byte little-endian length.
const recordHeaderSize = 32 + 4

// CodeStore is a content-addressed, append-only store for contract
// bytecode, keyed by its own Keccak-256 hash. It reuses pagefile.File
// directly rather than the node store's dirty/clean split: code blobs
// are immutable and never copy-on-write promoted, so the extra
// machinery buys nothing here.
type CodeStore struct {
	mu    sync.Mutex
	f     *pagefile.File
	index map[crypto.Hash]codeLoc
}

type codeLoc struct {
	off    int64
	length uint32
}

// OpenCodeStore opens or creates the code file at path, rebuilding its
// in-memory hash index by scanning existing records.
func OpenCodeStore(path string, cacheBytes int, truncate bool) (*CodeStore, error) {
	f, err := pagefile.Open(path, cacheBytes, truncate)
	if err != nil {
		return nil, err
	}
	cs := &CodeStore{f: f, index: make(map[crypto.Hash]codeLoc)}
	if !truncate {
		if err := cs.rebuildIndex(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return cs, nil
}

func (cs *CodeStore) rebuildIndex() error {
	var off int64
	tail := cs.f.Tail()
	for off < tail {
		var hdr [recordHeaderSize]byte
		if err := cs.f.ReadAt(off, hdr[:]); err != nil {
			return fmt.Errorf("statedb: rebuild code index @%d: %w", off, err)
		}
		var hash crypto.Hash
		copy(hash[:], hdr[:32])
		length := binary.LittleEndian.Uint32(hdr[32:36])
		cs.index[hash] = codeLoc{off: off + recordHeaderSize, length: length}
		off += recordHeaderSize + int64(length)
	}
	return nil
}

// Put stores code if not already present and returns its hash. Storing
// the same code twice is a no-op beyond the hash computation: the
// store is content-addressed, so a repeat Put never grows the file.
func (cs *CodeStore) Put(code []byte) (crypto.Hash, error) {
	hash := crypto.Keccak256Hash(code)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.index[hash]; ok {
		return hash, nil
	}
	var hdr [recordHeaderSize]byte
	copy(hdr[:32], hash[:])
	binary.LittleEndian.PutUint32(hdr[32:36], uint32(len(code)))
	off, err := cs.f.Append(hdr[:])
	if err != nil {
		return crypto.Hash{}, err
	}
	if _, err := cs.f.Append(code); err != nil {
		return crypto.Hash{}, err
	}
	cs.index[hash] = codeLoc{off: off + recordHeaderSize, length: uint32(len(code))}
	return hash, nil
}

// Get returns the code previously stored under hash.
func (cs *CodeStore) Get(hash crypto.Hash) ([]byte, bool, error) {
	cs.mu.Lock()
	loc, ok := cs.index[hash]
	cs.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, loc.length)
	if err := cs.f.ReadAt(loc.off, buf); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

// Flush durably syncs the code file.
func (cs *CodeStore) Flush() error {
	return cs.f.Flush()
}

// Close flushes and closes the code file.
func (cs *CodeStore) Close() error {
	return cs.f.Close()
}
