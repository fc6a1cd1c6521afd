package trie

import (
	"encoding/binary"
	"fmt"

	"github.com/ahadb/ahadb/pagefile"
)

// recordSize is the width of one core root-journal record: an 8-byte
// little-endian CleanPtr naming the trie root committed at that index.
const recordSize = 8

// Journal is the append-only sequence of committed roots, with
// consecutive duplicates recorded once. It
// exists only to let DB.Open restore "the latest root" across a process
// restart (and, for a caller enumerating history, to name the CleanPtrs
// a DB has ever published) — it is internal bookkeeping, not the public
// root identifier: that identifier is the root's own CleanPtr, per
// spec, with zero denoting the empty trie.
type Journal struct {
	f *pagefile.File
}

// OpenJournal opens the root journal file at path.
func OpenJournal(path string, cacheBytes int, truncate bool) (*Journal, error) {
	f, err := pagefile.Open(path, cacheBytes, truncate)
	if err != nil {
		return nil, fmt.Errorf("trie: open journal: %w", err)
	}
	return &Journal{f: f}, nil
}

// Len returns the number of committed roots recorded.
func (j *Journal) Len() uint64 {
	return uint64(j.f.Tail()) / recordSize
}

// Append records root as the new latest root, returning its index. A
// root identical to the last recorded one is not appended again — a
// no-op commit must not grow the journal — and the existing index is
// returned instead.
func (j *Journal) Append(root CleanPtr) (uint64, error) {
	if n := j.Len(); n > 0 {
		last, err := j.At(n - 1)
		if err != nil {
			return 0, err
		}
		if last == root {
			return n - 1, nil
		}
	}
	var buf [recordSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(root))
	off, err := j.f.Append(buf[:])
	if err != nil {
		return 0, err
	}
	return uint64(off) / recordSize, nil
}

// At returns the CleanPtr recorded at index.
func (j *Journal) At(index uint64) (CleanPtr, error) {
	buf := make([]byte, recordSize)
	if err := j.f.ReadAt(int64(index)*recordSize, buf); err != nil {
		return 0, fmt.Errorf("trie: read journal record %d: %w", index, err)
	}
	return CleanPtr(binary.LittleEndian.Uint64(buf)), nil
}

// Flush durably syncs the journal file.
func (j *Journal) Flush() error { return j.f.Flush() }

// Close flushes and closes the journal file.
func (j *Journal) Close() error { return j.f.Close() }
