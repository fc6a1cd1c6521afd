// Package aha implements the Aggregated Hash Array: a tiered side-index
// that stores a branch node's children reference items contiguously, so
// that hashing or re-hashing a branch never requires resolving every
// child node just to read its reference item.
//
// A tier is chosen by arity: a branch with n present structural
// children is packed into the smallest configured tier whose capacity
// covers n, so a sparse branch never pays for 16 slots it doesn't use.
// Each tier is keyed by its capacity C and lives in its own file of
// fixed C*34-byte records; new records are appended and recycled ones
// are rewritten in place. A record holds C reference-item
// slots, each 34 bytes: a one-byte length followed by up to 33 bytes of
// payload (either the raw RLP of a child under 32 bytes, or a 32-byte
// Keccak digest prefixed implicitly by its own encoding).
//
// A record superseded by a copy-on-write re-commit of its branch is
// not recycled immediately: Recycle only stages an offset onto its
// tier's pending list, and PromotePending moves staged offsets into the
// reusable free list. The trie calls PromotePending at the end of every
// commit, so a superseded record can be overwritten by the next commit
// while an older root's branch still points at it; the trie detects
// this by validating the loaded items against the branch's own cached
// reference item, and recomputes them on a mismatch. Offset 0 of every
// tier holds a reserved record that is never handed out and never
// recycled: AHAPtr == 0 means the branch has no AHA-backed children
// array.
package aha

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ahadb/ahadb/log"
	"github.com/ahadb/ahadb/pagefile"
)

// ItemSlotSize is the fixed size of one reference-item slot: one length
// byte plus up to 33 payload bytes (a 32-byte hash reference item is
// always exactly 33 bytes: the 0xa0 RLP string-header byte plus the
// 32-byte digest).
const ItemSlotSize = 34

// MaxItemLen is the largest reference item a slot can hold.
const MaxItemLen = ItemSlotSize - 1

type tier struct {
	c       int
	stride  int64
	f       *pagefile.File
	free    []uint64
	pending []uint64
}

func (t *tier) alloc() (uint64, error) {
	if n := len(t.free); n > 0 {
		off := t.free[n-1]
		t.free = t.free[:n-1]
		return off, nil
	}
	off, err := t.f.Append(make([]byte, t.stride))
	if err != nil {
		return 0, err
	}
	return uint64(off), nil
}

func (t *tier) stage(off uint64) error {
	if off == 0 {
		return fmt.Errorf("aha: refusing to recycle offset 0 (tier c=%d): %w", t.c, ErrReservedOffset)
	}
	t.pending = append(t.pending, off)
	return nil
}

func (t *tier) promote() {
	t.free = append(t.free, t.pending...)
	t.pending = t.pending[:0]
}

// Store manages every configured AHA tier.
type Store struct {
	mu    sync.Mutex
	log   *log.Logger
	tiers map[int]*tier
}

// Open opens (or creates) one tier file per entry in lens, named
// "aha_<N>" under dir.
func Open(dir string, lens []int, cacheBytes int, truncate bool) (*Store, error) {
	s := &Store{
		log:   log.Module("aha"),
		tiers: make(map[int]*tier, len(lens)),
	}
	for _, c := range lens {
		path := filepath.Join(dir, fmt.Sprintf("aha_%d", c))
		f, err := pagefile.Open(path, cacheBytes, truncate)
		if err != nil {
			return nil, fmt.Errorf("aha: open tier c=%d: %w", c, err)
		}
		t := &tier{c: c, stride: int64(c) * ItemSlotSize, f: f}
		if f.Tail() == 0 {
			// Burn offset 0 on a reserved record: it is never handed
			// out by alloc, since a zero AHAPtr means "no allocation".
			if _, err := f.Append(make([]byte, t.stride)); err != nil {
				return nil, fmt.Errorf("aha: reserve offset 0 for tier c=%d: %w", c, err)
			}
		}
		s.tiers[c] = t
	}
	return s, nil
}

func (s *Store) tierFor(c int) (*tier, error) {
	t, ok := s.tiers[c]
	if !ok {
		return nil, fmt.Errorf("aha: no tier configured for c=%d: %w", c, ErrNoTier)
	}
	return t, nil
}

// TierFor picks the smallest configured tier capacity able to hold n
// items, reporting ok=false if every configured tier is smaller than n.
func (s *Store) TierFor(n int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := -1
	for c := range s.tiers {
		if c >= n && (best == -1 || c < best) {
			best = c
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// Write allocates (or overwrites, via ptr) a record in the tier for c
// reference items and stores them. ptr == 0 requests a fresh
// allocation; a nonzero ptr overwrites the existing record in place, so
// callers that must preserve a superseded record for historical readers
// (trie.NodeStore.writeAHA, notably) always pass 0 and stage the old
// offset with Recycle instead of passing it back in here. Returns the
// record's offset.
func (s *Store) Write(c int, ptr uint64, items [][]byte) (uint64, error) {
	if len(items) != c {
		return 0, fmt.Errorf("aha: write expects %d items, got %d", c, len(items))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tierFor(c)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, t.stride)
	for i, item := range items {
		if len(item) > MaxItemLen {
			return 0, fmt.Errorf("aha: item %d too long (%d > %d)", i, len(item), MaxItemLen)
		}
		off := i * ItemSlotSize
		buf[off] = byte(len(item))
		copy(buf[off+1:off+1+len(item)], item)
	}

	if ptr == 0 {
		ptr, err = t.alloc()
		if err != nil {
			return 0, err
		}
	}
	if err := t.f.WriteAt(int64(ptr), buf); err != nil {
		return 0, fmt.Errorf("aha: write tier c=%d @%d: %w", c, ptr, err)
	}
	return ptr, nil
}

// Read loads the c reference items stored at ptr. A validation mismatch
// (short read, bad length byte) is reported via error so the caller can
// fall back to recomputing the items from the node graph; per the
// store's contract this is never treated as fatal corruption.
func (s *Store) Read(c int, ptr uint64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.tierFor(c)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, t.stride)
	if err := t.f.ReadAt(int64(ptr), buf); err != nil {
		s.log.Debug("aha read miss, falling back", "c", c, "ptr", ptr, "err", err)
		return nil, fmt.Errorf("aha: read tier c=%d @%d: %w", c, ptr, err)
	}

	items := make([][]byte, c)
	for i := 0; i < c; i++ {
		off := i * ItemSlotSize
		n := int(buf[off])
		if n > MaxItemLen {
			s.log.Debug("aha validation mismatch, falling back", "c", c, "ptr", ptr, "slot", i)
			return nil, fmt.Errorf("aha: invalid slot length %d at tier c=%d @%d: %w", n, c, ptr, ErrValidation)
		}
		item := make([]byte, n)
		copy(item, buf[off+1:off+1+n])
		items[i] = item
	}
	return items, nil
}

// Recycle stages a record for reuse: it is not added to its tier's free
// list until PromotePending is called, so a record superseded during a
// commit is not reused by that same commit. Offset 0 is the reserved
// record of every tier and is always refused with ErrReservedOffset.
func (s *Store) Recycle(c int, ptr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tierFor(c)
	if err != nil {
		return err
	}
	return t.stage(ptr)
}

// PromotePending moves every tier's staged-for-recycling records into
// its reusable free list. The trie calls it at the end of each commit,
// so records superseded by that commit's copy-on-write work become
// available to the next commit.
func (s *Store) PromotePending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tiers {
		t.promote()
	}
}

// Flush durably syncs every tier file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c, t := range s.tiers {
		if err := t.f.Flush(); err != nil {
			return fmt.Errorf("aha: flush tier c=%d: %w", c, err)
		}
	}
	return nil
}

// Close flushes and closes every tier file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c, t := range s.tiers {
		if err := t.f.Close(); err != nil {
			return fmt.Errorf("aha: close tier c=%d: %w", c, err)
		}
	}
	return nil
}
