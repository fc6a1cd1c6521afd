package trie

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/ahadb/ahadb/aha"
	"github.com/ahadb/ahadb/log"
	"github.com/ahadb/ahadb/metrics"
	"github.com/ahadb/ahadb/pagefile"
)

// NodeStore is the two-address-space node graph backing a Trie: a dense
// dirty arena for nodes created or copy-on-write-promoted since the last
// commit, a byte-bounded clean cache in front of the append-only node
// file, and an optional AHA side-index for branch children.
type NodeStore struct {
	dirty    []Node
	free     []DirtyPtr
	clean    *fastcache.Cache
	backend  *pagefile.File
	ahaStore *aha.Store
	log      *log.Logger
	hits     *metrics.Registry
}

// NewNodeStore wires a dirty arena in front of backend, with a clean-node
// cache bounded to cleanCacheBytes (at least 64 KiB) and ahaStore an optional AHA
// side-index (nil disables AHA entirely; every branch is then encoded
// with all 17 children inline).
func NewNodeStore(backend *pagefile.File, cleanCacheBytes int, ahaStore *aha.Store) *NodeStore {
	return &NodeStore{
		clean:    fastcache.New(maxInt(cleanCacheBytes, 1<<16)),
		backend:  backend,
		ahaStore: ahaStore,
		log:      log.Module("store"),
		hits:     metrics.NewRegistry(),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// AddDirty places n in the dirty arena and returns its DirtyPtr,
// reusing a freed slot when available.
func (s *NodeStore) AddDirty(n Node) DirtyPtr {
	if k := len(s.free); k > 0 {
		p := s.free[k-1]
		s.free = s.free[:k-1]
		s.dirty[p] = n
		return p
	}
	s.dirty = append(s.dirty, n)
	return DirtyPtr(len(s.dirty) - 1)
}

// GetDirty returns the node at p without removing it.
func (s *NodeStore) GetDirty(p DirtyPtr) Node {
	return s.dirty[p]
}

// PutDirty overwrites the node at an already-allocated slot.
func (s *NodeStore) PutDirty(p DirtyPtr, n Node) {
	s.dirty[p] = n
}

// TakeDirty removes and returns the node at p, releasing the slot to
// the free list. Used once a dirty node has been committed and its
// arena slot is no longer needed.
func (s *NodeStore) TakeDirty(p DirtyPtr) Node {
	n := s.dirty[p]
	s.dirty[p] = nil
	s.free = append(s.free, p)
	return n
}

// cleanKey encodes a CleanPtr as the fastcache lookup key.
func cleanKey(ptr CleanPtr) []byte {
	var k [8]byte
	binary.LittleEndian.PutUint64(k[:], uint64(ptr))
	return k[:]
}

// GetClean resolves a committed node by its on-disk offset, consulting
// the clean cache before falling back to the backend file.
func (s *NodeStore) GetClean(ptr CleanPtr) (Node, error) {
	n, err := s.getCleanRaw(ptr)
	if err != nil {
		return nil, err
	}
	if b, ok := n.(*BranchNode); ok && b.AHALen != 0 {
		s.hydrateAHA(b)
	}
	return n, nil
}

func (s *NodeStore) getCleanRaw(ptr CleanPtr) (Node, error) {
	key := cleanKey(ptr)
	if buf, ok := s.clean.HasGet(nil, key); ok {
		s.hits.Get("clean_hit").Mark(1)
		return decodeStorage(buf)
	}
	s.hits.Get("clean_miss").Mark(1)

	var lenBuf [4]byte
	if err := s.backend.ReadAt(int64(ptr), lenBuf[:]); err != nil {
		return nil, fmt.Errorf("trie: read node length @%d: %w", ptr, err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if err := s.backend.ReadAt(int64(ptr)+4, buf); err != nil {
		return nil, fmt.Errorf("trie: read node body @%d: %w", ptr, err)
	}
	s.clean.Set(key, buf)
	return decodeStorage(buf)
}

// presentStructuralIndices returns, in nibble order, the indices among a
// branch's 16 structural slots (0-15) that hold a child. The value slot
// (16) is never structural and is excluded.
func presentStructuralIndices(b *BranchNode) []int {
	idxs := make([]int, 0, 16)
	for i := 0; i < 16; i++ {
		if !b.Children[i].IsNil() {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// hydrateAHA fills in a branch's present structural children's reference
// items from its AHA record, then validates the load by recomputing the
// branch's own reference item and comparing it against the value cached
// when the branch was last committed. A mismatch — the record belongs
// to a different version of this branch, or simply doesn't decode to
// the expected arity — discards the loaded items rather than trust
// them. Either way, the caller falls back to resolveItem, which
// recomputes each child's item from the node graph on demand; this is
// the only place that fallback applies, since a freshly decoded node
// otherwise already carries its value child's item inline in its own
// storage record.
func (s *NodeStore) hydrateAHA(b *BranchNode) {
	idxs := presentStructuralIndices(b)
	items := s.loadAHA(b)
	if items == nil {
		return
	}
	if len(idxs) > len(items) {
		s.log.Debug("aha arity mismatch, falling back", "aha_len", b.AHALen, "present", len(idxs))
		s.hits.Get("aha_validation_miss").Mark(1)
		return
	}
	for j, i := range idxs {
		if len(items[j]) > 0 {
			b.Children[i].Item = items[j]
		}
	}
	if len(b.itemCache) == 0 {
		return
	}
	enc, err := encodeBranch(b)
	if err != nil || !bytes.Equal(RefItem(enc), b.itemCache) {
		s.log.Debug("aha validation mismatch, falling back", "aha_len", b.AHALen, "aha_ptr", b.AHAPtr)
		for _, i := range idxs {
			b.Children[i].Item = nil
		}
		s.hits.Get("aha_validation_miss").Mark(1)
	}
}

// resolveItem returns ref's reference item, recomputing it from the
// node graph if it was not already cached (the AHA-miss repair path).
func (s *NodeStore) resolveItem(ref ChildRef) ([]byte, error) {
	if ref.IsNil() {
		return []byte{0x80}, nil
	}
	if ref.Item != nil {
		return ref.Item, nil
	}
	n, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	switch v := n.(type) {
	case *ValueNode:
		return encodeValuePayload(v), nil
	case *ShortNode:
		enc, err := s.encodeShortResolved(v)
		if err != nil {
			return nil, err
		}
		return RefItem(enc), nil
	case *BranchNode:
		enc, err := s.encodeBranchResolved(v)
		if err != nil {
			return nil, err
		}
		return RefItem(enc), nil
	default:
		return nil, ErrCorruptNode
	}
}

func (s *NodeStore) encodeShortResolved(v *ShortNode) ([]byte, error) {
	item, err := s.resolveItem(v.Child)
	if err != nil {
		return nil, err
	}
	cp := *v
	cp.Child.Item = item
	return encodeShort(&cp)
}

func (s *NodeStore) encodeBranchResolved(v *BranchNode) ([]byte, error) {
	cp := *v
	for i := range cp.Children {
		item, err := s.resolveItem(v.Children[i])
		if err != nil {
			return nil, err
		}
		cp.Children[i].Item = item
	}
	return encodeBranch(&cp)
}

// CowClean copy-on-write promotes a committed node into the dirty
// arena, returning a fresh DirtyPtr pointing at an independent copy.
// The original on-disk record is left untouched: the node file is
// append-only, so every version that was ever reachable from a root
// stays readable for as long as its CleanPtr is retained.
func (s *NodeStore) CowClean(ptr CleanPtr) (DirtyPtr, Node, error) {
	n, err := s.GetClean(ptr)
	if err != nil {
		return NoDirty, nil, err
	}
	var cp Node
	switch v := n.(type) {
	case *ValueNode:
		cp = v.copy()
	case *ShortNode:
		sc := v.copy()
		sc.dirty = true
		cp = sc
	case *BranchNode:
		bc := v.copy()
		bc.dirty = true
		cp = bc
	}
	return s.AddDirty(cp), cp, nil
}

// resolve returns the Node a ChildRef points at, wherever it lives.
func (s *NodeStore) resolve(ref ChildRef) (Node, error) {
	if ref.IsDirty() {
		return s.GetDirty(ref.Dirty), nil
	}
	if ref.Clean != 0 {
		return s.GetClean(ref.Clean)
	}
	return nil, nil
}

// writeNode appends a node's storage encoding to the backend and
// returns its CleanPtr.
func (s *NodeStore) writeNode(n Node) (CleanPtr, error) {
	body := encodeStorage(n)
	if s.backend.Tail() == 0 {
		// Offset 0 is reserved: a zero CleanPtr means "no node".
		if _, err := s.backend.Append([]byte{0}); err != nil {
			return 0, err
		}
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	off, err := s.backend.Append(lenBuf[:])
	if err != nil {
		return 0, err
	}
	if _, err := s.backend.Append(body); err != nil {
		return 0, err
	}
	ptr := CleanPtr(off)
	s.clean.Set(cleanKey(ptr), body)
	return ptr, nil
}

// loadAHA returns the c cached reference items for a branch, preferring
// its AHA record and falling back (silently, per the store's
// error-handling contract) to nil when AHA is disabled, unconfigured
// for this arity, or its record fails validation.
func (s *NodeStore) loadAHA(n *BranchNode) [][]byte {
	if s.ahaStore == nil || n.AHALen == 0 {
		return nil
	}
	items, err := s.ahaStore.Read(n.AHALen, n.AHAPtr)
	if err != nil {
		s.log.Debug("aha load fallback", "aha_len", n.AHALen, "aha_ptr", n.AHAPtr, "err", err)
		s.hits.Get("aha_miss").Mark(1)
		return nil
	}
	s.hits.Get("aha_hit").Mark(1)
	return items
}

// writeAHA stores a branch's present structural-children (indices 0-15)
// reference items contiguously in the smallest configured AHA tier that
// fits their count, updating n.AHALen/AHAPtr. The value slot (index 16)
// is never AHA-backed: a leaf value's item is its raw RLP encoding,
// which is unbounded in length and does not fit a fixed 34-byte slot,
// unlike every structural child's item (always <=33 bytes under the
// hash-or-inline rule). A no-op if AHA is disabled.
//
// A branch re-committed after copy-on-write carries over its prior
// AHALen/AHAPtr, but that old record must never be overwritten in
// place: it may still be what a reader resolves this same branch's
// still-on-disk node record through on an earlier, still-valid root.
// writeAHA therefore always allocates a fresh record for the new array
// and stages the old one for recycling rather than reusing its offset.
func (s *NodeStore) writeAHA(n *BranchNode) error {
	if s.ahaStore == nil {
		return nil
	}
	oldLen, oldPtr := n.AHALen, n.AHAPtr

	idxs := presentStructuralIndices(n)
	if len(idxs) == 0 {
		n.AHALen, n.AHAPtr = 0, 0
		if oldLen != 0 {
			return s.ahaStore.Recycle(oldLen, oldPtr)
		}
		return nil
	}

	c, ok := s.ahaStore.TierFor(len(idxs))
	if !ok {
		return fmt.Errorf("trie: no aha tier configured for %d children: %w", len(idxs), aha.ErrNoTier)
	}

	items := make([][]byte, c)
	for j, i := range idxs {
		items[j] = n.Children[i].Item
	}

	ptr, err := s.ahaStore.Write(c, 0, items)
	if err != nil {
		return err
	}
	n.AHALen, n.AHAPtr = c, ptr

	if oldLen != 0 {
		if err := s.ahaStore.Recycle(oldLen, oldPtr); err != nil {
			return err
		}
	}
	return nil
}

// PromoteAHA moves every AHA tier's staged-for-recycling records into
// its reusable free list. Called once at the end of every Trie.Commit
// (the node file is not flushed there), so a record superseded by this
// commit's copy-on-write work is never reused within the same commit but
// can be reused by the next one.
func (s *NodeStore) PromoteAHA() {
	if s.ahaStore != nil {
		s.ahaStore.PromotePending()
	}
}

// Flush durably syncs the backend node file and, if configured, the AHA
// side-index.
func (s *NodeStore) Flush() error {
	if s.ahaStore != nil {
		if err := s.ahaStore.Flush(); err != nil {
			return err
		}
	}
	return s.backend.Flush()
}

// Stats returns a snapshot of cache hit/miss counters.
func (s *NodeStore) Stats() map[string]int64 {
	return s.hits.Snapshot()
}
