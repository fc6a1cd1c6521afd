// Package trie implements a persistent Merkle Patricia Trie whose nodes
// live in one of two disjoint address spaces: a dense in-memory dirty
// arena for uncommitted work, and an append-only on-disk node file
// addressed by byte offset. Committing moves nodes from the former to
// the latter; nothing is ever mutated or freed in place on disk.
package trie

import "fmt"

// CleanPtr is a byte offset into the append-only node file. Every
// committed node has exactly one CleanPtr, assigned the moment it is
// written and never reused.
type CleanPtr uint64

// DirtyPtr indexes a slot in a NodeStore's in-memory arena. It is only
// meaningful for the lifetime of the NodeStore that issued it.
type DirtyPtr int

// NoDirty is the DirtyPtr value meaning "not a dirty node".
const NoDirty DirtyPtr = -1

// Nibble is a single hex digit of a trie path, 0-15, or Terminator.
type Nibble = byte

// Terminator marks the end of a leaf's path once it has been expanded
// from raw key bytes into nibbles.
const Terminator Nibble = 16

// ChildRef is a reference to a child node: either a node still in the
// dirty arena, a node committed to disk at a known offset, or a node
// known only by its precomputed reference item (so that hashing the
// parent never needs to resolve the child at all).
type ChildRef struct {
	Dirty DirtyPtr // NoDirty if this ref is not a dirty-arena node
	Clean CleanPtr // valid on-disk offset, 0 if the child was never committed
	Item  []byte   // cached reference item (see RefItem), nil if not computed
}

// NilRef is the ChildRef meaning "no child". It is not the Go zero value:
// ChildRef{} has Dirty 0, which names dirty-arena slot 0.
var NilRef = ChildRef{Dirty: NoDirty}

// IsNil reports whether the ref points to nothing.
func (r ChildRef) IsNil() bool {
	return r.Dirty == NoDirty && r.Clean == 0 && r.Item == nil
}

// IsDirty reports whether the ref currently points into the dirty arena.
func (r ChildRef) IsDirty() bool { return r.Dirty != NoDirty }

// dirtyRef builds a ChildRef pointing at a dirty-arena slot.
func dirtyRef(p DirtyPtr) ChildRef { return ChildRef{Dirty: p} }

// Node is implemented by ValueNode, ShortNode and BranchNode.
type Node interface {
	isNode()
}

// ValueNode is a leaf's stored payload. Extra carries caller-supplied
// opaque metadata (e.g. a version stamp) that never participates in the
// canonical RLP encoding or hash.
type ValueNode struct {
	Value []byte
	Extra []byte
}

func (*ValueNode) isNode() {}

// ShortNode is an extension (child is another Short/Branch) or leaf
// (child is a ValueNode) node, distinguished by whether Path ends in
// Terminator.
type ShortNode struct {
	Path  []byte // hex nibbles, possibly including a trailing Terminator
	Child ChildRef
	dirty bool
}

func (*ShortNode) isNode() {}

// BranchNode fans out on one nibble to up to 16 children plus an
// optional value at index 16. AHALen/AHAPtr, when AHALen != 0, name the
// AHA tier and record holding this branch's present structural
// children's reference items contiguously, so re-hashing the branch
// after editing one child never requires resolving the others.
// itemCache holds the branch's own reference item as computed the
// moment it was last committed, persisted alongside it so a later load
// can recompute and compare against it to validate an AHA record
// without trusting the record's self-reported shape alone.
type BranchNode struct {
	Children  [17]ChildRef
	itemCache []byte
	AHALen    int
	AHAPtr    uint64
	dirty     bool
}

func (*BranchNode) isNode() {}

func (n *BranchNode) copy() *BranchNode {
	cp := *n
	cp.itemCache = nil
	return &cp
}

func (n *ShortNode) copy() *ShortNode {
	cp := *n
	return &cp
}

func (v *ValueNode) copy() *ValueNode {
	cp := *v
	return &cp
}

func keysEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func concatNibbles(a, b []byte) []byte {
	r := make([]byte, len(a)+len(b))
	copy(r, a)
	copy(r[len(a):], b)
	return r
}

func (n *BranchNode) String() string {
	return fmt.Sprintf("Branch(aha_len=%d,aha_ptr=%d)", n.AHALen, n.AHAPtr)
}
