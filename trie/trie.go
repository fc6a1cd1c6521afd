package trie

import "github.com/ahadb/ahadb/crypto"

// Trie is a Merkle Patricia Trie rooted at a ChildRef, backed by a
// NodeStore. A freshly opened Trie's root is either NilRef (empty) or a
// ChildRef pointing at a committed node loaded from a prior root.
type Trie struct {
	store *NodeStore
	root  ChildRef
}

// New creates an empty trie over store.
func New(store *NodeStore) *Trie {
	return &Trie{store: store, root: NilRef}
}

// Open reconstructs a trie whose root was previously committed at ptr.
func Open(store *NodeStore, ptr CleanPtr) *Trie {
	if ptr == 0 {
		return New(store)
	}
	return &Trie{store: store, root: ChildRef{Dirty: NoDirty, Clean: ptr}}
}

// Get looks up key. The third return value carries any fatal I/O or
// corruption error; an absent key is reported as (nil, false, nil).
func (t *Trie) Get(key []byte) ([]byte, bool, error) {
	return t.find(t.root, keybytesToHex(key), 0)
}

func (t *Trie) find(ref ChildRef, key []byte, pos int) ([]byte, bool, error) {
	if ref.IsNil() {
		return nil, false, nil
	}
	n, err := t.store.resolve(ref)
	if err != nil {
		return nil, false, err
	}
	switch v := n.(type) {
	case *ValueNode:
		return v.Value, true, nil
	case *ShortNode:
		if len(key)-pos < len(v.Path) || !keysEqual(v.Path, key[pos:pos+len(v.Path)]) {
			return nil, false, nil
		}
		return t.find(v.Child, key, pos+len(v.Path))
	case *BranchNode:
		if pos >= len(key) {
			return t.find(v.Children[16], key, pos)
		}
		return t.find(v.Children[key[pos]], key, pos+1)
	default:
		return nil, false, nil
	}
}

// Insert stores value (and opaque extra metadata) under key, replacing
// any existing value.
func (t *Trie) Insert(key, value, extra []byte) error {
	k := keybytesToHex(key)
	leaf := &ValueNode{Value: value, Extra: extra}
	ref, err := t.insert(t.root, k, dirtyRef(t.store.AddDirty(leaf)))
	if err != nil {
		return err
	}
	t.root = ref
	return nil
}

// insert places valueRef (a ChildRef to a freshly-arena'd ValueNode) at
// key beneath ref, copy-on-write promoting any clean node it must
// descend through, and returns the (now dirty) replacement ref.
func (t *Trie) insert(ref ChildRef, key []byte, valueRef ChildRef) (ChildRef, error) {
	if len(key) == 0 {
		return valueRef, nil
	}

	if ref.IsNil() {
		leaf := &ShortNode{Path: key, Child: valueRef, dirty: true}
		return dirtyRef(t.store.AddDirty(leaf)), nil
	}

	dp, n, err := t.cowInto(ref)
	if err != nil {
		return NilRef, err
	}

	switch v := n.(type) {
	case *ShortNode:
		match := prefixLen(key, v.Path)
		if match == len(v.Path) {
			childRef, err := t.insert(v.Child, key[match:], valueRef)
			if err != nil {
				return NilRef, err
			}
			v.Child = childRef
			t.store.PutDirty(dp, v)
			return dirtyRef(dp), nil
		}

		branch := &BranchNode{dirty: true}
		for i := range branch.Children {
			branch.Children[i] = NilRef
		}
		branchRef := dirtyRef(t.store.AddDirty(branch))

		existingRef, err := t.insert(NilRef, v.Path[match+1:], v.Child)
		if err != nil {
			return NilRef, err
		}
		branch.Children[v.Path[match]] = existingRef

		newRef, err := t.insert(NilRef, key[match+1:], valueRef)
		if err != nil {
			return NilRef, err
		}
		branch.Children[key[match]] = newRef

		if match > 0 {
			ext := &ShortNode{Path: key[:match], Child: branchRef, dirty: true}
			return dirtyRef(t.store.AddDirty(ext)), nil
		}
		return branchRef, nil

	case *BranchNode:
		childRef, err := t.insert(v.Children[key[0]], key[1:], valueRef)
		if err != nil {
			return NilRef, err
		}
		v.Children[key[0]] = childRef
		t.store.PutDirty(dp, v)
		return dirtyRef(dp), nil

	default:
		return NilRef, ErrCorruptNode
	}
}

// cowInto resolves ref to a dirty node, copy-on-write promoting it from
// the clean store first if necessary, and returns its dirty arena slot.
func (t *Trie) cowInto(ref ChildRef) (DirtyPtr, Node, error) {
	if ref.IsDirty() {
		return ref.Dirty, t.store.GetDirty(ref.Dirty), nil
	}
	return t.store.CowClean(ref.Clean)
}

// Delete removes key. Deleting an absent key is a no-op.
func (t *Trie) Delete(key []byte) error {
	k := keybytesToHex(key)
	ref, err := t.delete(t.root, k)
	if err != nil {
		return err
	}
	t.root = ref
	return nil
}

func (t *Trie) delete(ref ChildRef, key []byte) (ChildRef, error) {
	if ref.IsNil() {
		return NilRef, nil
	}
	n, err := t.store.resolve(ref)
	if err != nil {
		return NilRef, err
	}

	switch v := n.(type) {
	case *ValueNode:
		return NilRef, nil

	case *ShortNode:
		match := prefixLen(key, v.Path)
		if match < len(v.Path) {
			return ref, nil
		}
		if match == len(key) {
			return NilRef, nil
		}
		childRef, err := t.delete(v.Child, key[len(v.Path):])
		if err != nil {
			return NilRef, err
		}
		if childRef.IsNil() {
			return NilRef, nil
		}
		if merged, ok, err := t.mergeShort(v.Path, childRef); err != nil {
			return NilRef, err
		} else if ok {
			return merged, nil
		}
		dp, dn, err := t.cowInto(ref)
		if err != nil {
			return NilRef, err
		}
		sn := dn.(*ShortNode)
		sn.Child = childRef
		t.store.PutDirty(dp, sn)
		return dirtyRef(dp), nil

	case *BranchNode:
		dp, dn, err := t.cowInto(ref)
		if err != nil {
			return NilRef, err
		}
		bn := dn.(*BranchNode)
		childRef, err := t.delete(bn.Children[key[0]], key[1:])
		if err != nil {
			return NilRef, err
		}
		bn.Children[key[0]] = childRef
		t.store.PutDirty(dp, bn)

		remaining := -1
		for i := 0; i < 17; i++ {
			if !bn.Children[i].IsNil() {
				if remaining >= 0 {
					return dirtyRef(dp), nil
				}
				remaining = i
			}
		}
		if remaining < 0 {
			return NilRef, nil
		}
		if remaining == 16 {
			leaf := &ShortNode{Path: []byte{Terminator}, Child: bn.Children[16], dirty: true}
			return dirtyRef(t.store.AddDirty(leaf)), nil
		}
		return t.collapseOnto(byte(remaining), bn.Children[remaining])

	default:
		return NilRef, ErrCorruptNode
	}
}

// mergeShort attempts to fold childRef (the surviving child of a
// ShortNode whose own subtree just collapsed) into this ShortNode's
// path, returning ok=false when childRef is not itself a ShortNode.
func (t *Trie) mergeShort(path []byte, childRef ChildRef) (ChildRef, bool, error) {
	cn, err := t.store.resolve(childRef)
	if err != nil {
		return NilRef, false, err
	}
	sn, ok := cn.(*ShortNode)
	if !ok {
		return NilRef, false, nil
	}
	merged := &ShortNode{Path: concatNibbles(path, sn.Path), Child: sn.Child, dirty: true}
	return dirtyRef(t.store.AddDirty(merged)), true, nil
}

// collapseOnto builds the single-child replacement for a branch reduced
// to one remaining child at nibble.
func (t *Trie) collapseOnto(nibble byte, childRef ChildRef) (ChildRef, error) {
	cn, err := t.store.resolve(childRef)
	if err != nil {
		return NilRef, err
	}
	if sn, ok := cn.(*ShortNode); ok {
		merged := &ShortNode{Path: concatNibbles([]byte{nibble}, sn.Path), Child: sn.Child, dirty: true}
		return dirtyRef(t.store.AddDirty(merged)), nil
	}
	wrapper := &ShortNode{Path: []byte{nibble}, Child: childRef, dirty: true}
	return dirtyRef(t.store.AddDirty(wrapper)), nil
}

// Empty reports whether the trie has no root.
func (t *Trie) Empty() bool { return t.root.IsNil() }

// rootHashFromItem returns the canonical hash a committed ref's reference
// item stands for, handling the under-32-byte inline case by re-hashing
// its raw RLP (the root is always hashed in "force" mode, per the
// Yellow Paper: only non-root reference items may be left inline).
func rootHashFromItem(item []byte) [32]byte {
	if len(item) == 0 {
		return emptyRoot
	}
	if len(item) == 33 && item[0] == 0xa0 {
		var h [32]byte
		copy(h[:], item[1:])
		return h
	}
	return [32]byte(crypto.Keccak256Hash(item))
}
