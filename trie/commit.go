package trie

// Commit-order traversal: dirty nodes are committed child-before-parent,
// but rather than recurse (which would blow the stack on a deep path
// and makes the "copy-on-write but never mutate in place" invariant
// harder to audit), the worklist is an explicit stack of frames visited
// twice, go-style deferred-processing: once to push its dirty children,
// once (after they're done) to encode and persist the node itself.

type frameState uint8

const (
	frameEnter frameState = iota
	frameExit
)

// writeback names where a just-committed child's new ChildRef should be
// written: either into a ShortNode's single child slot, a BranchNode's
// indexed slot, or (for the traversal's starting node) nowhere — the
// caller reads the result directly.
type writeback struct {
	short  *ShortNode
	branch *BranchNode
	idx    int
}

func (w writeback) set(ref ChildRef) {
	switch {
	case w.short != nil:
		w.short.Child = ref
	case w.branch != nil:
		w.branch.Children[w.idx] = ref
	}
}

type frame struct {
	dp    DirtyPtr
	state frameState
	wb    writeback
	root  bool
}

// commitRef commits every dirty node reachable from ref and returns its
// replacement, clean ChildRef. A ref that is already clean (including
// NilRef) is returned unchanged.
func (t *Trie) commitRef(ref ChildRef) (ChildRef, error) {
	if !ref.IsDirty() {
		return ref, nil
	}

	stack := []frame{{dp: ref.Dirty, state: frameEnter, root: true}}
	var result ChildRef

	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.store.GetDirty(fr.dp)

		if fr.state == frameEnter {
			stack = append(stack, frame{dp: fr.dp, state: frameExit, wb: fr.wb, root: fr.root})
			switch v := n.(type) {
			case *ShortNode:
				if v.Child.IsDirty() {
					stack = append(stack, frame{dp: v.Child.Dirty, state: frameEnter, wb: writeback{short: v}})
				}
			case *BranchNode:
				for i := 0; i < 17; i++ {
					if v.Children[i].IsDirty() {
						stack = append(stack, frame{dp: v.Children[i].Dirty, state: frameEnter, wb: writeback{branch: v, idx: i}})
					}
				}
			}
			continue
		}

		newRef, err := t.commitOne(fr.dp, n)
		if err != nil {
			return NilRef, err
		}
		if fr.root {
			result = newRef
		} else {
			fr.wb.set(newRef)
		}
	}

	return result, nil
}

// commitOne encodes n (whose children are all already committed),
// writes its storage record, and returns the ChildRef a parent should
// now point at. The arena slot is released: once written, the dirty
// copy is no longer needed.
func (t *Trie) commitOne(dp DirtyPtr, n Node) (ChildRef, error) {
	var item []byte
	var err error
	switch v := n.(type) {
	case *ValueNode:
		item = encodeValuePayload(v)
	case *ShortNode:
		if v.Child.Item, err = t.store.resolveItem(v.Child); err != nil {
			return NilRef, err
		}
		enc, err := encodeShort(v)
		if err != nil {
			return NilRef, err
		}
		item = RefItem(enc)
	case *BranchNode:
		for i := range v.Children {
			if c := &v.Children[i]; !c.IsNil() {
				if c.Item, err = t.store.resolveItem(*c); err != nil {
					return NilRef, err
				}
			}
		}
		enc, err := encodeBranch(v)
		if err != nil {
			return NilRef, err
		}
		item = RefItem(enc)
		v.itemCache = item
		if err := t.store.writeAHA(v); err != nil {
			return NilRef, err
		}
	default:
		return NilRef, ErrCorruptNode
	}

	ptr, err := t.store.writeNode(n)
	if err != nil {
		return NilRef, err
	}
	t.store.TakeDirty(dp)
	return ChildRef{Dirty: NoDirty, Clean: ptr, Item: item}, nil
}

// Commit persists every pending change and returns the new root
// CleanPtr together with the canonical root hash. An empty trie commits
// to CleanPtr 0 and the canonical empty-trie hash. A trie that was
// reopened from a CleanPtr and never mutated has no dirty work to
// commit, but its root ref was never cached with its own reference
// item either, so that item is resolved from the node graph here rather
// than assumed nil. Once the new root's records are appended to the node
// file (Commit does not flush it), any AHA records superseded by
// copy-on-write during this commit are promoted from pending to
// reusable, so the next commit may overwrite them; a branch of an older
// root read through such a record fails hydrateAHA's validation and has
// its children's items recomputed from the node graph.
func (t *Trie) Commit() (CleanPtr, [32]byte, error) {
	ref, err := t.commitRef(t.root)
	if err != nil {
		return 0, [32]byte{}, err
	}
	t.root = ref
	t.store.PromoteAHA()
	if ref.IsNil() {
		return 0, emptyRoot, nil
	}
	item := ref.Item
	if item == nil {
		item, err = t.store.resolveItem(ref)
		if err != nil {
			return 0, [32]byte{}, err
		}
	}
	return ref.Clean, rootHashFromItem(item), nil
}

// Hash returns the canonical root hash without requiring a prior
// Commit; it commits internally (there is no meaningful canonical hash
// for uncommitted, unencoded dirty state) but the caller is not
// obligated to act on the returned CleanPtr.
func (t *Trie) Hash() ([32]byte, error) {
	_, h, err := t.Commit()
	return h, err
}
