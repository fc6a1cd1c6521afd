// Codec implements two distinct encodings per node, grounded on the
// teacher's hasher.go: the canonical Ethereum RLP encoding (used only to
// compute hashes and reference items) and a separate storage encoding
// (used to persist nodes to the node file, carrying absolute CleanPtr
// children instead of embedded/hashed ones).
package trie

import (
	"encoding/binary"
	"fmt"

	"github.com/ahadb/ahadb/crypto"
	"github.com/ahadb/ahadb/rlp"
)

// RefItem computes a child's reference item from its canonical RLP
// encoding: raw bytes if under 32 bytes long, otherwise the RLP string
// encoding of its Keccak-256 hash (always 33 bytes, 0xa0-prefixed).
func RefItem(encoded []byte) []byte {
	if len(encoded) < 32 {
		out := make([]byte, len(encoded))
		copy(out, encoded)
		return out
	}
	hash := crypto.Keccak256(encoded)
	enc, _ := rlp.EncodeToBytes(hash)
	return enc
}

// emptyRoot is the canonical hash of an empty trie.
var emptyRoot = crypto.Keccak256Hash(mustEncode([]byte{}))

func mustEncode(v any) []byte {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(err)
	}
	return b
}

// encodeValuePayload returns the canonical RLP encoding of a leaf's
// value (Extra is never part of canonical encoding).
func encodeValuePayload(v *ValueNode) []byte {
	return mustEncode(v.Value)
}

// encodeChildPayload returns the bytes to embed for a child reference:
// 0x80 for an absent child, or the cached reference item.
func encodeChildPayload(ref ChildRef) ([]byte, error) {
	if ref.IsNil() {
		return []byte{0x80}, nil
	}
	if ref.Item == nil {
		return nil, fmt.Errorf("trie: child reference item not resolved")
	}
	return ref.Item, nil
}

// encodeShort returns the canonical RLP encoding of a ShortNode whose
// child has already been resolved to an embeddable payload: a value
// leaf's plain RLP string (encodeValuePayload's output is never
// hash-replaced, regardless of length) or a sub-node's reference item.
func encodeShort(n *ShortNode) ([]byte, error) {
	keyEnc, err := rlp.EncodeToBytes(hexToCompact(n.Path))
	if err != nil {
		return nil, err
	}
	valEnc, err := encodeChildPayload(n.Child)
	if err != nil {
		return nil, err
	}
	payload := append(append([]byte{}, keyEnc...), valEnc...)
	return rlp.WrapList(payload), nil
}

// encodeBranch returns the canonical RLP encoding of a BranchNode whose
// 17 children have already been resolved to embeddable payloads.
func encodeBranch(n *BranchNode) ([]byte, error) {
	var payload []byte
	for i := 0; i < 17; i++ {
		enc, err := encodeChildPayload(n.Children[i])
		if err != nil {
			return nil, err
		}
		payload = append(payload, enc...)
	}
	return rlp.WrapList(payload), nil
}

// Storage encoding: a length-prefixed binary record, tag byte first,
// carrying absolute CleanPtr children. Unlike the canonical encoding it
// is never hashed and never needs child resolution: a clean child is
// simply addressed by its CleanPtr (0 meaning "not present"), alongside
// its cached reference item so the parent can be rehashed without a
// disk round trip.

const (
	tagValue  byte = 1
	tagShort  byte = 2
	tagBranch byte = 3
)

// encodeStorage serializes a node that has already been fully committed
// (every child reference holds a valid CleanPtr and Item).
func encodeStorage(n Node) []byte {
	switch v := n.(type) {
	case *ValueNode:
		buf := make([]byte, 0, 1+4+len(v.Value)+len(v.Extra))
		buf = append(buf, tagValue)
		buf = appendUvarBytes(buf, v.Value)
		buf = appendUvarBytes(buf, v.Extra)
		return buf
	case *ShortNode:
		buf := make([]byte, 0, 32)
		buf = append(buf, tagShort)
		buf = appendUvarBytes(buf, v.Path)
		buf = appendChildRef(buf, v.Child)
		return buf
	case *BranchNode:
		buf := make([]byte, 0, 17*48)
		buf = append(buf, tagBranch)
		for i := 0; i < 17; i++ {
			if i < 16 && v.AHALen != 0 {
				// Structural children's items live in the AHA
				// side-index; only the CleanPtr is carried here.
				buf = appendChildRef(buf, ChildRef{Dirty: NoDirty, Clean: v.Children[i].Clean})
			} else {
				buf = appendChildRef(buf, v.Children[i])
			}
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.AHALen))
		buf = binary.LittleEndian.AppendUint64(buf, v.AHAPtr)
		buf = appendUvarBytes(buf, v.itemCache)
		return buf
	default:
		panic(fmt.Sprintf("trie: unknown node type %T", n))
	}
}

// decodeStorage reconstructs a Node from its storage encoding.
func decodeStorage(buf []byte) (Node, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("trie: empty storage record: %w", ErrCorruptNode)
	}
	tag, rest := buf[0], buf[1:]
	switch tag {
	case tagValue:
		value, rest, err := readUvarBytes(rest)
		if err != nil {
			return nil, err
		}
		extra, _, err := readUvarBytes(rest)
		if err != nil {
			return nil, err
		}
		return &ValueNode{Value: value, Extra: extra}, nil
	case tagShort:
		path, rest, err := readUvarBytes(rest)
		if err != nil {
			return nil, err
		}
		child, _, err := readChildRef(rest)
		if err != nil {
			return nil, err
		}
		return &ShortNode{Path: path, Child: child}, nil
	case tagBranch:
		n := &BranchNode{}
		for i := 0; i < 17; i++ {
			var err error
			var ref ChildRef
			ref, rest, err = readChildRef(rest)
			if err != nil {
				return nil, err
			}
			n.Children[i] = ref
		}
		if len(rest) < 12 {
			return nil, fmt.Errorf("trie: truncated branch record: %w", ErrCorruptNode)
		}
		n.AHALen = int(binary.LittleEndian.Uint32(rest[0:4]))
		n.AHAPtr = binary.LittleEndian.Uint64(rest[4:12])
		itemCache, _, err := readUvarBytes(rest[12:])
		if err != nil {
			return nil, err
		}
		n.itemCache = itemCache
		return n, nil
	default:
		return nil, fmt.Errorf("trie: unknown storage tag %d: %w", tag, ErrCorruptNode)
	}
}

func appendUvarBytes(buf []byte, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func readUvarBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("trie: truncated length prefix: %w", ErrCorruptNode)
	}
	n := int(binary.LittleEndian.Uint32(buf[:4]))
	buf = buf[4:]
	if len(buf) < n {
		return nil, nil, fmt.Errorf("trie: truncated payload: %w", ErrCorruptNode)
	}
	return buf[:n], buf[n:], nil
}

// appendChildRef serializes a committed ChildRef: its CleanPtr followed
// by its cached reference item. A nil ref is CleanPtr 0 and a zero-length
// item.
func appendChildRef(buf []byte, ref ChildRef) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ref.Clean))
	return appendUvarBytes(buf, ref.Item)
}

func readChildRef(buf []byte) (ChildRef, []byte, error) {
	if len(buf) < 8 {
		return ChildRef{}, nil, fmt.Errorf("trie: truncated child ref: %w", ErrCorruptNode)
	}
	clean := CleanPtr(binary.LittleEndian.Uint64(buf[:8]))
	item, rest, err := readUvarBytes(buf[8:])
	if err != nil {
		return ChildRef{}, nil, err
	}
	ref := ChildRef{Dirty: NoDirty, Clean: clean}
	if len(item) > 0 {
		ref.Item = item
	}
	if clean == 0 && len(item) == 0 {
		ref = NilRef
	}
	return ref, rest, nil
}
