package trie

import "errors"

var (
	// ErrNotFound is a quiet logical-miss signal, never treated as an
	// error condition by callers: Get returns (nil, false, nil).
	ErrNotFound = errors.New("trie: key not found")
	// ErrCorruptNode marks a structurally invalid on-disk record: a
	// fatal condition, always propagated rather than recovered from.
	ErrCorruptNode = errors.New("trie: corrupt node record")
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("trie: database closed")
)
