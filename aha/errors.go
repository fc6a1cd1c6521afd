package aha

import "errors"

var (
	// ErrNoTier is returned when a caller addresses an arity with no
	// configured tier file.
	ErrNoTier = errors.New("aha: no such tier")
	// ErrReservedOffset is returned by Recycle when called with offset 0.
	ErrReservedOffset = errors.New("aha: offset 0 is reserved")
	// ErrValidation marks a non-fatal mismatch between a stored record's
	// self-reported length and its slot capacity; callers should fall
	// back to recomputing the reference items rather than treat this as
	// corruption.
	ErrValidation = errors.New("aha: validation mismatch")
)
