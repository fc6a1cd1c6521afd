package aha

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), []int{4, 16}, 64*1024, true)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	items := [][]byte{
		{0xa0, 1, 2, 3},
		{},
		{0x83, 'd', 'o', 'g'},
		make([]byte, MaxItemLen),
	}
	ptr, err := s.Write(4, 0, items)
	require.NoError(t, err)

	got, err := s.Read(4, ptr)
	require.NoError(t, err)
	require.Equal(t, items, got)
}

func TestFirstAllocationNeverRecycled(t *testing.T) {
	s := newTestStore(t)
	items := make([][]byte, 4)
	for i := range items {
		items[i] = []byte{}
	}
	ptr, err := s.Write(4, 0, items)
	require.NoError(t, err)
	require.NotZero(t, ptr, "offset 0 is reserved as the no-AHA sentinel and must never be handed out")

	err = s.Recycle(4, 0)
	require.ErrorIs(t, err, ErrReservedOffset)
}

func TestRecycledOffsetIsReused(t *testing.T) {
	s := newTestStore(t)
	items := make([][]byte, 4)
	for i := range items {
		items[i] = []byte{}
	}
	first, err := s.Write(4, 0, items)
	require.NoError(t, err)
	second, err := s.Write(4, 0, items)
	require.NoError(t, err)
	require.NoError(t, s.Recycle(4, second))

	// Staged but not yet promoted: a fresh write must not reuse it.
	third, err := s.Write(4, 0, items)
	require.NoError(t, err)
	require.NotEqual(t, second, third)

	s.PromotePending()
	fourth, err := s.Write(4, 0, items)
	require.NoError(t, err)
	require.Equal(t, second, fourth)
	require.NotEqual(t, first, fourth)
}

func TestUnknownTier(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(7, 0, make([][]byte, 7))
	require.ErrorIs(t, err, ErrNoTier)
}

func TestTierForPicksSmallestFit(t *testing.T) {
	s := newTestStore(t)
	c, ok := s.TierFor(3)
	require.True(t, ok)
	require.Equal(t, 4, c)

	c, ok = s.TierFor(4)
	require.True(t, ok)
	require.Equal(t, 4, c)

	c, ok = s.TierFor(5)
	require.True(t, ok)
	require.Equal(t, 16, c)

	_, ok = s.TierFor(17)
	require.False(t, ok)
}
