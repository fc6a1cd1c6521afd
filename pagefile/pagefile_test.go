package pagefile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T) *File {
	t.Helper()
	pf, err := Open(filepath.Join(t.TempDir(), "data"), 4*PageSize, true)
	require.NoError(t, err)
	t.Cleanup(func() { pf.Close() })
	return pf
}

func TestAppendAndReadBack(t *testing.T) {
	pf := newTestFile(t)

	off1, err := pf.Append([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, int64(0), off1)

	off2, err := pf.Append([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, int64(5), off2)

	buf := make([]byte, 5)
	require.NoError(t, pf.ReadAt(off1, buf))
	require.Equal(t, "hello", string(buf))
	require.NoError(t, pf.ReadAt(off2, buf))
	require.Equal(t, "world", string(buf))
}

func TestReadSpansMultiplePages(t *testing.T) {
	pf := newTestFile(t)
	data := make([]byte, PageSize*3+17)
	for i := range data {
		data[i] = byte(i)
	}
	off, err := pf.Append(data)
	require.NoError(t, err)
	require.Equal(t, int64(0), off)

	buf := make([]byte, len(data))
	require.NoError(t, pf.ReadAt(0, buf))
	require.Equal(t, data, buf)
}

func TestReadPastTailIsCorrupt(t *testing.T) {
	pf := newTestFile(t)
	_, err := pf.Append([]byte("x"))
	require.NoError(t, err)

	buf := make([]byte, 10)
	err = pf.ReadAt(0, buf)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestFlushSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data")

	pf, err := Open(path, 4*PageSize, true)
	require.NoError(t, err)
	_, err = pf.Append([]byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, pf.Flush())
	require.NoError(t, pf.Close())

	pf2, err := Open(path, 4*PageSize, false)
	require.NoError(t, err)
	defer pf2.Close()

	buf := make([]byte, len("persisted"))
	require.NoError(t, pf2.ReadAt(0, buf))
	require.Equal(t, "persisted", string(buf))
}

func TestWriteAtOverwritesInPlace(t *testing.T) {
	pf := newTestFile(t)
	_, err := pf.Append([]byte("aaaaaaaaaa"))
	require.NoError(t, err)

	require.NoError(t, pf.WriteAt(2, []byte("XXX")))

	buf := make([]byte, 10)
	require.NoError(t, pf.ReadAt(0, buf))
	require.Equal(t, "aaXXXaaaaa", string(buf))
}
