// Package pagefile implements a fixed-page-size cached file: the
// append-only backing store shared by the node file, the AHA tier files,
// and the root journal. Writes land in an in-memory dirty-page overlay;
// reads are served from that overlay, then a bounded LRU of clean pages,
// then the OS file itself. Flush durably syncs the overlay to disk.
package pagefile

import (
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ahadb/ahadb/log"
)

// PageSize is the fixed size of every page, clean or dirty.
const PageSize = 4096

type page [PageSize]byte

// File is a page-cached, append-only file. All offsets are absolute byte
// offsets from the start of the file; callers are responsible for
// tracking their own record boundaries.
type File struct {
	mu   sync.Mutex
	f    *os.File
	log  *log.Logger
	path string

	clean *lru.Cache[uint64, *page]
	dirty map[uint64]*page

	// fileTail is the length of data durably synced to f.
	fileTail int64
	// buffTail is the length of data written so far, including the dirty
	// overlay not yet flushed.
	buffTail int64
}

// Open opens or creates the file at path. cacheBytes bounds the clean
// page cache; truncate removes any prior contents.
func Open(path string, cacheBytes int, truncate bool) (*File, error) {
	flags := os.O_RDWR | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("pagefile: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pagefile: stat %s: %w", path, err)
	}

	pages := cacheBytes / PageSize
	if pages < 1 {
		pages = 1
	}
	clean, err := lru.New[uint64, *page](pages)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &File{
		f:        f,
		log:      log.Module("pagefile").With("path", path),
		path:     path,
		clean:    clean,
		dirty:    make(map[uint64]*page),
		fileTail: info.Size(),
		buffTail: info.Size(),
	}, nil
}

// Tail returns the logical length of the file, including unflushed writes.
func (pf *File) Tail() int64 {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.buffTail
}

// Append writes data at the current tail and returns the offset it was
// written at, growing the file. It never overwrites existing bytes. The
// node file and root journal only grow through Append; AHA tier files
// also rewrite recycled records in place through WriteAt.
func (pf *File) Append(data []byte) (int64, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	off := pf.buffTail
	if err := pf.writeAt(off, data); err != nil {
		return 0, err
	}
	pf.buffTail = off + int64(len(data))
	return off, nil
}

// WriteAt overwrites bytes at an existing offset. Used by AHA tier files,
// whose fixed-stride records are revised in place.
func (pf *File) WriteAt(off int64, data []byte) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if err := pf.writeAt(off, data); err != nil {
		return err
	}
	if end := off + int64(len(data)); end > pf.buffTail {
		pf.buffTail = end
	}
	return nil
}

func (pf *File) writeAt(off int64, data []byte) error {
	for len(data) > 0 {
		pageNo := uint64(off) / PageSize
		pageOff := int(uint64(off) % PageSize)
		n := PageSize - pageOff
		if n > len(data) {
			n = len(data)
		}
		p, err := pf.dirtyPage(pageNo)
		if err != nil {
			return err
		}
		copy(p[pageOff:pageOff+n], data[:n])
		data = data[n:]
		off += int64(n)
	}
	return nil
}

// dirtyPage returns the page for pageNo from the overlay, materializing it
// (from clean cache or disk, zero-filled past the current tail) on first
// touch.
func (pf *File) dirtyPage(pageNo uint64) (*page, error) {
	if p, ok := pf.dirty[pageNo]; ok {
		return p, nil
	}
	p, err := pf.readPage(pageNo)
	if err != nil {
		return nil, err
	}
	cp := *p
	pf.dirty[pageNo] = &cp
	return &cp, nil
}

// ReadAt reads len(buf) bytes starting at off. Reads past the tail are a
// usage error (structural corruption in a caller that trusts a stale
// pointer) and are reported as such rather than silently zero-filled.
func (pf *File) ReadAt(off int64, buf []byte) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if off+int64(len(buf)) > pf.buffTail {
		return fmt.Errorf("pagefile: read past tail at %d (tail=%d): %w", off, pf.buffTail, ErrCorrupt)
	}
	for len(buf) > 0 {
		pageNo := uint64(off) / PageSize
		pageOff := int(uint64(off) % PageSize)
		n := PageSize - pageOff
		if n > len(buf) {
			n = len(buf)
		}
		p, err := pf.readPage(pageNo)
		if err != nil {
			return err
		}
		copy(buf[:n], p[pageOff:pageOff+n])
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

func (pf *File) readPage(pageNo uint64) (*page, error) {
	if p, ok := pf.dirty[pageNo]; ok {
		return p, nil
	}
	if p, ok := pf.clean.Get(pageNo); ok {
		return p, nil
	}
	var p page
	base := int64(pageNo) * PageSize
	if base < pf.fileTail {
		n, err := pf.f.ReadAt(p[:], base)
		if err != nil && n == 0 {
			pf.log.Error("page read failed", "page", pageNo, "err", err)
			return nil, fmt.Errorf("pagefile: read page %d: %w", pageNo, err)
		}
	}
	pf.clean.Add(pageNo, &p)
	return &p, nil
}

// Flush durably writes every dirty page to the OS file, truncates the
// file to the logical tail (dropping the unused end of the last page),
// and syncs it.
func (pf *File) Flush() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	for pageNo, p := range pf.dirty {
		base := int64(pageNo) * PageSize
		if _, err := pf.f.WriteAt(p[:], base); err != nil {
			pf.log.Error("page flush failed", "page", pageNo, "err", err)
			return fmt.Errorf("pagefile: flush page %d: %w", pageNo, err)
		}
		pf.clean.Add(pageNo, p)
		delete(pf.dirty, pageNo)
	}
	if err := pf.f.Truncate(pf.buffTail); err != nil {
		return fmt.Errorf("pagefile: truncate %s: %w", pf.path, err)
	}
	if err := pf.f.Sync(); err != nil {
		return fmt.Errorf("pagefile: sync %s: %w", pf.path, err)
	}
	if pf.buffTail > pf.fileTail {
		pf.fileTail = pf.buffTail
	}
	return nil
}

// Close flushes and closes the underlying file.
func (pf *File) Close() error {
	if err := pf.Flush(); err != nil {
		return err
	}
	return pf.f.Close()
}
