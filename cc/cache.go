// Package cc is the cache manager: file-backed cache views over a
// byte-range file, a per-view dirty bitmap, valid-data-length tracking,
// and a timer-driven lazy writer (spec.md §3.11, §4.4 "Cache control").
package cc

import (
	"sync"

	"github.com/nostalgiaos/kernel/mm"
	"github.com/nostalgiaos/kernel/rtl"
)

// ViewSize is the size of one cache view window, per spec.md §3.11.
const ViewSize = 256 * 1024

// pagesPerView is how many mm.PageSize pages one view spans.
const pagesPerView = ViewSize / mm.PageSize

// view is one 256 KiB window into the cached file: a backing buffer,
// a dirty bit per mm.PageSize page within it, and the PFN each page is
// resident in (so the view's pages genuinely participate in the PFN
// database, per spec.md §3.11's closing sentence).
type view struct {
	mu     sync.Mutex
	offset uint64 // view-aligned byte offset within the file
	buf    []byte
	dirty  *rtl.Bitmap
	pfns   []int
}

// CacheMap is a cached file's view set (spec.md §3.11). It implements
// mm.FileBackend itself, so a section built over a CacheMap participates
// in demand paging exactly like any other section (mm/section.go's
// doc comment: "the io/cc layer implements this against the cache
// manager and hands sections to mm already wrapped").
type CacheMap struct {
	mu sync.Mutex

	backend mm.FileBackend // the underlying file's actual byte storage
	db      *mm.Database

	views map[uint64]*view

	validDataLength uint64
	fileSize        uint64
}

// NewCacheMap creates a cache map over backend, whose Size() seeds both
// the file size and the initial valid-data length.
func NewCacheMap(backend mm.FileBackend, db *mm.Database) *CacheMap {
	return &CacheMap{
		backend:         backend,
		db:              db,
		views:           make(map[uint64]*view),
		fileSize:        backend.Size(),
		validDataLength: backend.Size(),
	}
}

func viewOffset(offset uint64) uint64 { return offset - offset%ViewSize }

// getView returns the view covering offset, faulting its pages in from
// the backend on first touch.
func (c *CacheMap) getView(offset uint64) *view {
	vOff := viewOffset(offset)

	c.mu.Lock()
	v, ok := c.views[vOff]
	if !ok {
		v = &view{offset: vOff, buf: make([]byte, ViewSize), dirty: rtl.NewBitmap(pagesPerView), pfns: make([]int, pagesPerView)}
		for i := range v.pfns {
			v.pfns[i] = -1
		}
		c.views[vOff] = v
	}
	c.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	for i := 0; i < pagesPerView; i++ {
		if v.pfns[i] >= 0 {
			continue
		}
		pageOff := vOff + uint64(i)*mm.PageSize
		if pageOff >= c.backend.Size() {
			break
		}
		pfn, _, status := c.db.AllocatePage(false)
		if !status.Ok() {
			break
		}
		c.backend.ReadPage(pageOff, v.buf[i*mm.PageSize:(i+1)*mm.PageSize])
		c.db.Reference(pfn)
		c.db.SetBacking(pfn, mm.BackingLocator{Owner: c, Offset: pageOff})
		v.pfns[i] = pfn
	}
	return v
}

// Read copies up to len(buf) bytes starting at offset from the cache
// into buf, faulting in backing pages as needed, and returns how many
// bytes were copied, which stops at the file size. Bytes at or past the
// valid-data length read as zero (spec.md §4.4: "a valid-data length
// bounds where reads may legitimately return data").
func (c *CacheMap) Read(offset uint64, buf []byte) int {
	c.mu.Lock()
	limit := c.fileSize
	vdl := c.validDataLength
	c.mu.Unlock()

	if offset >= limit {
		return 0
	}
	if want := limit - offset; uint64(len(buf)) > want {
		buf = buf[:want]
	}

	n := 0
	for n < len(buf) {
		cur := offset + uint64(n)
		v := c.getView(cur)
		withinView := int(cur - v.offset)
		toCopy := len(buf) - n
		if max := ViewSize - withinView; toCopy > max {
			toCopy = max
		}
		v.mu.Lock()
		copy(buf[n:n+toCopy], v.buf[withinView:withinView+toCopy])
		v.mu.Unlock()
		n += toCopy
	}
	if offset+uint64(n) > vdl {
		from := 0
		if vdl > offset {
			from = int(vdl - offset)
		}
		for i := from; i < n; i++ {
			buf[i] = 0
		}
	}
	return n
}

// Write copies buf into the cache at offset, marking the touched pages
// dirty, extending the file and the valid-data length if the write
// reaches past the current end (spec.md §4.4: "writes past end extend
// the file and update valid-data").
func (c *CacheMap) Write(offset uint64, buf []byte) {
	n := 0
	for n < len(buf) {
		cur := offset + uint64(n)
		v := c.getView(cur)
		withinView := int(cur - v.offset)
		toCopy := len(buf) - n
		if max := ViewSize - withinView; toCopy > max {
			toCopy = max
		}
		v.mu.Lock()
		copy(v.buf[withinView:withinView+toCopy], buf[n:n+toCopy])
		firstPage := withinView / mm.PageSize
		lastPage := (withinView + toCopy - 1) / mm.PageSize
		for p := firstPage; p <= lastPage; p++ {
			v.dirty.Set(p)
		}
		v.mu.Unlock()
		n += toCopy
	}

	c.mu.Lock()
	end := offset + uint64(len(buf))
	if end > c.fileSize {
		c.fileSize = end
	}
	if end > c.validDataLength {
		c.validDataLength = end
	}
	c.mu.Unlock()
}

// Size returns the file's current length, implementing mm.FileBackend.
func (c *CacheMap) Size() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileSize
}

// ValidDataLength returns how far into the file reads may legitimately
// return real (as opposed to zero-filled) data.
func (c *CacheMap) ValidDataLength() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validDataLength
}

// Truncate sets the file's size, per spec.md §4.4's truncate-shrink
// and truncate-grow scenario (§8 scenario 3). Shrinking drops cached
// views entirely past the new size and clamps valid-data length;
// growing just advances the size (Read returns content past the
// valid-data length as zero).
func (c *CacheMap) Truncate(size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fileSize = size
	if c.validDataLength > size {
		c.validDataLength = size
	}
	for vOff := range c.views {
		if vOff >= size {
			delete(c.views, vOff)
		}
	}
}

// ReadPage implements mm.FileBackend for a section built over this
// cache map: a page-aligned, page-sized read.
func (c *CacheMap) ReadPage(offset uint64, buf []byte) rtl.Status {
	c.Read(offset, buf)
	return rtl.StatusSuccess
}

// WritePage implements mm.FileBackend: a page-aligned, page-sized
// write, used when a section-mapped view is being paged back in after
// having been privatized.
func (c *CacheMap) WritePage(offset uint64, buf []byte) rtl.Status {
	c.Write(offset, buf)
	return rtl.StatusSuccess
}

// Flush writes every dirty page in every view back to the underlying
// backend and clears their dirty bits, the synchronous half of
// spec.md §4.4's "sync drains pending dirty pages for one file
// synchronously". The page holding the end of the file is written only
// up to the file size; dirty pages wholly past it are dropped.
func (c *CacheMap) Flush() rtl.Status {
	c.mu.Lock()
	views := make([]*view, 0, len(c.views))
	for _, v := range c.views {
		views = append(views, v)
	}
	c.mu.Unlock()

	for _, v := range views {
		if status := c.flushView(v); !status.Ok() {
			return status
		}
	}
	return rtl.StatusSuccess
}

func (c *CacheMap) flushView(v *view) rtl.Status {
	size := c.Size()
	v.mu.Lock()
	defer v.mu.Unlock()
	for p := 0; p < pagesPerView; p++ {
		if !v.dirty.Test(p) {
			continue
		}
		pageOff := v.offset + uint64(p)*mm.PageSize
		if pageOff >= size {
			v.dirty.Clear(p)
			continue
		}
		page := v.buf[p*mm.PageSize : (p+1)*mm.PageSize]
		if rest := size - pageOff; rest < mm.PageSize {
			page = page[:rest]
		}
		if status := c.backend.WritePage(pageOff, page); !status.Ok() {
			return status
		}
		v.dirty.Clear(p)
		if v.pfns[p] >= 0 {
			c.db.SetBacking(v.pfns[p], mm.BackingLocator{Owner: c, Offset: pageOff})
		}
	}
	return rtl.StatusSuccess
}

// AliasPage copies length bytes of src's page at srcOffset into c's
// page at dstOffset, marks the destination page dirty, and extends c's
// size and valid-data length to cover it. If the source page is
// resident it also takes a reference on the source page's PFN. The
// bytes are copied view to view: the two cache maps keep separate
// buffers, and the destination page is not backed by the source's PFN.
// Both offsets must be page-aligned; length must not exceed one mm.PageSize page (the
// caller loops page by page, since source and destination view
// boundaries rarely line up).
func (c *CacheMap) AliasPage(src *CacheMap, srcOffset, dstOffset uint64, length int) {
	sv := src.getView(srcOffset)
	srcWithin := int(srcOffset - sv.offset)
	srcPage := srcWithin / mm.PageSize

	dv := c.getView(dstOffset)
	dstWithin := int(dstOffset - dv.offset)
	dstPage := dstWithin / mm.PageSize

	sv.mu.Lock()
	pageBuf := sv.buf[srcPage*mm.PageSize : srcPage*mm.PageSize+mm.PageSize]
	pfn := sv.pfns[srcPage]
	sv.mu.Unlock()

	dv.mu.Lock()
	copy(dv.buf[dstPage*mm.PageSize:dstPage*mm.PageSize+mm.PageSize], pageBuf[:length])
	if pfn >= 0 {
		c.db.Reference(pfn)
	}
	dv.dirty.Set(dstPage)
	dv.mu.Unlock()

	c.mu.Lock()
	end := dstOffset + uint64(length)
	if end > c.fileSize {
		c.fileSize = end
	}
	if end > c.validDataLength {
		c.validDataLength = end
	}
	c.mu.Unlock()
}

// Close flushes all dirty views and releases every page this cache map
// holds back to the PFN database, for the final close of a cached file
// object.
func (c *CacheMap) Close() rtl.Status {
	if status := c.Flush(); !status.Ok() {
		return status
	}
	c.mu.Lock()
	views := c.views
	c.views = make(map[uint64]*view)
	c.mu.Unlock()

	for _, v := range views {
		v.mu.Lock()
		for _, pfn := range v.pfns {
			if pfn >= 0 {
				c.db.FreePage(pfn, false)
			}
		}
		v.mu.Unlock()
	}
	return rtl.StatusSuccess
}

// DirtyPageCount sums the dirty bits across every view, for tests and
// the lazy writer's scheduling heuristics.
func (c *CacheMap) DirtyPageCount() int {
	c.mu.Lock()
	views := make([]*view, 0, len(c.views))
	for _, v := range c.views {
		views = append(views, v)
	}
	c.mu.Unlock()

	n := 0
	for _, v := range views {
		v.mu.Lock()
		n += v.dirty.PopCount()
		v.mu.Unlock()
	}
	return n
}
