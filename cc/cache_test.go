package cc

import (
	"bytes"
	"testing"

	"github.com/nostalgiaos/kernel/mm"
	"github.com/nostalgiaos/kernel/rtl"
)

// memoryBackend is a mm.FileBackend over an in-memory byte slice,
// standing in for a real file object in cache-map tests.
type memoryBackend struct {
	data []byte
}

func newMemoryBackend(size int) *memoryBackend {
	return &memoryBackend{data: make([]byte, size)}
}

func (m *memoryBackend) ReadPage(offset uint64, buf []byte) rtl.Status {
	n := copy(buf, m.data[offset:])
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return rtl.StatusSuccess
}

func (m *memoryBackend) WritePage(offset uint64, buf []byte) rtl.Status {
	if end := int(offset) + len(buf); end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}
	copy(m.data[offset:], buf)
	return rtl.StatusSuccess
}

func (m *memoryBackend) Size() uint64 { return uint64(len(m.data)) }

func TestCacheMapWriteReadRoundTrip(t *testing.T) {
	db := mm.NewDatabase(256, nil)
	backend := newMemoryBackend(mm.PageSize * 4)
	c := NewCacheMap(backend, db)

	payload := bytes.Repeat([]byte("AB"), mm.PageSize)
	c.Write(0, payload)

	buf := make([]byte, len(payload))
	n := c.Read(0, buf)
	if n != len(payload) || !bytes.Equal(buf, payload) {
		t.Fatalf("round trip mismatch: n=%d", n)
	}
}

func TestCacheMapDirtyBitmapTracksWrites(t *testing.T) {
	db := mm.NewDatabase(256, nil)
	backend := newMemoryBackend(mm.PageSize * 4)
	c := NewCacheMap(backend, db)

	if got := c.DirtyPageCount(); got != 0 {
		t.Fatalf("fresh cache map should have no dirty pages, got %d", got)
	}

	c.Write(0, []byte("x"))
	if got := c.DirtyPageCount(); got != 1 {
		t.Fatalf("after one write, expected 1 dirty page, got %d", got)
	}

	c.Write(uint64(mm.PageSize), []byte("y"))
	if got := c.DirtyPageCount(); got != 2 {
		t.Fatalf("after writing two distinct pages, expected 2 dirty, got %d", got)
	}

	if status := c.Flush(); !status.Ok() {
		t.Fatalf("flush: %v", status)
	}
	if got := c.DirtyPageCount(); got != 0 {
		t.Fatalf("flush should clear all dirty bits, got %d remaining", got)
	}
	if !bytes.Equal(backend.data[:1], []byte("x")) {
		t.Fatalf("flush did not write through to the backend")
	}
}

func TestCacheMapValidDataLengthExtendsOnWrite(t *testing.T) {
	db := mm.NewDatabase(256, nil)
	backend := newMemoryBackend(mm.PageSize)
	c := NewCacheMap(backend, db)

	if c.ValidDataLength() != uint64(mm.PageSize) {
		t.Fatalf("initial valid data length should equal backend size")
	}

	c.Write(uint64(mm.PageSize*2), []byte("past end"))
	want := uint64(mm.PageSize*2) + uint64(len("past end"))
	if c.ValidDataLength() != want {
		t.Fatalf("valid data length after extending write: got %d, want %d", c.ValidDataLength(), want)
	}
	if c.Size() != want {
		t.Fatalf("file size after extending write: got %d, want %d", c.Size(), want)
	}
}

func TestCacheMapTruncateShrinkClampsValidDataAndDropsViews(t *testing.T) {
	db := mm.NewDatabase(256, nil)
	backend := newMemoryBackend(mm.PageSize * 4)
	c := NewCacheMap(backend, db)

	c.Write(0, []byte("first view"))
	c.Write(uint64(ViewSize), []byte("second view"))

	c.Truncate(10)
	if c.Size() != 10 {
		t.Fatalf("size after shrink: got %d, want 10", c.Size())
	}
	if c.ValidDataLength() != 10 {
		t.Fatalf("valid data length after shrink: got %d, want 10", c.ValidDataLength())
	}

	buf := make([]byte, 4096)
	n := c.Read(uint64(ViewSize), buf)
	if n != 0 {
		t.Fatalf("reading past a shrunk, dropped view should return 0 bytes, got %d", n)
	}
}

func TestCacheMapTruncateGrowReadsZeroPastOldEnd(t *testing.T) {
	db := mm.NewDatabase(256, nil)
	backend := newMemoryBackend(mm.PageSize)
	c := NewCacheMap(backend, db)
	c.Write(0, []byte("hi"))

	c.Truncate(uint64(mm.PageSize * 2))
	if c.Size() != uint64(mm.PageSize*2) {
		t.Fatalf("size after grow: got %d", c.Size())
	}

	buf := make([]byte, 4)
	n := c.Read(uint64(mm.PageSize)-2, buf)
	if n != 4 {
		t.Fatalf("read spanning old/new region: got n=%d", n)
	}
}

func TestCacheMapAliasPageSharesContent(t *testing.T) {
	db := mm.NewDatabase(256, nil)
	srcBackend := newMemoryBackend(mm.PageSize)
	dstBackend := newMemoryBackend(0)
	src := NewCacheMap(srcBackend, db)
	dst := NewCacheMap(dstBackend, db)

	payload := bytes.Repeat([]byte("Z"), mm.PageSize)
	src.Write(0, payload)

	dst.AliasPage(src, 0, 0, mm.PageSize)

	buf := make([]byte, mm.PageSize)
	n := dst.Read(0, buf)
	if n != mm.PageSize || !bytes.Equal(buf, payload) {
		t.Fatalf("aliased page content mismatch: n=%d", n)
	}
}

func TestCacheMapCloseReleasesPages(t *testing.T) {
	db := mm.NewDatabase(256, nil)
	backend := newMemoryBackend(mm.PageSize)
	c := NewCacheMap(backend, db)
	c.Write(0, []byte("data"))

	before := db.CountState(mm.PfnStandby)
	if status := c.Close(); !status.Ok() {
		t.Fatalf("close: %v", status)
	}
	after := db.CountState(mm.PfnStandby)
	if after <= before {
		t.Fatalf("close should return pages to the standby list: before=%d after=%d", before, after)
	}
}
