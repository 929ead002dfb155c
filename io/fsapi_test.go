package io

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nostalgiaos/kernel/cc"
	"github.com/nostalgiaos/kernel/mm"
	"github.com/nostalgiaos/kernel/ob"
	"github.com/nostalgiaos/kernel/rtl"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	obMgr := ob.NewManager()
	db := mm.NewDatabase(1024, nil)
	lazy := cc.NewLazyWriter(time.Hour) // never fires on its own during a test
	lazy.Start()
	t.Cleanup(lazy.Stop)

	m := NewManager(obMgr, db, lazy)
	m.AddDrive("C:", `\Device\HarddiskVolume1`)
	return m
}

func TestCreateWriteSeekReadRoundTrip(t *testing.T) {
	m := newTestManager(t)

	h, status := m.Create(`C:\T.TXT`, FlagCached)
	if !status.Ok() {
		t.Fatalf("create: %v", status)
	}
	defer m.Close(h)

	payload := []byte("Hello, Nostalgia")
	if n, status := m.Write(h, payload); !status.Ok() || n != len(payload) {
		t.Fatalf("write: n=%d status=%v", n, status)
	}
	if _, status := m.Seek(h, 0, SeekSet); !status.Ok() {
		t.Fatalf("seek: %v", status)
	}
	buf := make([]byte, len(payload))
	n, status := m.Read(h, buf)
	if !status.Ok() {
		t.Fatalf("read: %v", status)
	}
	if n != len(payload) || !bytes.Equal(buf[:n], payload) {
		t.Fatalf("round trip mismatch: got %q, want %q", buf[:n], payload)
	}
}

func TestUncachedRoundTrip(t *testing.T) {
	m := newTestManager(t)

	h, status := m.Create(`C:\U.TXT`, 0)
	if !status.Ok() {
		t.Fatalf("create: %v", status)
	}
	defer m.Close(h)

	payload := []byte("uncached")
	m.Write(h, payload)
	m.Seek(h, 0, SeekSet)
	buf := make([]byte, len(payload))
	n, status := m.Read(h, buf)
	if !status.Ok() || n != len(payload) || !bytes.Equal(buf, payload) {
		t.Fatalf("uncached round trip mismatch: n=%d status=%v buf=%q", n, status, buf)
	}
}

func TestRenameAcrossDirectories(t *testing.T) {
	m := newTestManager(t)

	h, status := m.Create(`C:\A.TXT`, 0)
	if !status.Ok() {
		t.Fatalf("create A.TXT: %v", status)
	}
	m.Close(h)

	if status := m.Mkdir(`C:\D`); !status.Ok() {
		t.Fatalf("mkdir: %v", status)
	}
	if status := m.Rename(`C:\A.TXT`, `C:\D\B.TXT`); !status.Ok() {
		t.Fatalf("rename: %v", status)
	}

	if _, status := m.Open(`C:\A.TXT`, 0); status != rtl.StatusNotFound {
		t.Fatalf("open A.TXT after rename: got %v, want NotFound", status)
	}
	h2, status := m.Open(`C:\D\B.TXT`, 0)
	if !status.Ok() {
		t.Fatalf("open renamed file: %v", status)
	}
	m.Close(h2)
}

func TestTruncateShrinkAndGrow(t *testing.T) {
	m := newTestManager(t)

	h, status := m.Create(`C:\X.TXT`, 0)
	if !status.Ok() {
		t.Fatalf("create: %v", status)
	}
	defer m.Close(h)

	if _, status := m.Write(h, make([]byte, 100)); !status.Ok() {
		t.Fatalf("write 100: %v", status)
	}
	if status := m.Truncate(h, 50); !status.Ok() {
		t.Fatalf("truncate 50: %v", status)
	}
	info, status := m.Fstat(h)
	if !status.Ok() {
		t.Fatalf("fstat: %v", status)
	}
	if info.Size != 50 {
		t.Fatalf("size after shrink: got %d, want 50", info.Size)
	}

	if status := m.Truncate(h, 200); !status.Ok() {
		t.Fatalf("truncate 200: %v", status)
	}
	info, status = m.Fstat(h)
	if !status.Ok() {
		t.Fatalf("fstat after grow: %v", status)
	}
	if info.Size != 200 {
		t.Fatalf("size after grow: got %d, want 200", info.Size)
	}
}

func TestDoubleCloseFails(t *testing.T) {
	m := newTestManager(t)
	h, status := m.Create(`C:\C.TXT`, 0)
	if !status.Ok() {
		t.Fatalf("create: %v", status)
	}
	if status := m.Close(h); !status.Ok() {
		t.Fatalf("close: %v", status)
	}
	if status := m.Close(h); status != rtl.StatusInvalidHandle {
		t.Fatalf("second close should report InvalidHandle, got %v", status)
	}
}

func TestReaddirCookieProtocol(t *testing.T) {
	m := newTestManager(t)
	if status := m.Mkdir(`C:\DIR`); !status.Ok() {
		t.Fatalf("mkdir: %v", status)
	}
	for _, name := range []string{"ONE.TXT", "TWO.TXT"} {
		h, status := m.Create(`C:\DIR\`+name, 0)
		if !status.Ok() {
			t.Fatalf("create %s: %v", name, status)
		}
		m.Close(h)
	}

	seen := map[string]bool{}
	cookie := 0
	for {
		entry, status := m.Readdir(`C:\DIR`, cookie)
		if status == rtl.StatusNoMoreEntries {
			break
		}
		if !status.Ok() {
			t.Fatalf("readdir: %v", status)
		}
		seen[entry.Name] = true
		cookie = entry.Cookie
	}
	if !seen["ONE.TXT"] || !seen["TWO.TXT"] {
		t.Fatalf("readdir missed entries: %v", seen)
	}
}

// TestConcurrentWritesToDistinctFilesComplete drives several files'
// write IRPs through dispatchSync at once with errgroup, the way
// ke/scheduler_test.go drives its own concurrent scheduler scenarios:
// each file object owns its IRP completion independently, so nothing
// here should race or drop a write.
func TestConcurrentWritesToDistinctFilesComplete(t *testing.T) {
	m := newTestManager(t)

	const n = 8
	handles := make([]ob.Handle, n)
	for i := 0; i < n; i++ {
		h, status := m.Create(fmt.Sprintf(`C:\F%d.TXT`, i), FlagCached)
		if !status.Ok() {
			t.Fatalf("create %d: %v", i, status)
		}
		handles[i] = h
	}
	defer func() {
		for _, h := range handles {
			m.Close(h)
		}
	}()

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			payload := []byte(fmt.Sprintf("payload-%d", i))
			if wn, status := m.Write(handles[i], payload); !status.Ok() || wn != len(payload) {
				return fmt.Errorf("write %d: n=%d status=%v", i, wn, status)
			}
			if _, status := m.Seek(handles[i], 0, SeekSet); !status.Ok() {
				return fmt.Errorf("seek %d: %v", i, status)
			}
			buf := make([]byte, len(payload))
			rn, status := m.Read(handles[i], buf)
			if !status.Ok() || rn != len(payload) || !bytes.Equal(buf, payload) {
				return fmt.Errorf("readback %d: n=%d status=%v buf=%q", i, rn, status, buf)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestCopyAliasesPages(t *testing.T) {
	m := newTestManager(t)
	h, status := m.Create(`C:\SRC.TXT`, FlagCached)
	if !status.Ok() {
		t.Fatalf("create src: %v", status)
	}
	payload := bytes.Repeat([]byte("xyz"), 1000)
	m.Write(h, payload)
	m.Close(h)

	n, status := m.Copy(`C:\SRC.TXT`, `C:\DST.TXT`)
	if !status.Ok() {
		t.Fatalf("copy: %v", status)
	}
	if n != int64(len(payload)) {
		t.Fatalf("copy length: got %d, want %d", n, len(payload))
	}

	dst, status := m.Open(`C:\DST.TXT`, 0)
	if !status.Ok() {
		t.Fatalf("open dst: %v", status)
	}
	defer m.Close(dst)
	buf := make([]byte, len(payload))
	rn, status := m.Read(dst, buf)
	if !status.Ok() || rn != len(payload) || !bytes.Equal(buf, payload) {
		t.Fatalf("copied content mismatch: n=%d status=%v", rn, status)
	}
}
