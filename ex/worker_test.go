package ex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nostalgiaos/kernel/hal"
	"github.com/nostalgiaos/kernel/ke"
)

func TestWorkerPoolRunsHighestPriorityFirst(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	// Block the single worker so every Submit below queues up before
	// any of them can run, making the drain order deterministic.
	block := make(chan struct{})
	pool.Submit(100, func() { <-block })

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	pool.Submit(1, func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		close(done)
	})
	pool.Submit(5, func() {
		mu.Lock()
		order = append(order, 5)
		mu.Unlock()
	})
	pool.Submit(5, func() {
		mu.Lock()
		order = append(order, 55)
		mu.Unlock()
	})

	close(block)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued work never drained")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 items to run, got %d: %v", len(order), order)
	}
	// priority 5 items (inserted in order 5, then 55) must both run
	// before the priority 1 item, and preserve their own insertion
	// order against each other.
	if order[0] != 5 || order[1] != 55 || order[2] != 1 {
		t.Fatalf("expected [5 55 1] (priority desc, FIFO within priority), got %v", order)
	}
}

func TestWorkerPoolCloseDrainsThenStops(t *testing.T) {
	pool := NewWorkerPool(2)
	var ran int32
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		pool.Submit(0, func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	pool.Close()
	mu.Lock()
	defer mu.Unlock()
	if ran != 10 {
		t.Fatalf("Close should wait for every queued item to run, got %d/10", ran)
	}

	// Submit after Close is a documented no-op, not a panic.
	pool.Submit(0, func() { t.Fatal("should never run") })
}

// TestWorkerPoolConcurrentSubmitFanOut submits from several goroutines
// at once with errgroup, the way fuse's own parallel-lookup test drives
// concurrent calls into one shared structure, and checks every item
// still runs exactly once.
func TestWorkerPoolConcurrentSubmitFanOut(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	const n = 50
	var ran int32
	var g errgroup.Group
	for i := 0; i < n; i++ {
		priority := i % 8
		g.Go(func() error {
			done := make(chan struct{})
			pool.Submit(priority, func() {
				atomic.AddInt32(&ran, 1)
				close(done)
			})
			<-done
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("fan-out submit: %v", err)
	}
	if int(ran) != n {
		t.Fatalf("ran = %d, want %d", ran, n)
	}
}

func newTestResourceSystem(t *testing.T, cpus int) *ke.System {
	t.Helper()
	m := hal.NewMachine(cpus, time.Millisecond)
	sys := ke.NewSystem(m)
	sys.Start()
	m.Start()
	t.Cleanup(func() {
		m.Stop()
		sys.Stop()
	})
	return sys
}

func TestResourceSharedReadersConcurrent(t *testing.T) {
	sys := newTestResourceSystem(t, 2)
	r := NewResource(sys)

	var active int32
	var maxActive int32
	var mu sync.Mutex
	done := make(chan struct{}, 2)

	reader := func() {
		sys.CreateThread(5, 0, 0, func(th *ke.Thread) {
			r.AcquireShared(th)
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			r.ReleaseShared()
			done <- struct{}{}
		})
	}
	reader()
	reader()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("reader never completed")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if maxActive < 2 {
		t.Fatalf("expected both shared readers to run concurrently, max concurrent = %d", maxActive)
	}
}

func TestResourceExclusiveExcludesReaders(t *testing.T) {
	sys := newTestResourceSystem(t, 2)
	r := NewResource(sys)

	writerHeld := make(chan struct{})
	writerRelease := make(chan struct{})
	readerDone := make(chan struct{})

	sys.CreateThread(5, 0, 0, func(th *ke.Thread) {
		r.AcquireExclusive(th)
		close(writerHeld)
		<-writerRelease
		r.ReleaseExclusive(th)
	})

	<-writerHeld

	var readerStarted int32
	sys.CreateThread(5, 0, 0, func(th *ke.Thread) {
		r.AcquireShared(th)
		readerStarted = 1
		r.ReleaseShared()
		close(readerDone)
	})

	time.Sleep(20 * time.Millisecond)
	if readerStarted != 0 {
		t.Fatal("reader acquired shared access while a writer held the resource exclusively")
	}

	close(writerRelease)
	select {
	case <-readerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never acquired the resource after the writer released it")
	}
}

func TestResourceExclusiveRecursion(t *testing.T) {
	sys := newTestResourceSystem(t, 1)
	r := NewResource(sys)
	done := make(chan struct{})

	sys.CreateThread(5, 0, 0, func(th *ke.Thread) {
		if status := r.AcquireExclusive(th); !status.Ok() {
			t.Errorf("first acquire: %v", status)
		}
		if status := r.AcquireExclusive(th); !status.Ok() {
			t.Errorf("recursive acquire: %v", status)
		}
		if status := r.ReleaseExclusive(th); !status.Ok() {
			t.Errorf("inner release: %v", status)
		}
		if status := r.ReleaseExclusive(th); !status.Ok() {
			t.Errorf("outer release: %v", status)
		}
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recursive acquire/release scenario deadlocked")
	}
}
