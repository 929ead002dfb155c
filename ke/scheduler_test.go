package ke

import (
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nostalgiaos/kernel/hal"
	"github.com/nostalgiaos/kernel/rtl"
)

func newTestSystem(t *testing.T, cpus int) (*System, *hal.Machine) {
	t.Helper()
	m := hal.NewMachine(cpus, time.Millisecond)
	sys := NewSystem(m)
	sys.Start()
	m.Start()
	t.Cleanup(func() {
		m.Stop()
		sys.Stop()
	})
	return sys, m
}

func TestSchedulerRunsReadyThreads(t *testing.T) {
	sys, _ := newTestSystem(t, 2)

	var ran int32
	done := make(chan struct{})
	sys.CreateThread(10, 0, 0, func(th *Thread) {
		atomic.StoreInt32(&ran, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("thread never ran")
	}
	if atomic.LoadInt32(&ran) == 0 {
		t.Fatal("thread body did not execute")
	}
}

// TestSchedulerPriorityPreemption checks that a higher-priority thread
// becoming Ready preempts a lower-priority thread spinning in a
// Yield loop on a single CPU.
func TestSchedulerPriorityPreemption(t *testing.T) {
	sys, _ := newTestSystem(t, 1)

	order := make(chan string, 2)
	lowStarted := make(chan struct{})
	release := sys.NewEvent(true, false)

	sys.CreateThread(5, 0, 0, func(th *Thread) {
		close(lowStarted)
		for i := 0; i < 100000; i++ {
			th.Yield()
		}
		order <- "low"
	})

	<-lowStarted
	sys.CreateThread(20, 0, 0, func(th *Thread) {
		sys.WaitForSingleObject(th, release, nil)
		order <- "high"
	})
	release.SetEvent()

	first := <-order
	<-order
	if first != "high" {
		t.Fatalf("expected high priority thread to finish first, got %q", first)
	}
}

// TestWaitForMultipleObjectsAny exercises WaitAny semantics with a
// single goroutine signaler, driven through errgroup the way the
// teacher's own concurrency scenarios are structured.
func TestWaitForMultipleObjectsAny(t *testing.T) {
	sys, _ := newTestSystem(t, 4)

	events := make([]*Dispatcher, 4)
	for i := range events {
		events[i] = sys.NewEvent(true, false)
	}

	result := make(chan int, 1)
	sys.CreateThread(10, 0, 0, func(th *Thread) {
		idx, status := sys.WaitForMultipleObjects(th, events, WaitAny, nil, false)
		if !status.Ok() {
			t.Errorf("wait failed: %v", status)
		}
		result <- idx
	})

	var g errgroup.Group
	g.Go(func() error {
		time.Sleep(20 * time.Millisecond)
		events[2].SetEvent()
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	select {
	case idx := <-result:
		if idx != 2 {
			t.Fatalf("expected event 2 to satisfy the wait, got %d", idx)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait never completed")
	}
}

func TestWaitForSingleObjectTimeout(t *testing.T) {
	sys, _ := newTestSystem(t, 1)

	ev := sys.NewEvent(true, false)
	statusCh := make(chan rtl.Status, 1)
	sys.CreateThread(10, 0, 0, func(th *Thread) {
		timeout := 30 * time.Millisecond
		statusCh <- sys.WaitForSingleObject(th, ev, &timeout)
	})

	select {
	case status := <-statusCh:
		if status != rtl.StatusTimeout {
			t.Fatalf("expected StatusTimeout, got %v", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait never timed out")
	}
}

func TestWaitForMultipleObjectsAll(t *testing.T) {
	sys, _ := newTestSystem(t, 2)

	a := sys.NewEvent(true, false)
	b := sys.NewEvent(true, false)
	statusCh := make(chan rtl.Status, 1)

	sys.CreateThread(10, 0, 0, func(th *Thread) {
		_, status := sys.WaitForMultipleObjects(th, []*Dispatcher{a, b}, WaitAll, nil, false)
		statusCh <- status
	})

	time.Sleep(10 * time.Millisecond)
	a.SetEvent()
	time.Sleep(10 * time.Millisecond)
	b.SetEvent()

	select {
	case status := <-statusCh:
		if !status.Ok() {
			t.Fatalf("WaitAll failed: %v", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitAll never completed")
	}
}

func TestSemaphoreReleaseWakesWaiter(t *testing.T) {
	sys, _ := newTestSystem(t, 2)
	sem := sys.NewSemaphore(0, 1)
	statusCh := make(chan rtl.Status, 1)

	sys.CreateThread(10, 0, 0, func(th *Thread) {
		statusCh <- sys.WaitForSingleObject(th, sem, nil)
	})

	time.Sleep(10 * time.Millisecond)
	sem.ReleaseSemaphore(1)

	select {
	case status := <-statusCh:
		if !status.Ok() {
			t.Fatalf("semaphore wait failed: %v", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("semaphore wait never completed")
	}
}
