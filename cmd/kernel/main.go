// Command kernel boots a Nostalgia OS kernel instance and runs the
// end-to-end scenarios used to smoke-test a fresh build, the same role
// fuse/example's main.go plays for the teacher: mount, drive the
// filesystem through its public surface, log results, exit.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nostalgiaos/kernel/hal"
	"github.com/nostalgiaos/kernel/io"
	"github.com/nostalgiaos/kernel/ke"
	"github.com/nostalgiaos/kernel/kernel"
	"github.com/nostalgiaos/kernel/rtl"
)

func main() {
	numCPU := flag.Int("cpus", 2, "number of virtual CPUs to simulate")
	flag.Parse()

	k := kernel.New(kernel.Config{NumCPU: *numCPU})
	defer k.Shutdown()

	scenarios := []struct {
		name string
		run  func(*kernel.Kernel) error
	}{
		{"create-write-readback", scenarioCreateWriteReadback},
		{"rename-across-directories", scenarioRenameAcrossDirectories},
		{"truncate-shrink-and-grow", scenarioTruncateShrinkAndGrow},
		{"lznt1-round-trip", scenarioLznt1RoundTrip},
		{"priority-preemption", scenarioPriorityPreemption},
		{"wait-any-timeout", scenarioWaitAnyTimeout},
	}

	failed := 0
	for _, s := range scenarios {
		if err := s.run(k); err != nil {
			log.Printf("FAIL %s: %v", s.name, err)
			failed++
		} else {
			log.Printf("ok   %s", s.name)
		}
	}
	if failed > 0 {
		log.Panicf("%d scenario(s) failed", failed)
	}
}

func fail(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// scenarioCreateWriteReadback is spec.md §8 end-to-end scenario 1.
func scenarioCreateWriteReadback(k *kernel.Kernel) error {
	h, status := k.FS.Create(`C:\T.TXT`, io.FlagCached)
	if !status.Ok() {
		return fail("create: %s", status)
	}
	defer k.FS.Close(h)

	if _, status := k.FS.Write(h, []byte("Hello")); !status.Ok() {
		return fail("write: %s", status)
	}
	if _, status := k.FS.Seek(h, 0, io.SeekSet); !status.Ok() {
		return fail("seek: %s", status)
	}
	buf := make([]byte, 5)
	n, status := k.FS.Read(h, buf)
	if !status.Ok() {
		return fail("read: %s", status)
	}
	if n != 5 || string(buf) != "Hello" {
		return fail("readback mismatch: got %q", buf[:n])
	}
	return nil
}

// scenarioRenameAcrossDirectories is spec.md §8 end-to-end scenario 2.
func scenarioRenameAcrossDirectories(k *kernel.Kernel) error {
	h, status := k.FS.Create(`C:\A.TXT`, 0)
	if !status.Ok() {
		return fail("create A.TXT: %s", status)
	}
	k.FS.Close(h)

	if status := k.FS.Mkdir(`C:\D`); !status.Ok() {
		return fail("mkdir: %s", status)
	}
	if status := k.FS.Rename(`C:\A.TXT`, `C:\D\B.TXT`); !status.Ok() {
		return fail("rename: %s", status)
	}
	if _, status := k.FS.Open(`C:\A.TXT`, 0); status != rtl.StatusNotFound {
		return fail("open A.TXT after rename: got %s, want NotFound", status)
	}
	h2, status := k.FS.Open(`C:\D\B.TXT`, 0)
	if !status.Ok() {
		return fail("open D\\B.TXT: %s", status)
	}
	k.FS.Close(h2)
	return nil
}

// scenarioTruncateShrinkAndGrow is spec.md §8 end-to-end scenario 3.
func scenarioTruncateShrinkAndGrow(k *kernel.Kernel) error {
	h, status := k.FS.Create(`C:\X.TXT`, 0)
	if !status.Ok() {
		return fail("create: %s", status)
	}
	defer k.FS.Close(h)

	if _, status := k.FS.Write(h, make([]byte, 100)); !status.Ok() {
		return fail("write 100: %s", status)
	}
	if status := k.FS.Truncate(h, 50); !status.Ok() {
		return fail("truncate 50: %s", status)
	}
	info, status := k.FS.Fstat(h)
	if !status.Ok() {
		return fail("fstat: %s", status)
	}
	if info.Size != 50 {
		return fail("size after shrink: got %d, want 50", info.Size)
	}
	if status := k.FS.Truncate(h, 200); !status.Ok() {
		return fail("truncate 200: %s", status)
	}
	pos, status := k.FS.Seek(h, 0, io.SeekEnd)
	if !status.Ok() {
		return fail("seek end: %s", status)
	}
	if pos != 200 {
		return fail("size after grow: got %d, want 200", pos)
	}
	return nil
}

// scenarioLznt1RoundTrip is spec.md §8 end-to-end scenario 4.
func scenarioLznt1RoundTrip(k *kernel.Kernel) error {
	x := bytes.Repeat([]byte("ABC"), 4096/3+1)[:4096]
	compressed, status := rtl.CompressBuffer(x)
	if !status.Ok() {
		return fail("compress: %s", status)
	}
	if len(compressed) >= len(x) {
		return fail("compressed size %d not smaller than input %d", len(compressed), len(x))
	}
	decompressed, status := rtl.DecompressBuffer(compressed)
	if !status.Ok() {
		return fail("decompress: %s", status)
	}
	if !bytes.Equal(decompressed, x) {
		return fail("round trip mismatch")
	}
	return nil
}

// scenarioPriorityPreemption is spec.md §8 end-to-end scenario 5: with
// one CPU and two ready threads at priorities 8 and 10, the
// priority-10 thread gets the CPU while the priority-8 thread is still
// looping. The check waits up to one second for it to start and accepts
// a state of Running or Ready; it does not time the switch against the
// quantum.
//
// This scenario stands up its own single-CPU scheduler rather than
// reusing k's, since k's scheduler was already built with its
// configured CPU count and other scenarios' threads.
func scenarioPriorityPreemption(k *kernel.Kernel) error {
	machine := hal.NewMachine(1, time.Millisecond)
	sys := ke.NewSystem(machine)
	sys.Start()
	defer sys.Stop()
	machine.Start()
	defer machine.Stop()

	lowDone := make(chan struct{})
	highRunning := make(chan struct{}, 1)

	sys.CreateThread(8, 0, -1, func(t *ke.Thread) {
		for i := 0; i < 50; i++ {
			t.Yield()
			time.Sleep(time.Millisecond)
		}
		close(lowDone)
	})
	var high *ke.Thread
	high = sys.CreateThread(10, 0, -1, func(t *ke.Thread) {
		highRunning <- struct{}{}
		<-lowDone
	})

	select {
	case <-highRunning:
		if high.State() != ke.ThreadRunning && high.State() != ke.ThreadReady {
			return fail("high-priority thread state: %s", high.State())
		}
		return nil
	case <-time.After(time.Second):
		return fail("high-priority thread never ran")
	}
}

// scenarioWaitAnyTimeout is spec.md §8 end-to-end scenario 6: a thread
// waiting on two never-signaled events with a 10ms relative timeout
// completes with Timeout; the check accepts an elapsed time between
// 10ms and 50ms.
func scenarioWaitAnyTimeout(k *kernel.Kernel) error {
	resultCh := make(chan rtl.Status, 1)
	var elapsed time.Duration

	e1 := k.Scheduler.NewEvent(true, false)
	e2 := k.Scheduler.NewEvent(true, false)

	start := time.Now()
	k.Scheduler.CreateThread(8, 0, -1, func(t *ke.Thread) {
		timeout := 10 * time.Millisecond
		_, status := k.Scheduler.WaitForMultipleObjects(t, []*ke.Dispatcher{e1, e2}, ke.WaitAny, &timeout, false)
		elapsed = time.Since(start)
		resultCh <- status
	})

	select {
	case status := <-resultCh:
		if status != rtl.StatusTimeout {
			return fail("wait status: got %s, want Timeout", status)
		}
		if elapsed < 10*time.Millisecond || elapsed > 50*time.Millisecond {
			return fail("wait took %v, want within [10ms, 50ms]", elapsed)
		}
		return nil
	case <-time.After(2 * time.Second):
		return fail("wait-any scenario deadlocked")
	}
}
