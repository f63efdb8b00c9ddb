package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shutdownQueue(t *testing.T, q *engine.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("queue shutdown: %v", err)
	}
}

func waitHandle(t *testing.T, h *engine.Handle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("handle for %s never completed", h.Kind())
	}
	return err
}

func TestAtMostOneCommandActive(t *testing.T) {
	q := engine.NewQueue(nil)
	defer shutdownQueue(t, q)

	var active, maxActive int32
	var handles []*engine.Handle
	for i := 0; i < 20; i++ {
		h := q.Enqueue(engine.CmdPlay, func() error {
			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		})
		handles = append(handles, h)
	}
	for _, h := range handles {
		if err := waitHandle(t, h); err != nil {
			t.Fatalf("command failed: %v", err)
		}
	}
	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Errorf("max concurrently active commands = %d, want 1", got)
	}
}

func TestCommandsDrainInIssuanceOrder(t *testing.T) {
	q := engine.NewQueue(nil)
	defer shutdownQueue(t, q)

	var mu sync.Mutex
	var order []int

	started := make(chan struct{})
	release := make(chan struct{})
	gate := q.Enqueue(engine.CmdPlay, func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	var handles []*engine.Handle
	for i := 0; i < 5; i++ {
		i := i
		handles = append(handles, q.Enqueue(engine.CmdPause, func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	close(release)
	waitHandle(t, gate)
	for _, h := range handles {
		waitHandle(t, h)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("execution order = %v, want issuance order", order)
		}
	}
}

func TestSeekCoalescing(t *testing.T) {
	q := engine.NewQueue(nil)
	defer shutdownQueue(t, q)

	started := make(chan struct{})
	release := make(chan struct{})
	gate := q.Enqueue(engine.CmdPlay, func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	var executed int32
	first := q.Enqueue(engine.CmdSeek, func() error {
		atomic.AddInt32(&executed, 1)
		return nil
	})
	second := q.Enqueue(engine.CmdSeek, func() error {
		atomic.AddInt32(&executed, 1)
		return nil
	})
	close(release)

	waitHandle(t, gate)
	if err := waitHandle(t, first); !errors.Is(err, engine.ErrCommandCancelled) {
		t.Errorf("superseded seek error = %v, want ErrCommandCancelled", err)
	}
	if err := waitHandle(t, second); err != nil {
		t.Errorf("latest seek failed: %v", err)
	}
	if got := atomic.LoadInt32(&executed); got != 1 {
		t.Errorf("executed %d seeks, want exactly 1", got)
	}
}

func TestClosePreemptsQueuedCommands(t *testing.T) {
	q := engine.NewQueue(nil)
	defer shutdownQueue(t, q)

	started := make(chan struct{})
	release := make(chan struct{})
	gate := q.Enqueue(engine.CmdPlay, func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	var executed int32
	kinds := []engine.CommandKind{engine.CmdPlay, engine.CmdPause, engine.CmdSeek, engine.CmdSetSpeed}
	var queued []*engine.Handle
	for _, k := range kinds {
		queued = append(queued, q.Enqueue(k, func() error {
			atomic.AddInt32(&executed, 1)
			return nil
		}))
	}

	var closeRan int32
	closeHandle := q.Enqueue(engine.CmdClose, func() error {
		atomic.AddInt32(&closeRan, 1)
		return nil
	})
	close(release)

	waitHandle(t, gate)
	if err := waitHandle(t, closeHandle); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	for _, h := range queued {
		err := waitHandle(t, h)
		if !errors.Is(err, engine.ErrCommandCancelled) {
			t.Errorf("preempted %s error = %v, want ErrCommandCancelled", h.Kind(), err)
		}
	}
	if got := atomic.LoadInt32(&executed); got != 0 {
		t.Errorf("%d preempted commands executed, want 0", got)
	}
	if got := atomic.LoadInt32(&closeRan); got != 1 {
		t.Errorf("close executed %d times, want 1", got)
	}
}

func TestCloseDoesNotPreemptQueuedClose(t *testing.T) {
	// A second Close still discards everything else, but an earlier
	// queued Close is about to deliver exactly the requested effect, so
	// its handle reports the close outcome rather than a cancellation.
	q := engine.NewQueue(nil)
	defer shutdownQueue(t, q)

	started := make(chan struct{})
	release := make(chan struct{})
	gate := q.Enqueue(engine.CmdPlay, func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	var executed int32
	play := q.Enqueue(engine.CmdPlay, func() error { return nil })
	first := q.Enqueue(engine.CmdClose, func() error {
		atomic.AddInt32(&executed, 1)
		return nil
	})
	second := q.Enqueue(engine.CmdClose, func() error {
		atomic.AddInt32(&executed, 1)
		return nil
	})
	close(release)

	waitHandle(t, gate)
	if err := waitHandle(t, play); !errors.Is(err, engine.ErrCommandCancelled) {
		t.Errorf("queued play error = %v, want ErrCommandCancelled", err)
	}
	if err := waitHandle(t, first); err != nil {
		t.Errorf("first close error = %v, want success", err)
	}
	if err := waitHandle(t, second); err != nil {
		t.Errorf("second close error = %v, want success", err)
	}
	if got := atomic.LoadInt32(&executed); got != 2 {
		t.Errorf("executed %d closes, want 2", got)
	}
}

func TestActiveCommandRunsToCompletion(t *testing.T) {
	// Close discards queued commands but never interrupts the active one.
	q := engine.NewQueue(nil)
	defer shutdownQueue(t, q)

	started := make(chan struct{})
	release := make(chan struct{})
	var finished int32
	active := q.Enqueue(engine.CmdSeek, func() error {
		close(started)
		<-release
		atomic.AddInt32(&finished, 1)
		return nil
	})
	<-started

	closeHandle := q.Enqueue(engine.CmdClose, func() error { return nil })
	close(release)

	if err := waitHandle(t, active); err != nil {
		t.Errorf("active command error = %v, want success", err)
	}
	if err := waitHandle(t, closeHandle); err != nil {
		t.Errorf("close error = %v", err)
	}
	if got := atomic.LoadInt32(&finished); got != 1 {
		t.Errorf("active command finished %d times, want 1", got)
	}
}

func TestHandleReportsExecutionError(t *testing.T) {
	q := engine.NewQueue(nil)
	defer shutdownQueue(t, q)

	boom := errors.New("boom")
	h := q.Enqueue(engine.CmdPlay, func() error { return boom })
	if err := waitHandle(t, h); !errors.Is(err, boom) {
		t.Errorf("handle error = %v, want %v", err, boom)
	}
}

func TestShutdownDiscardsPendingAndRejectsNew(t *testing.T) {
	q := engine.NewQueue(nil)

	started := make(chan struct{})
	release := make(chan struct{})
	q.Enqueue(engine.CmdPlay, func() error {
		close(started)
		<-release
		return nil
	})
	<-started
	pending := q.Enqueue(engine.CmdPause, func() error { return nil })

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- q.Shutdown(ctx)
	}()
	// Give Shutdown a moment to mark the queue closing before the active
	// command is released.
	time.Sleep(50 * time.Millisecond)
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := pending.Err(); !errors.Is(err, engine.ErrEngineClosed) {
		t.Errorf("pending command error = %v, want ErrEngineClosed", err)
	}

	rejected := q.Enqueue(engine.CmdPlay, func() error { return nil })
	if err := rejected.Err(); !errors.Is(err, engine.ErrEngineClosed) {
		t.Errorf("post-shutdown enqueue error = %v, want ErrEngineClosed", err)
	}
}
