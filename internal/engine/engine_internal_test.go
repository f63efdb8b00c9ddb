package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/media"
)

type stubContainer struct {
	mu     sync.Mutex
	open   bool
	seeks  int
	events chan media.Event
}

func (c *stubContainer) Open(context.Context, string) (*media.Info, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return &media.Info{Duration: 10 * time.Second, IsSeekable: true}, nil
}

func (c *stubContainer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *stubContainer) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *stubContainer) Seek(_ context.Context, target time.Duration) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seeks++
	return target, nil
}

func (c *stubContainer) Events() <-chan media.Event { return c.events }

func (c *stubContainer) seekCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seeks
}

type stubRenderer struct{}

func (stubRenderer) Start(media.Type) error      { return nil }
func (stubRenderer) Stop(media.Type) error       { return nil }
func (stubRenderer) SetSpeedRatio(float64) error { return nil }

// A position write arriving while the engine itself is publishing the
// position must be dropped, otherwise a subscriber echoing positions back
// turns every internal update into a fresh seek.
func TestSetPositionIgnoredWhilePositionUpdating(t *testing.T) {
	cnt := &stubContainer{events: make(chan media.Event)}
	e := New(DefaultConfig(), cnt, stubRenderer{}, nil, nil)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Open("file:///sample.mp4").Wait(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	e.machine.SetFlag(FlagPositionUpdating, true)
	e.SetPosition(5 * time.Second)
	e.machine.SetFlag(FlagPositionUpdating, false)

	// Barrier: once this no-op drains, any seek SetPosition had enqueued
	// would already have executed.
	if err := e.queue.Enqueue(CmdPlay, func() error { return nil }).Wait(ctx); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	if got := cnt.seekCount(); got != 0 {
		t.Errorf("guarded SetPosition reached the container %d times, want 0", got)
	}

	e.SetPosition(5 * time.Second)
	if err := e.queue.Enqueue(CmdPlay, func() error { return nil }).Wait(ctx); err != nil {
		t.Fatalf("barrier: %v", err)
	}
	if got := cnt.seekCount(); got != 1 {
		t.Errorf("unguarded SetPosition reached the container %d times, want 1", got)
	}
}
