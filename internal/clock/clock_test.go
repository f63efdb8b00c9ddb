package clock_test

import (
	"testing"
	"time"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/clock"
)

func TestNewRealtimeStartsStoppedAtZero(t *testing.T) {
	c := clock.NewRealtime()

	if c.IsRunning() {
		t.Error("new clock should not be running")
	}
	if got := c.Now(); got != 0 {
		t.Errorf("Now() = %v, want 0", got)
	}
	if got := c.Rate(); got != 1.0 {
		t.Errorf("Rate() = %v, want 1.0", got)
	}
}

func TestSetWhilePausedHoldsPosition(t *testing.T) {
	c := clock.NewRealtime()
	c.Set(42 * time.Second)

	time.Sleep(20 * time.Millisecond)

	if got := c.Now(); got != 42*time.Second {
		t.Errorf("paused clock drifted: Now() = %v, want 42s", got)
	}
}

func TestResumeAdvancesPosition(t *testing.T) {
	c := clock.NewRealtime()
	c.Set(time.Second)
	c.Resume()

	time.Sleep(50 * time.Millisecond)

	got := c.Now()
	if got <= time.Second {
		t.Errorf("running clock did not advance: Now() = %v", got)
	}
	if got > time.Second+time.Second {
		t.Errorf("clock advanced implausibly far: Now() = %v", got)
	}
}

func TestPauseFreezesPosition(t *testing.T) {
	c := clock.NewRealtime()
	c.Resume()
	time.Sleep(20 * time.Millisecond)
	c.Pause()

	frozen := c.Now()
	time.Sleep(30 * time.Millisecond)

	if got := c.Now(); got != frozen {
		t.Errorf("paused clock moved: %v -> %v", frozen, got)
	}
}

func TestSetRatePreservesPosition(t *testing.T) {
	c := clock.NewRealtime()
	c.Set(10 * time.Second)
	c.SetRate(2.0)

	if got := c.Rate(); got != 2.0 {
		t.Errorf("Rate() = %v, want 2.0", got)
	}
	if got := c.Now(); got != 10*time.Second {
		t.Errorf("SetRate moved a paused clock: Now() = %v, want 10s", got)
	}
}

func TestRateScalesAdvance(t *testing.T) {
	// A clock at 4x should advance noticeably faster than wall time.
	c := clock.NewRealtime()
	c.SetRate(4.0)
	c.Resume()

	time.Sleep(50 * time.Millisecond)
	got := c.Now()
	c.Pause()

	// 50ms of wall time at 4x is 200ms of media time; allow generous
	// scheduling slack in both directions.
	if got < 100*time.Millisecond {
		t.Errorf("4x clock advanced only %v in 50ms of wall time", got)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	c := clock.NewRealtime()
	c.Set(5 * time.Second)
	c.SetRate(2.0)
	c.Resume()

	c.Reset()

	if c.IsRunning() {
		t.Error("reset clock should not be running")
	}
	if got := c.Now(); got != 0 {
		t.Errorf("Now() = %v after Reset, want 0", got)
	}
	if got := c.Rate(); got != 1.0 {
		t.Errorf("Rate() = %v after Reset, want 1.0", got)
	}
}

func TestResumeTwiceIsIdempotent(t *testing.T) {
	c := clock.NewRealtime()
	c.Resume()
	time.Sleep(20 * time.Millisecond)
	c.Resume() // must not rebase and lose the elapsed time

	if got := c.Now(); got == 0 {
		t.Error("second Resume rebased the clock")
	}
}
