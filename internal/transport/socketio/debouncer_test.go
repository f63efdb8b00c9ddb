package socketio

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerRapidStateEventsCollapseToOne(t *testing.T) {
	var stateCalls int32
	var propsCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&propsCalls, 1) },
	)
	defer d.Stop()

	// Fire 10 rapid state events
	for i := 0; i < 10; i++ {
		d.TriggerState()
	}

	// Wait for debounce window to elapse
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback, got %d", got)
	}
	if got := atomic.LoadInt32(&propsCalls); got != 0 {
		t.Errorf("expected 0 properties callbacks, got %d", got)
	}
}

func TestDebouncerPropertiesTriggersBothStateAndProperties(t *testing.T) {
	var stateCalls int32
	var propsCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&propsCalls, 1) },
	)
	defer d.Stop()

	d.TriggerProperties()

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback for properties event, got %d", got)
	}
	if got := atomic.LoadInt32(&propsCalls); got != 1 {
		t.Errorf("expected 1 properties callback for properties event, got %d", got)
	}
}

func TestDebouncerStoppedFiresNothing(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(20*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)
	d.Stop()
	d.TriggerState()

	time.Sleep(60 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected no callbacks after Stop, got %d", got)
	}
}

func TestStateCompareKeys_DoesNotIncludeSeek(t *testing.T) {
	// Seek is excluded from state diff keys because the frontend
	// interpolates position client-side. Including seek would broadcast
	// every time the clock drifted since the last push.
	for _, key := range stateCompareKeys {
		if key == "seek" {
			t.Error("stateCompareKeys should not include 'seek'")
		}
	}
}

func TestIsStateSame_SeekOnlyChange_ReturnsTrue(t *testing.T) {
	s := &Server{}

	baseState := map[string]interface{}{
		"status":   "play",
		"uri":      "file:///sample.flac",
		"duration": 300,
		"volume":   50,
		"seek":     1000, // seek IS in the state, just not compared
	}
	s.saveLastState(baseState)

	seekOnlyChanged := map[string]interface{}{
		"status":   "play",
		"uri":      "file:///sample.flac",
		"duration": 300,
		"volume":   50,
		"seek":     5000, // only seek changed
	}

	if !s.isStateSame(seekOnlyChanged) {
		t.Error("isStateSame should return true when only seek changed")
	}
}

func TestIsStateSame_StatusChange_ReturnsFalse(t *testing.T) {
	s := &Server{}

	s.saveLastState(map[string]interface{}{
		"status": "play",
		"volume": 50,
	})

	if s.isStateSame(map[string]interface{}{
		"status": "pause",
		"volume": 50,
	}) {
		t.Error("isStateSame should return false when status changed")
	}
}

func TestIsStateSame_NoPriorState_ReturnsFalse(t *testing.T) {
	s := &Server{}

	if s.isStateSame(map[string]interface{}{"status": "stop"}) {
		t.Error("isStateSame should return false before any broadcast")
	}
}
