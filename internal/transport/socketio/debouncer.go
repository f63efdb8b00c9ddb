package socketio

import (
	"sync"
	"time"
)

// BroadcastDebouncer collapses rapid engine change events into batched
// broadcasts. Multiple changes within the debounce window result in a
// single state push.
type BroadcastDebouncer struct {
	window        time.Duration
	stateCallback func()
	propsCallback func()

	mu           sync.Mutex
	pendingState bool
	pendingProps bool
	timer        *time.Timer
	stopped      bool
}

// NewBroadcastDebouncer creates a debouncer with the given window.
// stateCallback fires for playback state/flag/position changes,
// propsCallback for session-property changes.
func NewBroadcastDebouncer(window time.Duration, stateCallback, propsCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:        window,
		stateCallback: stateCallback,
		propsCallback: propsCallback,
	}
}

// TriggerState records a pending playback state broadcast.
func (d *BroadcastDebouncer) TriggerState() {
	d.trigger(func() { d.pendingState = true })
}

// TriggerProperties records a pending session-properties broadcast.
func (d *BroadcastDebouncer) TriggerProperties() {
	d.trigger(func() {
		d.pendingState = true
		d.pendingProps = true
	})
}

func (d *BroadcastDebouncer) trigger(mark func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	mark()

	// Reset the timer
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires callbacks for any pending flags and resets them.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	doState := d.pendingState
	doProps := d.pendingProps
	d.pendingState = false
	d.pendingProps = false
	d.mu.Unlock()

	if doState && d.stateCallback != nil {
		d.stateCallback()
	}
	if doProps && d.propsCallback != nil {
		d.propsCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingProps = false
}
