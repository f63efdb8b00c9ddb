// Package clock provides the monotonic real-time reference that paces
// playback and reports the current position.
package clock

import (
	"sync"
	"time"
)

// Realtime is a monotonic playback clock. While running, Now advances at
// the configured speed ratio relative to wall time; Set rebases it to an
// explicit position. Reads are safe from any goroutine; Set, SetRate,
// Pause and Resume are writer operations sequenced through the command
// queue.
type Realtime struct {
	mu      sync.RWMutex
	offset  time.Duration // position at the last rebase
	basedAt time.Time     // wall time of the last rebase
	rate    float64
	running bool
}

// NewRealtime returns a stopped clock at position zero with rate 1.0.
func NewRealtime() *Realtime {
	return &Realtime{rate: 1.0}
}

// Now returns the current playback position.
func (c *Realtime) Now() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nowLocked()
}

// nowLocked computes the position (must hold lock).
func (c *Realtime) nowLocked() time.Duration {
	if !c.running {
		return c.offset
	}
	elapsed := time.Since(c.basedAt)
	return c.offset + time.Duration(float64(elapsed)*c.rate)
}

// Set rebases the clock to the given position without changing the
// running state or rate.
func (c *Realtime) Set(pos time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = pos
	c.basedAt = time.Now()
}

// Rate returns the current speed ratio.
func (c *Realtime) Rate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

// SetRate changes the speed ratio, preserving the current position.
func (c *Realtime) SetRate(rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = c.nowLocked()
	c.basedAt = time.Now()
	c.rate = rate
}

// Resume starts the clock advancing from its current position.
func (c *Realtime) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.basedAt = time.Now()
	c.running = true
}

// Pause freezes the clock at its current position.
func (c *Realtime) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.offset = c.nowLocked()
	c.running = false
}

// IsRunning reports whether the clock is advancing.
func (c *Realtime) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Reset stops the clock, rebases it to zero and restores rate 1.0.
func (c *Realtime) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = 0
	c.basedAt = time.Now()
	c.rate = 1.0
	c.running = false
}
