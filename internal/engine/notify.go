package engine

import (
	"sync"
	"time"
)

const eventBufferSize = 16

// Flag identifies one of the engine's transient boolean flags.
type Flag int

const (
	FlagOpening Flag = iota
	FlagSeeking
	FlagBuffering
	FlagMediaEnded
	FlagPositionUpdating
)

// String returns the flag name.
func (f Flag) String() string {
	switch f {
	case FlagOpening:
		return "IsOpening"
	case FlagSeeking:
		return "IsSeeking"
	case FlagBuffering:
		return "IsBuffering"
	case FlagMediaEnded:
		return "HasMediaEnded"
	case FlagPositionUpdating:
		return "IsPositionUpdating"
	default:
		return "Unknown"
	}
}

// StateChange is emitted when the engine state transitions.
type StateChange struct {
	Previous State
	Current  State
}

// FlagChange is emitted when a transient flag actually changes value.
type FlagChange struct {
	Flag  Flag
	Value bool
}

// PropertiesChange carries a fresh session-properties snapshot together
// with the identities of the properties that differ from the previous one.
type PropertiesChange struct {
	Changed []Prop
	Props   Properties
}

// PositionChange is emitted when the reported playback position moves by
// an externally visible amount (seek landed, stop rewound). EngineDriven
// marks updates that originated inside the engine; a subscriber that
// echoes positions back must skip those, no matter how late it drains the
// event.
type PositionChange struct {
	Position     time.Duration
	EngineDriven bool
}

// SettingsChange is emitted when volume, balance or speed ratio changes.
type SettingsChange struct {
	Volume     int
	Balance    float64
	SpeedRatio float64
}

// Subscription provides per-event channels for one subscriber. Events are
// delivered non-blocking; a subscriber that falls behind loses the oldest
// pending events rather than stalling the engine.
type Subscription struct {
	StateChanged      <-chan StateChange
	FlagChanged       <-chan FlagChange
	PropertiesChanged <-chan PropertiesChange
	PositionChanged   <-chan PositionChange
	SettingsChanged   <-chan SettingsChange

	stateCh    chan StateChange
	flagCh     chan FlagChange
	propsCh    chan PropertiesChange
	positionCh chan PositionChange
	settingsCh chan SettingsChange
}

func newSubscription() *Subscription {
	s := &Subscription{
		stateCh:    make(chan StateChange, eventBufferSize),
		flagCh:     make(chan FlagChange, eventBufferSize),
		propsCh:    make(chan PropertiesChange, eventBufferSize),
		positionCh: make(chan PositionChange, eventBufferSize),
		settingsCh: make(chan SettingsChange, eventBufferSize),
	}
	s.StateChanged = s.stateCh
	s.FlagChanged = s.flagCh
	s.PropertiesChanged = s.propsCh
	s.PositionChanged = s.positionCh
	s.SettingsChanged = s.settingsCh
	return s
}

// Hub fans engine change events out to subscribers. Sends never block.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscription {
	s := newSubscription()
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber. Its channels are not closed; pending
// events may still be drained.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *Hub) publishState(e StateChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.stateCh <- e:
		default:
		}
	}
}

func (h *Hub) publishFlag(e FlagChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.flagCh <- e:
		default:
		}
	}
}

func (h *Hub) publishProperties(e PropertiesChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.propsCh <- e:
		default:
		}
	}
}

func (h *Hub) publishPosition(e PositionChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.positionCh <- e:
		default:
		}
	}
}

func (h *Hub) publishSettings(e SettingsChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.settingsCh <- e:
		default:
		}
	}
}
