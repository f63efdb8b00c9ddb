package engine

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// State is the engine's authoritative playback state. Exactly one value
// holds at any instant.
type State int

const (
	StateClosed State = iota
	StateOpening
	StatePlay
	StatePause
	StateStop
	StateManual
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpening:
		return "Opening"
	case StatePlay:
		return "Play"
	case StatePause:
		return "Pause"
	case StateStop:
		return "Stop"
	case StateManual:
		return "Manual"
	default:
		return "Unknown"
	}
}

// IsPlaying reports whether the state counts as actively playing.
func (s State) IsPlaying() bool {
	return s == StatePlay
}

// reachable is the transition table. Closed only opens; Opening settles
// into any playing state or back to Closed; the playing states are freely
// interchangeable and can always close.
var reachable = map[State][]State{
	StateClosed:  {StateOpening},
	StateOpening: {StateClosed, StatePlay, StatePause, StateManual, StateStop},
	StatePlay:    {StatePlay, StatePause, StateStop, StateManual, StateClosed},
	StatePause:   {StatePlay, StatePause, StateStop, StateManual, StateClosed},
	StateStop:    {StatePlay, StatePause, StateStop, StateManual, StateClosed},
	StateManual:  {StatePlay, StatePause, StateStop, StateManual, StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range reachable[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Defaults holds the scalar values the machine resets to on Close.
type Defaults struct {
	Volume     int
	Balance    float64
	SpeedRatio float64
}

// Machine holds the authoritative engine state, the transient flags
// layered over it, and the volume/balance/speed scalars. All mutation goes
// through the command queue's drain goroutine; reads may come from any
// goroutine.
type Machine struct {
	mu       sync.RWMutex
	state    State
	flags    map[Flag]bool
	volume   int
	balance  float64
	speed    float64
	defaults Defaults
	hub      *Hub
}

// NewMachine creates a machine in StateClosed with all flags false and
// scalars at their defaults.
func NewMachine(defaults Defaults, hub *Hub) *Machine {
	return &Machine{
		state:    StateClosed,
		flags:    make(map[Flag]bool),
		volume:   defaults.Volume,
		balance:  defaults.Balance,
		speed:    defaults.SpeedRatio,
		defaults: defaults,
		hub:      hub,
	}
}

// State returns the current engine state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves the machine to the given state. It fails with an
// IllegalTransitionError when the target is unreachable from the current
// state; on success it raises exactly one state-changed notification.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !canTransition(from, to) {
		m.mu.Unlock()
		return &IllegalTransitionError{From: from, To: to}
	}
	m.state = to
	m.mu.Unlock()

	log.Debug().Stringer("from", from).Stringer("to", to).Msg("State transition")
	m.hub.publishState(StateChange{Previous: from, Current: to})
	return nil
}

// Flag returns the current value of a transient flag.
func (m *Machine) Flag(f Flag) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[f]
}

// SetFlag assigns a transient flag. Unchanged values are a no-op and raise
// no notification; an actual change notifies exactly once. It reports
// whether the value changed.
func (m *Machine) SetFlag(f Flag, value bool) bool {
	m.mu.Lock()
	if m.flags[f] == value {
		m.mu.Unlock()
		return false
	}
	m.flags[f] = value
	m.mu.Unlock()

	m.hub.publishFlag(FlagChange{Flag: f, Value: value})
	return true
}

// Volume returns the current volume (0-100).
func (m *Machine) Volume() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volume
}

// Balance returns the current balance (-1.0 .. 1.0).
func (m *Machine) Balance() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balance
}

// SpeedRatio returns the current playback speed ratio.
func (m *Machine) SpeedRatio() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speed
}

// SetVolume clamps and assigns the volume, notifying on change.
func (m *Machine) SetVolume(vol int) {
	if vol < 0 {
		vol = 0
	} else if vol > 100 {
		vol = 100
	}
	m.mu.Lock()
	if m.volume == vol {
		m.mu.Unlock()
		return
	}
	m.volume = vol
	m.mu.Unlock()
	m.publishSettings()
}

// SetBalance clamps and assigns the balance, notifying on change.
func (m *Machine) SetBalance(balance float64) {
	if balance < -1 {
		balance = -1
	} else if balance > 1 {
		balance = 1
	}
	m.mu.Lock()
	if m.balance == balance {
		m.mu.Unlock()
		return
	}
	m.balance = balance
	m.mu.Unlock()
	m.publishSettings()
}

// setSpeedRatio assigns the speed ratio, notifying on change. Range
// validation happens at the API boundary before the command is enqueued.
func (m *Machine) setSpeedRatio(ratio float64) {
	m.mu.Lock()
	if m.speed == ratio {
		m.mu.Unlock()
		return
	}
	m.speed = ratio
	m.mu.Unlock()
	m.publishSettings()
}

func (m *Machine) publishSettings() {
	m.mu.RLock()
	e := SettingsChange{Volume: m.volume, Balance: m.balance, SpeedRatio: m.speed}
	m.mu.RUnlock()
	m.hub.publishSettings(e)
}

// Reset drives the machine back to its initial shape: StateClosed,
// transient flags false, scalars at defaults. Each value that actually
// changes notifies once. The open guard flag is left alone.
func (m *Machine) Reset() {
	m.mu.Lock()
	from := m.state
	m.state = StateClosed
	var clearedFlags []Flag
	for f, v := range m.flags {
		// FlagOpening is the one-open-in-flight guard, raised before the
		// Open is even queued and lowered by the open sequence itself. A
		// Close executing while an Open waits behind it must not drop it.
		if f == FlagOpening || !v {
			continue
		}
		m.flags[f] = false
		clearedFlags = append(clearedFlags, f)
	}
	settingsChanged := m.volume != m.defaults.Volume ||
		m.balance != m.defaults.Balance ||
		m.speed != m.defaults.SpeedRatio
	m.volume = m.defaults.Volume
	m.balance = m.defaults.Balance
	m.speed = m.defaults.SpeedRatio
	m.mu.Unlock()

	if from != StateClosed {
		m.hub.publishState(StateChange{Previous: from, Current: StateClosed})
	}
	for _, f := range clearedFlags {
		m.hub.publishFlag(FlagChange{Flag: f, Value: false})
	}
	if settingsChanged {
		m.publishSettings()
	}
}
