// Package engine implements the playback engine facade: a serialized
// command queue in front of an always-consistent playback state machine,
// driving the external container and renderer collaborators.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/clock"
	"github.com/halcyonmedia/halcyon-playback-backend/internal/media"
	"github.com/halcyonmedia/halcyon-playback-backend/internal/metrics"
)

// LoadedBehavior selects the state the engine settles into after a
// successful Open.
type LoadedBehavior int

const (
	// LoadedPause leaves freshly opened media paused at position zero.
	LoadedPause LoadedBehavior = iota
	// LoadedPlay starts playback as soon as Open completes.
	LoadedPlay
	// LoadedManual leaves the engine in Manual state for caller-driven
	// stepping.
	LoadedManual
)

// Config holds the engine's static configuration.
type Config struct {
	LoadedBehavior LoadedBehavior
	MinSpeedRatio  float64
	MaxSpeedRatio  float64
	Defaults       Defaults
}

// DefaultConfig returns the configuration the engine runs with unless the
// caller overrides it.
func DefaultConfig() Config {
	return Config{
		LoadedBehavior: LoadedPause,
		MinSpeedRatio:  0.125,
		MaxSpeedRatio:  8.0,
		Defaults: Defaults{
			Volume:     100,
			Balance:    0,
			SpeedRatio: 1.0,
		},
	}
}

// ResumeStore persists playback positions across sessions. Implementations
// must be safe for concurrent use.
type ResumeStore interface {
	Load(uri string) (time.Duration, error)
	Save(uri string, pos time.Duration) error
}

// Engine is the playback engine facade. One engine owns one state machine,
// one clock and one command queue; all transport commands are serialized
// through the queue and callers receive completion handles.
type Engine struct {
	cfg       Config
	container media.Container
	renderer  media.Renderer
	resume    ResumeStore

	machine *Machine
	clock   *clock.Realtime
	queue   *Queue
	props   *Projector
	hub     *Hub
	rec     *metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	info *media.Info

	pumpDone chan struct{}
}

// New creates an engine around the given collaborators. resume and rec may
// be nil to disable session persistence and metrics.
func New(cfg Config, container media.Container, renderer media.Renderer, resume ResumeStore, rec *metrics.Recorder) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	e := &Engine{
		cfg:       cfg,
		container: container,
		renderer:  renderer,
		resume:    resume,
		machine:   NewMachine(cfg.Defaults, hub),
		clock:     clock.NewRealtime(),
		queue:     NewQueue(rec),
		props:     NewProjector(hub),
		hub:       hub,
		rec:       rec,
		ctx:       ctx,
		cancel:    cancel,
		pumpDone:  make(chan struct{}),
	}
	go e.pumpContainerEvents()
	return e
}

// State returns the current engine state.
func (e *Engine) State() State { return e.machine.State() }

// Flag returns the current value of a transient flag.
func (e *Engine) Flag(f Flag) bool { return e.machine.Flag(f) }

// IsOpen reports whether media is loaded and the open sequence has
// completed.
func (e *Engine) IsOpen() bool {
	return !e.machine.Flag(FlagOpening) && e.container.IsOpen()
}

// Properties returns the current derived session properties snapshot.
func (e *Engine) Properties() Properties { return e.props.Current() }

// Position returns the current playback position from the real-time clock.
func (e *Engine) Position() time.Duration { return e.clock.Now() }

// Volume returns the current volume.
func (e *Engine) Volume() int { return e.machine.Volume() }

// Balance returns the current balance.
func (e *Engine) Balance() float64 { return e.machine.Balance() }

// SpeedRatio returns the current playback speed ratio.
func (e *Engine) SpeedRatio() float64 { return e.machine.SpeedRatio() }

// SetVolume sets the output volume (0-100), notifying on change.
func (e *Engine) SetVolume(vol int) { e.machine.SetVolume(vol) }

// SetBalance sets the channel balance (-1.0 .. 1.0), notifying on change.
func (e *Engine) SetBalance(balance float64) { e.machine.SetBalance(balance) }

// Subscribe registers a change-notification subscriber.
func (e *Engine) Subscribe() *Subscription { return e.hub.Subscribe() }

// Unsubscribe removes a subscriber.
func (e *Engine) Unsubscribe(s *Subscription) { e.hub.Unsubscribe(s) }

// Info returns the metadata of the currently loaded media, nil when
// closed.
func (e *Engine) Info() *media.Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info
}

func (e *Engine) setInfo(info *media.Info) {
	e.mu.Lock()
	e.info = info
	e.mu.Unlock()
}

// Open loads the media at uri, first closing whatever is loaded. An empty
// uri is exactly equivalent to Close. Open fails synchronously with
// ErrInvalidOperation while another Open is in flight; nothing is
// enqueued in that case.
func (e *Engine) Open(uri string) *Handle {
	if uri == "" {
		return e.Close()
	}
	// The one-open-in-flight guard lives at the API boundary: SetFlag is
	// an atomic test-and-set, so two racing Opens cannot both pass.
	if !e.machine.SetFlag(FlagOpening, true) {
		return completedHandle(CmdOpen, ErrInvalidOperation)
	}

	h := e.queue.Enqueue(CmdOpen, func() error { return e.execOpen(uri) })

	// A discarded Open never runs, so the boundary flag has to be lowered
	// when the handle settles without execution.
	go func() {
		<-h.Done()
		if errors.Is(h.Err(), ErrCommandCancelled) || errors.Is(h.Err(), ErrEngineClosed) {
			e.machine.SetFlag(FlagOpening, false)
		}
	}()
	return h
}

// Close unloads the current media and resets the engine to its defaults.
// Enqueuing a Close discards every queued-but-unstarted command other
// than an earlier Close.
func (e *Engine) Close() *Handle {
	return e.queue.Enqueue(CmdClose, e.execClose)
}

// Play starts or resumes playback.
func (e *Engine) Play() *Handle {
	return e.queue.Enqueue(CmdPlay, e.execPlay)
}

// Pause pauses playback. Pausing a live stream fails synchronously with
// ErrUnsupportedOperation.
func (e *Engine) Pause() *Handle {
	if p := e.props.Current(); p.IsOpen && !p.CanPause {
		return completedHandle(CmdPause, ErrUnsupportedOperation)
	}
	return e.queue.Enqueue(CmdPause, e.execPause)
}

// Stop halts playback and rewinds the position to zero.
func (e *Engine) Stop() *Handle {
	return e.queue.Enqueue(CmdStop, e.execStop)
}

// Seek repositions playback. Queued seeks coalesce: only the most recent
// target is executed. Validation is synchronous: seeking a non-seekable
// stream fails with ErrUnsupportedOperation, and a target outside the
// known natural duration fails with ErrInvalidArgument. When the duration
// is unknown the target is accepted and clamped at execution time.
func (e *Engine) Seek(target time.Duration) *Handle {
	info := e.Info()
	if info == nil {
		return completedHandle(CmdSeek, ErrInvalidOperation)
	}
	if !info.IsSeekable {
		return completedHandle(CmdSeek, ErrUnsupportedOperation)
	}
	if info.Duration > 0 && (target < 0 || target > info.Duration) {
		return completedHandle(CmdSeek, ErrInvalidArgument)
	}
	return e.queue.Enqueue(CmdSeek, func() error { return e.execSeek(target) })
}

// SetSpeedRatio changes the playback rate. Non-positive ratios and ratios
// outside the configured supported range fail synchronously with
// ErrInvalidArgument.
func (e *Engine) SetSpeedRatio(ratio float64) *Handle {
	if ratio <= 0 || ratio < e.cfg.MinSpeedRatio || ratio > e.cfg.MaxSpeedRatio {
		return completedHandle(CmdSetSpeed, ErrInvalidArgument)
	}
	return e.queue.Enqueue(CmdSetSpeed, func() error { return e.execSetSpeed(ratio) })
}

// SetPosition is the user-driven position write. While the engine itself
// is updating the position (IsPositionUpdating), writes are dropped so a
// notification handler echoing the position back cannot start a
// notify-seek-notify loop.
func (e *Engine) SetPosition(target time.Duration) {
	if e.machine.Flag(FlagPositionUpdating) {
		return
	}
	e.Seek(target)
}

// Shutdown closes the media, stops the command queue and the container
// event pump. The engine cannot be used afterwards.
func (e *Engine) Shutdown(ctx context.Context) error {
	closeErr := e.Close().Wait(ctx)
	if closeErr != nil && !errors.Is(closeErr, ErrEngineClosed) {
		log.Warn().Err(closeErr).Msg("Close during shutdown failed")
	}
	if err := e.queue.Shutdown(ctx); err != nil {
		return err
	}
	e.cancel()
	select {
	case <-e.pumpDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// transition applies a state transition and records it.
func (e *Engine) transition(to State) error {
	from := e.machine.State()
	if err := e.machine.Transition(to); err != nil {
		return err
	}
	if from != to {
		e.rec.ObserveTransition(from.String(), to.String())
	}
	return nil
}

// recompute refreshes the derived properties after a mutation.
func (e *Engine) recompute(reason invalidation, resume time.Duration) {
	e.props.Recompute(reason, e.Info(), e.machine.State(), e.IsOpen(), resume)
}

// reportPosition publishes a position change that originated inside the
// engine. IsPositionUpdating brackets the publish so a synchronous write
// is dropped instead of re-entering the queue; the event carries
// EngineDriven for subscribers that drain it after the bracket closed.
func (e *Engine) reportPosition(pos time.Duration) {
	e.machine.SetFlag(FlagPositionUpdating, true)
	e.hub.publishPosition(PositionChange{Position: pos, EngineDriven: true})
	e.machine.SetFlag(FlagPositionUpdating, false)
}

// pumpContainerEvents forwards asynchronous container notifications into
// the state machine flags.
func (e *Engine) pumpContainerEvents() {
	defer close(e.pumpDone)
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.container.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case media.EventEndOfStream:
				log.Debug().Msg("Container signalled end of stream")
				e.clock.Pause()
				e.machine.SetFlag(FlagMediaEnded, true)
			case media.EventBuffering:
				e.machine.SetFlag(FlagBuffering, ev.Level < 1.0)
			}
		}
	}
}
