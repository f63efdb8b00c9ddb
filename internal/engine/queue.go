package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/metrics"
)

// CommandKind identifies a transport command.
type CommandKind int

const (
	CmdOpen CommandKind = iota
	CmdClose
	CmdPlay
	CmdPause
	CmdStop
	CmdSeek
	CmdSetSpeed
)

// String returns the command name.
func (k CommandKind) String() string {
	switch k {
	case CmdOpen:
		return "open"
	case CmdClose:
		return "close"
	case CmdPlay:
		return "play"
	case CmdPause:
		return "pause"
	case CmdStop:
		return "stop"
	case CmdSeek:
		return "seek"
	case CmdSetSpeed:
		return "setSpeedRatio"
	default:
		return "unknown"
	}
}

// Handle tracks the completion of an enqueued command. Callers never block
// on enqueue; they wait on the handle if they care about the outcome.
type Handle struct {
	kind CommandKind
	done chan struct{}

	mu  sync.Mutex
	err error
}

func newHandle(kind CommandKind) *Handle {
	return &Handle{kind: kind, done: make(chan struct{})}
}

// Kind returns the command kind this handle tracks.
func (h *Handle) Kind() CommandKind { return h.kind }

// Done is closed when the command has finished, failed or been discarded.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the command outcome: nil on success, ErrCommandCancelled
// when the command was superseded or preempted, or the execution error.
// It returns nil while the command is still pending.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the command finishes or ctx is done, returning the
// command outcome or the context error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) complete(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// completedHandle returns an already-finished handle, used for synchronous
// validation failures that never reach the queue.
func completedHandle(kind CommandKind, err error) *Handle {
	h := newHandle(kind)
	h.complete(err)
	return h
}

type command struct {
	kind    CommandKind
	handle  *Handle
	execute func() error
}

// Queue serializes transport commands. A single drain goroutine executes
// one command at a time in issuance order, with two exceptions: a queued
// Seek is superseded by a newer Seek, and an enqueued Close discards every
// queued-but-unstarted command ahead of it except an earlier Close.
type Queue struct {
	mu      sync.Mutex
	pending []*command
	closing bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	rec *metrics.Recorder
}

// NewQueue creates the queue and starts its drain goroutine.
func NewQueue(rec *metrics.Recorder) *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		rec:  rec,
	}
	go q.drain()
	return q
}

// Enqueue adds a command for execution and returns its handle. Coalescing
// and preemption rules are applied at enqueue time, against commands that
// have not started yet; the active command is never interrupted.
func (q *Queue) Enqueue(kind CommandKind, execute func() error) *Handle {
	cmd := &command{kind: kind, handle: newHandle(kind), execute: execute}

	q.mu.Lock()
	if q.closing {
		q.mu.Unlock()
		cmd.handle.complete(ErrEngineClosed)
		return cmd.handle
	}

	var discarded []*command
	switch kind {
	case CmdSeek:
		// Only the most recent scrub target matters.
		discarded = q.removeLocked(func(c *command) bool { return c.kind == CmdSeek })
	case CmdClose:
		// Whatever was queued targets media that is going away. An earlier
		// queued Close stays: its effect is exactly what is being asked
		// for, so its handle must report the close outcome, not a
		// cancellation.
		discarded = q.removeLocked(func(c *command) bool { return c.kind != CmdClose })
	}
	q.pending = append(q.pending, cmd)
	depth := len(q.pending)
	q.mu.Unlock()

	for _, d := range discarded {
		log.Debug().Stringer("kind", d.kind).Msg("Command discarded")
		d.handle.complete(ErrCommandCancelled)
		q.rec.ObserveCommand(d.kind.String(), metrics.OutcomeCancelled)
	}
	q.rec.SetQueueDepth(depth)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return cmd.handle
}

// removeLocked drops pending commands matching the predicate and returns
// them (must hold lock).
func (q *Queue) removeLocked(match func(*command) bool) []*command {
	var kept, removed []*command
	for _, c := range q.pending {
		if match(c) {
			removed = append(removed, c)
		} else {
			kept = append(kept, c)
		}
	}
	q.pending = kept
	return removed
}

func (q *Queue) drain() {
	defer close(q.done)
	for {
		select {
		case <-q.wake:
		case <-q.quit:
			q.discardPending(ErrEngineClosed)
			return
		}
		for {
			q.mu.Lock()
			if q.closing {
				q.mu.Unlock()
				q.discardPending(ErrEngineClosed)
				return
			}
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			cmd := q.pending[0]
			q.pending = q.pending[1:]
			depth := len(q.pending)
			q.mu.Unlock()
			q.rec.SetQueueDepth(depth)

			err := cmd.execute()
			cmd.handle.complete(err)
			if err != nil {
				log.Warn().Stringer("kind", cmd.kind).Err(err).Msg("Command failed")
				q.rec.ObserveCommand(cmd.kind.String(), metrics.OutcomeError)
			} else {
				q.rec.ObserveCommand(cmd.kind.String(), metrics.OutcomeSuccess)
			}
		}
	}
}

func (q *Queue) discardPending(err error) {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, c := range pending {
		c.handle.complete(err)
	}
	q.rec.SetQueueDepth(0)
}

// Shutdown stops accepting commands, discards anything still queued and
// waits for the drain goroutine to exit. The active command, if any, runs
// to completion first.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closing {
		q.mu.Unlock()
		<-q.done
		return nil
	}
	q.closing = true
	q.mu.Unlock()

	close(q.quit)
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
