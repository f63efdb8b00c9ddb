package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Argument and
// reentrancy errors surface synchronously from the public API; execution
// errors surface through a command's handle.
var (
	// ErrInvalidOperation is returned when a command is not legal in the
	// current engine state, e.g. Open while another Open is in flight.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidArgument is returned for out-of-range seek targets and
	// speed ratios.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedOperation is returned when the current media cannot
	// service the request, e.g. seeking a non-seekable stream.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrCommandCancelled is reported by the handle of a command that was
	// superseded or preempted before it started.
	ErrCommandCancelled = errors.New("command cancelled")

	// ErrEngineClosed is returned when a command is issued after Shutdown.
	ErrEngineClosed = errors.New("engine closed")
)

// OpenError wraps the container failure behind an unsuccessful Open.
type OpenError struct {
	URI   string
	Cause error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.URI, e.Cause)
}

func (e *OpenError) Unwrap() error { return e.Cause }

// IllegalTransitionError reports a state-machine transition that violates
// the reachability table. It indicates a sequencing bug in the engine, not
// a caller mistake, and is fatal to the offending command only.
type IllegalTransitionError struct {
	From, To State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}
