package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/media"
)

// execOpen is the Open command body. It runs the three-step open sequence
// strictly in order on the queue goroutine: close current media, open the
// new source, then conditionally auto-play. The command's handle resolves
// only after the last step that actually ran.
func (e *Engine) execOpen(uri string) error {
	log.Info().Str("uri", uri).Msg("Open")

	// Step 1: close whatever is loaded. No-op when already closed.
	if e.container.IsOpen() {
		if err := e.closeMedia(); err != nil {
			e.machine.SetFlag(FlagOpening, false)
			return fmt.Errorf("close before open: %w", err)
		}
	}

	if err := e.transition(StateOpening); err != nil {
		e.machine.SetFlag(FlagOpening, false)
		return err
	}

	// Step 2: open the new source and project its metadata.
	info, err := e.container.Open(e.ctx, uri)
	if err != nil {
		e.setInfo(nil)
		e.transitionOrLog(StateClosed)
		e.machine.SetFlag(FlagOpening, false)
		e.recompute(invalidateMedia|invalidateState, 0)
		return &OpenError{URI: uri, Cause: err}
	}
	e.setInfo(info)
	e.clock.SetRate(e.machine.SpeedRatio())

	resume := e.loadResume(uri)
	e.recompute(invalidateMedia, resume)

	// Settle into a non-playing state before deciding on auto-play.
	settled := StatePause
	if e.cfg.LoadedBehavior == LoadedManual {
		settled = StateManual
	}
	if err := e.transition(settled); err != nil {
		return err
	}
	e.machine.SetFlag(FlagOpening, false)
	e.recompute(invalidateState, resume)

	// Step 3: auto-play when configured, or when the media cannot sit in
	// Pause (live stream).
	props := e.props.Current()
	if e.cfg.LoadedBehavior == LoadedPlay || !props.CanPause {
		if err := e.execPlay(); err != nil {
			return fmt.Errorf("auto-play after open: %w", err)
		}
	}
	return nil
}

// execClose is the Close command body: full media teardown plus a reset of
// every flag and scalar to its configured default.
func (e *Engine) execClose() error {
	log.Info().Msg("Close")
	if e.container.IsOpen() {
		if err := e.closeMedia(); err != nil {
			return err
		}
	}
	e.machine.Reset()
	e.clock.Reset()
	e.recompute(invalidateMedia|invalidateState, 0)
	return nil
}

// closeMedia tears down the loaded media: renderers stopped, resume
// position saved, container closed, clock rewound, state driven to
// Closed. Transient media flags are cleared; FlagOpening and the scalar
// settings are left alone so an in-flight Open sequence keeps its guard.
func (e *Engine) closeMedia() error {
	e.stopRenderers()
	e.saveResume()

	if err := e.container.Close(); err != nil {
		return fmt.Errorf("container close: %w", err)
	}
	e.setInfo(nil)
	e.clock.Pause()
	e.clock.Set(0)

	if err := e.transition(StateClosed); err != nil {
		return err
	}
	e.machine.SetFlag(FlagSeeking, false)
	e.machine.SetFlag(FlagBuffering, false)
	e.machine.SetFlag(FlagMediaEnded, false)
	e.recompute(invalidateMedia|invalidateState, 0)
	return nil
}

// execPlay is the Play command body.
func (e *Engine) execPlay() error {
	if !e.container.IsOpen() {
		return fmt.Errorf("%w: no media open", ErrInvalidOperation)
	}
	log.Info().Msg("Play")

	if err := e.startRenderers(); err != nil {
		return err
	}
	if err := e.renderer.SetSpeedRatio(e.machine.SpeedRatio()); err != nil {
		return fmt.Errorf("renderer speed: %w", err)
	}
	if err := e.transition(StatePlay); err != nil {
		return err
	}
	e.clock.Resume()
	e.recompute(invalidateState, e.props.Current().ResumePosition)
	return nil
}

// execPause is the Pause command body. Pausing anything but active
// playback is a no-op.
func (e *Engine) execPause() error {
	if e.machine.State() != StatePlay {
		return nil
	}
	log.Info().Msg("Pause")
	e.stopRenderers()
	e.clock.Pause()
	if err := e.transition(StatePause); err != nil {
		return err
	}
	e.recompute(invalidateState, e.props.Current().ResumePosition)
	return nil
}

// execStop is the Stop command body: playback halts and the position is
// rewound to zero.
func (e *Engine) execStop() error {
	if !e.container.IsOpen() {
		return nil
	}
	log.Info().Msg("Stop")
	e.stopRenderers()
	e.clock.Pause()
	e.saveResume()
	e.clock.Set(0)
	e.machine.SetFlag(FlagMediaEnded, false)
	if err := e.transition(StateStop); err != nil {
		return err
	}
	e.reportPosition(0)
	e.recompute(invalidateState, e.props.Current().ResumePosition)
	return nil
}

// execSeek is the Seek command body. The clock is rebased only after the
// container confirms where the seek actually landed, so the reported
// position never runs ahead of the pipeline.
func (e *Engine) execSeek(target time.Duration) error {
	if !e.container.IsOpen() {
		return fmt.Errorf("%w: no media open", ErrInvalidOperation)
	}
	info := e.Info()
	if target < 0 {
		target = 0
	}
	if info.Duration > 0 && target > info.Duration {
		target = info.Duration
	}
	log.Info().Dur("target", target).Msg("Seek")

	e.machine.SetFlag(FlagSeeking, true)
	defer e.machine.SetFlag(FlagSeeking, false)

	actual, err := e.container.Seek(e.ctx, target)
	if err != nil {
		return fmt.Errorf("container seek: %w", err)
	}
	e.clock.Set(actual)
	e.machine.SetFlag(FlagMediaEnded, false)
	e.reportPosition(actual)
	return nil
}

// execSetSpeed is the SetSpeedRatio command body.
func (e *Engine) execSetSpeed(ratio float64) error {
	log.Info().Float64("ratio", ratio).Msg("SetSpeedRatio")
	if e.container.IsOpen() {
		if err := e.renderer.SetSpeedRatio(ratio); err != nil {
			return fmt.Errorf("renderer speed: %w", err)
		}
	}
	e.clock.SetRate(ratio)
	e.machine.setSpeedRatio(ratio)
	return nil
}

// startRenderers starts a renderer per present stream type.
func (e *Engine) startRenderers() error {
	info := e.Info()
	if info == nil {
		return fmt.Errorf("%w: no media open", ErrInvalidOperation)
	}
	for _, t := range []media.Type{media.TypeAudio, media.TypeVideo, media.TypeSubtitle} {
		if info.Has(t) {
			if err := e.renderer.Start(t); err != nil {
				return fmt.Errorf("start %s renderer: %w", t, err)
			}
		}
	}
	return nil
}

// stopRenderers stops every renderer; failures are logged, not fatal.
func (e *Engine) stopRenderers() {
	info := e.Info()
	if info == nil {
		return
	}
	for _, t := range []media.Type{media.TypeAudio, media.TypeVideo, media.TypeSubtitle} {
		if info.Has(t) {
			if err := e.renderer.Stop(t); err != nil {
				log.Warn().Stringer("type", t).Err(err).Msg("Renderer stop failed")
			}
		}
	}
}

// transitionOrLog applies a transition on an error path where the command
// already has a more meaningful failure to report.
func (e *Engine) transitionOrLog(to State) {
	if err := e.transition(to); err != nil {
		log.Error().Err(err).Msg("Recovery transition failed")
	}
}

// loadResume fetches the stored resume position for uri, if any.
func (e *Engine) loadResume(uri string) time.Duration {
	if e.resume == nil {
		return 0
	}
	pos, err := e.resume.Load(uri)
	if err != nil {
		log.Warn().Str("uri", uri).Err(err).Msg("Resume lookup failed")
		return 0
	}
	return pos
}

// saveResume persists the current position for the loaded media.
func (e *Engine) saveResume() {
	info := e.Info()
	if e.resume == nil || info == nil || info.IsRealtime {
		return
	}
	pos := e.clock.Now()
	if pos <= 0 {
		return
	}
	if err := e.resume.Save(info.URI, pos); err != nil {
		log.Warn().Str("uri", info.URI).Err(err).Msg("Resume save failed")
	}
}
