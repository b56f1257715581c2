package main

import (
	"fmt"
	"math"
	"time"
)

// Session lifecycle: Idle -> Active <-> Paused -> (Completed | Stopped) -> Idle.
// Completed and Stopped are reported and left in the same reduce, so they are
// only visible through SessionState.LastResult.

func (r *reduction) startSession(ev StartSession) error {
	s := &r.s.Session
	if s.Active {
		return ErrSessionActive
	}

	next := SessionState{
		Mode:      ModeFree,
		Active:    true,
		StartedAt: r.now,
		AccruedAt: r.now,
	}
	var cursor *ExerciseCursor

	switch {
	case ev.Exercise != "":
		if ev.TargetMinutes != nil {
			return fmt.Errorf("%w: target_minutes and exercise are exclusive", ErrInvalidArgument)
		}
		def, ok := r.s.Exercises.Get(ev.Exercise)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownExercise, ev.Exercise)
		}
		next.Mode = ModeGuided
		next.TargetSeconds = def.TotalSeconds()
		next.ExerciseKey = def.Key
		phases := make([]ExercisePhase, len(def.Phases))
		copy(phases, def.Phases)
		cursor = &ExerciseCursor{
			Key:    def.Key,
			Name:   def.Name,
			Phases: phases,
			Cycle:  1,
			Cycles: def.Cycles,
		}

	case ev.TargetMinutes != nil:
		if *ev.TargetMinutes <= 0 {
			return fmt.Errorf("%w: target_minutes must be > 0", ErrInvalidArgument)
		}
		next.Mode = ModeGuided
		next.TargetSeconds = *ev.TargetMinutes * 60
	}

	*s = next
	r.s.Exercise = cursor

	if ev.DuckAmbience && r.s.Playback.Playing {
		r.pauseAmbience()
		r.s.Playback.Ducked = true
	}

	r.tone(ToneSessionStart)
	r.haptic(hapticTap)
	if cursor != nil {
		r.enterPhase()
	}
	return nil
}

// pauseSession is a silent no-op while idle.
func (r *reduction) pauseSession() error {
	s := &r.s.Session
	if !s.Active {
		return nil
	}
	if s.Paused {
		return fmt.Errorf("%w: session is already paused", ErrInvalidTransition)
	}
	s.Paused = true
	r.haptic(hapticTap)
	return nil
}

// resumeSession re-anchors accrual so the paused interval is never credited.
func (r *reduction) resumeSession() error {
	s := &r.s.Session
	if !s.Active {
		return ErrNoActiveSession
	}
	if !s.Paused {
		return fmt.Errorf("%w: session is not paused", ErrInvalidTransition)
	}
	s.Paused = false
	s.AccruedAt = r.now
	r.haptic(hapticTap)
	return nil
}

func (r *reduction) stopSession() error {
	if !r.s.Session.Active {
		return ErrNoActiveSession
	}
	r.finishSession(false)
	return nil
}

// resetSession discards any session without reporting. Always accepted.
func (r *reduction) resetSession() {
	s := &r.s.Session
	wasActive := s.Active
	*s = SessionState{LastResult: s.LastResult}
	r.s.Exercise = nil
	if wasActive {
		r.haptic(hapticTap)
	}
	r.restoreDucked()
}

func (r *reduction) addCycles(n int) error {
	s := &r.s.Session
	if !s.Active {
		return ErrNoActiveSession
	}
	c := r.s.Exercise
	if c == nil {
		return fmt.Errorf("%w: session is not an exercise", ErrInvalidTransition)
	}
	if n <= 0 {
		return fmt.Errorf("%w: cycles must be > 0", ErrInvalidArgument)
	}
	c.Cycles += n
	s.TargetSeconds += n * c.cycleSeconds()
	r.haptic(hapticTap)
	return nil
}

// accrue credits the wall-clock delta since the last anchor. Stale or
// duplicate ticks credit nothing and leave the anchor alone; oversized
// deltas are capped at MaxTickDelta.
func (r *reduction) accrue() {
	s := &r.s.Session
	if !s.Active || s.Paused {
		return
	}

	delta := r.now.Sub(s.AccruedAt)
	if delta <= 0 {
		return
	}
	s.AccruedAt = r.now
	if r.cfg.MaxTickDelta > 0 && delta > r.cfg.MaxTickDelta {
		delta = r.cfg.MaxTickDelta
	}
	if s.Mode == ModeGuided {
		if remaining := s.target() - s.Elapsed; delta > remaining {
			delta = remaining
		}
	}

	s.Elapsed += delta
	if r.s.Exercise != nil {
		r.advancePhases(delta)
	}

	if s.Mode == ModeGuided && s.Elapsed >= s.target() {
		r.finishSession(true)
	}
}

// advancePhases moves the exercise cursor forward by delta, playing the cue
// of every phase entered. Running past the last cycle leaves the cursor on
// the final phase; the guided target check completes the session.
func (r *reduction) advancePhases(delta time.Duration) {
	c := r.s.Exercise
	c.PhaseElapsed += delta
	for c.PhaseElapsed >= c.phase().Duration() {
		if c.PhaseIndex == len(c.Phases)-1 && c.Cycle >= c.Cycles {
			c.PhaseElapsed = c.phase().Duration()
			return
		}
		c.PhaseElapsed -= c.phase().Duration()
		c.PhaseIndex++
		if c.PhaseIndex == len(c.Phases) {
			c.PhaseIndex = 0
			c.Cycle++
			r.tone(ToneCycleComplete)
		}
		r.enterPhase()
	}
}

func (r *reduction) enterPhase() {
	c := r.s.Exercise
	ph := c.phase()
	if tp, ok := toneForCue(ph.Cue); ok && r.s.Playback.SoundEnabled {
		r.emit(CmdStartTone{Profile: tp})
	}
	r.haptic(hapticPhase)
	r.broadcast(BroadcastPhaseChanged{
		Exercise:    c.Key,
		Instruction: ph.Instruction,
		PhaseIndex:  c.PhaseIndex,
		Cycle:       c.Cycle,
		Cycles:      c.Cycles,
		At:          r.now,
	})
}

// finishSession reports and clears the active session. Completed sessions
// are credited their exact target, independent of tick granularity.
func (r *reduction) finishSession(completed bool) {
	s := &r.s.Session
	if completed {
		s.Elapsed = s.target()
	}
	secs := s.ElapsedSeconds()
	minutes := reportedMinutes(s.Elapsed)

	result := SessionResult{
		Mode:           s.Mode,
		Minutes:        minutes,
		ElapsedSeconds: secs,
		Completed:      completed,
		ExerciseKey:    s.ExerciseKey,
		EndedAt:        r.now,
	}

	if minutes > 0 {
		r.addWeeklyMinutes(minutes)
		r.emit(CmdRecordSession{Record: SessionRecord{
			DurationMinutes: minutes,
			ElapsedSeconds:  secs,
			Mode:            s.Mode,
			Completed:       completed,
			ExerciseKey:     s.ExerciseKey,
			StartedAt:       s.StartedAt,
			EndedAt:         r.now,
		}})
	}

	if completed {
		r.tone(ToneSessionComplete)
		r.haptic(hapticSuccess)
	} else {
		r.haptic(hapticTap)
	}
	r.broadcast(BroadcastSessionFinished{Result: result, At: r.now})

	*s = SessionState{LastResult: &result}
	r.s.Exercise = nil
	r.restoreDucked()
}

// reportedMinutes rounds to the nearest minute, with a floor of one minute
// once any time at all has been credited.
func reportedMinutes(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	m := int(math.Round(elapsed.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}

// restoreDucked resumes ambience paused by a session start.
func (r *reduction) restoreDucked() {
	p := &r.s.Playback
	if !p.Ducked {
		return
	}
	p.Ducked = false
	if p.Current == nil || p.Playing {
		return
	}
	r.playAmbience(*p.Current)
}
