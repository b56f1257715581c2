package main

import (
	"reflect"
	"time"
)

// This file holds the reducer entry point. Playback and session rules live in
// playback.go and session.go; weekly accounting in weekly.go.
//
// Reduce performs no I/O and never blocks. It mutates and returns the state it
// is given, plus the Commands the effects layer must run and the Broadcasts
// for websocket clients. Failures from effects come back as Events.

// EngineConfig is the reducer's static configuration.
type EngineConfig struct {
	// MaxTickDelta caps the session time credited by one tick. Zero disables the cap.
	MaxTickDelta time.Duration

	// Location used for week keys. Nil means each timestamp's own location.
	Location *time.Location
}

// ReduceResult is the output of Reduce().
//
// Err is non-nil when the event was rejected; in that case the state is
// unchanged and Commands carries at most reply plumbing.
type ReduceResult struct {
	State      *EngineState
	Commands   []Command
	Broadcasts []StateBroadcast
	Err        error
}

// reduction accumulates the outputs of a single Reduce call.
type reduction struct {
	s   *EngineState
	cfg EngineConfig
	now time.Time

	cmds   []Command
	bcasts []StateBroadcast

	skipPersist bool
}

func (r *reduction) emit(cmds ...Command) {
	r.cmds = append(r.cmds, cmds...)
}

func (r *reduction) broadcast(b StateBroadcast) {
	r.bcasts = append(r.bcasts, b)
}

// tone requests a chime unless sound is globally disabled.
func (r *reduction) tone(name string) {
	if !r.s.Playback.SoundEnabled {
		return
	}
	if p, ok := tonePresets[name]; ok {
		r.emit(CmdStartTone{Profile: p})
	}
}

func (r *reduction) haptic(pattern string) {
	r.broadcast(BroadcastHaptic{Pattern: pattern, At: r.now})
}

// Reduce is the pure reducer.
func Reduce(s *EngineState, e Event, cfg EngineConfig) ReduceResult {
	if s == nil {
		s = NewEngineState(CatalogSet{}, PlaybackConfig{DefaultVolume: defaultVolume, DefaultLoop: true})
	}

	now := s.LastNow
	if te, ok := e.(TimedEvent); ok {
		e = te.Event
		if !te.At.IsZero() {
			now = te.At
		}
	}
	if tk, ok := e.(Tick); ok {
		now = tk.Now
	}

	if aw, ok := e.(AwaitResult); ok {
		rr := Reduce(s, TimedEvent{Event: aw.Event, At: now}, cfg)
		rr.Commands = append(rr.Commands, CmdReplyResult{Err: rr.Err, Reply: aw.Reply})
		return rr
	}

	r := &reduction{s: s, cfg: cfg, now: now}
	before := s.Snapshot(now, cfg)

	var err error
	switch ev := e.(type) {
	case Tick:
		r.tick()

	// Playback
	case PlayAmbience:
		err = r.play(ev.Key)
	case PauseAmbience:
		r.pauseAmbience()
	case ToggleAmbience:
		r.toggleAmbience()
	case StopAmbience:
		r.stopAmbience()
	case NextAmbience:
		err = r.nextAmbience()
	case SetVolume:
		r.setVolume(ev.Volume)
	case AdjustVolume:
		r.setVolume(s.Playback.Volume + ev.Delta)
	case SetLoop:
		s.Playback.Loop = ev.Loop
	case SetSoundEnabled:
		r.setSoundEnabled(ev.Enabled)
	case ToggleSound:
		r.setSoundEnabled(!s.Playback.SoundEnabled)
	case SetAutoStop:
		r.setAutoStop(ev.Minutes)

	// Session
	case StartSession:
		err = r.startSession(ev)
	case PauseSession:
		err = r.pauseSession()
	case ResumeSession:
		err = r.resumeSession()
	case StopSession:
		err = r.stopSession()
	case ResetSession:
		r.resetSession()
	case AddCycles:
		err = r.addCycles(ev.Cycles)
	case ReduceWeeklyMinutes:
		err = r.reduceWeeklyMinutes(ev.Minutes)

	// Internal
	case RequestStateSnapshot:
		r.emit(CmdPublishStateSnapshot{Snapshot: before, Reply: ev.Reply})
	case StateRestored:
		r.restore(ev)
	case CatalogReloaded:
		if ev.Set.Ambience != nil {
			s.Catalog = ev.Set.Ambience
		}
		if ev.Set.Exercises != nil {
			s.Exercises = ev.Set.Exercises
		}
	case AudioCommandFailed:
		r.audioFailed(ev)
	case PersistFailed:
		switch ev.Key {
		case storeKeyPlayback:
			s.SavedPlayback = nil
		case storeKeyWeekly:
			s.SavedWeekly = nil
		}
		// Retry on the next event, not inside this flush.
		r.skipPersist = true

	default:
		// Unknown event type: no-op.
	}

	if now.After(s.LastNow) {
		s.LastNow = now
	}

	if !r.skipPersist {
		r.persistIfChanged()
	}

	after := s.Snapshot(now, cfg)
	if !reflect.DeepEqual(before, after) {
		r.broadcast(BroadcastStateChanged{Snapshot: after, At: now})
	}

	return ReduceResult{
		State:      s,
		Commands:   r.cmds,
		Broadcasts: r.bcasts,
		Err:        err,
	}
}

// tick advances time: week rollover, playback auto-stop, then session accrual.
func (r *reduction) tick() {
	r.s.Weekly.rollover(WeekKey(r.now, r.cfg.Location))
	r.checkAutoStop()
	r.accrue()
}

// persistIfChanged emits a save for every persisted record that differs from
// what was last handed to the store.
func (r *reduction) persistIfChanged() {
	s := r.s

	rec := s.Playback.record()
	if s.SavedPlayback == nil || *s.SavedPlayback != rec {
		saved := rec
		s.SavedPlayback = &saved
		r.emit(CmdPersist{Key: storeKeyPlayback, Value: rec})
	}

	if s.Weekly.WeekKey == "" {
		return
	}
	if s.SavedWeekly == nil || *s.SavedWeekly != s.Weekly {
		saved := s.Weekly
		s.SavedWeekly = &saved
		r.emit(CmdPersist{Key: storeKeyWeekly, Value: saved})
	}
}

// restore applies records loaded from the store. Anything missing keeps its default.
func (r *reduction) restore(ev StateRestored) {
	s := r.s
	if rec := ev.Playback; rec != nil {
		s.Playback.Volume = clampVolume(rec.Volume)
		s.Playback.Loop = rec.Loop
		s.Playback.SoundEnabled = rec.SoundEnabled
		s.Playback.Current = nil
		if a, ok := s.Catalog.Get(rec.Current); ok {
			s.Playback.Current = &a
		}
		saved := *rec
		s.SavedPlayback = &saved
	}
	if w := ev.Weekly; w != nil {
		s.Weekly = *w
		if s.Weekly.Minutes < 0 {
			s.Weekly.Minutes = 0
		}
		saved := *w
		s.SavedWeekly = &saved
	}
}
