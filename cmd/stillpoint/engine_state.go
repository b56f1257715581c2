package main

import (
	"errors"
	"time"
)

// Rejections returned for commands issued in a state that forbids them.
// They are expected conditions: state is left unchanged.
var (
	ErrSessionActive     = errors.New("a session is already active")
	ErrNoActiveSession   = errors.New("no active session")
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrUnknownAmbience   = errors.New("unknown ambience")
	ErrUnknownExercise   = errors.New("unknown exercise")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// EngineState is the daemon-owned state container. Only the daemon goroutine
// touches it; everyone else reads StateSnapshot values.
type EngineState struct {
	Playback PlaybackState
	Session  SessionState
	Exercise *ExerciseCursor
	Weekly   WeeklyMinutes

	Catalog   *Catalog
	Exercises *ExerciseLibrary

	// Last values handed to the store. Nil forces a save on the next reduce.
	SavedPlayback *PlaybackRecord
	SavedWeekly   *WeeklyMinutes

	// LastNow is the latest timestamp the reducer has seen.
	LastNow time.Time
}

// NewEngineState returns the initial state for a fresh process.
func NewEngineState(set CatalogSet, defaults PlaybackConfig) *EngineState {
	return &EngineState{
		Playback: PlaybackState{
			Volume:       clampVolume(defaults.DefaultVolume),
			Loop:         defaults.DefaultLoop,
			SoundEnabled: true,
		},
		Catalog:   set.Ambience,
		Exercises: set.Exercises,
	}
}

// PlaybackState is the ambience player. Current == nil implies !Playing.
type PlaybackState struct {
	Current      *Ambience
	Playing      bool
	Volume       float64
	Loop         bool
	SoundEnabled bool
	AutoStopAt   time.Time // zero means none

	// Loaded is true once the audio output holds Current's source, so a
	// later play can resume instead of reloading.
	Loaded bool

	// Ducked is true while a session start has paused the ambience.
	Ducked bool
}

// EffectiveVolume is what the audio output should play at.
func (p PlaybackState) EffectiveVolume() float64 {
	if !p.SoundEnabled {
		return 0
	}
	return p.Volume
}

// PlaybackRecord is the persisted subset of PlaybackState.
type PlaybackRecord struct {
	Current      string  `json:"current,omitempty"`
	Volume       float64 `json:"volume"`
	Loop         bool    `json:"loop"`
	SoundEnabled bool    `json:"sound_enabled"`
}

func (p PlaybackState) record() PlaybackRecord {
	r := PlaybackRecord{
		Volume:       p.Volume,
		Loop:         p.Loop,
		SoundEnabled: p.SoundEnabled,
	}
	if p.Current != nil {
		r.Current = p.Current.Key
	}
	return r
}

type SessionMode string

const (
	ModeGuided SessionMode = "guided"
	ModeFree   SessionMode = "free"
)

// SessionState is the meditation/breathing session timer.
// TargetSeconds is 0 exactly when Mode is free.
type SessionState struct {
	Mode          SessionMode
	Active        bool
	Paused        bool
	TargetSeconds int
	Elapsed       time.Duration
	StartedAt     time.Time

	// AccruedAt anchors the next tick delta: set on start, resume and every tick.
	AccruedAt time.Time

	ExerciseKey string
	LastResult  *SessionResult
}

func (s SessionState) ElapsedSeconds() int {
	return int(s.Elapsed / time.Second)
}

// RemainingSeconds is nil for free sessions and when idle.
func (s SessionState) RemainingSeconds() *int {
	if !s.Active || s.Mode != ModeGuided {
		return nil
	}
	r := s.TargetSeconds - s.ElapsedSeconds()
	if r < 0 {
		r = 0
	}
	return &r
}

func (s SessionState) target() time.Duration {
	return time.Duration(s.TargetSeconds) * time.Second
}

// SessionResult describes the most recently finished session.
type SessionResult struct {
	Mode           SessionMode `json:"mode"`
	Minutes        int         `json:"minutes"`
	ElapsedSeconds int         `json:"elapsed_seconds"`
	Completed      bool        `json:"completed"`
	ExerciseKey    string      `json:"exercise,omitempty"`
	EndedAt        time.Time   `json:"ended_at"`
}

// ExerciseCursor is the transient phase position layered on an exercise
// session. Phases is a copy so a catalog reload cannot change a running session.
type ExerciseCursor struct {
	Key          string
	Name         string
	Phases       []ExercisePhase
	PhaseIndex   int
	Cycle        int // 1-based
	Cycles       int
	PhaseElapsed time.Duration
}

func (c *ExerciseCursor) phase() ExercisePhase {
	return c.Phases[c.PhaseIndex]
}

func (c *ExerciseCursor) cycleSeconds() int {
	total := 0
	for _, p := range c.Phases {
		total += p.DurationSeconds
	}
	return total
}

// ============================================================================
// Snapshot
// ============================================================================

// StateSnapshot is the read-only view handed to IPC, HTTP and websocket clients.
type StateSnapshot struct {
	Active           bool        `json:"active"`
	Paused           bool        `json:"paused"`
	Mode             SessionMode `json:"mode,omitempty"`
	ElapsedSeconds   int         `json:"elapsed_seconds"`
	RemainingSeconds *int        `json:"remaining_seconds"`
	ProgressPercent  int         `json:"progress_percent"`

	Exercise *ExerciseSnapshot `json:"exercise,omitempty"`

	CurrentAmbience *Ambience  `json:"current_ambience"`
	Playing         bool       `json:"playing"`
	Volume          float64    `json:"volume"`
	Loop            bool       `json:"loop"`
	SoundEnabled    bool       `json:"sound_enabled"`
	AutoStopAt      *time.Time `json:"auto_stop_at,omitempty"`

	WeeklyMinutes int    `json:"weekly_minutes"`
	WeekKey       string `json:"week_key"`

	LastResult *SessionResult `json:"last_result,omitempty"`
}

type ExerciseSnapshot struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Instruction string `json:"instruction"`
	PhaseIndex  int    `json:"phase_index"`
	Cycle       int    `json:"cycle"`
	Cycles      int    `json:"cycles"`
}

// Snapshot builds the view as of now. Weekly minutes read as 0 when the
// stored week key is stale.
func (s *EngineState) Snapshot(now time.Time, cfg EngineConfig) StateSnapshot {
	sess := s.Session
	snap := StateSnapshot{
		Active:           sess.Active,
		Paused:           sess.Paused,
		ElapsedSeconds:   sess.ElapsedSeconds(),
		RemainingSeconds: sess.RemainingSeconds(),
		Playing:          s.Playback.Playing,
		Volume:           s.Playback.Volume,
		Loop:             s.Playback.Loop,
		SoundEnabled:     s.Playback.SoundEnabled,
		LastResult:       sess.LastResult,
	}
	if sess.Active {
		snap.Mode = sess.Mode
		if sess.Mode == ModeGuided && sess.TargetSeconds > 0 {
			pct := sess.ElapsedSeconds() * 100 / sess.TargetSeconds
			if pct > 100 {
				pct = 100
			}
			snap.ProgressPercent = pct
		}
	}
	if c := s.Exercise; c != nil && sess.Active {
		snap.Exercise = &ExerciseSnapshot{
			Key:         c.Key,
			Name:        c.Name,
			Instruction: c.phase().Instruction,
			PhaseIndex:  c.PhaseIndex,
			Cycle:       c.Cycle,
			Cycles:      c.Cycles,
		}
	}
	if s.Playback.Current != nil {
		a := *s.Playback.Current
		snap.CurrentAmbience = &a
	}
	if !s.Playback.AutoStopAt.IsZero() {
		t := s.Playback.AutoStopAt
		snap.AutoStopAt = &t
	}

	key := WeekKey(now, cfg.Location)
	snap.WeekKey = key
	snap.WeeklyMinutes = s.Weekly.MinutesFor(key)
	return snap
}

// ============================================================================
// Broadcasts
// ============================================================================

// StateBroadcast is a reducer-emitted notification for websocket clients.
type StateBroadcast interface {
	broadcastMarker()
}

type BroadcastStateChanged struct {
	Snapshot StateSnapshot
	At       time.Time
}

type BroadcastPhaseChanged struct {
	Exercise    string
	Instruction string
	PhaseIndex  int
	Cycle       int
	Cycles      int
	At          time.Time
}

type BroadcastSessionFinished struct {
	Result SessionResult
	At     time.Time
}

// BroadcastHaptic asks clients that can vibrate to do so. Best-effort.
type BroadcastHaptic struct {
	Pattern string
	At      time.Time
}

// BroadcastNotice is a soft, user-visible failure message.
type BroadcastNotice struct {
	Message string
	At      time.Time
}

func (BroadcastStateChanged) broadcastMarker()    {}
func (BroadcastPhaseChanged) broadcastMarker()    {}
func (BroadcastSessionFinished) broadcastMarker() {}
func (BroadcastHaptic) broadcastMarker()          {}
func (BroadcastNotice) broadcastMarker()          {}

// Haptic patterns
const (
	hapticTap     = "tap"
	hapticPhase   = "phase"
	hapticSuccess = "success"
)
