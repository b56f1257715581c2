package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events - inputs to the reducer
// ============================================================================
// User intents arrive from IPC, HTTP, media keys and the CLI. The daemon loop
// stamps them with TimedEvent so the reducer never reads the clock itself.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// ---- Playback intents ----

type PlayAmbience struct {
	Key string `json:"key"`
}

type PauseAmbience struct{}
type ToggleAmbience struct{}
type StopAmbience struct{}
type NextAmbience struct{}

// SetVolume sets an absolute ambience volume. Values are clamped to [0, 0.9].
type SetVolume struct {
	Volume float64 `json:"volume"`
}

// AdjustVolume changes the volume relative to the current value.
type AdjustVolume struct {
	Delta float64 `json:"delta"`
}

type SetLoop struct {
	Loop bool `json:"loop"`
}

type SetSoundEnabled struct {
	Enabled bool `json:"enabled"`
}

type ToggleSound struct{}

// SetAutoStop schedules playback to stop after Minutes. Nil clears it.
type SetAutoStop struct {
	Minutes *int `json:"minutes"`
}

func (PlayAmbience) eventMarker()    {}
func (PauseAmbience) eventMarker()   {}
func (ToggleAmbience) eventMarker()  {}
func (StopAmbience) eventMarker()    {}
func (NextAmbience) eventMarker()    {}
func (SetVolume) eventMarker()       {}
func (AdjustVolume) eventMarker()    {}
func (SetLoop) eventMarker()         {}
func (SetSoundEnabled) eventMarker() {}
func (ToggleSound) eventMarker()     {}
func (SetAutoStop) eventMarker()     {}

// ---- Session intents ----

// StartSession begins a session. Exercise selects a breathing exercise;
// otherwise TargetMinutes selects a guided session and nil means free mode.
// DuckAmbience pauses playing ambience for the length of the session.
type StartSession struct {
	TargetMinutes *int   `json:"target_minutes,omitempty"`
	Exercise      string `json:"exercise,omitempty"`
	DuckAmbience  bool   `json:"duck_ambience,omitempty"`
}

type PauseSession struct{}
type ResumeSession struct{}
type StopSession struct{}
type ResetSession struct{}

// AddCycles extends a running exercise by Cycles more cycles.
type AddCycles struct {
	Cycles int `json:"cycles"`
}

// ReduceWeeklyMinutes is a manual correction of the weekly total.
type ReduceWeeklyMinutes struct {
	Minutes int `json:"minutes"`
}

func (StartSession) eventMarker()        {}
func (PauseSession) eventMarker()        {}
func (ResumeSession) eventMarker()       {}
func (StopSession) eventMarker()         {}
func (ResetSession) eventMarker()        {}
func (AddCycles) eventMarker()           {}
func (ReduceWeeklyMinutes) eventMarker() {}

// ---- Internal events ----

// Tick is emitted by the daemon loop at a fixed cadence. It is the only
// event through which session time passes.
type Tick struct {
	Now time.Time
}

// TimedEvent attaches the daemon's receive time to a payload event.
type TimedEvent struct {
	Event Event
	At    time.Time
}

// RequestStateSnapshot asks the daemon loop for a snapshot. The reply is
// delivered by the effects layer; Reply should be buffered.
type RequestStateSnapshot struct {
	Reply chan StateSnapshot
}

// AwaitResult wraps an intent whose caller wants to know whether it was
// accepted. Reply receives nil or the rejection error.
type AwaitResult struct {
	Event Event
	Reply chan error
}

// AudioCommandFailed reports a failed audio-output command.
type AudioCommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

// PersistFailed reports a failed store save for Key.
type PersistFailed struct {
	Key string
	Err error
	At  time.Time
}

// StateRestored carries persisted records loaded at startup. Nil fields mean
// "not found or unreadable"; defaults stay in place for them.
type StateRestored struct {
	Playback *PlaybackRecord
	Weekly   *WeeklyMinutes
}

// CatalogReloaded swaps the catalog and exercise library.
type CatalogReloaded struct {
	Set CatalogSet
}

func (Tick) eventMarker()                 {}
func (TimedEvent) eventMarker()           {}
func (RequestStateSnapshot) eventMarker() {}
func (AwaitResult) eventMarker()          {}
func (AudioCommandFailed) eventMarker()   {}
func (PersistFailed) eventMarker()        {}
func (StateRestored) eventMarker()        {}
func (CatalogReloaded) eventMarker()      {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func decodeData[T Event](env EventEnvelope) (Event, error) {
	var v T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
	}
	return v, nil
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event.
// Only user intents are accepted; internal events never cross the wire.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "play_ambience":
		return decodeData[PlayAmbience](env)
	case "pause_ambience":
		return PauseAmbience{}, nil
	case "toggle_ambience":
		return ToggleAmbience{}, nil
	case "stop_ambience":
		return StopAmbience{}, nil
	case "next_ambience":
		return NextAmbience{}, nil
	case "set_volume":
		return decodeData[SetVolume](env)
	case "adjust_volume":
		return decodeData[AdjustVolume](env)
	case "set_loop":
		return decodeData[SetLoop](env)
	case "set_sound_enabled":
		return decodeData[SetSoundEnabled](env)
	case "toggle_sound":
		return ToggleSound{}, nil
	case "set_auto_stop":
		return decodeData[SetAutoStop](env)

	case "start_session":
		return decodeData[StartSession](env)
	case "pause_session":
		return PauseSession{}, nil
	case "resume_session":
		return ResumeSession{}, nil
	case "stop_session":
		return StopSession{}, nil
	case "reset_session":
		return ResetSession{}, nil
	case "add_cycles":
		return decodeData[AddCycles](env)
	case "reduce_weekly_minutes":
		return decodeData[ReduceWeeklyMinutes](env)

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var typ string
	withData := true

	switch e.(type) {
	case PlayAmbience:
		typ = "play_ambience"
	case PauseAmbience:
		typ, withData = "pause_ambience", false
	case ToggleAmbience:
		typ, withData = "toggle_ambience", false
	case StopAmbience:
		typ, withData = "stop_ambience", false
	case NextAmbience:
		typ, withData = "next_ambience", false
	case SetVolume:
		typ = "set_volume"
	case AdjustVolume:
		typ = "adjust_volume"
	case SetLoop:
		typ = "set_loop"
	case SetSoundEnabled:
		typ = "set_sound_enabled"
	case ToggleSound:
		typ, withData = "toggle_sound", false
	case SetAutoStop:
		typ = "set_auto_stop"
	case StartSession:
		typ = "start_session"
	case PauseSession:
		typ, withData = "pause_session", false
	case ResumeSession:
		typ, withData = "resume_session", false
	case StopSession:
		typ, withData = "stop_session", false
	case ResetSession:
		typ, withData = "reset_session", false
	case AddCycles:
		typ = "add_cycles"
	case ReduceWeeklyMinutes:
		typ = "reduce_weekly_minutes"
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	env := EventEnvelope{Type: typ}
	if withData {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", typ, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}
