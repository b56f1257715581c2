package main

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestPlayback_PlayLoadsSourceAtCurrentVolume(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)

	rr := reduceAt(s, PlayAmbience{Key: "rain"}, t0)
	if rr.Err != nil {
		t.Fatalf("play: %v", rr.Err)
	}

	want := []Command{CmdPlayLoop{Key: "rain", Source: "ambience/rain.ogg", Volume: defaultVolume, Loop: true}}
	if got := audioCommands(rr.Commands); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected commands: %v", got)
	}
	p := rr.State.Playback
	if p.Current == nil || p.Current.Key != "rain" || !p.Playing {
		t.Fatalf("expected rain playing, got %+v", p)
	}
	if countBroadcasts[BroadcastStateChanged](rr.Broadcasts) != 1 {
		t.Fatalf("expected a state_changed broadcast")
	}
}

func TestPlayback_SwitchStopsPreviousSourceFirst(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)

	rr := reduceAt(s, PlayAmbience{Key: "rain"}, t0)
	rr = reduceAt(rr.State, PlayAmbience{Key: "forest"}, t0)

	got := audioCommands(rr.Commands)
	if len(got) != 2 {
		t.Fatalf("expected stop + play, got %v", got)
	}
	if _, ok := got[0].(CmdStopAudio); !ok {
		t.Fatalf("expected CmdStopAudio first, got %v", got[0])
	}
	if c, ok := got[1].(CmdPlayLoop); !ok || c.Key != "forest" {
		t.Fatalf("expected CmdPlayLoop(forest) second, got %v", got[1])
	}
}

func TestPlayback_PauseThenPlayResumes(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)

	rr := reduceAt(s, PlayAmbience{Key: "ocean"}, t0)
	rr = reduceAt(rr.State, PauseAmbience{}, t0)
	if got := audioCommands(rr.Commands); !reflect.DeepEqual(got, []Command{CmdPause{}}) {
		t.Fatalf("expected pause, got %v", got)
	}
	if rr.State.Playback.Current == nil {
		t.Fatalf("pause must keep the current ambience")
	}

	rr = reduceAt(rr.State, PlayAmbience{Key: "ocean"}, t0)
	if got := audioCommands(rr.Commands); !reflect.DeepEqual(got, []Command{CmdResume{Volume: defaultVolume}}) {
		t.Fatalf("expected resume, got %v", got)
	}

	// Playing the current track again while it plays is a no-op.
	rr = reduceAt(rr.State, PlayAmbience{Key: "ocean"}, t0)
	if got := audioCommands(rr.Commands); len(got) != 0 {
		t.Fatalf("expected no commands, got %v", got)
	}
}

func TestPlayback_ToggleAmbience(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)

	// Nothing selected: toggle does nothing.
	rr := reduceAt(s, ToggleAmbience{}, t0)
	if got := audioCommands(rr.Commands); len(got) != 0 {
		t.Fatalf("expected no commands, got %v", got)
	}

	rr = reduceAt(rr.State, PlayAmbience{Key: "fire"}, t0)
	rr = reduceAt(rr.State, ToggleAmbience{}, t0)
	if rr.State.Playback.Playing {
		t.Fatalf("expected paused after toggle")
	}
	rr = reduceAt(rr.State, ToggleAmbience{}, t0)
	if !rr.State.Playback.Playing {
		t.Fatalf("expected playing after second toggle")
	}
}

func TestPlayback_StopIsIdempotent(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)

	rr := reduceAt(s, PlayAmbience{Key: "rain"}, t0)
	rr = reduceAt(rr.State, StopAmbience{}, t0)
	if got := audioCommands(rr.Commands); !reflect.DeepEqual(got, []Command{CmdStopAudio{}}) {
		t.Fatalf("expected stop, got %v", got)
	}
	if rr.State.Playback.Current != nil || rr.State.Playback.Playing {
		t.Fatalf("expected nothing selected after stop")
	}

	rr = reduceAt(rr.State, StopAmbience{}, t0)
	if got := audioCommands(rr.Commands); len(got) != 0 {
		t.Fatalf("second stop must emit nothing, got %v", got)
	}
}

func TestPlayback_UnknownAmbienceRejected(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)
	rr := reduceAt(s, PlayAmbience{Key: "rain"}, t0)

	rr = reduceAt(rr.State, PlayAmbience{Key: "thunder"}, t0)
	if !errors.Is(rr.Err, ErrUnknownAmbience) {
		t.Fatalf("expected ErrUnknownAmbience, got %v", rr.Err)
	}
	if rr.State.Playback.Current.Key != "rain" || !rr.State.Playback.Playing {
		t.Fatalf("rejected play must keep current playback")
	}
	if got := audioCommands(rr.Commands); len(got) != 0 {
		t.Fatalf("expected no commands, got %v", got)
	}
}

func TestPlayback_NextAmbienceWraps(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)

	// From nothing, next selects the first entry.
	rr := reduceAt(s, NextAmbience{}, t0)
	if got := rr.State.Playback.Current.Key; got != "rain" {
		t.Fatalf("expected rain, got %s", got)
	}

	rr = reduceAt(rr.State, PlayAmbience{Key: "bowls"}, t0)
	rr = reduceAt(rr.State, NextAmbience{}, t0)
	if got := rr.State.Playback.Current.Key; got != "rain" {
		t.Fatalf("expected wrap to rain, got %s", got)
	}
}

func TestPlayback_VolumeClampedAndIdempotent(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)
	rr := reduceAt(s, PlayAmbience{Key: "rain"}, t0)

	rr = reduceAt(rr.State, SetVolume{Volume: 1.5}, t0)
	if got := rr.State.Playback.Volume; got != maxVolume {
		t.Fatalf("expected volume clamped to %v, got %v", maxVolume, got)
	}
	if got := audioCommands(rr.Commands); !reflect.DeepEqual(got, []Command{CmdSetVolume{Volume: maxVolume}}) {
		t.Fatalf("expected set_volume, got %v", got)
	}

	rr = reduceAt(rr.State, SetVolume{Volume: maxVolume}, t0)
	if got := audioCommands(rr.Commands); len(got) != 0 {
		t.Fatalf("setting the same volume must emit nothing, got %v", got)
	}

	rr = reduceAt(rr.State, AdjustVolume{Delta: -2}, t0)
	if got := rr.State.Playback.Volume; got != 0 {
		t.Fatalf("expected volume clamped to 0, got %v", got)
	}

	rr = reduceAt(rr.State, SetVolume{Volume: math.NaN()}, t0)
	if got := rr.State.Playback.Volume; got != 0 {
		t.Fatalf("expected NaN to clamp to 0, got %v", got)
	}
}

func TestPlayback_VolumeWhileStoppedEmitsNoAudio(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)

	rr := reduceAt(s, SetVolume{Volume: 0.3}, t0)
	if got := audioCommands(rr.Commands); len(got) != 0 {
		t.Fatalf("expected no audio commands, got %v", got)
	}
	if _, ok := findCommand[CmdPersist](rr.Commands); !ok {
		t.Fatalf("expected the new volume to be persisted")
	}

	rr = reduceAt(rr.State, PlayAmbience{Key: "rain"}, t0)
	c, _ := findCommand[CmdPlayLoop](rr.Commands)
	if c.Volume != 0.3 {
		t.Fatalf("expected play at 0.3, got %v", c.Volume)
	}
}

func TestPlayback_SoundDisabledMutesLoop(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)
	rr := reduceAt(s, PlayAmbience{Key: "rain"}, t0)

	rr = reduceAt(rr.State, ToggleSound{}, t0)
	if rr.State.Playback.SoundEnabled {
		t.Fatalf("expected sound disabled")
	}
	if got := audioCommands(rr.Commands); !reflect.DeepEqual(got, []Command{CmdSetVolume{Volume: 0}}) {
		t.Fatalf("expected mute, got %v", got)
	}
	// The stored volume is kept for when sound comes back.
	if rr.State.Playback.Volume != defaultVolume {
		t.Fatalf("volume changed by mute: %v", rr.State.Playback.Volume)
	}

	rr = reduceAt(rr.State, SetSoundEnabled{Enabled: true}, t0)
	if got := audioCommands(rr.Commands); !reflect.DeepEqual(got, []Command{CmdSetVolume{Volume: defaultVolume}}) {
		t.Fatalf("expected unmute, got %v", got)
	}
}

func TestPlayback_AutoStop(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)
	rr := reduceAt(s, PlayAmbience{Key: "forest"}, t0)
	rr = reduceAt(rr.State, SetAutoStop{Minutes: intPtr(1)}, t0)

	snap := rr.State.Snapshot(t0, testEngineCfg)
	if snap.AutoStopAt == nil || !snap.AutoStopAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected auto stop: %v", snap.AutoStopAt)
	}

	rr = tickAt(rr.State, t0.Add(59*time.Second))
	if !rr.State.Playback.Playing {
		t.Fatalf("stopped too early")
	}

	rr = tickAt(rr.State, t0.Add(60*time.Second))
	if rr.State.Playback.Playing || rr.State.Playback.Current != nil {
		t.Fatalf("expected playback stopped at deadline")
	}
	if got := audioCommands(rr.Commands); !reflect.DeepEqual(got, []Command{CmdStopAudio{}}) {
		t.Fatalf("expected stop, got %v", got)
	}
	if !rr.State.Playback.AutoStopAt.IsZero() {
		t.Fatalf("expected auto stop cleared")
	}
}

func TestPlayback_AutoStopCleared(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)
	rr := reduceAt(s, PlayAmbience{Key: "forest"}, t0)
	rr = reduceAt(rr.State, SetAutoStop{Minutes: intPtr(1)}, t0)
	rr = reduceAt(rr.State, SetAutoStop{Minutes: nil}, t0)

	rr = tickAt(rr.State, t0.Add(2*time.Minute))
	if !rr.State.Playback.Playing {
		t.Fatalf("cleared auto stop must not stop playback")
	}
}

func TestPlayback_DuckedAmbienceReturnsAfterSession(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)
	rr := reduceAt(s, PlayAmbience{Key: "rain"}, t0)

	rr = reduceAt(rr.State, StartSession{DuckAmbience: true}, t0)
	if rr.State.Playback.Playing || !rr.State.Playback.Ducked {
		t.Fatalf("expected ambience ducked, got %+v", rr.State.Playback)
	}
	if _, ok := findCommand[CmdPause](rr.Commands); !ok {
		t.Fatalf("expected pause on duck")
	}

	rr = tickAt(rr.State, t0.Add(30*time.Second))
	rr = reduceAt(rr.State, StopSession{}, t0.Add(30*time.Second))
	if !rr.State.Playback.Playing || rr.State.Playback.Ducked {
		t.Fatalf("expected ambience restored, got %+v", rr.State.Playback)
	}
	if _, ok := findCommand[CmdResume](rr.Commands); !ok {
		t.Fatalf("expected resume after session")
	}
}

func TestPlayback_ManualPauseDuringDuckIsKept(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)
	rr := reduceAt(s, PlayAmbience{Key: "rain"}, t0)
	rr = reduceAt(rr.State, StartSession{DuckAmbience: true}, t0)

	// An explicit pause takes the ambience out of the session's hands.
	rr = reduceAt(rr.State, PauseAmbience{}, t0)
	rr = reduceAt(rr.State, StopSession{}, t0)
	if rr.State.Playback.Playing {
		t.Fatalf("explicitly paused ambience must stay paused")
	}
}

func TestPlayback_FailedLoadIsReloadedNextTime(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)
	rr := reduceAt(s, PlayAmbience{Key: "rain"}, t0)
	load, _ := findCommand[CmdPlayLoop](rr.Commands)

	rr = Reduce(rr.State, AudioCommandFailed{Command: load, Err: errors.New("no device"), At: t0}, testEngineCfg)
	if countBroadcasts[BroadcastNotice](rr.Broadcasts) != 1 {
		t.Fatalf("expected a notice")
	}
	if rr.State.Playback.Current == nil || rr.State.Playback.Current.Key != "rain" {
		t.Fatalf("failure must keep the selection")
	}

	rr = reduceAt(rr.State, PauseAmbience{}, t0)
	rr = reduceAt(rr.State, PlayAmbience{Key: "rain"}, t0)
	if _, ok := findCommand[CmdPlayLoop](rr.Commands); !ok {
		t.Fatalf("expected a reload after failure, got %v", audioCommands(rr.Commands))
	}
}

func TestPlayback_NoBroadcastWithoutChange(t *testing.T) {
	t0 := time.Unix(1000, 0).UTC()
	s := newTestState(t)
	rr := reduceAt(s, SetLoop{Loop: true}, t0)

	rr = reduceAt(rr.State, SetLoop{Loop: true}, t0)
	if len(rr.Broadcasts) != 0 {
		t.Fatalf("expected no broadcasts, got %d", len(rr.Broadcasts))
	}

	rr = reduceAt(rr.State, SetLoop{Loop: false}, t0)
	if countBroadcasts[BroadcastStateChanged](rr.Broadcasts) != 1 {
		t.Fatalf("expected state_changed on loop change")
	}
}
