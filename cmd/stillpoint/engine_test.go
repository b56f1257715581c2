package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEngine_HandleRunsAudioAndPersists(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, nil)

	if err := te.Handle(ctx, PlayAmbience{Key: "rain"}); err != nil {
		t.Fatalf("play: %v", err)
	}

	calls := te.audio.Calls()
	if len(calls) != 1 || calls[0] != "play_loop:ambience/rain.ogg" {
		t.Fatalf("unexpected audio calls: %v", calls)
	}

	b, err := te.store.Load(ctx, storeKeyPlayback)
	if err != nil {
		t.Fatalf("load playback: %v", err)
	}
	var rec PlaybackRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatalf("decode playback: %v", err)
	}
	if rec.Current != "rain" || rec.Volume != defaultVolume || !rec.Loop || !rec.SoundEnabled {
		t.Fatalf("unexpected persisted record: %+v", rec)
	}
}

func TestEngine_HandleReturnsRejection(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, nil)

	if err := te.Handle(ctx, StartSession{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := te.Handle(ctx, StartSession{}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestEngine_HandleStampsEventsWithClock(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, nil)
	start := te.clock.Now()

	_ = te.Handle(ctx, StartSession{TargetMinutes: intPtr(1)})
	te.clock.Advance(30 * time.Second)
	te.Tick(ctx)

	snap := te.Snapshot()
	if snap.ElapsedSeconds != 30 || *snap.RemainingSeconds != 30 || snap.ProgressPercent != 50 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !te.state.Session.StartedAt.Equal(start) {
		t.Fatalf("expected start at %v, got %v", start, te.state.Session.StartedAt)
	}
}

func TestEngine_CompletedSessionIsRecorded(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, nil)

	_ = te.Handle(ctx, StartSession{TargetMinutes: intPtr(2)})
	for i := 0; i < 120; i++ {
		te.clock.Advance(time.Second)
		te.Tick(ctx)
	}
	te.Flush()

	recs := te.recorder.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].DurationMinutes != 2 || !recs[0].Completed || recs[0].Mode != ModeGuided {
		t.Fatalf("unexpected record: %+v", recs[0])
	}

	b, err := te.store.Load(ctx, storeKeyWeekly)
	if err != nil {
		t.Fatalf("load weekly: %v", err)
	}
	var w WeeklyMinutes
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatalf("decode weekly: %v", err)
	}
	if w.Minutes != 2 || w.WeekKey != WeekKey(te.clock.Now(), time.UTC) {
		t.Fatalf("unexpected persisted weekly: %+v", w)
	}
}

func TestEngine_PersistFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 1}
	te := newTestEngine(t, store)

	if err := te.Handle(ctx, SetVolume{Volume: 0.3}); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	if _, err := store.Load(ctx, storeKeyPlayback); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected nothing saved yet, got %v", err)
	}

	te.clock.Advance(time.Second)
	te.Tick(ctx)

	b, err := store.Load(ctx, storeKeyPlayback)
	if err != nil {
		t.Fatalf("expected retry to save playback: %v", err)
	}
	var rec PlaybackRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Volume != 0.3 {
		t.Fatalf("expected volume 0.3, got %v", rec.Volume)
	}
}

func TestEngine_AudioFailureKeepsStateAndNotifies(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, nil)
	te.audio.fail = map[string]error{"play_loop:ambience/rain.ogg": errors.New("sidecar down")}

	if err := te.Handle(ctx, PlayAmbience{Key: "rain"}); err != nil {
		t.Fatalf("a failed effect must not reject the intent: %v", err)
	}
	snap := te.Snapshot()
	if snap.CurrentAmbience == nil || snap.CurrentAmbience.Key != "rain" {
		t.Fatalf("expected rain selected, got %+v", snap.CurrentAmbience)
	}
	if te.state.Playback.Loaded {
		t.Fatalf("expected failed load to be forgotten")
	}

	sawNotice := false
	for {
		select {
		case b := <-te.broadcasts:
			if _, ok := b.(BroadcastNotice); ok {
				sawNotice = true
			}
			continue
		default:
		}
		break
	}
	if !sawNotice {
		t.Fatalf("expected a notice broadcast")
	}
}

func TestEngine_RestoreAppliesPersistedRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	te := newTestEngine(t, store)

	week := WeekKey(te.clock.Now(), time.UTC)
	_ = store.Save(ctx, storeKeyPlayback, []byte(`{"current":"fire","volume":0.7,"loop":false,"sound_enabled":true}`))
	_ = store.Save(ctx, storeKeyWeekly, []byte(`{"week_key":"`+week+`","minutes":42}`))

	te.Restore(ctx, store)

	snap := te.Snapshot()
	if snap.CurrentAmbience == nil || snap.CurrentAmbience.Key != "fire" || snap.Playing {
		t.Fatalf("expected fire selected and stopped, got %+v", snap)
	}
	if snap.Volume != 0.7 || snap.Loop {
		t.Fatalf("unexpected playback settings: %+v", snap)
	}
	if snap.WeeklyMinutes != 42 {
		t.Fatalf("expected 42 weekly minutes, got %d", snap.WeeklyMinutes)
	}
	if len(te.audio.Calls()) != 0 {
		t.Fatalf("restore must not touch audio: %v", te.audio.Calls())
	}
}

func TestEngine_RestoreIgnoresCorruptRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	te := newTestEngine(t, store)

	_ = store.Save(ctx, storeKeyPlayback, []byte(`{not json`))

	te.Restore(ctx, store)

	snap := te.Snapshot()
	if snap.Volume != defaultVolume || snap.CurrentAmbience != nil || !snap.SoundEnabled {
		t.Fatalf("expected defaults, got %+v", snap)
	}
}

func TestEngine_AwaitResultReplies(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, nil)

	reply := make(chan error, 1)
	_ = te.Handle(ctx, AwaitResult{Event: ResumeSession{}, Reply: reply})

	select {
	case err := <-reply:
		if !errors.Is(err, ErrNoActiveSession) {
			t.Fatalf("expected ErrNoActiveSession, got %v", err)
		}
	default:
		t.Fatalf("expected a reply")
	}
}

func TestEngine_PublishDropsWhenQueueFull(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Unix(1000, 0).UTC())
	out := make(chan StateBroadcast, 1)
	logger := discardLogger()
	eng := NewEngine(newTestState(t), testEngineCfg, clock, NewEffects(&fakeAudio{}, nil, nil, clock, logger), out, logger)

	// Start emits several broadcasts; only the first fits.
	if err := eng.Handle(ctx, StartSession{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 queued broadcast, got %d", len(out))
	}
}

// stalledAudio holds every call until release is closed, then returns err.
type stalledAudio struct {
	release chan struct{}
	err     error
}

func (a *stalledAudio) wait() error {
	<-a.release
	return a.err
}

func (a *stalledAudio) PlayLoop(string, float64, bool) error { return a.wait() }
func (a *stalledAudio) Resume(float64) error                 { return a.wait() }
func (a *stalledAudio) Pause() error                         { return a.wait() }
func (a *stalledAudio) Stop() error                          { return a.wait() }
func (a *stalledAudio) SetVolume(float64) error              { return a.wait() }
func (a *stalledAudio) StartTone(ToneProfile) error          { return a.wait() }
func (a *stalledAudio) Close() error                         { return nil }

func newStalledEngine(t *testing.T, audio *stalledAudio) (*Engine, *Effects, chan StateBroadcast) {
	t.Helper()
	clock := newFakeClock(time.Unix(1000, 0).UTC())
	out := make(chan StateBroadcast, 256)
	fx := NewEffects(audio, NewMemoryStore(), &fakeRecorder{}, clock, discardLogger())
	return NewEngine(newTestState(t), testEngineCfg, clock, fx, out, discardLogger()), fx, out
}

func TestEngine_SlowSidecarDoesNotBlockHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	audio := &stalledAudio{release: make(chan struct{})}
	eng, fx, _ := newStalledEngine(t, audio)
	events := make(chan Event, 8)
	fx.StartAudioWorker(ctx, events, 4)
	defer func() {
		cancel()
		close(audio.release)
		fx.Flush()
	}()

	start := time.Now()
	if err := eng.Handle(ctx, PlayAmbience{Key: "rain"}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := eng.Handle(ctx, SetVolume{Volume: 0.2}); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	if d := time.Since(start); d > 200*time.Millisecond {
		t.Fatalf("handle blocked on audio for %v", d)
	}
	if snap := eng.Snapshot(); !snap.Playing || snap.Volume != 0.2 {
		t.Fatalf("expected state to move on, got playing=%v volume=%v", snap.Playing, snap.Volume)
	}
}

func TestEngine_AsyncAudioFailureComesBackAsEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	audio := &stalledAudio{release: make(chan struct{}), err: errors.New("read timeout")}
	close(audio.release)
	eng, fx, out := newStalledEngine(t, audio)
	events := make(chan Event, 8)
	fx.StartAudioWorker(ctx, events, 4)
	defer func() {
		cancel()
		fx.Flush()
	}()

	if err := eng.Handle(ctx, PlayAmbience{Key: "rain"}); err != nil {
		t.Fatalf("play: %v", err)
	}

	var ev Event
	select {
	case ev = <-events:
	case <-time.After(time.Second):
		t.Fatalf("no failure event from the audio worker")
	}
	failed, ok := ev.(AudioCommandFailed)
	if !ok {
		t.Fatalf("expected AudioCommandFailed, got %T", ev)
	}
	if _, ok := failed.Command.(CmdPlayLoop); !ok {
		t.Fatalf("expected the play command to fail, got %s", failed.Command)
	}

	for len(out) > 0 {
		<-out
	}
	if err := eng.Handle(ctx, ev); err != nil {
		t.Fatalf("handle failure: %v", err)
	}
	sawNotice := false
	for len(out) > 0 {
		if _, ok := (<-out).(BroadcastNotice); ok {
			sawNotice = true
		}
	}
	if !sawNotice {
		t.Fatalf("expected a notice broadcast")
	}
	if eng.state.Playback.Loaded {
		t.Fatalf("expected failed load to be forgotten")
	}
}

func TestEffects_AudioBacklogFailsFast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	audio := &stalledAudio{release: make(chan struct{})}
	fx := NewEffects(audio, nil, nil, newFakeClock(time.Unix(1000, 0).UTC()), discardLogger())
	fx.StartAudioWorker(ctx, make(chan Event, 8), 1)
	defer func() {
		cancel()
		close(audio.release)
		fx.Flush()
	}()

	// One call in the worker, one queued; the rest overflow.
	var failed []AudioCommandFailed
	for i := 0; i < 3; i++ {
		fx.Run(ctx, CmdPause{}, func(ev Event) {
			if f, ok := ev.(AudioCommandFailed); ok {
				failed = append(failed, f)
			}
		})
	}
	if len(failed) == 0 {
		t.Fatalf("expected an overflow failure")
	}
	for _, f := range failed {
		if !errors.Is(f.Err, errAudioBacklog) {
			t.Fatalf("expected errAudioBacklog, got %v", f.Err)
		}
	}
}

// hangingStore never completes a save until its context ends.
type hangingStore struct {
	*MemoryStore
	mu   sync.Mutex
	errs []error
}

func (s *hangingStore) Save(ctx context.Context, _ string, _ []byte) error {
	<-ctx.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, ctx.Err())
	return ctx.Err()
}

func TestEngine_HungStoreIsBoundedByPersistTimeout(t *testing.T) {
	ctx := context.Background()
	store := &hangingStore{MemoryStore: NewMemoryStore()}
	te := newTestEngine(t, store)
	te.effects.persistTimeout = 50 * time.Millisecond

	start := time.Now()
	if err := te.Handle(ctx, SetVolume{Volume: 0.3}); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("handle blocked on the store for %v", d)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.errs) == 0 || !errors.Is(store.errs[0], context.DeadlineExceeded) {
		t.Fatalf("expected the save to hit its deadline, got %v", store.errs)
	}
	if te.state.SavedPlayback != nil {
		t.Fatalf("expected the failed save to be retried later")
	}
}
