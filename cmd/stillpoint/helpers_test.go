package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var testEngineCfg = EngineConfig{
	MaxTickDelta: defaultMaxTickDelta,
	Location:     time.UTC,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(n int) *int { return &n }

// newTestState returns a fresh state over the built-in catalog.
func newTestState(t *testing.T) *EngineState {
	t.Helper()
	set, err := LoadCatalogSet(CatalogConfig{})
	if err != nil {
		t.Fatalf("load built-in catalog: %v", err)
	}
	return NewEngineState(set, PlaybackConfig{DefaultVolume: defaultVolume, DefaultLoop: true})
}

// reduceAt reduces ev as if it arrived at t.
func reduceAt(s *EngineState, ev Event, t time.Time) ReduceResult {
	return Reduce(s, TimedEvent{Event: ev, At: t}, testEngineCfg)
}

func tickAt(s *EngineState, t time.Time) ReduceResult {
	return Reduce(s, Tick{Now: t}, testEngineCfg)
}

// audioCommands drops bookkeeping commands so tests can compare audio output.
func audioCommands(cmds []Command) []Command {
	var out []Command
	for _, c := range cmds {
		switch c.(type) {
		case CmdPersist, CmdRecordSession, CmdReplyResult, CmdPublishStateSnapshot:
			continue
		}
		out = append(out, c)
	}
	return out
}

func findCommand[T Command](cmds []Command) (T, bool) {
	for _, c := range cmds {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func countCommands[T Command](cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if _, ok := c.(T); ok {
			n++
		}
	}
	return n
}

func countBroadcasts[T StateBroadcast](bs []StateBroadcast) int {
	n := 0
	for _, b := range bs {
		if _, ok := b.(T); ok {
			n++
		}
	}
	return n
}

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeAudio records calls as "op" strings. Ops listed in fail return an error.
type fakeAudio struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (a *fakeAudio) record(op string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, op)
	if err, ok := a.fail[op]; ok {
		return err
	}
	return nil
}

func (a *fakeAudio) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

func (a *fakeAudio) PlayLoop(source string, _ float64, _ bool) error {
	return a.record("play_loop:" + source)
}
func (a *fakeAudio) Resume(float64) error    { return a.record("resume") }
func (a *fakeAudio) Pause() error            { return a.record("pause") }
func (a *fakeAudio) Stop() error             { return a.record("stop") }
func (a *fakeAudio) SetVolume(float64) error { return a.record("set_volume") }
func (a *fakeAudio) StartTone(p ToneProfile) error {
	return a.record("tone:" + p.Name)
}
func (a *fakeAudio) Close() error { return nil }

// fakeRecorder collects recorded sessions.
type fakeRecorder struct {
	mu   sync.Mutex
	recs []SessionRecord
}

func (r *fakeRecorder) RecordSession(_ context.Context, rec SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *fakeRecorder) Records() []SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SessionRecord(nil), r.recs...)
}

// flakyStore fails the first failures saves, then behaves like a MemoryStore.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) Save(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return fmt.Errorf("save %s: %w", key, errDiskFull)
	}
	s.mu.Unlock()
	return s.MemoryStore.Save(ctx, key, data)
}

type testEngine struct {
	*Engine
	clock      *fakeClock
	audio      *fakeAudio
	store      Store
	recorder   *fakeRecorder
	broadcasts chan StateBroadcast
}

func newTestEngine(t *testing.T, store Store) *testEngine {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	clock := newFakeClock(time.Unix(1000, 0).UTC())
	audio := &fakeAudio{}
	rec := &fakeRecorder{}
	out := make(chan StateBroadcast, 256)
	logger := discardLogger()
	fx := NewEffects(audio, store, rec, clock, logger)
	eng := NewEngine(newTestState(t), testEngineCfg, clock, fx, out, logger)
	return &testEngine{
		Engine:     eng,
		clock:      clock,
		audio:      audio,
		store:      store,
		recorder:   rec,
		broadcasts: out,
	}
}

// serveEvents runs a minimal daemon loop for tests that go through the events
// channel. It stops when ctx is canceled.
func serveEvents(ctx context.Context, eng *Engine, events <-chan Event) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				_ = eng.Handle(ctx, ev)
			}
		}
	}()
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
