package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// Engine owns the EngineState and sequences Reduce -> Commands -> Effects ->
// Events -> Reduce. It is not safe for concurrent use; after startup only
// the daemon goroutine calls it.
type Engine struct {
	state   *EngineState
	cfg     EngineConfig
	clock   Clock
	effects *Effects
	out     chan<- StateBroadcast
	logger  *slog.Logger
}

// NewEngine wires the engine. out may be nil when nobody consumes broadcasts.
func NewEngine(state *EngineState, cfg EngineConfig, clock Clock, effects *Effects, out chan<- StateBroadcast, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = systemClock{}
	}
	return &Engine{
		state:   state,
		cfg:     cfg,
		clock:   clock,
		effects: effects,
		out:     out,
		logger:  logger,
	}
}

// Restore loads the persisted records and applies them. Missing or
// unreadable records leave the defaults in place; it never fails startup.
func (e *Engine) Restore(ctx context.Context, store Store) {
	ev := StateRestored{}
	if store != nil {
		var rec PlaybackRecord
		if e.loadRecord(ctx, store, storeKeyPlayback, &rec) {
			ev.Playback = &rec
		}
		var w WeeklyMinutes
		if e.loadRecord(ctx, store, storeKeyWeekly, &w) {
			ev.Weekly = &w
		}
	}
	e.Handle(ctx, ev)
}

func (e *Engine) loadRecord(ctx context.Context, store Store, key string, v any) bool {
	b, err := store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.logger.Warn("load persisted record failed; using defaults", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		e.logger.Warn("persisted record is corrupt; using defaults", "key", key, "error", err)
		return false
	}
	return true
}

// Handle reduces ev and runs every resulting command, including those
// triggered by effect failures. It returns the reducer's verdict on ev.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	switch ev.(type) {
	case Tick, TimedEvent:
	default:
		ev = TimedEvent{Event: ev, At: e.clock.Now()}
	}

	var eventQueue []Event
	var cmdQueue []Command
	first := true
	var result error

	eventQueue = append(eventQueue, ev)

	flushEvents := func() {
		for len(eventQueue) > 0 {
			next := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(e.state, next, e.cfg)
			if rr.State != nil {
				e.state = rr.State
			}
			if first {
				result = rr.Err
				first = false
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			e.publish(rr.Broadcasts)
		}
	}

	flushEvents()
	for len(cmdQueue) > 0 {
		cmd := cmdQueue[0]
		cmdQueue = cmdQueue[1:]

		e.effects.Run(ctx, cmd, func(obs Event) {
			eventQueue = append(eventQueue, obs)
		})
		flushEvents()
	}

	return result
}

// Tick advances the engine to the clock's current time.
func (e *Engine) Tick(ctx context.Context) {
	e.Handle(ctx, Tick{Now: e.clock.Now()})
}

// Snapshot reads the current view directly. Only the owning goroutine may call it.
func (e *Engine) Snapshot() StateSnapshot {
	return e.state.Snapshot(e.clock.Now(), e.cfg)
}

// Flush waits for background effects to finish.
func (e *Engine) Flush() {
	e.effects.Flush()
}

func (e *Engine) publish(bcasts []StateBroadcast) {
	if e.out == nil {
		return
	}
	for _, b := range bcasts {
		select {
		case e.out <- b:
		default:
			e.logger.Debug("broadcast queue full; dropping", "type", broadcastType(b))
		}
	}
}
