package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// runDaemon is the only goroutine that touches the Engine. Every other
// goroutine (IPC, HTTP, websocket, media keys, catalog watcher) sends Events
// over the events channel. Ticks are generated here at tickHz.
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
//
// ============================================================================

func runDaemon(
	ctx context.Context,
	events <-chan Event,
	engine *Engine,
	tickHz int,
	logger *slog.Logger,
) {
	if engine == nil {
		logger.Error("daemon engine is nil")
		return
	}
	if tickHz <= 0 {
		tickHz = defaultTickHz
	}

	ticker := time.NewTicker(time.Second / time.Duration(tickHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			// Rejections are expected; callers that care use AwaitResult.
			if err := engine.Handle(ctx, ev); err != nil {
				logger.Debug("event rejected", "error", err)
			}

		case <-ticker.C:
			engine.Tick(ctx)
		}
	}
}
