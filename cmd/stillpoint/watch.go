package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// catalogReloadDelay collapses the burst of events an editor produces for
// one save into a single reload.
const catalogReloadDelay = 200 * time.Millisecond

// watchCatalog reloads the catalog override files when they change. A file
// that fails to parse is logged and the previous catalog stays in use.
//
// Directories are watched rather than the files themselves so that
// atomic-rename saves are seen.
func watchCatalog(ctx context.Context, cfg CatalogConfig, holder *catalogHolder, events chan<- Event, logger *slog.Logger) error {
	targets := make(map[string]bool)
	for _, p := range []string{cfg.AmbienceFile, cfg.ExercisesFile} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(ExpandPath(p))
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		targets[abs] = true
	}
	if len(targets) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	dirs := make(map[string]bool)
	for p := range targets {
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	logger.Info("watching catalog files", "files", len(targets))

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(catalogReloadDelay)
				timerCh = timer.C
			} else {
				timer.Reset(catalogReloadDelay)
			}

		case <-timerCh:
			timer = nil
			timerCh = nil
			reloadCatalog(ctx, cfg, holder, events, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", "error", err)
		}
	}
}

func reloadCatalog(ctx context.Context, cfg CatalogConfig, holder *catalogHolder, events chan<- Event, logger *slog.Logger) {
	set, err := LoadCatalogSet(cfg)
	if err != nil {
		logger.Warn("catalog reload failed; keeping previous catalog", "error", err)
		return
	}
	holder.Store(set)

	select {
	case events <- CatalogReloaded{Set: set}:
		logger.Info("catalog reloaded",
			"ambience", set.Ambience.Len(),
			"exercises", len(set.Exercises.Definitions()))
	case <-ctx.Done():
	}
}
