package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// eventForKey maps a media key to an engine intent. Volume keys act on
// press and auto-repeat; everything else on press only.
func eventForKey(code uint16, value int32) (Event, bool) {
	switch code {
	case KEY_VOLUMEUP:
		if value == evValuePress || value == evValueRepeat {
			return AdjustVolume{Delta: volumeKeyStep}, true
		}
		return nil, false
	case KEY_VOLUMEDOWN:
		if value == evValuePress || value == evValueRepeat {
			return AdjustVolume{Delta: -volumeKeyStep}, true
		}
		return nil, false
	}

	if value != evValuePress {
		return nil, false
	}
	switch code {
	case KEY_PLAYPAUSE:
		return ToggleAmbience{}, true
	case KEY_NEXTSONG:
		return NextAmbience{}, true
	case KEY_MUTE:
		return ToggleSound{}, true
	case KEY_STOPCD:
		return StopSession{}, true
	case KEY_PLAYCD:
		return ResumeSession{}, true
	case KEY_PAUSECD:
		return PauseSession{}, true
	default:
		return nil, false
	}
}

// runMediaKeys reads the given evdev devices and forwards mapped key
// presses to the daemon until ctx is canceled or a device fails.
func runMediaKeys(ctx context.Context, devices []string, events chan<- Event, logger *slog.Logger) error {
	if len(devices) == 0 {
		return nil
	}

	files := make([]*os.File, 0, len(devices))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			return fmt.Errorf("open input device %s: %w", dev, err)
		}
		files = append(files, f)
	}
	logger.Info("reading media keys", "devices", devices)

	raw := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readInputDevices(done, files, raw, readErr)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			return fmt.Errorf("input reader stopped: %w", err)

		case ie := <-raw:
			if ie.Type != EV_KEY {
				continue
			}
			ev, ok := eventForKey(ie.Code, ie.Value)
			if !ok {
				continue
			}
			logger.Debug("media key", "code", ie.Code, "value", ie.Value)
			select {
			case events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
