package main

import (
	"fmt"
	"math"
	"time"
)

// clampVolume maps any input into [0, maxVolume]. NaN becomes 0.
func clampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > maxVolume {
		return maxVolume
	}
	return v
}

func (r *reduction) play(key string) error {
	a, ok := r.s.Catalog.Get(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAmbience, key)
	}
	r.playAmbience(a)
	return nil
}

// playAmbience switches to a (restarting from zero) or resumes it if it is
// already the current track. The previous source is always stopped before a
// new one is loaded, so two sources never play at once.
func (r *reduction) playAmbience(a Ambience) {
	p := &r.s.Playback
	p.Ducked = false

	if p.Current != nil && p.Current.Key == a.Key {
		if p.Playing {
			return
		}
		p.Playing = true
		if p.Loaded {
			r.emit(CmdResume{Volume: p.EffectiveVolume()})
			return
		}
		p.Loaded = true
		r.emit(CmdPlayLoop{Key: a.Key, Source: a.Source, Volume: p.EffectiveVolume(), Loop: p.Loop})
		return
	}

	if p.Loaded {
		r.emit(CmdStopAudio{})
	}
	cur := a
	p.Current = &cur
	p.Playing = true
	p.Loaded = true
	r.emit(CmdPlayLoop{Key: a.Key, Source: a.Source, Volume: p.EffectiveVolume(), Loop: p.Loop})
}

func (r *reduction) pauseAmbience() {
	p := &r.s.Playback
	p.Ducked = false
	if !p.Playing {
		return
	}
	p.Playing = false
	r.emit(CmdPause{})
}

func (r *reduction) toggleAmbience() {
	p := &r.s.Playback
	switch {
	case p.Current == nil:
	case p.Playing:
		r.pauseAmbience()
	default:
		r.playAmbience(*p.Current)
	}
}

// stopAmbience is idempotent: a second stop emits nothing.
func (r *reduction) stopAmbience() {
	p := &r.s.Playback
	if p.Loaded {
		r.emit(CmdStopAudio{})
	}
	p.Current = nil
	p.Playing = false
	p.Loaded = false
	p.Ducked = false
	p.AutoStopAt = time.Time{}
}

func (r *reduction) nextAmbience() error {
	key := ""
	if cur := r.s.Playback.Current; cur != nil {
		key = cur.Key
	}
	a, ok := r.s.Catalog.Next(key)
	if !ok {
		return fmt.Errorf("%w: ambience catalog is empty", ErrUnknownAmbience)
	}
	r.playAmbience(a)
	return nil
}

func (r *reduction) setVolume(v float64) {
	p := &r.s.Playback
	v = clampVolume(v)
	if v == p.Volume {
		return
	}
	prev := p.EffectiveVolume()
	p.Volume = v
	if p.Playing && p.EffectiveVolume() != prev {
		r.emit(CmdSetVolume{Volume: p.EffectiveVolume()})
	}
}

// setSoundEnabled is the global mute. It silences the ambience and all chimes.
func (r *reduction) setSoundEnabled(enabled bool) {
	p := &r.s.Playback
	if p.SoundEnabled == enabled {
		return
	}
	prev := p.EffectiveVolume()
	p.SoundEnabled = enabled
	if p.Playing && p.EffectiveVolume() != prev {
		r.emit(CmdSetVolume{Volume: p.EffectiveVolume()})
	}
}

func (r *reduction) setAutoStop(minutes *int) {
	p := &r.s.Playback
	if minutes == nil || *minutes <= 0 {
		p.AutoStopAt = time.Time{}
		return
	}
	p.AutoStopAt = r.now.Add(time.Duration(*minutes) * time.Minute)
}

func (r *reduction) checkAutoStop() {
	p := &r.s.Playback
	if p.AutoStopAt.IsZero() || r.now.Before(p.AutoStopAt) {
		return
	}
	r.stopAmbience()
}

// audioFailed keeps the transition that caused the command. A failed load is
// forgotten so the next play reloads the source.
func (r *reduction) audioFailed(ev AudioCommandFailed) {
	p := &r.s.Playback
	switch c := ev.Command.(type) {
	case CmdPlayLoop:
		if p.Current != nil && p.Current.Key == c.Key {
			p.Loaded = false
		}
		r.broadcast(BroadcastNotice{Message: "ambience failed to play", At: r.now})
	case CmdResume:
		p.Loaded = false
		r.broadcast(BroadcastNotice{Message: "ambience failed to play", At: r.now})
	}
}
