package main

import (
	"fmt"
	"time"
)

// WeeklyMinutes is the rolling meditation total for one ISO week.
type WeeklyMinutes struct {
	WeekKey string `json:"week_key"`
	Minutes int    `json:"minutes"`
}

// WeekKey derives the ISO week key ("2025-W01") for t in loc.
// A nil loc uses t's own location.
func WeekKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// rollover resets the counter when key differs from the stored week.
// It reports whether a reset happened.
func (w *WeeklyMinutes) rollover(key string) bool {
	if w.WeekKey == key {
		return false
	}
	w.WeekKey = key
	w.Minutes = 0
	return true
}

// add is the only path that increases Minutes.
func (w *WeeklyMinutes) add(key string, n int) {
	w.rollover(key)
	if n > 0 {
		w.Minutes += n
	}
}

// subtract removes up to n minutes, never going below zero.
func (w *WeeklyMinutes) subtract(key string, n int) {
	w.rollover(key)
	w.Minutes -= n
	if w.Minutes < 0 {
		w.Minutes = 0
	}
}

// MinutesFor returns the total for key, or 0 if the stored week is stale.
func (w WeeklyMinutes) MinutesFor(key string) int {
	if w.WeekKey != key {
		return 0
	}
	return w.Minutes
}

func (r *reduction) addWeeklyMinutes(n int) {
	r.s.Weekly.add(WeekKey(r.now, r.cfg.Location), n)
}

func (r *reduction) reduceWeeklyMinutes(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: minutes must be >= 0", ErrInvalidArgument)
	}
	r.s.Weekly.subtract(WeekKey(r.now, r.cfg.Location), n)
	return nil
}
