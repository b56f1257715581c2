package main

import "time"

// Clock is the engine's only source of wall-clock time.
type Clock interface {
	Now() time.Time
}

// systemClock reads time.Now. The result keeps its monotonic reading so tick
// deltas are immune to wall-clock steps within one process.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
