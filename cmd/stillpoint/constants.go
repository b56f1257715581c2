package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_MUTE         = 113
	KEY_VOLUMEDOWN   = 114
	KEY_VOLUMEUP     = 115
	KEY_NEXTSONG     = 163
	KEY_PLAYPAUSE    = 164
	KEY_PREVIOUSSONG = 165
	KEY_STOPCD       = 166
	KEY_PLAYCD       = 200
	KEY_PAUSECD      = 201
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Engine defaults
const (
	defaultTickHz        = 1
	defaultMaxTickDelta  = 5 * time.Minute
	defaultReadTimeoutMS = 500
	defaultAudioAttempts = 3

	// maxVolume is the hard ceiling for ambience playback.
	maxVolume     = 0.9
	defaultVolume = 0.5

	// volumeKeyStep is the relative change applied by the media volume keys.
	volumeKeyStep = 0.05

	defaultRecordTimeout  = 10 * time.Second
	defaultPersistTimeout = time.Second
	defaultAudioQueue     = 32
	defaultHistoryLimit   = 20
)

// Persisted store keys
const (
	storeKeyPlayback = "playback"
	storeKeyWeekly   = "weekly"
)
