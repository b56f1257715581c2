package main

// ToneProfile describes a short synthesized chime: a frequency sweep with a
// linear attack/release envelope. The audio sidecar renders it on a separate
// voice so an ambience loop keeps its position.
type ToneProfile struct {
	Name        string  `json:"name"`
	StartHz     float64 `json:"start_hz"`
	EndHz       float64 `json:"end_hz"`
	DurationMS  int     `json:"duration_ms"`
	AttackMS    int     `json:"attack_ms"`
	ReleaseMS   int     `json:"release_ms"`
	Gain        float64 `json:"gain"`
	Repetitions int     `json:"repetitions,omitempty"`
}

const (
	ToneSessionStart    = "session_start"
	ToneInhale          = "inhale"
	ToneHold            = "hold"
	ToneExhale          = "exhale"
	ToneCycleComplete   = "cycle_complete"
	ToneSessionComplete = "session_complete"
)

var tonePresets = map[string]ToneProfile{
	ToneSessionStart: {
		Name: ToneSessionStart, StartHz: 528, EndHz: 528,
		DurationMS: 1200, AttackMS: 15, ReleaseMS: 1000, Gain: 0.35,
	},
	// Rising sweep for inhale, falling for exhale, flat for hold.
	ToneInhale: {
		Name: ToneInhale, StartHz: 396, EndHz: 528,
		DurationMS: 450, AttackMS: 60, ReleaseMS: 250, Gain: 0.25,
	},
	ToneHold: {
		Name: ToneHold, StartHz: 440, EndHz: 440,
		DurationMS: 250, AttackMS: 20, ReleaseMS: 180, Gain: 0.2,
	},
	ToneExhale: {
		Name: ToneExhale, StartHz: 528, EndHz: 396,
		DurationMS: 450, AttackMS: 60, ReleaseMS: 250, Gain: 0.25,
	},
	ToneCycleComplete: {
		Name: ToneCycleComplete, StartHz: 660, EndHz: 660,
		DurationMS: 180, AttackMS: 10, ReleaseMS: 120, Gain: 0.25, Repetitions: 2,
	},
	ToneSessionComplete: {
		Name: ToneSessionComplete, StartHz: 528, EndHz: 792,
		DurationMS: 1800, AttackMS: 20, ReleaseMS: 1500, Gain: 0.35, Repetitions: 3,
	},
}

// toneForCue maps an exercise phase cue to its preset.
func toneForCue(cue string) (ToneProfile, bool) {
	switch cue {
	case ToneInhale, ToneHold, ToneExhale:
		return tonePresets[cue], true
	default:
		return ToneProfile{}, false
	}
}
