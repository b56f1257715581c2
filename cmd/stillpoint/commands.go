package main

import "fmt"

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect requested by the reducer and
// executed by the effects layer.
type Command interface {
	commandMarker()
	String() string
}

// CmdPlayLoop loads Source from position zero and starts it.
type CmdPlayLoop struct {
	Key    string
	Source string
	Volume float64
	Loop   bool
}

func (CmdPlayLoop) commandMarker() {}
func (c CmdPlayLoop) String() string {
	return fmt.Sprintf("CmdPlayLoop(key=%s, volume=%.2f, loop=%v)", c.Key, c.Volume, c.Loop)
}

// CmdResume resumes the loaded source at its retained position.
type CmdResume struct {
	Volume float64
}

func (CmdResume) commandMarker() {}
func (c CmdResume) String() string {
	return fmt.Sprintf("CmdResume(volume=%.2f)", c.Volume)
}

type CmdPause struct{}

func (CmdPause) commandMarker() {}
func (CmdPause) String() string { return "CmdPause()" }

// CmdStopAudio stops and releases the loaded source.
type CmdStopAudio struct{}

func (CmdStopAudio) commandMarker() {}
func (CmdStopAudio) String() string { return "CmdStopAudio()" }

type CmdSetVolume struct {
	Volume float64
}

func (CmdSetVolume) commandMarker() {}
func (c CmdSetVolume) String() string {
	return fmt.Sprintf("CmdSetVolume(volume=%.2f)", c.Volume)
}

// CmdStartTone plays a one-shot chime over any running loop.
type CmdStartTone struct {
	Profile ToneProfile
}

func (CmdStartTone) commandMarker() {}
func (c CmdStartTone) String() string {
	return fmt.Sprintf("CmdStartTone(profile=%s)", c.Profile.Name)
}

// CmdPersist saves Value under Key in the persisted store.
type CmdPersist struct {
	Key   string
	Value any
}

func (CmdPersist) commandMarker()   {}
func (c CmdPersist) String() string { return fmt.Sprintf("CmdPersist(key=%s)", c.Key) }

// CmdRecordSession hands a finished session to the session log. Fire-and-forget.
type CmdRecordSession struct {
	Record SessionRecord
}

func (CmdRecordSession) commandMarker() {}
func (c CmdRecordSession) String() string {
	return fmt.Sprintf("CmdRecordSession(minutes=%d, mode=%s, completed=%v)",
		c.Record.DurationMinutes, c.Record.Mode, c.Record.Completed)
}

// CmdPublishStateSnapshot delivers a snapshot to a RequestStateSnapshot caller.
type CmdPublishStateSnapshot struct {
	Snapshot StateSnapshot
	Reply    chan StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// CmdReplyResult delivers the outcome of an AwaitResult.
type CmdReplyResult struct {
	Err   error
	Reply chan error
}

func (CmdReplyResult) commandMarker() {}
func (c CmdReplyResult) String() string {
	return fmt.Sprintf("CmdReplyResult(err=%v)", c.Err)
}
