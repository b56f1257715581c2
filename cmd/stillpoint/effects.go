package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Effects executes reducer-emitted Commands against the audio output, the
// persisted store and the session log.
//
// It never calls Reduce. Failures are reported through onEvent and the
// daemon loop reduces them like any other event.
type Effects struct {
	audio    AudioOutput
	store    Store
	recorder SessionRecorder
	clock    Clock
	logger   *slog.Logger

	recordTimeout  time.Duration
	persistTimeout time.Duration
	wg             sync.WaitGroup

	// audioJobs is nil until StartAudioWorker runs; audio calls are then
	// made inline.
	audioJobs chan audioJob
	audioWG   sync.WaitGroup
}

type audioJob struct {
	cmd  Command
	call func() error
}

// errAudioBacklog is reported when the sidecar cannot keep up.
var errAudioBacklog = errors.New("audio command queue full")

func NewEffects(audio AudioOutput, store Store, recorder SessionRecorder, clock Clock, logger *slog.Logger) *Effects {
	if audio == nil {
		audio = nullAudio{logger: logger}
	}
	if recorder == nil {
		recorder = logRecorder{logger: logger}
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Effects{
		audio:          audio,
		store:          store,
		recorder:       recorder,
		clock:          clock,
		logger:         logger,
		recordTimeout:  defaultRecordTimeout,
		persistTimeout: defaultPersistTimeout,
	}
}

// Run executes a single command.
func (fx *Effects) Run(ctx context.Context, cmd Command, onEvent func(Event)) {
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	switch c := cmd.(type) {
	case CmdPlayLoop:
		fx.audioCall(cmd, onEvent, func() error { return fx.audio.PlayLoop(c.Source, c.Volume, c.Loop) })
	case CmdResume:
		fx.audioCall(cmd, onEvent, func() error { return fx.audio.Resume(c.Volume) })
	case CmdPause:
		fx.audioCall(cmd, onEvent, fx.audio.Pause)
	case CmdStopAudio:
		fx.audioCall(cmd, onEvent, fx.audio.Stop)
	case CmdSetVolume:
		fx.audioCall(cmd, onEvent, func() error { return fx.audio.SetVolume(c.Volume) })
	case CmdStartTone:
		fx.audioCall(cmd, onEvent, func() error { return fx.audio.StartTone(c.Profile) })

	case CmdPersist:
		fx.persist(ctx, c, onEvent)

	case CmdRecordSession:
		fx.record(c.Record)

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			fx.logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		// Never block the daemon loop on a reader that went away.
		select {
		case c.Reply <- c.Snapshot:
		default:
			fx.logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	case CmdReplyResult:
		if c.Reply == nil {
			return
		}
		select {
		case c.Reply <- c.Err:
		default:
			fx.logger.Warn("result reply channel not ready; dropping result")
		}

	default:
		fx.logger.Warn("unknown command type", "command", cmd.String())
	}
}

// StartAudioWorker moves audio calls off the caller's goroutine. Commands
// run in order on one worker; failures come back on events as
// AudioCommandFailed. The worker exits when ctx is canceled.
func (fx *Effects) StartAudioWorker(ctx context.Context, events chan<- Event, queue int) {
	if queue <= 0 {
		queue = defaultAudioQueue
	}
	fx.audioJobs = make(chan audioJob, queue)
	fx.audioWG.Add(1)
	go func() {
		defer fx.audioWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-fx.audioJobs:
				err := job.call()
				if err == nil {
					continue
				}
				ev := fx.audioFailed(job.cmd, err)
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (fx *Effects) audioCall(cmd Command, onEvent func(Event), call func() error) {
	if fx.audioJobs != nil {
		select {
		case fx.audioJobs <- audioJob{cmd: cmd, call: call}:
		default:
			onEvent(fx.audioFailed(cmd, errAudioBacklog))
		}
		return
	}
	if err := call(); err != nil {
		onEvent(fx.audioFailed(cmd, err))
	}
}

func (fx *Effects) audioFailed(cmd Command, err error) Event {
	if isSidecarRefusal(err) {
		fx.logger.Warn("audio command refused", "command", cmd.String(), "error", err)
	} else {
		fx.logger.Error("audio command failed", "command", cmd.String(), "error", err)
	}
	return AudioCommandFailed{Command: cmd, Err: err, At: fx.clock.Now()}
}

func (fx *Effects) persist(ctx context.Context, c CmdPersist, onEvent func(Event)) {
	if fx.store == nil {
		return
	}
	b, err := json.Marshal(c.Value)
	if err == nil {
		saveCtx, cancel := context.WithTimeout(ctx, fx.persistTimeout)
		err = fx.store.Save(saveCtx, c.Key, b)
		cancel()
	}
	if err != nil {
		fx.logger.Error("persist failed", "key", c.Key, "error", err)
		onEvent(PersistFailed{Key: c.Key, Err: err, At: fx.clock.Now()})
		return
	}
	fx.logger.Debug("persisted", "key", c.Key, "bytes", len(b))
}

// record writes the session in the background. Failures are logged only.
func (fx *Effects) record(rec SessionRecord) {
	fx.wg.Add(1)
	go func() {
		defer fx.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), fx.recordTimeout)
		defer cancel()
		if err := fx.recorder.RecordSession(ctx, rec); err != nil {
			fx.logger.Error("record session failed", "minutes", rec.DurationMinutes, "error", err)
		}
	}()
}

// Flush waits for in-flight session records and, once its context is
// canceled, for the audio worker.
func (fx *Effects) Flush() {
	fx.wg.Wait()
	fx.audioWG.Wait()
}
