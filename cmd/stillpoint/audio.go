package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AudioOutput is the single audio primitive the engine drives. It plays at
// most one ambience loop plus short tones on a separate voice.
type AudioOutput interface {
	PlayLoop(source string, volume float64, loop bool) error
	Resume(volume float64) error
	Pause() error
	Stop() error
	SetVolume(volume float64) error
	StartTone(profile ToneProfile) error
	Close() error
}

// audioRequest is the JSON text frame sent to the audio sidecar.
type audioRequest struct {
	Op     string       `json:"op"`
	Source string       `json:"source,omitempty"`
	Volume *float64     `json:"volume,omitempty"`
	Loop   *bool        `json:"loop,omitempty"`
	Tone   *ToneProfile `json:"tone,omitempty"`
}

// audioReply is the sidecar's answer to every request.
type audioReply struct {
	Result string `json:"result"` // "ok" or "error"
	Error  string `json:"error,omitempty"`
}

// errSidecar is a request the sidecar received and refused.
type errSidecar struct {
	op  string
	msg string
}

func (e errSidecar) Error() string { return fmt.Sprintf("audio sidecar %s: %s", e.op, e.msg) }

// AudioClient talks to the audio sidecar over a websocket. The connection
// is opened lazily and dropped on any I/O error; the next request reconnects.
type AudioClient struct {
	mu          sync.Mutex
	conn        *websocket.Conn
	url         string
	logger      *slog.Logger
	readTimeout time.Duration
	attempts    int
	retryDelay  time.Duration

	handshakeTimeout time.Duration
}

// NewAudioClient validates the URL. It does not connect.
func NewAudioClient(cfg AudioConfig, logger *slog.Logger) (*AudioClient, error) {
	u, err := url.Parse(cfg.WsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid audio websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid audio websocket URL scheme %q", u.Scheme)
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = defaultAudioAttempts
	}
	timeout := cfg.TimeoutMS
	if timeout <= 0 {
		timeout = defaultReadTimeoutMS
	}

	return &AudioClient{
		url:         cfg.WsURL,
		logger:      logger,
		readTimeout: time.Duration(timeout) * time.Millisecond,
		attempts:    attempts,
		retryDelay:  250 * time.Millisecond,

		handshakeTimeout: 2 * time.Second,
	}, nil
}

// connectLocked dials the sidecar. c.mu must be held.
func (c *AudioClient) connectLocked() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	d := websocket.Dialer{
		HandshakeTimeout: c.handshakeTimeout,
	}

	conn, _, err := d.Dial(c.url, nil)
	if err != nil {
		return err
	}

	c.conn = conn
	return nil
}

// ensureConnectedLocked retries the dial up to c.attempts times.
func (c *AudioClient) ensureConnectedLocked() error {
	if c.conn != nil {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		err := c.connectLocked()
		if err == nil {
			c.logger.Info("connected to audio sidecar", "url", c.url)
			return nil
		}
		lastErr = err
		c.logger.Warn("audio sidecar connection failed", "error", err, "attempt", attempt+1)
		if attempt+1 < c.attempts {
			time.Sleep(c.retryDelay)
		}
	}
	return fmt.Errorf("connect to audio sidecar after %d attempts: %w", c.attempts, lastErr)
}

// request sends req and waits for the sidecar's reply.
func (c *AudioClient) request(req audioRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(); err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", req.Op, err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.readTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropLocked()
		return fmt.Errorf("%s: %w", req.Op, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		c.dropLocked()
		return fmt.Errorf("%s: %w", req.Op, err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var reply audioReply
	if err := json.Unmarshal(message, &reply); err != nil {
		return fmt.Errorf("parse %s reply: %w", req.Op, err)
	}
	if reply.Result != "ok" {
		msg := reply.Error
		if msg == "" {
			msg = "request failed"
		}
		return errSidecar{op: req.Op, msg: msg}
	}

	c.logger.Debug("audio request", "op", req.Op)
	return nil
}

func (c *AudioClient) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *AudioClient) PlayLoop(source string, volume float64, loop bool) error {
	return c.request(audioRequest{Op: "play_loop", Source: source, Volume: &volume, Loop: &loop})
}

func (c *AudioClient) Resume(volume float64) error {
	return c.request(audioRequest{Op: "resume", Volume: &volume})
}

func (c *AudioClient) Pause() error {
	return c.request(audioRequest{Op: "pause"})
}

func (c *AudioClient) Stop() error {
	return c.request(audioRequest{Op: "stop"})
}

func (c *AudioClient) SetVolume(volume float64) error {
	return c.request(audioRequest{Op: "set_volume", Volume: &volume})
}

func (c *AudioClient) StartTone(profile ToneProfile) error {
	return c.request(audioRequest{Op: "start_tone", Tone: &profile})
}

func (c *AudioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

// nullAudio is used when no sidecar is configured.
type nullAudio struct {
	logger *slog.Logger
}

func (a nullAudio) PlayLoop(source string, volume float64, loop bool) error {
	a.logger.Debug("audio disabled: play_loop", "source", source, "volume", volume, "loop", loop)
	return nil
}

func (a nullAudio) Resume(volume float64) error {
	a.logger.Debug("audio disabled: resume", "volume", volume)
	return nil
}

func (a nullAudio) Pause() error {
	a.logger.Debug("audio disabled: pause")
	return nil
}

func (a nullAudio) Stop() error {
	a.logger.Debug("audio disabled: stop")
	return nil
}

func (a nullAudio) SetVolume(volume float64) error {
	a.logger.Debug("audio disabled: set_volume", "volume", volume)
	return nil
}

func (a nullAudio) StartTone(profile ToneProfile) error {
	a.logger.Debug("audio disabled: start_tone", "tone", profile.Name)
	return nil
}

func (nullAudio) Close() error { return nil }

// isSidecarRefusal reports whether err came back from the sidecar itself
// rather than from the transport.
func isSidecarRefusal(err error) bool {
	var e errSidecar
	return errors.As(err, &e)
}
