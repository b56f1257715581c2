package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: Line-delimited JSON
//   - Client sends an event envelope: {"type": "start_session", "data": {...}}
//     or {"type": "get_state"} to read a snapshot.
//   - Server responds: {"status": "ok"}, {"status": "ok", "state": {...}}
//     or {"status": "error", "error": "msg"}
//
// Intents are submitted through AwaitResult so rejections (for example
// "a session is already active") reach the client.
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string         `json:"status"`          // "ok" or "error"
	Error  string         `json:"error,omitempty"` // error message if status == "error"
	State  *StateSnapshot `json:"state,omitempty"`
}

// ipcReplyTimeout bounds how long a connection waits on the daemon loop.
const ipcReplyTimeout = 2 * time.Second

var errEventQueueFull = errors.New("event queue full")

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection serves one client until it disconnects.
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		resp := handleIPCLine(ctx, line, events)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

func handleIPCLine(ctx context.Context, line []byte, events chan<- Event) IPCResponse {
	var env EventEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)}
	}

	if env.Type == "get_state" {
		snap, err := requestSnapshot(ctx, events, ipcReplyTimeout)
		if err != nil {
			return IPCResponse{Status: "error", Error: err.Error()}
		}
		return IPCResponse{Status: "ok", State: &snap}
	}

	ev, err := UnmarshalEvent(line)
	if err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)}
	}
	if err := submitEvent(ctx, events, ev, ipcReplyTimeout); err != nil {
		return IPCResponse{Status: "error", Error: err.Error()}
	}
	return IPCResponse{Status: "ok"}
}

// submitEvent hands ev to the daemon loop and waits for the reducer's verdict.
func submitEvent(ctx context.Context, events chan<- Event, ev Event, timeout time.Duration) error {
	reply := make(chan error, 1)
	select {
	case events <- AwaitResult{Event: ev, Reply: reply}:
	default:
		return errEventQueueFull
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for daemon: %w", ctx.Err())
	}
}

// requestSnapshot reads the current snapshot through the daemon loop.
func requestSnapshot(ctx context.Context, events chan<- Event, timeout time.Duration) (StateSnapshot, error) {
	reply := make(chan StateSnapshot, 1)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case events <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return StateSnapshot{}, fmt.Errorf("request snapshot: %w", ctx.Err())
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StateSnapshot{}, fmt.Errorf("waiting for snapshot: %w", ctx.Err())
	}
}
