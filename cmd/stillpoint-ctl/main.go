package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// stillpoint-ctl - command-line client for the stillpoint daemon
// ============================================================================
// Intents go over the IPC socket as line-delimited JSON envelopes. Session
// history is read from the HTTP API.
//
// Usage:
//   stillpoint-ctl start --minutes 10
//   stillpoint-ctl play rain
//   stillpoint-ctl volume 0.4
//   stillpoint-ctl state
//   stillpoint-ctl history --limit 5
// ============================================================================

// envelope mirrors the daemon's event envelope.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ipcResponse mirrors the daemon's IPC reply. State is left raw so the ctl
// tool does not need to track every snapshot field.
type ipcResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

const dialTimeout = 2 * time.Second

var (
	socketPath string
	httpAddr   string
)

var rootCmd = &cobra.Command{
	Use:           "stillpoint-ctl",
	Short:         "Control the stillpoint session and ambience daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/stillpoint.sock", "Unix domain socket path")
	rootCmd.PersistentFlags().StringVar(&httpAddr, "http", "http://127.0.0.1:3002", "HTTP API base URL (history only)")
	addCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// makeEnvelope builds a wire envelope; data may be nil for events without payload.
func makeEnvelope(typ string, data any) (envelope, error) {
	env := envelope{Type: typ}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return envelope{}, fmt.Errorf("marshal %s: %w", typ, err)
		}
		env.Data = b
	}
	return env, nil
}

// send writes one envelope to the daemon and waits for its reply.
func send(path string, env envelope) (ipcResponse, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("connect to %s: %w", path, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := json.Marshal(env)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return ipcResponse{}, fmt.Errorf("send %s: %w", env.Type, err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

// sendIntent sends an intent and prints "ok" on success.
func sendIntent(cmd *cobra.Command, typ string, data any) error {
	env, err := makeEnvelope(typ, data)
	if err != nil {
		return err
	}
	if _, err := send(socketPath, env); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func printState(cmd *cobra.Command) error {
	resp, err := send(socketPath, envelope{Type: "get_state"})
	if err != nil {
		return err
	}
	if len(resp.State) == 0 {
		return errors.New("daemon returned no state")
	}
	return printIndented(cmd, resp.State)
}

func printHistory(cmd *cobra.Command, limit int) error {
	u, err := url.Parse(httpAddr)
	if err != nil {
		return fmt.Errorf("invalid --http URL: %w", err)
	}
	u = u.JoinPath("api", "sessions")
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return fmt.Errorf("history request failed (%d): %s", resp.StatusCode, apiErr.Error)
	}
	return printIndented(cmd, body)
}

func printIndented(cmd *cobra.Command, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
