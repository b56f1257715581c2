package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDaemon answers each IPC line with reply and records what it received.
func fakeDaemon(t *testing.T, reply string) (string, <-chan envelope) {
	t.Helper()
	// Unix socket paths are length-limited; keep it short.
	dir, err := os.MkdirTemp("", "spctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "s.sock")

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan envelope, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			line, err := bufio.NewReader(conn).ReadBytes('\n')
			if err == nil {
				var env envelope
				if json.Unmarshal(line, &env) == nil {
					got <- env
				}
				conn.Write([]byte(reply + "\n"))
			}
			conn.Close()
		}
	}()
	return path, got
}

func runCtl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStartSendsEnvelope(t *testing.T) {
	path, got := fakeDaemon(t, `{"status":"ok"}`)

	out, err := runCtl(t, "--socket", path, "start", "--minutes", "10", "--duck")
	require.NoError(t, err)
	require.Equal(t, "ok\n", out)

	env := <-got
	require.Equal(t, "start_session", env.Type)
	require.JSONEq(t, `{"target_minutes":10,"duck_ambience":true}`, string(env.Data))
}

func TestStartRejectsMinutesWithExercise(t *testing.T) {
	_, err := runCtl(t, "--socket", "/nonexistent", "start", "-m", "5", "-e", "box")
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestDaemonErrorIsReturned(t *testing.T) {
	path, _ := fakeDaemon(t, `{"status":"error","error":"session already active"}`)

	_, err := send(path, envelope{Type: "pause_session"})
	require.ErrorContains(t, err, "session already active")
}

func TestAutoStopOffSendsNull(t *testing.T) {
	path, got := fakeDaemon(t, `{"status":"ok"}`)

	_, err := runCtl(t, "--socket", path, "auto-stop", "off")
	require.NoError(t, err)

	env := <-got
	require.Equal(t, "set_auto_stop", env.Type)
	require.JSONEq(t, `{"minutes":null}`, string(env.Data))
}

func TestStatePrintsSnapshot(t *testing.T) {
	path, got := fakeDaemon(t, `{"status":"ok","state":{"active":true,"elapsed_seconds":42}}`)

	out, err := runCtl(t, "--socket", path, "state")
	require.NoError(t, err)
	require.Equal(t, "get_state", (<-got).Type)
	require.Contains(t, out, `"elapsed_seconds": 42`)
}

func TestHistoryFetchesSessions(t *testing.T) {
	var path, query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, query = r.URL.Path, r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"a","duration_minutes":5}]`))
	}))
	defer srv.Close()

	out, err := runCtl(t, "--http", srv.URL, "history", "-n", "3")
	require.NoError(t, err)
	require.Equal(t, "/api/sessions", path)
	require.Equal(t, "limit=3", query)
	require.True(t, strings.Contains(out, `"duration_minutes": 5`), out)
}

func TestHistoryReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","error":"invalid argument"}`))
	}))
	defer srv.Close()

	_, err := runCtl(t, "--http", srv.URL, "history")
	require.ErrorContains(t, err, "invalid argument")
}

func TestParseOnOff(t *testing.T) {
	on, err := parseOnOff("on")
	require.NoError(t, err)
	require.True(t, on)

	_, err = parseOnOff("maybe")
	require.Error(t, err)
}
