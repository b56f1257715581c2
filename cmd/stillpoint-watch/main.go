package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// stillpoint-watch connects to the daemon's state websocket and prints each
// frame as a one-line summary (or raw JSON with -raw).

type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type stateData struct {
	Active           bool   `json:"active"`
	Paused           bool   `json:"paused"`
	Mode             string `json:"mode"`
	ElapsedSeconds   int    `json:"elapsed_seconds"`
	RemainingSeconds *int   `json:"remaining_seconds"`
	CurrentAmbience  *struct {
		Key string `json:"key"`
	} `json:"current_ambience"`
	Playing       bool    `json:"playing"`
	Volume        float64 `json:"volume"`
	WeeklyMinutes int     `json:"weekly_minutes"`
	WeekKey       string  `json:"week_key"`
}

type phaseData struct {
	Exercise    string `json:"exercise"`
	Instruction string `json:"instruction"`
	Cycle       int    `json:"cycle"`
	Cycles      int    `json:"cycles"`
}

type finishedData struct {
	Mode      string `json:"mode"`
	Minutes   int    `json:"minutes"`
	Completed bool   `json:"completed"`
	Exercise  string `json:"exercise"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws/state", "stillpoint state websocket URL")
		raw   = flag.Bool("raw", false, "print frames as indented JSON")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()
	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// Any frame counts as liveness.
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				printRaw(message)
				continue
			}
			fmt.Println(formatFrame(message))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

func printRaw(message []byte) {
	var v any
	if err := json.Unmarshal(message, &v); err != nil {
		fmt.Printf("[TEXT] %s\n", message)
		return
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	fmt.Printf("%s\n", pretty)
}

// formatFrame renders one websocket frame as a single line.
func formatFrame(message []byte) string {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		return fmt.Sprintf("[TEXT] %s", message)
	}

	switch f.Type {
	case "state_init", "state_changed":
		var s stateData
		if err := json.Unmarshal(f.Data, &s); err != nil {
			break
		}
		return "[STATE] " + formatState(s)

	case "phase_changed":
		var p phaseData
		if err := json.Unmarshal(f.Data, &p); err != nil {
			break
		}
		return fmt.Sprintf("[PHASE] %s: %s (cycle %d/%d)", p.Exercise, p.Instruction, p.Cycle, p.Cycles)

	case "session_finished":
		var r finishedData
		if err := json.Unmarshal(f.Data, &r); err != nil {
			break
		}
		status := "stopped"
		if r.Completed {
			status = "completed"
		}
		if r.Exercise != "" {
			return fmt.Sprintf("[FINISHED] %s %s, %d min", r.Exercise, status, r.Minutes)
		}
		return fmt.Sprintf("[FINISHED] %s session %s, %d min", r.Mode, status, r.Minutes)

	case "haptic":
		var h struct {
			Pattern string `json:"pattern"`
		}
		if err := json.Unmarshal(f.Data, &h); err != nil {
			break
		}
		return "[HAPTIC] " + h.Pattern

	case "notice":
		var n struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(f.Data, &n); err != nil {
			break
		}
		return "[NOTICE] " + n.Message
	}

	return fmt.Sprintf("[%s] %s", f.Type, f.Data)
}

func formatState(s stateData) string {
	session := "idle"
	if s.Active {
		session = fmt.Sprintf("%s %s", s.Mode, clock(s.ElapsedSeconds))
		if s.RemainingSeconds != nil {
			session += fmt.Sprintf(" (-%s)", clock(*s.RemainingSeconds))
		}
		if s.Paused {
			session += " paused"
		}
	}

	ambience := "none"
	if s.CurrentAmbience != nil {
		ambience = s.CurrentAmbience.Key
		if !s.Playing {
			ambience += " paused"
		}
	}

	return fmt.Sprintf("session=%s ambience=%s volume=%.2f week=%s:%dmin",
		session, ambience, s.Volume, s.WeekKey, s.WeeklyMinutes)
}

func clock(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
