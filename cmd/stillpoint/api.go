package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// ============================================================================
// HTTP API
// ============================================================================
//   GET  /api/state            current StateSnapshot
//   POST /api/events           submit one event envelope, same format as IPC
//   GET  /api/sessions?limit=n recent finished sessions, newest first
//   GET  /api/catalog          ambience catalog
//   GET  /api/exercises        exercise library
//   GET  /ws/state             state websocket
// ============================================================================

const (
	apiReplyTimeout = 2 * time.Second
	maxEventBody    = 64 << 10
	maxHistoryLimit = 500
)

type APIServer struct {
	events   chan<- Event
	catalogs *catalogHolder
	history  SessionHistory
	logger   *slog.Logger
}

func NewAPIServer(events chan<- Event, catalogs *catalogHolder, history SessionHistory, logger *slog.Logger) *APIServer {
	return &APIServer{
		events:   events,
		catalogs: catalogs,
		history:  history,
		logger:   logger,
	}
}

// Router builds the mux with the API routes and, if ws is non-nil, the
// state websocket.
func (a *APIServer) Router(ws *StateServer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/state", a.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/events", a.handleEvent).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions", a.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/catalog", a.handleCatalog).Methods(http.MethodGet)
	r.HandleFunc("/api/exercises", a.handleExercises).Methods(http.MethodGet)
	if ws != nil {
		ws.Register(r, "/ws/state")
	}
	return r
}

func (a *APIServer) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := requestSnapshot(r.Context(), a.events, apiReplyTimeout)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, snap)
}

func (a *APIServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: read body: %v", ErrInvalidArgument, err))
		return
	}
	ev, err := UnmarshalEvent(body)
	if err != nil {
		a.writeError(w, fmt.Errorf("%w: %v", ErrInvalidArgument, err))
		return
	}
	if err := submitEvent(r.Context(), a.events, ev, apiReplyTimeout); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, IPCResponse{Status: "ok"})
}

func (a *APIServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		a.writeJSON(w, http.StatusOK, []SessionRecord{})
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			a.writeError(w, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidArgument))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	recs, err := a.history.RecentSessions(ctx, limit)
	if err != nil {
		a.logger.Error("list sessions failed", "error", err)
		a.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []SessionRecord{}
	}
	a.writeJSON(w, http.StatusOK, recs)
}

func (a *APIServer) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	entries := a.catalogs.Load().Ambience.Entries()
	if entries == nil {
		entries = []Ambience{}
	}
	a.writeJSON(w, http.StatusOK, entries)
}

func (a *APIServer) handleExercises(w http.ResponseWriter, _ *http.Request) {
	defs := a.catalogs.Load().Exercises.Definitions()
	if defs == nil {
		defs = []ExerciseDefinition{}
	}
	a.writeJSON(w, http.StatusOK, defs)
}

func (a *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("write response failed", "error", err)
	}
}

func (a *APIServer) writeError(w http.ResponseWriter, err error) {
	a.writeJSON(w, httpStatusFor(err), IPCResponse{Status: "error", Error: err.Error()})
}

// httpStatusFor maps engine rejections onto HTTP status codes.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionActive),
		errors.Is(err, ErrNoActiveSession),
		errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownAmbience), errors.Is(err, ErrUnknownExercise):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, errEventQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// runHTTPServer serves handler on listen and shuts it down gracefully when
// ctx is canceled.
func runHTTPServer(ctx context.Context, listen string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
