package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SessionRecord is one finished session as written to the session log.
type SessionRecord struct {
	ID              string      `json:"id"`
	DurationMinutes int         `json:"duration_minutes"`
	ElapsedSeconds  int         `json:"elapsed_seconds"`
	Mode            SessionMode `json:"mode"`
	Completed       bool        `json:"completed"`
	ExerciseKey     string      `json:"exercise,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	EndedAt         time.Time   `json:"ended_at"`
}

// SessionRecorder receives finished sessions. Failures are logged by the
// caller and never affect engine state.
type SessionRecorder interface {
	RecordSession(ctx context.Context, rec SessionRecord) error
}

// SessionHistory lists recorded sessions, newest first.
type SessionHistory interface {
	RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error)
}

// SQLiteSessionLog stores finished sessions in a local sqlite database.
// Timestamps are unix nanoseconds so ordering is numeric.
type SQLiteSessionLog struct {
	db *sql.DB
}

func OpenSQLiteSessionLog(dbPath string) (*SQLiteSessionLog, error) {
	dbPath = ExpandPath(dbPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; record goroutines queue on the pool instead of racing for the lock.
	db.SetMaxOpenConns(1)

	l := &SQLiteSessionLog{db: db}
	if err := l.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteSessionLog) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  duration_minutes INTEGER NOT NULL,
  elapsed_seconds INTEGER NOT NULL,
  mode TEXT NOT NULL,
  completed INTEGER NOT NULL,
  exercise TEXT,
  started_at INTEGER NOT NULL,
  ended_at INTEGER NOT NULL
);
`
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS sessions_ended_at ON sessions (ended_at)`); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	return nil
}

// RecordSession inserts rec, assigning an id if it has none.
func (l *SQLiteSessionLog) RecordSession(ctx context.Context, rec SessionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	const stmt = `
INSERT INTO sessions (id, duration_minutes, elapsed_seconds, mode, completed, exercise, started_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`
	completed := 0
	if rec.Completed {
		completed = 1
	}
	_, err := l.db.ExecContext(ctx, stmt,
		rec.ID,
		rec.DurationMinutes,
		rec.ElapsedSeconds,
		string(rec.Mode),
		completed,
		rec.ExerciseKey,
		rec.StartedAt.UnixNano(),
		rec.EndedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (l *SQLiteSessionLog) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, duration_minutes, elapsed_seconds, mode, completed, exercise, started_at, ended_at
FROM sessions
ORDER BY ended_at DESC, started_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			rec       SessionRecord
			mode      string
			completed int
			exercise  sql.NullString
			started   int64
			ended     int64
		)
		if err := rows.Scan(&rec.ID, &rec.DurationMinutes, &rec.ElapsedSeconds, &mode, &completed, &exercise, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.Mode = SessionMode(mode)
		rec.Completed = completed != 0
		rec.ExerciseKey = exercise.String
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.EndedAt = time.Unix(0, ended).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (l *SQLiteSessionLog) Close() error {
	return l.db.Close()
}

// logRecorder is used when no session database is configured.
type logRecorder struct {
	logger *slog.Logger
}

func (r logRecorder) RecordSession(_ context.Context, rec SessionRecord) error {
	r.logger.Info("session finished",
		"minutes", rec.DurationMinutes,
		"mode", rec.Mode,
		"completed", rec.Completed,
		"exercise", rec.ExerciseKey)
	return nil
}
