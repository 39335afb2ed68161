// Package sqlite stores the firing history in a local SQLite file, for
// single-machine installs that do not run PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/chronos-os/chronos/internal/domain/history"
	"github.com/chronos-os/chronos/internal/domain/shared"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS firings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT    NOT NULL,
	alarm_id    TEXT,
	task_id     TEXT,
	sound       TEXT,
	sound_ref   TEXT,
	label       TEXT,
	title       TEXT,
	at_ms       INTEGER NOT NULL,
	recorded_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_firings_at ON firings(at_ms DESC);
`

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// HistoryStore records engine events in a SQLite database.
type HistoryStore struct {
	db      *sql.DB
	now     func() time.Time
	timeout time.Duration
	logger  *slog.Logger
}

// Open opens or creates the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(path string, logger *slog.Logger) (*HistoryStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; an in-memory database also lives only as long as its
	// single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &HistoryStore{
		db:      db,
		now:     time.Now,
		timeout: 5 * time.Second,
		logger:  logger.With("component", "history", "backend", "sqlite"),
	}, nil
}

// Record inserts one event.
func (s *HistoryStore) Record(ctx context.Context, event shared.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO firings (kind, alarm_id, task_id, sound, sound_ref, label, title, at_ms, recorded_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(event.Type),
		nullable(event.AlarmID),
		nullable(event.TaskID),
		nullable(event.Sound),
		nullable(event.SoundRef),
		nullable(event.Label),
		nullable(event.Title),
		toMillis(history.EventTime(event, s.now())),
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", event.Type, err)
	}
	return nil
}

// Recent returns the newest firings first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]history.Firing, error) {
	limit = history.ClampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, alarm_id, task_id, sound, sound_ref, label, title, at_ms, recorded_ms
		FROM firings
		ORDER BY at_ms DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query firings: %w", err)
	}
	defer rows.Close()

	var firings []history.Firing
	for rows.Next() {
		var (
			f                                              history.Firing
			kind                                           string
			alarmID, taskID, sound, soundRef, label, title sql.NullString
			atMs, recordedMs                               int64
		)
		if err := rows.Scan(&f.ID, &kind, &alarmID, &taskID, &sound, &soundRef, &label, &title, &atMs, &recordedMs); err != nil {
			return nil, fmt.Errorf("failed to scan firing: %w", err)
		}
		f.Kind = shared.EventType(kind)
		f.AlarmID = alarmID.String
		f.TaskID = taskID.String
		f.Sound = sound.String
		f.SoundRef = soundRef.String
		f.Label = label.String
		f.Title = title.String
		f.At = fromMillis(atMs)
		f.RecordedAt = fromMillis(recordedMs)
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate firings: %w", err)
	}
	return firings, nil
}

// HandleEvent is an event bus handler that records every event.
func (s *HistoryStore) HandleEvent(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.Record(ctx, event); err != nil {
		return err
	}
	s.logger.Debug("firing recorded", "event_type", event.Type, "aggregate_id", event.AggregateID())
	return nil
}

// Ping checks the database handle.
func (s *HistoryStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
