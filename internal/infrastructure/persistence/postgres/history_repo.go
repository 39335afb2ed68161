package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronos-os/chronos/internal/domain/history"
	"github.com/chronos-os/chronos/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIRING HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// HistoryRepository stores firings in the firings table.
type HistoryRepository struct {
	db      Querier
	timeout time.Duration
	logger  *slog.Logger
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db Querier, logger *slog.Logger) *HistoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryRepository{
		db:      db,
		timeout: 5 * time.Second,
		logger:  logger.With("component", "history"),
	}
}

// Record inserts one event.
func (r *HistoryRepository) Record(ctx context.Context, event shared.Event) error {
	query := `
		INSERT INTO firings (kind, alarm_id, task_id, sound, sound_ref, label, title, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		string(event.Type),
		nullable(event.AlarmID),
		nullable(event.TaskID),
		nullable(event.Sound),
		nullable(event.SoundRef),
		nullable(event.Label),
		nullable(event.Title),
		history.EventTime(event, time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", event.Type, err)
	}
	return nil
}

// Recent returns the newest firings first.
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]history.Firing, error) {
	limit = history.ClampLimit(limit)

	query := `
		SELECT id, kind, alarm_id, task_id, sound, sound_ref, label, title, at, recorded_at
		FROM firings
		ORDER BY at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query firings: %w", err)
	}
	defer rows.Close()

	firings := make([]history.Firing, 0, limit)
	for rows.Next() {
		var (
			f                                              history.Firing
			kind                                           string
			alarmID, taskID, sound, soundRef, label, title *string
		)
		if err := rows.Scan(&f.ID, &kind, &alarmID, &taskID, &sound, &soundRef, &label, &title, &f.At, &f.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan firing: %w", err)
		}
		f.Kind = shared.EventType(kind)
		f.AlarmID = deref(alarmID)
		f.TaskID = deref(taskID)
		f.Sound = deref(sound)
		f.SoundRef = deref(soundRef)
		f.Label = deref(label)
		f.Title = deref(title)
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate firings: %w", err)
	}
	return firings, nil
}

// HandleEvent is an event bus handler that records every event.
func (r *HistoryRepository) HandleEvent(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.Record(ctx, event); err != nil {
		return err
	}
	r.logger.Debug("firing recorded", "event_type", event.Type, "aggregate_id", event.AggregateID())
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
