package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/chronos-os/chronos/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// REMINDER TICK JOB
// ══════════════════════════════════════════════════════════════════════════════

// TaskStore is the part of the record store the reminder monitor needs.
type TaskStore interface {
	ListTasks() []task.Task
	UpdateTask(id string, fn func(t *task.Task) error) (task.Task, error)
}

// ReminderTickJob emits one task_reminder per task occurrence when the tick
// falls inside [due-reminder, due-reminder+window). It never touches done.
type ReminderTickJob struct {
	store     TaskStore
	publisher shared.Publisher
	logger    *slog.Logger
	loc       *time.Location
	window    time.Duration

	// reminded holds occurrence keys whose reminder is being dispatched or
	// could not be persisted. Once the store records the key the entry is
	// dropped, so the store alone decides re-arming.
	mu       sync.Mutex
	reminded map[string]string // task id -> occurrence key

	dispatching sync.WaitGroup
	lastRun     atomic.Value // ReminderTickStats
}

// ReminderTickStats summarises one evaluation.
type ReminderTickStats struct {
	At       time.Time
	Scanned  int
	Reminded int
}

// ReminderTickConfig holds the reminder tick dependencies.
type ReminderTickConfig struct {
	Store     TaskStore
	Publisher shared.Publisher
	Logger    *slog.Logger
	Location  *time.Location

	// Window is the evaluation window, normally the task tick interval.
	Window time.Duration
}

// NewReminderTickJob creates the reminder monitor.
func NewReminderTickJob(cfg ReminderTickConfig) *ReminderTickJob {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	return &ReminderTickJob{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    cfg.Logger.With("job", "reminder_tick"),
		loc:       cfg.Location,
		window:    cfg.Window,
		reminded:  make(map[string]string),
	}
}

// Name returns the job name.
func (j *ReminderTickJob) Name() string { return "reminder_tick" }

// Description returns the job description.
func (j *ReminderTickJob) Description() string {
	return "sends task reminders when their lead time is reached"
}

// Run evaluates all tasks for now.
func (j *ReminderTickJob) Run(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.Evaluate(now)
	return nil
}

// Evaluate scans the store and dispatches due reminders. It returns the number
// dispatched.
func (j *ReminderTickJob) Evaluate(now time.Time) int {
	now = now.In(j.loc)
	today := shared.DateKey(now)
	tasks := j.store.ListTasks()

	live := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		live[t.ID] = true
	}

	count := 0
	j.mu.Lock()
	for id, key := range j.reminded {
		if !live[id] || key < today {
			delete(j.reminded, id)
		}
	}
	for _, t := range tasks {
		if !t.ReminderDue(now, j.window) {
			continue
		}
		key := t.OccurrenceKey()
		if j.reminded[t.ID] == key {
			continue
		}
		j.reminded[t.ID] = key
		count++

		j.dispatching.Add(1)
		go j.dispatch(t, key, now)
	}
	j.mu.Unlock()

	j.lastRun.Store(ReminderTickStats{At: now, Scanned: len(tasks), Reminded: count})
	return count
}

// Wait blocks until every dispatched reminder has been published.
func (j *ReminderTickJob) Wait() {
	j.dispatching.Wait()
}

// LastRun returns statistics of the most recent evaluation.
func (j *ReminderTickJob) LastRun() (ReminderTickStats, bool) {
	s, ok := j.lastRun.Load().(ReminderTickStats)
	return s, ok
}

func (j *ReminderTickJob) dispatch(snapshot task.Task, key string, now time.Time) {
	defer j.dispatching.Done()

	t, err := j.store.UpdateTask(snapshot.ID, func(t *task.Task) error {
		return t.MarkReminded(key)
	})
	switch {
	case err == nil:
		j.forget(snapshot.ID, key)
	case errors.Is(err, shared.ErrReminderNotDue), shared.IsNotFound(err):
		j.forget(snapshot.ID, key)
		j.logger.Debug("reminder no longer due", "task_id", snapshot.ID)
		return
	default:
		j.logger.Warn("failed to persist reminder state",
			"task_id", snapshot.ID,
			"error", err,
		)
		t = snapshot
	}

	if j.publisher != nil {
		if err := j.publisher.Publish(shared.NewTaskReminderEvent(t.ID, t.Title, now)); err != nil {
			j.logger.Warn("failed to publish task_reminder", "task_id", t.ID, "error", err)
		}
	}

	j.logger.Info("task reminder sent",
		"task_id", t.ID,
		"title", t.Title,
		"occurrence", key,
		"lead_minutes", t.Reminder,
	)
}

func (j *ReminderTickJob) forget(id, key string) {
	j.mu.Lock()
	if j.reminded[id] == key {
		delete(j.reminded, id)
	}
	j.mu.Unlock()
}
