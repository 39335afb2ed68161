package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/chronos-os/chronos/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// CreateTaskCommand contains the data to create a task.
type CreateTaskCommand struct {
	Title string
	Date  string
	Time  string
	Color string

	// Reminder is the lead time in minutes; nil means the default.
	Reminder *int
}

// UpdateTaskCommand contains optional task updates. nil values mean
// "don't change".
type UpdateTaskCommand struct {
	ID       string
	Title    *string
	Date     *string
	Time     *string
	Reminder *int
	Done     *bool
	Color    *string
}

// Validate validates the command.
func (c UpdateTaskCommand) Validate() error {
	if c.ID == "" {
		return shared.ErrTaskIDRequired
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// TaskHandler applies task mutations to the store.
type TaskHandler struct {
	store  task.Repository
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(store task.Repository, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		store:  store,
		logger: logger.With("component", "task_commands"),
	}
}

// List returns all tasks.
func (h *TaskHandler) List(ctx context.Context) []task.Task {
	return h.store.ListTasks()
}

// Create validates and stores a new task.
func (h *TaskHandler) Create(ctx context.Context, cmd CreateTaskCommand) (task.Task, error) {
	reminder := task.DefaultReminderMinutes
	if cmd.Reminder != nil {
		reminder = *cmd.Reminder
	}

	t, err := task.New(cmd.Title, cmd.Date, cmd.Time, reminder, cmd.Color)
	if err != nil {
		return task.Task{}, err
	}
	if err := h.store.UpsertTask(t); err != nil {
		return task.Task{}, fmt.Errorf("create task: %w", err)
	}

	h.logger.Info("task created", "task_id", t.ID, "due", t.OccurrenceKey())
	return t, nil
}

// Update applies the non-nil fields. Moving the task to another date or time
// re-arms the reminder; a new lead time alone does not.
func (h *TaskHandler) Update(ctx context.Context, cmd UpdateTaskCommand) (task.Task, error) {
	if err := cmd.Validate(); err != nil {
		return task.Task{}, err
	}

	updated, err := h.store.UpdateTask(cmd.ID, func(t *task.Task) error {
		before := t.OccurrenceKey()

		if cmd.Title != nil {
			t.Title = *cmd.Title
		}
		if cmd.Date != nil {
			t.Date = *cmd.Date
		}
		if cmd.Time != nil {
			t.Time = *cmd.Time
		}
		if cmd.Reminder != nil {
			t.Reminder = *cmd.Reminder
		}
		if cmd.Done != nil {
			t.Done = *cmd.Done
		}
		if cmd.Color != nil {
			t.Color = *cmd.Color
		}
		if err := t.Normalize(); err != nil {
			return err
		}

		if t.OccurrenceKey() != before {
			t.ReminderFiredFor = ""
		}
		return nil
	})
	if err != nil {
		return task.Task{}, err
	}

	h.logger.Info("task updated", "task_id", updated.ID, "done", updated.Done)
	return updated, nil
}

// Delete removes a task.
func (h *TaskHandler) Delete(ctx context.Context, id string) error {
	if err := h.store.RemoveTask(id); err != nil {
		return err
	}
	h.logger.Info("task deleted", "task_id", id)
	return nil
}
