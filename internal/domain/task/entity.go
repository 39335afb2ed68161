// Package task contains the task domain model: a dated to-do item with a
// reminder that fires a fixed number of minutes before it is due.
package task

import (
	"strings"
	"time"

	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/google/uuid"
)

const (
	// DefaultReminderMinutes is the lead time used when none is given.
	DefaultReminderMinutes = 10

	// DefaultColor is the UI color used when none is given.
	DefaultColor = "#6366f1"
)

// Task is a persisted task record.
type Task struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Date     string `json:"date"`     // YYYY-MM-DD, optional
	Time     string `json:"time"`     // HH:MM, optional
	Reminder int    `json:"reminder"` // minutes before the due moment
	Done     bool   `json:"done"`
	Color    string `json:"color"`

	// ReminderFiredFor is the occurrence key whose reminder already fired.
	ReminderFiredFor string `json:"reminder_fired_for,omitempty"`
}

// New creates a task with a fresh id.
func New(title, date, clock string, reminder int, color string) (Task, error) {
	t := Task{
		ID:       uuid.New().String(),
		Title:    title,
		Date:     date,
		Time:     clock,
		Reminder: reminder,
		Color:    color,
	}
	if err := t.Normalize(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Normalize validates the task and canonicalizes its date and time.
func (t *Task) Normalize() error {
	if t.ID == "" {
		return shared.ErrTaskIDRequired
	}
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return shared.ErrTaskTitleRequired
	}
	if t.Date != "" {
		d, err := shared.ParseDate(t.Date, time.UTC)
		if err != nil {
			return shared.ErrInvalidTaskDate
		}
		t.Date = shared.DateKey(d)
	}
	if t.Time != "" {
		ct, err := shared.ParseClockTime(t.Time)
		if err != nil {
			return shared.ErrInvalidTaskTime
		}
		t.Time = ct.String()
	}
	if t.Reminder < 0 {
		return shared.ErrNegativeReminder
	}
	if t.Color == "" {
		t.Color = DefaultColor
	}
	return nil
}

// OccurrenceKey identifies the due occurrence the reminder belongs to. It is
// empty when the task has no complete due moment.
func (t Task) OccurrenceKey() string {
	if t.Date == "" || t.Time == "" {
		return ""
	}
	return t.Date + "T" + t.Time
}

// DueAt returns the due moment in loc. ok is false when date or time is
// missing or malformed.
func (t Task) DueAt(loc *time.Location) (due time.Time, ok bool) {
	if t.OccurrenceKey() == "" {
		return time.Time{}, false
	}
	day, err := shared.ParseDate(t.Date, loc)
	if err != nil {
		return time.Time{}, false
	}
	ct, err := shared.ParseClockTime(t.Time)
	if err != nil {
		return time.Time{}, false
	}
	return ct.On(day), true
}

// ReminderAt returns the instant the reminder should fire.
func (t Task) ReminderAt(loc *time.Location) (time.Time, bool) {
	due, ok := t.DueAt(loc)
	if !ok {
		return time.Time{}, false
	}
	return due.Add(-time.Duration(t.Reminder) * time.Minute), true
}

// ReminderDue reports whether the reminder should fire at now, given the
// evaluation window (the task tick interval). The window is half-open:
// [reminderAt, reminderAt+window).
func (t Task) ReminderDue(now time.Time, window time.Duration) bool {
	if t.Done {
		return false
	}
	key := t.OccurrenceKey()
	if key == "" || t.ReminderFiredFor == key {
		return false
	}
	at, ok := t.ReminderAt(now.Location())
	if !ok {
		return false
	}
	return !now.Before(at) && now.Before(at.Add(window))
}

// MarkReminded records that the reminder for occurrence key fired. It fails
// when the task moved to another occurrence, was completed, or was already
// reminded.
func (t *Task) MarkReminded(key string) error {
	if t.Done || key == "" || t.OccurrenceKey() != key || t.ReminderFiredFor == key {
		return shared.ErrReminderNotDue
	}
	t.ReminderFiredFor = key
	return nil
}
