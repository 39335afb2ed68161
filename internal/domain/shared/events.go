package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of an engine event.
type EventType string

// Event types pushed to realtime subscribers. The string values are part of
// the wire protocol.
const (
	EventAlarmRing      EventType = "alarm_ring"
	EventAlarmDismissed EventType = "alarm_dismissed"
	EventTaskReminder   EventType = "task_reminder"
)

// Event is the payload emitted by the scheduler and the command layer and
// fanned out to every subscriber. Unused fields are omitted on the wire.
type Event struct {
	Type     EventType `json:"event"`
	AlarmID  string    `json:"alarm_id,omitempty"`
	Sound    string    `json:"sound,omitempty"`
	SoundRef string    `json:"sound_ref,omitempty"`
	Label    string    `json:"label,omitempty"`
	TaskID   string    `json:"task_id,omitempty"`
	Title    string    `json:"title,omitempty"`
	At       time.Time `json:"at"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// Publisher accepts events for asynchronous fan-out.
type Publisher interface {
	Publish(event Event) error
}

// AggregateID returns the id of the alarm or task the event is about.
func (e Event) AggregateID() string {
	if e.AlarmID != "" {
		return e.AlarmID
	}
	return e.TaskID
}

// Encode returns the JSON wire representation of the event.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// NewAlarmRingEvent builds the event emitted when an alarm starts ringing.
// soundRef is the resolved playable reference so receivers never guess a
// file extension.
func NewAlarmRingEvent(alarmID, sound, soundRef, label string, at time.Time) Event {
	return Event{
		Type:     EventAlarmRing,
		AlarmID:  alarmID,
		Sound:    sound,
		SoundRef: soundRef,
		Label:    label,
		At:       at,
	}
}

// NewAlarmDismissedEvent builds the event emitted after a dismiss.
func NewAlarmDismissedEvent(alarmID string, at time.Time) Event {
	return Event{Type: EventAlarmDismissed, AlarmID: alarmID, At: at}
}

// NewTaskReminderEvent builds the event emitted when a task reminder fires.
func NewTaskReminderEvent(taskID, title string, at time.Time) Event {
	return Event{Type: EventTaskReminder, TaskID: taskID, Title: title, At: at}
}
