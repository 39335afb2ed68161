// Package history defines the record of past engine events shared by every
// history backend.
package history

import (
	"context"
	"time"

	"github.com/chronos-os/chronos/internal/domain/shared"
)

const (
	// DefaultLimit is the page size used when none is given.
	DefaultLimit = 50

	// MaxLimit caps a single page.
	MaxLimit = 500
)

// Firing is one recorded engine event.
type Firing struct {
	ID         int64            `json:"id"`
	Kind       shared.EventType `json:"kind"`
	AlarmID    string           `json:"alarm_id,omitempty"`
	TaskID     string           `json:"task_id,omitempty"`
	Sound      string           `json:"sound,omitempty"`
	SoundRef   string           `json:"sound_ref,omitempty"`
	Label      string           `json:"label,omitempty"`
	Title      string           `json:"title,omitempty"`
	At         time.Time        `json:"at"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// Reader lists recorded firings, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Firing, error)
}

// ClampLimit maps a requested page size into 1..MaxLimit, with zero or
// negative meaning DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// EventTime is the moment to record for event, falling back to now when the
// event carries none.
func EventTime(event shared.Event, now time.Time) time.Time {
	if event.At.IsZero() {
		return now.UTC()
	}
	return event.At.UTC()
}
