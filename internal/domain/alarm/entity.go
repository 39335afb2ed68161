// Package alarm contains the alarm domain model: a wall-clock time that rings
// once or on selected weekdays until the user dismisses it.
package alarm

import (
	"slices"
	"strings"
	"time"

	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/google/uuid"
)

// DefaultSound is the built-in sound used when none is given.
const DefaultSound = "Classic Beep"

// Alarm is a persisted alarm record.
type Alarm struct {
	ID     string   `json:"id"`
	Time   string   `json:"time"` // HH:MM, local wall clock
	Label  string   `json:"label"`
	Sound  string   `json:"sound"`
	Repeat []string `json:"repeat"` // Mon..Sun; empty means ring once
	Active bool     `json:"active"`

	// Ringing is true while the playback controller is producing audio.
	Ringing bool `json:"ringing"`

	// LastFired is the local calendar date (YYYY-MM-DD) of the last firing.
	LastFired string `json:"last_fired,omitempty"`
}

// New creates an active alarm with a fresh id. The input is normalized and
// validated.
func New(clock, label, sound string, repeat []string) (Alarm, error) {
	a := Alarm{
		ID:     uuid.New().String(),
		Time:   clock,
		Label:  label,
		Sound:  sound,
		Repeat: repeat,
		Active: true,
	}
	if err := a.Normalize(); err != nil {
		return Alarm{}, err
	}
	return a, nil
}

// Normalize validates the alarm and rewrites time and weekdays into their
// canonical form.
func (a *Alarm) Normalize() error {
	if a.ID == "" {
		return shared.ErrAlarmIDRequired
	}
	ct, err := shared.ParseClockTime(a.Time)
	if err != nil {
		return shared.ErrInvalidAlarmTime
	}
	a.Time = ct.String()

	days, err := NormalizeRepeat(a.Repeat)
	if err != nil {
		return err
	}
	a.Repeat = days

	if strings.TrimSpace(a.Sound) == "" {
		a.Sound = DefaultSound
	}
	if !a.Active {
		a.Ringing = false
	}
	return nil
}

// NormalizeRepeat parses, deduplicates and orders weekday names Mon..Sun.
func NormalizeRepeat(days []string) ([]string, error) {
	seen := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		wd, err := shared.ParseWeekday(d)
		if err != nil {
			return nil, shared.ErrInvalidWeekday
		}
		seen[wd] = true
	}
	out := make([]string, 0, len(seen))
	for _, wd := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday} {
		if seen[wd] {
			out = append(out, shared.WeekdayName(wd))
		}
	}
	return out, nil
}

// IsOneShot reports whether the alarm rings only once.
func (a Alarm) IsOneShot() bool {
	return len(a.Repeat) == 0
}

// RepeatsOn reports whether the alarm is scheduled for weekday d. One-shot
// alarms are scheduled for every day until they fire.
func (a Alarm) RepeatsOn(d time.Weekday) bool {
	if a.IsOneShot() {
		return true
	}
	return slices.Contains(a.Repeat, shared.WeekdayName(d))
}

// FiredOn reports whether the alarm already fired on the calendar day of now.
func (a Alarm) FiredOn(now time.Time) bool {
	return a.LastFired != "" && a.LastFired == shared.DateKey(now)
}

// IsDue reports whether the alarm should start ringing at now.
//
// The tolerance window is the whole minute [time, time+1m): a tick that is
// late by less than a minute still fires, a later one is a missed occurrence.
// Repeating alarms fire at most once per calendar day; one-shot alarms fire
// at most once until re-activated.
func (a Alarm) IsDue(now time.Time) bool {
	if !a.Active || a.Ringing {
		return false
	}
	ct, err := shared.ParseClockTime(a.Time)
	if err != nil {
		return false
	}
	if shared.ClockTimeOf(now) != ct {
		return false
	}
	if !a.RepeatsOn(now.Weekday()) {
		return false
	}
	if a.IsOneShot() {
		return a.LastFired == ""
	}
	return !a.FiredOn(now)
}

// MarkFired flips the alarm into the ringing state for the day of now.
func (a *Alarm) MarkFired(now time.Time) error {
	if !a.Active || a.Ringing {
		return shared.ErrAlarmNotRingeable
	}
	a.Ringing = true
	a.LastFired = shared.DateKey(now)
	return nil
}

// Dismiss clears ringing. A one-shot alarm that has fired is deactivated.
func (a *Alarm) Dismiss() {
	a.Ringing = false
	if a.IsOneShot() && a.LastFired != "" {
		a.Active = false
	}
}

// SetActive toggles the alarm. Deactivating stops ringing; re-activating a
// one-shot alarm re-arms it.
func (a *Alarm) SetActive(active bool) {
	if active && !a.Active && a.IsOneShot() {
		a.LastFired = ""
	}
	a.Active = active
	if !active {
		a.Ringing = false
	}
}

// Clone returns a deep copy.
func (a Alarm) Clone() Alarm {
	a.Repeat = slices.Clone(a.Repeat)
	return a
}
