// Package calendar renders alarms and tasks as an iCalendar feed so they can
// be subscribed to from ordinary calendar apps.
package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/chronos-os/chronos/internal/domain/task"
	"github.com/emersion/go-ical"
)

const productID = "-//chronos//alarm engine//EN"

// ContentType is the media type of the feed.
const ContentType = "text/calendar; charset=utf-8"

// Feed builds one VCALENDAR.
type Feed struct {
	// Now stamps every component and anchors the next alarm occurrence.
	Now time.Time
}

// Write encodes active alarms and open tasks to w. Alarms become weekly
// recurring events, or a single event at their next occurrence when they
// do not repeat. Tasks without a date are left out.
func (f Feed) Write(w io.Writer, alarms []alarm.Alarm, tasks []task.Task) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, a := range alarms {
		if ev, ok := f.alarmEvent(a); ok {
			cal.Children = append(cal.Children, ev.Component)
		}
	}
	for _, t := range tasks {
		if ev, ok := f.taskEvent(t); ok {
			cal.Children = append(cal.Children, ev.Component)
		}
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func (f Feed) alarmEvent(a alarm.Alarm) (*ical.Event, bool) {
	if !a.Active {
		return nil, false
	}
	ct, err := shared.ParseClockTime(a.Time)
	if err != nil {
		return nil, false
	}
	start, ok := f.nextOccurrence(a, ct)
	if !ok {
		return nil, false
	}

	ev := f.newEvent("alarm-" + a.ID)
	summary := a.Label
	if summary == "" {
		summary = "Alarm"
	}
	ev.Props.SetText(ical.PropSummary, summary)
	ev.Props.SetDateTime(ical.PropDateTimeStart, start)
	ev.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(time.Minute))
	if a.Sound != "" {
		ev.Props.SetText(ical.PropDescription, "Sound: "+a.Sound)
	}
	if !a.IsOneShot() {
		rule := ical.NewProp(ical.PropRecurrenceRule)
		rule.Value = "FREQ=WEEKLY;BYDAY=" + byDay(a.Repeat)
		ev.Props.Set(rule)
	}
	ev.Children = append(ev.Children, audioAlarm())
	return ev, true
}

// nextOccurrence scans up to a week ahead for the first scheduled day whose
// ring time is still ahead of Now.
func (f Feed) nextOccurrence(a alarm.Alarm, ct shared.ClockTime) (time.Time, bool) {
	day := f.Now
	for i := 0; i < 8; i++ {
		at := ct.On(day)
		if a.RepeatsOn(day.Weekday()) && !at.Before(f.Now) && !(a.IsOneShot() && a.FiredOn(day)) {
			return at, true
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

func (f Feed) taskEvent(t task.Task) (*ical.Event, bool) {
	if t.Done || t.Date == "" {
		return nil, false
	}
	ev := f.newEvent("task-" + t.ID)
	ev.Props.SetText(ical.PropSummary, t.Title)

	if due, ok := t.DueAt(f.Now.Location()); ok {
		ev.Props.SetDateTime(ical.PropDateTimeStart, due)
		ev.Props.SetDateTime(ical.PropDateTimeEnd, due.Add(30*time.Minute))
		ev.Children = append(ev.Children, displayAlarm(t.Title, t.Reminder))
		return ev, true
	}

	day, err := shared.ParseDate(t.Date, f.Now.Location())
	if err != nil {
		return nil, false
	}
	ev.Props.SetDate(ical.PropDateTimeStart, day)
	return ev, true
}

func (f Feed) newEvent(uid string) *ical.Event {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uid+"@chronos")
	ev.Props.SetDateTime(ical.PropDateTimeStamp, f.Now.UTC())
	return ev
}

func audioAlarm() *ical.Component {
	c := ical.NewComponent(ical.CompAlarm)
	c.Props.SetText(ical.PropAction, "AUDIO")
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = "PT0S"
	c.Props.Set(trigger)
	return c
}

func displayAlarm(title string, minutesBefore int) *ical.Component {
	c := ical.NewComponent(ical.CompAlarm)
	c.Props.SetText(ical.PropAction, "DISPLAY")
	c.Props.SetText(ical.PropDescription, title)
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", minutesBefore)
	c.Props.Set(trigger)
	return c
}

// byDay maps Mon..Sun to the RFC 5545 two-letter codes.
func byDay(days []string) string {
	codes := make([]string, 0, len(days))
	for _, d := range days {
		if len(d) >= 2 {
			codes = append(codes, strings.ToUpper(d[:2]))
		}
	}
	return strings.Join(codes, ",")
}
