package realtime

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chronos-os/chronos/pkg/timeutil"
)

// DefaultReminderTTL is how long a reminder stays visible.
const DefaultReminderTTL = 60 * time.Second

// Ring describes a ringing alarm as the client knows it.
type Ring struct {
	AlarmID  string
	Sound    string
	SoundRef string
	Label    string
}

// Reminder is a visible task reminder.
type Reminder struct {
	TaskID string
	Title  string
	Shown  time.Time
}

// AlarmSnapshot is the part of a fetched alarm the reconciler needs.
type AlarmSnapshot struct {
	ID      string
	Ringing bool
	Sound   string
	Label   string
}

// Effects are the local side effects of state changes. Calls are made
// outside the reconciler lock, once per transition.
type Effects interface {
	StartRinging(r Ring)
	StopRinging(alarmID string)
	ShowReminder(r Reminder)
	HideReminder(taskID string)
}

// NopEffects ignores every effect.
type NopEffects struct{}

func (NopEffects) StartRinging(Ring)     {}
func (NopEffects) StopRinging(string)    {}
func (NopEffects) ShowReminder(Reminder) {}
func (NopEffects) HideReminder(string)   {}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	Effects     Effects
	Clock       timeutil.Clock
	ReminderTTL time.Duration
	Logger      *slog.Logger
}

// Reconciler merges pushed events into the client's ringing and reminder
// sets. Every operation is an idempotent set update, so replayed events
// never produce a second effect.
type Reconciler struct {
	effects Effects
	clock   timeutil.Clock
	ttl     time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	ringing   map[string]Ring
	reminders map[string]*reminderEntry
}

type reminderEntry struct {
	reminder Reminder
	timer    timeutil.Timer
}

// NewReconciler creates an empty reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Effects == nil {
		cfg.Effects = NopEffects{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.System(nil)
	}
	if cfg.ReminderTTL <= 0 {
		cfg.ReminderTTL = DefaultReminderTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{
		effects:   cfg.Effects,
		clock:     cfg.Clock,
		ttl:       cfg.ReminderTTL,
		logger:    cfg.Logger.With("component", "reconciler"),
		ringing:   make(map[string]Ring),
		reminders: make(map[string]*reminderEntry),
	}
}

// Apply merges one event and reports whether local state changed.
func (r *Reconciler) Apply(ev Event) bool {
	switch ev.Event {
	case EventAlarmRing:
		if ev.AlarmID == "" {
			return false
		}
		return r.startRinging(Ring{AlarmID: ev.AlarmID, Sound: ev.Sound, SoundRef: ev.SoundRef, Label: ev.Label})
	case EventAlarmDismissed:
		return r.stopRinging(ev.AlarmID)
	case EventTaskReminder:
		if ev.TaskID == "" {
			return false
		}
		return r.addReminder(ev.TaskID, ev.Title)
	default:
		r.logger.Debug("ignoring event", "event", ev.Event)
		return false
	}
}

// Dismiss removes the alarm locally and stops its playback at once, ahead
// of the server's acknowledgement. It reports whether the alarm was ringing.
func (r *Reconciler) Dismiss(alarmID string) bool {
	return r.stopRinging(alarmID)
}

// Resync replaces the ringing set with the one in a fresh alarm snapshot.
// Alarms ringing both before and after keep playing undisturbed.
func (r *Reconciler) Resync(alarms []AlarmSnapshot) {
	want := make(map[string]Ring)
	for _, a := range alarms {
		if a.Ringing {
			want[a.ID] = Ring{AlarmID: a.ID, Sound: a.Sound, Label: a.Label}
		}
	}

	r.mu.Lock()
	var stopped []string
	var started []Ring
	for id := range r.ringing {
		if _, ok := want[id]; !ok {
			delete(r.ringing, id)
			stopped = append(stopped, id)
		}
	}
	for id, ring := range want {
		if _, ok := r.ringing[id]; !ok {
			r.ringing[id] = ring
			started = append(started, ring)
		}
	}
	r.mu.Unlock()

	sort.Strings(stopped)
	sort.Slice(started, func(i, j int) bool { return started[i].AlarmID < started[j].AlarmID })
	for _, id := range stopped {
		r.effects.StopRinging(id)
	}
	for _, ring := range started {
		r.effects.StartRinging(ring)
	}
	if len(stopped) > 0 || len(started) > 0 {
		r.logger.Info("resynced ringing alarms", "stopped", len(stopped), "started", len(started))
	}
}

// Ringing returns the ringing alarm ids in sorted order.
func (r *Reconciler) Ringing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.ringing))
	for id := range r.ringing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsRinging reports whether the alarm is in the ringing set.
func (r *Reconciler) IsRinging(alarmID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ringing[alarmID]
	return ok
}

// Reminders returns the visible reminders ordered by task id.
func (r *Reconciler) Reminders() []Reminder {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Reminder, 0, len(r.reminders))
	for _, e := range r.reminders {
		out = append(out, e.reminder)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Close cancels reminder timers and stops every ringing alarm.
func (r *Reconciler) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.ringing))
	for id := range r.ringing {
		ids = append(ids, id)
	}
	r.ringing = make(map[string]Ring)
	for _, e := range r.reminders {
		e.timer.Stop()
	}
	r.reminders = make(map[string]*reminderEntry)
	r.mu.Unlock()

	for _, id := range ids {
		r.effects.StopRinging(id)
	}
}

func (r *Reconciler) startRinging(ring Ring) bool {
	r.mu.Lock()
	if _, ok := r.ringing[ring.AlarmID]; ok {
		r.mu.Unlock()
		return false
	}
	r.ringing[ring.AlarmID] = ring
	r.mu.Unlock()

	r.effects.StartRinging(ring)
	return true
}

func (r *Reconciler) stopRinging(alarmID string) bool {
	r.mu.Lock()
	if _, ok := r.ringing[alarmID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.ringing, alarmID)
	r.mu.Unlock()

	r.effects.StopRinging(alarmID)
	return true
}

func (r *Reconciler) addReminder(taskID, title string) bool {
	r.mu.Lock()
	if _, ok := r.reminders[taskID]; ok {
		r.mu.Unlock()
		return false
	}
	e := &reminderEntry{reminder: Reminder{TaskID: taskID, Title: title, Shown: r.clock.Now()}}
	r.reminders[taskID] = e
	e.timer = r.clock.AfterFunc(r.ttl, func() { r.evict(taskID, e) })
	r.mu.Unlock()

	r.effects.ShowReminder(e.reminder)
	return true
}

// evict drops the reminder only if it is still the entry that armed the
// timer.
func (r *Reconciler) evict(taskID string, e *reminderEntry) {
	r.mu.Lock()
	if cur, ok := r.reminders[taskID]; !ok || cur != e {
		r.mu.Unlock()
		return
	}
	delete(r.reminders, taskID)
	r.mu.Unlock()

	r.effects.HideReminder(taskID)
}
