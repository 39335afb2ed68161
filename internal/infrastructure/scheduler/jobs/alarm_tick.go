// Package jobs contains the scheduled evaluation jobs of the engine.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ALARM TICK JOB
// ══════════════════════════════════════════════════════════════════════════════

// AlarmStore is the part of the record store the alarm tick needs.
type AlarmStore interface {
	ListAlarms() []alarm.Alarm
	GetAlarm(id string) (alarm.Alarm, error)
	UpdateAlarm(id string, fn func(a *alarm.Alarm) error) (alarm.Alarm, error)
}

// Player starts and stops looped playback for a ringing alarm. Both are
// idempotent and report whether anything changed.
type Player interface {
	Start(a alarm.Alarm) bool
	Stop(alarmID string) bool
}

// SoundRefs resolves a sound name to the playable reference sent to clients.
type SoundRefs interface {
	Ref(name string) string
}

// AlarmTickJob scans alarms once per tick and rings those whose minute has
// come. Dispatch (store update, playback, event) runs on its own goroutine so
// the scan itself never waits on disk or audio.
type AlarmTickJob struct {
	store     AlarmStore
	player    Player
	sounds    SoundRefs
	publisher shared.Publisher
	logger    *slog.Logger
	loc       *time.Location

	// fired remembers the occurrence (date + time) each alarm last rang
	// for, so a tick that races the store update cannot ring twice.
	mu    sync.Mutex
	fired map[string]string

	dispatching sync.WaitGroup
	lastRun     atomic.Value // AlarmTickStats
}

// AlarmTickStats summarises one evaluation.
type AlarmTickStats struct {
	At      time.Time
	Scanned int
	Fired   int
}

// AlarmTickConfig holds the alarm tick dependencies.
type AlarmTickConfig struct {
	Store     AlarmStore
	Player    Player
	Sounds    SoundRefs
	Publisher shared.Publisher
	Logger    *slog.Logger
	Location  *time.Location
}

// NewAlarmTickJob creates the alarm evaluation job.
func NewAlarmTickJob(cfg AlarmTickConfig) *AlarmTickJob {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &AlarmTickJob{
		store:     cfg.Store,
		player:    cfg.Player,
		sounds:    cfg.Sounds,
		publisher: cfg.Publisher,
		logger:    cfg.Logger.With("job", "alarm_tick"),
		loc:       cfg.Location,
		fired:     make(map[string]string),
	}
}

// Name returns the job name.
func (j *AlarmTickJob) Name() string { return "alarm_tick" }

// Description returns the job description.
func (j *AlarmTickJob) Description() string {
	return "rings active alarms whose time matches the current minute"
}

// Run evaluates all alarms for now.
func (j *AlarmTickJob) Run(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.Evaluate(now)
	return nil
}

// Evaluate scans the store and dispatches every due alarm. It returns the
// number of alarms dispatched.
func (j *AlarmTickJob) Evaluate(now time.Time) int {
	now = now.In(j.loc)
	today := shared.DateKey(now)
	alarms := j.store.ListAlarms()

	fired := 0
	j.mu.Lock()
	for id, key := range j.fired {
		if !strings.HasPrefix(key, today) {
			delete(j.fired, id)
		}
	}
	for _, a := range alarms {
		if !a.IsDue(now) {
			continue
		}
		key := today + "T" + a.Time
		if j.fired[a.ID] == key {
			continue
		}
		j.fired[a.ID] = key
		fired++

		j.dispatching.Add(1)
		go j.dispatch(a, now)
	}
	j.mu.Unlock()

	j.lastRun.Store(AlarmTickStats{At: now, Scanned: len(alarms), Fired: fired})
	return fired
}

// Wait blocks until every dispatched alarm has been handed to playback and
// published.
func (j *AlarmTickJob) Wait() {
	j.dispatching.Wait()
}

// LastRun returns statistics of the most recent evaluation.
func (j *AlarmTickJob) LastRun() (AlarmTickStats, bool) {
	s, ok := j.lastRun.Load().(AlarmTickStats)
	return s, ok
}

func (j *AlarmTickJob) dispatch(snapshot alarm.Alarm, now time.Time) {
	defer j.dispatching.Done()

	durable := true
	ringing, err := j.store.UpdateAlarm(snapshot.ID, func(a *alarm.Alarm) error {
		if !a.IsDue(now) {
			return errNotDue
		}
		return a.MarkFired(now)
	})
	switch {
	case err == nil:
	case errors.Is(err, errNotDue), shared.IsNotFound(err), errors.Is(err, shared.ErrInvalidState):
		// Changed by a user request between scan and dispatch.
		j.logger.Debug("alarm no longer due", "alarm_id", snapshot.ID)
		return
	default:
		// The user still gets woken up; the ringing flag is simply not
		// durable.
		j.logger.Warn("failed to persist ringing state",
			"alarm_id", snapshot.ID,
			"error", err,
		)
		durable = false
		ringing = snapshot
		ringing.Ringing = true
		ringing.LastFired = shared.DateKey(now)
	}

	if j.player != nil {
		j.player.Start(ringing)
	}

	// A dismiss, deactivation or delete may have landed between the store
	// update and Start; its Stop found no voice then.
	if durable && j.withdrawn(ringing.ID, now) {
		return
	}

	ref := ""
	if j.sounds != nil {
		ref = j.sounds.Ref(ringing.Sound)
	}
	j.publish(shared.NewAlarmRingEvent(ringing.ID, ringing.Sound, ref, ringing.Label, now))

	if durable && j.withdrawn(ringing.ID, now) {
		return
	}

	j.logger.Info("alarm ringing",
		"alarm_id", ringing.ID,
		"time", ringing.Time,
		"label", ringing.Label,
		"sound", ringing.Sound,
		"one_shot", ringing.IsOneShot(),
	)
}

// withdrawn stops playback and tells subscribers the alarm is quiet when the
// store no longer has it ringing.
func (j *AlarmTickJob) withdrawn(id string, now time.Time) bool {
	current, err := j.store.GetAlarm(id)
	if err == nil && current.Ringing {
		return false
	}
	if err != nil && !shared.IsNotFound(err) {
		j.logger.Warn("failed to re-read alarm", "alarm_id", id, "error", err)
		return false
	}
	if j.player != nil {
		j.player.Stop(id)
	}
	j.publish(shared.NewAlarmDismissedEvent(id, now))
	j.logger.Info("alarm dismissed while starting", "alarm_id", id)
	return true
}

func (j *AlarmTickJob) publish(event shared.Event) {
	if j.publisher == nil {
		return
	}
	if err := j.publisher.Publish(event); err != nil {
		j.logger.Warn("failed to publish event", "event_type", event.Type, "alarm_id", event.AlarmID, "error", err)
	}
}

var errNotDue = errors.New("not due")
