// Package command contains the write operations of the engine: the alarm,
// task and sound mutations requested by clients.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/chronos-os/chronos/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Playback is the part of the playback controller the alarm commands drive.
type Playback interface {
	// Stop ends playback and clears the persisted ringing flag.
	Stop(alarmID string) bool

	// Preview plays the sound once without touching alarm state.
	Preview(ctx context.Context, sound string) error
}

// DefaultPreviewTimeout bounds a single test playback.
const DefaultPreviewTimeout = 30 * time.Second

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// CreateAlarmCommand contains the data to create an alarm.
type CreateAlarmCommand struct {
	Time   string
	Label  string
	Sound  string
	Repeat []string

	// Active defaults to true when nil.
	Active *bool
}

// UpdateAlarmCommand contains optional alarm updates. nil values mean
// "don't change".
type UpdateAlarmCommand struct {
	ID     string
	Time   *string
	Label  *string
	Sound  *string
	Repeat *[]string
	Active *bool
}

// Validate validates the command.
func (c UpdateAlarmCommand) Validate() error {
	if c.ID == "" {
		return shared.ErrAlarmIDRequired
	}
	return nil
}

// TestAlarmResult is returned when a preview was started.
type TestAlarmResult struct {
	Status string `json:"status"`
	Sound  string `json:"sound"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AlarmHandler applies alarm mutations to the store and keeps playback and
// subscribers consistent with them.
type AlarmHandler struct {
	store          alarm.Repository
	playback       Playback
	publisher      shared.Publisher
	clock          timeutil.Clock
	logger         *slog.Logger
	previewTimeout time.Duration

	previews sync.WaitGroup
}

// AlarmHandlerConfig holds AlarmHandler dependencies.
type AlarmHandlerConfig struct {
	Store          alarm.Repository
	Playback       Playback
	Publisher      shared.Publisher
	Clock          timeutil.Clock
	Logger         *slog.Logger
	PreviewTimeout time.Duration
}

// NewAlarmHandler creates a new AlarmHandler.
func NewAlarmHandler(cfg AlarmHandlerConfig) *AlarmHandler {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.System(time.Local)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PreviewTimeout <= 0 {
		cfg.PreviewTimeout = DefaultPreviewTimeout
	}
	return &AlarmHandler{
		store:          cfg.Store,
		playback:       cfg.Playback,
		publisher:      cfg.Publisher,
		clock:          cfg.Clock,
		logger:         cfg.Logger.With("component", "alarm_commands"),
		previewTimeout: cfg.PreviewTimeout,
	}
}

// List returns all alarms.
func (h *AlarmHandler) List(ctx context.Context) []alarm.Alarm {
	return h.store.ListAlarms()
}

// Create validates and stores a new alarm.
func (h *AlarmHandler) Create(ctx context.Context, cmd CreateAlarmCommand) (alarm.Alarm, error) {
	a, err := alarm.New(cmd.Time, cmd.Label, cmd.Sound, cmd.Repeat)
	if err != nil {
		return alarm.Alarm{}, err
	}
	if cmd.Active != nil {
		a.Active = *cmd.Active
	}

	if err := h.store.UpsertAlarm(a); err != nil {
		return alarm.Alarm{}, fmt.Errorf("create alarm: %w", err)
	}

	h.logger.Info("alarm created", "alarm_id", a.ID, "time", a.Time, "repeat", a.Repeat)
	return a, nil
}

// Update applies the non-nil fields. Deactivating a ringing alarm stops its
// playback; re-activating a fired one-shot alarm re-arms it.
func (h *AlarmHandler) Update(ctx context.Context, cmd UpdateAlarmCommand) (alarm.Alarm, error) {
	if err := cmd.Validate(); err != nil {
		return alarm.Alarm{}, err
	}

	wasRinging := false
	updated, err := h.store.UpdateAlarm(cmd.ID, func(a *alarm.Alarm) error {
		wasRinging = a.Ringing
		if cmd.Time != nil {
			a.Time = *cmd.Time
		}
		if cmd.Label != nil {
			a.Label = *cmd.Label
		}
		if cmd.Sound != nil {
			a.Sound = *cmd.Sound
		}
		if cmd.Repeat != nil {
			a.Repeat = *cmd.Repeat
		}
		if cmd.Active != nil {
			a.SetActive(*cmd.Active)
		}
		return a.Normalize()
	})
	if err != nil {
		return alarm.Alarm{}, err
	}

	if !updated.Active {
		if h.playback.Stop(updated.ID) || wasRinging {
			h.publish(shared.NewAlarmDismissedEvent(updated.ID, h.clock.Now()))
		}
	}

	h.logger.Info("alarm updated", "alarm_id", updated.ID, "active", updated.Active)
	return updated, nil
}

// Delete removes an alarm, stopping it first if it is ringing.
func (h *AlarmHandler) Delete(ctx context.Context, id string) error {
	before, err := h.store.GetAlarm(id)
	if err != nil {
		h.stopOrphan(id, err)
		return err
	}
	if err := h.store.RemoveAlarm(id); err != nil {
		return err
	}

	if h.playback.Stop(id) || before.Ringing {
		h.publish(shared.NewAlarmDismissedEvent(id, h.clock.Now()))
	}

	h.logger.Info("alarm deleted", "alarm_id", id)
	return nil
}

// Dismiss stops a ringing alarm and clears its ringing state. A one-shot
// alarm that has fired is deactivated. Dismissing an alarm that is not
// ringing succeeds without side effects.
func (h *AlarmHandler) Dismiss(ctx context.Context, id string) (alarm.Alarm, error) {
	before, err := h.store.GetAlarm(id)
	if err != nil {
		h.stopOrphan(id, err)
		return alarm.Alarm{}, err
	}

	stopped := h.playback.Stop(id)

	updated, err := h.store.UpdateAlarm(id, func(a *alarm.Alarm) error {
		a.Dismiss()
		return nil
	})
	if err != nil {
		return alarm.Alarm{}, err
	}

	if stopped || before.Ringing {
		h.publish(shared.NewAlarmDismissedEvent(id, h.clock.Now()))
		h.logger.Info("alarm dismissed", "alarm_id", id, "active", updated.Active)
	}
	return updated, nil
}

// stopOrphan silences a voice whose alarm record no longer exists.
func (h *AlarmHandler) stopOrphan(id string, lookupErr error) {
	if !shared.IsNotFound(lookupErr) {
		return
	}
	if h.playback.Stop(id) {
		h.publish(shared.NewAlarmDismissedEvent(id, h.clock.Now()))
		h.logger.Info("stopped playback of deleted alarm", "alarm_id", id)
	}
}

// Test starts a one-off preview of the alarm's sound and returns
// immediately. Alarm state is untouched.
func (h *AlarmHandler) Test(ctx context.Context, id string) (TestAlarmResult, error) {
	a, err := h.store.GetAlarm(id)
	if err != nil {
		return TestAlarmResult{}, err
	}

	h.previews.Add(1)
	go func() {
		defer h.previews.Done()
		pctx, cancel := context.WithTimeout(context.Background(), h.previewTimeout)
		defer cancel()
		if err := h.playback.Preview(pctx, a.Sound); err != nil && pctx.Err() == nil {
			h.logger.Warn("preview failed", "alarm_id", id, "sound", a.Sound, "error", err)
		}
	}()

	return TestAlarmResult{Status: "playing", Sound: a.Sound}, nil
}

// Wait blocks until all running previews have finished.
func (h *AlarmHandler) Wait() {
	h.previews.Wait()
}

func (h *AlarmHandler) publish(event shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(event); err != nil {
		h.logger.Warn("failed to publish event", "event_type", event.Type, "error", err)
	}
}
