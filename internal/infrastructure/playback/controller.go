// Package playback owns the audio side of ringing alarms: a table of looping
// voices keyed by alarm id, the sound library they are resolved from, and the
// sinks that produce the sound.
package playback

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/chronos-os/chronos/internal/domain/alarm"
)

// RingingClearer clears the persisted ringing flag of an alarm.
type RingingClearer interface {
	ClearRinging(id string) error
}

// Resolver resolves sound names to clips.
type Resolver interface {
	Resolve(name string) (Clip, error)
	Default() Clip
}

type handle struct {
	alarmID string
	sound   string
	voice   Voice
	stopped bool
}

// Controller tracks one looping voice per ringing alarm. Start and Stop are
// idempotent and alarms play independently of each other.
type Controller struct {
	sink    Sink
	sounds  Resolver
	clearer RingingClearer
	logger  *slog.Logger

	mu     sync.Mutex
	voices map[string]*handle
}

// ControllerConfig holds controller dependencies.
type ControllerConfig struct {
	Sink    Sink
	Sounds  Resolver
	Clearer RingingClearer
	Logger  *slog.Logger
}

// NewController creates a playback controller. A nil sink means NullSink.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Sink == nil {
		cfg.Sink = NullSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		sink:    cfg.Sink,
		sounds:  cfg.Sounds,
		clearer: cfg.Clearer,
		logger:  cfg.Logger.With("component", "playback"),
		voices:  make(map[string]*handle),
	}
}

// Start begins looped playback for the alarm. It returns false when the alarm
// is already playing or the sink refused the clip.
func (c *Controller) Start(a alarm.Alarm) bool {
	c.mu.Lock()
	if _, ok := c.voices[a.ID]; ok {
		c.mu.Unlock()
		return false
	}
	h := &handle{alarmID: a.ID, sound: a.Sound}
	c.voices[a.ID] = h
	c.mu.Unlock()

	clip := c.resolve(a.Sound)
	v, err := c.sink.Play(clip, true)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.voices[a.ID] == h {
			delete(c.voices, a.ID)
		}
		c.logger.Error("failed to start playback", "alarm_id", a.ID, "sound", a.Sound, "error", err)
		return false
	}
	if h.stopped {
		// Stopped while the sink was starting.
		v.Stop()
		return false
	}
	h.voice = v

	go c.reap(h, v)

	c.logger.Info("playback started", "alarm_id", a.ID, "sound", clip.Name)
	return true
}

// reap drops the handle when a voice ends without Stop, e.g. a device error.
func (c *Controller) reap(h *handle, v Voice) {
	<-v.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voices[h.alarmID] == h {
		delete(c.voices, h.alarmID)
	}
}

// Stop ends playback for the alarm and clears its persisted ringing flag. It
// reports whether a voice was playing; stopping an idle alarm is a no-op.
func (c *Controller) Stop(alarmID string) bool {
	c.mu.Lock()
	h, ok := c.voices[alarmID]
	if ok {
		delete(c.voices, alarmID)
		h.stopped = true
	}
	c.mu.Unlock()

	if ok && h.voice != nil {
		h.voice.Stop()
	}
	if c.clearer != nil {
		if err := c.clearer.ClearRinging(alarmID); err != nil {
			c.logger.Warn("failed to clear ringing flag", "alarm_id", alarmID, "error", err)
		}
	}
	if ok {
		c.logger.Info("playback stopped", "alarm_id", alarmID)
	}
	return ok
}

// IsPlaying reports whether the alarm currently has a voice.
func (c *Controller) IsPlaying(alarmID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.voices[alarmID]
	return ok
}

// Playing returns the ids of all playing alarms, sorted.
func (c *Controller) Playing() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.voices))
	for id := range c.voices {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// StopAll stops every voice without touching persisted state. Used on
// shutdown; ringing is reset when the store is next loaded.
func (c *Controller) StopAll() {
	c.mu.Lock()
	handles := make([]*handle, 0, len(c.voices))
	for id, h := range c.voices {
		h.stopped = true
		handles = append(handles, h)
		delete(c.voices, id)
	}
	c.mu.Unlock()

	for _, h := range handles {
		if h.voice != nil {
			h.voice.Stop()
		}
	}
}

// Preview plays one pass of the sound and returns when it ends or ctx is
// done. It never affects alarm state.
func (c *Controller) Preview(ctx context.Context, sound string) error {
	clip := c.resolve(sound)
	v, err := c.sink.Play(clip, false)
	if err != nil {
		return err
	}
	select {
	case <-v.Done():
		return nil
	case <-ctx.Done():
		v.Stop()
		return ctx.Err()
	}
}

func (c *Controller) resolve(sound string) Clip {
	if c.sounds == nil {
		return Builtins[0].Render()
	}
	clip, err := c.sounds.Resolve(sound)
	if err != nil {
		c.logger.Warn("sound unavailable, using default", "sound", sound, "error", err)
		return c.sounds.Default()
	}
	return clip
}
