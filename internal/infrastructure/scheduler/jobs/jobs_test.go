package jobs

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/chronos-os/chronos/internal/domain/task"
	"github.com/chronos-os/chronos/internal/infrastructure/persistence/filestore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-19 is a Monday.
func at(day, hour, min, sec int) time.Time {
	return time.Date(2026, 10, day, hour, min, sec, 0, time.UTC)
}

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(t shared.EventType) []shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakePlayer struct {
	mu      sync.Mutex
	started []string
	playing map[string]bool

	// beforeStart runs ahead of every Start, outside the lock.
	beforeStart func(id string)
}

func (p *fakePlayer) Start(a alarm.Alarm) bool {
	if p.beforeStart != nil {
		p.beforeStart(a.ID)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing == nil {
		p.playing = make(map[string]bool)
	}
	p.started = append(p.started, a.ID)
	p.playing[a.ID] = true
	return true
}

func (p *fakePlayer) Stop(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.playing[id]
	delete(p.playing, id)
	return was
}

func (p *fakePlayer) isPlaying(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing[id]
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.started)
}

type refs struct{}

func (refs) Ref(name string) string { return "builtin/" + name }

type alarmFixture struct {
	fs     afero.Fs
	store  *filestore.Store
	job    *AlarmTickJob
	player *fakePlayer
	events *recorder
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAlarmFixture(t *testing.T, fs afero.Fs) *alarmFixture {
	t.Helper()
	store, err := filestore.Open(fs, "/data/records.json", quiet())
	require.NoError(t, err)
	f := &alarmFixture{fs: fs, store: store, player: &fakePlayer{}, events: &recorder{}}
	f.job = NewAlarmTickJob(AlarmTickConfig{
		Store:     store,
		Player:    f.player,
		Sounds:    refs{},
		Publisher: f.events,
		Logger:    quiet(),
		Location:  time.UTC,
	})
	return f
}

func (f *alarmFixture) tick(now time.Time) int {
	n := f.job.Evaluate(now)
	f.job.Wait()
	return n
}

func (f *alarmFixture) dismiss(t *testing.T, id string) {
	t.Helper()
	_, err := f.store.UpdateAlarm(id, func(a *alarm.Alarm) error {
		a.Dismiss()
		return nil
	})
	require.NoError(t, err)
}

func TestAlarmTick_OneShotScenario(t *testing.T) {
	f := newAlarmFixture(t, afero.NewMemMapFs())
	a, err := alarm.New("07:00", "wake up", "", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertAlarm(a))

	assert.Equal(t, 0, f.tick(at(19, 6, 59, 59)))
	assert.Equal(t, 1, f.tick(at(19, 7, 0, 0)))

	got, _ := f.store.GetAlarm(a.ID)
	assert.True(t, got.Ringing)
	assert.Equal(t, "2026-10-19", got.LastFired)

	rings := f.events.ofType(shared.EventAlarmRing)
	require.Len(t, rings, 1)
	assert.Equal(t, a.ID, rings[0].AlarmID)
	assert.Equal(t, alarm.DefaultSound, rings[0].Sound)
	assert.Equal(t, "builtin/"+alarm.DefaultSound, rings[0].SoundRef)
	assert.Equal(t, "wake up", rings[0].Label)

	// still ringing: later ticks in the same minute do nothing
	assert.Equal(t, 0, f.tick(at(19, 7, 0, 1)))

	f.dismiss(t, a.ID)
	got, _ = f.store.GetAlarm(a.ID)
	assert.False(t, got.Active)
	assert.False(t, got.Ringing)

	assert.Equal(t, 0, f.tick(at(19, 7, 0, 30)))
	assert.Equal(t, 0, f.tick(at(20, 7, 0, 0)))
	assert.Equal(t, 1, f.player.count())
}

func TestAlarmTick_LateTickWithinMinuteFires(t *testing.T) {
	f := newAlarmFixture(t, afero.NewMemMapFs())
	a, _ := alarm.New("07:00", "", "", nil)
	require.NoError(t, f.store.UpsertAlarm(a))

	assert.Equal(t, 1, f.tick(at(19, 7, 0, 59)))
}

func TestAlarmTick_MissedMinuteIsNotRetroFired(t *testing.T) {
	f := newAlarmFixture(t, afero.NewMemMapFs())
	a, _ := alarm.New("07:00", "", "", nil)
	require.NoError(t, f.store.UpsertAlarm(a))

	assert.Equal(t, 0, f.tick(at(19, 7, 1, 0)))
	assert.Empty(t, f.events.ofType(shared.EventAlarmRing))
}

func TestAlarmTick_RepeatOncePerListedWeekday(t *testing.T) {
	f := newAlarmFixture(t, afero.NewMemMapFs())
	a, _ := alarm.New("07:00", "", "", []string{"Mon", "Wed"})
	require.NoError(t, f.store.UpsertAlarm(a))

	assert.Equal(t, 1, f.tick(at(19, 7, 0, 0))) // Monday
	f.dismiss(t, a.ID)
	assert.Equal(t, 0, f.tick(at(19, 7, 0, 30)))

	got, _ := f.store.GetAlarm(a.ID)
	assert.True(t, got.Active)

	assert.Equal(t, 0, f.tick(at(20, 7, 0, 0))) // Tuesday
	assert.Equal(t, 1, f.tick(at(21, 7, 0, 0))) // Wednesday
	assert.Equal(t, 2, f.player.count())
}

func TestAlarmTick_ConcurrentTicksFireOnce(t *testing.T) {
	f := newAlarmFixture(t, afero.NewMemMapFs())
	a, _ := alarm.New("07:00", "", "", nil)
	require.NoError(t, f.store.UpsertAlarm(a))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.job.Evaluate(at(19, 7, 0, 0))
		}()
	}
	wg.Wait()
	f.job.Wait()

	assert.Len(t, f.events.ofType(shared.EventAlarmRing), 1)
	assert.Equal(t, 1, f.player.count())
}

func TestAlarmTick_NoRefireAfterRestart(t *testing.T) {
	fs := afero.NewMemMapFs()
	f := newAlarmFixture(t, fs)
	a, _ := alarm.New("07:00", "", "", []string{"Mon"})
	require.NoError(t, f.store.UpsertAlarm(a))
	require.Equal(t, 1, f.tick(at(19, 7, 0, 0)))

	// restart: fresh store (ringing reset) and fresh in-memory table
	restarted := newAlarmFixture(t, fs)
	got, _ := restarted.store.GetAlarm(a.ID)
	assert.False(t, got.Ringing)
	assert.Equal(t, 0, restarted.tick(at(19, 7, 0, 20)))
}

func TestAlarmTick_InactiveNeverFires(t *testing.T) {
	f := newAlarmFixture(t, afero.NewMemMapFs())
	a, _ := alarm.New("07:00", "", "", nil)
	a.Active = false
	require.NoError(t, f.store.UpsertAlarm(a))

	assert.Equal(t, 0, f.tick(at(19, 7, 0, 0)))
}

type brokenRenameFs struct {
	afero.Fs
	broken bool
}

func (b *brokenRenameFs) Rename(o, n string) error {
	if b.broken {
		return errors.New("disk full")
	}
	return b.Fs.Rename(o, n)
}

func TestAlarmTick_PersistFailureStillRings(t *testing.T) {
	fs := &brokenRenameFs{Fs: afero.NewMemMapFs()}
	f := newAlarmFixture(t, fs)
	a, _ := alarm.New("07:00", "", "", nil)
	require.NoError(t, f.store.UpsertAlarm(a))

	fs.broken = true
	assert.Equal(t, 1, f.tick(at(19, 7, 0, 0)))
	assert.Equal(t, 1, f.player.count())
	assert.Len(t, f.events.ofType(shared.EventAlarmRing), 1)

	// the in-memory table still prevents a second ring this minute
	assert.Equal(t, 0, f.tick(at(19, 7, 0, 1)))
	assert.True(t, f.player.isPlaying(a.ID))
}

func TestAlarmTick_DismissDuringDispatchLeavesNothingPlaying(t *testing.T) {
	f := newAlarmFixture(t, afero.NewMemMapFs())
	a, _ := alarm.New("07:00", "Wake", "", nil)
	require.NoError(t, f.store.UpsertAlarm(a))
	f.player.beforeStart = func(id string) {
		_, err := f.store.UpdateAlarm(id, func(a *alarm.Alarm) error {
			a.Dismiss()
			return nil
		})
		assert.NoError(t, err)
	}

	assert.Equal(t, 1, f.tick(at(19, 7, 0, 0)))

	assert.False(t, f.player.isPlaying(a.ID))
	assert.Empty(t, f.events.ofType(shared.EventAlarmRing))
	assert.Len(t, f.events.ofType(shared.EventAlarmDismissed), 1)

	got, err := f.store.GetAlarm(a.ID)
	require.NoError(t, err)
	assert.False(t, got.Ringing)
	assert.False(t, got.Active)
}

func TestAlarmTick_DeleteDuringDispatchLeavesNothingPlaying(t *testing.T) {
	f := newAlarmFixture(t, afero.NewMemMapFs())
	a, _ := alarm.New("07:00", "Wake", "", []string{"Mon"})
	require.NoError(t, f.store.UpsertAlarm(a))
	f.player.beforeStart = func(id string) { assert.NoError(t, f.store.RemoveAlarm(id)) }

	assert.Equal(t, 1, f.tick(at(19, 7, 0, 0)))

	assert.False(t, f.player.isPlaying(a.ID))
	assert.Empty(t, f.events.ofType(shared.EventAlarmRing))
	assert.Len(t, f.events.ofType(shared.EventAlarmDismissed), 1)
}

// ──────────────────────────────────────────────────────────────────────────────
// Reminders
// ──────────────────────────────────────────────────────────────────────────────

func newReminderJob(t *testing.T) (*ReminderTickJob, *filestore.Store, *recorder) {
	t.Helper()
	store, err := filestore.Open(afero.NewMemMapFs(), "/data/records.json", quiet())
	require.NoError(t, err)
	events := &recorder{}
	job := NewReminderTickJob(ReminderTickConfig{
		Store:     store,
		Publisher: events,
		Logger:    quiet(),
		Location:  time.UTC,
		Window:    30 * time.Second,
	})
	return job, store, events
}

func remind(j *ReminderTickJob, now time.Time) int {
	n := j.Evaluate(now)
	j.Wait()
	return n
}

func TestReminderTick_Scenario(t *testing.T) {
	job, store, events := newReminderJob(t)
	tk, err := task.New("Standup", "2026-10-19", "09:00", 10, "")
	require.NoError(t, err)
	require.NoError(t, store.UpsertTask(tk))

	assert.Equal(t, 0, remind(job, at(19, 8, 49, 30)))
	assert.Equal(t, 1, remind(job, at(19, 8, 50, 0)))
	assert.Equal(t, 0, remind(job, at(19, 8, 50, 30)))

	got := events.ofType(shared.EventTaskReminder)
	require.Len(t, got, 1)
	assert.Equal(t, tk.ID, got[0].TaskID)
	assert.Equal(t, "Standup", got[0].Title)

	stored, _ := store.GetTask(tk.ID)
	assert.Equal(t, "2026-10-19T09:00", stored.ReminderFiredFor)
	assert.False(t, stored.Done)
}

func TestReminderTick_DoneAndUndatedAreSkipped(t *testing.T) {
	job, store, events := newReminderJob(t)

	done, _ := task.New("Done", "2026-10-19", "09:00", 10, "")
	done.Done = true
	undated, _ := task.New("Someday", "", "09:00", 10, "")
	untimed, _ := task.New("All day", "2026-10-19", "", 10, "")
	for _, tk := range []task.Task{done, undated, untimed} {
		require.NoError(t, store.UpsertTask(tk))
	}

	assert.Equal(t, 0, remind(job, at(19, 8, 50, 0)))
	assert.Empty(t, events.ofType(shared.EventTaskReminder))
}

func TestReminderTick_RearmsOnReschedule(t *testing.T) {
	job, store, events := newReminderJob(t)
	tk, _ := task.New("Call", "2026-10-19", "09:00", 10, "")
	require.NoError(t, store.UpsertTask(tk))
	require.Equal(t, 1, remind(job, at(19, 8, 50, 0)))

	_, err := store.UpdateTask(tk.ID, func(x *task.Task) error {
		x.Time = "10:00"
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, remind(job, at(19, 9, 50, 10)))
	assert.Len(t, events.ofType(shared.EventTaskReminder), 2)
}

func TestReminderTick_LeadChangeDoesNotRemindAgain(t *testing.T) {
	job, store, events := newReminderJob(t)
	tk, _ := task.New("Call", "2026-10-19", "09:00", 30, "")
	require.NoError(t, store.UpsertTask(tk))
	require.Equal(t, 1, remind(job, at(19, 8, 30, 0)))

	_, err := store.UpdateTask(tk.ID, func(x *task.Task) error {
		x.Reminder = 10
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 0, remind(job, at(19, 8, 50, 0)))

	// a restarted process reads the same stored state
	fresh := NewReminderTickJob(ReminderTickConfig{Store: store, Publisher: events, Logger: quiet(), Location: time.UTC})
	assert.Equal(t, 0, remind(fresh, at(19, 8, 50, 0)))
	assert.Len(t, events.ofType(shared.EventTaskReminder), 1)
}

func TestReminderTick_MovedAwayAndBackRemindsAgain(t *testing.T) {
	job, store, events := newReminderJob(t)
	tk, _ := task.New("Call", "2026-10-19", "09:00", 10, "")
	require.NoError(t, store.UpsertTask(tk))
	require.Equal(t, 1, remind(job, at(19, 8, 50, 0)))

	for _, clock := range []string{"10:00", "09:00"} {
		_, err := store.UpdateTask(tk.ID, func(x *task.Task) error {
			before := x.OccurrenceKey()
			x.Time = clock
			if x.OccurrenceKey() != before {
				x.ReminderFiredFor = ""
			}
			return nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, remind(job, at(19, 8, 50, 10)))
	assert.Len(t, events.ofType(shared.EventTaskReminder), 2)
}

func TestReminderTick_PrunesFinishedEntries(t *testing.T) {
	fs := &brokenRenameFs{Fs: afero.NewMemMapFs()}
	store, err := filestore.Open(fs, "/data/records.json", quiet())
	require.NoError(t, err)
	job := NewReminderTickJob(ReminderTickConfig{Store: store, Logger: quiet(), Location: time.UTC})

	kept, _ := task.New("Kept", "2026-10-19", "09:00", 10, "")
	gone, _ := task.New("Gone", "2026-10-19", "09:00", 10, "")
	require.NoError(t, store.UpsertTask(kept))
	require.NoError(t, store.UpsertTask(gone))

	fs.broken = true
	require.Equal(t, 2, remind(job, at(19, 8, 50, 0)))
	assert.Len(t, job.reminded, 2)

	fs.broken = false
	require.NoError(t, store.RemoveTask(gone.ID))
	remind(job, at(19, 8, 55, 0))
	assert.Equal(t, map[string]string{kept.ID: "2026-10-19T09:00"}, job.reminded)

	remind(job, at(20, 0, 0, 0))
	assert.Empty(t, job.reminded)
}

func TestReminderTick_ZeroLead(t *testing.T) {
	job, store, _ := newReminderJob(t)
	tk, _ := task.New("Now", "2026-10-19", "09:00", 0, "")
	require.NoError(t, store.UpsertTask(tk))

	assert.Equal(t, 1, remind(job, at(19, 9, 0, 0)))
}
