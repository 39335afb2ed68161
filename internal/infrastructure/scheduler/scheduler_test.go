package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chronos-os/chronos/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	block chan struct{}
	err   error
	seen  []time.Time
	mu    sync.Mutex
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }

func (j *countingJob) Run(ctx context.Context, now time.Time) error {
	j.runs.Add(1)
	j.mu.Lock()
	j.seen = append(j.seen, now)
	j.mu.Unlock()
	if j.block != nil {
		<-j.block
	}
	return j.err
}

func newTestScheduler(clock timeutil.Clock) *Scheduler {
	return NewScheduler(SchedulerConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  clock,
	})
}

func TestTick_RunsDueJobsOnInterval(t *testing.T) {
	clock := timeutil.NewFakeClock(time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC))
	s := newTestScheduler(clock)
	job := &countingJob{name: "alarm"}
	require.NoError(t, s.Register(job, Every(time.Second)))

	s.Tick() // first run is immediate
	s.Wait()
	assert.Equal(t, int32(1), job.runs.Load())

	clock.Advance(500 * time.Millisecond)
	s.Tick()
	s.Wait()
	assert.Equal(t, int32(1), job.runs.Load())

	clock.Advance(500 * time.Millisecond)
	s.Tick()
	s.Wait()
	assert.Equal(t, int32(2), job.runs.Load())
	assert.Equal(t, clock.Now(), job.seen[1])
}

func TestTick_SkipsJobStillRunning(t *testing.T) {
	clock := timeutil.NewFakeClock(time.Unix(0, 0))
	s := newTestScheduler(clock)
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, Every(time.Second)))

	s.Tick()
	clock.Advance(2 * time.Second)
	s.Tick()
	close(job.block)
	s.Wait()

	assert.Equal(t, int32(1), job.runs.Load())
	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].SkipCount)
}

func TestTick_DisabledJobDoesNotRun(t *testing.T) {
	clock := timeutil.NewFakeClock(time.Unix(0, 0))
	s := newTestScheduler(clock)
	job := &countingJob{name: "reminder"}
	require.NoError(t, s.Register(job, Every(30*time.Second)))
	require.NoError(t, s.DisableJob("reminder"))

	s.Tick()
	s.Wait()
	assert.Equal(t, int32(0), job.runs.Load())

	require.NoError(t, s.EnableJob("reminder"))
	s.Tick()
	s.Wait()
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestRegister_Errors(t *testing.T) {
	s := newTestScheduler(timeutil.NewFakeClock(time.Unix(0, 0)))
	assert.ErrorIs(t, s.Register(nil, Every(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "x"}, nil), ErrNilSchedule)
	require.NoError(t, s.Register(&countingJob{name: "x"}, Every(time.Second)))
	assert.ErrorIs(t, s.Register(&countingJob{name: "x"}, Every(time.Second)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.DisableJob("missing"), ErrJobNotFound)
}

func TestJobErrorHook(t *testing.T) {
	s := newTestScheduler(timeutil.NewFakeClock(time.Unix(0, 0)))
	boom := errors.New("boom")
	require.NoError(t, s.Register(&countingJob{name: "bad", err: boom}, Every(time.Second)))

	var got error
	s.OnJobError(func(name string, err error) { got = err })
	s.Tick()
	s.Wait()

	assert.ErrorIs(t, got, boom)
	assert.Equal(t, "boom", s.ListJobs()[0].LastError)
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Resolution: 10 * time.Millisecond,
	})
	job := &countingJob{name: "loop"}
	require.NoError(t, s.Register(job, Every(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}
