package playback

import (
	"sync"
	"time"
)

// Sink turns clips into sound.
type Sink interface {
	// Play starts the clip on its own goroutine. With loop set it repeats
	// until the returned voice is stopped.
	Play(clip Clip, loop bool) (Voice, error)
}

// Voice is one playing clip.
type Voice interface {
	// Stop ends playback. It is safe to call more than once.
	Stop()

	// Done is closed once playback has ended for any reason.
	Done() <-chan struct{}
}

// NullSink produces no audio. A one-pass voice ends after the clip's
// duration and a looped voice runs until stopped.
type NullSink struct{}

// Play implements Sink.
func (NullSink) Play(clip Clip, loop bool) (Voice, error) {
	v := newVoice()
	if !loop {
		d := clip.Duration()
		go func() {
			select {
			case <-time.After(d):
				v.finish()
			case <-v.stop:
			}
		}()
	}
	return v, nil
}

// voice is the stop/done bookkeeping shared by sinks.
type voice struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

func newVoice() *voice {
	return &voice{stop: make(chan struct{}), done: make(chan struct{})}
}

func (v *voice) Stop() {
	v.stopOnce.Do(func() { close(v.stop) })
	v.finish()
}

func (v *voice) finish() {
	v.doneOnce.Do(func() { close(v.done) })
}

func (v *voice) Done() <-chan struct{} {
	return v.done
}
