package playback

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process.
var (
	otoCtx     *oto.Context
	otoCtxErr  error
	otoCtxOnce sync.Once
)

func deviceContext() (*oto.Context, error) {
	otoCtxOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   DeviceFormat.SampleRate,
			ChannelCount: DeviceFormat.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoCtxErr = fmt.Errorf("open audio device: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoCtxErr
}

// OtoSink plays clips on the local audio device.
type OtoSink struct {
	logger *slog.Logger

	// poll is how often a playing voice checks for a stop request.
	poll time.Duration
}

// NewOtoSink opens the audio device. It fails on hosts without one.
func NewOtoSink(logger *slog.Logger) (*OtoSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := deviceContext(); err != nil {
		return nil, err
	}
	return &OtoSink{logger: logger.With("component", "oto_sink"), poll: 10 * time.Millisecond}, nil
}

// Play implements Sink.
func (s *OtoSink) Play(clip Clip, loop bool) (Voice, error) {
	ctx, err := deviceContext()
	if err != nil {
		return nil, err
	}
	if clip.Format != DeviceFormat {
		return nil, fmt.Errorf("clip %q has format %+v, device wants %+v", clip.Name, clip.Format, DeviceFormat)
	}

	v := newVoice()
	go s.playLoop(ctx, v, clip, loop)
	return v, nil
}

func (s *OtoSink) playLoop(ctx *oto.Context, v *voice, clip Clip, loop bool) {
	defer v.finish()

	for {
		player := ctx.NewPlayer(bytes.NewReader(clip.PCM))
		player.Play()

		for player.IsPlaying() {
			select {
			case <-v.stop:
				player.Pause()
				if err := player.Close(); err != nil {
					s.logger.Warn("failed to close audio player", "sound", clip.Name, "error", err)
				}
				return
			case <-time.After(s.poll):
			}
		}

		if err := player.Close(); err != nil {
			s.logger.Warn("failed to close audio player", "sound", clip.Name, "error", err)
		}

		if !loop {
			return
		}
		select {
		case <-v.stop:
			return
		default:
		}
	}
}
