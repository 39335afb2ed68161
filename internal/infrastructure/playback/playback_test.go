package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	plays  []string
	voices []*voice
	err    error
}

func (s *fakeSink) Play(clip Clip, loop bool) (Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	v := newVoice()
	s.plays = append(s.plays, clip.Name)
	s.voices = append(s.voices, v)
	if !loop {
		v.finish()
	}
	return v, nil
}

func (s *fakeSink) played() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.plays...)
}

type clearRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (c *clearRecorder) ClearRinging(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
	return nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T) (*Controller, *fakeSink, *clearRecorder, *Library) {
	t.Helper()
	lib, err := OpenLibrary(afero.NewMemMapFs(), "/data/sounds")
	require.NoError(t, err)
	sink := &fakeSink{}
	clr := &clearRecorder{}
	c := NewController(ControllerConfig{Sink: sink, Sounds: lib, Clearer: clr, Logger: quiet()})
	return c, sink, clr, lib
}

func ringing(id, sound string) alarm.Alarm {
	return alarm.Alarm{ID: id, Time: "07:00", Sound: sound, Active: true, Ringing: true}
}

func TestController_StartIsIdempotent(t *testing.T) {
	c, sink, _, _ := newTestController(t)

	assert.True(t, c.Start(ringing("a", "Gentle Bell")))
	assert.False(t, c.Start(ringing("a", "Gentle Bell")))
	assert.True(t, c.IsPlaying("a"))
	assert.Equal(t, []string{"Gentle Bell"}, sink.played())
}

func TestController_ConcurrentStartsOneVoice(t *testing.T) {
	c, sink, _, _ := newTestController(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Start(ringing("a", "Classic Beep"))
		}()
	}
	wg.Wait()
	assert.Len(t, sink.played(), 1)
}

func TestController_IndependentAlarms(t *testing.T) {
	c, sink, clr, _ := newTestController(t)

	require.True(t, c.Start(ringing("a", "Classic Beep")))
	require.True(t, c.Start(ringing("b", "Deep Horn")))
	assert.Equal(t, []string{"a", "b"}, c.Playing())

	assert.True(t, c.Stop("a"))
	assert.Equal(t, []string{"b"}, c.Playing())

	select {
	case <-sink.voices[0].Done():
	default:
		t.Fatal("voice a was not stopped")
	}
	select {
	case <-sink.voices[1].Done():
		t.Fatal("voice b stopped with a")
	default:
	}
	assert.Equal(t, []string{"a"}, clr.ids)
}

func TestController_StopIsIdempotent(t *testing.T) {
	c, _, clr, _ := newTestController(t)
	require.True(t, c.Start(ringing("a", "Classic Beep")))

	assert.True(t, c.Stop("a"))
	assert.False(t, c.Stop("a"))
	assert.False(t, c.Stop("never-started"))
	assert.False(t, c.IsPlaying("a"))

	// ringing is cleared every time so a flag left by a failed start heals
	assert.Equal(t, []string{"a", "a", "never-started"}, clr.ids)
}

func TestController_MissingSoundFallsBack(t *testing.T) {
	c, sink, _, _ := newTestController(t)

	require.True(t, c.Start(ringing("a", "Does Not Exist")))
	assert.Equal(t, []string{"Classic Beep"}, sink.played())
}

func TestController_ConfiguredDefault(t *testing.T) {
	c, sink, _, lib := newTestController(t)
	require.NoError(t, lib.SetDefault("Gentle Bell"))
	assert.True(t, shared.IsNotFound(lib.SetDefault("Kazoo")))

	require.True(t, c.Start(ringing("a", "Does Not Exist")))
	assert.Equal(t, []string{"Gentle Bell"}, sink.played())
}

func TestController_UnplayableCustomFallsBack(t *testing.T) {
	// a file damaged on disk after it was registered
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/sounds/index.json",
		[]byte(`{"Song":{"filename":"song.mp3","description":"Custom: song.mp3"}}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/sounds/song.mp3", []byte("ID3 not really"), 0o644))
	lib, err := OpenLibrary(fs, "/data/sounds")
	require.NoError(t, err)
	sink := &fakeSink{}
	c := NewController(ControllerConfig{Sink: sink, Sounds: lib, Logger: quiet()})

	require.True(t, c.Start(ringing("a", "Song")))
	assert.Equal(t, []string{"Classic Beep"}, sink.played())
}

func TestController_SinkErrorLeavesIdle(t *testing.T) {
	c, sink, _, _ := newTestController(t)
	sink.err = errors.New("no device")

	assert.False(t, c.Start(ringing("a", "Classic Beep")))
	assert.False(t, c.IsPlaying("a"))

	sink.err = nil
	assert.True(t, c.Start(ringing("a", "Classic Beep")))
}

func TestController_VoiceEndingReapsHandle(t *testing.T) {
	c, sink, _, _ := newTestController(t)
	require.True(t, c.Start(ringing("a", "Classic Beep")))

	sink.voices[0].finish()
	assert.Eventually(t, func() bool { return !c.IsPlaying("a") }, time.Second, time.Millisecond)
}

func TestController_PreviewDoesNotRing(t *testing.T) {
	c, sink, clr, _ := newTestController(t)

	require.NoError(t, c.Preview(context.Background(), "Digital Pulse"))
	assert.Equal(t, []string{"Digital Pulse"}, sink.played())
	assert.Empty(t, c.Playing())
	assert.Empty(t, clr.ids)
}

func TestController_StopAll(t *testing.T) {
	c, _, clr, _ := newTestController(t)
	c.Start(ringing("a", "Classic Beep"))
	c.Start(ringing("b", "Classic Beep"))

	c.StopAll()
	assert.Empty(t, c.Playing())
	assert.Empty(t, clr.ids)
}

func TestNullSink_PreviewEnds(t *testing.T) {
	c := NewController(ControllerConfig{Logger: quiet()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, c.Preview(ctx, "Digital Pulse"))
}

// ──────────────────────────────────────────────────────────────────────────────
// Library
// ──────────────────────────────────────────────────────────────────────────────

func TestLibrary_ListAndRefs(t *testing.T) {
	lib, err := OpenLibrary(afero.NewMemMapFs(), "/sounds")
	require.NoError(t, err)

	list := lib.List()
	require.Len(t, list, len(Builtins))
	assert.Equal(t, "Classic Beep", list[0].Name)
	assert.Equal(t, "builtin/classic_beep", list[0].Ref)
	assert.Equal(t, "builtin/alarm_siren", lib.Ref("Alarm Siren"))
	assert.Equal(t, "builtin/classic_beep", lib.Ref("unknown"))
}

func TestLibrary_AddResolveRemove(t *testing.T) {
	fs := afero.NewMemMapFs()
	lib, err := OpenLibrary(fs, "/sounds")
	require.NoError(t, err)

	wav := EncodeWAV(DeviceFormat, make([]byte, 441*2))
	info, err := lib.Add("Morning Birds", "birds.WAV", wav)
	require.NoError(t, err)
	assert.Equal(t, "morning_birds.wav", info.Filename)
	assert.Equal(t, "custom/morning_birds.wav", lib.Ref("Morning Birds"))

	clip, err := lib.Resolve("Morning Birds")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, clip.Duration())

	data, ext, err := lib.Open("custom/morning_birds.wav")
	require.NoError(t, err)
	assert.Equal(t, ".wav", ext)
	assert.Equal(t, wav, data)

	// survives reopen
	reopened, err := OpenLibrary(fs, "/sounds")
	require.NoError(t, err)
	assert.Len(t, reopened.List(), len(Builtins)+1)

	require.NoError(t, reopened.Remove("Morning Birds"))
	assert.True(t, shared.IsNotFound(reopened.Remove("Morning Birds")))
	exists, _ := afero.Exists(fs, "/sounds/morning_birds.wav")
	assert.False(t, exists)
}

func TestLibrary_AddValidation(t *testing.T) {
	lib, err := OpenLibrary(afero.NewMemMapFs(), "/sounds")
	require.NoError(t, err)

	_, err = lib.Add("  ", "a.wav", nil)
	assert.ErrorIs(t, err, shared.ErrSoundNameRequired)

	_, err = lib.Add("Classic Beep", "a.wav", nil)
	assert.ErrorIs(t, err, shared.ErrBuiltinSound)

	_, err = lib.Add("Doc", "notes.txt", nil)
	assert.ErrorIs(t, err, shared.ErrUnsupportedSound)

	_, err = lib.Add("Voice memo", "memo.m4a", []byte("x"))
	assert.ErrorIs(t, err, shared.ErrUnsupportedSound)

	_, err = lib.Add("Broken", "broken.ogg", []byte("not audio"))
	assert.ErrorIs(t, err, shared.ErrUndecodableSound)
	assert.True(t, shared.IsValidation(err))

	info, err := lib.Add("../../etc/passwd", "x.wav", EncodeWAV(DeviceFormat, make([]byte, 8)))
	require.NoError(t, err)
	assert.Equal(t, "etcpasswd.wav", info.Filename)

	assert.ErrorIs(t, lib.Remove("Deep Horn"), shared.ErrBuiltinSound)
}

func TestLibrary_OpenBuiltin(t *testing.T) {
	lib, err := OpenLibrary(afero.NewMemMapFs(), "/sounds")
	require.NoError(t, err)

	data, ext, err := lib.Open("builtin/deep_horn")
	require.NoError(t, err)
	assert.Equal(t, ".wav", ext)

	clip, err := DecodeClip("Deep Horn", ext, data)
	require.NoError(t, err)
	assert.Equal(t, DeviceFormat, clip.Format)
	assert.Len(t, clip.PCM, 2*SampleRate)

	_, _, err = lib.Open("builtin/nope")
	assert.True(t, shared.IsNotFound(err))
}

// ──────────────────────────────────────────────────────────────────────────────
// Synth / WAV
// ──────────────────────────────────────────────────────────────────────────────

func TestProfileRender_ToneThenSilence(t *testing.T) {
	p := Builtins[0] // 250ms tone + 100ms pause
	clip := p.Render()

	assert.Equal(t, 350*time.Millisecond, clip.Duration())

	tone := int(0.25 * SampleRate)
	peak := 0
	for i := 0; i < tone; i++ {
		v := int(int16(uint16(clip.PCM[2*i]) | uint16(clip.PCM[2*i+1])<<8))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	assert.InDelta(t, 0.7*32767, peak, 100)

	for i := tone; i < len(clip.PCM)/2; i++ {
		require.Zero(t, clip.PCM[2*i])
		require.Zero(t, clip.PCM[2*i+1])
	}
}

func TestDecodeClip_Rejects(t *testing.T) {
	_, err := DecodeClip("x", ".wav", []byte("OggS...."))
	assert.Error(t, err)

	_, err = DecodeClip("x", ".wav", []byte("RIFF\x00\x00\x00\x00WAVE"))
	assert.Error(t, err)

	_, err = DecodeClip("x", ".aac", EncodeWAV(DeviceFormat, make([]byte, 8)))
	assert.Error(t, err)
}

func TestDecodeClip_ResamplesAndDownmixes(t *testing.T) {
	// 100ms of 22.05kHz stereo, both channels at a quarter of full scale
	src := Format{SampleRate: 22050, Channels: 2, BitDepth: 16}
	frames := 2205
	pcm := make([]byte, 0, frames*4)
	for i := 0; i < frames; i++ {
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(8192)))
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(int16(8192)))
	}

	clip, err := DecodeClip("Quarter", ".WAV", EncodeWAV(src, pcm))
	require.NoError(t, err)
	assert.Equal(t, DeviceFormat, clip.Format)
	assert.InDelta(t, float64(100*time.Millisecond), float64(clip.Duration()), float64(2*time.Millisecond))

	mid := len(clip.PCM) / 4 * 2
	v := int16(binary.LittleEndian.Uint16(clip.PCM[mid:]))
	assert.InDelta(t, 8192, int(v), 16)
}

func TestLibrary_SameFileNameRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	lib, err := OpenLibrary(fs, "/sounds")
	require.NoError(t, err)
	wav := EncodeWAV(DeviceFormat, make([]byte, 882))

	_, err = lib.Add("Wake Up", "a.wav", wav)
	require.NoError(t, err)
	for _, name := range []string{"wake up", "Wake_Up"} {
		_, err = lib.Add(name, "b.wav", wav)
		assert.ErrorIs(t, err, shared.ErrSoundNameTaken, name)
		assert.True(t, shared.IsAlreadyExists(err))
	}

	// replacing the same name keeps working
	_, err = lib.Add("Wake Up", "c.wav", wav)
	require.NoError(t, err)
	require.NoError(t, lib.Remove("Wake Up"))
	exists, _ := afero.Exists(fs, "/sounds/wake_up.wav")
	assert.False(t, exists)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "classic_beep", Slug("Classic Beep"))
	assert.Equal(t, "my-sound_2", Slug(" My-Sound_2 "))
}
