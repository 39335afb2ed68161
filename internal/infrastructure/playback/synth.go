package playback

import (
	"encoding/binary"
	"math"
	"strings"
	"time"
)

// SampleRate is the rate of synthesized clips and of the output device.
const SampleRate = 44100

// Format describes raw PCM data.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DeviceFormat is the format every sink accepts: 44.1kHz mono signed 16-bit
// little endian.
var DeviceFormat = Format{SampleRate: SampleRate, Channels: 1, BitDepth: 16}

// Clip is one playable pass of a sound.
type Clip struct {
	Name   string
	Format Format
	PCM    []byte
}

// Duration returns the playing time of one pass.
func (c Clip) Duration() time.Duration {
	frame := c.Format.Channels * c.Format.BitDepth / 8
	if frame <= 0 || c.Format.SampleRate <= 0 {
		return 0
	}
	frames := len(c.PCM) / frame
	return time.Duration(frames) * time.Second / time.Duration(c.Format.SampleRate)
}

// Waveform is the oscillator shape of a synthesized profile.
type Waveform string

const (
	Sine     Waveform = "sine"
	Square   Waveform = "square"
	Sawtooth Waveform = "sawtooth"
	Triangle Waveform = "triangle"
)

// Profile is a built-in synthesized sound. One pass is Duration of tone
// followed by Pause of silence.
type Profile struct {
	Name        string
	Description string
	Waveform    Waveform
	Freq        float64
	FreqEnd     float64 // sweep target; zero means constant Freq
	Duration    time.Duration
	Pause       time.Duration
}

// Builtins are the synthesized sounds shipped with the engine, in display
// order. The first one is the default.
var Builtins = []Profile{
	{Name: "Classic Beep", Description: "Sharp digital beep", Waveform: Square, Freq: 880, Duration: 250 * time.Millisecond, Pause: 100 * time.Millisecond},
	{Name: "Gentle Bell", Description: "Soft sine bell", Waveform: Sine, Freq: 523, Duration: 600 * time.Millisecond, Pause: 400 * time.Millisecond},
	{Name: "Alarm Siren", Description: "Rising siren waveform", Waveform: Sawtooth, Freq: 400, FreqEnd: 800, Duration: 400 * time.Millisecond, Pause: 50 * time.Millisecond},
	{Name: "Digital Pulse", Description: "Fast digital pulse", Waveform: Square, Freq: 1200, Duration: 80 * time.Millisecond, Pause: 50 * time.Millisecond},
	{Name: "Deep Horn", Description: "Low triangle wave horn", Waveform: Triangle, Freq: 220, Duration: 800 * time.Millisecond, Pause: 200 * time.Millisecond},
}

// Slug turns a display name into a reference-safe identifier.
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '_':
			b.WriteByte('_')
		}
	}
	return b.String()
}

const (
	amplitude = 0.7
	attack    = 0.010 // seconds
	release   = 0.050 // seconds
)

// Render synthesizes one pass of the profile as 16-bit mono PCM.
func (p Profile) Render() Clip {
	n := int(float64(SampleRate) * p.Duration.Seconds())
	silence := int(float64(SampleRate) * p.Pause.Seconds())
	pcm := make([]byte, 2*(n+silence))

	freqEnd := p.FreqEnd
	if freqEnd == 0 {
		freqEnd = p.Freq
	}

	for i := 0; i < n; i++ {
		t := float64(i) / SampleRate
		f := p.Freq + (freqEnd-p.Freq)*float64(i)/float64(n)
		cycles := f * t

		var v float64
		switch p.Waveform {
		case Square:
			if math.Sin(2*math.Pi*cycles) >= 0 {
				v = 1
			} else {
				v = -1
			}
		case Sawtooth:
			v = 2*frac(cycles) - 1
		case Triangle:
			v = 2*math.Abs(2*frac(cycles)-1) - 1
		default:
			v = math.Sin(2 * math.Pi * cycles)
		}

		env := math.Min(float64(i)/(SampleRate*attack), 1) *
			math.Min(float64(n-i)/(SampleRate*release), 1)
		sample := int16(v * env * amplitude * math.MaxInt16)
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(sample))
	}

	return Clip{Name: p.Name, Format: DeviceFormat, PCM: pcm}
}

func frac(x float64) float64 {
	return x - math.Floor(x)
}
