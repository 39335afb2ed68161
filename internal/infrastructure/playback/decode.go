package playback

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// MaxClipLength caps how much of a custom sound is decoded. Alarm sounds
// loop, so anything longer only costs memory.
const MaxClipLength = 2 * time.Minute

const resampleQuality = 4

type decodeFunc func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]decodeFunc{
	".wav":  func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(rc) },
	".mp3":  mp3.Decode,
	".ogg":  vorbis.Decode,
	".flac": func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(rc) },
}

// AllowedExtensions are the custom sound file types the server can decode.
var AllowedExtensions = func() map[string]bool {
	m := make(map[string]bool, len(decoders))
	for ext := range decoders {
		m[ext] = true
	}
	return m
}()

// DecodeClip decodes an encoded sound file into a clip in DeviceFormat,
// resampling and downmixing as needed. ext selects the decoder.
func DecodeClip(name, ext string, data []byte) (Clip, error) {
	decode, ok := decoders[strings.ToLower(ext)]
	if !ok {
		return Clip{}, fmt.Errorf("no decoder for %q", ext)
	}
	stream, format, err := decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return Clip{}, fmt.Errorf("decode %s: %w", ext, err)
	}
	defer stream.Close()

	target := beep.SampleRate(DeviceFormat.SampleRate)
	var src beep.Streamer = stream
	if format.SampleRate != target {
		src = beep.Resample(resampleQuality, format.SampleRate, target, stream)
	}

	limit := target.N(MaxClipLength)
	pcm := make([]byte, 0, min(limit, target.N(10*time.Second))*2)
	buf := make([][2]float64, 1024)
	frames := 0
	for frames < limit {
		n, ok := src.Stream(buf[:min(len(buf), limit-frames)])
		for _, s := range buf[:n] {
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(toInt16((s[0]+s[1])/2)))
		}
		frames += n
		if !ok {
			break
		}
	}
	if err := src.Err(); err != nil {
		return Clip{}, fmt.Errorf("decode %s: %w", ext, err)
	}
	if frames == 0 {
		return Clip{}, fmt.Errorf("decode %s: no audio frames", ext)
	}
	return Clip{Name: name, Format: DeviceFormat, PCM: pcm}, nil
}

func toInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}
