// Package audio handles the clip container exchanged by participants:
// single-channel PCM WAV that carries its own sample rate, bit depth and
// frame count.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the WAVE format code for integer PCM.
const wavFormatPCM = 1

// ErrInvalidWAV is returned for payloads that are not a readable WAV file.
var ErrInvalidWAV = errors.New("invalid wav data")

// Format describes PCM samples.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// DefaultFormat matches what the clients record: 16 kHz, 16-bit mono.
var DefaultFormat = Format{SampleRate: 16000, BitDepth: 16, Channels: 1}

// DefaultClipDuration is the length of a recorded voice message.
const DefaultClipDuration = 3 * time.Second

func (f Format) validate() error {
	switch {
	case f.SampleRate <= 0:
		return fmt.Errorf("sample rate %d", f.SampleRate)
	case f.BitDepth != 8 && f.BitDepth != 16 && f.BitDepth != 24 && f.BitDepth != 32:
		return fmt.Errorf("bit depth %d", f.BitDepth)
	case f.Channels <= 0:
		return fmt.Errorf("channel count %d", f.Channels)
	}
	return nil
}

// Clip is decoded PCM audio. Samples are interleaved when Channels > 1.
type Clip struct {
	Format  Format
	Samples []int
}

// Frames returns the number of sample frames.
func (c Clip) Frames() int {
	if c.Format.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Format.Channels
}

// Duration returns the playing time of the clip.
func (c Clip) Duration() time.Duration {
	if c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}

// WAV encodes the clip.
func (c Clip) WAV() ([]byte, error) {
	return EncodeWAV(c.Samples, c.Format)
}

// EncodeWAV wraps PCM samples in a WAV container.
func EncodeWAV(samples []int, format Format) ([]byte, error) {
	if err := format.validate(); err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}

	out := &memFile{}
	enc := wav.NewEncoder(out, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           samples,
		SourceBitDepth: format.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}
	return out.Bytes(), nil
}

// DecodeWAV reads a WAV payload into memory.
func DecodeWAV(data []byte) (Clip, error) {
	if !wav.NewDecoder(bytes.NewReader(data)).IsValidFile() {
		return Clip{}, ErrInvalidWAV
	}
	// Validation moves the reader, so decode from the start again.
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}
	if buf == nil {
		return Clip{}, ErrInvalidWAV
	}
	return Clip{
		Format: Format{
			SampleRate: int(dec.SampleRate),
			BitDepth:   int(dec.BitDepth),
			Channels:   int(dec.NumChans),
		},
		Samples: buf.Data,
	}, nil
}

// Tone synthesizes a sine wave at half of full scale. Only signed depths
// (16, 24 and 32 bits) produce a meaningful waveform.
func Tone(frequency float64, d time.Duration, format Format) Clip {
	frames := int(d.Seconds() * float64(format.SampleRate))
	amplitude := float64(int(1)<<(format.BitDepth-1)-1) / 2
	samples := make([]int, 0, frames*format.Channels)
	for i := 0; i < frames; i++ {
		v := int(amplitude * math.Sin(2*math.Pi*frequency*float64(i)/float64(format.SampleRate)))
		for ch := 0; ch < format.Channels; ch++ {
			samples = append(samples, v)
		}
	}
	return Clip{Format: format, Samples: samples}
}

// memFile is an in-memory io.WriteSeeker; the encoder seeks back to patch
// chunk sizes once all samples are written.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(abs)
	return abs, nil
}

func (m *memFile) Bytes() []byte {
	return m.buf
}
