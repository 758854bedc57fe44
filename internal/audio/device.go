package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/logger"
)

// Recorder captures a clip of the given length and returns it as WAV.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) ([]byte, error)
}

// Player plays a WAV clip received from sender.
type Player interface {
	Play(ctx context.Context, sender string, wav []byte) error
}

var (
	_ Recorder = ToneRecorder{}
	_ Recorder = FileRecorder{}
	_ Player   = (*DirPlayer)(nil)
)

// ToneRecorder stands in for a microphone by producing a sine tone.
type ToneRecorder struct {
	Frequency float64
	Format    Format
}

// Record returns a tone of length d. It honours ctx like a blocking capture
// would.
func (r ToneRecorder) Record(ctx context.Context, d time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format := r.Format
	if format == (Format{}) {
		format = DefaultFormat
	}
	freq := r.Frequency
	if freq <= 0 {
		freq = 440
	}
	return Tone(freq, d, format).WAV()
}

// FileRecorder replays a WAV file from disk instead of capturing.
type FileRecorder struct {
	Path string
}

// Record ignores d: the file decides the clip length.
func (r FileRecorder) Record(ctx context.Context, _ time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clip: %w", err)
	}
	if _, err := DecodeWAV(data); err != nil {
		return nil, fmt.Errorf("%s: %w", r.Path, err)
	}
	return data, nil
}

// DirPlayer saves every clip it is asked to play into Dir as
// <sender>-<n>.wav.
type DirPlayer struct {
	Dir string

	mu    sync.Mutex
	count map[string]int
}

// NewDirPlayer creates dir if needed.
func NewDirPlayer(dir string) (*DirPlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clip directory: %w", err)
	}
	return &DirPlayer{Dir: dir, count: make(map[string]int)}, nil
}

// Play validates the clip and writes it to disk.
func (p *DirPlayer) Play(ctx context.Context, sender string, wav []byte) error {
	_, err := p.Save(ctx, sender, wav)
	return err
}

// Save is Play that also returns the written path.
func (p *DirPlayer) Save(ctx context.Context, sender string, wav []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clip, err := DecodeWAV(wav)
	if err != nil {
		return "", fmt.Errorf("clip from %s: %w", sender, err)
	}

	p.mu.Lock()
	if p.count == nil {
		p.count = make(map[string]int)
	}
	p.count[sender]++
	n := p.count[sender]
	p.mu.Unlock()

	path := filepath.Join(p.Dir, fmt.Sprintf("%s-%d.wav", safeName(sender), n))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("failed to save clip: %w", err)
	}
	logger.Debugf("Saved %s clip from %s to %s", clip.Duration(), sender, path)
	return path, nil
}

// safeName keeps display names from escaping the clip directory.
func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < ' ':
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, ". ")
	if name == "" {
		return "unknown"
	}
	return name
}
