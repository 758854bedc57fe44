// Package assistant turns voice messages into text and optional spoken
// replies. Speech recognition and synthesis are supplied by the caller.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/schollz/logger"

	"github.com/omochice/voice-relay-chat/internal/audio"
)

// Transcriber converts a WAV clip to text. An empty result means no speech.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Synthesizer converts text to a WAV clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, wav []byte) (string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return f(ctx, wav)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text string) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

// BeepSynthesizer stands in for speech synthesis with a tone whose length
// grows with the text.
type BeepSynthesizer struct {
	PerWord time.Duration
}

func (b BeepSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return nil, fmt.Errorf("nothing to say")
	}
	per := b.PerWord
	if per <= 0 {
		per = 150 * time.Millisecond
	}
	return audio.Tone(660, time.Duration(words)*per, audio.DefaultFormat).WAV()
}

// Outcome classifies what transcription produced.
type Outcome int

const (
	Transcribed Outcome = iota
	NoSpeechDetected
	TranscriptionFailed
)

func (o Outcome) String() string {
	switch o {
	case Transcribed:
		return "transcribed"
	case NoSpeechDetected:
		return "no speech detected"
	case TranscriptionFailed:
		return "transcription failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is the outcome of processing one clip. Text is set only when
// Outcome is Transcribed; Reply and ReplyAudio may still be empty.
type Result struct {
	Outcome    Outcome
	Text       string
	Reply      string
	ReplyAudio []byte
}

// Pipeline runs audio -> text -> reply -> audio. Failures are logged and
// folded into the Result.
type Pipeline struct {
	Transcriber Transcriber
	// Responder may be nil to only transcribe.
	Responder *Responder
	// Synthesizer may be nil to reply with text only.
	Synthesizer Synthesizer
}

// Process handles one WAV clip.
func (p *Pipeline) Process(ctx context.Context, wav []byte) Result {
	if p.Transcriber == nil {
		return Result{Outcome: TranscriptionFailed}
	}

	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		logger.Warnf("Cannot transcribe clip: %v", err)
		return Result{Outcome: TranscriptionFailed}
	}
	if clip.Format.Channels != 1 {
		logger.Warnf("Cannot transcribe clip: %d channels, want mono", clip.Format.Channels)
		return Result{Outcome: TranscriptionFailed}
	}

	text, err := p.Transcriber.Transcribe(ctx, wav)
	if err != nil {
		logger.Warnf("Transcription failed: %v", err)
		return Result{Outcome: TranscriptionFailed}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		logger.Debug("No speech detected")
		return Result{Outcome: NoSpeechDetected}
	}

	res := Result{Outcome: Transcribed, Text: text}
	if p.Responder == nil {
		return res
	}
	res.Reply = p.Responder.Respond(text)
	if res.Reply == "" || p.Synthesizer == nil {
		return res
	}

	speech, err := p.Synthesizer.Synthesize(ctx, res.Reply)
	if err != nil {
		logger.Warnf("Speech synthesis failed: %v", err)
		return res
	}
	res.ReplyAudio = speech
	return res
}
