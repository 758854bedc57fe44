package assistant

import (
	"context"
	"fmt"
	"sync"

	"github.com/schollz/logger"
)

// Sender is the part of a client session the bot talks through.
type Sender interface {
	SendText(text string) error
	SendAudio(wav []byte) error
}

// Bot is a participant that answers voice messages. Wire OnAudio into the
// session's handlers, then Attach the session once it exists.
type Bot struct {
	Pipeline *Pipeline

	mu     sync.Mutex
	sender Sender
	ctx    context.Context
}

// NewBot creates a bot running p.
func NewBot(ctx context.Context, p *Pipeline) *Bot {
	return &Bot{Pipeline: p, ctx: ctx}
}

// Attach sets the session replies go out on.
func (b *Bot) Attach(s Sender) {
	b.mu.Lock()
	b.sender = s
	b.mu.Unlock()
}

// OnAudio processes a clip and posts the transcription and any reply.
func (b *Bot) OnAudio(from string, wav []byte) {
	if err := b.Handle(from, wav); err != nil {
		logger.Warnf("Bot failed to answer %s: %v", from, err)
	}
}

// Handle is OnAudio with the send error returned.
func (b *Bot) Handle(from string, wav []byte) error {
	b.mu.Lock()
	sender := b.sender
	b.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("bot is not attached to a session")
	}

	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	res := b.Pipeline.Process(ctx, wav)
	logger.Debugf("Clip from %s: %s", from, res.Outcome)
	if res.Outcome != Transcribed {
		return nil
	}

	if err := sender.SendText(fmt.Sprintf("%s said: %s", from, res.Text)); err != nil {
		return err
	}
	if res.Reply == "" {
		return nil
	}
	if err := sender.SendText(res.Reply); err != nil {
		return err
	}
	if len(res.ReplyAudio) > 0 {
		return sender.SendAudio(res.ReplyAudio)
	}
	return nil
}
