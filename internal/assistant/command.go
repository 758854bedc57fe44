package assistant

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandTranscriber runs an external speech recognizer. The WAV clip is
// written to its stdin and whatever it prints on stdout is the text.
type CommandTranscriber struct {
	Path string
	Args []string
}

// ParseCommandTranscriber splits a command line on whitespace.
func ParseCommandTranscriber(cmdline string) (CommandTranscriber, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return CommandTranscriber{}, fmt.Errorf("empty transcriber command")
	}
	return CommandTranscriber{Path: fields[0], Args: fields[1:]}, nil
}

func (c CommandTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(wav)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", c.Path, err, msg)
		}
		return "", fmt.Errorf("%s: %w", c.Path, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

var _ Transcriber = CommandTranscriber{}
