package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/schollz/logger"

	"github.com/omochice/voice-relay-chat/internal/assistant"
	"github.com/omochice/voice-relay-chat/internal/audio"
	"github.com/omochice/voice-relay-chat/internal/client"
)

func main() {
	serverAddr := flag.String("server", "localhost:5555", "Server address (host:port, or a ws:// URL)")
	username := flag.String("username", "", "Display name for chat")
	transport := flag.String("transport", "tcp", "Transport to use (tcp or websocket)")
	clipDir := flag.String("clips", "received", "Directory where received voice clips are saved")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	botMode := flag.Bool("bot", false, "Answer voice messages with a transcription and a reply")
	sttCmd := flag.String("stt-cmd", "", "Speech recognizer for -bot: reads WAV on stdin, prints text")
	flag.Parse()

	logger.SetLevel(*logLevel)

	if *username == "" {
		fatalf("Username is required. Use -username flag")
	}

	cfg := client.DefaultConfig()
	t, err := client.ParseTransport(*transport)
	if err != nil {
		fatalf("%v", err)
	}
	cfg.Transport = t

	player, err := audio.NewDirPlayer(*clipDir)
	if err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bot *botWorker
	if *botMode {
		transcriber, err := assistant.ParseCommandTranscriber(*sttCmd)
		if err != nil {
			fatalf("Bot mode needs -stt-cmd: %v", err)
		}
		bot = newBotWorker(ctx, assistant.NewBot(ctx, &assistant.Pipeline{
			Transcriber: transcriber,
			Responder:   assistant.NewResponder(),
			Synthesizer: assistant.BeepSynthesizer{},
		}))
	}

	s := client.New(*serverAddr, *username, cfg, client.Handlers{
		OnText: func(sender, text string) {
			fmt.Printf("[%s]: %s\n", sender, text)
		},
		OnAudio: func(sender string, wav []byte) {
			path, err := player.Save(ctx, sender, wav)
			if err != nil {
				fmt.Printf("*** unreadable voice message from %s: %v ***\n", sender, err)
				return
			}
			fmt.Printf("*** voice message from %s saved to %s ***\n", sender, path)
			if bot != nil {
				bot.enqueue(sender, wav)
			}
		},
		OnRoster: func(users []string) {
			fmt.Printf("*** online: %s ***\n", strings.Join(users, ", "))
		},
		OnDisconnect: func(err error) {
			if err != nil {
				fmt.Printf("*** disconnected: %v ***\n", err)
			}
		},
	})

	if bot != nil {
		bot.Attach(s)
	}

	if err := s.Connect(); err != nil {
		fatalf("Failed to connect to server: %v", err)
	}
	defer s.Disconnect()

	fmt.Printf("Connected to %s as %s\n", *serverAddr, *username)
	fmt.Println("Type messages, /voice [file.wav], /users or /quit:")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Errorf("Error reading input: %v", err)
		}
	}()

	for {
		select {
		case <-s.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ctx, s, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// handleLine runs one input line and reports whether to keep going.
func handleLine(ctx context.Context, s *client.Session, line string) bool {
	switch {
	case line == "":
	case line == "/quit" || line == "quit" || line == "exit":
		return false
	case line == "/users":
		fmt.Printf("*** online: %s ***\n", strings.Join(s.Roster(), ", "))
	case line == "/voice" || strings.HasPrefix(line, "/voice "):
		var rec audio.Recorder = audio.ToneRecorder{}
		if path := strings.TrimSpace(strings.TrimPrefix(line, "/voice")); path != "" {
			rec = audio.FileRecorder{Path: path}
		}
		wav, err := rec.Record(ctx, audio.DefaultClipDuration)
		if err != nil {
			logger.Errorf("Failed to record: %v", err)
			return true
		}
		if err := s.SendAudio(wav); err != nil {
			logger.Errorf("Failed to send voice message: %v", err)
		}
	default:
		if err := s.SendText(line); err != nil {
			logger.Errorf("Failed to send message: %v", err)
		}
	}
	return true
}

// botWorker answers clips off the receive goroutine so a slow recognizer
// does not stall delivery and get the session dropped by the relay.
type botWorker struct {
	*assistant.Bot
	clips chan botClip
}

type botClip struct {
	sender string
	wav    []byte
}

func newBotWorker(ctx context.Context, bot *assistant.Bot) *botWorker {
	w := &botWorker{Bot: bot, clips: make(chan botClip, 8)}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-w.clips:
				w.OnAudio(c.sender, c.wav)
			}
		}
	}()
	return w
}

func (w *botWorker) enqueue(sender string, wav []byte) {
	select {
	case w.clips <- botClip{sender: sender, wav: wav}:
	default:
		logger.Warnf("Bot is busy, skipping voice message from %s", sender)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
