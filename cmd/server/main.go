package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/logger"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/voice-relay-chat/internal/server"
	"github.com/omochice/voice-relay-chat/internal/status"
)

func main() {
	cfg := server.DefaultConfig()
	statusCfg := status.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to listen on for both TCP and WebSocket clients")
	flag.StringVar(&cfg.WebSocketPath, "ws-path", cfg.WebSocketPath, "Path accepted for WebSocket upgrades")
	flag.IntVar(&cfg.QueueSize, "queue", cfg.QueueSize, "Frames buffered per participant before dropping")
	flag.DurationVar(&cfg.HandshakeTimeout, "handshake-timeout", cfg.HandshakeTimeout, "Time allowed to send the display name (0 waits forever)")
	flag.StringVar(&statusCfg.Addr, "status", statusCfg.Addr, "Address for the HTTP status API (empty disables it)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger.SetLevel(*logLevel)

	if err := run(cfg, statusCfg); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("Relay server stopped")
}

func run(cfg server.Config, statusCfg status.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")
		srv.Stop()
		return nil
	})
	if statusCfg.Addr != "" {
		api := status.NewServer(srv, statusCfg)
		g.Go(func() error {
			return api.ListenAndServe(ctx)
		})
	}

	return g.Wait()
}
