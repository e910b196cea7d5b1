package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zsiec/framecast/capture"
	"github.com/zsiec/framecast/internal/config"
	"github.com/zsiec/framecast/transport"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var src capture.Source
	switch cfg.Source {
	case config.SourceScreen:
		src = &capture.ScreenSource{Width: cfg.Width, Height: cfg.Height}
	default:
		src = capture.NewPatternSource(cfg.Width, cfg.Height)
	}
	if cfg.Flip {
		src = capture.Flipped(src)
	}

	client := capture.NewClient(capture.Config{
		Addr: cfg.Addr,
		Transport: transport.Config{
			Network:     cfg.Transport,
			Fingerprint: cfg.Fingerprint,
		},
		Quality:  cfg.Quality,
		Interval: cfg.Interval,
		Reconnect: capture.ReconnectConfig{
			MaxRetries:    cfg.Retries,
			RetryDelay:    cfg.RetryDelay,
			MaxRetryDelay: 30 * time.Second,
		},
	}, src)
	defer client.Close()

	slog.Info("framecast capture starting",
		"version", version,
		"addr", cfg.Addr,
		"transport", cfg.Transport,
		"source", cfg.Source,
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"every", cfg.Interval,
		"tick_rate", cfg.TickRate,
		"quality", cfg.Quality,
	)

	if err := client.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("cannot reach server", "error", err)
		os.Exit(1)
	}

	if err := capture.Drive(ctx, client, cfg.TickRate); err != nil {
		slog.Error("capture aborted", "error", err)
		client.Close()
		os.Exit(1)
	}
	slog.Info("capture stopped", "stats", client.Stats())
}
