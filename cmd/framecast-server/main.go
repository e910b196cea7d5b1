package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/framecast/certs"
	"github.com/zsiec/framecast/display"
	"github.com/zsiec/framecast/internal/config"
	"github.com/zsiec/framecast/internal/queue"
	"github.com/zsiec/framecast/internal/viewer"
	"github.com/zsiec/framecast/media"
	"github.com/zsiec/framecast/server"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	tcfg := transport.Config{Network: cfg.Transport, Backlog: cfg.Backlog}
	if cfg.Transport == transport.NetworkQUIC {
		cert, err := certs.Generate(certs.DefaultValidity)
		if err != nil {
			slog.Error("failed to generate cert", "error", err)
			os.Exit(1)
		}
		tcfg.TLS = cert.ServerTLSConfig(transport.ALPN)
		slog.Info("certificate generated",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
	}

	var q *queue.Queue[*media.Frame]
	scfg := server.Config{
		Addr:         cfg.Addr,
		Transport:    tcfg,
		MaxFrameSize: cfg.FrameLimit(),
	}
	if cfg.Display {
		q = queue.New[*media.Frame](cfg.QueueCap)
		scfg.Queue = q
	}
	srv := server.New(scfg)

	if err := srv.Listen(); err != nil {
		slog.Error("cannot start", "error", err)
		os.Exit(1)
	}

	slog.Info("framecast server starting",
		"version", version,
		"addr", srv.Addr(),
		"transport", cfg.Transport,
		"display", cfg.Display,
		"sink", cfg.Sink,
		"max_frame", humanize.Bytes(uint64(cfg.FrameLimit())),
		"api", cfg.APIAddr,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ctx)
	})

	if cfg.APIAddr != "" {
		apiSrv := &http.Server{
			Addr:              cfg.APIAddr,
			Handler:           srv.APIHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("API server listening", "addr", cfg.APIAddr)
			if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return apiSrv.Shutdown(shutdownCtx)
		})
	}

	var (
		window *viewer.Window
		loop   *display.Loop
	)
	if cfg.Display {
		var sink display.Sink
		if cfg.Sink == config.SinkWindow {
			window = viewer.New("framecast", cfg.Width, cfg.Height, nil)
			sink = window
		} else {
			sink = display.NewLogSink(nil)
		}
		loop = display.NewLoop(q, sink, nil)
		loop.OnStop = srv.DisableDisplay

		if window != nil {
			window.Attach(loop)
			g.Go(func() error {
				<-ctx.Done()
				return loop.Stop()
			})
		} else {
			g.Go(func() error {
				return loop.Run(ctx)
			})
		}
	}

	// The window must own the main goroutine. Closing it ends display only;
	// producers keep being accepted until a signal arrives, but their frames
	// are no longer queued.
	if window != nil {
		if err := window.Run(); err != nil {
			slog.Error("display window failed", "error", err)
		}
		loop.Stop()
		for {
			if _, ok := q.TryPop(); !ok {
				break
			}
		}
		slog.Info("display closed, server still accepting; interrupt to exit")
	}

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
