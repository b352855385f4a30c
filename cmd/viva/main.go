// Command viva runs a real-time voice interview session against the Admitly
// interview backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/admitly/viva/internal/app"
	"github.com/admitly/viva/internal/config"
	"github.com/admitly/viva/internal/interview"
	"github.com/admitly/viva/pkg/audio/opusin"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	targetID := flag.String("target", "", "interview target id (required)")
	noResume := flag.Bool("no-resume", false, "discard any resumable session and start fresh")
	audioInput := flag.String("audio-input", "", "audio input: mic, opus (length-framed packets on stdin) or none; empty follows the config")
	flag.Parse()

	if *targetID == "" {
		fmt.Fprintln(os.Stderr, "viva: -target is required")
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "viva: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "viva: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("viva starting",
		"config", *configPath,
		"target", *targetID,
		"endpoints", len(cfg.Transport.Endpoints),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Audio input ───────────────────────────────────────────────────────────
	var opts []app.Option
	var opusSrc *opusin.Source
	switch *audioInput {
	case "", "mic":
		// The config decides; an explicit "mic" additionally forces capture on.
		if *audioInput == "mic" {
			cfg.Audio.Enabled = true
		}
	case "opus":
		opusSrc = opusin.New()
		opts = append(opts, app.WithAudioSource(opusSrc))
	case "none":
		cfg.Audio.Enabled = false
	default:
		fmt.Fprintf(os.Stderr, "viva: unknown -audio-input %q\n", *audioInput)
		return 2
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Feed stdin Opus packets to the session once capture has started.
	if opusSrc != nil {
		go func() {
			if err := opusSrc.ReadStream(os.Stdin); err != nil {
				slog.Warn("opus input stream ended", "err", err)
			}
		}()
	}

	slog.Info("session starting — press Ctrl+C to stop and save a resume point")

	err = application.Run(ctx, app.RunConfig{
		TargetID:      *targetID,
		DeclineResume: *noResume,
		OnPhase: func(p interview.Phase) {
			slog.Info("session phase", "phase", p)
		},
	})

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if shutdownErr := application.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("shutdown error", "err", shutdownErr)
	}

	switch {
	case err == nil:
		slog.Info("interview complete")
		return 0
	case errors.Is(err, interview.ErrStopped), errors.Is(err, context.Canceled):
		slog.Info("interview stopped, resume point saved")
		return 0
	default:
		slog.Error("interview failed", "err", err)
		return 1
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
