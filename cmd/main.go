package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/glowdeck/stripsync/internal/bridge"
	"github.com/glowdeck/stripsync/internal/cli"
	"github.com/glowdeck/stripsync/internal/core/engine"
	"github.com/glowdeck/stripsync/internal/tui"
)

// main bootstraps the strip board against a running LED backend.
func main() {
	var (
		backendURL    = flag.String("backend-url", "", "base URL of the LED backend (defaults to STRIPSYNC_BACKEND_URL)")
		headless      = flag.Bool("headless", false, "run without the TUI and stream events to stdout")
		frameInterval = flag.Duration("frame-interval", 33*time.Millisecond, "minimum interval between rendered frames")
		logLevel      = flag.String("log-level", "info", "minimum log level (debug, info, warn, error)")
		logFile       = flag.String("log-file", "", "write engine logs to this file instead of discarding them (TUI mode)")
		skipProbe     = flag.Bool("skip-probe", false, "skip the startup backend probe")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		// A missing .env file is fine, but other errors should be surfaced to help with debugging.
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
			os.Exit(1)
		}
	}

	backend := strings.TrimSpace(*backendURL)
	if backend == "" {
		backend = os.Getenv("STRIPSYNC_BACKEND_URL")
	}
	if backend == "" {
		backend = "http://127.0.0.1:24680"
	}
	backend = strings.TrimRight(backend, "/")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *headless {
		args := []string{
			"-backend-url", backend,
			"-frame-interval", frameInterval.String(),
			"-log-level", *logLevel,
		}
		if *skipProbe {
			args = append(args, "-skip-probe")
		}
		os.Exit(cli.Run(ctx, args, os.Stdout, os.Stderr))
	}

	if !*skipProbe {
		result, summary := probeBackend(ctx, backend)
		fmt.Fprintln(os.Stderr, summary)
		if !result.Healthy() {
			fmt.Fprintln(os.Stderr, "backend failed the health check; start it (or the simulator) and retry")
			os.Exit(1)
		}
	}

	// The TUI owns the terminal, so engine logs go to a file or nowhere.
	var logWriter io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logWriter = f
	}

	sse := bridge.NewSSEClient(backend, nil)
	sse.Start(ctx)
	defer sse.Close()

	options := engine.EngineOptions{
		Bridge:        sse,
		FrameInterval: *frameInterval,
		Logger:        engine.NewStdLogger(parseLogLevel(*logLevel), logWriter),
		Metrics:       engine.NewInMemoryMetrics(),
	}

	os.Exit(tui.Run(ctx, options))
}

func parseLogLevel(level string) engine.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return engine.LogLevelDebug
	case "warn", "warning":
		return engine.LogLevelWarn
	case "error":
		return engine.LogLevelError
	default:
		return engine.LogLevelInfo
	}
}
