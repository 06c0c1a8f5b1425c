// Package cli runs the engine headless: probe the backend, connect the
// SSE bridge, and stream engine events to stdout as log lines. Useful
// for soak-testing a backend without a terminal UI.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/glowdeck/stripsync/internal/bridge"
	"github.com/glowdeck/stripsync/internal/core/engine"
	"github.com/glowdeck/stripsync/internal/probe"
)

// Run executes the headless engine using the provided CLI arguments.
// It returns a POSIX-style exit code indicating whether execution succeeded.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	if err := godotenv.Load(); err != nil {
		// A missing .env file is fine, but other errors should be surfaced to help with debugging.
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(stderr, "failed to load .env: %v\n", err)
			return 1
		}
	}

	defaultBackend := os.Getenv("STRIPSYNC_BACKEND_URL")
	if defaultBackend == "" {
		defaultBackend = "http://127.0.0.1:24680"
	}

	flagSet := flag.NewFlagSet("stripsync", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	backendURL := flagSet.String("backend-url", defaultBackend, "base URL of the LED backend")
	frameInterval := flagSet.Duration("frame-interval", 33*time.Millisecond, "minimum interval between rendered frames")
	pollInterval := flagSet.Duration("poll-interval", 200*time.Millisecond, "polling cadence while the push channel is stalled")
	logLevel := flagSet.String("log-level", "info", "minimum log level (debug, info, warn, error)")
	maxFrames := flagSet.Uint64("frames", 0, "exit after this many frames (0 runs until interrupted)")
	skipProbe := flagSet.Bool("skip-probe", false, "skip the startup backend probe")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	backend := strings.TrimRight(strings.TrimSpace(*backendURL), "/")
	if backend == "" {
		fmt.Fprintln(stderr, "a backend URL must be provided")
		return 1
	}

	if !*skipProbe {
		result := probe.Run(ctx, probe.NewContext(backend))
		fmt.Fprintln(stdout, probe.FormatSummary(result))
		if !result.Healthy() {
			fmt.Fprintln(stderr, "backend failed the health check")
			return 1
		}
	}

	sse := bridge.NewSSEClient(backend, nil)
	sse.Start(ctx)
	defer sse.Close()

	eng, err := engine.New(engine.EngineOptions{
		Bridge:        sse,
		FrameInterval: *frameInterval,
		PollInterval:  *pollInterval,
		Logger:        engine.NewStdLogger(parseLogLevel(*logLevel), stderr),
		Metrics:       engine.NewInMemoryMetrics(),
	})
	if err != nil {
		fmt.Fprintf(stderr, "failed to create engine: %v\n", err)
		return 1
	}

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- eng.Run(ctx) }()
	defer eng.Teardown()

	var frames uint64
	for {
		select {
		case evt := <-eng.Outputs():
			printEvent(stdout, evt)
			if evt.Type == engine.EventTypeFrame {
				frames++
				if *maxFrames > 0 && frames >= *maxFrames {
					eng.Teardown()
					printSnapshot(stdout, eng.MetricsSnapshot())
					return 0
				}
			}
		case err := <-runErrCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(stderr, "engine error: %v\n", err)
				return 1
			}
			printSnapshot(stdout, eng.MetricsSnapshot())
			return 0
		}
	}
}

func printEvent(stdout io.Writer, evt engine.EngineEvent) {
	switch evt.Type {
	case engine.EventTypeFrame:
		if evt.Frame != nil {
			fmt.Fprintf(stdout, "[frame] generation=%d mode=%s bytes=%d\n",
				evt.Frame.Generation, evt.Frame.Mode, len(evt.Frame.Buffer))
		}
	default:
		if evt.Level != "" {
			fmt.Fprintf(stdout, "[%s:%s] %s\n", evt.Type, evt.Level, evt.Message)
		} else {
			fmt.Fprintf(stdout, "[%s] %s\n", evt.Type, evt.Message)
		}
	}
}

func printSnapshot(stdout io.Writer, snap engine.MetricsSnapshot) {
	fmt.Fprintf(stdout, "frames=%d coalesced=%d fragments=%d dropped=%d polls=%d poll_failures=%d commands=%d\n",
		snap.FramesRendered, snap.FramesCoalesced,
		snap.FragmentsIngested, snap.FragmentsDropped,
		snap.Polls, snap.PollFailures, snap.Commands)
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
