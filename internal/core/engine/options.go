package engine

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/glowdeck/stripsync/internal/bridge"
)

// EngineOptions configures the engine. Zero values get sensible
// defaults; only the bridge is mandatory.
type EngineOptions struct {
	// Bridge is the backend boundary used for subscriptions and
	// command RPCs.
	Bridge bridge.Bridge

	// FrameInterval is the render pacing budget. Data arriving faster
	// than this is coalesced into at most one frame per interval.
	FrameInterval time.Duration
	// PollInterval is the polling cadence while the push channel is
	// considered stalled.
	PollInterval time.Duration
	// PollRetryInterval is the longer cadence after a failed poll.
	PollRetryInterval time.Duration
	// StallWindow is how long the push channel may stay silent before
	// the polling fallback engages.
	StallWindow time.Duration

	// OutputBuffer controls the capacity of the outputs channel.
	OutputBuffer int
	// EmitTimeout guards against blocking forever when no consumer
	// drains the outputs channel. Zero means wait indefinitely.
	EmitTimeout time.Duration

	// Logger receives structured engine logs. Defaults to a StdLogger
	// on LogWriter at Info level.
	Logger Logger
	// LogWriter is only consulted when Logger is nil.
	LogWriter io.Writer
	// Metrics collects engine counters. Defaults to NoOpMetrics.
	Metrics Metrics
	// Retry controls command invocation retries.
	Retry *RetryConfig

	// now is swapped in scheduler tests.
	now func() time.Time
}

func (o *EngineOptions) setDefaults() {
	if o.FrameInterval <= 0 {
		o.FrameInterval = 33 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.PollRetryInterval <= 0 {
		o.PollRetryInterval = 2 * time.Second
	}
	if o.StallWindow <= 0 {
		o.StallWindow = 500 * time.Millisecond
	}
	if o.OutputBuffer <= 0 {
		o.OutputBuffer = 16
	}
	if o.Logger == nil {
		w := o.LogWriter
		if w == nil {
			w = os.Stderr
		}
		o.Logger = NewStdLogger(LogLevelInfo, w)
	}
	if o.Metrics == nil {
		o.Metrics = NoOpMetrics{}
	}
	if o.Retry == nil {
		o.Retry = DefaultRetryConfig()
	}
	if o.now == nil {
		o.now = time.Now
	}
}

func (o *EngineOptions) validate() error {
	if o.Bridge == nil {
		return errors.New("a bridge is required")
	}
	if o.StallWindow < o.FrameInterval {
		return errors.New("stall window must not be shorter than the frame interval")
	}
	return nil
}
