package engine

import (
	"testing"
	"time"

	"github.com/glowdeck/stripsync/internal/bridge"
)

func TestSetDefaultsFillsZeroValues(t *testing.T) {
	t.Parallel()

	opts := EngineOptions{Bridge: bridge.NewMemory()}
	opts.setDefaults()

	if opts.FrameInterval != 33*time.Millisecond {
		t.Fatalf("expected 33ms frame interval, got %v", opts.FrameInterval)
	}
	if opts.PollInterval != 200*time.Millisecond {
		t.Fatalf("expected 200ms poll interval, got %v", opts.PollInterval)
	}
	if opts.PollRetryInterval != 2*time.Second {
		t.Fatalf("expected 2s poll retry interval, got %v", opts.PollRetryInterval)
	}
	if opts.StallWindow != 500*time.Millisecond {
		t.Fatalf("expected 500ms stall window, got %v", opts.StallWindow)
	}
	if opts.OutputBuffer != 16 {
		t.Fatalf("expected output buffer of 16, got %d", opts.OutputBuffer)
	}
	if opts.Logger == nil || opts.Metrics == nil || opts.Retry == nil || opts.now == nil {
		t.Fatalf("expected ambient defaults to be populated")
	}
}

func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	metrics := NewInMemoryMetrics()
	opts := EngineOptions{
		Bridge:        bridge.NewMemory(),
		FrameInterval: 50 * time.Millisecond,
		StallWindow:   time.Second,
		Logger:        NoOpLogger{},
		Metrics:       metrics,
	}
	opts.setDefaults()

	if opts.FrameInterval != 50*time.Millisecond || opts.StallWindow != time.Second {
		t.Fatalf("explicit intervals were overwritten: %+v", opts)
	}
	if opts.Metrics != metrics {
		t.Fatalf("explicit metrics collector was replaced")
	}
	if _, ok := opts.Logger.(NoOpLogger); !ok {
		t.Fatalf("explicit logger was replaced")
	}
}

func TestValidateRequiresBridge(t *testing.T) {
	t.Parallel()

	opts := EngineOptions{}
	opts.setDefaults()
	if err := opts.validate(); err == nil {
		t.Fatalf("expected error for missing bridge")
	}
}

func TestValidateRejectsStallWindowBelowFrameInterval(t *testing.T) {
	t.Parallel()

	opts := EngineOptions{
		Bridge:        bridge.NewMemory(),
		FrameInterval: 100 * time.Millisecond,
		StallWindow:   50 * time.Millisecond,
	}
	opts.setDefaults()
	if err := opts.validate(); err == nil {
		t.Fatalf("expected error for stall window below frame interval")
	}
}
