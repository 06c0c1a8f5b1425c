// Package engine implements the LED strip sequence and color
// synchronization core: strip registry, fragment reassembly, reorder
// gestures and render pacing.
package engine

import (
	"sync"
	"time"
)

// Metrics collects engine counters for monitoring and the status line.
type Metrics interface {
	// RecordFragment records an ingested color fragment and whether it
	// was accepted into the cache.
	RecordFragment(bytes int, accepted bool)
	// RecordFrame records a delivered render frame; coalesced reports
	// how many data arrivals the frame superseded.
	RecordFrame(coalesced int)
	// RecordModeReset records a fragment cache reset caused by a mode
	// transition.
	RecordModeReset(from, to Mode)
	// RecordPoll records a polling-fallback attempt.
	RecordPoll(duration time.Duration, success bool)
	// RecordCommand records a bridge command invocation.
	RecordCommand(name string, duration time.Duration, success bool)
	// Snapshot returns the current counters.
	Snapshot() MetricsSnapshot
	// Reset clears all counters.
	Reset()
}

// MetricsSnapshot is a point-in-time view of collected counters.
type MetricsSnapshot struct {
	FragmentsIngested int64
	FragmentsDropped  int64
	FragmentBytes     int64
	FramesRendered    int64
	FramesCoalesced   int64
	ModeResets        int64
	Polls             int64
	PollFailures      int64
	Commands          int64
	CommandFailures   int64
	LastFrameTime     time.Time
	LastPollTime      time.Time
	LastCommandTime   time.Time
}

// NoOpMetrics discards all measurements.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordFragment(int, bool)                  {}
func (NoOpMetrics) RecordFrame(int)                           {}
func (NoOpMetrics) RecordModeReset(Mode, Mode)                {}
func (NoOpMetrics) RecordPoll(time.Duration, bool)            {}
func (NoOpMetrics) RecordCommand(string, time.Duration, bool) {}
func (NoOpMetrics) Snapshot() MetricsSnapshot                 { return MetricsSnapshot{} }
func (NoOpMetrics) Reset()                                    {}

// InMemoryMetrics is a thread-safe in-memory collector.
type InMemoryMetrics struct {
	mu   sync.RWMutex
	snap MetricsSnapshot
}

// NewInMemoryMetrics creates an empty collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

func (m *InMemoryMetrics) RecordFragment(bytes int, accepted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accepted {
		m.snap.FragmentsIngested++
		m.snap.FragmentBytes += int64(bytes)
	} else {
		m.snap.FragmentsDropped++
	}
}

func (m *InMemoryMetrics) RecordFrame(coalesced int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.FramesRendered++
	m.snap.FramesCoalesced += int64(coalesced)
	m.snap.LastFrameTime = time.Now()
}

func (m *InMemoryMetrics) RecordModeReset(_, _ Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.ModeResets++
}

func (m *InMemoryMetrics) RecordPoll(_ time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Polls++
	if !success {
		m.snap.PollFailures++
	}
	m.snap.LastPollTime = time.Now()
}

func (m *InMemoryMetrics) RecordCommand(_ string, _ time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Commands++
	if !success {
		m.snap.CommandFailures++
	}
	m.snap.LastCommandTime = time.Now()
}

func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = MetricsSnapshot{}
}
