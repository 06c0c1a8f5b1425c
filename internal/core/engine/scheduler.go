package engine

import (
	"context"
	"sync"
	"time"
)

// renderFunc delivers one paced buffer; coalesced is the number of
// earlier arrivals the buffer superseded within the frame window.
type renderFunc func(buf []byte, coalesced int)

// pollFunc fetches the current colors when the push channel stalls.
type pollFunc func(ctx context.Context) ([]byte, error)

// RenderScheduler throttles buffer delivery to a fixed frame interval
// and engages active polling when push events stop arriving.
//
// Pacing: a buffer arriving after the frame interval has elapsed
// renders immediately; otherwise it is stored as pending and a one-shot
// timer fires at the interval boundary with the latest pending buffer.
// Bursts coalesce into one frame per window, never a queue.
//
// Liveness: when no push arrives within the stall window, the poll
// function runs at the poll interval, backing off to the retry interval
// after a failure. Polling stops the instant a push arrives.
type RenderScheduler struct {
	frameInterval     time.Duration
	pollInterval      time.Duration
	pollRetryInterval time.Duration
	stallWindow       time.Duration
	now               func() time.Time
	render            renderFunc
	poll              pollFunc
	logger            Logger
	metrics           Metrics

	mu           sync.Mutex
	ctx          context.Context
	started      bool
	stopped      bool
	lastRender   time.Time
	pending      []byte
	pendingCount int
	frameTimer   *time.Timer
	lastPush     time.Time
	watchdog     *time.Timer
	pollTimer    *time.Timer
	polling      bool
}

// newRenderScheduler wires a scheduler from engine options. A nil poll
// function disables the fallback.
func newRenderScheduler(opts *EngineOptions, render renderFunc, poll pollFunc) *RenderScheduler {
	return &RenderScheduler{
		frameInterval:     opts.FrameInterval,
		pollInterval:      opts.PollInterval,
		pollRetryInterval: opts.PollRetryInterval,
		stallWindow:       opts.StallWindow,
		now:               opts.now,
		render:            render,
		poll:              poll,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
	}
}

// Start arms the liveness watchdog. ctx bounds poll calls; Stop (or
// cancelling ctx and then Stop) releases every timer.
func (s *RenderScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.ctx = ctx
	s.lastPush = s.now()
	s.armWatchdogLocked()
}

// OnPush routes a pushed buffer through frame pacing. Push always takes
// priority: it resets the stall clock and cancels any active polling.
func (s *RenderScheduler) OnPush(buf []byte) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.lastPush = s.now()
	if s.polling {
		s.polling = false
		if s.pollTimer != nil {
			s.pollTimer.Stop()
			s.pollTimer = nil
		}
		s.logger.Debug(context.Background(), "Push resumed, polling fallback disabled")
	}
	s.armWatchdogLocked()
	s.onDataLocked(buf)
}

// onDataLocked implements the pacing decision. Callers hold s.mu; the
// lock is released before any render callback runs.
func (s *RenderScheduler) onDataLocked(buf []byte) {
	nowTime := s.now()
	elapsed := nowTime.Sub(s.lastRender)

	if elapsed >= s.frameInterval && s.frameTimer == nil {
		s.lastRender = nowTime
		coalesced := s.pendingCount
		s.pending = nil
		s.pendingCount = 0
		s.mu.Unlock()
		s.metrics.RecordFrame(coalesced)
		s.render(buf, coalesced)
		return
	}

	s.pending = buf
	s.pendingCount++
	if s.frameTimer == nil {
		wait := s.frameInterval - elapsed
		if wait <= 0 {
			wait = s.frameInterval
		}
		s.frameTimer = time.AfterFunc(wait, s.frameTick)
	}
	s.mu.Unlock()
}

// frameTick renders the latest pending buffer, superseding any earlier
// one from the same window.
func (s *RenderScheduler) frameTick() {
	s.mu.Lock()
	s.frameTimer = nil
	if s.stopped || s.pending == nil {
		s.mu.Unlock()
		return
	}
	buf := s.pending
	coalesced := s.pendingCount - 1
	s.pending = nil
	s.pendingCount = 0
	s.lastRender = s.now()
	s.mu.Unlock()

	s.metrics.RecordFrame(coalesced)
	s.render(buf, coalesced)
}

func (s *RenderScheduler) armWatchdogLocked() {
	if s.poll == nil || s.stopped {
		return
	}
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.watchdog = time.AfterFunc(s.stallWindow, s.watchdogFire)
}

func (s *RenderScheduler) watchdogFire() {
	s.mu.Lock()
	if s.stopped || s.polling {
		s.mu.Unlock()
		return
	}
	if s.now().Sub(s.lastPush) <= s.stallWindow {
		// A push raced the timer; it re-armed the watchdog already.
		s.mu.Unlock()
		return
	}
	s.polling = true
	s.mu.Unlock()

	s.logger.Warn(context.Background(), "Push channel stalled, engaging polling fallback",
		Field("stall_window", s.stallWindow))
	s.pollOnce()
}

func (s *RenderScheduler) pollOnce() {
	s.mu.Lock()
	if s.stopped || !s.polling {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	buf, err := s.poll(ctx)
	s.metrics.RecordPoll(time.Since(start), err == nil)

	s.mu.Lock()
	if s.stopped || !s.polling {
		s.mu.Unlock()
		return
	}
	next := s.pollInterval
	if err != nil {
		next = s.pollRetryInterval
		s.logger.Warn(context.Background(), "Poll failed, backing off",
			Field("retry_in", next),
			Field("error", err))
	}
	s.pollTimer = time.AfterFunc(next, s.pollOnce)
	if err != nil || buf == nil {
		s.mu.Unlock()
		return
	}
	// Poll results share the pacing path but do not reset the stall
	// clock; only a real push disables polling.
	s.onDataLocked(buf)
}

// NotifyStalled engages the polling fallback immediately instead of
// waiting for the watchdog, typically on an explicit disconnect.
func (s *RenderScheduler) NotifyStalled() {
	s.mu.Lock()
	if s.stopped || s.polling || s.poll == nil {
		s.mu.Unlock()
		return
	}
	s.polling = true
	// Backdate the stall clock so a racing watchdog agrees.
	s.lastPush = s.now().Add(-s.stallWindow - time.Millisecond)
	s.mu.Unlock()

	s.logger.Warn(context.Background(), "Polling fallback engaged")
	s.pollOnce()
}

// Polling reports whether the fallback is currently active.
func (s *RenderScheduler) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polling
}

// Stop disarms every timer and marks the scheduler dead; pending
// callbacks observe the flag and bail. Repeated calls are no-ops.
func (s *RenderScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.polling = false
	s.pending = nil
	s.pendingCount = 0
	for _, t := range []*time.Timer{s.frameTimer, s.watchdog, s.pollTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.frameTimer = nil
	s.watchdog = nil
	s.pollTimer = nil
}
