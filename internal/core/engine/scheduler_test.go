package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type renderRecorder struct {
	mu     sync.Mutex
	frames [][]byte
	counts []int
}

func (r *renderRecorder) render(buf []byte, coalesced int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make([]byte, len(buf))
	copy(snapshot, buf)
	r.frames = append(r.frames, snapshot)
	r.counts = append(r.counts, coalesced)
}

func (r *renderRecorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *renderRecorder) lastFrame() ([]byte, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil, 0
	}
	return r.frames[len(r.frames)-1], r.counts[len(r.counts)-1]
}

func schedulerOptions(t *testing.T) *EngineOptions {
	t.Helper()
	opts := &EngineOptions{
		FrameInterval:     30 * time.Millisecond,
		PollInterval:      40 * time.Millisecond,
		PollRetryInterval: 150 * time.Millisecond,
		StallWindow:       90 * time.Millisecond,
		Logger:            NoOpLogger{},
		Metrics:           NewInMemoryMetrics(),
		now:               time.Now,
	}
	return opts
}

func waitForFrames(t *testing.T, recorder *renderRecorder, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if recorder.frameCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, have %d", want, recorder.frameCount())
}

func TestFirstPushRendersImmediately(t *testing.T) {
	t.Parallel()

	recorder := &renderRecorder{}
	scheduler := newRenderScheduler(schedulerOptions(t), recorder.render, nil)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	scheduler.OnPush([]byte{1, 2, 3})

	require.Equal(t, 1, recorder.frameCount())
	frame, coalesced := recorder.lastFrame()
	require.Equal(t, []byte{1, 2, 3}, frame)
	require.Zero(t, coalesced)
}

func TestBurstCoalescesToLatestBuffer(t *testing.T) {
	t.Parallel()

	recorder := &renderRecorder{}
	scheduler := newRenderScheduler(schedulerOptions(t), recorder.render, nil)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	// First push renders immediately; the rest land inside one frame
	// window and collapse into a single follow-up frame.
	scheduler.OnPush([]byte{1})
	scheduler.OnPush([]byte{2})
	scheduler.OnPush([]byte{3})
	scheduler.OnPush([]byte{4})

	waitForFrames(t, recorder, 2)
	frame, coalesced := recorder.lastFrame()
	require.Equal(t, []byte{4}, frame, "latest buffer must supersede earlier ones")
	require.Equal(t, 2, coalesced, "two earlier pending buffers were superseded")
}

func TestFrameRateIsCapped(t *testing.T) {
	t.Parallel()

	recorder := &renderRecorder{}
	scheduler := newRenderScheduler(schedulerOptions(t), recorder.render, nil)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	// Push far faster than the 30ms budget for roughly 120ms.
	stop := time.Now().Add(120 * time.Millisecond)
	value := byte(0)
	for time.Now().Before(stop) {
		value++
		scheduler.OnPush([]byte{value})
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)

	frames := recorder.frameCount()
	require.GreaterOrEqual(t, frames, 2, "pacing must still deliver frames")
	require.LessOrEqual(t, frames, 8, "frame rate exceeded the pacing budget")
}

func TestStallEngagesPollingAndPushDisengages(t *testing.T) {
	t.Parallel()

	var pollCount int
	var pollMu sync.Mutex
	poll := func(ctx context.Context) ([]byte, error) {
		pollMu.Lock()
		pollCount++
		n := byte(pollCount)
		pollMu.Unlock()
		return []byte{n}, nil
	}

	recorder := &renderRecorder{}
	scheduler := newRenderScheduler(schedulerOptions(t), recorder.render, poll)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	require.Eventually(t, scheduler.Polling, 2*time.Second, 10*time.Millisecond,
		"polling must engage after the stall window")
	waitForFrames(t, recorder, 2)

	scheduler.OnPush([]byte{0xFF})
	require.False(t, scheduler.Polling(), "a push must disable polling immediately")
}

func TestPollFailureBacksOff(t *testing.T) {
	t.Parallel()

	var pollTimes []time.Time
	var pollMu sync.Mutex
	poll := func(ctx context.Context) ([]byte, error) {
		pollMu.Lock()
		pollTimes = append(pollTimes, time.Now())
		pollMu.Unlock()
		return nil, errors.New("backend unavailable")
	}

	recorder := &renderRecorder{}
	opts := schedulerOptions(t)
	metrics := opts.Metrics.(*InMemoryMetrics)
	scheduler := newRenderScheduler(opts, recorder.render, poll)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	require.Eventually(t, func() bool {
		pollMu.Lock()
		defer pollMu.Unlock()
		return len(pollTimes) >= 2
	}, 3*time.Second, 10*time.Millisecond)

	pollMu.Lock()
	gap := pollTimes[1].Sub(pollTimes[0])
	pollMu.Unlock()
	require.GreaterOrEqual(t, gap, 120*time.Millisecond,
		"failed poll must wait the retry interval, not the poll interval")
	require.Zero(t, recorder.frameCount(), "failed polls must not render")

	snap := metrics.Snapshot()
	require.GreaterOrEqual(t, snap.PollFailures, int64(2))
}

func TestNotifyStalledSkipsWatchdogWait(t *testing.T) {
	t.Parallel()

	poll := func(ctx context.Context) ([]byte, error) {
		return []byte{1}, nil
	}

	recorder := &renderRecorder{}
	scheduler := newRenderScheduler(schedulerOptions(t), recorder.render, poll)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	scheduler.NotifyStalled()
	require.True(t, scheduler.Polling())
	waitForFrames(t, recorder, 1)
}

func TestStopSilencesScheduler(t *testing.T) {
	t.Parallel()

	recorder := &renderRecorder{}
	scheduler := newRenderScheduler(schedulerOptions(t), recorder.render, nil)
	scheduler.Start(context.Background())

	scheduler.OnPush([]byte{1})
	scheduler.Stop()
	scheduler.OnPush([]byte{2})
	scheduler.Stop()

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, 1, recorder.frameCount(), "no frame may fire after Stop")
}
