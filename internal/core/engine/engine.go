package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glowdeck/stripsync/internal/bridge"
	"github.com/glowdeck/stripsync/pkg/ledwire"
)

// Engine owns the strip registry, fragment assembler, reorder
// controller and render scheduler, and runs the event loop between the
// bridge and the UI. Bridge callbacks are serialized through one
// channel so fragment and config events are processed strictly in
// arrival order.
type Engine struct {
	options   EngineOptions
	registry  *StripRegistry
	assembler *FragmentAssembler
	reorder   *ReorderController
	scheduler *RenderScheduler

	outputs chan EngineEvent
	inbound chan inboundEvent

	closed    chan struct{}
	closeOnce sync.Once

	subsMu       sync.Mutex
	unsubscribes []func()

	generation atomic.Uint64
	connected  atomic.Bool
}

type inboundEvent struct {
	name    string
	payload []byte
}

// New wires an engine from options.
func New(options EngineOptions) (*Engine, error) {
	options.setDefaults()
	if err := options.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		options: options,
		outputs: make(chan EngineEvent, options.OutputBuffer),
		inbound: make(chan inboundEvent, 64),
		closed:  make(chan struct{}),
	}
	e.registry = NewStripRegistry(options.Logger)
	e.assembler = NewFragmentAssembler(e.registry, options.Logger, options.Metrics)
	e.reorder = NewReorderController(e.registry, e.invoke, options.Logger)
	e.scheduler = newRenderScheduler(&options, e.emitFrame, e.pollColors)
	e.connected.Store(true)
	return e, nil
}

// Outputs delivers engine events (frames, status, config snapshots) in
// order. The channel is never closed; consumers stop via Done.
func (e *Engine) Outputs() <-chan EngineEvent { return e.outputs }

// Done is closed once the engine has been torn down.
func (e *Engine) Done() <-chan struct{} { return e.closed }

// Registry exposes the strip ordering model to renderers.
func (e *Engine) Registry() *StripRegistry { return e.registry }

// Reorder exposes the drag controller to the UI layer.
func (e *Engine) Reorder() *ReorderController { return e.reorder }

// MetricsSnapshot returns the current engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot { return e.options.Metrics.Snapshot() }

// Run subscribes to the bridge and processes events until ctx is
// cancelled or Teardown is called. It always tears down on exit.
func (e *Engine) Run(ctx context.Context) error {
	ctx = WithTraceID(ctx, generateTraceID())
	defer e.Teardown()

	if err := e.subscribeAll(); err != nil {
		return err
	}
	// Snapshots pushed before the subscriptions landed are gone; fetch
	// the current config so the registry does not start empty.
	if raw, err := e.options.Bridge.Invoke(ctx, bridge.CmdReadLedStripConfigs, nil); err == nil {
		e.handleConfigChanged(ctx, raw)
	} else {
		e.options.Logger.Debug(ctx, "Initial config fetch skipped", Field("error", err))
	}
	e.scheduler.Start(ctx)

	e.options.Logger.Info(ctx, "Strip sync engine started",
		Field("frame_interval", e.options.FrameInterval),
		Field("stall_window", e.options.StallWindow),
	)
	e.emit(EngineEvent{
		Type:    EventTypeStatus,
		Message: "Engine started",
		Level:   StatusLevelInfo,
	})

	for {
		select {
		case <-ctx.Done():
			e.options.Logger.Warn(ctx, "Context cancelled, shutting down engine")
			return ctx.Err()
		case <-e.closed:
			return nil
		case evt := <-e.inbound:
			e.handleInbound(ctx, evt)
		}
	}
}

func (e *Engine) subscribeAll() error {
	names := []string{
		bridge.EventConfigChanged,
		bridge.EventLedColorsChanged,
		bridge.EventLedSortedColorsChanged,
		bridge.EventLedStripColorsChanged,
		bridge.EventConnection,
	}
	for _, name := range names {
		name := name
		unsub, err := e.options.Bridge.Subscribe(name, func(payload []byte) {
			select {
			case e.inbound <- inboundEvent{name: name, payload: payload}:
			case <-e.closed:
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		e.subsMu.Lock()
		e.unsubscribes = append(e.unsubscribes, unsub)
		e.subsMu.Unlock()
	}
	return nil
}

func (e *Engine) handleInbound(ctx context.Context, evt inboundEvent) {
	switch evt.name {
	case bridge.EventConfigChanged:
		e.handleConfigChanged(ctx, evt.payload)
	case bridge.EventLedColorsChanged:
		e.handleLedColors(ctx, evt.payload)
	case bridge.EventLedSortedColorsChanged:
		e.handleSortedColors(ctx, evt.payload)
	case bridge.EventLedStripColorsChanged:
		e.handleStripColors(ctx, evt.payload)
	case bridge.EventConnection:
		e.handleConnection(ctx, evt.payload)
	}
}

func (e *Engine) handleConfigChanged(ctx context.Context, payload []byte) {
	if err := validateConfigPayload(payload); err != nil {
		e.options.Logger.Error(ctx, "Dropping invalid config payload", err)
		e.emit(EngineEvent{
			Type:    EventTypeError,
			Message: fmt.Sprintf("Invalid config payload: %v", err),
			Level:   StatusLevelWarn,
		})
		return
	}

	var parsed configChangedPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		e.options.Logger.Error(ctx, "Failed to decode config payload", err)
		return
	}

	segments := make([]StripSegment, 0, len(parsed.Strips))
	for _, strip := range parsed.Strips {
		ledType := strip.LedType
		if ledType == "" {
			ledType = ledwire.TypeRGB
		}
		segments = append(segments, StripSegment{
			ID:            strip.ID,
			DisplayID:     strip.DisplayID,
			Border:        strip.Border,
			Length:        strip.Len,
			LedType:       ledType,
			SequenceIndex: strip.Index,
		})
	}

	e.registry.UpsertAll(segments)
	// Keep an active drag visually continuous across the new ordering.
	e.reorder.OnRegistryUpdate()

	e.options.Logger.Info(ctx, "Config applied",
		Field("segments", len(segments)),
		Field("total_leds", e.registry.TotalLedCount()),
	)
	e.emit(EngineEvent{
		Type:     EventTypeConfig,
		Message:  fmt.Sprintf("Configuration updated: %d segment(s), %d LEDs", len(segments), e.registry.TotalLedCount()),
		Level:    StatusLevelInfo,
		Segments: e.registry.Segments(),
	})
}

func (e *Engine) handleLedColors(ctx context.Context, payload []byte) {
	var parsed ledColorsPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		e.options.Logger.Error(ctx, "Failed to decode colors payload", err)
		return
	}
	// Legacy whole-buffer push: an offset-0 fragment in the current mode.
	e.assembler.Ingest(ColorFragment{
		ByteOffset: 0,
		Bytes:      parsed.Colors,
		Mode:       e.assembler.Mode(),
		Timestamp:  time.Now(),
	})
	e.pushAssembled()
}

func (e *Engine) handleSortedColors(ctx context.Context, payload []byte) {
	var parsed ledSortedColorsPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		e.options.Logger.Error(ctx, "Failed to decode sorted colors payload", err)
		return
	}
	timestamp := time.Now()
	if parsed.TimestampMS > 0 {
		timestamp = time.UnixMilli(parsed.TimestampMS)
	}
	e.assembler.Ingest(ColorFragment{
		ByteOffset: e.registry.ByteOffsetOfLed(parsed.LedOffset),
		Bytes:      parsed.SortedColors,
		Mode:       parsed.Mode,
		Timestamp:  timestamp,
	})
	e.pushAssembled()
}

func (e *Engine) handleStripColors(ctx context.Context, payload []byte) {
	var parsed ledStripColorsPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		e.options.Logger.Error(ctx, "Failed to decode strip colors payload", err)
		return
	}
	e.assembler.Ingest(ColorFragment{
		Grouped:    true,
		DisplayID:  parsed.DisplayID,
		Border:     parsed.Border,
		StripIndex: parsed.StripIndex,
		Bytes:      parsed.Colors,
		Mode:       parsed.Mode,
		Timestamp:  time.Now(),
	})
	e.pushAssembled()
}

func (e *Engine) handleConnection(ctx context.Context, payload []byte) {
	var parsed bridge.ConnectionPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		e.options.Logger.Error(ctx, "Failed to decode connection payload", err)
		return
	}
	if e.connected.Swap(parsed.Connected) == parsed.Connected {
		return
	}

	if parsed.Connected {
		e.options.Logger.Info(ctx, "Push channel connected")
		e.emit(EngineEvent{
			Type:    EventTypeConnection,
			Message: "Connected",
			Level:   StatusLevelInfo,
			Metadata: map[string]any{
				"connected": true,
			},
		})
		return
	}

	e.options.Logger.Warn(ctx, "Push channel disconnected, engaging polling fallback")
	e.emit(EngineEvent{
		Type:    EventTypeConnection,
		Message: "Disconnected",
		Level:   StatusLevelWarn,
		Metadata: map[string]any{
			"connected": false,
		},
	})
	// A dead channel never trips the stall watchdog fast enough to
	// matter; switch to polling right away.
	e.scheduler.NotifyStalled()
}

// pushAssembled routes the current assembly through frame pacing.
func (e *Engine) pushAssembled() {
	buf := e.assembler.Assemble()
	if buf == nil {
		return
	}
	e.scheduler.OnPush(buf)
}

// emitFrame is the scheduler's render callback.
func (e *Engine) emitFrame(buf []byte, coalesced int) {
	frame := &RenderFrame{
		Generation: e.generation.Add(1),
		Mode:       e.assembler.Mode(),
		Buffer:     e.registry.LogicalFromWire(buf),
		RenderedAt: time.Now(),
	}
	e.emit(EngineEvent{
		Type:  EventTypeFrame,
		Level: StatusLevelInfo,
		Frame: frame,
		Metadata: map[string]any{
			"coalesced": coalesced,
		},
	})
}

// pollColors is the scheduler's polling fallback source.
func (e *Engine) pollColors(ctx context.Context) ([]byte, error) {
	raw, err := e.options.Bridge.Invoke(ctx, bridge.CmdReadLedColors, nil)
	if err != nil {
		return nil, err
	}
	var parsed ledColorsPayload
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode polled colors: %w", err)
	}
	return parsed.Colors, nil
}

// invoke issues one command through the bridge with retry on transient
// transport failures.
func (e *Engine) invoke(ctx context.Context, command string, args any) error {
	start := time.Now()
	err := executeWithRetry(ctx, e.options.Retry, func() error {
		_, ierr := e.options.Bridge.Invoke(ctx, command, args)
		if ierr != nil && bridge.Transient(ierr) {
			return markTransient(ierr)
		}
		return ierr
	})
	e.options.Metrics.RecordCommand(command, time.Since(start), err == nil)
	if err != nil {
		e.options.Logger.Error(ctx, "Command failed", err, Field("command", command))
	}
	return err
}

// MoveStripPart moves a segment's cumulative offset from currentStart
// to targetStart. The registry only changes when the backend confirms
// with a new config snapshot.
func (e *Engine) MoveStripPart(ctx context.Context, displayID uint32, border Border, currentStart, targetStart int) error {
	return e.invoke(ctx, bridge.CmdMoveStripPart, MoveStripPartArgs{
		DisplayID:    displayID,
		Border:       border,
		CurrentStart: currentStart,
		TargetStart:  targetStart,
	})
}

// ReverseStripPart flips a segment's orientation.
func (e *Engine) ReverseStripPart(ctx context.Context, displayID uint32, border Border, startIndex, endIndex int) error {
	return e.invoke(ctx, bridge.CmdReverseLedStripPart, ReverseStripPartArgs{
		DisplayID:  displayID,
		Border:     border,
		StartIndex: startIndex,
		EndIndex:   endIndex,
	})
}

// PatchStripLen grows or shrinks a segment by delta LEDs.
func (e *Engine) PatchStripLen(ctx context.Context, displayID uint32, border Border, delta int) error {
	return e.invoke(ctx, bridge.CmdPatchLedStripLen, PatchStripLenArgs{
		DisplayID: displayID,
		Border:    border,
		DeltaLen:  delta,
	})
}

// PatchStripType switches a segment between RGB and RGBW.
func (e *Engine) PatchStripType(ctx context.Context, displayID uint32, border Border, ledType ledwire.LedType) error {
	return e.invoke(ctx, bridge.CmdPatchLedStripType, PatchStripTypeArgs{
		DisplayID: displayID,
		Border:    border,
		LedType:   ledType,
	})
}

// SetMode switches the backend's data send mode and clears the local
// fragment cache so stale fragments never mix into the new context.
func (e *Engine) SetMode(ctx context.Context, mode Mode) error {
	if err := e.invoke(ctx, bridge.CmdSetDataSendMode, SetModeArgs{Mode: mode}); err != nil {
		return err
	}
	e.assembler.ResetOnModeChange(mode)
	return nil
}

// ReadConfig fetches the authoritative strip configuration.
func (e *Engine) ReadConfig(ctx context.Context) ([]StripSegment, error) {
	raw, err := e.options.Bridge.Invoke(ctx, bridge.CmdReadLedStripConfigs, nil)
	if err != nil {
		return nil, err
	}
	var parsed configChangedPayload
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	segments := make([]StripSegment, 0, len(parsed.Strips))
	for _, strip := range parsed.Strips {
		segments = append(segments, StripSegment{
			ID:            strip.ID,
			DisplayID:     strip.DisplayID,
			Border:        strip.Border,
			Length:        strip.Len,
			LedType:       strip.LedType,
			SequenceIndex: strip.Index,
		})
	}
	return segments, nil
}

// WriteConfig persists a full strip configuration.
func (e *Engine) WriteConfig(ctx context.Context, segments []StripSegment) error {
	strips := make([]stripPayload, 0, len(segments))
	for _, seg := range segments {
		strips = append(strips, stripPayload{
			ID:        seg.ID,
			Index:     seg.SequenceIndex,
			DisplayID: seg.DisplayID,
			Border:    seg.Border,
			Len:       seg.Length,
			LedType:   seg.LedType,
		})
	}
	return e.invoke(ctx, bridge.CmdWriteLedStripConfigs, configChangedPayload{Strips: strips})
}

func (e *Engine) emit(evt EngineEvent) {
	if e.options.EmitTimeout <= 0 {
		select {
		case e.outputs <- evt:
		case <-e.closed:
		}
		return
	}

	timer := time.NewTimer(e.options.EmitTimeout)
	defer timer.Stop()
	select {
	case e.outputs <- evt:
	case <-e.closed:
	case <-timer.C:
		e.options.Logger.Warn(context.Background(), "Dropping engine event, outputs not drained",
			Field("type", evt.Type))
	}
}

// Teardown cancels all subscriptions and timers. No handler fires and
// no new frame is scheduled after it returns; safe to call repeatedly.
func (e *Engine) Teardown() {
	e.closeOnce.Do(func() {
		close(e.closed)

		e.subsMu.Lock()
		unsubs := e.unsubscribes
		e.unsubscribes = nil
		e.subsMu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}

		e.reorder.CancelDrag()
		e.scheduler.Stop()
	})
}
