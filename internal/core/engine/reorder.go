package engine

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/glowdeck/stripsync/internal/bridge"
)

// ErrNotDragging is returned by drag updates outside an active drag.
var ErrNotDragging = errors.New("no drag in progress")

// DragState is the reorder controller's state machine position.
type DragState int

const (
	DragIdle DragState = iota
	DragActive
)

func (s DragState) String() string {
	if s == DragActive {
		return "Dragging"
	}
	return "Idle"
}

// invokeFunc issues one backend command; the engine provides it so the
// controller shares the engine's retry and metrics path.
type invokeFunc func(ctx context.Context, command string, args any) error

// ReorderController converts pointer-drag deltas into discrete move and
// reverse commands against the registry ordering. Ordering follows
// eventual consistency: commands are fire-and-forget, the view only
// changes when the next authoritative config snapshot arrives, and a
// failed command is logged rather than rolled back.
//
// The key invariant is visual continuity: when a config snapshot moves
// the dragged segment mid-drag (another client reordered), the pointer
// anchor shifts by the offset difference so the on-screen element does
// not jump.
type ReorderController struct {
	mu       sync.Mutex
	registry *StripRegistry
	invoke   invokeFunc
	logger   Logger

	state          DragState
	segmentID      string
	pointerStartX  float64
	pointerX       float64
	containerWidth float64
	anchorOffset   int // cumulative LED offset at drag start / last compensation
}

// NewReorderController wires the controller to the registry and the
// engine's command path.
func NewReorderController(registry *StripRegistry, invoke invokeFunc, logger Logger) *ReorderController {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &ReorderController{
		registry: registry,
		invoke:   invoke,
		logger:   logger,
	}
}

// State returns the current FSM state.
func (c *ReorderController) State() DragState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DraggedSegment returns the segment ID of the active drag, if any.
func (c *ReorderController) DraggedSegment() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.segmentID, c.state == DragActive
}

// BeginDrag enters the Dragging state for the given segment.
func (c *ReorderController) BeginDrag(segmentID string, pointerX, containerWidth float64) error {
	seg, ok := c.registry.Segment(segmentID)
	if !ok {
		return ErrUnknownSegment
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = DragActive
	c.segmentID = seg.ID
	c.pointerStartX = pointerX
	c.pointerX = pointerX
	c.containerWidth = containerWidth
	c.anchorOffset = c.registry.CumulativeOffset(seg.SequenceIndex)
	return nil
}

// UpdateDrag tracks pointer motion during a drag.
func (c *ReorderController) UpdateDrag(pointerX float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != DragActive {
		return ErrNotDragging
	}
	c.pointerX = pointerX
	return nil
}

// VisualOffsetPx is the dragged segment's current on-screen offset:
// the pointer delta plus the segment's settled grid position.
func (c *ReorderController) VisualOffsetPx() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != DragActive {
		return 0
	}
	return (c.pointerX - c.pointerStartX) + c.cellWidthLocked()*float64(c.anchorOffset)
}

// EndDrag leaves the Dragging state and, when the pointer travelled at
// least half a grid cell, issues the move command. No speculative
// reorder is applied locally.
func (c *ReorderController) EndDrag(ctx context.Context, pointerX float64) error {
	c.mu.Lock()
	if c.state != DragActive {
		c.mu.Unlock()
		return ErrNotDragging
	}
	segmentID := c.segmentID
	cellWidth := c.cellWidthLocked()
	delta := pointerX - c.pointerStartX
	c.state = DragIdle
	c.segmentID = ""
	c.mu.Unlock()

	if cellWidth <= 0 {
		return nil
	}
	moved := int(math.Round(delta / cellWidth))
	if moved == 0 {
		return nil
	}

	seg, ok := c.registry.Segment(segmentID)
	if !ok {
		c.logger.Warn(ctx, "Dragged segment vanished before drop", Field("segment_id", segmentID))
		return ErrUnknownSegment
	}
	currentStart := c.registry.CumulativeOffset(seg.SequenceIndex)

	err := c.invoke(ctx, bridge.CmdMoveStripPart, MoveStripPartArgs{
		DisplayID:    seg.DisplayID,
		Border:       seg.Border,
		CurrentStart: currentStart,
		TargetStart:  currentStart + moved,
	})
	if err != nil {
		// The view snaps back when the next ConfigChanged arrives; a
		// stale position may show briefly.
		c.logger.Error(ctx, "Move command failed", err,
			Field("segment_id", segmentID),
			Field("moved", moved),
		)
		return err
	}
	return nil
}

// CancelDrag returns to Idle without issuing a command. Used when the
// pointer leaves the tracked area and on teardown.
func (c *ReorderController) CancelDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = DragIdle
	c.segmentID = ""
}

// OnRegistryUpdate compensates an active drag for a concurrent config
// snapshot: the pointer anchor shifts by the segment's offset change so
// the visual position stays continuous. A drag whose segment vanished
// from the snapshot is cancelled.
func (c *ReorderController) OnRegistryUpdate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != DragActive {
		return
	}

	seg, ok := c.registry.Segment(c.segmentID)
	if !ok {
		c.logger.Warn(context.Background(), "Cancelling drag: segment missing from new config",
			Field("segment_id", c.segmentID))
		c.state = DragIdle
		c.segmentID = ""
		return
	}

	newOffset := c.registry.CumulativeOffset(seg.SequenceIndex)
	if newOffset != c.anchorOffset {
		c.pointerStartX += float64(newOffset-c.anchorOffset) * c.cellWidthLocked()
		c.anchorOffset = newOffset
	}
}

// SetContainerWidth rescales an active drag when the tracked area is
// resized, preserving the pointer's cell delta.
func (c *ReorderController) SetContainerWidth(width float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != DragActive || width == c.containerWidth {
		c.containerWidth = width
		return
	}

	oldCell := c.cellWidthLocked()
	deltaCells := 0.0
	if oldCell > 0 {
		deltaCells = (c.pointerX - c.pointerStartX) / oldCell
	}
	c.containerWidth = width
	c.pointerStartX = c.pointerX - deltaCells*c.cellWidthLocked()
}

// Reverse flips the segment's orientation over its full LED range.
func (c *ReorderController) Reverse(ctx context.Context, segmentID string) error {
	seg, ok := c.registry.Segment(segmentID)
	if !ok {
		return ErrUnknownSegment
	}

	err := c.invoke(ctx, bridge.CmdReverseLedStripPart, ReverseStripPartArgs{
		DisplayID:  seg.DisplayID,
		Border:     seg.Border,
		StartIndex: 0,
		EndIndex:   seg.Length - 1,
	})
	if err != nil {
		c.logger.Error(ctx, "Reverse command failed", err, Field("segment_id", segmentID))
		return err
	}
	return nil
}

func (c *ReorderController) cellWidthLocked() float64 {
	total := c.registry.TotalLedCount()
	if total <= 0 || c.containerWidth <= 0 {
		return 0
	}
	return c.containerWidth / float64(total)
}
