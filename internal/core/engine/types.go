package engine

import (
	"fmt"
	"time"

	"github.com/glowdeck/stripsync/pkg/ledwire"
)

// Border is the display edge a strip segment is mounted on.
type Border string

const (
	BorderTop    Border = "Top"
	BorderBottom Border = "Bottom"
	BorderLeft   Border = "Left"
	BorderRight  Border = "Right"
)

// Valid reports whether the border is one of the four known edges.
func (b Border) Valid() bool {
	switch b {
	case BorderTop, BorderBottom, BorderLeft, BorderRight:
		return true
	}
	return false
}

// Mode is the semantic context of pushed color data. Fragments from
// different modes are never mixed: a mode switch clears the cache.
type Mode string

const (
	ModeNone             Mode = "None"
	ModeAmbientLight     Mode = "AmbientLight"
	ModeStripConfig      Mode = "StripConfig"
	ModeTestEffect       Mode = "TestEffect"
	ModeColorCalibration Mode = "ColorCalibration"
)

// StripSegment is one configured, contiguous run of LEDs on one display
// edge. SequenceIndex is its position in the global logical ordering;
// within one ordering space indices are unique and contiguous from 0.
type StripSegment struct {
	ID            string
	DisplayID     uint32
	Border        Border
	Length        int
	LedType       ledwire.LedType
	SequenceIndex int
}

// ByteLength is the segment's footprint in the flattened color buffer.
func (s StripSegment) ByteLength() int {
	return s.Length * ledwire.BytesPerLed(s.LedType)
}

// defaultSegmentID derives a stable identifier for payloads that carry
// none. Placement (display, border, index) is unique per config.
func defaultSegmentID(displayID uint32, border Border, index int) string {
	return fmt.Sprintf("%d:%s:%d", displayID, border, index)
}

// PixelRange is a segment's derived slice in the flattened global LED
// array. Start > End marks reversed orientation. Always recomputed from
// registry order, never authoritative on its own.
type PixelRange struct {
	Start int
	End   int
	Pos   int
}

// ColorFragment is a partial color update covering part of the full LED
// buffer. Grouped fragments are keyed by placement; legacy fragments by
// raw byte offset. Bytes are in wire order (G,R,B[,W]).
type ColorFragment struct {
	Grouped    bool
	ByteOffset int
	DisplayID  uint32
	Border     Border
	StripIndex int
	Bytes      []byte
	Mode       Mode
	Timestamp  time.Time
}

// RenderFrame is a generation-stamped snapshot of the assembled buffer
// handed to renderers at most once per scheduler tick. Buffer bytes are
// logical RGB(+W).
type RenderFrame struct {
	Generation uint64
	Mode       Mode
	Buffer     []byte
	RenderedAt time.Time
}

// EventType enumerates the engine output event kinds.
type EventType string

const (
	EventTypeStatus     EventType = "status"
	EventTypeFrame      EventType = "frame"
	EventTypeConfig     EventType = "config"
	EventTypeConnection EventType = "connection"
	EventTypeError      EventType = "error"
)

// StatusLevel indicates the severity attached to an engine event.
type StatusLevel string

const (
	StatusLevelInfo  StatusLevel = "info"
	StatusLevelWarn  StatusLevel = "warn"
	StatusLevelError StatusLevel = "error"
)

// EngineEvent is delivered on the engine's outputs channel. Frame is
// set for frame events, Segments for config events.
type EngineEvent struct {
	Type     EventType
	Message  string
	Level    StatusLevel
	Frame    *RenderFrame
	Segments []StripSegment
	Metadata map[string]any
}

// Wire payloads. Event names are CamelCase, fields snake_case, matching
// the backend's serialization.

type stripPayload struct {
	ID        string          `json:"id,omitempty"`
	Index     int             `json:"index"`
	DisplayID uint32          `json:"display_id"`
	Border    Border          `json:"border"`
	Len       int             `json:"len"`
	LedType   ledwire.LedType `json:"led_type"`
}

type configChangedPayload struct {
	Strips []stripPayload `json:"strips"`
}

type ledColorsPayload struct {
	Colors []byte `json:"colors"`
}

type ledSortedColorsPayload struct {
	SortedColors []byte `json:"sorted_colors"`
	Mode         Mode   `json:"mode"`
	LedOffset    int    `json:"led_offset"`
	TimestampMS  int64  `json:"timestamp,omitempty"`
}

type ledStripColorsPayload struct {
	DisplayID  uint32 `json:"display_id"`
	Border     Border `json:"border"`
	StripIndex int    `json:"strip_index"`
	Colors     []byte `json:"colors"`
	Mode       Mode   `json:"mode"`
}

// Command argument shapes forwarded through the bridge.

// MoveStripPartArgs moves a segment so its cumulative LED offset becomes
// TargetStart. CurrentStart carries the offset the move was computed
// against so the backend can reject stale requests.
type MoveStripPartArgs struct {
	DisplayID    uint32 `json:"display_id"`
	Border       Border `json:"border"`
	CurrentStart int    `json:"current_start"`
	TargetStart  int    `json:"target_start"`
}

// ReverseStripPartArgs flips a segment's orientation over the given LED
// index range.
type ReverseStripPartArgs struct {
	DisplayID  uint32 `json:"display_id"`
	Border     Border `json:"border"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// PatchStripLenArgs grows or shrinks a segment by DeltaLen LEDs.
type PatchStripLenArgs struct {
	DisplayID uint32 `json:"display_id"`
	Border    Border `json:"border"`
	DeltaLen  int    `json:"delta_len"`
}

// PatchStripTypeArgs switches a segment between RGB and RGBW.
type PatchStripTypeArgs struct {
	DisplayID uint32          `json:"display_id"`
	Border    Border          `json:"border"`
	LedType   ledwire.LedType `json:"led_type"`
}

// SetModeArgs switches the backend's data send mode.
type SetModeArgs struct {
	Mode Mode `json:"mode"`
}
