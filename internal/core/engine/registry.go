package engine

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/glowdeck/stripsync/pkg/ledwire"
)

// ErrUnknownSegment is returned when a lookup misses.
var ErrUnknownSegment = errors.New("unknown strip segment")

// StripRegistry holds the ordered set of strip segment descriptors and
// derives cumulative LED offsets. Pure data: no network or timer side
// effects. Reads take a snapshot so renderers never observe a half
// applied update.
type StripRegistry struct {
	mu       sync.RWMutex
	segments []StripSegment // sorted by SequenceIndex, reindexed from 0
	logger   Logger
}

// NewStripRegistry creates an empty registry.
func NewStripRegistry(logger Logger) *StripRegistry {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &StripRegistry{logger: logger}
}

// UpsertAll replaces the full ordered set from a ConfigChanged
// snapshot. Segments with a non-positive length are logged and
// skipped; the rest are sorted by sequence index and reindexed
// contiguously from 0 so downstream offsets stay well defined even
// when the payload arrives with holes.
func (r *StripRegistry) UpsertAll(segments []StripSegment) {
	accepted := make([]StripSegment, 0, len(segments))
	for _, seg := range segments {
		if seg.Length <= 0 {
			r.logger.Warn(context.Background(), "Skipping strip segment with non-positive length",
				Field("segment_id", seg.ID),
				Field("length", seg.Length),
			)
			continue
		}
		if seg.ID == "" {
			seg.ID = defaultSegmentID(seg.DisplayID, seg.Border, seg.SequenceIndex)
		}
		accepted = append(accepted, seg)
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].SequenceIndex < accepted[j].SequenceIndex
	})
	for i := range accepted {
		accepted[i].SequenceIndex = i
	}

	r.mu.Lock()
	r.segments = accepted
	r.mu.Unlock()
}

// Segments returns a copy of the ordered segment set.
func (r *StripRegistry) Segments() []StripSegment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StripSegment, len(r.segments))
	copy(out, r.segments)
	return out
}

// Segment looks a segment up by ID.
func (r *StripRegistry) Segment(id string) (StripSegment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, seg := range r.segments {
		if seg.ID == id {
			return seg, true
		}
	}
	return StripSegment{}, false
}

// FindByPlacement looks a segment up by display, border and the
// per-config strip index carried by grouped fragments.
func (r *StripRegistry) FindByPlacement(displayID uint32, border Border, index int) (StripSegment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index >= 0 && index < len(r.segments) {
		seg := r.segments[index]
		if seg.DisplayID == displayID && seg.Border == border {
			return seg, true
		}
	}
	for _, seg := range r.segments {
		if seg.DisplayID == displayID && seg.Border == border {
			return seg, true
		}
	}
	return StripSegment{}, false
}

// CumulativeOffset sums the LED lengths of all segments with a smaller
// sequence index.
func (r *StripRegistry) CumulativeOffset(sequenceIndex int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, seg := range r.segments {
		if seg.SequenceIndex < sequenceIndex {
			total += seg.Length
		}
	}
	return total
}

// CumulativeOffsetOf is CumulativeOffset keyed by segment ID.
func (r *StripRegistry) CumulativeOffsetOf(id string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, seg := range r.segments {
		if seg.ID == id {
			return total, nil
		}
		total += seg.Length
	}
	return 0, ErrUnknownSegment
}

// TotalLedCount is the sum of all segment lengths.
func (r *StripRegistry) TotalLedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, seg := range r.segments {
		total += seg.Length
	}
	return total
}

// TotalByteCount is the flattened buffer size in bytes, accounting for
// per-segment LED types.
func (r *StripRegistry) TotalByteCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, seg := range r.segments {
		total += seg.ByteLength()
	}
	return total
}

// ByteRangeOf returns the segment's [start, end) slice in the flattened
// byte buffer.
func (r *StripRegistry) ByteRangeOf(id string) (start, end int, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	offset := 0
	for _, seg := range r.segments {
		if seg.ID == id {
			return offset, offset + seg.ByteLength(), nil
		}
		offset += seg.ByteLength()
	}
	return 0, 0, ErrUnknownSegment
}

// ByteOffsetOfLed maps a global LED index to its byte offset in the
// flattened buffer. LED indices past the end map just past the buffer,
// letting callers detect out-of-range fragments.
func (r *StripRegistry) ByteOffsetOfLed(led int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	offset := 0
	remaining := led
	for _, seg := range r.segments {
		if remaining < seg.Length {
			return offset + remaining*ledwire.BytesPerLed(seg.LedType)
		}
		remaining -= seg.Length
		offset += seg.ByteLength()
	}
	return offset + remaining*3
}

// Mapper derives the pixel ranges for all segments in order. Ranges are
// recomputed on every call; they are never authoritative on their own.
func (r *StripRegistry) Mapper() []PixelRange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mappers := make([]PixelRange, 0, len(r.segments))
	offset := 0
	for _, seg := range r.segments {
		mappers = append(mappers, PixelRange{
			Start: offset,
			End:   offset + seg.Length,
			Pos:   offset,
		})
		offset += seg.Length
	}
	return mappers
}

// LogicalFromWire converts a flattened wire-order buffer to logical
// RGB(+W) byte order using each segment's stride. Bytes past the
// configured total pass through untouched.
func (r *StripRegistry) LogicalFromWire(buf []byte) []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]byte, len(buf))
	copy(out, buf)
	offset := 0
	for _, seg := range r.segments {
		end := offset + seg.ByteLength()
		if end > len(out) {
			end = len(out)
		}
		stride := ledwire.BytesPerLed(seg.LedType)
		for at := offset; at+1 < end; at += stride {
			out[at], out[at+1] = out[at+1], out[at]
		}
		offset += seg.ByteLength()
		if offset >= len(out) {
			break
		}
	}
	return out
}
