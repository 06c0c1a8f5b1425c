package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/glowdeck/stripsync/pkg/ledwire"
)

// FragmentAssembler accumulates partial color updates and reconstructs
// one full-length buffer on demand. Fragments are last-write-wins per
// key; keys are either raw byte offsets (legacy global-array pushes) or
// a (display, border, strip index) placement (grouped pushes).
//
// Ordering caveat: last-write-wins is by ingest order. The transports
// in this module preserve send order on a single connection; a
// transport that reorders or duplicates events would need sequence
// numbers on fragments, which the backend does not emit.
type FragmentAssembler struct {
	mu          sync.Mutex
	registry    *StripRegistry
	logger      Logger
	metrics     Metrics
	currentMode Mode
	byOffset    map[int]ColorFragment
	grouped     map[groupKey]ColorFragment
}

type groupKey struct {
	displayID  uint32
	border     Border
	stripIndex int
}

// NewFragmentAssembler creates an empty assembler bound to the
// registry that provides length and ordering context.
func NewFragmentAssembler(registry *StripRegistry, logger Logger, metrics Metrics) *FragmentAssembler {
	if logger == nil {
		logger = NoOpLogger{}
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	return &FragmentAssembler{
		registry:    registry,
		logger:      logger,
		metrics:     metrics,
		currentMode: ModeNone,
		byOffset:    make(map[int]ColorFragment),
		grouped:     make(map[groupKey]ColorFragment),
	}
}

// Mode returns the mode the cached fragments belong to.
func (a *FragmentAssembler) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentMode
}

// ResetOnModeChange clears the fragment cache and adopts newMode.
// Fragment semantics are not comparable across modes, so nothing
// survives the transition.
func (a *FragmentAssembler) ResetOnModeChange(newMode Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked(newMode)
}

func (a *FragmentAssembler) resetLocked(newMode Mode) {
	if len(a.byOffset) > 0 || len(a.grouped) > 0 {
		a.metrics.RecordModeReset(a.currentMode, newMode)
		a.logger.Debug(context.Background(), "Fragment cache cleared on mode change",
			Field("from", a.currentMode),
			Field("to", newMode),
		)
	}
	a.byOffset = make(map[int]ColorFragment)
	a.grouped = make(map[groupKey]ColorFragment)
	a.currentMode = newMode
}

// Ingest stores one fragment. A fragment tagged with a different mode
// clears the cache first; that is the intended trigger for mode
// transitions, not an error. Offset fragments starting at or past the
// configured buffer end are logged and dropped.
func (a *FragmentAssembler) Ingest(fragment ColorFragment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if fragment.Mode != a.currentMode {
		a.resetLocked(fragment.Mode)
	}

	if fragment.Grouped {
		a.ingestGroupedLocked(fragment)
		return
	}

	if total := a.registry.TotalByteCount(); total > 0 && fragment.ByteOffset >= total {
		a.logger.Warn(context.Background(), "Dropping fragment beyond configured buffer",
			Field("byte_offset", fragment.ByteOffset),
			Field("total_bytes", total),
		)
		a.metrics.RecordFragment(len(fragment.Bytes), false)
		return
	}
	if fragment.ByteOffset < 0 {
		a.logger.Warn(context.Background(), "Dropping fragment with negative offset",
			Field("byte_offset", fragment.ByteOffset),
		)
		a.metrics.RecordFragment(len(fragment.Bytes), false)
		return
	}

	a.byOffset[fragment.ByteOffset] = fragment
	a.metrics.RecordFragment(len(fragment.Bytes), true)
}

func (a *FragmentAssembler) ingestGroupedLocked(fragment ColorFragment) {
	seg, ok := a.registry.FindByPlacement(fragment.DisplayID, fragment.Border, fragment.StripIndex)
	if !ok {
		a.logger.Warn(context.Background(), "Dropping fragment for unknown segment",
			Field("display_id", fragment.DisplayID),
			Field("border", fragment.Border),
			Field("strip_index", fragment.StripIndex),
		)
		a.metrics.RecordFragment(len(fragment.Bytes), false)
		return
	}

	// Grouped fragments carry exactly one segment's span: pad short
	// payloads with zeros, trim long ones.
	want := seg.ByteLength()
	switch {
	case len(fragment.Bytes) < want:
		a.logger.Debug(context.Background(), "Zero-padding undersized fragment",
			Field("segment_id", seg.ID),
			Field("got", len(fragment.Bytes)),
			Field("want", want),
		)
		fragment.Bytes = ledwire.ZeroPad(fragment.Bytes, want)
	case len(fragment.Bytes) > want:
		a.logger.Warn(context.Background(), "Truncating oversized fragment",
			Field("segment_id", seg.ID),
			Field("got", len(fragment.Bytes)),
			Field("want", want),
		)
		fragment.Bytes = fragment.Bytes[:want]
	}

	key := groupKey{displayID: fragment.DisplayID, border: fragment.Border, stripIndex: fragment.StripIndex}
	a.grouped[key] = fragment
	a.metrics.RecordFragment(len(fragment.Bytes), true)
}

// Assemble merges all live fragments into one buffer. Gaps between
// fragments stay zero, so a partially reported configuration still
// yields a valid preview. Later ingests at the same key overwrite
// earlier bytes; overlapping offset fragments are applied in ascending
// offset order, and grouped fragments are laid over the offset-keyed
// bytes last, so a per-strip push shows through a whole-buffer one.
func (a *FragmentAssembler) Assemble() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	base := a.assembleOffsetsLocked()
	if len(a.grouped) == 0 {
		return base
	}
	return a.assembleGroupedLocked(base)
}

func (a *FragmentAssembler) assembleOffsetsLocked() []byte {
	if len(a.byOffset) == 0 {
		return nil
	}

	offsets := make([]int, 0, len(a.byOffset))
	for off := range a.byOffset {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	// Size the buffer to the highest covered byte, widened to at least
	// the first fragment's start when it does not begin at zero.
	length := offsets[0]
	for _, off := range offsets {
		if end := off + len(a.byOffset[off].Bytes); end > length {
			length = end
		}
	}

	buf := make([]byte, length)
	for _, off := range offsets {
		copy(buf[off:], a.byOffset[off].Bytes)
	}
	return buf
}

// assembleGroupedLocked writes grouped fragments over base in the
// registry's sequence order, not by raw byte offset.
func (a *FragmentAssembler) assembleGroupedLocked(base []byte) []byte {
	segments := a.registry.Segments()
	length := a.registry.TotalByteCount()
	if len(base) > length {
		length = len(base)
	}
	buf := make([]byte, length)
	copy(buf, base)
	offset := 0
	for _, seg := range segments {
		for key, fragment := range a.grouped {
			if key.displayID == seg.DisplayID && key.border == seg.Border {
				if match, ok := a.registry.FindByPlacement(key.displayID, key.border, key.stripIndex); ok && match.ID == seg.ID {
					copy(buf[offset:offset+seg.ByteLength()], fragment.Bytes)
				}
			}
		}
		offset += seg.ByteLength()
	}
	return buf
}
