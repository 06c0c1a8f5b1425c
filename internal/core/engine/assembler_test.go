package engine

import (
	"bytes"
	"testing"
	"time"

	"github.com/glowdeck/stripsync/pkg/ledwire"
)

func newTestAssembler(t *testing.T, segments []StripSegment) (*FragmentAssembler, *InMemoryMetrics) {
	t.Helper()
	registry := NewStripRegistry(nil)
	registry.UpsertAll(segments)
	metrics := NewInMemoryMetrics()
	return NewFragmentAssembler(registry, nil, metrics), metrics
}

func TestAssembleMergesOffsetFragments(t *testing.T) {
	t.Parallel()

	assembler, _ := newTestAssembler(t, []StripSegment{
		{ID: "a", Border: BorderTop, Length: 4, LedType: ledwire.TypeRGB, SequenceIndex: 0},
	})

	assembler.Ingest(ColorFragment{ByteOffset: 0, Bytes: []byte{1, 2, 3, 4, 5, 6}, Mode: ModeAmbientLight, Timestamp: time.Now()})
	assembler.Ingest(ColorFragment{ByteOffset: 6, Bytes: []byte{7, 8, 9, 10, 11, 12}, Mode: ModeAmbientLight, Timestamp: time.Now()})

	got := assembler.Assemble()
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAssembleLeavesGapsZero(t *testing.T) {
	t.Parallel()

	assembler, _ := newTestAssembler(t, []StripSegment{
		{ID: "a", Border: BorderTop, Length: 4, LedType: ledwire.TypeRGB, SequenceIndex: 0},
	})

	assembler.Ingest(ColorFragment{ByteOffset: 9, Bytes: []byte{0xAA, 0xBB, 0xCC}, Mode: ModeAmbientLight})

	got := assembler.Assemble()
	if len(got) != 12 {
		t.Fatalf("expected buffer widened to byte 12, got %d", len(got))
	}
	for i := 0; i < 9; i++ {
		if got[i] != 0 {
			t.Fatalf("expected zero gap at byte %d, got %#x", i, got[i])
		}
	}
	if got[9] != 0xAA || got[11] != 0xCC {
		t.Fatalf("fragment bytes not placed: %v", got)
	}
}

func TestIngestLastWriteWinsPerOffset(t *testing.T) {
	t.Parallel()

	assembler, _ := newTestAssembler(t, []StripSegment{
		{ID: "a", Border: BorderTop, Length: 2, LedType: ledwire.TypeRGB, SequenceIndex: 0},
	})

	assembler.Ingest(ColorFragment{ByteOffset: 0, Bytes: []byte{1, 1, 1}, Mode: ModeAmbientLight})
	assembler.Ingest(ColorFragment{ByteOffset: 0, Bytes: []byte{9, 9, 9}, Mode: ModeAmbientLight})

	got := assembler.Assemble()
	if got[0] != 9 || got[1] != 9 || got[2] != 9 {
		t.Fatalf("expected later fragment to win, got %v", got)
	}
}

func TestIngestModeChangeClearsCache(t *testing.T) {
	t.Parallel()

	assembler, metrics := newTestAssembler(t, []StripSegment{
		{ID: "a", Border: BorderTop, Length: 4, LedType: ledwire.TypeRGB, SequenceIndex: 0},
	})

	assembler.Ingest(ColorFragment{ByteOffset: 0, Bytes: []byte{1, 2, 3}, Mode: ModeAmbientLight})
	assembler.Ingest(ColorFragment{ByteOffset: 6, Bytes: []byte{4, 5, 6}, Mode: ModeTestEffect})

	if got := assembler.Mode(); got != ModeTestEffect {
		t.Fatalf("expected mode to follow the fragment, got %s", got)
	}

	got := assembler.Assemble()
	for i := 0; i < 6; i++ {
		if got[i] != 0 {
			t.Fatalf("expected ambient fragment cleared, byte %d is %#x", i, got[i])
		}
	}
	if got[6] != 4 {
		t.Fatalf("expected test effect fragment kept, got %v", got)
	}

	snap := metrics.Snapshot()
	if snap.ModeResets != 1 {
		t.Fatalf("expected one recorded mode reset, got %d", snap.ModeResets)
	}
}

func TestResetOnModeChangeWithEmptyCacheRecordsNothing(t *testing.T) {
	t.Parallel()

	assembler, metrics := newTestAssembler(t, nil)
	assembler.ResetOnModeChange(ModeStripConfig)

	if snap := metrics.Snapshot(); snap.ModeResets != 0 {
		t.Fatalf("expected no reset recorded for empty cache, got %d", snap.ModeResets)
	}
	if got := assembler.Mode(); got != ModeStripConfig {
		t.Fatalf("expected mode adopted, got %s", got)
	}
}

func TestIngestDropsFragmentsOutsideBuffer(t *testing.T) {
	t.Parallel()

	assembler, metrics := newTestAssembler(t, []StripSegment{
		{ID: "a", Border: BorderTop, Length: 2, LedType: ledwire.TypeRGB, SequenceIndex: 0},
	})

	assembler.Ingest(ColorFragment{ByteOffset: 6, Bytes: []byte{1, 2, 3}, Mode: ModeAmbientLight})
	assembler.Ingest(ColorFragment{ByteOffset: -3, Bytes: []byte{1, 2, 3}, Mode: ModeAmbientLight})

	if got := assembler.Assemble(); got != nil {
		t.Fatalf("expected empty assembly, got %v", got)
	}
	snap := metrics.Snapshot()
	if snap.FragmentsDropped != 2 {
		t.Fatalf("expected 2 dropped fragments, got %d", snap.FragmentsDropped)
	}
}

func TestGroupedFragmentsAssembleInSequenceOrder(t *testing.T) {
	t.Parallel()

	assembler, _ := newTestAssembler(t, []StripSegment{
		{ID: "top", DisplayID: 1, Border: BorderTop, Length: 2, LedType: ledwire.TypeRGB, SequenceIndex: 0},
		{ID: "right", DisplayID: 1, Border: BorderRight, Length: 2, LedType: ledwire.TypeRGB, SequenceIndex: 1},
	})

	// Deliver out of order; assembly must follow registry order.
	assembler.Ingest(ColorFragment{
		Grouped: true, DisplayID: 1, Border: BorderRight, StripIndex: 1,
		Bytes: []byte{21, 22, 23, 24, 25, 26}, Mode: ModeAmbientLight,
	})
	assembler.Ingest(ColorFragment{
		Grouped: true, DisplayID: 1, Border: BorderTop, StripIndex: 0,
		Bytes: []byte{11, 12, 13, 14, 15, 16}, Mode: ModeAmbientLight,
	})

	got := assembler.Assemble()
	want := []byte{11, 12, 13, 14, 15, 16, 21, 22, 23, 24, 25, 26}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestGroupedFragmentPaddedAndTruncatedToSegmentSpan(t *testing.T) {
	t.Parallel()

	assembler, _ := newTestAssembler(t, []StripSegment{
		{ID: "top", DisplayID: 1, Border: BorderTop, Length: 2, LedType: ledwire.TypeRGB, SequenceIndex: 0},
		{ID: "right", DisplayID: 1, Border: BorderRight, Length: 1, LedType: ledwire.TypeRGB, SequenceIndex: 1},
	})

	// Undersized: one LED of color, second LED zero-padded.
	assembler.Ingest(ColorFragment{
		Grouped: true, DisplayID: 1, Border: BorderTop, StripIndex: 0,
		Bytes: []byte{1, 2, 3}, Mode: ModeAmbientLight,
	})
	// Oversized: extra bytes trimmed to the segment span.
	assembler.Ingest(ColorFragment{
		Grouped: true, DisplayID: 1, Border: BorderRight, StripIndex: 1,
		Bytes: []byte{7, 8, 9, 99, 99}, Mode: ModeAmbientLight,
	})

	got := assembler.Assemble()
	want := []byte{1, 2, 3, 0, 0, 0, 7, 8, 9}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestGroupedFragmentsOverlayWholeBufferPush(t *testing.T) {
	t.Parallel()

	assembler, _ := newTestAssembler(t, []StripSegment{
		{ID: "top", DisplayID: 1, Border: BorderTop, Length: 2, LedType: ledwire.TypeRGB, SequenceIndex: 0},
		{ID: "right", DisplayID: 1, Border: BorderRight, Length: 2, LedType: ledwire.TypeRGB, SequenceIndex: 1},
	})

	// A legacy whole-buffer push covers every segment; a later grouped
	// push replaces only its own segment's span.
	assembler.Ingest(ColorFragment{
		ByteOffset: 0,
		Bytes:      []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		Mode:       ModeAmbientLight,
	})
	assembler.Ingest(ColorFragment{
		Grouped: true, DisplayID: 1, Border: BorderRight, StripIndex: 1,
		Bytes: []byte{91, 92, 93, 94, 95, 96}, Mode: ModeAmbientLight,
	})

	got := assembler.Assemble()
	want := []byte{1, 2, 3, 4, 5, 6, 91, 92, 93, 94, 95, 96}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestGroupedFragmentForUnknownSegmentDropped(t *testing.T) {
	t.Parallel()

	assembler, metrics := newTestAssembler(t, []StripSegment{
		{ID: "top", DisplayID: 1, Border: BorderTop, Length: 2, LedType: ledwire.TypeRGB, SequenceIndex: 0},
	})

	assembler.Ingest(ColorFragment{
		Grouped: true, DisplayID: 9, Border: BorderLeft, StripIndex: 0,
		Bytes: []byte{1, 2, 3}, Mode: ModeAmbientLight,
	})

	if snap := metrics.Snapshot(); snap.FragmentsDropped != 1 {
		t.Fatalf("expected dropped fragment, got %d", snap.FragmentsDropped)
	}
}

func TestAssembleEmptyReturnsNil(t *testing.T) {
	t.Parallel()

	assembler, _ := newTestAssembler(t, nil)
	if got := assembler.Assemble(); got != nil {
		t.Fatalf("expected nil for empty assembler, got %v", got)
	}
}
