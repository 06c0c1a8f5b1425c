package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/glowdeck/stripsync/internal/bridge"
	"github.com/glowdeck/stripsync/pkg/ledwire"
)

type recordedCommand struct {
	name string
	args any
}

type commandRecorder struct {
	mu       sync.Mutex
	commands []recordedCommand
	fail     error
}

func (r *commandRecorder) invoke(_ context.Context, command string, args any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.commands = append(r.commands, recordedCommand{name: command, args: args})
	return nil
}

func (r *commandRecorder) all() []recordedCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedCommand, len(r.commands))
	copy(out, r.commands)
	return out
}

// Three 10-LED strips, 300px container: one LED cell is 10px wide.
func newDragFixture(t *testing.T) (*ReorderController, *StripRegistry, *commandRecorder) {
	t.Helper()
	registry := NewStripRegistry(nil)
	registry.UpsertAll([]StripSegment{
		{ID: "a", DisplayID: 1, Border: BorderTop, Length: 10, LedType: ledwire.TypeRGB, SequenceIndex: 0},
		{ID: "b", DisplayID: 1, Border: BorderRight, Length: 10, LedType: ledwire.TypeRGB, SequenceIndex: 1},
		{ID: "c", DisplayID: 1, Border: BorderBottom, Length: 10, LedType: ledwire.TypeRGB, SequenceIndex: 2},
	})
	recorder := &commandRecorder{}
	return NewReorderController(registry, recorder.invoke, nil), registry, recorder
}

func TestDragRoundTripIssuesMoveCommand(t *testing.T) {
	t.Parallel()

	controller, _, recorder := newDragFixture(t)

	if err := controller.BeginDrag("b", 100, 300); err != nil {
		t.Fatalf("BeginDrag returned error: %v", err)
	}
	if got := controller.State(); got != DragActive {
		t.Fatalf("expected Dragging state, got %s", got)
	}
	if err := controller.UpdateDrag(112); err != nil {
		t.Fatalf("UpdateDrag returned error: %v", err)
	}

	// 20px right is two 10px cells.
	if err := controller.EndDrag(context.Background(), 120); err != nil {
		t.Fatalf("EndDrag returned error: %v", err)
	}
	if got := controller.State(); got != DragIdle {
		t.Fatalf("expected Idle after drop, got %s", got)
	}

	commands := recorder.all()
	if len(commands) != 1 || commands[0].name != bridge.CmdMoveStripPart {
		t.Fatalf("expected one move command, got %+v", commands)
	}
	args := commands[0].args.(MoveStripPartArgs)
	if args.CurrentStart != 10 || args.TargetStart != 12 {
		t.Fatalf("expected move 10 -> 12, got %d -> %d", args.CurrentStart, args.TargetStart)
	}
	if args.DisplayID != 1 || args.Border != BorderRight {
		t.Fatalf("unexpected placement in move args: %+v", args)
	}
}

func TestSubCellDragIssuesNothing(t *testing.T) {
	t.Parallel()

	controller, _, recorder := newDragFixture(t)

	if err := controller.BeginDrag("b", 100, 300); err != nil {
		t.Fatalf("BeginDrag returned error: %v", err)
	}
	// 4px is under half a cell; rounds to zero.
	if err := controller.EndDrag(context.Background(), 104); err != nil {
		t.Fatalf("EndDrag returned error: %v", err)
	}

	if commands := recorder.all(); len(commands) != 0 {
		t.Fatalf("expected no command for sub-cell drag, got %+v", commands)
	}
}

func TestVisualOffsetTracksPointer(t *testing.T) {
	t.Parallel()

	controller, _, _ := newDragFixture(t)

	if err := controller.BeginDrag("b", 100, 300); err != nil {
		t.Fatalf("BeginDrag returned error: %v", err)
	}
	if err := controller.UpdateDrag(130); err != nil {
		t.Fatalf("UpdateDrag returned error: %v", err)
	}

	// Settled position 10 cells * 10px plus 30px of pointer travel.
	if got := controller.VisualOffsetPx(); got != 130 {
		t.Fatalf("expected visual offset 130px, got %v", got)
	}
}

func TestConcurrentConfigUpdateKeepsVisualContinuity(t *testing.T) {
	t.Parallel()

	controller, registry, _ := newDragFixture(t)

	if err := controller.BeginDrag("b", 100, 300); err != nil {
		t.Fatalf("BeginDrag returned error: %v", err)
	}
	if err := controller.UpdateDrag(130); err != nil {
		t.Fatalf("UpdateDrag returned error: %v", err)
	}
	before := controller.VisualOffsetPx()

	// Another client moves b to the front: its offset drops 10 -> 0.
	registry.UpsertAll([]StripSegment{
		{ID: "b", DisplayID: 1, Border: BorderRight, Length: 10, LedType: ledwire.TypeRGB, SequenceIndex: 0},
		{ID: "a", DisplayID: 1, Border: BorderTop, Length: 10, LedType: ledwire.TypeRGB, SequenceIndex: 1},
		{ID: "c", DisplayID: 1, Border: BorderBottom, Length: 10, LedType: ledwire.TypeRGB, SequenceIndex: 2},
	})
	controller.OnRegistryUpdate()

	if got := controller.State(); got != DragActive {
		t.Fatalf("expected drag to survive the update, got %s", got)
	}
	if got := controller.VisualOffsetPx(); got != before {
		t.Fatalf("expected visual offset unchanged at %v, got %v", before, got)
	}
}

func TestConfigUpdateDroppingSegmentCancelsDrag(t *testing.T) {
	t.Parallel()

	controller, registry, _ := newDragFixture(t)

	if err := controller.BeginDrag("b", 100, 300); err != nil {
		t.Fatalf("BeginDrag returned error: %v", err)
	}

	registry.UpsertAll([]StripSegment{
		{ID: "a", DisplayID: 1, Border: BorderTop, Length: 10, LedType: ledwire.TypeRGB, SequenceIndex: 0},
	})
	controller.OnRegistryUpdate()

	if got := controller.State(); got != DragIdle {
		t.Fatalf("expected drag cancelled, got %s", got)
	}
	if _, active := controller.DraggedSegment(); active {
		t.Fatalf("expected no dragged segment after cancel")
	}
}

func TestUpdateDragOutsideDragFails(t *testing.T) {
	t.Parallel()

	controller, _, _ := newDragFixture(t)

	if err := controller.UpdateDrag(50); !errors.Is(err, ErrNotDragging) {
		t.Fatalf("expected ErrNotDragging, got %v", err)
	}
	if err := controller.EndDrag(context.Background(), 50); !errors.Is(err, ErrNotDragging) {
		t.Fatalf("expected ErrNotDragging, got %v", err)
	}
}

func TestBeginDragUnknownSegmentFails(t *testing.T) {
	t.Parallel()

	controller, _, _ := newDragFixture(t)

	if err := controller.BeginDrag("missing", 0, 300); !errors.Is(err, ErrUnknownSegment) {
		t.Fatalf("expected ErrUnknownSegment, got %v", err)
	}
}

func TestEndDragPropagatesCommandFailure(t *testing.T) {
	t.Parallel()

	controller, _, recorder := newDragFixture(t)
	recorder.fail = errors.New("backend rejected move")

	if err := controller.BeginDrag("b", 100, 300); err != nil {
		t.Fatalf("BeginDrag returned error: %v", err)
	}
	err := controller.EndDrag(context.Background(), 120)
	if err == nil || err.Error() != "backend rejected move" {
		t.Fatalf("expected command failure surfaced, got %v", err)
	}
	// FSM still returns to Idle; the view resyncs on the next snapshot.
	if got := controller.State(); got != DragIdle {
		t.Fatalf("expected Idle after failed drop, got %s", got)
	}
}

func TestSetContainerWidthPreservesCellDelta(t *testing.T) {
	t.Parallel()

	controller, _, recorder := newDragFixture(t)

	if err := controller.BeginDrag("b", 100, 300); err != nil {
		t.Fatalf("BeginDrag returned error: %v", err)
	}
	if err := controller.UpdateDrag(120); err != nil {
		t.Fatalf("UpdateDrag returned error: %v", err)
	}

	// Resize doubles the container: the 2-cell delta must survive.
	controller.SetContainerWidth(600)
	if err := controller.EndDrag(context.Background(), 120); err != nil {
		t.Fatalf("EndDrag returned error: %v", err)
	}

	commands := recorder.all()
	if len(commands) != 1 {
		t.Fatalf("expected one move command, got %+v", commands)
	}
	args := commands[0].args.(MoveStripPartArgs)
	if args.TargetStart-args.CurrentStart != 2 {
		t.Fatalf("expected 2-cell move preserved across resize, got %d", args.TargetStart-args.CurrentStart)
	}
}

func TestReverseIssuesFullRangeCommand(t *testing.T) {
	t.Parallel()

	controller, _, recorder := newDragFixture(t)

	if err := controller.Reverse(context.Background(), "c"); err != nil {
		t.Fatalf("Reverse returned error: %v", err)
	}

	commands := recorder.all()
	if len(commands) != 1 || commands[0].name != bridge.CmdReverseLedStripPart {
		t.Fatalf("expected one reverse command, got %+v", commands)
	}
	args := commands[0].args.(ReverseStripPartArgs)
	if args.StartIndex != 0 || args.EndIndex != 9 {
		t.Fatalf("expected full range 0..9, got %d..%d", args.StartIndex, args.EndIndex)
	}
}
