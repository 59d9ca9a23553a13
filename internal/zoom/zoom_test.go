package zoom

import (
	"encoding/json"
	"testing"

	"github.com/tinytelemetry/tideline/internal/filter"
	"github.com/tinytelemetry/tideline/internal/model"
)

func testState(start, end int64) State {
	return New(model.Interval{Start: start, End: end}, model.LevelCategory, filter.New(), model.LODLow)
}

func TestWithMethodsReturnCopies(t *testing.T) {
	s := testState(0, 100)
	s2 := s.WithTimeRange(model.Interval{Start: 10, End: 20}).
		WithTypeLevel(model.LevelEvent).
		WithLOD(model.LODHigh).
		WithFilter(filter.New().WithText("x"))

	if s.TimeRange() != (model.Interval{Start: 0, End: 100}) || s.TypeLevel() != model.LevelCategory || s.LevelOfDetail() != model.LODLow {
		t.Errorf("original state mutated: %s", s)
	}
	if s2.TypeLevel() != model.LevelEvent || s2.LevelOfDetail() != model.LODHigh {
		t.Errorf("copy not updated: %s", s2)
	}
	if s.Equal(s2) {
		t.Error("states should differ")
	}

	s3 := s.WithTimeAndType(model.Interval{Start: 1, End: 2}, model.LevelRoot)
	if s3.TimeRange().Start != 1 || s3.TypeLevel() != model.LevelRoot {
		t.Errorf("WithTimeAndType = %s", s3)
	}
}

func TestEqualityIsStructural(t *testing.T) {
	a := testState(0, 100).WithFilter(filter.New().WithText("chrome"))
	b := testState(0, 100).WithFilter(filter.New().WithText("chrome"))
	if !a.Equal(b) {
		t.Error("structurally equal states compare unequal")
	}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	c := b.WithLOD(model.LODMedium)
	if a.Equal(c) || a.Key() == c.Key() {
		t.Error("lod change not reflected in equality")
	}
}

func TestAdvanceThenRetreatReturnsPrevious(t *testing.T) {
	h := NewHistory(testState(0, 1))
	a := testState(0, 100)
	b := testState(50, 100)

	h.Advance(a)
	h.Advance(b)
	got := h.Back()

	if !got.Equal(a) || !h.Current().Equal(a) {
		t.Errorf("current = %s, want %s", h.Current(), a)
	}
	if !h.CanAdvance() || !h.CanRetreat() {
		t.Errorf("flags = advance:%v retreat:%v, want both true", h.CanAdvance(), h.CanRetreat())
	}
}

func TestAdvanceEqualStateIsNoop(t *testing.T) {
	h := NewHistory(testState(0, 1))
	x := testState(0, 100)
	h.Advance(x)
	length, index := h.Len(), h.Index()

	if h.Advance(testState(0, 100)) {
		t.Error("Advance of an equal state reported a change")
	}
	if h.Len() != length || h.Index() != index {
		t.Errorf("len/index = %d/%d, want %d/%d", h.Len(), h.Index(), length, index)
	}
}

func TestAdvanceTruncatesForwardStates(t *testing.T) {
	h := NewHistory(testState(0, 1))
	h.Advance(testState(0, 2))
	h.Advance(testState(0, 3))
	h.Advance(testState(0, 4))
	h.Back()
	h.Back() // at (0,2)

	h.Advance(testState(0, 9))

	if h.Len() != 3 {
		t.Fatalf("len = %d, want 3", h.Len())
	}
	if h.CanAdvance() {
		t.Error("CanAdvance should be false at the tail")
	}
	if got := h.Forward(); !got.Equal(testState(0, 9)) {
		t.Errorf("Forward at tail moved to %s", got)
	}
	if got := h.Back(); !got.Equal(testState(0, 2)) {
		t.Errorf("Back = %s, want (0,2)", got)
	}
}

func TestBoundariesDoNotPanic(t *testing.T) {
	h := NewHistory(testState(0, 1))
	for i := 0; i < 3; i++ {
		h.Back()
		h.Forward()
	}
	if h.Len() != 1 || h.Index() != 0 {
		t.Errorf("len/index = %d/%d, want 1/0", h.Len(), h.Index())
	}
	if h.CanAdvance() || h.CanRetreat() {
		t.Error("single-entry history should not navigate")
	}
}

func TestAmendKeepsNeighbours(t *testing.T) {
	h := NewHistory(testState(0, 1))
	h.Advance(testState(0, 2))
	h.Advance(testState(0, 3))
	h.Back()

	h.Amend(testState(0, 20))

	if h.Len() != 3 || h.Index() != 1 {
		t.Fatalf("len/index = %d/%d", h.Len(), h.Index())
	}
	if !h.Current().Equal(testState(0, 20)) {
		t.Errorf("current = %s", h.Current())
	}
	if !h.Forward().Equal(testState(0, 3)) {
		t.Error("forward entry lost")
	}
}

func TestJSONKeepsEquality(t *testing.T) {
	s := testState(5, 50).WithTypeLevel(model.LevelEvent).WithFilter(filter.New().WithText("dropper"))
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded State
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(s) {
		t.Errorf("decoded %s, want %s", decoded, s)
	}
}
