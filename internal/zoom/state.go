// Package zoom holds the immutable view state of the timeline and the
// back/forward history of those states.
package zoom

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tinytelemetry/tideline/internal/filter"
	"github.com/tinytelemetry/tideline/internal/model"
)

// State is an immutable snapshot of what the timeline shows.
type State struct {
	timeRange model.Interval
	typeLevel model.HierarchyLevel
	filter    filter.Tree
	lod       model.LevelOfDetail
}

// New returns a state with all four fields set.
func New(r model.Interval, level model.HierarchyLevel, f filter.Tree, lod model.LevelOfDetail) State {
	return State{timeRange: r, typeLevel: level, filter: f, lod: lod}
}

func (s State) TimeRange() model.Interval          { return s.timeRange }
func (s State) TypeLevel() model.HierarchyLevel    { return s.typeLevel }
func (s State) Filter() filter.Tree                { return s.filter }
func (s State) LevelOfDetail() model.LevelOfDetail { return s.lod }

// WithTimeRange returns a copy with the time range replaced.
func (s State) WithTimeRange(r model.Interval) State {
	s.timeRange = r
	return s
}

// WithTypeLevel returns a copy with the type hierarchy level replaced.
func (s State) WithTypeLevel(level model.HierarchyLevel) State {
	s.typeLevel = level
	return s
}

// WithFilter returns a copy with the filter tree replaced.
func (s State) WithFilter(f filter.Tree) State {
	s.filter = f
	return s
}

// WithLOD returns a copy with the level of detail replaced.
func (s State) WithLOD(lod model.LevelOfDetail) State {
	s.lod = lod
	return s
}

// WithTimeAndType returns a copy with both time range and type level replaced.
func (s State) WithTimeAndType(r model.Interval, level model.HierarchyLevel) State {
	s.timeRange = r
	s.typeLevel = level
	return s
}

// Equal reports whether all four fields are equal.
func (s State) Equal(o State) bool {
	return s.timeRange == o.timeRange &&
		s.typeLevel == o.typeLevel &&
		s.lod == o.lod &&
		s.filter.Equal(o.filter)
}

// Key returns a canonical string identity usable as a cache key.
func (s State) Key() string {
	return strconv.FormatInt(s.timeRange.Start, 10) + ":" +
		strconv.FormatInt(s.timeRange.End, 10) + "|" +
		s.typeLevel.String() + "|" +
		s.lod.String() + "|" +
		s.filter.Key()
}

func (s State) String() string {
	return fmt.Sprintf("zoom{range=%s level=%s lod=%s filter=%s}", s.timeRange, s.typeLevel, s.lod, s.filter.ActiveFilter())
}

type stateJSON struct {
	TimeRange model.Interval `json:"timeRange"`
	TypeLevel string         `json:"typeLevel"`
	LOD       string         `json:"lod"`
	Filter    filter.Tree    `json:"filter"`
}

// MarshalJSON encodes the state with level names spelled out.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{
		TimeRange: s.timeRange,
		TypeLevel: s.typeLevel.String(),
		LOD:       s.lod.String(),
		Filter:    s.filter,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	level, err := model.ParseHierarchyLevel(raw.TypeLevel)
	if err != nil {
		return err
	}
	lod, err := model.ParseLevelOfDetail(raw.LOD)
	if err != nil {
		return err
	}
	*s = New(raw.TimeRange, level, raw.Filter, lod)
	return nil
}
