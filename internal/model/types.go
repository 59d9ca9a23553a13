package model

import (
	"fmt"
	"time"
)

// EventTypeID identifies a node in the event type hierarchy.
type EventTypeID int64

// RootEventType is the id of the hierarchy root. Every event descends from it.
const RootEventType EventTypeID = 0

// HierarchyLevel is the depth at which event counts are grouped.
type HierarchyLevel int

const (
	LevelRoot     HierarchyLevel = iota // everything under one bucket
	LevelCategory                       // base types (file system, web activity, ...)
	LevelEvent                          // concrete sub types
)

var hierarchyNames = [...]string{"root", "category", "event"}

func (l HierarchyLevel) String() string {
	if l < 0 || int(l) >= len(hierarchyNames) {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return hierarchyNames[l]
}

// ParseHierarchyLevel parses the lowercase level name.
func ParseHierarchyLevel(s string) (HierarchyLevel, error) {
	for i, name := range hierarchyNames {
		if name == s {
			return HierarchyLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown hierarchy level %q", s)
}

// LevelOfDetail controls which description column is shown for an event.
type LevelOfDetail int

const (
	LODLow LevelOfDetail = iota
	LODMedium
	LODHigh
)

var lodNames = [...]string{"low", "medium", "high"}

func (l LevelOfDetail) String() string {
	if l < 0 || int(l) >= len(lodNames) {
		return fmt.Sprintf("lod(%d)", int(l))
	}
	return lodNames[l]
}

// ParseLevelOfDetail parses the lowercase level-of-detail name.
func ParseLevelOfDetail(s string) (LevelOfDetail, error) {
	for i, name := range lodNames {
		if name == s {
			return LevelOfDetail(i), nil
		}
	}
	return 0, fmt.Errorf("unknown level of detail %q", s)
}

// EventType is one node of the event type hierarchy.
type EventType struct {
	ID       EventTypeID    `json:"id"`
	Name     string         `json:"name"`
	ParentID EventTypeID    `json:"parentId"`
	Level    HierarchyLevel `json:"level"`
}

// Event is a copy of one timeline event as held by the model.
// The store owns the authoritative record.
type Event struct {
	ID               int64       `json:"id"`
	Type             EventTypeID `json:"type"`     // sub type
	BaseType         EventTypeID `json:"baseType"` // category the sub type belongs to
	Time             int64       `json:"time"`     // unix seconds
	Tagged           bool        `json:"tagged"`
	HashHit          bool        `json:"hashHit"`
	Known            bool        `json:"known"`
	DataSourceID     int64       `json:"dataSourceId"`
	ContentID        int64       `json:"contentId"`
	ArtifactID       int64       `json:"artifactId,omitempty"` // 0 when the event comes straight from file metadata
	FullDescription  string      `json:"fullDescription"`
	MedDescription   string      `json:"medDescription"`
	ShortDescription string      `json:"shortDescription"`
	MIMEType         string      `json:"mimeType,omitempty"`
}

// Description returns the description matching the requested level of detail.
func (e Event) Description(lod LevelOfDetail) string {
	switch lod {
	case LODHigh:
		return e.FullDescription
	case LODMedium:
		return e.MedDescription
	default:
		return e.ShortDescription
	}
}

// DataSource is one unit of acquired evidence within a case.
type DataSource struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Artifact is a derived result that points back at the content it came from.
type Artifact struct {
	ID        int64 `json:"id"`
	ContentID int64 `json:"contentId"`
}

// Interval is a half-open [Start, End) range in unix seconds.
// The zero value means "no range".
type Interval struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// IsZero reports whether the interval is unset.
func (i Interval) IsZero() bool {
	return i.Start == 0 && i.End == 0
}

// Duration returns the length of the interval in seconds.
func (i Interval) Duration() int64 {
	return i.End - i.Start
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t int64) bool {
	return t >= i.Start && t < i.End
}

// Overlap returns the intersection of two intervals and whether they overlap at all.
func (i Interval) Overlap(o Interval) (Interval, bool) {
	start := max(i.Start, o.Start)
	end := min(i.End, o.End)
	if start >= end {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

// Around returns an interval of the given length centred on the middle of i.
func (i Interval) Around(length int64) Interval {
	if length < 1 {
		length = 1
	}
	middle := i.Start + i.Duration()/2
	start := middle - length/2
	return Interval{Start: start, End: start + length}
}

func (i Interval) String() string {
	if i.IsZero() {
		return "[-)"
	}
	return fmt.Sprintf("[%s, %s)",
		time.Unix(i.Start, 0).UTC().Format(time.RFC3339),
		time.Unix(i.End, 0).UTC().Format(time.RFC3339))
}

// IngestEnvelope is one raw line received by an ingest source, tagged with
// the name of the source it came from.
type IngestEnvelope struct {
	Source string
	Line   string
}
