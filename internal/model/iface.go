package model

import (
	"context"
	"time"
)

// EventReader provides the read-side queries over the case event store.
type EventReader interface {
	EventByID(ctx context.Context, id int64) (Event, error)
	MinEventTime(ctx context.Context) (int64, error)
	MaxEventTime(ctx context.Context) (int64, error)
	CountEventsByType(ctx context.Context, start, end int64, p Predicate, level HierarchyLevel) (map[EventTypeID]int64, error)
	SpanningIntervalForIDs(ctx context.Context, ids []int64) (Interval, error)
	SpanningInterval(ctx context.Context, r Interval, p Predicate, loc *time.Location) (Interval, error)
	EventIDs(ctx context.Context, r Interval, p Predicate) ([]int64, error)
	EventIDsForContent(ctx context.Context, contentID int64, includeDerived bool) ([]int64, error)
	EventIDsForArtifact(ctx context.Context, artifactID int64) ([]int64, error)
	EventTypes(ctx context.Context) ([]EventType, error)
}

// CaseCatalog lists the case-level items the filter registries track.
type CaseCatalog interface {
	DataSources(ctx context.Context) ([]DataSource, error)
	HashSetNames(ctx context.Context) ([]string, error)
	TagNamesInUse(ctx context.Context) ([]string, error)
}

// EventUpdater flips derived event flags after a case change and returns the
// ids of the events whose flag actually changed.
type EventUpdater interface {
	UpdateEventsForContentTagAdded(ctx context.Context, contentID int64) ([]int64, error)
	UpdateEventsForContentTagDeleted(ctx context.Context, contentID int64) ([]int64, error)
	UpdateEventsForArtifactTagAdded(ctx context.Context, artifactID int64) ([]int64, error)
	UpdateEventsForArtifactTagDeleted(ctx context.Context, artifactID int64) ([]int64, error)
	UpdateEventsForHashSetHit(ctx context.Context, contentID int64) ([]int64, error)
}

// EventStore is the full contract the timeline model consumes.
type EventStore interface {
	EventReader
	CaseCatalog
	EventUpdater
}

// CaseWriter records case changes. It stands in for ingest and the case
// management layer, which own these writes in a full deployment.
type CaseWriter interface {
	InsertEvents(ctx context.Context, events []Event) error
	AddDataSource(ctx context.Context, name string) (DataSource, error)
	TagContent(ctx context.Context, contentID int64, tagName string) error
	UntagContent(ctx context.Context, contentID int64, tagName string) error
	TagArtifact(ctx context.Context, artifactID int64, tagName string) error
	UntagArtifact(ctx context.Context, artifactID int64, tagName string) error
	RecordHashSetHit(ctx context.Context, contentID int64, setName string) error
	ArtifactByID(ctx context.Context, artifactID int64) (Artifact, error)
}
