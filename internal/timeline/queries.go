package timeline

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/tinytelemetry/tideline/internal/filter"
	"github.com/tinytelemetry/tideline/internal/model"
)

// EventByID returns the event with id, through the event cache.
func (m *Model) EventByID(ctx context.Context, id int64) (model.Event, error) {
	return m.caches.events.Get(ctx, id)
}

// EventsByID returns the events for ids in the same order. It stops at the
// first id that cannot be loaded.
func (m *Model) EventsByID(ctx context.Context, ids []int64) ([]model.Event, error) {
	out := make([]model.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := m.caches.events.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// MinEventTime returns the time of the earliest event in the case.
func (m *Model) MinEventTime(ctx context.Context) (int64, error) {
	return m.caches.minTime.Get(ctx, singleton{})
}

// MaxEventTime returns the time of the latest event in the case.
func (m *Model) MaxEventTime(ctx context.Context) (int64, error) {
	return m.caches.maxTime.Get(ctx, singleton{})
}

// SpanningInterval returns [min, max+1) over every event in the case,
// ignoring filters and the current range.
func (m *Model) SpanningInterval(ctx context.Context) (model.Interval, error) {
	lo, err := m.MinEventTime(ctx)
	if err != nil {
		return model.Interval{}, err
	}
	hi, err := m.MaxEventTime(ctx)
	if err != nil {
		return model.Interval{}, err
	}
	return model.Interval{Start: lo, End: hi + 1}, nil
}

// SpanningIntervalForIDs returns the smallest interval containing ids.
func (m *Model) SpanningIntervalForIDs(ctx context.Context, ids []int64) (model.Interval, error) {
	r, err := m.store.SpanningIntervalForIDs(ctx, ids)
	return r, model.WrapStoreError("spanning interval for ids", err)
}

// SpanningIntervalIn returns the interval covering the events that pass the
// current filter within the current range, expanded to whole days in loc.
func (m *Model) SpanningIntervalIn(ctx context.Context, loc *time.Location) (model.Interval, error) {
	if loc == nil {
		loc = m.cfg.Location
	}
	s := m.ZoomState()
	r, err := m.store.SpanningInterval(ctx, s.TimeRange(), s.Filter().ActiveFilter(), loc)
	return r, model.WrapStoreError("spanning interval", err)
}

// EventCounts returns counts per event type over r, grouped at the current
// type level and filtered by the current filter. The map is the caller's.
func (m *Model) EventCounts(ctx context.Context, r model.Interval) (map[model.EventTypeID]int64, error) {
	counts, err := m.caches.counts.Get(ctx, m.ZoomState().WithTimeRange(r))
	if err != nil {
		return nil, err
	}
	return maps.Clone(counts), nil
}

// EventIDs returns the ids of events in r that pass the current filter
// combined with extra. r is clipped to the spanning interval first.
func (m *Model) EventIDs(ctx context.Context, r model.Interval, extra filter.Tree) ([]int64, error) {
	return m.EventIDsWhere(ctx, r, extra)
}

// EventIDsWhere is EventIDs with clauses ANDed onto the combined predicate.
// Unlike leaves in extra, which widen their category, each clause narrows the
// result.
func (m *Model) EventIDsWhere(ctx context.Context, r model.Interval, extra filter.Tree, clauses ...model.Clause) ([]int64, error) {
	span, err := m.SpanningInterval(ctx)
	if err != nil {
		return nil, err
	}
	overlap, ok := span.Overlap(r)
	if !ok {
		return nil, nil
	}
	p := m.Filter().Intersect(extra).ActiveFilter()
	p.Clauses = append(p.Clauses, clauses...)
	ids, err := m.store.EventIDs(ctx, overlap, p)
	return ids, model.WrapStoreError("event ids", err)
}

// EventIDsForFile returns the events of a file, optionally with the events
// of artifacts derived from it.
func (m *Model) EventIDsForFile(ctx context.Context, contentID int64, includeDerived bool) ([]int64, error) {
	ids, err := m.store.EventIDsForContent(ctx, contentID, includeDerived)
	return ids, model.WrapStoreError("event ids for file", err)
}

// EventIDsForArtifact returns the events of one artifact.
func (m *Model) EventIDsForArtifact(ctx context.Context, artifactID int64) ([]int64, error) {
	ids, err := m.store.EventIDsForArtifact(ctx, artifactID)
	return ids, model.WrapStoreError("event ids for artifact", err)
}

// EventTypes returns the event type hierarchy.
func (m *Model) EventTypes() []model.EventType {
	return slices.Clone(m.types)
}

// DefaultFilter returns the default filter tree for the case as it is now.
func (m *Model) DefaultFilter() filter.Tree {
	return filter.Default(m.types, m.reg)
}
