package timeline

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/tinytelemetry/tideline/internal/model"
)

// fakeStore is an in-memory model.EventStore that counts its calls.
type fakeStore struct {
	mu          sync.Mutex
	events      map[int64]model.Event
	sources     []model.DataSource
	hashSets    []string
	tags        []string
	calls       map[string]int
	eventCalls  map[int64]int
	countsFixed map[model.EventTypeID]int64
	failEvent   error
	failCatalog error
}

var fakeTypes = []model.EventType{
	{ID: 0, Name: "Event Types", Level: model.LevelRoot},
	{ID: 1, Name: "File System", Level: model.LevelCategory},
	{ID: 2, Name: "Web Activity", Level: model.LevelCategory},
	{ID: 10, Name: "File Modified", ParentID: 1, Level: model.LevelEvent},
	{ID: 20, Name: "Web History", ParentID: 2, Level: model.LevelEvent},
}

// newFakeStore holds three events at t=100, 300 and 500, one per file.
func newFakeStore() *fakeStore {
	s := &fakeStore{
		events:     map[int64]model.Event{},
		sources:    []model.DataSource{{ID: 1, Name: "laptop.e01"}, {ID: 2, Name: "phone.tar"}},
		hashSets:   []string{"NSRL"},
		calls:      map[string]int{},
		eventCalls: map[int64]int{},
	}
	s.events[1] = model.Event{ID: 1, Type: 10, BaseType: 1, Time: 100, DataSourceID: 1, ContentID: 100, ShortDescription: "a"}
	s.events[2] = model.Event{ID: 2, Type: 20, BaseType: 2, Time: 300, DataSourceID: 1, ContentID: 200, ArtifactID: 7, ShortDescription: "b"}
	s.events[3] = model.Event{ID: 3, Type: 10, BaseType: 1, Time: 500, DataSourceID: 2, ContentID: 300, ShortDescription: "c"}
	return s
}

func (s *fakeStore) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *fakeStore) eventLoads(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventCalls[id]
}

func (s *fakeStore) EventByID(_ context.Context, id int64) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventCalls[id]++
	if s.failEvent != nil {
		return model.Event{}, s.failEvent
	}
	ev, ok := s.events[id]
	if !ok {
		return model.Event{}, model.ErrNotFound
	}
	return ev, nil
}

func (s *fakeStore) MinEventTime(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["min"]++
	lo := int64(0)
	for _, ev := range s.events {
		if lo == 0 || ev.Time < lo {
			lo = ev.Time
		}
	}
	return lo, nil
}

func (s *fakeStore) MaxEventTime(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["max"]++
	var hi int64
	for _, ev := range s.events {
		hi = max(hi, ev.Time)
	}
	return hi, nil
}

// matches applies only the type and datasource clauses.
func matches(ev model.Event, p model.Predicate) bool {
	for _, c := range p.Clauses {
		switch c.Kind {
		case model.FilterEventType:
			if !slices.Contains(c.Values, "0") &&
				!slices.Contains(c.Values, strconv.FormatInt(int64(ev.Type), 10)) &&
				!slices.Contains(c.Values, strconv.FormatInt(int64(ev.BaseType), 10)) {
				return false
			}
		case model.FilterDataSource:
			if !slices.Contains(c.Values, strconv.FormatInt(ev.DataSourceID, 10)) {
				return false
			}
		}
	}
	return true
}

func (s *fakeStore) CountEventsByType(_ context.Context, start, end int64, p model.Predicate, level model.HierarchyLevel) (map[model.EventTypeID]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["counts"]++
	if s.countsFixed != nil {
		return s.countsFixed, nil
	}
	out := map[model.EventTypeID]int64{}
	for _, ev := range s.events {
		if ev.Time < start || ev.Time >= end || !matches(ev, p) {
			continue
		}
		switch level {
		case model.LevelRoot:
			out[model.RootEventType]++
		case model.LevelCategory:
			out[ev.BaseType]++
		default:
			out[ev.Type]++
		}
	}
	return out, nil
}

func (s *fakeStore) SpanningIntervalForIDs(_ context.Context, ids []int64) (model.Interval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var r model.Interval
	for _, id := range ids {
		ev, ok := s.events[id]
		if !ok {
			continue
		}
		if r.IsZero() {
			r = model.Interval{Start: ev.Time, End: ev.Time + 1}
			continue
		}
		r.Start = min(r.Start, ev.Time)
		r.End = max(r.End, ev.Time+1)
	}
	return r, nil
}

func (s *fakeStore) SpanningInterval(_ context.Context, r model.Interval, p model.Predicate, loc *time.Location) (model.Interval, error) {
	ids, _ := s.EventIDs(context.Background(), r, p)
	span, _ := s.SpanningIntervalForIDs(context.Background(), ids)
	if span.IsZero() {
		return span, nil
	}
	start := time.Unix(span.Start, 0).In(loc)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	end := time.Unix(span.End, 0).In(loc)
	endDay := time.Date(end.Year(), end.Month(), end.Day()+1, 0, 0, 0, 0, loc)
	return model.Interval{Start: day.Unix(), End: endDay.Unix()}, nil
}

func (s *fakeStore) EventIDs(_ context.Context, r model.Interval, p model.Predicate) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["ids"]++
	var ids []int64
	for id, ev := range s.events {
		if r.Contains(ev.Time) && matches(ev, p) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *fakeStore) EventIDsForContent(_ context.Context, contentID int64, includeDerived bool) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, ev := range s.events {
		if ev.ContentID == contentID && (includeDerived || ev.ArtifactID == 0) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *fakeStore) EventIDsForArtifact(_ context.Context, artifactID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, ev := range s.events {
		if ev.ArtifactID == artifactID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *fakeStore) EventTypes(context.Context) ([]model.EventType, error) {
	return fakeTypes, nil
}

func (s *fakeStore) DataSources(context.Context) ([]model.DataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sources), s.failCatalog
}

func (s *fakeStore) HashSetNames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.hashSets), nil
}

func (s *fakeStore) TagNamesInUse(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tags), nil
}

// flip sets a flag on every event selected by match whose flag differs.
func (s *fakeStore) flip(match func(model.Event) bool, set func(*model.Event) bool) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, ev := range s.events {
		if match(ev) && set(&ev) {
			s.events[id] = ev
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func setTagged(v bool) func(*model.Event) bool {
	return func(ev *model.Event) bool {
		if ev.Tagged == v {
			return false
		}
		ev.Tagged = v
		return true
	}
}

func (s *fakeStore) UpdateEventsForContentTagAdded(_ context.Context, contentID int64) ([]int64, error) {
	return s.flip(func(ev model.Event) bool { return ev.ContentID == contentID }, setTagged(true)), nil
}

func (s *fakeStore) UpdateEventsForContentTagDeleted(_ context.Context, contentID int64) ([]int64, error) {
	return s.flip(func(ev model.Event) bool { return ev.ContentID == contentID }, setTagged(false)), nil
}

func (s *fakeStore) UpdateEventsForArtifactTagAdded(_ context.Context, artifactID int64) ([]int64, error) {
	return s.flip(func(ev model.Event) bool { return ev.ArtifactID == artifactID }, setTagged(true)), nil
}

func (s *fakeStore) UpdateEventsForArtifactTagDeleted(_ context.Context, artifactID int64) ([]int64, error) {
	return s.flip(func(ev model.Event) bool { return ev.ArtifactID == artifactID }, setTagged(false)), nil
}

func (s *fakeStore) UpdateEventsForHashSetHit(_ context.Context, contentID int64) ([]int64, error) {
	if contentID < 0 {
		return nil, errors.New("no such content")
	}
	return s.flip(func(ev model.Event) bool { return ev.ContentID == contentID }, func(ev *model.Event) bool {
		if ev.HashHit {
			return false
		}
		ev.HashHit = true
		return true
	}), nil
}
