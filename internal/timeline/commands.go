package timeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/tinytelemetry/tideline/internal/filter"
	"github.com/tinytelemetry/tideline/internal/model"
	"github.com/tinytelemetry/tideline/internal/zoom"
)

// push derives a new state from the current one and advances the history.
// A derived state equal to the current one changes nothing.
func (m *Model) push(derive func(zoom.State) zoom.State) bool {
	m.mu.Lock()
	changed := m.history.Advance(derive(m.history.Current()))
	n := m.zoomChangedLocked()
	m.mu.Unlock()

	if changed {
		m.bus.Publish(n)
	}
	return changed
}

// PushTimeRange shows r.
func (m *Model) PushTimeRange(r model.Interval) bool {
	return m.push(func(s zoom.State) zoom.State { return s.WithTimeRange(r) })
}

// PushTypeLevel groups counts at level.
func (m *Model) PushTypeLevel(level model.HierarchyLevel) bool {
	return m.push(func(s zoom.State) zoom.State { return s.WithTypeLevel(level) })
}

// PushTimeAndType changes range and level as one history step.
func (m *Model) PushTimeAndType(r model.Interval, level model.HierarchyLevel) bool {
	return m.push(func(s zoom.State) zoom.State { return s.WithTimeAndType(r, level) })
}

// PushFilter applies f. It is synced against the registries first so a
// filter built from a stale default still lists every data source.
func (m *Model) PushFilter(f filter.Tree) bool {
	synced, _ := f.Sync(m.reg)
	return m.push(func(s zoom.State) zoom.State { return s.WithFilter(synced) })
}

// PushLOD switches the level of detail. Switching to high detail while more
// than model.LargeDetailThreshold events are in range returns
// ErrLargeDetailRequest unless force is set.
func (m *Model) PushLOD(ctx context.Context, lod model.LevelOfDetail, force bool) (bool, error) {
	if lod == model.LODHigh && !force {
		counts, err := m.EventCounts(ctx, m.ZoomState().TimeRange())
		if err != nil {
			return false, err
		}
		var total int64
		for _, n := range counts {
			total += n
		}
		if total > model.LargeDetailThreshold {
			return false, fmt.Errorf("%w: %d events in range", ErrLargeDetailRequest, total)
		}
	}
	return m.push(func(s zoom.State) zoom.State { return s.WithLOD(lod) }), nil
}

// ShowFullRange shows the spanning interval of the whole case.
func (m *Model) ShowFullRange(ctx context.Context) (bool, error) {
	span, err := m.SpanningInterval(ctx)
	if err != nil {
		return false, err
	}
	return m.PushTimeRange(span), nil
}

// ZoomToActivity narrows the range to the events that pass the current
// filter, aligned to whole days in the configured location.
func (m *Model) ZoomToActivity(ctx context.Context) (bool, error) {
	r, err := m.SpanningIntervalIn(ctx, m.cfg.Location)
	if err != nil {
		return false, err
	}
	if r.IsZero() {
		return false, nil
	}
	return m.PushTimeRange(r), nil
}

// ZoomIn trims a quarter of the current range from each end.
func (m *Model) ZoomIn() bool {
	return m.push(func(s zoom.State) zoom.State {
		r := s.TimeRange()
		q := r.Duration() / 4
		return s.WithTimeRange(model.Interval{Start: r.Start + q, End: r.End - q})
	})
}

// ZoomOut widens the current range by a quarter at each end.
func (m *Model) ZoomOut() bool {
	return m.push(func(s zoom.State) zoom.State {
		r := s.TimeRange()
		q := max(r.Duration()/4, 1)
		return s.WithTimeRange(model.Interval{Start: r.Start - q, End: r.End + q})
	})
}

// PushPeriod shows a range of the given length centred on the current one.
func (m *Model) PushPeriod(seconds int64) bool {
	return m.push(func(s zoom.State) zoom.State {
		return s.WithTimeRange(s.TimeRange().Around(seconds))
	})
}

// Advance moves forward in the history and returns the new current state.
func (m *Model) Advance() zoom.State {
	return m.navigate(true)
}

// Retreat moves back in the history and returns the new current state.
func (m *Model) Retreat() zoom.State {
	return m.navigate(false)
}

// navigate moves through the history. The state arrived at is synced
// against the registries, since data sources or tags may have appeared since
// it was pushed.
func (m *Model) navigate(forward bool) zoom.State {
	m.mu.Lock()
	before := m.history.Index()
	var s zoom.State
	if forward {
		s = m.history.Forward()
	} else {
		s = m.history.Back()
	}
	moved := m.history.Index() != before
	if moved {
		s = m.syncCurrentLocked()
	}
	n := m.zoomChangedLocked()
	m.mu.Unlock()

	if moved {
		m.bus.Publish(n)
	}
	return s
}

// syncCurrentLocked amends the current state when its filter is out of
// date with the registries. It requires m.mu.
func (m *Model) syncCurrentLocked() zoom.State {
	s := m.history.Current()
	if synced, changed := s.Filter().Sync(m.reg); changed {
		s = s.WithFilter(synced)
		m.history.Amend(s)
	}
	return s
}

// SelectEventIDs selects ids and sets the selected time range to the
// interval they span.
func (m *Model) SelectEventIDs(ctx context.Context, ids []int64) error {
	var r model.Interval
	if len(ids) > 0 {
		var err error
		r, err = m.SpanningIntervalForIDs(ctx, ids)
		if err != nil {
			return err
		}
	}
	m.setSelection(ids, r)
	return nil
}

func (m *Model) setSelection(ids []int64, r model.Interval) {
	ids = slices.Clone(ids)
	m.mu.Lock()
	m.selectedIDs = ids
	m.selectedRange = r
	m.mu.Unlock()

	m.bus.Publish(SelectionChanged{EventIDs: slices.Clone(ids), TimeRange: r})
}

// RequestRefresh asks subscribers to re-query.
func (m *Model) RequestRefresh() {
	m.bus.Publish(RefreshRequested{})
}
