package timeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tinytelemetry/tideline/internal/model"
	"github.com/tinytelemetry/tideline/internal/task"
	"github.com/tinytelemetry/tideline/internal/zoom"
)

// CountsAsync queues a task that counts the events of s slice by slice and
// stores the total in the counts cache. CountsLoaded is published when it
// succeeds; EventCounts for the same state is then a cache hit. Counts taken
// across a cache invalidation are discarded without a notification.
func (m *Model) CountsAsync(s zoom.State) (*task.Task, error) {
	t := task.New("Count events "+s.TimeRange().String(), func(ctx context.Context, t *task.Task) error {
		epoch := m.caches.counts.Epoch()
		counts, err := m.countSliced(ctx, t, s)
		if err != nil {
			return err
		}
		if !m.caches.counts.PutIfCurrent(s, counts, epoch) {
			t.UpdateMessage("counts outdated by invalidation")
			return nil
		}

		var total int64
		for _, n := range counts {
			total += n
		}
		t.UpdateMessage(fmt.Sprintf("%d events", total))
		m.bus.Publish(CountsLoaded{State: s, Total: total})
		return nil
	})
	if err := m.tasks.Submit(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Model) countSliced(ctx context.Context, t *task.Task, s zoom.State) (map[model.EventTypeID]int64, error) {
	out := map[model.EventTypeID]int64{}
	r := s.TimeRange()
	if r.IsZero() || r.Duration() <= 0 {
		return out, nil
	}

	n := int64(m.cfg.CountsSlices)
	if r.Duration() < n {
		n = r.Duration()
	}
	step := r.Duration() / n
	p := s.Filter().ActiveFilter()

	for i := int64(0); i < n; i++ {
		if t.Cancelled() {
			return nil, model.ErrTaskCancelled
		}
		start := r.Start + i*step
		end := start + step
		if i == n-1 {
			end = r.End
		}
		counts, err := m.store.CountEventsByType(ctx, start, end, p, s.TypeLevel())
		if err != nil {
			return nil, model.WrapStoreError("count events", err)
		}
		for typ, c := range counts {
			out[typ] += c
		}
		t.UpdateProgress(float64(i+1) / float64(n))
	}
	return out, nil
}

// SelectTimeAndType queues a task that selects the events of one type in
// interval. The interval is clipped to the spanning interval and the type is
// applied on top of the current filter.
func (m *Model) SelectTimeAndType(interval model.Interval, typ model.EventTypeID) (*task.Task, error) {
	t := task.New("Select time and type", func(ctx context.Context, t *task.Task) error {
		span, err := m.SpanningInterval(ctx)
		if err != nil {
			return err
		}
		r, ok := span.Overlap(interval)
		if !ok {
			m.setSelection(nil, model.Interval{})
			return nil
		}
		if t.Cancelled() {
			return model.ErrTaskCancelled
		}

		p := m.Filter().ActiveFilter()
		p.Clauses = append(p.Clauses, model.Clause{
			Kind:   model.FilterEventType,
			Values: []string{strconv.FormatInt(int64(typ), 10)},
		})
		ids, err := m.store.EventIDs(ctx, r, p)
		if err != nil {
			return model.WrapStoreError("event ids", err)
		}
		m.setSelection(ids, r)
		return nil
	})
	if err := m.tasks.Submit(t); err != nil {
		return nil, err
	}
	return t, nil
}
