package timeline

import (
	"context"

	"github.com/tinytelemetry/tideline/internal/cache"
	"github.com/tinytelemetry/tideline/internal/model"
	"github.com/tinytelemetry/tideline/internal/zoom"
)

type singleton struct{}

type caches struct {
	events  *cache.Loading[int64, model.Event]
	minTime *cache.Loading[singleton, int64]
	maxTime *cache.Loading[singleton, int64]
	counts  *cache.Loading[zoom.State, map[model.EventTypeID]int64]
}

// countsKey ignores the level of detail: it does not change any count.
func countsKey(s zoom.State) string {
	return s.WithLOD(model.LODLow).Key()
}

func newCaches(store model.EventReader, cfg Config) *caches {
	return &caches{
		events: cache.New(cache.Config{
			Name:              "events",
			MaxSize:           cfg.EventCacheSize,
			ExpireAfterAccess: cfg.EventCacheIdle,
			Clock:             cfg.Clock,
		}, cache.Int64Key, func(ctx context.Context, id int64) (model.Event, error) {
			ev, err := store.EventByID(ctx, id)
			return ev, model.WrapStoreError("event by id", err)
		}),
		minTime: cache.New(cache.Config{Name: "min-time", MaxSize: 1},
			func(singleton) string { return "min" },
			func(ctx context.Context, _ singleton) (int64, error) {
				t, err := store.MinEventTime(ctx)
				return t, model.WrapStoreError("min event time", err)
			}),
		maxTime: cache.New(cache.Config{Name: "max-time", MaxSize: 1},
			func(singleton) string { return "max" },
			func(ctx context.Context, _ singleton) (int64, error) {
				t, err := store.MaxEventTime(ctx)
				return t, model.WrapStoreError("max event time", err)
			}),
		counts: cache.New(cache.Config{
			Name:              "counts",
			MaxSize:           cfg.CountsCacheSize,
			ExpireAfterAccess: cfg.CountsCacheIdle,
			Clock:             cfg.Clock,
		}, countsKey, func(ctx context.Context, s zoom.State) (map[model.EventTypeID]int64, error) {
			r := s.TimeRange()
			if r.IsZero() {
				return map[model.EventTypeID]int64{}, nil
			}
			counts, err := store.CountEventsByType(ctx, r.Start, r.End, s.Filter().ActiveFilter(), s.TypeLevel())
			if err != nil {
				return nil, model.WrapStoreError("count events", err)
			}
			return counts, nil
		}),
	}
}

// invalidate always drops the range-dependent caches. Event entries are
// dropped for ids only, or entirely when ids is nil.
func (c *caches) invalidate(ids []int64) {
	c.minTime.InvalidateAll()
	c.maxTime.InvalidateAll()
	c.counts.InvalidateAll()
	if ids == nil {
		c.events.InvalidateAll()
		return
	}
	if len(ids) > 0 {
		c.events.Invalidate(ids...)
	}
}

// CacheStats returns the counters of every cache by name.
func (m *Model) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		m.caches.events.Name():  m.caches.events.Stats(),
		m.caches.minTime.Name(): m.caches.minTime.Stats(),
		m.caches.maxTime.Name(): m.caches.maxTime.Stats(),
		m.caches.counts.Name():  m.caches.counts.Stats(),
	}
}
