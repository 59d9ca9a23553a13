// Package timeline coordinates the zoom history, the event caches, the
// filter registries and background tasks of one open case.
//
// All store calls that may block run without the aggregate lock. The lock
// only guards in-memory mutations of the history, the selection and cache
// invalidation, and notifications are published after it is released so
// subscribers may call straight back into the Model.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/tinytelemetry/tideline/internal/bus"
	"github.com/tinytelemetry/tideline/internal/filter"
	"github.com/tinytelemetry/tideline/internal/metrics"
	"github.com/tinytelemetry/tideline/internal/model"
	"github.com/tinytelemetry/tideline/internal/registry"
	"github.com/tinytelemetry/tideline/internal/task"
	"github.com/tinytelemetry/tideline/internal/zoom"
)

// ErrLargeDetailRequest is returned by PushLOD when switching to high
// detail would render more than model.LargeDetailThreshold events.
var ErrLargeDetailRequest = errors.New("timeline: large detail request")

// Config tunes the caches and background counting.
type Config struct {
	EventCacheSize  int
	EventCacheIdle  time.Duration
	CountsCacheSize int
	CountsCacheIdle time.Duration
	// CountsSlices is the number of sub-ranges a background counts task
	// splits its range into. Cancellation is checked between slices.
	CountsSlices int
	// Location is used for day-aligned spanning intervals.
	Location *time.Location
	// Clock overrides time.Now for cache expiry, for tests.
	Clock func() time.Time
}

// DefaultConfig returns the standard cache bounds.
func DefaultConfig() Config {
	return Config{
		EventCacheSize:  model.DefaultEventCacheSize,
		EventCacheIdle:  model.DefaultEventCacheIdle,
		CountsCacheSize: model.DefaultCountsCacheSize,
		CountsCacheIdle: model.DefaultCountsCacheIdle,
		CountsSlices:    model.DefaultCountsSlices,
		Location:        time.UTC,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EventCacheSize <= 0 {
		c.EventCacheSize = d.EventCacheSize
	}
	if c.EventCacheIdle < 0 {
		c.EventCacheIdle = d.EventCacheIdle
	}
	if c.CountsCacheSize <= 0 {
		c.CountsCacheSize = d.CountsCacheSize
	}
	if c.CountsCacheIdle < 0 {
		c.CountsCacheIdle = d.CountsCacheIdle
	}
	if c.CountsSlices <= 0 {
		c.CountsSlices = d.CountsSlices
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}

// Model is the timeline events model of one case.
type Model struct {
	store  model.EventStore
	cfg    Config
	caches *caches
	reg    *registry.Registry
	bus    *bus.Bus[Notification]
	tasks  *task.Executor
	types  []model.EventType

	mu            sync.Mutex
	history       *zoom.History
	selectedIDs   []int64
	selectedRange model.Interval
}

// New loads the event type hierarchy and the registries from store and
// starts with the full spanning interval under the default filter.
func New(ctx context.Context, store model.EventStore, cfg Config) (*Model, error) {
	cfg = cfg.withDefaults()
	types, err := store.EventTypes(ctx)
	if err != nil {
		return nil, model.WrapStoreError("event types", err)
	}

	m := &Model{
		store:  store,
		cfg:    cfg,
		caches: newCaches(store, cfg),
		reg:    registry.New(),
		bus:    bus.New[Notification](),
		types:  types,
	}
	if _, err := m.reg.Refresh(ctx, store); err != nil {
		return nil, fmt.Errorf("timeline: load registries: %w", err)
	}

	span, err := m.SpanningInterval(ctx)
	if err != nil {
		return nil, fmt.Errorf("timeline: initial range: %w", err)
	}
	initial := zoom.New(span, model.LevelCategory, filter.Default(types, m.reg), model.LODLow)
	m.history = zoom.NewHistory(initial)
	metrics.HistoryDepth.Set(1)

	m.tasks = task.NewExecutor(task.Hooks{
		Head: func(info task.Info, ok bool) {
			m.bus.Publish(TaskProgress{Task: info, Active: ok})
		},
		Finished: func(info task.Info, err error) {
			if info.State == task.Failed.String() {
				m.bus.Publish(TaskFailed{Task: info})
			}
		},
	})

	log.Printf("timeline: model ready, %d event types, %s, range %s", len(types), m.reg, span)
	return m, nil
}

// Close stops background tasks. Running tasks are cancelled.
func (m *Model) Close() {
	m.tasks.Stop()
}

// Subscribe registers fn for every notification and returns a function
// that removes it.
func (m *Model) Subscribe(fn func(Notification)) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

// ZoomState returns the current zoom state.
func (m *Model) ZoomState() zoom.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Current()
}

// Filter returns the filter tree of the current zoom state.
func (m *Model) Filter() filter.Tree {
	return m.ZoomState().Filter()
}

// CanAdvance reports whether Advance would move forward.
func (m *Model) CanAdvance() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.CanAdvance()
}

// CanRetreat reports whether Retreat would move back.
func (m *Model) CanRetreat() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.CanRetreat()
}

// Selection returns the selected event ids and the selected time range.
func (m *Model) Selection() ([]int64, model.Interval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.selectedIDs), m.selectedRange
}

// Tasks returns the pending background tasks, head first.
func (m *Model) Tasks() []task.Info {
	return m.tasks.Pending()
}

// CurrentTask returns the head of the task queue.
func (m *Model) CurrentTask() (task.Info, bool) {
	return m.tasks.Head()
}

// CancelTask cancels a queued or running task.
func (m *Model) CancelTask(id task.ID) bool {
	return m.tasks.Cancel(id)
}

// Registry exposes the data source, hash set and tag name registry.
func (m *Model) Registry() *registry.Registry {
	return m.reg
}

// zoomChangedLocked requires m.mu.
func (m *Model) zoomChangedLocked() ZoomChanged {
	metrics.HistoryDepth.Set(float64(m.history.Len()))
	return ZoomChanged{
		State:      m.history.Current(),
		CanAdvance: m.history.CanAdvance(),
		CanRetreat: m.history.CanRetreat(),
	}
}
