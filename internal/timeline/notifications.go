package timeline

import (
	"github.com/tinytelemetry/tideline/internal/model"
	"github.com/tinytelemetry/tideline/internal/task"
	"github.com/tinytelemetry/tideline/internal/zoom"
)

// Notification is anything published on the model's bus.
type Notification interface {
	Kind() string
}

// CacheInvalidated is published after every cache invalidation. EventIDs is
// nil when every cached event was dropped.
type CacheInvalidated struct {
	EventIDs []int64 `json:"eventIds"`
}

// TagsAdded is published once per tag-added lifecycle event that changed at
// least one event.
type TagsAdded struct {
	EventIDs []int64 `json:"eventIds"`
}

// TagsDeleted mirrors TagsAdded for removed tags.
type TagsDeleted struct {
	EventIDs []int64 `json:"eventIds"`
}

// RefreshRequested asks views to re-query.
type RefreshRequested struct{}

// ZoomChanged carries the new current zoom state.
type ZoomChanged struct {
	State      zoom.State `json:"state"`
	CanAdvance bool       `json:"canAdvance"`
	CanRetreat bool       `json:"canRetreat"`
}

// SelectionChanged carries the new selection.
type SelectionChanged struct {
	EventIDs  []int64        `json:"eventIds"`
	TimeRange model.Interval `json:"timeRange"`
}

// TaskProgress reports the head of the task queue. Active is false once the
// queue drained.
type TaskProgress struct {
	Task   task.Info `json:"task"`
	Active bool      `json:"active"`
}

// TaskFailed is published for every background task that ended in error.
type TaskFailed struct {
	Task task.Info `json:"task"`
}

// CountsLoaded is published when a background counts query stored its result.
type CountsLoaded struct {
	State zoom.State `json:"state"`
	Total int64      `json:"total"`
}

func (CacheInvalidated) Kind() string { return "cache-invalidated" }
func (TagsAdded) Kind() string        { return "tags-added" }
func (TagsDeleted) Kind() string      { return "tags-deleted" }
func (RefreshRequested) Kind() string { return "refresh-requested" }
func (ZoomChanged) Kind() string      { return "zoom-changed" }
func (SelectionChanged) Kind() string { return "selection-changed" }
func (TaskProgress) Kind() string     { return "task-progress" }
func (TaskFailed) Kind() string       { return "task-failed" }
func (CountsLoaded) Kind() string     { return "counts-loaded" }
