package timeline

import (
	"context"
	"errors"
	"log"

	"github.com/tinytelemetry/tideline/internal/metrics"
	"github.com/tinytelemetry/tideline/internal/model"
)

// InvalidateCaches drops the min/max and counts caches, drops the given
// events from the event cache (all of them when ids is nil), re-syncs the
// registries and publishes CacheInvalidated. A registry refresh failure is
// returned, but the caches stay invalidated and the notification is still
// published. It is safe to call repeatedly.
func (m *Model) InvalidateCaches(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	m.caches.invalidate(ids)
	m.mu.Unlock()

	err := m.refreshRegistry(ctx)
	if err != nil {
		log.Printf("timeline: refresh registries: %v", err)
	}
	m.bus.Publish(CacheInvalidated{EventIDs: ids})
	return err
}

// refreshRegistry re-reads the registries and syncs the current filter.
func (m *Model) refreshRegistry(ctx context.Context) error {
	changed, err := m.reg.Refresh(ctx, m.store)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	m.mu.Lock()
	before := m.history.Current()
	after := m.syncCurrentLocked()
	n := m.zoomChangedLocked()
	m.mu.Unlock()

	if !after.Equal(before) {
		m.bus.Publish(n)
	}
	return nil
}

// HandleContentTagAdded updates the events of a newly tagged file and
// returns the ids whose tagged flag changed.
func (m *Model) HandleContentTagAdded(ctx context.Context, contentID int64) ([]int64, error) {
	ids, err := m.store.UpdateEventsForContentTagAdded(ctx, contentID)
	if err != nil {
		return nil, model.WrapStoreError("content tag added", err)
	}
	return ids, m.afterTagChange(ctx, "content-tag-added", ids, true)
}

// HandleContentTagDeleted updates the events of an untagged file.
func (m *Model) HandleContentTagDeleted(ctx context.Context, contentID int64) ([]int64, error) {
	ids, err := m.store.UpdateEventsForContentTagDeleted(ctx, contentID)
	if err != nil {
		return nil, model.WrapStoreError("content tag deleted", err)
	}
	return ids, m.afterTagChange(ctx, "content-tag-deleted", ids, false)
}

// HandleArtifactTagAdded updates the events of a newly tagged artifact.
func (m *Model) HandleArtifactTagAdded(ctx context.Context, artifactID int64) ([]int64, error) {
	ids, err := m.store.UpdateEventsForArtifactTagAdded(ctx, artifactID)
	if err != nil {
		return nil, model.WrapStoreError("artifact tag added", err)
	}
	return ids, m.afterTagChange(ctx, "artifact-tag-added", ids, true)
}

// HandleArtifactTagDeleted updates the events of an untagged artifact.
func (m *Model) HandleArtifactTagDeleted(ctx context.Context, artifactID int64) ([]int64, error) {
	ids, err := m.store.UpdateEventsForArtifactTagDeleted(ctx, artifactID)
	if err != nil {
		return nil, model.WrapStoreError("artifact tag deleted", err)
	}
	return ids, m.afterTagChange(ctx, "artifact-tag-deleted", ids, false)
}

// afterTagChange invalidates the affected events and publishes exactly one
// TagsAdded or TagsDeleted. Nothing happens when no event changed.
func (m *Model) afterTagChange(ctx context.Context, kind string, ids []int64, added bool) error {
	metrics.LifecycleEvents.WithLabelValues(kind).Inc()
	if len(ids) == 0 {
		return nil
	}
	err := m.InvalidateCaches(ctx, ids)
	if added {
		m.bus.Publish(TagsAdded{EventIDs: ids})
	} else {
		m.bus.Publish(TagsDeleted{EventIDs: ids})
	}
	return err
}

// HandleHashSetHits marks the events of each hit's source content and
// invalidates the union of the affected ids. The registries are re-read even
// when no event changed. Every hit is attempted; the returned error joins the
// failures.
func (m *Model) HandleHashSetHits(ctx context.Context, hits []model.Artifact) ([]int64, error) {
	metrics.LifecycleEvents.WithLabelValues("hash-set-hit").Inc()
	seen := make(map[int64]struct{})
	var ids []int64
	var errs []error
	for _, hit := range hits {
		updated, err := m.store.UpdateEventsForHashSetHit(ctx, hit.ContentID)
		if err != nil {
			errs = append(errs, model.WrapStoreError("hash set hit", err))
			continue
		}
		for _, id := range updated {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	if len(ids) > 0 {
		if err := m.InvalidateCaches(ctx, ids); err != nil {
			errs = append(errs, err)
		}
	} else if err := m.refreshRegistry(ctx); err != nil {
		// A hit may record a new hash set name without flipping any event.
		log.Printf("timeline: refresh registries: %v", err)
		errs = append(errs, err)
	}
	return ids, errors.Join(errs...)
}

// HandleDataSourceAdded re-reads the registries, syncs the current filter
// and invalidates every cache.
func (m *Model) HandleDataSourceAdded(ctx context.Context) error {
	metrics.LifecycleEvents.WithLabelValues("data-source-added").Inc()
	return m.InvalidateCaches(ctx, nil)
}
