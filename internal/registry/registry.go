// Package registry keeps the case-level names the filter tree is synced
// against: data sources, hash sets and tag names.
package registry

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/tinytelemetry/tideline/internal/model"
)

// Registry is append-only for the lifetime of a session. Data sources and
// hash sets are never forgotten; tag names drop out of the in-use set when
// no item carries them any more but stay known.
type Registry struct {
	mu          sync.RWMutex
	dataSources map[int64]string
	hashSets    map[string]struct{}
	knownTags   map[string]struct{}
	tagsInUse   map[string]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		dataSources: make(map[int64]string),
		hashSets:    make(map[string]struct{}),
		knownTags:   make(map[string]struct{}),
		tagsInUse:   make(map[string]struct{}),
	}
}

// Refresh re-reads all three lists from the catalog and reports whether
// anything changed. The registry is left untouched when any read fails.
func (r *Registry) Refresh(ctx context.Context, c model.CaseCatalog) (bool, error) {
	sources, err := c.DataSources(ctx)
	if err != nil {
		return false, model.WrapStoreError("data sources", err)
	}
	hashSets, err := c.HashSetNames(ctx)
	if err != nil {
		return false, model.WrapStoreError("hash set names", err)
	}
	tags, err := c.TagNamesInUse(ctx)
	if err != nil {
		return false, model.WrapStoreError("tag names", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, ds := range sources {
		if r.addDataSourceLocked(ds) {
			changed = true
		}
	}
	for _, name := range hashSets {
		if _, ok := r.hashSets[name]; !ok {
			r.hashSets[name] = struct{}{}
			changed = true
		}
	}

	inUse := make(map[string]struct{}, len(tags))
	for _, name := range tags {
		inUse[name] = struct{}{}
		r.knownTags[name] = struct{}{}
	}
	if !maps.Equal(inUse, r.tagsInUse) {
		r.tagsInUse = inUse
		changed = true
	}
	return changed, nil
}

// AddDataSource records one data source. It reports false when the id was
// already known with the same name.
func (r *Registry) AddDataSource(ds model.DataSource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addDataSourceLocked(ds)
}

func (r *Registry) addDataSourceLocked(ds model.DataSource) bool {
	if name, ok := r.dataSources[ds.ID]; ok && name == ds.Name {
		return false
	}
	r.dataSources[ds.ID] = ds.Name
	return true
}

// DataSources returns a copy of the id to name map.
func (r *Registry) DataSources() map[int64]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.dataSources)
}

// DataSourceName returns the display name of a data source.
func (r *Registry) DataSourceName(id int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.dataSources[id]
	return name, ok
}

// HashSetNames returns the sorted hash set names.
func (r *Registry) HashSetNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.hashSets)
}

// TagNames returns the sorted tag names currently in use.
func (r *Registry) TagNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.tagsInUse)
}

// KnownTagNames returns every tag name seen this session, in use or not.
func (r *Registry) KnownTagNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.knownTags)
}

func (r *Registry) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fmt.Sprintf("registry{sources=%d hashsets=%d tags=%d/%d}",
		len(r.dataSources), len(r.hashSets), len(r.tagsInUse), len(r.knownTags))
}

func sortedKeys(m map[string]struct{}) []string {
	return slices.Sorted(maps.Keys(m))
}
