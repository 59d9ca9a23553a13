package filter

import (
	"slices"
	"strconv"

	"github.com/tinytelemetry/tideline/internal/model"
)

// Authority lists the case items the registry-backed categories must reflect.
type Authority interface {
	DataSources() map[int64]string
	HashSetNames() []string
	TagNames() []string
}

// DefaultFileTypes are the MIME prefixes offered by the file type category.
var DefaultFileTypes = []struct{ Prefix, Label string }{
	{"image/", "Images"},
	{"video/", "Videos"},
	{"audio/", "Audio"},
	{"text/", "Documents"},
	{"application/", "Applications"},
}

// Default builds the initial tree for a case: every data source, hash set
// and tag name is present and enabled, event types are restricted to the
// category level of the hierarchy, and only the type and data source
// categories constrain results.
func Default(types []model.EventType, a Authority) Tree {
	known := Category{Kind: model.FilterKnownStatus, Leaves: []Leaf{
		{Kind: model.FilterKnownStatus, Key: HideKnownKey, Label: "Hide known files", Enabled: true},
	}}

	typeCat := Category{Kind: model.FilterEventType, Enabled: true}
	for _, et := range types {
		if et.Level != model.LevelCategory {
			continue
		}
		typeCat.Leaves = append(typeCat.Leaves, Leaf{
			Kind:    model.FilterEventType,
			Key:     strconv.FormatInt(int64(et.ID), 10),
			Label:   et.Name,
			Enabled: true,
		})
	}

	fileTypes := Category{Kind: model.FilterFileType}
	for _, ft := range DefaultFileTypes {
		fileTypes.Leaves = append(fileTypes.Leaves, Leaf{Kind: model.FilterFileType, Key: ft.Prefix, Label: ft.Label, Enabled: true})
	}

	t := New(
		known,
		Category{Kind: model.FilterTag},
		Category{Kind: model.FilterHashSet},
		Category{Kind: model.FilterText},
		typeCat,
		Category{Kind: model.FilterDataSource, Enabled: true},
		fileTypes,
	)
	synced, _ := t.Sync(a)
	return synced
}

// Sync brings the data source, hash set and tag categories in line with a.
// Items missing from the tree are added as enabled leaves; leaves whose item
// is no longer authoritative are disabled and marked stale, never removed. A
// stale leaf is enabled again once its item is back, while a leaf the user
// disabled stays disabled. The second result
// reports whether anything changed. Sync is idempotent.
func (t Tree) Sync(a Authority) (Tree, bool) {
	if a == nil {
		return t, false
	}

	sources := a.DataSources()
	ids := make([]int64, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	dsItems := make([]Leaf, 0, len(ids))
	for _, id := range ids {
		dsItems = append(dsItems, Leaf{Kind: model.FilterDataSource, Key: strconv.FormatInt(id, 10), Label: sources[id], Enabled: true})
	}

	out := t
	changed := false
	for _, step := range []struct {
		kind  model.FilterKind
		items []Leaf
	}{
		{model.FilterDataSource, dsItems},
		{model.FilterHashSet, nameLeaves(model.FilterHashSet, a.HashSetNames())},
		{model.FilterTag, nameLeaves(model.FilterTag, a.TagNames())},
	} {
		var c bool
		out, c = out.syncCategory(step.kind, step.items)
		changed = changed || c
	}
	return out, changed
}

func nameLeaves(kind model.FilterKind, names []string) []Leaf {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	out := make([]Leaf, 0, len(sorted))
	for _, n := range sorted {
		out = append(out, Leaf{Kind: kind, Key: n, Label: n, Enabled: true})
	}
	return out
}

func (t Tree) syncCategory(kind model.FilterKind, items []Leaf) (Tree, bool) {
	c, ok := t.Category(kind)
	if !ok {
		c = Category{Kind: kind, Enabled: kind == model.FilterDataSource}
	}
	changed := !ok

	authoritative := make(map[string]bool, len(items))
	for _, item := range items {
		authoritative[item.Key] = true
		if c.leafIndex(item.Key) < 0 {
			c.Leaves = append(c.Leaves, item)
			changed = true
		}
	}
	for i := range c.Leaves {
		l := &c.Leaves[i]
		switch {
		case l.Enabled && !authoritative[l.Key]:
			l.Enabled, l.Stale = false, true
			changed = true
		case l.Stale && authoritative[l.Key]:
			l.Enabled, l.Stale = true, false
			changed = true
		}
	}

	if !changed {
		return t, false
	}
	return t.WithCategory(c), true
}
