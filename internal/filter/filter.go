// Package filter implements the composable event filter tree.
//
// A Tree is an ordered list of categories, one per filter kind. Leaves of a
// category are unioned, categories are intersected. Trees are values: every
// With* method returns a modified copy and never touches the receiver, so a
// Tree can be shared freely once built.
package filter

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/tinytelemetry/tideline/internal/model"
)

// HideKnownKey is the key of the single known-status leaf.
const HideKnownKey = "hide"

// Leaf is one selectable filter item.
//
// Stale marks a leaf that Sync disabled because its item left the case.
// Sync enables it again when the item returns; a leaf the user disabled is
// never stale.
type Leaf struct {
	Kind    model.FilterKind `json:"kind"`
	Key     string           `json:"key"`
	Label   string           `json:"label,omitempty"`
	Enabled bool             `json:"enabled"`
	Stale   bool             `json:"stale,omitempty"`
}

// Category groups the leaves of one kind.
type Category struct {
	Kind    model.FilterKind `json:"kind"`
	Enabled bool             `json:"enabled"`
	Leaves  []Leaf           `json:"leaves"`
}

func (c Category) clone() Category {
	c.Leaves = slices.Clone(c.Leaves)
	return c
}

func (c Category) leafIndex(key string) int {
	return slices.IndexFunc(c.Leaves, func(l Leaf) bool { return l.Key == key })
}

// Tree is an immutable filter tree.
type Tree struct {
	categories []Category
}

// New builds a tree from the given categories. The slices are copied.
func New(categories ...Category) Tree {
	t := Tree{categories: make([]Category, 0, len(categories))}
	for _, c := range categories {
		t.categories = append(t.categories, c.clone())
	}
	return t
}

// Categories returns a copy of the tree's categories.
func (t Tree) Categories() []Category {
	out := make([]Category, 0, len(t.categories))
	for _, c := range t.categories {
		out = append(out, c.clone())
	}
	return out
}

// Category returns a copy of the category of the given kind.
func (t Tree) Category(kind model.FilterKind) (Category, bool) {
	i := t.index(kind)
	if i < 0 {
		return Category{}, false
	}
	return t.categories[i].clone(), true
}

func (t Tree) index(kind model.FilterKind) int {
	return slices.IndexFunc(t.categories, func(c Category) bool { return c.Kind == kind })
}

// IsZero reports whether the tree has no categories.
func (t Tree) IsZero() bool {
	return len(t.categories) == 0
}

// WithCategory returns a copy with c replacing the category of the same kind,
// or appended when the tree has none.
func (t Tree) WithCategory(c Category) Tree {
	out := New(t.categories...)
	if i := out.index(c.Kind); i >= 0 {
		out.categories[i] = c.clone()
	} else {
		out.categories = append(out.categories, c.clone())
	}
	return out
}

// WithCategoryEnabled returns a copy with the category's enabled flag set.
func (t Tree) WithCategoryEnabled(kind model.FilterKind, enabled bool) Tree {
	c, ok := t.Category(kind)
	if !ok {
		c = Category{Kind: kind}
	}
	c.Enabled = enabled
	return t.WithCategory(c)
}

// WithLeafEnabled returns a copy with the leaf's enabled flag set and its
// stale mark cleared. Unknown leaves are left alone.
func (t Tree) WithLeafEnabled(kind model.FilterKind, key string, enabled bool) Tree {
	c, ok := t.Category(kind)
	if !ok {
		return t
	}
	i := c.leafIndex(key)
	if i < 0 {
		return t
	}
	c.Leaves[i].Enabled = enabled
	c.Leaves[i].Stale = false
	return t.WithCategory(c)
}

// WithText returns a copy whose text category matches descriptions containing
// text. An empty text disables the category.
func (t Tree) WithText(text string) Tree {
	text = strings.TrimSpace(text)
	c := Category{Kind: model.FilterText, Enabled: text != ""}
	if text != "" {
		c.Leaves = []Leaf{{Kind: model.FilterText, Key: text, Enabled: true}}
	}
	return t.WithCategory(c)
}

// WithOnly returns a copy where the category of kind is enabled and only the
// leaves with the given keys are enabled. Missing keys are added.
func (t Tree) WithOnly(kind model.FilterKind, keys ...string) Tree {
	c, ok := t.Category(kind)
	if !ok {
		c = Category{Kind: kind}
	}
	c.Enabled = true
	for i := range c.Leaves {
		c.Leaves[i].Enabled = slices.Contains(keys, c.Leaves[i].Key)
		c.Leaves[i].Stale = false
	}
	for _, k := range keys {
		if c.leafIndex(k) < 0 {
			c.Leaves = append(c.Leaves, Leaf{Kind: kind, Key: k, Enabled: true})
		}
	}
	return t.WithCategory(c)
}

// Intersect combines t with an ad-hoc filter. For categories present in both
// trees the enabled leaves of other are unioned into t's leaves; categories
// present on one side only pass through unchanged.
func (t Tree) Intersect(other Tree) Tree {
	out := New(t.categories...)
	for _, oc := range other.categories {
		i := out.index(oc.Kind)
		if i < 0 {
			out.categories = append(out.categories, oc.clone())
			continue
		}
		c := out.categories[i]
		c.Enabled = c.Enabled || oc.Enabled
		for _, l := range oc.Leaves {
			if !l.Enabled {
				continue
			}
			if j := c.leafIndex(l.Key); j >= 0 {
				c.Leaves[j].Enabled = true
			} else {
				c.Leaves = append(c.Leaves, l)
			}
		}
		out.categories[i] = c
	}
	return out
}

// ActiveFilter projects the tree onto its enabled nodes. Disabled categories
// and leaves stay in the tree but do not constrain the predicate.
func (t Tree) ActiveFilter() model.Predicate {
	var p model.Predicate
	for _, c := range t.categories {
		if !c.Enabled {
			continue
		}
		var values []string
		for _, l := range c.Leaves {
			if l.Enabled {
				values = append(values, l.Key)
			}
		}
		if len(values) == 0 {
			continue
		}
		p.Clauses = append(p.Clauses, model.Clause{Kind: c.Kind, Values: values})
	}
	return p
}

// Equal reports structural equality.
func (t Tree) Equal(o Tree) bool {
	return slices.EqualFunc(t.categories, o.categories, func(a, b Category) bool {
		return a.Kind == b.Kind && a.Enabled == b.Enabled && slices.Equal(a.Leaves, b.Leaves)
	})
}

// Key returns a canonical string form. Equal trees have equal keys.
func (t Tree) Key() string {
	var b strings.Builder
	for _, c := range t.categories {
		b.WriteString(string(c.Kind))
		if c.Enabled {
			b.WriteString("+")
		} else {
			b.WriteString("-")
		}
		b.WriteString("[")
		for i, l := range c.Leaves {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(escapeKey(l.Key))
			if l.Label != "" {
				b.WriteString("=" + escapeKey(l.Label))
			}
			if l.Enabled {
				b.WriteString("+")
			} else {
				b.WriteString("-")
			}
			if l.Stale {
				b.WriteString("!")
			}
		}
		b.WriteString("]")
	}
	return b.String()
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`, `[`, `\[`, `]`, `\]`, `=`, `\=`, `+`, `\+`, `-`, `\-`, `!`, `\!`)

func escapeKey(s string) string {
	return keyEscaper.Replace(s)
}

func (t Tree) String() string {
	return t.Key()
}

// MarshalJSON encodes the tree as its list of categories.
func (t Tree) MarshalJSON() ([]byte, error) {
	cats := t.categories
	if cats == nil {
		cats = []Category{}
	}
	return json.Marshal(cats)
}

// UnmarshalJSON decodes a list of categories.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var cats []Category
	if err := json.Unmarshal(data, &cats); err != nil {
		return err
	}
	for i := range cats {
		for j := range cats[i].Leaves {
			// Leaves always carry their category's kind.
			cats[i].Leaves[j].Kind = cats[i].Kind
		}
	}
	*t = New(cats...)
	return nil
}
