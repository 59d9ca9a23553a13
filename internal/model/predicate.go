package model

import (
	"strings"
)

// FilterKind names the kind of a filter leaf and of the clause it projects to.
type FilterKind string

const (
	FilterKnownStatus FilterKind = "known"
	FilterTag         FilterKind = "tag"
	FilterHashSet     FilterKind = "hashset"
	FilterText        FilterKind = "text"
	FilterEventType   FilterKind = "type"
	FilterDataSource  FilterKind = "datasource"
	FilterFileType    FilterKind = "filetype"
)

// Clause is a union over values of one filter kind.
type Clause struct {
	Kind   FilterKind
	Values []string
}

// Predicate is the active projection of a filter tree: the intersection of
// its clauses. An empty predicate matches every event.
type Predicate struct {
	Clauses []Clause
}

// IsEmpty reports whether the predicate has no clauses.
func (p Predicate) IsEmpty() bool {
	return len(p.Clauses) == 0
}

func (p Predicate) String() string {
	if p.IsEmpty() {
		return "*"
	}
	parts := make([]string, 0, len(p.Clauses))
	for _, c := range p.Clauses {
		parts = append(parts, string(c.Kind)+"("+strings.Join(c.Values, "|")+")")
	}
	return strings.Join(parts, " & ")
}
