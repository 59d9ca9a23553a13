package duckdb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tinytelemetry/tideline/internal/filter"
	"github.com/tinytelemetry/tideline/internal/model"
)

// whereClause translates p into a SQL condition over the events table
// aliased as e. Clauses are ANDed, the values of one clause ORed. An empty
// predicate yields "TRUE".
func whereClause(p model.Predicate) (string, []any, error) {
	var parts []string
	var args []any
	for _, c := range p.Clauses {
		if len(c.Values) == 0 {
			continue
		}
		sql, cargs, err := clauseSQL(c)
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, "("+sql+")")
		args = append(args, cargs...)
	}
	if len(parts) == 0 {
		return "TRUE", nil, nil
	}
	return strings.Join(parts, " AND "), args, nil
}

func clauseSQL(c model.Clause) (string, []any, error) {
	switch c.Kind {
	case model.FilterKnownStatus:
		for _, v := range c.Values {
			if v == filter.HideKnownKey {
				return "NOT e.known", nil, nil
			}
		}
		return "", nil, nil

	case model.FilterTag:
		in, args := inList(c.Values)
		return "e.tagged AND (" +
			"EXISTS (SELECT 1 FROM content_tags ct WHERE ct.content_id = e.content_id AND e.artifact_id IS NULL AND ct.tag_name IN (" + in + "))" +
			" OR EXISTS (SELECT 1 FROM artifact_tags art WHERE art.artifact_id = e.artifact_id AND art.tag_name IN (" + in + ")))",
			append(args, args...), nil

	case model.FilterHashSet:
		in, args := inList(c.Values)
		return "e.hash_hit AND EXISTS (SELECT 1 FROM hash_set_hits h WHERE h.content_id = e.content_id AND h.set_name IN (" + in + "))", args, nil

	case model.FilterText:
		var ors []string
		var args []any
		for _, v := range c.Values {
			pattern := "%" + escapeLike(v) + "%"
			ors = append(ors, `e.full_description ILIKE ? ESCAPE '\' OR e.med_description ILIKE ? ESCAPE '\' OR e.short_description ILIKE ? ESCAPE '\'`)
			args = append(args, pattern, pattern, pattern)
		}
		return strings.Join(ors, " OR "), args, nil

	case model.FilterEventType:
		ids, err := int64Values(c)
		if err != nil {
			return "", nil, err
		}
		for _, id := range ids {
			if id == int64(model.RootEventType) {
				return "", nil, nil
			}
		}
		in, args := inList(ids)
		return "e.base_type IN (" + in + ") OR e.sub_type IN (" + in + ")", append(args, args...), nil

	case model.FilterDataSource:
		ids, err := int64Values(c)
		if err != nil {
			return "", nil, err
		}
		in, args := inList(ids)
		return "e.data_source_id IN (" + in + ")", args, nil

	case model.FilterFileType:
		var ors []string
		var args []any
		for _, v := range c.Values {
			ors = append(ors, `e.mime_type LIKE ? ESCAPE '\'`)
			args = append(args, escapeLike(v)+"%")
		}
		return strings.Join(ors, " OR "), args, nil
	}
	return "", nil, fmt.Errorf("duckdb: unknown filter kind %q", c.Kind)
}

func int64Values(c model.Clause) ([]int64, error) {
	out := make([]int64, 0, len(c.Values))
	for _, v := range c.Values {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("duckdb: invalid %s value %q: %w", c.Kind, v, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// inList returns "?, ?, ?" and the matching arguments.
func inList[T any](values []T) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return strings.Join(marks, ", "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
