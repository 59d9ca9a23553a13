package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tinytelemetry/tideline/internal/model"
)

const eventColumns = `e.event_id, e.time, e.sub_type, e.base_type, e.data_source_id, e.content_id,
	e.artifact_id, e.full_description, e.med_description, e.short_description, e.mime_type,
	e.known, e.tagged, e.hash_hit`

func scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var ev model.Event
	var artifact sql.NullInt64
	var sub, base int64
	err := row.Scan(&ev.ID, &ev.Time, &sub, &base, &ev.DataSourceID, &ev.ContentID,
		&artifact, &ev.FullDescription, &ev.MedDescription, &ev.ShortDescription, &ev.MIMEType,
		&ev.Known, &ev.Tagged, &ev.HashHit)
	ev.Type = model.EventTypeID(sub)
	ev.BaseType = model.EventTypeID(base)
	ev.ArtifactID = artifact.Int64
	return ev, err
}

// EventByID returns one event. A missing id yields a StoreError wrapping
// model.ErrNotFound.
func (s *Store) EventByID(ctx context.Context, id int64) (model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	ev, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.event_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, model.WrapStoreError("event by id", fmt.Errorf("event %d: %w", id, model.ErrNotFound))
	}
	if err != nil {
		return model.Event{}, model.WrapStoreError("event by id", err)
	}
	return ev, nil
}

// MinEventTime returns the earliest event time, or 0 for an empty case.
func (s *Store) MinEventTime(ctx context.Context) (int64, error) {
	return s.scalarTime(ctx, "min event time", `SELECT COALESCE(MIN(time), 0) FROM events`)
}

// MaxEventTime returns the latest event time, or 0 for an empty case.
func (s *Store) MaxEventTime(ctx context.Context) (int64, error) {
	return s.scalarTime(ctx, "max event time", `SELECT COALESCE(MAX(time), 0) FROM events`)
}

func (s *Store) scalarTime(ctx context.Context, op, query string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var t int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&t); err != nil {
		return 0, model.WrapStoreError(op, err)
	}
	return t, nil
}

// CountEventsByType counts events in [start, end) that match p, grouped by
// the type id at level.
func (s *Store) CountEventsByType(ctx context.Context, start, end int64, p model.Predicate, level model.HierarchyLevel) (map[model.EventTypeID]int64, error) {
	var group string
	switch level {
	case model.LevelRoot:
		group = "0"
	case model.LevelCategory:
		group = "e.base_type"
	default:
		group = "e.sub_type"
	}
	where, args, err := whereClause(p)
	if err != nil {
		return nil, model.WrapStoreError("count events", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	query := `SELECT ` + group + ` AS type_id, COUNT(*) FROM events e
		WHERE e.time >= ? AND e.time < ? AND ` + where + `
		GROUP BY type_id`
	rows, err := s.db.QueryContext(ctx, query, append([]any{start, end}, args...)...)
	if err != nil {
		return nil, model.WrapStoreError("count events", err)
	}
	defer rows.Close()

	counts := make(map[model.EventTypeID]int64)
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			log.Printf("duckdb scan error (CountEventsByType): %v", err)
			continue
		}
		counts[model.EventTypeID(id)] = n
	}
	return counts, model.WrapStoreError("count events", rows.Err())
}

// SpanningIntervalForIDs returns [min, max+1) over the given events, or the
// zero interval when none of them exist.
func (s *Store) SpanningIntervalForIDs(ctx context.Context, ids []int64) (model.Interval, error) {
	if len(ids) == 0 {
		return model.Interval{}, nil
	}
	in, args := inList(ids)
	r, err := s.span(ctx, `SELECT MIN(e.time), MAX(e.time) FROM events e WHERE e.event_id IN (`+in+`)`, args)
	return r, model.WrapStoreError("spanning interval for ids", err)
}

// SpanningInterval returns the interval covering the events in r that match
// p, widened to whole days in loc.
func (s *Store) SpanningInterval(ctx context.Context, r model.Interval, p model.Predicate, loc *time.Location) (model.Interval, error) {
	where, args, err := whereClause(p)
	if err != nil {
		return model.Interval{}, model.WrapStoreError("spanning interval", err)
	}
	span, err := s.span(ctx, `SELECT MIN(e.time), MAX(e.time) FROM events e WHERE e.time >= ? AND e.time < ? AND `+where,
		append([]any{r.Start, r.End}, args...))
	if err != nil {
		return model.Interval{}, model.WrapStoreError("spanning interval", err)
	}
	if span.IsZero() {
		return span, nil
	}
	return alignToDays(span, loc), nil
}

func (s *Store) span(ctx context.Context, query string, args []any) (model.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var lo, hi sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&lo, &hi); err != nil {
		return model.Interval{}, err
	}
	if !lo.Valid || !hi.Valid {
		return model.Interval{}, nil
	}
	return model.Interval{Start: lo.Int64, End: hi.Int64 + 1}, nil
}

// alignToDays widens r to start at midnight of its first day and end at
// midnight after its last instant, in loc.
func alignToDays(r model.Interval, loc *time.Location) model.Interval {
	if loc == nil {
		loc = time.UTC
	}
	first := time.Unix(r.Start, 0).In(loc)
	last := time.Unix(r.End-1, 0).In(loc)
	start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	end := time.Date(last.Year(), last.Month(), last.Day()+1, 0, 0, 0, 0, loc)
	return model.Interval{Start: start.Unix(), End: end.Unix()}
}

// EventIDs returns the ids of events in r matching p, ordered by time.
func (s *Store) EventIDs(ctx context.Context, r model.Interval, p model.Predicate) ([]int64, error) {
	where, args, err := whereClause(p)
	if err != nil {
		return nil, model.WrapStoreError("event ids", err)
	}
	ids, err := s.ids(ctx, "EventIDs", `SELECT e.event_id FROM events e
		WHERE e.time >= ? AND e.time < ? AND `+where+`
		ORDER BY e.time, e.event_id`, append([]any{r.Start, r.End}, args...))
	return ids, model.WrapStoreError("event ids", err)
}

// EventIDsForContent returns the events of a file. Events derived from
// artifacts of the file are included when includeDerived is set.
func (s *Store) EventIDsForContent(ctx context.Context, contentID int64, includeDerived bool) ([]int64, error) {
	ids, err := s.ids(ctx, "EventIDsForContent", `SELECT e.event_id FROM events e
		WHERE e.content_id = ? AND (e.artifact_id IS NULL OR ?)
		ORDER BY e.event_id`, []any{contentID, includeDerived})
	return ids, model.WrapStoreError("event ids for content", err)
}

// EventIDsForArtifact returns the events of one artifact.
func (s *Store) EventIDsForArtifact(ctx context.Context, artifactID int64) ([]int64, error) {
	ids, err := s.ids(ctx, "EventIDsForArtifact", `SELECT e.event_id FROM events e
		WHERE e.artifact_id = ? ORDER BY e.event_id`, []any{artifactID})
	return ids, model.WrapStoreError("event ids for artifact", err)
}

func (s *Store) ids(ctx context.Context, name, query string, args []any) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows, name)
}

func scanIDs(rows *sql.Rows, name string) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			log.Printf("duckdb scan error (%s): %v", name, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EventTypes returns the event type hierarchy, parents before children.
func (s *Store) EventTypes(ctx context.Context) ([]model.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, parent_id, level FROM event_types ORDER BY level, id`)
	if err != nil {
		return nil, model.WrapStoreError("event types", err)
	}
	defer rows.Close()

	var types []model.EventType
	for rows.Next() {
		var et model.EventType
		var id, parent int64
		var level int
		if err := rows.Scan(&id, &et.Name, &parent, &level); err != nil {
			log.Printf("duckdb scan error (EventTypes): %v", err)
			continue
		}
		et.ID = model.EventTypeID(id)
		et.ParentID = model.EventTypeID(parent)
		et.Level = model.HierarchyLevel(level)
		types = append(types, et)
	}
	return types, model.WrapStoreError("event types", rows.Err())
}

// DataSources returns every data source of the case.
func (s *Store) DataSources(ctx context.Context) ([]model.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM data_sources ORDER BY id`)
	if err != nil {
		return nil, model.WrapStoreError("data sources", err)
	}
	defer rows.Close()

	var out []model.DataSource
	for rows.Next() {
		var ds model.DataSource
		if err := rows.Scan(&ds.ID, &ds.Name); err != nil {
			log.Printf("duckdb scan error (DataSources): %v", err)
			continue
		}
		out = append(out, ds)
	}
	return out, model.WrapStoreError("data sources", rows.Err())
}

// HashSetNames returns the names of hash sets with at least one hit.
func (s *Store) HashSetNames(ctx context.Context) ([]string, error) {
	names, err := s.names(ctx, "HashSetNames", `SELECT DISTINCT set_name FROM hash_set_hits ORDER BY set_name`)
	return names, model.WrapStoreError("hash set names", err)
}

// TagNamesInUse returns the tag names applied to at least one file or artifact.
func (s *Store) TagNamesInUse(ctx context.Context) ([]string, error) {
	names, err := s.names(ctx, "TagNamesInUse", `SELECT tag_name FROM content_tags
		UNION SELECT tag_name FROM artifact_tags
		ORDER BY tag_name`)
	return names, model.WrapStoreError("tag names", err)
}

func (s *Store) names(ctx context.Context, name, query string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			log.Printf("duckdb scan error (%s): %v", name, err)
			continue
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
