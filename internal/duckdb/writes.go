package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/tinytelemetry/tideline/internal/model"
)

// InsertEvents appends events in a single transaction. Artifacts referenced
// by the events are recorded with the event's content id.
func (s *Store) InsertEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if err := s.insertEventsTx(ctx, events); err != nil {
		return model.WrapStoreError("insert events", err)
	}
	return nil
}

func (s *Store) insertEventsTx(ctx context.Context, events []model.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	eventStmt, err := tx.PrepareContext(ctx, `INSERT INTO events (event_id, time, sub_type, base_type, data_source_id, content_id, artifact_id,
		full_description, med_description, short_description, mime_type, known, tagged, hash_hit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer eventStmt.Close()

	artifactStmt, err := tx.PrepareContext(ctx, `INSERT INTO artifacts (id, content_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return err
	}
	defer artifactStmt.Close()

	for _, ev := range events {
		var artifact any
		if ev.ArtifactID != 0 {
			artifact = ev.ArtifactID
			if _, err := artifactStmt.ExecContext(ctx, ev.ArtifactID, ev.ContentID); err != nil {
				return fmt.Errorf("artifact %d: %w", ev.ArtifactID, err)
			}
		}
		_, err := eventStmt.ExecContext(ctx, ev.ID, ev.Time, int64(ev.Type), int64(ev.BaseType), ev.DataSourceID, ev.ContentID, artifact,
			ev.FullDescription, ev.MedDescription, ev.ShortDescription, ev.MIMEType, ev.Known, ev.Tagged, ev.HashHit)
		if err != nil {
			return fmt.Errorf("event %d: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// AddDataSource records a new data source and returns it with its id.
func (s *Store) AddDataSource(ctx context.Context, name string) (model.DataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	ds := model.DataSource{Name: name}
	err := s.db.QueryRowContext(ctx, `INSERT INTO data_sources (name) VALUES (?) RETURNING id`, name).Scan(&ds.ID)
	if err != nil {
		return model.DataSource{}, model.WrapStoreError("add data source", err)
	}
	log.Printf("duckdb: added data source %d (%s)", ds.ID, name)
	return ds, nil
}

// TagContent applies a tag to a file. Re-applying a tag is a no-op.
func (s *Store) TagContent(ctx context.Context, contentID int64, tagName string) error {
	return s.exec(ctx, "tag content", `INSERT INTO content_tags (content_id, tag_name) VALUES (?, ?) ON CONFLICT DO NOTHING`, contentID, tagName)
}

// UntagContent removes a tag from a file.
func (s *Store) UntagContent(ctx context.Context, contentID int64, tagName string) error {
	return s.exec(ctx, "untag content", `DELETE FROM content_tags WHERE content_id = ? AND tag_name = ?`, contentID, tagName)
}

// TagArtifact applies a tag to an artifact. Re-applying a tag is a no-op.
func (s *Store) TagArtifact(ctx context.Context, artifactID int64, tagName string) error {
	return s.exec(ctx, "tag artifact", `INSERT INTO artifact_tags (artifact_id, tag_name) VALUES (?, ?) ON CONFLICT DO NOTHING`, artifactID, tagName)
}

// UntagArtifact removes a tag from an artifact.
func (s *Store) UntagArtifact(ctx context.Context, artifactID int64, tagName string) error {
	return s.exec(ctx, "untag artifact", `DELETE FROM artifact_tags WHERE artifact_id = ? AND tag_name = ?`, artifactID, tagName)
}

// RecordHashSetHit records that a file matched a hash set.
func (s *Store) RecordHashSetHit(ctx context.Context, contentID int64, setName string) error {
	return s.exec(ctx, "record hash set hit", `INSERT INTO hash_set_hits (content_id, set_name) VALUES (?, ?) ON CONFLICT DO NOTHING`, contentID, setName)
}

// ArtifactByID resolves an artifact to the content it was derived from.
func (s *Store) ArtifactByID(ctx context.Context, artifactID int64) (model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	a := model.Artifact{ID: artifactID}
	err := s.db.QueryRowContext(ctx, `SELECT content_id FROM artifacts WHERE id = ?`, artifactID).Scan(&a.ContentID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Artifact{}, model.WrapStoreError("artifact by id", fmt.Errorf("artifact %d: %w", artifactID, model.ErrNotFound))
	}
	if err != nil {
		return model.Artifact{}, model.WrapStoreError("artifact by id", err)
	}
	return a, nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return model.WrapStoreError(op, err)
	}
	return nil
}
