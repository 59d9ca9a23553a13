package duckdb

import (
	"context"
	"slices"

	"github.com/tinytelemetry/tideline/internal/model"
)

// updateReturning runs an UPDATE ... RETURNING event_id and returns the ids
// of the rows it changed, sorted.
func (s *Store) updateReturning(ctx context.Context, op, query string, args ...any) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.WrapStoreError(op, err)
	}
	defer rows.Close()

	ids, err := scanIDs(rows, op)
	if err != nil {
		return nil, model.WrapStoreError(op, err)
	}
	slices.Sort(ids)
	return ids, nil
}

// UpdateEventsForContentTagAdded marks the file's own events tagged.
func (s *Store) UpdateEventsForContentTagAdded(ctx context.Context, contentID int64) ([]int64, error) {
	return s.updateReturning(ctx, "content tag added", `UPDATE events SET tagged = TRUE
		WHERE content_id = ? AND artifact_id IS NULL AND NOT tagged
		AND EXISTS (SELECT 1 FROM content_tags WHERE content_id = ?)
		RETURNING event_id`, contentID, contentID)
}

// UpdateEventsForContentTagDeleted clears the tagged flag once the file
// carries no tag at all.
func (s *Store) UpdateEventsForContentTagDeleted(ctx context.Context, contentID int64) ([]int64, error) {
	return s.updateReturning(ctx, "content tag deleted", `UPDATE events SET tagged = FALSE
		WHERE content_id = ? AND artifact_id IS NULL AND tagged
		AND NOT EXISTS (SELECT 1 FROM content_tags WHERE content_id = ?)
		RETURNING event_id`, contentID, contentID)
}

// UpdateEventsForArtifactTagAdded marks the artifact's events tagged.
func (s *Store) UpdateEventsForArtifactTagAdded(ctx context.Context, artifactID int64) ([]int64, error) {
	return s.updateReturning(ctx, "artifact tag added", `UPDATE events SET tagged = TRUE
		WHERE artifact_id = ? AND NOT tagged
		AND EXISTS (SELECT 1 FROM artifact_tags WHERE artifact_id = ?)
		RETURNING event_id`, artifactID, artifactID)
}

// UpdateEventsForArtifactTagDeleted clears the tagged flag once the
// artifact carries no tag at all.
func (s *Store) UpdateEventsForArtifactTagDeleted(ctx context.Context, artifactID int64) ([]int64, error) {
	return s.updateReturning(ctx, "artifact tag deleted", `UPDATE events SET tagged = FALSE
		WHERE artifact_id = ? AND tagged
		AND NOT EXISTS (SELECT 1 FROM artifact_tags WHERE artifact_id = ?)
		RETURNING event_id`, artifactID, artifactID)
}

// UpdateEventsForHashSetHit marks every event of the file, derived ones
// included, as a hash set hit.
func (s *Store) UpdateEventsForHashSetHit(ctx context.Context, contentID int64) ([]int64, error) {
	return s.updateReturning(ctx, "hash set hit", `UPDATE events SET hash_hit = TRUE
		WHERE content_id = ? AND NOT hash_hit
		AND EXISTS (SELECT 1 FROM hash_set_hits WHERE content_id = ?)
		RETURNING event_id`, contentID, contentID)
}
