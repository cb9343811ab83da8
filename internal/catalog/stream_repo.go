package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"customstream/internal/database"
	"customstream/internal/models"
)

// StreamRepo persists Stream rows.
type StreamRepo struct {
	db *database.DB
}

// GetByStreamID returns the Stream with the given upstream stream_id, or nil
// if none exists.
func (r *StreamRepo) GetByStreamID(ctx context.Context, q Queryer, streamID string) (*models.Stream, error) {
	var s models.Stream
	query := q.Rebind(`SELECT id, stream_id, path, datatype, format, source_index_url, created_at, updated_at
		FROM streams WHERE stream_id = $1`)

	err := q.GetContext(ctx, &s, query, streamID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stream by stream_id: %w", err)
	}
	return &s, nil
}

// Upsert inserts or updates the Stream matching stream_id with the entry's
// path/datatype/format/source_index_url.
func (r *StreamRepo) Upsert(ctx context.Context, q Queryer, s *models.Stream) (*models.Stream, error) {
	existing, err := r.GetByStreamID(ctx, q, s.StreamID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		query := q.Rebind(`INSERT INTO streams (stream_id, path, datatype, format, source_index_url, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())`)
		res, err := q.ExecContext(ctx, query, s.StreamID, s.Path, s.Datatype, s.Format, s.SourceIndexURL)
		if err != nil {
			return nil, fmt.Errorf("insert stream: %w", err)
		}
		id, err := res.LastInsertId()
		if err == nil && id > 0 {
			s.ID = int(id)
		}
		return r.GetByStreamID(ctx, q, s.StreamID)
	}

	query := q.Rebind(`UPDATE streams SET path = $1, datatype = $2, format = $3, source_index_url = $4, updated_at = now()
		WHERE id = $5`)
	if _, err := q.ExecContext(ctx, query, s.Path, s.Datatype, s.Format, s.SourceIndexURL, existing.ID); err != nil {
		return nil, fmt.Errorf("update stream: %w", err)
	}
	return r.GetByStreamID(ctx, q, s.StreamID)
}

// ListWithImagesAndArtifacts eager-loads every Stream together with its
// Images and each Image's Artifacts, giving the publisher one consistent
// snapshot to render a tree from.
func (r *StreamRepo) ListWithImagesAndArtifacts(ctx context.Context, q Queryer) ([]models.Stream, error) {
	var streams []models.Stream
	query := q.Rebind(`SELECT id, stream_id, path, datatype, format, source_index_url, created_at, updated_at
		FROM streams ORDER BY id ASC`)
	if err := q.SelectContext(ctx, &streams, query); err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}

	for i := range streams {
		images, err := (&ImageRepo{db: r.db}).ListByStreamID(ctx, q, streams[i].ID)
		if err != nil {
			return nil, err
		}
		for j := range images {
			artifacts, err := (&ArtifactRepo{db: r.db}).ListByImageID(ctx, q, images[j].ID)
			if err != nil {
				return nil, err
			}
			images[j].Artifacts = artifacts
		}
		streams[i].Images = images
	}

	return streams, nil
}

// DeleteIfEmpty removes the Stream row if it no longer owns any Image. A
// Stream exists only to group Images, so the last Image leaving takes it
// with it.
func (r *StreamRepo) DeleteIfEmpty(ctx context.Context, q Queryer, streamID int) error {
	var count int
	countQuery := q.Rebind(`SELECT COUNT(*) FROM images WHERE stream_id = $1`)
	if err := q.GetContext(ctx, &count, countQuery, streamID); err != nil {
		return fmt.Errorf("count images for stream: %w", err)
	}
	if count > 0 {
		return nil
	}
	delQuery := q.Rebind(`DELETE FROM streams WHERE id = $1`)
	if _, err := q.ExecContext(ctx, delQuery, streamID); err != nil {
		return fmt.Errorf("delete empty stream: %w", err)
	}
	return nil
}
