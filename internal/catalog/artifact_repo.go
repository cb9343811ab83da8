package catalog

import (
	"context"
	"fmt"

	"customstream/internal/database"
	"customstream/internal/models"
)

// ArtifactRepo persists Artifact rows.
type ArtifactRepo struct {
	db *database.DB
}

// ListByImageID returns every Artifact owned by an Image.
func (r *ArtifactRepo) ListByImageID(ctx context.Context, q Queryer, imageID int) ([]models.Artifact, error) {
	var artifacts []models.Artifact
	query := q.Rebind(`SELECT id, image_id, name, ftype, relative_path, size, sha256, source_url, created_at
		FROM artifacts WHERE image_id = $1 ORDER BY id ASC`)
	if err := q.SelectContext(ctx, &artifacts, query, imageID); err != nil {
		return nil, fmt.Errorf("list artifacts by image: %w", err)
	}
	return artifacts, nil
}

// Create inserts a new Artifact row, created after a successful
// download+verify.
func (r *ArtifactRepo) Create(ctx context.Context, q Queryer, a *models.Artifact) error {
	query := q.Rebind(`INSERT INTO artifacts (image_id, name, ftype, relative_path, size, sha256, source_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`)
	_, err := q.ExecContext(ctx, query, a.ImageID, a.Name, a.Ftype, a.RelativePath, a.Size, a.SHA256, a.SourceURL)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

// DeleteByImageID removes every Artifact owned by an Image. Callers must
// remove the on-disk files first, since this only clears the rows. The FK's
// ON DELETE CASCADE makes this redundant when the Image row is deleted in
// the same statement, but the predecessor-eviction and image-delete flows
// call it standalone before the
// Image delete so the artifact list used for file removal doesn't go stale.
func (r *ArtifactRepo) DeleteByImageID(ctx context.Context, q Queryer, imageID int) error {
	query := q.Rebind(`DELETE FROM artifacts WHERE image_id = $1`)
	if _, err := q.ExecContext(ctx, query, imageID); err != nil {
		return fmt.Errorf("delete artifacts by image: %w", err)
	}
	return nil
}
