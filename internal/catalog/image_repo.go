package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"customstream/internal/database"
	"customstream/internal/models"
)

// ImageRepo persists Image rows.
type ImageRepo struct {
	db *database.DB
}

const imageColumns = `id, stream_id, product_id, name, image_type, status, origin_product_url, origin_index_url,
	os, release, release_codename, version, arch, subarch, label, kflavor, krel, build_id, meta, created_at, updated_at`

// GetByStreamAndProduct looks up the single Image for a (stream_id,
// product_id) pair, which the unique constraint guarantees is at most one
// row.
func (r *ImageRepo) GetByStreamAndProduct(ctx context.Context, q Queryer, streamID int, productID string) (*models.Image, error) {
	var img models.Image
	query := q.Rebind(fmt.Sprintf(`SELECT %s FROM images WHERE stream_id = $1 AND product_id = $2`, imageColumns))
	err := q.GetContext(ctx, &img, query, streamID, productID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get image by stream/product: %w", err)
	}
	return &img, nil
}

// GetByID returns the Image with the given id, or nil if not found.
func (r *ImageRepo) GetByID(ctx context.Context, q Queryer, id int) (*models.Image, error) {
	var img models.Image
	query := q.Rebind(fmt.Sprintf(`SELECT %s FROM images WHERE id = $1`, imageColumns))
	err := q.GetContext(ctx, &img, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get image by id: %w", err)
	}
	return &img, nil
}

// ListByStreamID returns every Image belonging to a stream, ordered by
// product_id so published output is deterministic.
func (r *ImageRepo) ListByStreamID(ctx context.Context, q Queryer, streamID int) ([]models.Image, error) {
	var images []models.Image
	query := q.Rebind(fmt.Sprintf(`SELECT %s FROM images WHERE stream_id = $1 ORDER BY product_id ASC`, imageColumns))
	if err := q.SelectContext(ctx, &images, query, streamID); err != nil {
		return nil, fmt.Errorf("list images by stream: %w", err)
	}
	return images, nil
}

// List returns every Image, newest first, for the admin API's listing
// endpoint.
func (r *ImageRepo) List(ctx context.Context, q Queryer) ([]models.Image, error) {
	var images []models.Image
	query := q.Rebind(fmt.Sprintf(`SELECT %s FROM images ORDER BY created_at DESC`, imageColumns))
	if err := q.SelectContext(ctx, &images, query); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

// Create inserts a new Image row and returns it reloaded with its assigned
// id.
func (r *ImageRepo) Create(ctx context.Context, q Queryer, img *models.Image) (*models.Image, error) {
	query := q.Rebind(`INSERT INTO images (
		stream_id, product_id, name, image_type, status, origin_product_url, origin_index_url,
		os, release, release_codename, version, arch, subarch, label, kflavor, krel, build_id, meta,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now(), now())`)

	_, err := q.ExecContext(ctx, query,
		img.StreamID, img.ProductID, img.Name, img.ImageType, img.Status, img.OriginProductURL, img.OriginIndexURL,
		img.OS, img.Release, img.ReleaseCodename, img.Version, img.Arch, img.Subarch, img.Label, img.Kflavor, img.Krel, img.BuildID, img.Meta,
	)
	if err != nil {
		return nil, fmt.Errorf("create image: %w", err)
	}
	return r.GetByStreamAndProduct(ctx, q, img.StreamID, img.ProductID)
}

// UpdateStatusAndMeta transitions an Image's status and replaces its meta
// blob, the shape every mirror-engine step boundary (create/promote/fail)
// uses.
func (r *ImageRepo) UpdateStatusAndMeta(ctx context.Context, q Queryer, id int, status models.ImageStatus, meta models.Meta) error {
	query := q.Rebind(`UPDATE images SET status = $1, meta = $2, updated_at = now() WHERE id = $3`)
	if _, err := q.ExecContext(ctx, query, status, meta, id); err != nil {
		return fmt.Errorf("update image status: %w", err)
	}
	return nil
}

// Delete removes the Image row. Callers are responsible for removing its
// Artifacts' files first; the FK cascades the Artifact rows.
func (r *ImageRepo) Delete(ctx context.Context, q Queryer, id int) error {
	query := q.Rebind(`DELETE FROM images WHERE id = $1`)
	if _, err := q.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

// CountMirroring reports how many Images for product_id are currently in
// status mirroring, for the intake admission check.
func (r *ImageRepo) CountMirroring(ctx context.Context, q Queryer, productID string) (int, error) {
	var count int
	query := q.Rebind(`SELECT COUNT(*) FROM images WHERE product_id = $1 AND status = $2`)
	if err := q.GetContext(ctx, &count, query, productID, models.ImageStatusMirroring); err != nil {
		return 0, fmt.Errorf("count mirroring images: %w", err)
	}
	return count, nil
}
