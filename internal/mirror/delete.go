package mirror

import (
	"context"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"customstream/internal/catalog"
	"customstream/internal/publisher"
	"customstream/internal/storageio"
)

// DeleteImage removes an Image, its Artifacts, and their on-disk files, then
// drops the owning Stream if it is now empty and republishes the tree. The
// same cascade serves predecessor eviction during a mirror run and the
// admin API's explicit image-delete endpoint: both need files removed
// before rows, and rows removed before republish.
func DeleteImage(ctx context.Context, store *catalog.Store, pub *publisher.Publisher, storageRoot string, imageID int) (bool, error) {
	var streamID int
	found := false

	err := withStoreTx(ctx, store, func(tx *sqlx.Tx) error {
		img, err := store.Images.GetByID(ctx, tx, imageID)
		if err != nil {
			return Invariantf(err, "look up image %d", imageID)
		}
		if img == nil {
			return nil
		}
		found = true
		streamID = img.StreamID

		artifacts, err := store.Artifacts.ListByImageID(ctx, tx, imageID)
		if err != nil {
			return Invariantf(err, "list artifacts for image %d", imageID)
		}
		for _, a := range artifacts {
			if err := storageio.SafeRemove(filepath.Join(storageRoot, filepath.FromSlash(a.RelativePath))); err != nil {
				return Storagef(err, "remove artifact file %s", a.RelativePath)
			}
		}

		if err := store.Artifacts.DeleteByImageID(ctx, tx, imageID); err != nil {
			return Invariantf(err, "delete artifacts for image %d", imageID)
		}
		if err := store.Images.Delete(ctx, tx, imageID); err != nil {
			return Invariantf(err, "delete image %d", imageID)
		}
		if err := store.Streams.DeleteIfEmpty(ctx, tx, streamID); err != nil {
			return Invariantf(err, "delete empty stream %d", streamID)
		}
		return nil
	})
	if err != nil || !found {
		return found, err
	}

	if err := pub.Rebuild(ctx); err != nil {
		return true, Storagef(err, "publish tree after deleting image %d", imageID)
	}
	return true, nil
}

func withStoreTx(ctx context.Context, store *catalog.Store, fn func(tx *sqlx.Tx) error) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return Invariantf(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return Invariantf(err, "commit transaction")
	}
	return nil
}
