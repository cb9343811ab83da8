package handlers

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"customstream/internal/catalog"
	"customstream/internal/models"
	"customstream/internal/publisher"
	"customstream/internal/storageio"
	"customstream/internal/utils"
)

// UploadHandler lets an operator register a custom image by uploading its
// artifact files directly, bypassing the mirror engine. The publisher
// treats custom Images identically to mirrored ones.
type UploadHandler struct {
	store       *catalog.Store
	publisher   *publisher.Publisher
	storageRoot string
}

// NewUploadHandler builds an UploadHandler.
func NewUploadHandler(store *catalog.Store, pub *publisher.Publisher, storageRoot string) *UploadHandler {
	return &UploadHandler{store: store, publisher: pub, storageRoot: storageRoot}
}

// Upload handles POST /api/v1/images/custom (multipart form): stream_id,
// product_id, name, os, release, arch and one or more "files" parts. Each
// file is saved under custom/<product_id>/<filename> and recorded as an
// Artifact, and the Image is created directly in status=ready since a
// custom image has no mirroring phase.
func (h *UploadHandler) Upload(c *gin.Context) {
	streamID := c.PostForm("stream_id")
	productID := c.PostForm("product_id")
	if streamID == "" || productID == "" {
		utils.SendError(c, http.StatusBadRequest, "stream_id and product_id are required", nil)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		utils.SendValidationError(c, err)
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		utils.SendError(c, http.StatusBadRequest, "at least one file is required", nil)
		return
	}

	ctx := c.Request.Context()
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	defer tx.Rollback()

	stream, err := h.store.Streams.Upsert(ctx, tx, &models.Stream{
		StreamID: streamID,
		Path:     fmt.Sprintf("streams/v1/%s.json", streamID),
		Datatype: c.DefaultPostForm("datatype", "image-downloads"),
		Format:   c.DefaultPostForm("format", "products:1.0"),
	})
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}

	image := &models.Image{
		StreamID:        stream.ID,
		ProductID:       productID,
		Name:            c.DefaultPostForm("name", productID),
		ImageType:       models.ImageTypeCustom,
		Status:          models.ImageStatusReady,
		OS:              c.PostForm("os"),
		Release:         c.PostForm("release"),
		ReleaseCodename: c.PostForm("release_codename"),
		Version:         c.PostForm("version"),
		Arch:            c.PostForm("arch"),
		Subarch:         c.PostForm("subarch"),
		Label:           c.PostForm("label"),
		Meta:            models.Meta{},
	}
	image, err = h.store.Images.Create(ctx, tx, image)
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}

	if err := h.saveUploadedArtifacts(ctx, tx, productID, image.ID, files); err != nil {
		utils.SendInternalError(c, err)
		return
	}

	if err := tx.Commit(); err != nil {
		utils.SendInternalError(c, err)
		return
	}

	if err := h.publisher.Rebuild(ctx); err != nil {
		utils.SendInternalError(c, err)
		return
	}

	utils.SendCreated(c, "custom image registered", image)
}

// saveUploadedArtifacts writes each uploaded file under
// custom/<product_id>/<filename> and inserts its Artifact row, the upload
// equivalent of the mirror engine's per-item download step.
func (h *UploadHandler) saveUploadedArtifacts(ctx context.Context, tx *sqlx.Tx, productID string, imageID int, files []*multipart.FileHeader) error {
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			return fmt.Errorf("open uploaded file %s: %w", fh.Filename, err)
		}

		relativePath := filepath.ToSlash(filepath.Join("custom", productID, fh.Filename))
		destination := filepath.Join(h.storageRoot, filepath.FromSlash(relativePath))

		size, sha256Hex, err := storageio.SaveUpload(src, destination)
		src.Close()
		if err != nil {
			return fmt.Errorf("save uploaded file %s: %w", fh.Filename, err)
		}

		if err := h.store.Artifacts.Create(ctx, tx, &models.Artifact{
			ImageID:      imageID,
			Name:         fh.Filename,
			Ftype:        fh.Filename,
			RelativePath: relativePath,
			Size:         size,
			SHA256:       sha256Hex,
		}); err != nil {
			return fmt.Errorf("record artifact %s: %w", fh.Filename, err)
		}
	}
	return nil
}
