package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"customstream/internal/catalog"
	"customstream/internal/mirror"
	"customstream/internal/publisher"
	"customstream/internal/utils"
)

// ImageHandler exposes catalog Images over HTTP: listing and the
// delete-and-republish flow.
type ImageHandler struct {
	store       *catalog.Store
	publisher   *publisher.Publisher
	storageRoot string
}

// NewImageHandler builds an ImageHandler.
func NewImageHandler(store *catalog.Store, pub *publisher.Publisher, storageRoot string) *ImageHandler {
	return &ImageHandler{store: store, publisher: pub, storageRoot: storageRoot}
}

// List handles GET /api/v1/images.
func (h *ImageHandler) List(c *gin.Context) {
	images, err := h.store.Images.List(c.Request.Context(), h.store.Queryer())
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	utils.SendSuccess(c, "images retrieved", images)
}

// Get handles GET /api/v1/images/:id.
func (h *ImageHandler) Get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		utils.SendValidationError(c, err)
		return
	}

	image, err := h.store.Images.GetByID(c.Request.Context(), h.store.Queryer(), id)
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	if image == nil {
		utils.SendError(c, http.StatusNotFound, "image not found", nil)
		return
	}

	artifacts, err := h.store.Artifacts.ListByImageID(c.Request.Context(), h.store.Queryer(), id)
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	image.Artifacts = artifacts

	utils.SendSuccess(c, "image retrieved", image)
}

// Delete handles DELETE /api/v1/images/:id: removes the Image, its
// Artifacts and their files, drops the owning Stream if now empty, and
// republishes the tree.
func (h *ImageHandler) Delete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		utils.SendValidationError(c, err)
		return
	}

	found, err := mirror.DeleteImage(c.Request.Context(), h.store, h.publisher, h.storageRoot, id)
	if err != nil {
		utils.SendError(c, statusForMirrorError(err), "failed to delete image", err)
		return
	}
	if !found {
		utils.SendError(c, http.StatusNotFound, "image not found", nil)
		return
	}

	utils.SendSuccess(c, "image deleted", nil)
}
