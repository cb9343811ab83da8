package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"customstream/internal/catalog"
	"customstream/internal/mirror"
	"customstream/internal/utils"
)

// MirrorHandler exposes the request-intake contract and job visibility over
// HTTP: POST /mirror enqueues, GET /mirror/jobs lists, GET /mirror/jobs/:id
// inspects one job's progress.
type MirrorHandler struct {
	intake *mirror.Intake
	store  *catalog.Store
}

// NewMirrorHandler builds a MirrorHandler.
func NewMirrorHandler(intake *mirror.Intake, store *catalog.Store) *MirrorHandler {
	return &MirrorHandler{intake: intake, store: store}
}

type mirrorRequest struct {
	IndexURL   string   `json:"index_url" binding:"required"`
	ProductIDs []string `json:"product_ids" binding:"required"`
}

// Submit handles POST /api/v1/mirror.
func (h *MirrorHandler) Submit(c *gin.Context) {
	var req mirrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendValidationError(c, err)
		return
	}

	result, err := h.intake.Submit(c.Request.Context(), req.IndexURL, req.ProductIDs)
	if err != nil {
		utils.SendError(c, statusForMirrorError(err), "mirror request rejected", err)
		return
	}

	utils.SendCreated(c, "products admitted to the mirror queue", result)
}

// ListJobs handles GET /api/v1/mirror/jobs.
func (h *MirrorHandler) ListJobs(c *gin.Context) {
	jobs, err := h.store.Jobs.List(c.Request.Context(), h.store.Queryer())
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	utils.SendSuccess(c, "jobs retrieved", jobs)
}

// GetJob handles GET /api/v1/mirror/jobs/:id.
func (h *MirrorHandler) GetJob(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		utils.SendValidationError(c, err)
		return
	}

	job, err := h.store.Jobs.GetByID(c.Request.Context(), h.store.Queryer(), id)
	if err != nil {
		utils.SendInternalError(c, err)
		return
	}
	if job == nil {
		utils.SendError(c, http.StatusNotFound, "job not found", nil)
		return
	}
	utils.SendSuccess(c, "job retrieved", job)
}

// statusForMirrorError maps a tagged mirror.Error to an HTTP status,
// defaulting to 500 for anything else.
func statusForMirrorError(err error) int {
	var merr *mirror.Error
	if !errors.As(err, &merr) {
		return http.StatusInternalServerError
	}
	switch merr.Kind {
	case mirror.KindValidation:
		return http.StatusBadRequest
	case mirror.KindUpstream, mirror.KindDownload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
