package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"customstream/internal/upstream"
	"customstream/internal/utils"
)

// UpstreamHandler exposes read-only upstream-browse helpers so an operator
// can discover product_ids before calling mirror intake.
type UpstreamHandler struct {
	client *upstream.Client
}

// NewUpstreamHandler builds an UpstreamHandler.
func NewUpstreamHandler(client *upstream.Client) *UpstreamHandler {
	return &UpstreamHandler{client: client}
}

// ListStreams handles GET /api/v1/upstream/streams?index_url=...
func (h *UpstreamHandler) ListStreams(c *gin.Context) {
	indexURL := c.Query("index_url")
	if indexURL == "" {
		utils.SendError(c, http.StatusBadRequest, "index_url is required", nil)
		return
	}

	streams, err := h.client.ListStreams(c.Request.Context(), indexURL)
	if err != nil {
		utils.SendError(c, http.StatusBadGateway, "failed to list upstream streams", err)
		return
	}
	utils.SendSuccess(c, "upstream streams retrieved", streams)
}

// ListProducts handles GET /api/v1/upstream/streams/:stream_id/products?index_url=...
func (h *UpstreamHandler) ListProducts(c *gin.Context) {
	indexURL := c.Query("index_url")
	if indexURL == "" {
		utils.SendError(c, http.StatusBadRequest, "index_url is required", nil)
		return
	}
	streamID := c.Param("stream_id")

	products, err := h.client.ListProducts(c.Request.Context(), indexURL, streamID)
	if err != nil {
		utils.SendError(c, http.StatusBadGateway, "failed to list upstream products", err)
		return
	}
	utils.SendSuccess(c, "upstream products retrieved", products)
}
