package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yaroslav/stackform/internal/service"
	"github.com/yaroslav/stackform/models"
	"github.com/yaroslav/stackform/pkg/bundle"
)

// BundleHandler handles bundle endpoints.
type BundleHandler struct {
	service *service.BundleService
}

// NewBundleHandler creates a new bundle handler.
//
// Parameters:
//   - service: Bundle service for business logic
//
// Returns:
//   - Configured BundleHandler
func NewBundleHandler(service *service.BundleService) *BundleHandler {
	return &BundleHandler{
		service: service,
	}
}

// Upload handles POST /api/v1/bundles
//
// Loads a bundle archive (tar.gz with a config.yaml definition).
//
// Request body: application/gzip
//
// Returns:
//   - 201 with the stored bundle
//   - 400 if the archive or definition is invalid
//   - 409 if the same name, version and edition is already loaded
//   - 413 if the archive exceeds 10 MiB
func (h *BundleHandler) Upload(c *gin.Context) {
	contentType := c.GetHeader("Content-Type")
	if contentType != "application/gzip" && contentType != "application/x-gzip" {
		respondError(c, http.StatusBadRequest, "invalid_content_type",
			"Content-Type must be application/gzip")
		return
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, bundle.MaxBundleSize+1))
	if err != nil {
		respondError(c, http.StatusBadRequest, "read_error", "Failed to read request body")
		return
	}
	if len(data) > bundle.MaxBundleSize {
		respondError(c, http.StatusRequestEntityTooLarge, "payload_too_large",
			"Bundle exceeds 10 MiB size limit")
		return
	}

	b, err := h.service.Load(c.Request.Context(), data)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, b)
}

// List handles GET /api/v1/bundles
//
// Query Parameters:
//   - name: Only bundles of this lineage (optional)
func (h *BundleHandler) List(c *gin.Context) {
	bundles, err := h.service.List(c.Request.Context(), c.Query("name"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, bundles)
}

// Get handles GET /api/v1/bundles/:id
func (h *BundleHandler) Get(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, b)
}

// Prototypes handles GET /api/v1/bundles/:id/prototypes
//
// Query Parameters:
//   - type: Only prototypes of this type (optional)
func (h *BundleHandler) Prototypes(c *gin.Context) {
	typ := models.PrototypeType(c.Query("type"))
	protos, err := h.service.Prototypes(c.Request.Context(), c.Param("id"), typ)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, protos)
}

// Upgrades handles GET /api/v1/bundles/:id/upgrades
//
// Lists every upgrade the bundle declares. Use the object upgrade listing to
// see which of them apply to a given cluster or provider.
func (h *BundleHandler) Upgrades(c *gin.Context) {
	upgrades, err := h.service.Upgrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, upgrades)
}

// Download handles GET /api/v1/bundles/:id/archive
//
// Returns the archive the bundle was loaded from.
func (h *BundleHandler) Download(c *gin.Context) {
	ctx := c.Request.Context()
	b, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	data, err := h.service.Archive(ctx, b.ID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s-%s.tar.gz\"", b.Name, b.Version))
	c.Header("X-Bundle-Version", b.Version)
	c.Data(http.StatusOK, "application/gzip", data)
}

// Delete handles DELETE /api/v1/bundles/:id
//
// Returns 409 while any entity still uses the bundle.
func (h *BundleHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccessWithMessage(c, http.StatusOK, "Bundle deleted")
}
