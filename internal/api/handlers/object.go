package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yaroslav/stackform/internal/service"
	"github.com/yaroslav/stackform/models"
)

// ObjectHandler handles kind-generic object endpoints: lookup, configuration,
// state, affected sets and concerns.
type ObjectHandler struct {
	objects *service.ObjectService
}

// NewObjectHandler creates a new object handler.
func NewObjectHandler(objects *service.ObjectService) *ObjectHandler {
	return &ObjectHandler{objects: objects}
}

// UpdateConfigRequest is the body of POST /api/v1/objects/:kind/:id/config.
type UpdateConfigRequest struct {
	Config map[string]any `json:"config" binding:"required"`
	Attr   map[string]any `json:"attr"`
}

// SetStateRequest is the body of PUT /api/v1/objects/:kind/:id/state.
type SetStateRequest struct {
	State string `json:"state" binding:"required,max=64"`
}

// ConcernsResponse lists the concerns attached to an object.
type ConcernsResponse struct {
	Locked   bool              `json:"locked"`
	Concerns []*models.Concern `json:"concerns"`
}

// List handles GET /api/v1/objects/:kind
func (h *ObjectHandler) List(c *gin.Context) {
	kind := models.Kind(c.Param("kind"))
	if !kind.Valid() {
		respondError(c, http.StatusBadRequest, "invalid_request", "unknown object kind "+string(kind))
		return
	}
	entities, err := h.objects.List(c.Request.Context(), kind)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, entities)
}

// Get handles GET /api/v1/objects/:kind/:id
func (h *ObjectHandler) Get(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	entity, err := h.objects.Get(c.Request.Context(), ref)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, entity)
}

// Config handles GET /api/v1/objects/:kind/:id/config
//
// Returns 404 when the object has no configuration.
func (h *ObjectHandler) Config(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	cl, err := h.objects.Config(c.Request.Context(), ref)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, cl)
}

// UpdateConfig handles POST /api/v1/objects/:kind/:id/config
//
// The given keys are merged over the current values and saved as a new
// configuration.
//
// Returns:
//   - 201 with the new configuration
//   - 400 for keys the prototype does not declare
//   - 409 if the object is locked
func (h *ObjectHandler) UpdateConfig(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	var req UpdateConfigRequest
	if !bindJSON(c, &req) {
		return
	}
	cl, err := h.objects.UpdateConfig(c.Request.Context(), ref, req.Config, req.Attr)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, cl)
}

// SetState handles PUT /api/v1/objects/:kind/:id/state
func (h *ObjectHandler) SetState(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	var req SetStateRequest
	if !bindJSON(c, &req) {
		return
	}
	entity, err := h.objects.SetState(c.Request.Context(), ref, req.State)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, entity)
}

// Affected handles GET /api/v1/objects/:kind/:id/affected
//
// Query Parameters:
//   - all: "true" for the full affected set, otherwise the directly affected set
func (h *ObjectHandler) Affected(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	all, err := strconv.ParseBool(c.DefaultQuery("all", "false"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "all must be a boolean")
		return
	}
	refs, err := h.objects.Affected(c.Request.Context(), ref, all)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, refs)
}

// Concerns handles GET /api/v1/objects/:kind/:id/concerns
func (h *ObjectHandler) Concerns(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	concerns, err := h.objects.Concerns(ctx, ref)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	locked, err := h.objects.Locked(ctx, ref)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	if concerns == nil {
		concerns = []*models.Concern{}
	}
	respondSuccess(c, http.StatusOK, ConcernsResponse{Locked: locked, Concerns: concerns})
}
