package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yaroslav/stackform/internal/service"
	"github.com/yaroslav/stackform/models"
)

// ProviderHandler handles provider and host endpoints, including cluster
// membership and maintenance mode of hosts.
type ProviderHandler struct {
	providers *service.ProviderService
	objects   *service.ObjectService
}

// NewProviderHandler creates a new provider handler.
func NewProviderHandler(providers *service.ProviderService, objects *service.ObjectService) *ProviderHandler {
	return &ProviderHandler{
		providers: providers,
		objects:   objects,
	}
}

// CreateProviderRequest is the body of POST /api/v1/providers.
type CreateProviderRequest struct {
	BundleID string `json:"bundle_id" binding:"required"`
	Name     string `json:"name" binding:"required,max=255"`
}

// CreateHostRequest is the body of POST /api/v1/providers/:id/hosts.
type CreateHostRequest struct {
	PrototypeID string `json:"prototype_id" binding:"required"`
	Name        string `json:"name" binding:"required,max=253"`
}

// AddHostRequest is the body of POST /api/v1/clusters/:id/hosts.
type AddHostRequest struct {
	HostID string `json:"host_id" binding:"required"`
}

// MaintenanceModeRequest is the body of PUT /api/v1/hosts/:id/maintenance-mode.
type MaintenanceModeRequest struct {
	MaintenanceMode models.MaintenanceMode `json:"maintenance_mode" binding:"required,oneof=on off"`
}

// Create handles POST /api/v1/providers
func (h *ProviderHandler) Create(c *gin.Context) {
	var req CreateProviderRequest
	if !bindJSON(c, &req) {
		return
	}
	provider, err := h.providers.CreateProvider(c.Request.Context(), req.BundleID, req.Name)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, provider)
}

// List handles GET /api/v1/providers
func (h *ProviderHandler) List(c *gin.Context) {
	providers, err := h.objects.List(c.Request.Context(), models.KindProvider)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, providers)
}

// Delete handles DELETE /api/v1/providers/:id
//
// Returns 409 while the provider still owns hosts.
func (h *ProviderHandler) Delete(c *gin.Context) {
	if err := h.providers.DeleteProvider(c.Request.Context(), c.Param("id")); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccessWithMessage(c, http.StatusOK, "Provider deleted")
}

// Hosts handles GET /api/v1/providers/:id/hosts
func (h *ProviderHandler) Hosts(c *gin.Context) {
	hosts, err := h.providers.Hosts(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, hosts)
}

// CreateHost handles POST /api/v1/providers/:id/hosts
func (h *ProviderHandler) CreateHost(c *gin.Context) {
	var req CreateHostRequest
	if !bindJSON(c, &req) {
		return
	}
	host, err := h.providers.CreateHost(c.Request.Context(), c.Param("id"), req.PrototypeID, req.Name)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, host)
}

// DeleteHost handles DELETE /api/v1/hosts/:id
//
// Returns 409 while the host is in a cluster.
func (h *ProviderHandler) DeleteHost(c *gin.Context) {
	if err := h.providers.DeleteHost(c.Request.Context(), c.Param("id")); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccessWithMessage(c, http.StatusOK, "Host deleted")
}

// AddToCluster handles POST /api/v1/clusters/:id/hosts
func (h *ProviderHandler) AddToCluster(c *gin.Context) {
	var req AddHostRequest
	if !bindJSON(c, &req) {
		return
	}
	host, err := h.providers.AddHostToCluster(c.Request.Context(), c.Param("id"), req.HostID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, host)
}

// RemoveFromCluster handles DELETE /api/v1/clusters/:id/hosts/:host_id
//
// Returns 404 when the host is not in the cluster named by the path.
func (h *ProviderHandler) RemoveFromCluster(c *gin.Context) {
	ctx := c.Request.Context()
	host, err := h.objects.Get(ctx, models.Ref{Kind: models.KindHost, ID: c.Param("host_id")})
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	if host.ClusterID != c.Param("id") {
		mapErrorToResponse(c, fmt.Errorf("%w: host %s is not in cluster %s", models.ErrEntityNotFound, host.ID, c.Param("id")))
		return
	}
	if err := h.providers.RemoveHostFromCluster(ctx, host.ID); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccessWithMessage(c, http.StatusOK, "Host removed from cluster")
}

// SetMaintenanceMode handles PUT /api/v1/hosts/:id/maintenance-mode
func (h *ProviderHandler) SetMaintenanceMode(c *gin.Context) {
	var req MaintenanceModeRequest
	if !bindJSON(c, &req) {
		return
	}
	host, err := h.providers.SetMaintenanceMode(c.Request.Context(), c.Param("id"), req.MaintenanceMode)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, host)
}
