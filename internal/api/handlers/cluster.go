package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yaroslav/stackform/internal/service"
	"github.com/yaroslav/stackform/models"
)

// ClusterHandler handles cluster topology endpoints: clusters, services,
// components, the deployment map and import bindings.
type ClusterHandler struct {
	clusters *service.ClusterService
	objects  *service.ObjectService
}

// NewClusterHandler creates a new cluster handler.
func NewClusterHandler(clusters *service.ClusterService, objects *service.ObjectService) *ClusterHandler {
	return &ClusterHandler{
		clusters: clusters,
		objects:  objects,
	}
}

// CreateClusterRequest is the body of POST /api/v1/clusters.
type CreateClusterRequest struct {
	BundleID string `json:"bundle_id" binding:"required"`
	Name     string `json:"name" binding:"required,max=255"`
}

// AddChildRequest is the body of the service and component creation endpoints.
type AddChildRequest struct {
	PrototypeID string `json:"prototype_id" binding:"required"`
}

// HostComponentRow is one requested deployment map row.
type HostComponentRow struct {
	HostID      string `json:"host_id" binding:"required"`
	ServiceID   string `json:"service_id"`
	ComponentID string `json:"component_id" binding:"required"`
}

// HostComponentRequest is the body of PUT /api/v1/clusters/:id/hostcomponent.
type HostComponentRequest struct {
	HC []HostComponentRow `json:"hc" binding:"dive"`
}

func (r HostComponentRequest) rows() []models.HostComponent {
	out := make([]models.HostComponent, 0, len(r.HC))
	for _, row := range r.HC {
		out = append(out, models.HostComponent{
			HostID:      row.HostID,
			ServiceID:   row.ServiceID,
			ComponentID: row.ComponentID,
		})
	}
	return out
}

// BindRequest is the body of POST /api/v1/clusters/:id/binds.
// The importer is the cluster itself, or one of its services when ServiceID is set.
type BindRequest struct {
	ServiceID       string `json:"service_id"`
	SourceClusterID string `json:"source_cluster_id" binding:"required"`
	SourceServiceID string `json:"source_service_id"`
}

// Create handles POST /api/v1/clusters
//
// Returns:
//   - 201 with the created cluster
//   - 400 if the bundle has no cluster prototype
//   - 409 if the name is taken
func (h *ClusterHandler) Create(c *gin.Context) {
	var req CreateClusterRequest
	if !bindJSON(c, &req) {
		return
	}
	cluster, err := h.clusters.CreateCluster(c.Request.Context(), req.BundleID, req.Name)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, cluster)
}

// List handles GET /api/v1/clusters
func (h *ClusterHandler) List(c *gin.Context) {
	clusters, err := h.objects.List(c.Request.Context(), models.KindCluster)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, clusters)
}

// Delete handles DELETE /api/v1/clusters/:id
func (h *ClusterHandler) Delete(c *gin.Context) {
	if err := h.clusters.DeleteCluster(c.Request.Context(), c.Param("id")); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccessWithMessage(c, http.StatusOK, "Cluster deleted")
}

// Services handles GET /api/v1/clusters/:id/services
func (h *ClusterHandler) Services(c *gin.Context) {
	services, err := h.clusters.Services(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, services)
}

// AddService handles POST /api/v1/clusters/:id/services
//
// The service is created together with every component its prototype declares.
//
// Returns:
//   - 201 with the created service
//   - 409 if the service exists, the cluster is locked or a required service is missing
func (h *ClusterHandler) AddService(c *gin.Context) {
	var req AddChildRequest
	if !bindJSON(c, &req) {
		return
	}
	svc, err := h.clusters.AddService(c.Request.Context(), c.Param("id"), req.PrototypeID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, svc)
}

// DeleteService handles DELETE /api/v1/services/:id
func (h *ClusterHandler) DeleteService(c *gin.Context) {
	if err := h.clusters.DeleteService(c.Request.Context(), c.Param("id")); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccessWithMessage(c, http.StatusOK, "Service deleted")
}

// Components handles GET /api/v1/services/:id/components
func (h *ClusterHandler) Components(c *gin.Context) {
	components, err := h.clusters.Components(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, components)
}

// AddComponent handles POST /api/v1/services/:id/components
func (h *ClusterHandler) AddComponent(c *gin.Context) {
	var req AddChildRequest
	if !bindJSON(c, &req) {
		return
	}
	component, err := h.clusters.AddComponent(c.Request.Context(), c.Param("id"), req.PrototypeID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, component)
}

// HostComponents handles GET /api/v1/clusters/:id/hostcomponent
func (h *ClusterHandler) HostComponents(c *gin.Context) {
	hcs, err := h.clusters.HostComponents(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, hcs)
}

// SetHostComponents handles PUT /api/v1/clusters/:id/hostcomponent
//
// Replaces the whole deployment map. An empty list clears it.
//
// Returns:
//   - 200 with the stored rows
//   - 400 for hosts or components outside the cluster
//   - 409 if the cluster is locked or a mapped component misses a requirement
func (h *ClusterHandler) SetHostComponents(c *gin.Context) {
	var req HostComponentRequest
	if !bindJSON(c, &req) {
		return
	}
	hcs, err := h.clusters.SetHostComponentMap(c.Request.Context(), c.Param("id"), req.rows())
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, hcs)
}

// Binds handles GET /api/v1/clusters/:id/binds
func (h *ClusterHandler) Binds(c *gin.Context) {
	binds, err := h.clusters.Binds(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, binds)
}

// Bind handles POST /api/v1/clusters/:id/binds
//
// Returns:
//   - 201 with the created binding
//   - 400 if the importer does not declare an import of the exporter
//   - 409 if the binding exists
func (h *ClusterHandler) Bind(c *gin.Context) {
	var req BindRequest
	if !bindJSON(c, &req) {
		return
	}

	bind := models.ClusterBind{
		ClusterID:       c.Param("id"),
		ServiceID:       req.ServiceID,
		SourceClusterID: req.SourceClusterID,
		SourceServiceID: req.SourceServiceID,
	}
	created, err := h.clusters.BindImport(c.Request.Context(), bind.Importer(), bind.Exporter())
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, created)
}

// Unbind handles DELETE /api/v1/clusters/:id/binds/:bind_id
func (h *ClusterHandler) Unbind(c *gin.Context) {
	if err := h.clusters.UnbindImport(c.Request.Context(), c.Param("id"), c.Param("bind_id")); err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccessWithMessage(c, http.StatusOK, "Import unbound")
}
