package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yaroslav/stackform/internal/upgrade"
	"github.com/yaroslav/stackform/models"
)

// UpgradeHandler handles upgrade endpoints of clusters and providers.
type UpgradeHandler struct {
	orchestrator *upgrade.Orchestrator
}

// NewUpgradeHandler creates a new upgrade handler.
func NewUpgradeHandler(orchestrator *upgrade.Orchestrator) *UpgradeHandler {
	return &UpgradeHandler{orchestrator: orchestrator}
}

// DoUpgradeRequest is the optional body of POST .../upgrades/:upgrade_id/do.
// The values are handed to the upgrade action when the upgrade has one.
type DoUpgradeRequest struct {
	Config           map[string]any     `json:"config"`
	Attr             map[string]any     `json:"attr"`
	HostComponentMap []HostComponentRow `json:"hc" binding:"dive"`
}

// CheckResponse is the outcome of an upgrade check.
type CheckResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// UpgradeResponse is the outcome of a run or revert. Warning is set when
// the upgrade committed but reconciliation did not complete.
type UpgradeResponse struct {
	*upgrade.Result
	Warning string `json:"warning,omitempty"`
}

// List handles GET /api/v1/objects/:kind/:id/upgrades
//
// Returns the upgrades offered to the object, each with whether it can run now.
func (h *UpgradeHandler) List(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	available, err := h.orchestrator.List(c.Request.Context(), ref)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, available)
}

// Check handles POST /api/v1/objects/:kind/:id/upgrades/:upgrade_id/check
//
// A rejected check is a successful request: the response carries ok=false
// and the reason naming the failed rule.
func (h *UpgradeHandler) Check(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	err := h.orchestrator.Check(c.Request.Context(), ref, c.Param("upgrade_id"))
	var uerr *models.UpgradeError
	switch {
	case err == nil:
		respondSuccess(c, http.StatusOK, CheckResponse{OK: true})
	case errors.As(err, &uerr) && !errors.Is(err, models.ErrUpgradeTargetType):
		respondSuccess(c, http.StatusOK, CheckResponse{OK: false, Reason: uerr.Error()})
	default:
		mapErrorToResponse(c, err)
	}
}

// Do handles POST /api/v1/objects/:kind/:id/upgrades/:upgrade_id/do
//
// Returns:
//   - 200 with phase "committed" for upgrades without an action
//   - 202 with phase "awaiting_job" and the task id for action-backed upgrades
//   - 409 with the rejection reason when validation fails
//   - 500 when the switch was rolled back
func (h *UpgradeHandler) Do(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	var req DoUpgradeRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	hc := HostComponentRequest{HC: req.HostComponentMap}
	res, err := h.orchestrator.Do(c.Request.Context(), ref, c.Param("upgrade_id"), upgrade.Request{
		Config:           req.Config,
		Attr:             req.Attr,
		HostComponentMap: hc.rows(),
	})
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	status := http.StatusOK
	if res.TaskID != "" {
		status = http.StatusAccepted
	}
	respondSuccess(c, status, newUpgradeResponse(res))
}

// Revert handles POST /api/v1/objects/:kind/:id/revert
//
// Returns:
//   - 200 with phase "reverted"
//   - 409 when the object was never upgraded or is locked
//   - 500 when the snapshot cannot be applied; nothing is changed
func (h *UpgradeHandler) Revert(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	res, err := h.orchestrator.Revert(c.Request.Context(), ref)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, newUpgradeResponse(res))
}

func newUpgradeResponse(res *upgrade.Result) UpgradeResponse {
	resp := UpgradeResponse{Result: res}
	if res.Warning != nil {
		resp.Warning = res.Warning.Error()
	}
	return resp
}
