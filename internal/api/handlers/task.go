package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yaroslav/stackform/internal/job"
	"github.com/yaroslav/stackform/internal/upgrade"
	"github.com/yaroslav/stackform/models"
)

// TaskHandler handles job task endpoints. The job runner reports back
// through Finish and, for action-backed upgrades, ApplySwitch.
type TaskHandler struct {
	jobs         *job.Service
	orchestrator *upgrade.Orchestrator
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(jobs *job.Service, orchestrator *upgrade.Orchestrator) *TaskHandler {
	return &TaskHandler{
		jobs:         jobs,
		orchestrator: orchestrator,
	}
}

// FinishTaskRequest is the body of POST /api/v1/tasks/:id/finish.
type FinishTaskRequest struct {
	Status models.TaskStatus `json:"status" binding:"required,oneof=success failed"`
}

// Get handles GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, task)
}

// List handles GET /api/v1/objects/:kind/:id/tasks
func (h *TaskHandler) List(c *gin.Context) {
	ref, ok := parseRef(c)
	if !ok {
		return
	}
	tasks, err := h.jobs.List(c.Request.Context(), ref.ID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, tasks)
}

// Finish handles POST /api/v1/tasks/:id/finish
//
// Records the job outcome and releases the task lock. A successful upgrade
// task commits its on-success state.
//
// Returns 409 if the task already finished.
func (h *TaskHandler) Finish(c *gin.Context) {
	var req FinishTaskRequest
	if !bindJSON(c, &req) {
		return
	}
	task, err := h.jobs.Finish(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, task)
}

// ApplySwitch handles POST /api/v1/tasks/:id/apply-switch
//
// Moves the object of a running upgrade task onto the target bundle.
//
// Returns:
//   - 200 with phase "committed"
//   - 400 if the task was not started by an upgrade
//   - 409 if the task already finished
//   - 500 when the switch was rolled back
func (h *TaskHandler) ApplySwitch(c *gin.Context) {
	res, err := h.orchestrator.ApplySwitch(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, newUpgradeResponse(res))
}
