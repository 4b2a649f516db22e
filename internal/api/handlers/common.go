// Package handlers provides HTTP handlers for the stackform REST API.
//
// This package implements request handlers for all API endpoints including
// health checks, bundle loading, cluster and provider topology, object
// configuration and concerns, upgrades and job task callbacks.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/api/middleware"
	"github.com/yaroslav/stackform/internal/logging"
	"github.com/yaroslav/stackform/models"
	"github.com/yaroslav/stackform/pkg/bundle"
)

// ErrorResponse represents a standardized error response.
//
// All API errors are returned in this format to provide consistent
// error handling for clients.
type ErrorResponse struct {
	// Error is the error code (e.g., "not_found", "upgrade_rejected").
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// RequestID is the unique request ID for tracing.
	RequestID string `json:"request_id,omitempty"`
}

// SuccessResponse represents a standardized success response with data.
//
// This is used for successful API responses that return data to the client.
type SuccessResponse struct {
	// Data contains the response payload.
	Data interface{} `json:"data,omitempty"`

	// Message is an optional success message.
	Message string `json:"message,omitempty"`
}

// respondError sends a standardized error response.
//
// Parameters:
//   - c: Gin context
//   - statusCode: HTTP status code
//   - errorCode: Error code string (e.g., "not_found")
//   - message: Human-readable error message
func respondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestID: middleware.GetRequestID(c),
	})
}

// respondSuccess sends a standardized success response with data.
func respondSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, SuccessResponse{
		Data: data,
	})
}

// respondSuccessWithMessage sends a standardized success response with a message.
func respondSuccessWithMessage(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, SuccessResponse{
		Message: message,
	})
}

// errorClass maps a group of sentinel errors to one HTTP status and code.
type errorClass struct {
	status int
	code   string
	errs   []error
}

// errorClasses is checked in order; the first class with a matching sentinel wins.
// Payload size comes before the generic bundle errors it is wrapped with.
var errorClasses = []errorClass{
	{http.StatusRequestEntityTooLarge, "payload_too_large", []error{bundle.ErrBundleTooLarge}},
	{http.StatusNotFound, "not_found", []error{
		models.ErrNotFound, models.ErrEntityNotFound, models.ErrBundleNotFound,
		models.ErrPrototypeNotFound, models.ErrUpgradeNotFound, models.ErrConcernNotFound,
		models.ErrConfigNotFound, models.ErrTaskNotFound, models.ErrNotInHierarchy,
	}},
	{http.StatusBadRequest, "invalid_bundle", []error{models.ErrInvalidBundle}},
	{http.StatusBadRequest, "invalid_request", []error{
		models.ErrInvalidRequest, models.ErrNotARoot, models.ErrUpgradeTargetType,
	}},
	{http.StatusConflict, "missing_requirement", []error{
		models.ErrMissingRequiredService, models.ErrMissingRequiredComponent,
	}},
	{http.StatusConflict, "upgrade_rejected", []error{
		models.ErrUpgradeLocked, models.ErrUpgradeVersion, models.ErrUpgradeEdition,
		models.ErrUpgradeState, models.ErrUpgradeImportIncompatible,
		models.ErrUpgradeExportIncompatible, models.ErrNoUpgradeSnapshot,
	}},
	{http.StatusConflict, "locked", []error{models.ErrLocked}},
	{http.StatusConflict, "conflict", []error{
		models.ErrConflict, models.ErrDuplicateName, models.ErrServiceInUse, models.ErrTaskFinished,
	}},
	{http.StatusTooManyRequests, "rate_limit_exceeded", []error{models.ErrRateLimitExceeded}},
}

// mapErrorToResponse converts a models package error to an HTTP response.
//
// Client errors carry the error text, which names the rule violated and the
// offending object. Server errors are logged with the request logger and
// answered with a generic message to prevent information disclosure.
//
// Parameters:
//   - c: Gin context
//   - err: Error from the service layer or other source
func mapErrorToResponse(c *gin.Context, err error) {
	for _, class := range errorClasses {
		for _, sentinel := range class.errs {
			if errors.Is(err, sentinel) {
				respondError(c, class.status, class.code, err.Error())
				return
			}
		}
	}

	_ = c.Error(err)
	middleware.GetLogger(c).Error("request failed", zap.Error(err))

	code := "internal_error"
	switch {
	case errors.Is(err, models.ErrUpgradeSwitchFailed):
		code = "upgrade_switch_failed"
	case errors.Is(err, models.ErrUpgradeRevertFailed):
		code = "upgrade_revert_failed"
	}
	respondError(c, http.StatusInternalServerError, code, "An internal error occurred")
}

// parseRef builds an entity reference from the :kind and :id path parameters.
// It responds with 400 and returns false when the kind is unknown.
func parseRef(c *gin.Context) (models.Ref, bool) {
	kind := models.Kind(c.Param("kind"))
	if !kind.Valid() {
		respondError(c, http.StatusBadRequest, "invalid_request", "unknown object kind "+string(kind))
		return models.Ref{}, false
	}
	ref := models.Ref{Kind: kind, ID: c.Param("id")}
	c.Request = c.Request.WithContext(logging.WithObject(c.Request.Context(), ref))
	return ref, true
}

// bindJSON decodes and validates the request body into req.
// It responds with 400 and returns false on failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}
