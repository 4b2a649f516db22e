// Package logging provides structured logging utilities for the stackform server.
package logging

import (
	"go.uber.org/zap"

	"github.com/yaroslav/stackform/models"
)

// Standard field names for consistent logging across the application.
const (
	// FieldObjectKind is the kind of the entity being operated on.
	FieldObjectKind = "object_kind"

	// FieldObjectID is the unique identifier of the entity being operated on.
	FieldObjectID = "object_id"

	// FieldBundleID is the unique identifier for a bundle.
	FieldBundleID = "bundle_id"

	// FieldUpgradeID is the unique identifier for an upgrade specification.
	FieldUpgradeID = "upgrade_id"

	// FieldPhase is the upgrade state machine phase.
	FieldPhase = "phase"

	// FieldConcernID is the unique identifier for a concern.
	FieldConcernID = "concern_id"

	// FieldTaskID is the unique identifier for a job task.
	FieldTaskID = "task_id"

	// HTTP request fields.
	FieldRequestID  = "request_id"
	FieldDuration   = "duration_ms"
	FieldStatusCode = "status_code"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldRemoteAddr = "remote_addr"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
)

// ObjectFields returns flat kind and id fields for an entity reference.
func ObjectFields(ref models.Ref) []zap.Field {
	return []zap.Field{
		zap.String(FieldObjectKind, string(ref.Kind)),
		zap.String(FieldObjectID, ref.ID),
	}
}

// Phase returns the upgrade phase field.
func Phase(phase string) zap.Field {
	return zap.String(FieldPhase, phase)
}
