package sdk

import "github.com/yaroslav/stackform/models"

// envelope is the success wrapper every API response uses.
type envelope struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// errorBody is the error wrapper returned for non-2xx responses.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Health is the body of the liveness and readiness probes.
type Health struct {
	// Status is "ok" when the probe passed.
	Status string `json:"status"`

	// InstanceID identifies the server instance that answered.
	InstanceID string `json:"instance_id"`

	// Database is the database status (readiness only).
	Database string `json:"database,omitempty"`
}

// HostComponentRow is one requested deployment map row.
type HostComponentRow struct {
	HostID      string `json:"host_id"`
	ServiceID   string `json:"service_id,omitempty"`
	ComponentID string `json:"component_id"`
}

// Bind describes a cross-cluster import to create.
type Bind struct {
	// ServiceID is the importing service; empty when the cluster imports.
	ServiceID string `json:"service_id,omitempty"`

	// SourceClusterID is the exporting cluster.
	SourceClusterID string `json:"source_cluster_id"`

	// SourceServiceID is the exporting service (optional).
	SourceServiceID string `json:"source_service_id,omitempty"`
}

// AvailableUpgrade is an upgrade the server offers for an object.
type AvailableUpgrade struct {
	models.Upgrade

	// Bundle is the bundle the upgrade switches to.
	Bundle *models.Bundle `json:"bundle"`

	// Upgradable is false when state or locks forbid the upgrade right now.
	Upgradable bool `json:"upgradable"`

	// Reason explains why the upgrade is not upgradable.
	Reason string `json:"reason,omitempty"`
}

// CheckResult is the answer of an upgrade pre-check.
type CheckResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// UpgradeOptions carries the optional inputs of an upgrade run.
type UpgradeOptions struct {
	Config           map[string]any     `json:"config,omitempty"`
	Attr             map[string]any     `json:"attr,omitempty"`
	HostComponentMap []HostComponentRow `json:"hc,omitempty"`
}

// UpgradeResult is the outcome of an upgrade, switch or revert.
type UpgradeResult struct {
	// Object is the upgraded cluster or provider.
	Object models.Ref `json:"object"`

	// Phase is the phase the run ended in (e.g., "committed", "awaiting_job").
	Phase string `json:"phase"`

	// Committed is true when the new prototypes took effect.
	Committed bool `json:"committed"`

	// TaskID is set when the upgrade runs an action through the job runner.
	TaskID string `json:"task_id,omitempty"`

	// Upgradable reports whether further upgrades are available.
	Upgradable bool `json:"upgradable"`

	// Warning is set when the switch committed but reconciliation failed.
	Warning string `json:"warning,omitempty"`
}

// Concerns lists the concerns affecting an object.
type Concerns struct {
	Locked   bool              `json:"locked"`
	Concerns []*models.Concern `json:"concerns"`
}
