package models

import "errors"

// Common error types used throughout the stackform application.
// These errors provide semantic meaning and enable consistent error handling
// across different layers (API, service, store).

var (
	// ErrNotFound indicates the requested resource does not exist.
	// HTTP equivalent: 404 Not Found
	ErrNotFound = errors.New("resource not found")

	// ErrEntityNotFound indicates the requested cluster, service, component, provider or host does not exist.
	// HTTP equivalent: 404 Not Found
	ErrEntityNotFound = errors.New("entity not found")

	// ErrBundleNotFound indicates the requested bundle does not exist.
	// HTTP equivalent: 404 Not Found
	ErrBundleNotFound = errors.New("bundle not found")

	// ErrPrototypeNotFound indicates the requested prototype does not exist.
	// HTTP equivalent: 404 Not Found
	ErrPrototypeNotFound = errors.New("prototype not found")

	// ErrUpgradeNotFound indicates the requested upgrade does not exist.
	// HTTP equivalent: 404 Not Found
	ErrUpgradeNotFound = errors.New("upgrade not found")

	// ErrConcernNotFound indicates the requested concern does not exist.
	// HTTP equivalent: 404 Not Found
	ErrConcernNotFound = errors.New("concern not found")

	// ErrConfigNotFound indicates the requested configuration does not exist.
	// HTTP equivalent: 404 Not Found
	ErrConfigNotFound = errors.New("config not found")

	// ErrTaskNotFound indicates the requested task does not exist.
	// HTTP equivalent: 404 Not Found
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidRequest indicates the request body or parameters are invalid.
	// HTTP equivalent: 400 Bad Request
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidBundle indicates a bundle definition failed validation.
	// HTTP equivalent: 400 Bad Request
	ErrInvalidBundle = errors.New("invalid bundle definition")

	// ErrConflict indicates the resource already exists.
	// HTTP equivalent: 409 Conflict
	ErrConflict = errors.New("resource already exists")

	// ErrDuplicateName indicates a resource with this name already exists.
	// HTTP equivalent: 409 Conflict
	ErrDuplicateName = errors.New("resource with this name already exists")

	// ErrLocked indicates the entity has at least one attached lock concern.
	// HTTP equivalent: 409 Conflict
	ErrLocked = errors.New("object is locked")

	// ErrTaskFinished indicates the task already reported completion.
	// HTTP equivalent: 409 Conflict
	ErrTaskFinished = errors.New("task is already finished")

	// ErrRateLimitExceeded indicates too many requests from this client.
	// HTTP equivalent: 429 Too Many Requests
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Hierarchy errors.
var (
	// ErrNotARoot indicates a graph was requested from an entity other than a cluster or provider.
	// HTTP equivalent: 400 Bad Request
	ErrNotARoot = errors.New("hierarchy can only be built from a cluster or provider")

	// ErrNotInHierarchy indicates the entity is not reachable from the graph root.
	// HTTP equivalent: 404 Not Found
	ErrNotInHierarchy = errors.New("object is not part of the hierarchy")
)

// Requires errors.
var (
	// ErrMissingRequiredService indicates a required service is not installed in the cluster.
	// HTTP equivalent: 409 Conflict
	ErrMissingRequiredService = errors.New("required service is missing")

	// ErrMissingRequiredComponent indicates a required component is not installed in the cluster.
	// HTTP equivalent: 409 Conflict
	ErrMissingRequiredComponent = errors.New("required component is missing")

	// ErrServiceInUse indicates a service cannot be removed while others require or import from it.
	// HTTP equivalent: 409 Conflict
	ErrServiceInUse = errors.New("service is in use")
)

// Upgrade errors.
var (
	// ErrUpgradeLocked indicates the upgrade target has blocking concerns.
	// HTTP equivalent: 409 Conflict
	ErrUpgradeLocked = errors.New("upgrade target is locked")

	// ErrUpgradeVersion indicates the object version is outside the upgrade range.
	// HTTP equivalent: 409 Conflict
	ErrUpgradeVersion = errors.New("upgrade version mismatch")

	// ErrUpgradeEdition indicates the object bundle edition is not accepted by the upgrade.
	// HTTP equivalent: 409 Conflict
	ErrUpgradeEdition = errors.New("upgrade edition mismatch")

	// ErrUpgradeState indicates the object state is not accepted by the upgrade.
	// HTTP equivalent: 409 Conflict
	ErrUpgradeState = errors.New("upgrade state mismatch")

	// ErrUpgradeImportIncompatible indicates an existing import would break after the upgrade.
	// HTTP equivalent: 409 Conflict
	ErrUpgradeImportIncompatible = errors.New("upgrade breaks an import")

	// ErrUpgradeExportIncompatible indicates an existing consumer could not import from the upgraded object.
	// HTTP equivalent: 409 Conflict
	ErrUpgradeExportIncompatible = errors.New("upgrade breaks an export")

	// ErrUpgradeTargetType indicates an upgrade was attempted on something other than a cluster or provider.
	// HTTP equivalent: 400 Bad Request
	ErrUpgradeTargetType = errors.New("only clusters and providers can be upgraded")

	// ErrUpgradeSwitchFailed indicates the prototype switch was rolled back.
	// HTTP equivalent: 500 Internal Server Error
	ErrUpgradeSwitchFailed = errors.New("upgrade switch failed")

	// ErrUpgradeReconcileWarning indicates reconciliation failed after a committed switch.
	// HTTP equivalent: 200 OK with warning
	ErrUpgradeReconcileWarning = errors.New("upgrade reconcile incomplete")

	// ErrUpgradeRevertFailed indicates a revert could not be applied and needs an operator.
	// HTTP equivalent: 500 Internal Server Error
	ErrUpgradeRevertFailed = errors.New("upgrade revert failed")

	// ErrNoUpgradeSnapshot indicates a revert was requested for an object that was never upgraded.
	// HTTP equivalent: 409 Conflict
	ErrNoUpgradeSnapshot = errors.New("object has no pre-upgrade snapshot")
)

// HierarchyError reports graph misuse for a specific entity.
type HierarchyError struct {
	// Err is ErrNotARoot or ErrNotInHierarchy
	Err error

	// Ref is the offending entity
	Ref Ref
}

// Error implements the error interface for HierarchyError.
func (e *HierarchyError) Error() string {
	return e.Err.Error() + ": " + e.Ref.String()
}

// Unwrap returns the sentinel error.
func (e *HierarchyError) Unwrap() error {
	return e.Err
}

// RequiresError reports an unsatisfied requires declaration.
type RequiresError struct {
	// Err is ErrMissingRequiredService or ErrMissingRequiredComponent
	Err error

	// Service is the required service name
	Service string

	// Component is the required component name (component requirements only)
	Component string

	// For describes the entity that declares the requirement
	For string
}

// Error implements the error interface for RequiresError.
func (e *RequiresError) Error() string {
	if e.Component != "" {
		return `no required component "` + e.Component + `" of service "` + e.Service + `" for ` + e.For
	}
	return `no required service "` + e.Service + `" for ` + e.For
}

// Unwrap returns the sentinel error.
func (e *RequiresError) Unwrap() error {
	return e.Err
}

// UpgradeError is an upgrade failure carrying a stable, human-readable reason.
type UpgradeError struct {
	// Err is one of the ErrUpgrade* sentinels
	Err error

	// Reason names the rule violated and the offending value
	Reason string
}

// Error implements the error interface for UpgradeError.
func (e *UpgradeError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Reason
}

// Unwrap returns the sentinel error.
func (e *UpgradeError) Unwrap() error {
	return e.Err
}

// NewUpgradeError creates an UpgradeError for the given sentinel and reason.
func NewUpgradeError(err error, reason string) *UpgradeError {
	return &UpgradeError{Err: err, Reason: reason}
}
