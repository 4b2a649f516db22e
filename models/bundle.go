package models

import "time"

// PrototypeType is the entity kind a prototype describes.
type PrototypeType string

const (
	// TypeCluster describes a cluster.
	TypeCluster PrototypeType = "cluster"

	// TypeService describes a service installed into a cluster.
	TypeService PrototypeType = "service"

	// TypeComponent describes a component of a service.
	TypeComponent PrototypeType = "component"

	// TypeProvider describes a host provider.
	TypeProvider PrototypeType = "provider"

	// TypeHost describes a host owned by a provider.
	TypeHost PrototypeType = "host"
)

// Valid reports whether t is one of the five known prototype types.
func (t PrototypeType) Valid() bool {
	switch t {
	case TypeCluster, TypeService, TypeComponent, TypeProvider, TypeHost:
		return true
	}
	return false
}

// Bundle represents an immutable, versioned package of prototypes.
// A bundle is never mutated after creation; an upgrade moves entities
// onto the prototypes of a different bundle.
type Bundle struct {
	// ID is the unique identifier for this bundle (UUID v4 format)
	ID string `json:"id" db:"id"`

	// Name is the bundle lineage name (e.g., "hadoop")
	// Upgrades are offered between bundles that share a name
	Name string `json:"name" db:"name"`

	// Version is the bundle version, compared with RPM ordering
	Version string `json:"version" db:"version"`

	// Edition is the bundle edition (e.g., "community", "enterprise")
	Edition string `json:"edition" db:"edition"`

	// CreatedAt is the timestamp when this bundle was loaded
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Prototype is the schema for one entity kind within a bundle.
type Prototype struct {
	// ID is the unique identifier for this prototype (UUID v4 format)
	ID string `json:"id" db:"id"`

	// BundleID is the UUID of the owning bundle
	BundleID string `json:"bundle_id" db:"bundle_id"`

	// Type is the entity kind this prototype describes
	Type PrototypeType `json:"type" db:"type"`

	// Name is the prototype name, unique per bundle, type and parent
	// Cluster and provider prototypes are conventionally named after the bundle
	Name string `json:"name" db:"name"`

	// Version is the prototype version, compared with RPM ordering
	Version string `json:"version" db:"version"`

	// ParentID is the UUID of the service prototype owning a component prototype
	// Empty for every other type
	ParentID string `json:"parent_id,omitempty" db:"parent_id"`

	// Requires lists dependency declarations of services and components
	Requires []Requirement `json:"requires,omitempty" db:"requires"`

	// Imports lists version-qualified import declarations (clusters and services)
	Imports []PrototypeImport `json:"imports,omitempty" db:"imports"`

	// Exports lists exported config groups (clusters and services)
	Exports []string `json:"exports,omitempty" db:"exports"`

	// AllowMaintenanceMode enables the host maintenance mode feature (clusters only)
	AllowMaintenanceMode bool `json:"allow_maintenance_mode" db:"allow_maintenance_mode"`

	// Config holds the default configuration values for entities of this prototype
	// Keys present here form the configuration schema carried across upgrades
	Config map[string]any `json:"config,omitempty" db:"config"`
}

// RequirementKind distinguishes the two shapes of a requires entry.
type RequirementKind int

const (
	// RequiresService needs the named service to exist in the cluster.
	RequiresService RequirementKind = iota

	// RequiresComponent needs the named component to exist under the named service.
	RequiresComponent
)

// Requirement is one entry of a prototype's requires list.
type Requirement struct {
	// Service is the name of the required service
	Service string `json:"service" yaml:"service"`

	// Component is the name of the required component (optional)
	Component string `json:"component,omitempty" yaml:"component,omitempty"`
}

// Kind returns the shape of the requirement.
func (r Requirement) Kind() RequirementKind {
	if r.Component != "" {
		return RequiresComponent
	}
	return RequiresService
}

// PrototypeImport is an import declaration of a cluster or service prototype.
// Name refers to the prototype name of the exporting cluster or service.
type PrototypeImport struct {
	// Name is the exporter prototype name
	Name string `json:"name" yaml:"name"`

	// MinVersion is the lowest accepted exporter version (empty = unbounded)
	MinVersion string `json:"min_version,omitempty" yaml:"min_version,omitempty"`

	// MaxVersion is the highest accepted exporter version (empty = unbounded)
	MaxVersion string `json:"max_version,omitempty" yaml:"max_version,omitempty"`

	// MinStrict excludes MinVersion itself from the range
	MinStrict bool `json:"min_strict,omitempty" yaml:"min_strict,omitempty"`

	// MaxStrict excludes MaxVersion itself from the range
	MaxStrict bool `json:"max_strict,omitempty" yaml:"max_strict,omitempty"`

	// Required marks an import the importer cannot work without
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
}

// Upgrade is an upgrade specification shipped with a target bundle.
type Upgrade struct {
	// ID is the unique identifier for this upgrade (UUID v4 format)
	ID string `json:"id" db:"id"`

	// BundleID is the UUID of the target bundle
	BundleID string `json:"bundle_id" db:"bundle_id"`

	// Name is the human-readable upgrade name
	Name string `json:"name" db:"name"`

	// MinVersion is the lowest source prototype version the upgrade applies to
	MinVersion string `json:"min_version" db:"min_version"`

	// MaxVersion is the highest source prototype version the upgrade applies to
	MaxVersion string `json:"max_version" db:"max_version"`

	// MinStrict excludes MinVersion itself
	MinStrict bool `json:"min_strict" db:"min_strict"`

	// MaxStrict excludes MaxVersion itself
	MaxStrict bool `json:"max_strict" db:"max_strict"`

	// FromEdition is the allow-list of source bundle editions (empty = any)
	FromEdition []string `json:"from_edition,omitempty" db:"from_edition"`

	// StateAvailable lists the object states the upgrade may start from
	// Empty or containing "any" accepts every state
	StateAvailable []string `json:"state_available,omitempty" db:"state_available"`

	// StateOnSuccess is applied to the object when the upgrade commits (optional)
	StateOnSuccess string `json:"state_on_success,omitempty" db:"state_on_success"`

	// Action is the bound action that performs the upgrade as an external job (optional)
	Action *Action `json:"action,omitempty" db:"action"`
}

// StateAny is the wildcard accepted in Upgrade.StateAvailable.
const StateAny = "any"

// Allowed reports whether an object in the given state may be upgraded.
func (u *Upgrade) Allowed(state string) bool {
	if len(u.StateAvailable) == 0 {
		return true
	}
	for _, s := range u.StateAvailable {
		if s == StateAny || s == state {
			return true
		}
	}
	return false
}

// Action is an action executed by the external job runner.
type Action struct {
	// Name is the action name passed to the job runner
	Name string `json:"name" yaml:"name"`

	// HostComponentMap is the host-component template the action may change
	HostComponentMap []HostComponentRule `json:"hostcomponentmap,omitempty" yaml:"hostcomponentmap,omitempty"`
}

// HostComponentRule is one entry of an action's host-component template.
type HostComponentRule struct {
	// Service is the service prototype name
	Service string `json:"service" yaml:"service"`

	// Component is the component prototype name
	Component string `json:"component" yaml:"component"`

	// Action is "add" or "remove"
	Action string `json:"action" yaml:"action"`
}
