package models

import (
	"fmt"
	"time"
)

// Kind is the kind of a managed entity. It shares its values with PrototypeType.
type Kind = PrototypeType

const (
	// KindCluster is a cluster entity.
	KindCluster = TypeCluster

	// KindService is a service entity.
	KindService = TypeService

	// KindComponent is a component entity.
	KindComponent = TypeComponent

	// KindProvider is a host provider entity.
	KindProvider = TypeProvider

	// KindHost is a host entity.
	KindHost = TypeHost
)

// Ref identifies a managed entity by kind and id.
type Ref struct {
	// Kind is the entity kind
	Kind Kind `json:"kind"`

	// ID is the entity UUID
	ID string `json:"id"`
}

// String renders the reference as "kind #id".
func (r Ref) String() string {
	return fmt.Sprintf("%s #%s", r.Kind, r.ID)
}

// MaintenanceMode is the maintenance mode flag of a host.
type MaintenanceMode string

const (
	// MaintenanceModeOff means the host takes part in operations normally.
	MaintenanceModeOff MaintenanceMode = "off"

	// MaintenanceModeOn means the host is excluded from operations.
	MaintenanceModeOn MaintenanceMode = "on"
)

// Entity is a managed entity: a cluster, service, component, provider or host.
// Every entity references exactly one prototype, which is reassigned on upgrade.
//
// Relations by kind:
//   - service: ClusterID
//   - component: ClusterID, ServiceID
//   - host: ProviderID, optional ClusterID
type Entity struct {
	// ID is the unique identifier for this entity (UUID v4 format)
	ID string `json:"id" db:"id"`

	// Kind is the entity kind
	Kind Kind `json:"kind" db:"kind"`

	// Name is the entity name
	// Services and components are named after their prototype
	// Host names are unique across the installation
	Name string `json:"name" db:"name"`

	// PrototypeID is the UUID of the current prototype
	PrototypeID string `json:"prototype_id" db:"prototype_id"`

	// State is the free-form lifecycle state (e.g., "created", "installed")
	State string `json:"state" db:"state"`

	// ConfigID is the id of the current ConfigLog (0 = no configuration)
	ConfigID int64 `json:"config_id,omitempty" db:"config_id"`

	// BeforeUpgrade is the snapshot taken before the last upgrade (nullable)
	BeforeUpgrade *UpgradeSnapshot `json:"before_upgrade,omitempty" db:"before_upgrade"`

	// ClusterID is the UUID of the owning cluster (services, components, mapped hosts)
	ClusterID string `json:"cluster_id,omitempty" db:"cluster_id"`

	// ServiceID is the UUID of the owning service (components only)
	ServiceID string `json:"service_id,omitempty" db:"service_id"`

	// ProviderID is the UUID of the owning provider (hosts only)
	ProviderID string `json:"provider_id,omitempty" db:"provider_id"`

	// MaintenanceMode is the host maintenance mode (hosts only)
	MaintenanceMode MaintenanceMode `json:"maintenance_mode,omitempty" db:"maintenance_mode"`

	// CreatedAt is the timestamp when this entity was created
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Ref returns the reference of the entity.
func (e *Entity) Ref() Ref {
	return Ref{Kind: e.Kind, ID: e.ID}
}

// UpgradeSnapshot is the pre-upgrade record of an entity; the sole input to revert.
// Host-component bindings are kept by name so they survive entity recreation.
type UpgradeSnapshot struct {
	// BundleID is the UUID of the bundle the upgraded object came from (root object only)
	BundleID string `json:"bundle_id,omitempty"`

	// State is the entity state before the upgrade
	State string `json:"state"`

	// ConfigID is the current ConfigLog id before the upgrade (0 = none)
	ConfigID int64 `json:"config,omitempty"`

	// HostComponents is the cluster deployment map before the upgrade (clusters only)
	HostComponents []HostComponentName `json:"hc,omitempty"`

	// Services is the list of service prototype names present before the upgrade (clusters only)
	Services []string `json:"services,omitempty"`
}

// HostComponent is one row of a cluster deployment map: the component of the
// service is deployed on the host.
type HostComponent struct {
	// ID is the unique identifier for this binding (UUID v4 format)
	ID string `json:"id" db:"id"`

	// ClusterID is the UUID of the cluster
	ClusterID string `json:"cluster_id" db:"cluster_id"`

	// HostID is the UUID of the host
	HostID string `json:"host_id" db:"host_id"`

	// ServiceID is the UUID of the service
	ServiceID string `json:"service_id" db:"service_id"`

	// ComponentID is the UUID of the component
	ComponentID string `json:"component_id" db:"component_id"`
}

// HostComponentName is a deployment map row expressed by names.
type HostComponentName struct {
	// Service is the service prototype name
	Service string `json:"service"`

	// Component is the component prototype name
	Component string `json:"component"`

	// Host is the host name
	Host string `json:"host"`
}

// ClusterBind is a cross-cluster import binding. The importer is a cluster
// (or one of its services); the exporter is another cluster (or one of its services).
type ClusterBind struct {
	// ID is the unique identifier for this binding (UUID v4 format)
	ID string `json:"id" db:"id"`

	// ClusterID is the UUID of the importing cluster
	ClusterID string `json:"cluster_id" db:"cluster_id"`

	// ServiceID is the UUID of the importing service (optional)
	ServiceID string `json:"service_id,omitempty" db:"service_id"`

	// SourceClusterID is the UUID of the exporting cluster
	SourceClusterID string `json:"source_cluster_id" db:"source_cluster_id"`

	// SourceServiceID is the UUID of the exporting service (optional)
	SourceServiceID string `json:"source_service_id,omitempty" db:"source_service_id"`
}

// Importer returns the importing entity reference.
func (b *ClusterBind) Importer() Ref {
	if b.ServiceID != "" {
		return Ref{Kind: KindService, ID: b.ServiceID}
	}
	return Ref{Kind: KindCluster, ID: b.ClusterID}
}

// Exporter returns the exporting entity reference.
func (b *ClusterBind) Exporter() Ref {
	if b.SourceServiceID != "" {
		return Ref{Kind: KindService, ID: b.SourceServiceID}
	}
	return Ref{Kind: KindCluster, ID: b.SourceClusterID}
}

// ConfigLog is one saved configuration of an entity.
type ConfigLog struct {
	// ID is the configuration id, increasing
	ID int64 `json:"id" db:"id"`

	// ObjectKind is the kind of the owning entity
	ObjectKind Kind `json:"object_kind" db:"object_kind"`

	// ObjectID is the UUID of the owning entity
	ObjectID string `json:"object_id" db:"object_id"`

	// Config holds the configuration values
	Config map[string]any `json:"config" db:"config"`

	// Attr holds configuration attributes (e.g., activatable group flags)
	Attr map[string]any `json:"attr,omitempty" db:"attr"`

	// Description explains where the configuration came from
	Description string `json:"description,omitempty" db:"description"`

	// CreatedAt is the timestamp when this configuration was saved
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
