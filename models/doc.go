// Package models provides shared data structures for the stackform project.
//
// This package contains the core data model used by the entity store, the
// consistency engine (hierarchy, concerns, requires, upgrades), the HTTP
// adapter and the operator CLI. Keeping the models in a separate package lets
// every layer import them without creating circular dependencies.
//
// The models in this package represent:
//   - Bundles: Immutable, versioned packages of entity schemas
//   - Prototypes: Schema for one entity kind within a bundle
//   - Entities: Managed clusters, services, components, providers and hosts
//   - HostComponents: The deployment map of a cluster
//   - ClusterBinds: Cross-cluster import/export bindings
//   - Concerns: Lock and issue records attached to affected entities
//   - Upgrades: Upgrade specifications shipped with a bundle
//   - Tasks: Action-backed jobs handed to the external job runner
//
// All structs include JSON tags for API serialization and documentation
// comments explaining the purpose and constraints of each field.
package models
