package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS bundles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	edition TEXT NOT NULL,
	archive BLOB,
	created_at INTEGER NOT NULL,
	UNIQUE (name, version, edition)
);

CREATE TABLE IF NOT EXISTS prototypes (
	id TEXT PRIMARY KEY,
	bundle_id TEXT NOT NULL REFERENCES bundles(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	parent_id TEXT REFERENCES prototypes(id) ON DELETE CASCADE,
	requires TEXT,
	imports TEXT,
	exports TEXT,
	allow_maintenance_mode INTEGER NOT NULL DEFAULT 0,
	config TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_prototypes_name
	ON prototypes (bundle_id, type, name, IFNULL(parent_id, ''));

CREATE TABLE IF NOT EXISTS upgrades (
	id TEXT PRIMARY KEY,
	bundle_id TEXT NOT NULL REFERENCES bundles(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	min_version TEXT NOT NULL,
	max_version TEXT NOT NULL,
	min_strict INTEGER NOT NULL DEFAULT 0,
	max_strict INTEGER NOT NULL DEFAULT 0,
	from_edition TEXT,
	state_available TEXT,
	state_on_success TEXT,
	action TEXT
);

CREATE TABLE IF NOT EXISTS objects (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	prototype_id TEXT NOT NULL REFERENCES prototypes(id),
	state TEXT NOT NULL,
	config_id INTEGER,
	before_upgrade TEXT,
	cluster_id TEXT REFERENCES objects(id) ON DELETE SET NULL,
	service_id TEXT REFERENCES objects(id) ON DELETE CASCADE,
	provider_id TEXT REFERENCES objects(id) ON DELETE CASCADE,
	maintenance_mode TEXT NOT NULL DEFAULT 'off',
	created_at INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_objects_root_name
	ON objects (kind, name) WHERE kind IN ('cluster', 'provider', 'host');
CREATE UNIQUE INDEX IF NOT EXISTS idx_objects_service_name
	ON objects (cluster_id, name) WHERE kind = 'service';
CREATE UNIQUE INDEX IF NOT EXISTS idx_objects_component_name
	ON objects (service_id, name) WHERE kind = 'component';
CREATE INDEX IF NOT EXISTS idx_objects_cluster ON objects (cluster_id);
CREATE INDEX IF NOT EXISTS idx_objects_provider ON objects (provider_id);

CREATE TABLE IF NOT EXISTS hostcomponents (
	id TEXT PRIMARY KEY,
	cluster_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
	host_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
	service_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
	component_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
	UNIQUE (host_id, component_id)
);

CREATE INDEX IF NOT EXISTS idx_hostcomponents_cluster ON hostcomponents (cluster_id);

CREATE TABLE IF NOT EXISTS cluster_binds (
	id TEXT PRIMARY KEY,
	cluster_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
	service_id TEXT REFERENCES objects(id) ON DELETE CASCADE,
	source_cluster_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
	source_service_id TEXT REFERENCES objects(id) ON DELETE CASCADE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_cluster_binds_pair
	ON cluster_binds (cluster_id, IFNULL(service_id, ''), source_cluster_id, IFNULL(source_service_id, ''));

CREATE TABLE IF NOT EXISTS configs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	object_kind TEXT NOT NULL,
	object_id TEXT NOT NULL,
	config TEXT,
	attr TEXT,
	description TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_configs_object ON configs (object_id);

CREATE TABLE IF NOT EXISTS concerns (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	cause TEXT NOT NULL,
	name TEXT NOT NULL,
	owner_kind TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_concerns_owner ON concerns (owner_id, kind, cause);

CREATE TABLE IF NOT EXISTS concern_links (
	concern_id TEXT NOT NULL REFERENCES concerns(id) ON DELETE CASCADE,
	object_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
	PRIMARY KEY (concern_id, object_id)
);

CREATE INDEX IF NOT EXISTS idx_concern_links_object ON concern_links (object_id);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	action TEXT NOT NULL,
	object_kind TEXT NOT NULL,
	object_id TEXT NOT NULL,
	upgrade_id TEXT,
	config TEXT,
	attr TEXT,
	hostcomponentmap TEXT,
	lock_id TEXT,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_tasks_object ON tasks (object_id);
`

// Migrate creates every table and index that does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.exec(ctx, "migrate", schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
