package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yaroslav/stackform/models"
)

const entityColumns = `id, kind, name, prototype_id, state, config_id, before_upgrade, cluster_id, service_id, provider_id, maintenance_mode, created_at`

// EntityFilter narrows ListEntities. Zero fields are ignored.
type EntityFilter struct {
	Kind       models.Kind
	ClusterID  string
	ServiceID  string
	ProviderID string
	Name       string

	// IDs restricts the result to the given entity ids
	IDs []string
}

// CreateEntity stores a managed entity.
//
// Returns models.ErrDuplicateName if the name is already taken in its scope:
// clusters, providers and hosts are unique per kind, services per cluster,
// components per service.
func (s *Store) CreateEntity(ctx context.Context, e *models.Entity) error {
	snapshot, err := marshalSnapshot(e.BeforeUpgrade)
	if err != nil {
		return err
	}
	if e.MaintenanceMode == "" {
		e.MaintenanceMode = models.MaintenanceModeOff
	}

	_, err = s.exec(ctx, "create_entity", `
		INSERT INTO objects (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Kind), e.Name, e.PrototypeID, e.State, nullInt(e.ConfigID), snapshot,
		nullString(e.ClusterID), nullString(e.ServiceID), nullString(e.ProviderID),
		string(e.MaintenanceMode), e.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s %q", models.ErrDuplicateName, e.Kind, e.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", e.Kind, err)
	}
	return nil
}

// GetEntity returns the entity a reference points to.
func (s *Store) GetEntity(ctx context.Context, ref models.Ref) (*models.Entity, error) {
	row := s.queryRow(ctx, "get_entity", `SELECT `+entityColumns+` FROM objects WHERE id = ? AND kind = ?`, ref.ID, string(ref.Kind))
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrEntityNotFound, ref)
	}
	return e, err
}

// GetEntityByID returns an entity of any kind by id.
func (s *Store) GetEntityByID(ctx context.Context, id string) (*models.Entity, error) {
	row := s.queryRow(ctx, "get_entity", `SELECT `+entityColumns+` FROM objects WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrEntityNotFound, id)
	}
	return e, err
}

// ListEntities returns the entities matching the filter ordered by kind and name.
func (s *Store) ListEntities(ctx context.Context, f EntityFilter) ([]*models.Entity, error) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.ClusterID != "" {
		where = append(where, "cluster_id = ?")
		args = append(args, f.ClusterID)
	}
	if f.ServiceID != "" {
		where = append(where, "service_id = ?")
		args = append(args, f.ServiceID)
	}
	if f.ProviderID != "" {
		where = append(where, "provider_id = ?")
		args = append(args, f.ProviderID)
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.IDs != nil {
		if len(f.IDs) == 0 {
			return nil, nil
		}
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		args = append(args, stringArgs(f.IDs)...)
	}

	query := `SELECT ` + entityColumns + ` FROM objects`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY kind, name, id`

	rows, err := s.query(ctx, "list_entities", query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// UpdateEntity saves the mutable columns of an entity: name, prototype,
// state, configuration, snapshot, cluster membership and maintenance mode.
func (s *Store) UpdateEntity(ctx context.Context, e *models.Entity) error {
	snapshot, err := marshalSnapshot(e.BeforeUpgrade)
	if err != nil {
		return err
	}

	result, err := s.exec(ctx, "update_entity", `
		UPDATE objects
		SET name = ?, prototype_id = ?, state = ?, config_id = ?, before_upgrade = ?,
		    cluster_id = ?, maintenance_mode = ?
		WHERE id = ? AND kind = ?
	`, e.Name, e.PrototypeID, e.State, nullInt(e.ConfigID), snapshot,
		nullString(e.ClusterID), string(e.MaintenanceMode), e.ID, string(e.Kind))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s %q", models.ErrDuplicateName, e.Kind, e.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", e.Kind, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", models.ErrEntityNotFound, e.Ref())
	}
	return nil
}

// DeleteEntity deletes an entity and the concerns it owns.
//
// Deleting a cluster also deletes its services and components (and their
// concerns); its hosts stay with their provider. Deleting a service deletes
// its components. Host-component bindings, import bindings and concern links
// of deleted entities go with them.
func (s *Store) DeleteEntity(ctx context.Context, ref models.Ref) error {
	var dependents string
	switch ref.Kind {
	case models.KindCluster:
		dependents = `SELECT id FROM objects WHERE cluster_id = ? AND kind IN ('service', 'component')`
	case models.KindService:
		dependents = `SELECT id FROM objects WHERE service_id = ?`
	case models.KindProvider:
		dependents = `SELECT id FROM objects WHERE provider_id = ?`
	}

	if dependents != "" {
		if _, err := s.exec(ctx, "delete_entity", `DELETE FROM concerns WHERE owner_id IN (`+dependents+`)`, ref.ID); err != nil {
			return fmt.Errorf("failed to delete dependent concerns: %w", err)
		}
		if _, err := s.exec(ctx, "delete_entity", `DELETE FROM objects WHERE id IN (`+dependents+`) AND kind != 'host'`, ref.ID); err != nil {
			return fmt.Errorf("failed to delete dependents of %s: %w", ref, err)
		}
	}

	if _, err := s.exec(ctx, "delete_entity", `DELETE FROM concerns WHERE owner_id = ?`, ref.ID); err != nil {
		return fmt.Errorf("failed to delete owned concerns: %w", err)
	}

	result, err := s.exec(ctx, "delete_entity", `DELETE FROM objects WHERE id = ? AND kind = ?`, ref.ID, string(ref.Kind))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", models.ErrEntityNotFound, ref)
	}
	return nil
}

func scanEntity(row scanner) (*models.Entity, error) {
	var (
		e                                models.Entity
		kind, mm                         string
		configID                         sql.NullInt64
		snapshot                         sql.NullString
		clusterID, serviceID, providerID sql.NullString
		createdAt                        int64
	)
	err := row.Scan(&e.ID, &kind, &e.Name, &e.PrototypeID, &e.State, &configID, &snapshot,
		&clusterID, &serviceID, &providerID, &mm, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	e.Kind = models.Kind(kind)
	e.ConfigID = configID.Int64
	e.ClusterID = clusterID.String
	e.ServiceID = serviceID.String
	e.ProviderID = providerID.String
	e.MaintenanceMode = models.MaintenanceMode(mm)
	e.CreatedAt = time.Unix(createdAt, 0)

	if snapshot.Valid {
		e.BeforeUpgrade = &models.UpgradeSnapshot{}
		if err := unmarshalJSON(snapshot, e.BeforeUpgrade); err != nil {
			return nil, fmt.Errorf("failed to unmarshal before_upgrade: %w", err)
		}
	}
	return &e, nil
}

func marshalSnapshot(snap *models.UpgradeSnapshot) (sql.NullString, error) {
	if snap == nil {
		return sql.NullString{}, nil
	}
	data, err := marshalJSON(snap)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal before_upgrade: %w", err)
	}
	// An all-empty snapshot still marks the entity as upgraded.
	if !data.Valid {
		data = sql.NullString{String: "{}", Valid: true}
	}
	return data, nil
}
