package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yaroslav/stackform/models"
)

// ListHostComponents returns the deployment map of a cluster.
func (s *Store) ListHostComponents(ctx context.Context, clusterID string) ([]*models.HostComponent, error) {
	return s.listHostComponents(ctx, `WHERE cluster_id = ?`, clusterID)
}

// ListHostComponentsByHost returns every binding of a host across clusters.
func (s *Store) ListHostComponentsByHost(ctx context.Context, hostID string) ([]*models.HostComponent, error) {
	return s.listHostComponents(ctx, `WHERE host_id = ?`, hostID)
}

func (s *Store) listHostComponents(ctx context.Context, where string, args ...any) ([]*models.HostComponent, error) {
	rows, err := s.query(ctx, "list_hostcomponents", `
		SELECT id, cluster_id, host_id, service_id, component_id
		FROM hostcomponents `+where+`
		ORDER BY service_id, component_id, host_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list host components: %w", err)
	}
	defer rows.Close()

	var hcs []*models.HostComponent
	for rows.Next() {
		var hc models.HostComponent
		if err := rows.Scan(&hc.ID, &hc.ClusterID, &hc.HostID, &hc.ServiceID, &hc.ComponentID); err != nil {
			return nil, fmt.Errorf("failed to scan host component: %w", err)
		}
		hcs = append(hcs, &hc)
	}
	return hcs, rows.Err()
}

// ReplaceHostComponents replaces the whole deployment map of a cluster.
// Rows without an id get a new one. Run it inside InTx to keep the
// replacement atomic.
func (s *Store) ReplaceHostComponents(ctx context.Context, clusterID string, hcs []*models.HostComponent) error {
	if _, err := s.exec(ctx, "replace_hostcomponents", `DELETE FROM hostcomponents WHERE cluster_id = ?`, clusterID); err != nil {
		return fmt.Errorf("failed to clear host components: %w", err)
	}

	for _, hc := range hcs {
		if hc.ID == "" {
			hc.ID = uuid.New().String()
		}
		hc.ClusterID = clusterID
		_, err := s.exec(ctx, "replace_hostcomponents", `
			INSERT INTO hostcomponents (id, cluster_id, host_id, service_id, component_id)
			VALUES (?, ?, ?, ?, ?)
		`, hc.ID, hc.ClusterID, hc.HostID, hc.ServiceID, hc.ComponentID)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: component %s is mapped twice to host %s", models.ErrConflict, hc.ComponentID, hc.HostID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert host component: %w", err)
		}
	}
	return nil
}

// DeleteHostComponent deletes one binding.
func (s *Store) DeleteHostComponent(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, "delete_hostcomponent", `DELETE FROM hostcomponents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete host component: %w", err)
	}
	return nil
}
