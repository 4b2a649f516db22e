package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yaroslav/stackform/models"
)

// CreateBind stores an import binding.
func (s *Store) CreateBind(ctx context.Context, b *models.ClusterBind) error {
	_, err := s.exec(ctx, "create_bind", `
		INSERT INTO cluster_binds (id, cluster_id, service_id, source_cluster_id, source_service_id)
		VALUES (?, ?, ?, ?, ?)
	`, b.ID, b.ClusterID, nullString(b.ServiceID), b.SourceClusterID, nullString(b.SourceServiceID))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s already imports from %s", models.ErrConflict, b.Importer(), b.Exporter())
	}
	if err != nil {
		return fmt.Errorf("failed to create bind: %w", err)
	}
	return nil
}

// ListBindsByImporter returns the bindings where the cluster (or one of its
// services) imports from another object.
func (s *Store) ListBindsByImporter(ctx context.Context, clusterID string) ([]*models.ClusterBind, error) {
	return s.listBinds(ctx, `WHERE cluster_id = ?`, clusterID)
}

// ListBindsByExporter returns the bindings where another object imports from
// the cluster (or one of its services).
func (s *Store) ListBindsByExporter(ctx context.Context, clusterID string) ([]*models.ClusterBind, error) {
	return s.listBinds(ctx, `WHERE source_cluster_id = ?`, clusterID)
}

func (s *Store) listBinds(ctx context.Context, where string, args ...any) ([]*models.ClusterBind, error) {
	rows, err := s.query(ctx, "list_binds", `
		SELECT id, cluster_id, service_id, source_cluster_id, source_service_id
		FROM cluster_binds `+where+`
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list binds: %w", err)
	}
	defer rows.Close()

	var binds []*models.ClusterBind
	for rows.Next() {
		var (
			b                          models.ClusterBind
			serviceID, sourceServiceID sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.ClusterID, &serviceID, &b.SourceClusterID, &sourceServiceID); err != nil {
			return nil, fmt.Errorf("failed to scan bind: %w", err)
		}
		b.ServiceID = serviceID.String
		b.SourceServiceID = sourceServiceID.String
		binds = append(binds, &b)
	}
	return binds, rows.Err()
}

// DeleteBind deletes an import binding.
func (s *Store) DeleteBind(ctx context.Context, id string) error {
	if _, err := s.exec(ctx, "delete_bind", `DELETE FROM cluster_binds WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete bind: %w", err)
	}
	return nil
}
