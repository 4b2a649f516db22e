package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yaroslav/stackform/models"
)

// CreateConfig appends a configuration to an entity's history and sets cl.ID.
func (s *Store) CreateConfig(ctx context.Context, cl *models.ConfigLog) error {
	config, err := marshalJSON(cl.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	attr, err := marshalJSON(cl.Attr)
	if err != nil {
		return fmt.Errorf("failed to marshal attr: %w", err)
	}
	if cl.CreatedAt.IsZero() {
		cl.CreatedAt = time.Now()
	}

	result, err := s.exec(ctx, "create_config", `
		INSERT INTO configs (object_kind, object_id, config, attr, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(cl.ObjectKind), cl.ObjectID, config, attr, nullString(cl.Description), cl.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get config id: %w", err)
	}
	cl.ID = id
	return nil
}

// GetConfig returns a saved configuration by id.
func (s *Store) GetConfig(ctx context.Context, id int64) (*models.ConfigLog, error) {
	var (
		cl                  models.ConfigLog
		kind                string
		config, attr, descr sql.NullString
		createdAt           int64
	)
	err := s.queryRow(ctx, "get_config", `
		SELECT id, object_kind, object_id, config, attr, description, created_at
		FROM configs WHERE id = ?
	`, id).Scan(&cl.ID, &kind, &cl.ObjectID, &config, &attr, &descr, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrConfigNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	cl.ObjectKind = models.Kind(kind)
	cl.Description = descr.String
	cl.CreatedAt = time.Unix(createdAt, 0)
	if err := unmarshalJSON(config, &cl.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := unmarshalJSON(attr, &cl.Attr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attr: %w", err)
	}
	return &cl, nil
}

// DeleteConfigsBefore prunes the configuration history of an entity, keeping
// the configuration with id keep and everything newer.
func (s *Store) DeleteConfigsBefore(ctx context.Context, objectID string, keep int64) (int64, error) {
	result, err := s.exec(ctx, "delete_configs", `DELETE FROM configs WHERE object_id = ? AND id < ?`, objectID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune configs: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}
