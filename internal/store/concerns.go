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

// ConcernFilter narrows ListConcerns. Zero fields are ignored.
type ConcernFilter struct {
	OwnerID string
	Kind    models.ConcernKind
	Cause   models.ConcernCause
}

// CreateConcern stores a concern. It is attached to nothing until linked.
func (s *Store) CreateConcern(ctx context.Context, c *models.Concern) error {
	_, err := s.exec(ctx, "create_concern", `
		INSERT INTO concerns (id, kind, cause, name, owner_kind, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, string(c.Kind), string(c.Cause), c.Name, string(c.Owner.Kind), c.Owner.ID, c.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create concern: %w", err)
	}
	return nil
}

// GetConcern returns a concern by id.
func (s *Store) GetConcern(ctx context.Context, id string) (*models.Concern, error) {
	row := s.queryRow(ctx, "get_concern", `
		SELECT id, kind, cause, name, owner_kind, owner_id, created_at FROM concerns WHERE id = ?
	`, id)
	c, err := scanConcern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrConcernNotFound
	}
	return c, err
}

// DeleteConcern deletes a concern; its links go with it.
func (s *Store) DeleteConcern(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "delete_concern", `DELETE FROM concerns WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete concern: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return models.ErrConcernNotFound
	}
	return nil
}

// ListConcerns returns concerns matching the filter.
func (s *Store) ListConcerns(ctx context.Context, f ConcernFilter) ([]*models.Concern, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Cause != "" {
		where = append(where, "cause = ?")
		args = append(args, string(f.Cause))
	}

	query := `SELECT id, kind, cause, name, owner_kind, owner_id, created_at FROM concerns`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	return s.listConcerns(ctx, "list_concerns", query, args...)
}

// ListAttachedConcerns returns the concerns attached to an entity, owned or inherited.
func (s *Store) ListAttachedConcerns(ctx context.Context, objectID string) ([]*models.Concern, error) {
	return s.listConcerns(ctx, "list_attached_concerns", `
		SELECT c.id, c.kind, c.cause, c.name, c.owner_kind, c.owner_id, c.created_at
		FROM concerns c
		JOIN concern_links l ON l.concern_id = c.id
		WHERE l.object_id = ?
		ORDER BY c.created_at, c.id
	`, objectID)
}

// CountAttachedConcerns counts concerns of a kind attached to an entity.
func (s *Store) CountAttachedConcerns(ctx context.Context, objectID string, kind models.ConcernKind) (int, error) {
	var n int
	err := s.queryRow(ctx, "count_attached_concerns", `
		SELECT COUNT(*)
		FROM concern_links l
		JOIN concerns c ON c.id = l.concern_id
		WHERE l.object_id = ? AND c.kind = ?
	`, objectID, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count concerns: %w", err)
	}
	return n, nil
}

// ListConcernLinks returns the ids of the entities a concern is attached to.
func (s *Store) ListConcernLinks(ctx context.Context, concernID string) ([]string, error) {
	rows, err := s.query(ctx, "list_concern_links", `
		SELECT object_id FROM concern_links WHERE concern_id = ? ORDER BY object_id
	`, concernID)
	if err != nil {
		return nil, fmt.Errorf("failed to list concern links: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan concern link: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LinkConcern attaches a concern to entities. Existing links are kept.
func (s *Store) LinkConcern(ctx context.Context, concernID string, objectIDs ...string) error {
	for _, id := range objectIDs {
		_, err := s.exec(ctx, "link_concern", `
			INSERT OR IGNORE INTO concern_links (concern_id, object_id) VALUES (?, ?)
		`, concernID, id)
		if err != nil {
			return fmt.Errorf("failed to link concern: %w", err)
		}
	}
	return nil
}

// UnlinkConcern detaches a concern from an entity. Missing links are ignored.
func (s *Store) UnlinkConcern(ctx context.Context, concernID, objectID string) error {
	_, err := s.exec(ctx, "unlink_concern", `
		DELETE FROM concern_links WHERE concern_id = ? AND object_id = ?
	`, concernID, objectID)
	if err != nil {
		return fmt.Errorf("failed to unlink concern: %w", err)
	}
	return nil
}

// ReplaceConcernLinks sets the exact set of entities a concern is attached to.
func (s *Store) ReplaceConcernLinks(ctx context.Context, concernID string, objectIDs []string) error {
	if _, err := s.exec(ctx, "replace_concern_links", `DELETE FROM concern_links WHERE concern_id = ?`, concernID); err != nil {
		return fmt.Errorf("failed to clear concern links: %w", err)
	}
	return s.LinkConcern(ctx, concernID, objectIDs...)
}

func (s *Store) listConcerns(ctx context.Context, op, query string, args ...any) ([]*models.Concern, error) {
	rows, err := s.query(ctx, op, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list concerns: %w", err)
	}
	defer rows.Close()

	var concerns []*models.Concern
	for rows.Next() {
		c, err := scanConcern(rows)
		if err != nil {
			return nil, err
		}
		concerns = append(concerns, c)
	}
	return concerns, rows.Err()
}

func scanConcern(row scanner) (*models.Concern, error) {
	var (
		c                      models.Concern
		kind, cause, ownerKind string
		createdAt              int64
	)
	err := row.Scan(&c.ID, &kind, &cause, &c.Name, &ownerKind, &c.Owner.ID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan concern: %w", err)
	}
	c.Kind = models.ConcernKind(kind)
	c.Cause = models.ConcernCause(cause)
	c.Owner.Kind = models.Kind(ownerKind)
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}
