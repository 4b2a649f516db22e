package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yaroslav/stackform/models"
)

// CreateBundle stores a bundle together with its archive (optional).
//
// Returns models.ErrConflict if a bundle with the same name, version and
// edition is already loaded.
func (s *Store) CreateBundle(ctx context.Context, b *models.Bundle, archive []byte) error {
	_, err := s.exec(ctx, "create_bundle", `
		INSERT INTO bundles (id, name, version, edition, archive, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.Name, b.Version, b.Edition, archive, b.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: bundle %s %s %s", models.ErrConflict, b.Name, b.Version, b.Edition)
	}
	if err != nil {
		return fmt.Errorf("failed to create bundle: %w", err)
	}
	return nil
}

// GetBundle returns a bundle by id.
func (s *Store) GetBundle(ctx context.Context, id string) (*models.Bundle, error) {
	var b models.Bundle
	var createdAt int64
	err := s.queryRow(ctx, "get_bundle", `
		SELECT id, name, version, edition, created_at FROM bundles WHERE id = ?
	`, id).Scan(&b.ID, &b.Name, &b.Version, &b.Edition, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle: %w", err)
	}
	b.CreatedAt = time.Unix(createdAt, 0)
	return &b, nil
}

// GetBundleArchive returns the archive a bundle was loaded from (nil if loaded from a bare definition).
func (s *Store) GetBundleArchive(ctx context.Context, id string) ([]byte, error) {
	var archive []byte
	err := s.queryRow(ctx, "get_bundle_archive", `SELECT archive FROM bundles WHERE id = ?`, id).Scan(&archive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle archive: %w", err)
	}
	return archive, nil
}

// ListBundles returns every bundle, optionally restricted to one lineage name.
func (s *Store) ListBundles(ctx context.Context, name string) ([]*models.Bundle, error) {
	query := `SELECT id, name, version, edition, created_at FROM bundles`
	var args []any
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY name, created_at`

	rows, err := s.query(ctx, "list_bundles", query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	var bundles []*models.Bundle
	for rows.Next() {
		var b models.Bundle
		var createdAt int64
		if err := rows.Scan(&b.ID, &b.Name, &b.Version, &b.Edition, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan bundle: %w", err)
		}
		b.CreatedAt = time.Unix(createdAt, 0)
		bundles = append(bundles, &b)
	}
	return bundles, rows.Err()
}

// DeleteBundle deletes a bundle with its prototypes and upgrades.
//
// Returns models.ErrConflict while any entity still references one of its prototypes.
func (s *Store) DeleteBundle(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "delete_bundle", `DELETE FROM bundles WHERE id = ?`, id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: bundle %s is in use", models.ErrConflict, id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete bundle: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return models.ErrBundleNotFound
	}
	return nil
}

const prototypeColumns = `id, bundle_id, type, name, version, parent_id, requires, imports, exports, allow_maintenance_mode, config`

// CreatePrototype stores a prototype.
func (s *Store) CreatePrototype(ctx context.Context, p *models.Prototype) error {
	requires, err := marshalJSON(p.Requires)
	if err != nil {
		return fmt.Errorf("failed to marshal requires: %w", err)
	}
	imports, err := marshalJSON(p.Imports)
	if err != nil {
		return fmt.Errorf("failed to marshal imports: %w", err)
	}
	exports, err := marshalJSON(p.Exports)
	if err != nil {
		return fmt.Errorf("failed to marshal exports: %w", err)
	}
	config, err := marshalJSON(p.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = s.exec(ctx, "create_prototype", `
		INSERT INTO prototypes (`+prototypeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.BundleID, string(p.Type), p.Name, p.Version, nullString(p.ParentID),
		requires, imports, exports, boolToInt(p.AllowMaintenanceMode), config)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s prototype %q", models.ErrConflict, p.Type, p.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create prototype: %w", err)
	}
	return nil
}

// GetPrototype returns a prototype by id.
func (s *Store) GetPrototype(ctx context.Context, id string) (*models.Prototype, error) {
	row := s.queryRow(ctx, "get_prototype", `SELECT `+prototypeColumns+` FROM prototypes WHERE id = ?`, id)
	p, err := scanPrototype(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPrototypeNotFound
	}
	return p, err
}

// FindPrototype returns the prototype of a bundle by type and name. Component
// prototypes are scoped by their service prototype (parentID); pass "" for
// every other type.
func (s *Store) FindPrototype(ctx context.Context, bundleID string, typ models.PrototypeType, name, parentID string) (*models.Prototype, error) {
	row := s.queryRow(ctx, "find_prototype", `
		SELECT `+prototypeColumns+` FROM prototypes
		WHERE bundle_id = ? AND type = ? AND name = ? AND IFNULL(parent_id, '') = ?
	`, bundleID, string(typ), name, parentID)
	p, err := scanPrototype(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrPrototypeNotFound
	}
	return p, err
}

// ListPrototypes returns the prototypes of a bundle, optionally filtered by type.
func (s *Store) ListPrototypes(ctx context.Context, bundleID string, typ models.PrototypeType) ([]*models.Prototype, error) {
	query := `SELECT ` + prototypeColumns + ` FROM prototypes WHERE bundle_id = ?`
	args := []any{bundleID}
	if typ != "" {
		query += ` AND type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY type, name`

	rows, err := s.query(ctx, "list_prototypes", query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prototypes: %w", err)
	}
	defer rows.Close()

	var protos []*models.Prototype
	for rows.Next() {
		p, err := scanPrototype(rows)
		if err != nil {
			return nil, err
		}
		protos = append(protos, p)
	}
	return protos, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPrototype(row scanner) (*models.Prototype, error) {
	var (
		p                          models.Prototype
		typ                        string
		parentID                   sql.NullString
		requires, imports, exports sql.NullString
		config                     sql.NullString
		allowMM                    int
	)
	err := row.Scan(&p.ID, &p.BundleID, &typ, &p.Name, &p.Version, &parentID,
		&requires, &imports, &exports, &allowMM, &config)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan prototype: %w", err)
	}

	p.Type = models.PrototypeType(typ)
	p.ParentID = parentID.String
	p.AllowMaintenanceMode = allowMM != 0
	if err := unmarshalJSON(requires, &p.Requires); err != nil {
		return nil, fmt.Errorf("failed to unmarshal requires: %w", err)
	}
	if err := unmarshalJSON(imports, &p.Imports); err != nil {
		return nil, fmt.Errorf("failed to unmarshal imports: %w", err)
	}
	if err := unmarshalJSON(exports, &p.Exports); err != nil {
		return nil, fmt.Errorf("failed to unmarshal exports: %w", err)
	}
	if err := unmarshalJSON(config, &p.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &p, nil
}

const upgradeColumns = `id, bundle_id, name, min_version, max_version, min_strict, max_strict, from_edition, state_available, state_on_success, action`

// CreateUpgrade stores an upgrade specification.
func (s *Store) CreateUpgrade(ctx context.Context, u *models.Upgrade) error {
	fromEdition, err := marshalJSON(u.FromEdition)
	if err != nil {
		return fmt.Errorf("failed to marshal from_edition: %w", err)
	}
	states, err := marshalJSON(u.StateAvailable)
	if err != nil {
		return fmt.Errorf("failed to marshal state_available: %w", err)
	}
	var action sql.NullString
	if u.Action != nil {
		if action, err = marshalJSON(u.Action); err != nil {
			return fmt.Errorf("failed to marshal action: %w", err)
		}
	}

	_, err = s.exec(ctx, "create_upgrade", `
		INSERT INTO upgrades (`+upgradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.BundleID, u.Name, u.MinVersion, u.MaxVersion, boolToInt(u.MinStrict), boolToInt(u.MaxStrict),
		fromEdition, states, nullString(u.StateOnSuccess), action)
	if err != nil {
		return fmt.Errorf("failed to create upgrade: %w", err)
	}
	return nil
}

// GetUpgrade returns an upgrade specification by id.
func (s *Store) GetUpgrade(ctx context.Context, id string) (*models.Upgrade, error) {
	row := s.queryRow(ctx, "get_upgrade", `SELECT `+upgradeColumns+` FROM upgrades WHERE id = ?`, id)
	u, err := scanUpgrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUpgradeNotFound
	}
	return u, err
}

// ListUpgradesByBundleName returns the upgrades shipped with every bundle of a lineage.
func (s *Store) ListUpgradesByBundleName(ctx context.Context, name string) ([]*models.Upgrade, error) {
	rows, err := s.query(ctx, "list_upgrades", `
		SELECT u.id, u.bundle_id, u.name, u.min_version, u.max_version, u.min_strict, u.max_strict,
		       u.from_edition, u.state_available, u.state_on_success, u.action
		FROM upgrades u
		JOIN bundles b ON b.id = u.bundle_id
		WHERE b.name = ?
		ORDER BY b.created_at, u.name
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list upgrades: %w", err)
	}
	defer rows.Close()

	var upgrades []*models.Upgrade
	for rows.Next() {
		u, err := scanUpgrade(rows)
		if err != nil {
			return nil, err
		}
		upgrades = append(upgrades, u)
	}
	return upgrades, rows.Err()
}

func scanUpgrade(row scanner) (*models.Upgrade, error) {
	var (
		u                      models.Upgrade
		minStrict, maxStrict   int
		fromEdition, states    sql.NullString
		stateOnSuccess, action sql.NullString
	)
	err := row.Scan(&u.ID, &u.BundleID, &u.Name, &u.MinVersion, &u.MaxVersion, &minStrict, &maxStrict,
		&fromEdition, &states, &stateOnSuccess, &action)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan upgrade: %w", err)
	}

	u.MinStrict = minStrict != 0
	u.MaxStrict = maxStrict != 0
	u.StateOnSuccess = stateOnSuccess.String
	if err := unmarshalJSON(fromEdition, &u.FromEdition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from_edition: %w", err)
	}
	if err := unmarshalJSON(states, &u.StateAvailable); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state_available: %w", err)
	}
	if action.Valid {
		u.Action = &models.Action{}
		if err := unmarshalJSON(action, u.Action); err != nil {
			return nil, fmt.Errorf("failed to unmarshal action: %w", err)
		}
	}
	return &u, nil
}
