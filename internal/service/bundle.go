package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yaroslav/stackform/internal/logging"
	"github.com/yaroslav/stackform/internal/metrics"
	"github.com/yaroslav/stackform/internal/store"
	"github.com/yaroslav/stackform/models"
	"github.com/yaroslav/stackform/pkg/bundle"
)

// BundleService provides operations for loading and removing bundles.
type BundleService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewBundleService creates a new bundle service.
//
// Parameters:
//   - st: Entity store
//   - logger: Zap logger for structured logging
//
// Returns:
//   - Configured BundleService
func NewBundleService(st *store.Store, logger *zap.Logger) *BundleService {
	return &BundleService{
		store:  st,
		logger: logger,
	}
}

// Load validates a bundle archive and stores the bundle with its prototypes
// and upgrades.
//
// This function:
// 1. Validates the archive using bundle.Validate()
// 2. Parses and checks the definition
// 3. Stores bundle, prototypes and upgrades in one transaction
//
// Parameters:
//   - data: The bundle archive (tar.gz)
//
// Returns:
//   - The stored bundle
//   - models.ErrInvalidBundle if the archive or definition is invalid
//   - models.ErrConflict if the same name, version and edition is already loaded
func (s *BundleService) Load(ctx context.Context, data []byte) (*models.Bundle, error) {
	result := bundle.Validate(data)
	if !result.Valid {
		metrics.BundleOperations.WithLabelValues("load", "invalid").Inc()
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidBundle, result.Error)
	}
	def, err := bundle.Parse(result.Definition)
	if err != nil {
		metrics.BundleOperations.WithLabelValues("load", "invalid").Inc()
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidBundle, err)
	}

	pkg := def.Build(time.Now())
	err = s.store.InTx(ctx, func(tx *store.Store) error {
		if err := tx.CreateBundle(ctx, pkg.Bundle, data); err != nil {
			return err
		}
		for _, p := range pkg.Prototypes {
			if err := tx.CreatePrototype(ctx, p); err != nil {
				return err
			}
		}
		for _, up := range pkg.Upgrades {
			if err := tx.CreateUpgrade(ctx, up); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.BundleOperations.WithLabelValues("load", "error").Inc()
		return nil, err
	}
	metrics.BundleOperations.WithLabelValues("load", "success").Inc()

	s.logger.Info("bundle loaded",
		zap.String(logging.FieldBundleID, pkg.Bundle.ID),
		zap.String("name", pkg.Bundle.Name),
		zap.String("version", pkg.Bundle.Version),
		zap.String("edition", pkg.Bundle.Edition),
		zap.Int("prototypes", len(pkg.Prototypes)),
		zap.Int("upgrades", len(pkg.Upgrades)),
		zap.Int64("size_bytes", result.Size),
	)
	return pkg.Bundle, nil
}

// Get returns a bundle by id.
func (s *BundleService) Get(ctx context.Context, id string) (*models.Bundle, error) {
	return s.store.GetBundle(ctx, id)
}

// List returns every bundle, or the bundles of one lineage when name is set.
func (s *BundleService) List(ctx context.Context, name string) ([]*models.Bundle, error) {
	return s.store.ListBundles(ctx, name)
}

// Prototypes returns the prototypes of a bundle, optionally of one type.
func (s *BundleService) Prototypes(ctx context.Context, id string, typ models.PrototypeType) ([]*models.Prototype, error) {
	if _, err := s.store.GetBundle(ctx, id); err != nil {
		return nil, err
	}
	if typ != "" && !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown prototype type %q", models.ErrInvalidRequest, typ)
	}
	return s.store.ListPrototypes(ctx, id, typ)
}

// Upgrades returns the upgrades a bundle offers, whichever objects they accept.
func (s *BundleService) Upgrades(ctx context.Context, id string) ([]*models.Upgrade, error) {
	b, err := s.store.GetBundle(ctx, id)
	if err != nil {
		return nil, err
	}
	lineage, err := s.store.ListUpgradesByBundleName(ctx, b.Name)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Upgrade, 0, len(lineage))
	for _, up := range lineage {
		if up.BundleID == b.ID {
			out = append(out, up)
		}
	}
	return out, nil
}

// Archive returns the archive a bundle was loaded from.
func (s *BundleService) Archive(ctx context.Context, id string) ([]byte, error) {
	return s.store.GetBundleArchive(ctx, id)
}

// Delete removes a bundle that no entity uses.
//
// Returns models.ErrConflict while any entity still references one of its prototypes.
func (s *BundleService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteBundle(ctx, id); err != nil {
		metrics.BundleOperations.WithLabelValues("delete", "error").Inc()
		return err
	}
	metrics.BundleOperations.WithLabelValues("delete", "success").Inc()
	s.logger.Info("bundle deleted", zap.String(logging.FieldBundleID, id))
	return nil
}
