package store

import (
	"context"

	"github.com/netloom/netloom/pkg/models"
)

// ============================================
// COMPUTE OPERATIONS
// ============================================

// CreateCompute registers a new compute record.
func (s *GORMStore) CreateCompute(ctx context.Context, compute *models.ComputeRecord) error {
	return create(s.db, ctx, compute, models.ErrDuplicateCompute)
}

// GetCompute returns a compute record by its stable identifier.
func (s *GORMStore) GetCompute(ctx context.Context, computeID string) (*models.ComputeRecord, error) {
	return getByField[models.ComputeRecord](s.db, ctx, "compute_id", computeID, models.ErrComputeNotFound)
}

// ListComputes returns all registered compute records.
func (s *GORMStore) ListComputes(ctx context.Context) ([]*models.ComputeRecord, error) {
	return listAll[models.ComputeRecord](s.db, ctx)
}

// UpdateCompute persists changes to an existing compute record.
func (s *GORMStore) UpdateCompute(ctx context.Context, compute *models.ComputeRecord) error {
	result := s.db.WithContext(ctx).Model(&models.ComputeRecord{}).
		Where("compute_id = ?", compute.ComputeID).
		Updates(map[string]any{
			"name":     compute.Name,
			"protocol": compute.Protocol,
			"host":     compute.Host,
			"port":     compute.Port,
			"user":     compute.User,
			"password": compute.Password,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrComputeNotFound
	}
	return nil
}

// DeleteCompute removes a compute record.
func (s *GORMStore) DeleteCompute(ctx context.Context, computeID string) error {
	return deleteByField[models.ComputeRecord](s.db, ctx, "compute_id", computeID, models.ErrComputeNotFound)
}
