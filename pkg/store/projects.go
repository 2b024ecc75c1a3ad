package store

import (
	"context"

	"github.com/netloom/netloom/pkg/models"
)

// ============================================
// PROJECT INDEX OPERATIONS
// ============================================

// CreateProject adds a project to the index.
func (s *GORMStore) CreateProject(ctx context.Context, project *models.ProjectRecord) error {
	return create(s.db, ctx, project, models.ErrDuplicateProject)
}

// GetProject returns an index entry by project id.
func (s *GORMStore) GetProject(ctx context.Context, projectID string) (*models.ProjectRecord, error) {
	return getByField[models.ProjectRecord](s.db, ctx, "project_id", projectID, models.ErrProjectNotFound)
}

// GetProjectByName returns an index entry by project name.
func (s *GORMStore) GetProjectByName(ctx context.Context, name string) (*models.ProjectRecord, error) {
	return getByField[models.ProjectRecord](s.db, ctx, "name", name, models.ErrProjectNotFound)
}

// ListProjects returns all indexed projects.
func (s *GORMStore) ListProjects(ctx context.Context) ([]*models.ProjectRecord, error) {
	return listAll[models.ProjectRecord](s.db, ctx)
}

// UpdateProject persists changes to an index entry.
func (s *GORMStore) UpdateProject(ctx context.Context, project *models.ProjectRecord) error {
	result := s.db.WithContext(ctx).Model(&models.ProjectRecord{}).
		Where("project_id = ?", project.ProjectID).
		Updates(map[string]any{
			"name":      project.Name,
			"path":      project.Path,
			"auto_open": project.AutoOpen,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrProjectNotFound
	}
	return nil
}

// DeleteProject removes a project from the index.
func (s *GORMStore) DeleteProject(ctx context.Context, projectID string) error {
	return deleteByField[models.ProjectRecord](s.db, ctx, "project_id", projectID, models.ErrProjectNotFound)
}
