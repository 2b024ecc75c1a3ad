// Package models defines the persisted controller entities and the domain
// sentinel errors shared across packages.
package models

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&ComputeRecord{},
		&ProjectRecord{},
		&Setting{},
	}
}
