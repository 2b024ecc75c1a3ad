package models

import "time"

// ProjectRecord is the controller's index entry for a project.
//
// The full topology lives in the project.gns3 file inside the project
// directory; the index only carries what the controller needs before the
// project is opened (discovery, auto_open, display in listings).
type ProjectRecord struct {
	ProjectID string `gorm:"primaryKey;size:36" json:"project_id"`
	Name      string `gorm:"size:255;uniqueIndex" json:"name"`

	// Path is the absolute project directory on the controller host.
	Path string `gorm:"size:1024" json:"path"`

	AutoOpen bool `json:"auto_open"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for ProjectRecord.
func (ProjectRecord) TableName() string {
	return "projects"
}
