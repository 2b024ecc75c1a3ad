package models

import "time"

// ComputeRecord is the persisted registration of a compute agent.
//
// Live state (connected flag, capabilities, usage telemetry) belongs to the
// compute proxy; only what is needed to re-create the proxy after a controller
// restart is stored here.
type ComputeRecord struct {
	// ComputeID is a stable identifier chosen at registration.
	// "local" is reserved for the compute running next to the controller.
	ComputeID string `gorm:"primaryKey;size:64" json:"compute_id"`

	// Name is the display name, defaulting to protocol://host:port.
	Name string `gorm:"size:255" json:"name"`

	Protocol string `gorm:"size:8" json:"protocol"`
	Host     string `gorm:"size:255" json:"host"`
	Port     int    `json:"port"`

	// User and Password are HTTP basic auth credentials towards the compute.
	// Password is never serialized back to API clients.
	User     string `gorm:"size:255" json:"user,omitempty"`
	Password string `gorm:"size:255" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for ComputeRecord.
func (ComputeRecord) TableName() string {
	return "computes"
}
