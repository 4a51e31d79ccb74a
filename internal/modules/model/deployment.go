package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DeploymentStatusQueued    = "queued"
	DeploymentStatusUploading = "uploading"
	DeploymentStatusActive    = "active"
	// DeploymentStatusSuperseded marks a previously active deployment that
	// lost the active slot to a newer activation.
	DeploymentStatusSuperseded = "superseded"
)

// Deployment is one immutable, versioned snapshot of a site's files.
type Deployment struct {
	ID       uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	SiteID   uuid.UUID         `gorm:"type:uuid;not null;index;uniqueIndex:u_site_version,priority:1" json:"site_id"`
	Version  int               `gorm:"not null;uniqueIndex:u_site_version,priority:2" json:"version"`
	R2Prefix string            `gorm:"column:r2_prefix;type:text;not null" json:"r2_prefix"`
	Status   string            `gorm:"type:varchar(16);not null;default:'queued';index" json:"status"`
	Metadata datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at"`

	// Deployment <-> Site
	Site *Site `gorm:"foreignKey:SiteID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"-"`
}

func (Deployment) TableName() string { return "deployments" }
