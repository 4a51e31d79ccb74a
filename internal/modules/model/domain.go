package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	SSLStatusPending = "pending"
	SSLStatusActive  = "active"
)

// Domain binds a globally unique hostname to a site.
type Domain struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Hostname  string    `gorm:"type:text;uniqueIndex;not null" json:"hostname"`
	SiteID    uuid.UUID `gorm:"type:uuid;not null;index" json:"site_id"`
	IsPrimary bool      `gorm:"not null;default:false" json:"is_primary"`
	SSLStatus string    `gorm:"column:ssl_status;type:varchar(16);not null;default:'pending'" json:"ssl_status"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Domain <-> Site
	Site *Site `gorm:"foreignKey:SiteID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"-"`
}

func (Domain) TableName() string { return "domains" }
