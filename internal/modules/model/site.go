package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	SiteStatusDraft  = "draft"
	SiteStatusActive = "active"
)

// Site is one tenant application, owned by exactly one platform user.
type Site struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string    `gorm:"type:text;not null;index" json:"user_id"`
	ProjectName string    `gorm:"type:text;not null;default:''" json:"project_name"`
	Slug        string    `gorm:"type:varchar(63);uniqueIndex;not null" json:"slug"`
	Status      string    `gorm:"type:varchar(16);not null;default:'draft'" json:"status"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updated_at"`

	// Site <-> Domain
	Domains []Domain `gorm:"constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"-"`

	// Site <-> Deployment
	Deployments []Deployment `gorm:"constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"-"`
}

func (Site) TableName() string { return "sites" }

// OwnedBy reports whether userID owns the site.
func (s *Site) OwnedBy(userID string) bool {
	return s != nil && userID != "" && s.UserID == userID
}
