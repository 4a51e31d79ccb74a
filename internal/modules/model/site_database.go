package model

import (
	"time"

	"github.com/google/uuid"
)

// SiteDatabase is the isolated libSQL database provisioned for one site.
// Token columns hold secrets.Codec ciphertexts, never plaintext.
type SiteDatabase struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	SiteID          uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"site_id"`
	TursoOrgSlug    string    `gorm:"type:text;not null" json:"turso_org_slug"`
	TursoGroup      string    `gorm:"type:text;not null" json:"turso_group"`
	TursoDBName     string    `gorm:"column:turso_db_name;type:varchar(64);uniqueIndex;not null" json:"turso_db_name"`
	TursoDBHostname string    `gorm:"column:turso_db_hostname;type:text;not null" json:"turso_db_hostname"`

	AdminTokenEnc string `gorm:"column:admin_token_enc;type:text;not null" json:"-"`
	RWTokenEnc    string `gorm:"column:rw_token_enc;type:text;not null" json:"-"`
	ROTokenEnc    string `gorm:"column:ro_token_enc;type:text;not null" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// SiteDatabase <-> Site
	Site *Site `gorm:"foreignKey:SiteID;references:ID;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;" json:"-"`
}

func (SiteDatabase) TableName() string { return "site_databases" }

// URL is the libsql:// connection URL of the database.
func (d *SiteDatabase) URL() string {
	return "libsql://" + d.TursoDBHostname
}
