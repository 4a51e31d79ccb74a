package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"gorm.io/gorm"
)

type SiteDatabaseRepo interface {
	Create(ctx context.Context, d *model.SiteDatabase) error
	GetBySiteID(ctx context.Context, siteID uuid.UUID) (*model.SiteDatabase, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.SiteDatabase, error)
}

type siteDatabaseRepo struct{ db *gorm.DB }

func NewSiteDatabaseRepo(db *gorm.DB) SiteDatabaseRepo {
	return &siteDatabaseRepo{db: db}
}

func (r *siteDatabaseRepo) Create(ctx context.Context, d *model.SiteDatabase) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *siteDatabaseRepo) GetBySiteID(ctx context.Context, siteID uuid.UUID) (*model.SiteDatabase, error) {
	var d model.SiteDatabase
	if err := r.db.WithContext(ctx).Where("site_id = ?", siteID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *siteDatabaseRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.SiteDatabase, error) {
	var dbs []*model.SiteDatabase
	return dbs, r.db.WithContext(ctx).
		Joins("JOIN sites ON sites.id = site_databases.site_id").
		Where("sites.user_id = ?", userID).
		Order("site_databases.created_at DESC").
		Limit(limit).
		Find(&dbs).Error
}
