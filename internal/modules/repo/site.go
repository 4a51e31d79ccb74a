package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"gorm.io/gorm"
)

type SiteRepo interface {
	Create(ctx context.Context, s *model.Site) error
	Get(ctx context.Context, siteID uuid.UUID) (*model.Site, error)
	GetBySlug(ctx context.Context, slug string) (*model.Site, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Site, error)
	ListByUserAndProjectName(ctx context.Context, userID string, projectName string) ([]*model.Site, error)
	UpdateStatus(ctx context.Context, siteID uuid.UUID, status string) error
}

type siteRepo struct{ db *gorm.DB }

func NewSiteRepo(db *gorm.DB) SiteRepo {
	return &siteRepo{db: db}
}

func (r *siteRepo) Create(ctx context.Context, s *model.Site) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *siteRepo) Get(ctx context.Context, siteID uuid.UUID) (*model.Site, error) {
	var s model.Site
	if err := r.db.WithContext(ctx).Where("id = ?", siteID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *siteRepo) GetBySlug(ctx context.Context, slug string) (*model.Site, error) {
	var s model.Site
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByUser returns the user's sites, most recently updated first.
func (r *siteRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Site, error) {
	var sites []*model.Site
	return sites, r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC").
		Limit(limit).
		Find(&sites).Error
}

// ListByUserAndProjectName matches project names case-insensitively.
func (r *siteRepo) ListByUserAndProjectName(ctx context.Context, userID string, projectName string) ([]*model.Site, error) {
	var sites []*model.Site
	return sites, r.db.WithContext(ctx).
		Where("user_id = ? AND LOWER(project_name) = LOWER(?)", userID, projectName).
		Order("updated_at DESC, id DESC").
		Find(&sites).Error
}

func (r *siteRepo) UpdateStatus(ctx context.Context, siteID uuid.UUID, status string) error {
	return r.db.WithContext(ctx).Model(&model.Site{}).
		Where("id = ?", siteID).
		Updates(map[string]any{"status": status, "updated_at": time.Now()}).Error
}
