package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DomainRepo interface {
	UpsertByHostname(ctx context.Context, d *model.Domain) error
	GetByHostname(ctx context.Context, hostname string) (*model.Domain, error)
	GetPrimary(ctx context.Context, siteID uuid.UUID) (*model.Domain, error)
	ListPrimaryBySiteIDs(ctx context.Context, siteIDs []uuid.UUID) ([]*model.Domain, error)
}

type domainRepo struct{ db *gorm.DB }

func NewDomainRepo(db *gorm.DB) DomainRepo {
	return &domainRepo{db: db}
}

// UpsertByHostname inserts the binding, or on a hostname conflict hands the
// existing row over to d.SiteID. Last assignment wins.
func (r *domainRepo) UpsertByHostname(ctx context.Context, d *model.Domain) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hostname"}},
		DoUpdates: clause.AssignmentColumns([]string{"site_id", "is_primary", "updated_at"}),
	}).Create(d).Error
}

func (r *domainRepo) GetByHostname(ctx context.Context, hostname string) (*model.Domain, error) {
	var d model.Domain
	if err := r.db.WithContext(ctx).Where("hostname = ?", hostname).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *domainRepo) GetPrimary(ctx context.Context, siteID uuid.UUID) (*model.Domain, error) {
	var d model.Domain
	if err := r.db.WithContext(ctx).
		Where("site_id = ? AND is_primary = ?", siteID, true).
		Order("updated_at DESC").
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *domainRepo) ListPrimaryBySiteIDs(ctx context.Context, siteIDs []uuid.UUID) ([]*model.Domain, error) {
	var domains []*model.Domain
	if len(siteIDs) == 0 {
		return domains, nil
	}
	return domains, r.db.WithContext(ctx).
		Where("site_id IN ? AND is_primary = ?", siteIDs, true).
		Find(&domains).Error
}
