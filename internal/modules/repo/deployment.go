package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeploymentRepo interface {
	MaxVersion(ctx context.Context, siteID uuid.UUID) (int, error)
	Create(ctx context.Context, d *model.Deployment) error
	Get(ctx context.Context, deploymentID uuid.UUID) (*model.Deployment, error)
	GetActive(ctx context.Context, siteID uuid.UUID) (*model.Deployment, error)
	ListActiveBySiteIDs(ctx context.Context, siteIDs []uuid.UUID) ([]*model.Deployment, error)
	Activate(ctx context.Context, siteID uuid.UUID, deploymentID uuid.UUID, at time.Time) error
}

type deploymentRepo struct{ db *gorm.DB }

func NewDeploymentRepo(db *gorm.DB) DeploymentRepo {
	return &deploymentRepo{db: db}
}

// MaxVersion returns the highest version allocated for the site, 0 if none.
func (r *deploymentRepo) MaxVersion(ctx context.Context, siteID uuid.UUID) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Model(&model.Deployment{}).
		Where("site_id = ?", siteID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	return max, err
}

func (r *deploymentRepo) Create(ctx context.Context, d *model.Deployment) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *deploymentRepo) Get(ctx context.Context, deploymentID uuid.UUID) (*model.Deployment, error) {
	var d model.Deployment
	if err := r.db.WithContext(ctx).Where("id = ?", deploymentID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *deploymentRepo) GetActive(ctx context.Context, siteID uuid.UUID) (*model.Deployment, error) {
	var d model.Deployment
	if err := r.db.WithContext(ctx).
		Where("site_id = ? AND status = ?", siteID, model.DeploymentStatusActive).
		Order("activated_at DESC").
		First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *deploymentRepo) ListActiveBySiteIDs(ctx context.Context, siteIDs []uuid.UUID) ([]*model.Deployment, error) {
	var deps []*model.Deployment
	if len(siteIDs) == 0 {
		return deps, nil
	}
	return deps, r.db.WithContext(ctx).
		Where("site_id IN ? AND status = ?", siteIDs, model.DeploymentStatusActive).
		Find(&deps).Error
}

// Activate makes deploymentID the single active deployment of the site and
// flips the site to active, all in one transaction.
func (r *deploymentRepo) Activate(ctx context.Context, siteID uuid.UUID, deploymentID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Row lock on the site serialises concurrent activations.
		var site model.Site
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", siteID).First(&site).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.Deployment{}).
			Where("site_id = ? AND status = ? AND id <> ?", siteID, model.DeploymentStatusActive, deploymentID).
			Update("status", model.DeploymentStatusSuperseded).Error; err != nil {
			return fmt.Errorf("demote active deployments: %w", err)
		}

		res := tx.Model(&model.Deployment{}).
			Where("id = ? AND site_id = ?", deploymentID, siteID).
			Updates(map[string]any{"status": model.DeploymentStatusActive, "activated_at": at})
		if res.Error != nil {
			return fmt.Errorf("activate deployment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Model(&model.Site{}).
			Where("id = ?", siteID).
			Updates(map[string]any{"status": model.SiteStatusActive, "updated_at": at}).Error; err != nil {
			return fmt.Errorf("activate site: %w", err)
		}
		return nil
	})
}
