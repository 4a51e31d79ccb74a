package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"github.com/memodb-io/deploy-platform/internal/modules/repo"
	"github.com/memodb-io/deploy-platform/internal/pkg/apperr"
	"github.com/memodb-io/deploy-platform/internal/pkg/utils"
	"gorm.io/gorm"
)

type SiteService interface {
	CreateOrGet(ctx context.Context, in CreateSiteInput) (*model.Site, error)
	// GetOwned loads a site and checks that userID owns it.
	GetOwned(ctx context.Context, siteID uuid.UUID, userID string) (*model.Site, error)
	AssignSubdomain(ctx context.Context, siteID uuid.UUID, userID string) (*model.Domain, error)
	ListProjects(ctx context.Context, userID string, limit int) ([]*ProjectSummary, error)
}

type siteService struct {
	sites          repo.SiteRepo
	domains        repo.DomainRepo
	deployments    repo.DeploymentRepo
	resolver       ResolverService
	platformDomain string
}

func NewSiteService(
	sites repo.SiteRepo,
	domains repo.DomainRepo,
	deployments repo.DeploymentRepo,
	resolver ResolverService,
	platformDomain string,
) SiteService {
	return &siteService{
		sites:          sites,
		domains:        domains,
		deployments:    deployments,
		resolver:       resolver,
		platformDomain: utils.NormalizeHost(platformDomain),
	}
}

type CreateSiteInput struct {
	SiteID      uuid.UUID
	UserID      string
	ProjectName string
	Slug        string
}

func (s *siteService) CreateOrGet(ctx context.Context, in CreateSiteInput) (*model.Site, error) {
	if in.UserID == "" {
		return nil, apperr.Unauthorized("a platform user is required")
	}
	if in.SiteID == uuid.Nil {
		in.SiteID = uuid.New()
	}

	existing, err := s.sites.Get(ctx, in.SiteID)
	if err == nil {
		if !existing.OwnedBy(in.UserID) {
			return nil, apperr.Unauthorized("site %s is not owned by caller", in.SiteID)
		}
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get site: %w", err)
	}

	slug := strings.TrimSpace(in.Slug)
	if err := utils.ValidateSlug(slug); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	name := strings.TrimSpace(in.ProjectName)
	if name == "" {
		name = slug
	}

	site := &model.Site{
		ID:          in.SiteID,
		UserID:      in.UserID,
		ProjectName: name,
		Slug:        slug,
		Status:      model.SiteStatusDraft,
	}
	if err := s.sites.Create(ctx, site); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("create site: %w", err)
		}
		// Lost a race on the id, or the slug belongs to another site.
		if raced, gerr := s.sites.Get(ctx, in.SiteID); gerr == nil {
			if !raced.OwnedBy(in.UserID) {
				return nil, apperr.Unauthorized("site %s is not owned by caller", in.SiteID)
			}
			return raced, nil
		}
		return nil, apperr.Validation("slug %q is already taken", slug)
	}
	return site, nil
}

func (s *siteService) GetOwned(ctx context.Context, siteID uuid.UUID, userID string) (*model.Site, error) {
	if siteID == uuid.Nil {
		return nil, apperr.Validation("site_id is required")
	}
	site, err := s.sites.Get(ctx, siteID)
	if err != nil {
		return nil, notFoundOr(err, "get site", "site %s not found", siteID)
	}
	if !site.OwnedBy(userID) {
		return nil, apperr.Unauthorized("site %s is not owned by caller", siteID)
	}
	return site, nil
}

// AssignSubdomain binds {slug}.{platform domain} to the site. An existing
// binding of that hostname is handed over to this site.
func (s *siteService) AssignSubdomain(ctx context.Context, siteID uuid.UUID, userID string) (*model.Domain, error) {
	site, err := s.GetOwned(ctx, siteID, userID)
	if err != nil {
		return nil, err
	}
	if s.platformDomain == "" {
		return nil, errors.New("platform domain is not configured")
	}

	now := time.Now().UTC()
	d := &model.Domain{
		ID:        uuid.New(),
		Hostname:  site.Slug + "." + s.platformDomain,
		SiteID:    site.ID,
		IsPrimary: true,
		SSLStatus: model.SSLStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.domains.UpsertByHostname(ctx, d); err != nil {
		return nil, fmt.Errorf("upsert domain: %w", err)
	}
	s.resolver.Invalidate(ctx, d.Hostname)
	return d, nil
}

// ProjectSummary is one row of the caller's project listing.
type ProjectSummary struct {
	Site             *model.Site       `json:"site"`
	Hostname         string            `json:"hostname,omitempty"`
	URL              string            `json:"url,omitempty"`
	ActiveDeployment *model.Deployment `json:"active_deployment,omitempty"`
}

func (s *siteService) ListProjects(ctx context.Context, userID string, limit int) ([]*ProjectSummary, error) {
	sites, err := s.sites.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(sites))
	for _, site := range sites {
		ids = append(ids, site.ID)
	}
	domains, err := s.domains.ListPrimaryBySiteIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	active, err := s.deployments.ListActiveBySiteIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list active deployments: %w", err)
	}

	hostBySite := make(map[uuid.UUID]string, len(domains))
	for _, d := range domains {
		hostBySite[d.SiteID] = d.Hostname
	}
	depBySite := make(map[uuid.UUID]*model.Deployment, len(active))
	for _, d := range active {
		if cur, ok := depBySite[d.SiteID]; ok && cur.Version > d.Version {
			continue
		}
		depBySite[d.SiteID] = d
	}

	out := make([]*ProjectSummary, 0, len(sites))
	for _, site := range sites {
		p := &ProjectSummary{Site: site, ActiveDeployment: depBySite[site.ID]}
		if h := hostBySite[site.ID]; h != "" {
			p.Hostname = h
			p.URL = "https://" + h
		}
		out = append(out, p)
	}
	return out, nil
}
