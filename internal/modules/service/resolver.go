package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/infra/cache"
	"github.com/memodb-io/deploy-platform/internal/metrics"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"github.com/memodb-io/deploy-platform/internal/modules/repo"
	"github.com/memodb-io/deploy-platform/internal/pkg/apperr"
	"github.com/memodb-io/deploy-platform/internal/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// defaultRefScan bounds how many of a user's sites a reserved ref looks at.
const defaultRefScan = 50

// hostLookupTimeout bounds a shared hostname lookup.
const hostLookupTimeout = 5 * time.Second

// ResolvedSite is a site together with its primary domain and active
// deployment. Domain and ActiveDeployment may be nil.
type ResolvedSite struct {
	Site             *model.Site       `json:"site"`
	Domain           *model.Domain     `json:"domain,omitempty"`
	ActiveDeployment *model.Deployment `json:"active_deployment,omitempty"`
}

// Hostname is the primary hostname of the site, or "".
func (r *ResolvedSite) Hostname() string {
	if r == nil || r.Domain == nil {
		return ""
	}
	return r.Domain.Hostname
}

type ResolverService interface {
	// Resolve maps a site reference to a site owned by userID. Accepted refs:
	// "" and the reserved default names, a site id, a slug, a hostname or URL,
	// or a project name.
	Resolve(ctx context.Context, userID string, ref string) (*ResolvedSite, error)
	// ResolveHostname finds the live site bound to host with no ownership
	// scoping. The site must be active and have an active deployment.
	ResolveHostname(ctx context.Context, host string) (*ResolvedSite, error)
	// Invalidate drops any cached resolution of hostname.
	Invalidate(ctx context.Context, hostname string)
}

type resolverService struct {
	sites          repo.SiteRepo
	domains        repo.DomainRepo
	deployments    repo.DeploymentRepo
	cache          cache.Cache
	ttl            time.Duration
	platformDomain string
	group          singleflight.Group
	log            *zap.Logger
}

func NewResolverService(
	sites repo.SiteRepo,
	domains repo.DomainRepo,
	deployments repo.DeploymentRepo,
	c cache.Cache,
	ttl time.Duration,
	platformDomain string,
	log *zap.Logger,
) ResolverService {
	return &resolverService{
		sites:          sites,
		domains:        domains,
		deployments:    deployments,
		cache:          c,
		ttl:            ttl,
		platformDomain: utils.NormalizeHost(platformDomain),
		log:            log,
	}
}

func (s *resolverService) Resolve(ctx context.Context, userID string, ref string) (*ResolvedSite, error) {
	if userID == "" {
		return nil, apperr.Unauthorized("a platform user is required")
	}
	ref = strings.TrimSpace(ref)

	if utils.IsReservedRef(ref) {
		sites, err := s.sites.ListByUser(ctx, userID, defaultRefScan)
		if err != nil {
			return nil, fmt.Errorf("list sites: %w", err)
		}
		return s.pick(ctx, sites, ref)
	}

	if id, err := uuid.Parse(ref); err == nil {
		site, err := s.sites.Get(ctx, id)
		if err != nil {
			return nil, notFoundOr(err, "get site", "no site matches %q", ref)
		}
		if !site.OwnedBy(userID) {
			return nil, apperr.NotFound("no site matches %q", ref)
		}
		return s.enrich(ctx, site)
	}

	if utils.LooksLikeHost(ref) {
		site, err := s.byHost(ctx, userID, utils.NormalizeHost(ref))
		if err != nil {
			return nil, err
		}
		if site != nil {
			return s.enrich(ctx, site)
		}
		// Project names may contain dots or slashes too.
	}

	site, err := s.ownedBySlug(ctx, userID, strings.ToLower(ref))
	if err != nil {
		return nil, err
	}
	if site != nil {
		return s.enrich(ctx, site)
	}

	sites, err := s.sites.ListByUserAndProjectName(ctx, userID, ref)
	if err != nil {
		return nil, fmt.Errorf("list sites by project name: %w", err)
	}
	return s.pick(ctx, sites, ref)
}

// byHost looks the host up in domain bindings, then falls back to the slug
// label when host sits directly under the platform domain.
func (s *resolverService) byHost(ctx context.Context, userID, host string) (*model.Site, error) {
	if host == "" {
		return nil, nil
	}
	d, err := s.domains.GetByHostname(ctx, host)
	switch {
	case err == nil:
		site, err := s.sites.Get(ctx, d.SiteID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get site: %w", err)
		}
		if err == nil && site.OwnedBy(userID) {
			return site, nil
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("get domain: %w", err)
	}

	if s.platformDomain == "" {
		return nil, nil
	}
	slug, ok := strings.CutSuffix(host, "."+s.platformDomain)
	if !ok || slug == "" || strings.Contains(slug, ".") {
		return nil, nil
	}
	return s.ownedBySlug(ctx, userID, slug)
}

func (s *resolverService) ownedBySlug(ctx context.Context, userID, slug string) (*model.Site, error) {
	site, err := s.sites.GetBySlug(ctx, slug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get site by slug: %w", err)
	}
	if !site.OwnedBy(userID) {
		return nil, nil
	}
	return site, nil
}

// pick applies the tie-break: a site with an active deployment wins, then the
// most recently updated. sites must already be ordered by updated_at desc.
func (s *resolverService) pick(ctx context.Context, sites []*model.Site, ref string) (*ResolvedSite, error) {
	if len(sites) == 0 {
		if utils.IsReservedRef(ref) {
			return nil, apperr.NotFound("no sites found for user")
		}
		return nil, apperr.NotFound("no site matches %q", ref)
	}

	ids := make([]uuid.UUID, 0, len(sites))
	for _, site := range sites {
		ids = append(ids, site.ID)
	}
	active, err := s.deployments.ListActiveBySiteIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list active deployments: %w", err)
	}
	hasActive := make(map[uuid.UUID]bool, len(active))
	for _, d := range active {
		hasActive[d.SiteID] = true
	}

	chosen := sites[0]
	for _, site := range sites {
		if hasActive[site.ID] {
			chosen = site
			break
		}
	}
	return s.enrich(ctx, chosen)
}

func (s *resolverService) enrich(ctx context.Context, site *model.Site) (*ResolvedSite, error) {
	out := &ResolvedSite{Site: site}

	d, err := s.domains.GetPrimary(ctx, site.ID)
	switch {
	case err == nil:
		out.Domain = d
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("get primary domain: %w", err)
	}

	dep, err := s.deployments.GetActive(ctx, site.ID)
	switch {
	case err == nil:
		out.ActiveDeployment = dep
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("get active deployment: %w", err)
	}
	return out, nil
}

func (s *resolverService) ResolveHostname(ctx context.Context, host string) (*ResolvedSite, error) {
	host = utils.NormalizeHost(host)
	if host == "" {
		return nil, apperr.Validation("an Origin or Referer header is required")
	}

	if s.cache != nil {
		b, ok, err := s.cache.Get(ctx, hostKey(host))
		if err != nil {
			s.log.Warn("resolve cache get", zap.String("hostname", host), zap.Error(err))
		}
		if ok {
			var rs ResolvedSite
			if err := sonic.Unmarshal(b, &rs); err == nil && rs.Site != nil {
				metrics.ResolveCacheTotal.WithLabelValues("hit").Inc()
				return &rs, nil
			}
		}
		metrics.ResolveCacheTotal.WithLabelValues("miss").Inc()
	}

	v, err, _ := s.group.Do(host, func() (any, error) {
		// Waiters share this call, so it must not die with the first caller.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hostLookupTimeout)
		defer cancel()
		rs, err := s.lookupHostname(ctx, host)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.ttl > 0 {
			if b, err := sonic.Marshal(rs); err == nil {
				if err := s.cache.Set(ctx, hostKey(host), b, s.ttl); err != nil {
					s.log.Warn("resolve cache set", zap.String("hostname", host), zap.Error(err))
				}
			}
		}
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ResolvedSite), nil
}

func (s *resolverService) lookupHostname(ctx context.Context, host string) (*ResolvedSite, error) {
	d, err := s.domains.GetByHostname(ctx, host)
	if err != nil {
		return nil, notFoundOr(err, "get domain", "no site is bound to hostname %q", host)
	}
	site, err := s.sites.Get(ctx, d.SiteID)
	if err != nil {
		return nil, notFoundOr(err, "get site", "no site is bound to hostname %q", host)
	}
	if site.Status != model.SiteStatusActive {
		return nil, apperr.NotFound("site for hostname %q is not active", host)
	}
	dep, err := s.deployments.GetActive(ctx, site.ID)
	if err != nil {
		return nil, notFoundOr(err, "get active deployment", "site for hostname %q has no active deployment", host)
	}
	return &ResolvedSite{Site: site, Domain: d, ActiveDeployment: dep}, nil
}

func (s *resolverService) Invalidate(ctx context.Context, hostname string) {
	if s.cache == nil {
		return
	}
	host := utils.NormalizeHost(hostname)
	if host == "" {
		return
	}
	if err := s.cache.Delete(ctx, hostKey(host)); err != nil {
		s.log.Warn("resolve cache delete", zap.String("hostname", host), zap.Error(err))
	}
}

func hostKey(host string) string { return "host:" + host }
