package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/metrics"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"github.com/memodb-io/deploy-platform/internal/modules/repo"
	"github.com/memodb-io/deploy-platform/internal/pkg/apperr"
	"github.com/memodb-io/deploy-platform/internal/pkg/utils"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// versionAttempts bounds retries when a concurrent upload takes the
	// same (site_id, version).
	versionAttempts  = 5
	manifestAttempts = 3

	EventDeploymentActivated = "deployment.activated"
)

type DeploymentService interface {
	UploadSiteFiles(ctx context.Context, in UploadSiteFilesInput) (*UploadSiteFilesOutput, error)
	ActivateDeployment(ctx context.Context, siteID uuid.UUID, userID string, deploymentID uuid.UUID) (*ActivateOutput, error)
	UpsertSiteManifest(ctx context.Context, siteID uuid.UUID, userID string, deploymentID uuid.UUID) (*ManifestRecord, error)
}

type DeploymentConfig struct {
	SitesPrefix      string
	ManifestPrefix   string
	PublicAPIBaseURL string
}

type deploymentService struct {
	sites       SiteService
	resolver    ResolverService
	deployments repo.DeploymentRepo
	domains     repo.DomainRepo
	databases   repo.SiteDatabaseRepo
	store       ObjectStore
	events      EventPublisher
	cfg         DeploymentConfig
	log         *zap.Logger
}

func NewDeploymentService(
	sites SiteService,
	resolver ResolverService,
	deployments repo.DeploymentRepo,
	domains repo.DomainRepo,
	databases repo.SiteDatabaseRepo,
	store ObjectStore,
	events EventPublisher,
	cfg DeploymentConfig,
	log *zap.Logger,
) DeploymentService {
	if cfg.SitesPrefix == "" {
		cfg.SitesPrefix = "sites"
	}
	if cfg.ManifestPrefix == "" {
		cfg.ManifestPrefix = "manifests"
	}
	return &deploymentService{
		sites:       sites,
		resolver:    resolver,
		deployments: deployments,
		domains:     domains,
		databases:   databases,
		store:       store,
		events:      events,
		cfg:         cfg,
		log:         log,
	}
}

// SiteFile is one file of an upload. Exactly one of Content (text) and
// ContentBase64 (binary) is set.
type SiteFile struct {
	Path          string  `json:"path"`
	Content       *string `json:"content,omitempty"`
	ContentBase64 *string `json:"content_base64,omitempty"`
	ContentType   string  `json:"content_type,omitempty"`
}

type UploadSiteFilesInput struct {
	SiteID uuid.UUID
	UserID string
	Files  []SiteFile
}

type UploadSiteFilesOutput struct {
	DeploymentID  uuid.UUID `json:"deployment_id"`
	Version       int       `json:"version"`
	R2Prefix      string    `json:"r2_prefix"`
	FilesUploaded int       `json:"files_uploaded"`
}

type preparedFile struct {
	path        string
	body        []byte
	contentType string
}

func (s *deploymentService) UploadSiteFiles(ctx context.Context, in UploadSiteFilesInput) (*UploadSiteFilesOutput, error) {
	site, err := s.sites.GetOwned(ctx, in.SiteID, in.UserID)
	if err != nil {
		return nil, err
	}
	if len(in.Files) == 0 {
		return nil, apperr.Validation("files must not be empty")
	}

	files, err := prepareFiles(in.Files)
	if err != nil {
		return nil, err
	}

	deploymentID := uuid.New()
	prefix := fmt.Sprintf("%s/%s/deployments/%s", s.cfg.SitesPrefix, site.ID, deploymentID)

	for _, f := range files {
		key := prefix + "/" + f.path
		if _, err := s.store.PutObject(ctx, key, f.body, f.contentType, nil); err != nil {
			s.log.Error("upload site file",
				zap.String("site_id", site.ID.String()),
				zap.String("key", key),
				zap.Error(err))
			return nil, apperr.Upstream("upload site files", err)
		}
	}
	metrics.FilesUploadedTotal.Add(float64(len(files)))

	d, err := s.insertNextVersion(ctx, site.ID, deploymentID, prefix, len(files))
	if err != nil {
		return nil, err
	}

	return &UploadSiteFilesOutput{
		DeploymentID:  d.ID,
		Version:       d.Version,
		R2Prefix:      d.R2Prefix,
		FilesUploaded: len(files),
	}, nil
}

// insertNextVersion allocates max+1 and retries when the unique
// (site_id, version) index reports a concurrent winner.
func (s *deploymentService) insertNextVersion(ctx context.Context, siteID, deploymentID uuid.UUID, prefix string, fileCount int) (*model.Deployment, error) {
	var lastErr error
	for attempt := 0; attempt < versionAttempts; attempt++ {
		max, err := s.deployments.MaxVersion(ctx, siteID)
		if err != nil {
			return nil, fmt.Errorf("max version: %w", err)
		}
		d := &model.Deployment{
			ID:       deploymentID,
			SiteID:   siteID,
			Version:  max + 1,
			R2Prefix: prefix,
			Status:   model.DeploymentStatusUploading,
			Metadata: datatypes.JSONMap{"file_count": fileCount},
		}
		err = s.deployments.Create(ctx, d)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("create deployment: %w", err)
		}
		lastErr = err
		s.log.Debug("deployment version taken, retrying",
			zap.String("site_id", siteID.String()),
			zap.Int("version", d.Version))
	}
	return nil, fmt.Errorf("allocate deployment version: %w", lastErr)
}

func prepareFiles(in []SiteFile) ([]preparedFile, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]preparedFile, 0, len(in))
	for i, f := range in {
		p, err := utils.CleanRelPath(f.Path)
		if err != nil {
			return nil, apperr.Validation("files[%d]: %s", i, err.Error())
		}
		if _, dup := seen[p]; dup {
			return nil, apperr.Validation("files[%d]: duplicate path %q", i, p)
		}
		seen[p] = struct{}{}

		var body []byte
		switch {
		case f.Content != nil && f.ContentBase64 != nil:
			return nil, apperr.Validation("files[%d]: set only one of content and content_base64", i)
		case f.ContentBase64 != nil:
			body, err = base64.StdEncoding.DecodeString(strings.TrimSpace(*f.ContentBase64))
			if err != nil {
				return nil, apperr.Validation("files[%d]: content_base64 is not valid base64", i)
			}
		case f.Content != nil:
			body = []byte(*f.Content)
		default:
			return nil, apperr.Validation("files[%d]: content or content_base64 is required", i)
		}

		out = append(out, preparedFile{path: p, body: body, contentType: detectContentType(p, f.ContentType, body)})
	}
	return out, nil
}

// detectContentType prefers the declared type, then the extension, then
// content sniffing.
func detectContentType(p, declared string, body []byte) string {
	if ct := strings.TrimSpace(declared); ct != "" {
		return ct
	}
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return mimetype.Detect(body).String()
}

type ActivateOutput struct {
	Manifest   *Manifest         `json:"manifest"`
	URL        string            `json:"url"`
	Active     bool              `json:"active"`
	Deployment *model.Deployment `json:"deployment"`
}

func (s *deploymentService) ActivateDeployment(ctx context.Context, siteID uuid.UUID, userID string, deploymentID uuid.UUID) (*ActivateOutput, error) {
	site, dep, err := s.ownedDeployment(ctx, siteID, userID, deploymentID)
	if err != nil {
		return nil, err
	}

	objects, err := s.store.ListObjects(ctx, dep.R2Prefix+"/")
	if err != nil {
		return nil, apperr.Upstream("list deployment files", err)
	}
	if len(objects) == 0 {
		return nil, apperr.Validation("deployment %s has no uploaded files", dep.ID)
	}

	now := time.Now().UTC()
	if err := s.deployments.Activate(ctx, site.ID, dep.ID, now); err != nil {
		return nil, notFoundOr(err, "activate deployment", "deployment %s not found", dep.ID)
	}
	dep.Status = model.DeploymentStatusActive
	dep.ActivatedAt = &now

	hostname, err := s.ensurePrimaryHostname(ctx, site.ID, userID)
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate(ctx, hostname)

	rec, err := s.UpsertSiteManifest(ctx, site.ID, userID, dep.ID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventDeploymentActivated, map[string]any{
		"site_id":       site.ID,
		"slug":          site.Slug,
		"deployment_id": dep.ID,
		"version":       dep.Version,
		"hostname":      hostname,
		"activated_at":  now,
	})

	return &ActivateOutput{
		Manifest:   rec.Manifest,
		URL:        "https://" + hostname,
		Active:     true,
		Deployment: dep,
	}, nil
}

func (s *deploymentService) ensurePrimaryHostname(ctx context.Context, siteID uuid.UUID, userID string) (string, error) {
	d, err := s.domains.GetPrimary(ctx, siteID)
	if err == nil {
		return d.Hostname, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("get primary domain: %w", err)
	}
	d, err = s.sites.AssignSubdomain(ctx, siteID, userID)
	if err != nil {
		return "", err
	}
	return d.Hostname, nil
}

func (s *deploymentService) ownedDeployment(ctx context.Context, siteID uuid.UUID, userID string, deploymentID uuid.UUID) (*model.Site, *model.Deployment, error) {
	site, err := s.sites.GetOwned(ctx, siteID, userID)
	if err != nil {
		return nil, nil, err
	}
	if deploymentID == uuid.Nil {
		return nil, nil, apperr.Validation("deployment_id is required")
	}
	dep, err := s.deployments.Get(ctx, deploymentID)
	if err != nil {
		return nil, nil, notFoundOr(err, "get deployment", "deployment %s not found", deploymentID)
	}
	if dep.SiteID != site.ID {
		return nil, nil, apperr.NotFound("deployment %s does not belong to site %s", deploymentID, site.ID)
	}
	return site, dep, nil
}

// Manifest is the per-slug descriptor read by the edge router.
type Manifest struct {
	SiteID       uuid.UUID   `json:"site_id"`
	Slug         string      `json:"slug"`
	DeploymentID uuid.UUID   `json:"deployment_id"`
	R2Prefix     string      `json:"r2_prefix"`
	DB           *ManifestDB `json:"db"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type ManifestDB struct {
	URL                  string `json:"url"`
	Hostname             string `json:"hostname"`
	DatabaseName         string `json:"database_name"`
	RuntimeQueryEndpoint string `json:"runtime_query_endpoint"`
}

type ManifestRecord struct {
	Key      string    `json:"key"`
	SHA256   string    `json:"sha256"`
	Manifest *Manifest `json:"manifest"`
}

func (s *deploymentService) UpsertSiteManifest(ctx context.Context, siteID uuid.UUID, userID string, deploymentID uuid.UUID) (*ManifestRecord, error) {
	site, dep, err := s.ownedDeployment(ctx, siteID, userID, deploymentID)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		SiteID:       site.ID,
		Slug:         site.Slug,
		DeploymentID: dep.ID,
		R2Prefix:     dep.R2Prefix,
		UpdatedAt:    time.Now().UTC(),
	}

	db, err := s.databases.GetBySiteID(ctx, site.ID)
	switch {
	case err == nil:
		m.DB = &ManifestDB{
			URL:                  db.URL(),
			Hostname:             db.TursoDBHostname,
			DatabaseName:         db.TursoDBName,
			RuntimeQueryEndpoint: s.runtimeQueryEndpoint(),
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("get site database: %w", err)
	}

	key := s.cfg.ManifestPrefix + "/" + site.Slug + ".json"
	var sum string
	write := func() error {
		meta, err := s.store.UploadJSON(ctx, key, m)
		if err != nil {
			s.log.Warn("write manifest", zap.String("key", key), zap.Error(err))
			return err
		}
		sum = meta.SHA256
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, manifestAttempts-1), ctx)
	if err := backoff.Retry(write, policy); err != nil {
		return nil, apperr.Upstream("write manifest", err)
	}

	return &ManifestRecord{Key: key, SHA256: sum, Manifest: m}, nil
}

func (s *deploymentService) runtimeQueryEndpoint() string {
	base := strings.TrimRight(s.cfg.PublicAPIBaseURL, "/")
	return base + "/deploy/runtime/query"
}

func (s *deploymentService) publish(ctx context.Context, routingKey string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(ctx, routingKey, data); err != nil {
		s.log.Warn("publish deploy event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}
