package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/infra/httpclient"
	"github.com/memodb-io/deploy-platform/internal/metrics"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"github.com/memodb-io/deploy-platform/internal/modules/repo"
	"github.com/memodb-io/deploy-platform/internal/pkg/apperr"
	"github.com/memodb-io/deploy-platform/internal/pkg/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Token lifetimes, in the control plane's duration syntax.
const (
	rwTokenExpiration    = "90d"
	roTokenExpiration    = "90d"
	adminTokenExpiration = "365d"

	cleanupTimeout = 15 * time.Second
)

var dbNamePattern = regexp.MustCompile(`^s-[0-9a-f]{12}-[0-9a-z]{6}$`)

type DatabaseService interface {
	Provision(ctx context.Context, siteID uuid.UUID, userID string) (*ProvisionOutput, error)
	Credentials(ctx context.Context, siteID uuid.UUID, userID string) (*PublicDBInfo, error)
	PrivilegedCredentials(ctx context.Context, siteID uuid.UUID, userID string) (*PrivilegedDBInfo, error)
	// RuntimeCredentials is site scoped and does no ownership check. Only the
	// hostname resolved runtime path may call it.
	RuntimeCredentials(ctx context.Context, siteID uuid.UUID) (*RuntimeDBInfo, error)
	List(ctx context.Context, userID string, limit int) ([]*model.SiteDatabase, error)
}

type DatabaseConfig struct {
	OrgSlug string
	Group   string
}

type databaseService struct {
	sites     SiteService
	databases repo.SiteDatabaseRepo
	turso     TursoAPI
	codec     SecretCodec
	cfg       DatabaseConfig
	log       *zap.Logger
}

func NewDatabaseService(
	sites SiteService,
	databases repo.SiteDatabaseRepo,
	turso TursoAPI,
	codec SecretCodec,
	cfg DatabaseConfig,
	log *zap.Logger,
) DatabaseService {
	return &databaseService{
		sites:     sites,
		databases: databases,
		turso:     turso,
		codec:     codec,
		cfg:       cfg,
		log:       log,
	}
}

// PublicDBInfo is what ordinary application code gets: rw and ro tokens.
type PublicDBInfo struct {
	DatabaseName string `json:"database_name"`
	Hostname     string `json:"hostname"`
	URL          string `json:"url"`
	RWToken      string `json:"rw_token"`
	ROToken      string `json:"ro_token"`
}

// PrivilegedDBInfo adds the admin token and is only built on explicit opt-in.
type PrivilegedDBInfo struct {
	PublicDBInfo
	AdminToken string `json:"admin_token"`
}

// RuntimeDBInfo carries just enough to run a query.
type RuntimeDBInfo struct {
	SiteID   uuid.UUID
	Hostname string
	RWToken  string
}

type ProvisionOutput struct {
	Database      *model.SiteDatabase `json:"database"`
	AlreadyExists bool                `json:"already_exists"`
}

// DatabaseName derives a DNS safe, globally unique database name from the
// site id and a random suffix.
func DatabaseName(siteID uuid.UUID) (string, error) {
	suffix, err := utils.RandomDNSLabel(6)
	if err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}
	name := "s-" + hex.EncodeToString(siteID[:])[:12] + "-" + suffix
	if !dbNamePattern.MatchString(name) {
		return "", fmt.Errorf("generated database name %q is invalid", name)
	}
	return name, nil
}

func (s *databaseService) Provision(ctx context.Context, siteID uuid.UUID, userID string) (*ProvisionOutput, error) {
	site, err := s.sites.GetOwned(ctx, siteID, userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.databases.GetBySiteID(ctx, site.ID)
	if err == nil {
		metrics.DatabaseProvisionTotal.WithLabelValues("existing").Inc()
		return &ProvisionOutput{Database: existing, AlreadyExists: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get site database: %w", err)
	}

	out, err := s.provision(ctx, site)
	if err != nil {
		metrics.DatabaseProvisionTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if out.AlreadyExists {
		metrics.DatabaseProvisionTotal.WithLabelValues("existing").Inc()
	} else {
		metrics.DatabaseProvisionTotal.WithLabelValues("created").Inc()
	}
	return out, nil
}

// provision creates the database and its three tokens. Nothing is persisted
// unless every step succeeds; on failure the created database is removed.
func (s *databaseService) provision(ctx context.Context, site *model.Site) (*ProvisionOutput, error) {
	name, err := DatabaseName(site.ID)
	if err != nil {
		return nil, err
	}

	created, err := s.turso.CreateDatabase(ctx, name)
	if err != nil {
		s.log.Error("create turso database", zap.String("site_id", site.ID.String()), zap.String("db", name), zap.Error(err))
		return nil, apperr.Upstream("create database", err)
	}

	enc, err := s.mintTokens(ctx, created.Name)
	if err != nil {
		s.cleanup(ctx, created.Name)
		return nil, err
	}

	row := &model.SiteDatabase{
		ID:              uuid.New(),
		SiteID:          site.ID,
		TursoOrgSlug:    s.cfg.OrgSlug,
		TursoGroup:      s.cfg.Group,
		TursoDBName:     created.Name,
		TursoDBHostname: created.Hostname,
		AdminTokenEnc:   enc.admin,
		RWTokenEnc:      enc.rw,
		ROTokenEnc:      enc.ro,
	}
	if err := s.databases.Create(ctx, row); err != nil {
		s.cleanup(ctx, created.Name)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("create site database: %w", err)
		}
		// A concurrent call won the insert; hand back its row.
		winner, gerr := s.databases.GetBySiteID(ctx, site.ID)
		if gerr != nil {
			return nil, fmt.Errorf("reload site database: %w", gerr)
		}
		return &ProvisionOutput{Database: winner, AlreadyExists: true}, nil
	}
	return &ProvisionOutput{Database: row}, nil
}

type encryptedTokens struct {
	rw, ro, admin string
}

func (s *databaseService) mintTokens(ctx context.Context, dbName string) (*encryptedTokens, error) {
	specs := []struct {
		tier          string
		authorization string
		expiration    string
	}{
		{"rw", httpclient.AuthorizationFullAccess, rwTokenExpiration},
		{"ro", httpclient.AuthorizationReadOnly, roTokenExpiration},
		{"admin", httpclient.AuthorizationFullAccess, adminTokenExpiration},
	}

	sealed := make(map[string]string, len(specs))
	for _, sp := range specs {
		tok, err := s.turso.CreateToken(ctx, dbName, sp.authorization, sp.expiration)
		if err != nil {
			s.log.Error("create turso token", zap.String("db", dbName), zap.String("tier", sp.tier), zap.Error(err))
			return nil, apperr.Upstream("create database token", err)
		}
		c, err := s.codec.Encrypt(tok)
		if err != nil {
			return nil, fmt.Errorf("encrypt %s token: %w", sp.tier, err)
		}
		sealed[sp.tier] = c
	}
	return &encryptedTokens{rw: sealed["rw"], ro: sealed["ro"], admin: sealed["admin"]}, nil
}

func (s *databaseService) cleanup(ctx context.Context, name string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.turso.DeleteDatabase(cctx, name); err != nil {
		s.log.Error("delete orphaned turso database", zap.String("db", name), zap.Error(err))
	}
}

func (s *databaseService) ownedDatabase(ctx context.Context, siteID uuid.UUID, userID string) (*model.SiteDatabase, error) {
	site, err := s.sites.GetOwned(ctx, siteID, userID)
	if err != nil {
		return nil, err
	}
	db, err := s.databases.GetBySiteID(ctx, site.ID)
	if err != nil {
		return nil, notFoundOr(err, "get site database", "site %s has no database provisioned", site.ID)
	}
	return db, nil
}

func (s *databaseService) Credentials(ctx context.Context, siteID uuid.UUID, userID string) (*PublicDBInfo, error) {
	db, err := s.ownedDatabase(ctx, siteID, userID)
	if err != nil {
		return nil, err
	}
	return s.public(db)
}

func (s *databaseService) PrivilegedCredentials(ctx context.Context, siteID uuid.UUID, userID string) (*PrivilegedDBInfo, error) {
	db, err := s.ownedDatabase(ctx, siteID, userID)
	if err != nil {
		return nil, err
	}
	pub, err := s.public(db)
	if err != nil {
		return nil, err
	}
	admin, err := s.codec.Decrypt(db.AdminTokenEnc)
	if err != nil {
		return nil, err
	}
	return &PrivilegedDBInfo{PublicDBInfo: *pub, AdminToken: admin}, nil
}

func (s *databaseService) public(db *model.SiteDatabase) (*PublicDBInfo, error) {
	rw, err := s.codec.Decrypt(db.RWTokenEnc)
	if err != nil {
		return nil, err
	}
	ro, err := s.codec.Decrypt(db.ROTokenEnc)
	if err != nil {
		return nil, err
	}
	return &PublicDBInfo{
		DatabaseName: db.TursoDBName,
		Hostname:     db.TursoDBHostname,
		URL:          db.URL(),
		RWToken:      rw,
		ROToken:      ro,
	}, nil
}

func (s *databaseService) RuntimeCredentials(ctx context.Context, siteID uuid.UUID) (*RuntimeDBInfo, error) {
	db, err := s.databases.GetBySiteID(ctx, siteID)
	if err != nil {
		return nil, notFoundOr(err, "get site database", "site %s has no database provisioned", siteID)
	}
	rw, err := s.codec.Decrypt(db.RWTokenEnc)
	if err != nil {
		return nil, err
	}
	return &RuntimeDBInfo{SiteID: siteID, Hostname: db.TursoDBHostname, RWToken: rw}, nil
}

func (s *databaseService) List(ctx context.Context, userID string, limit int) ([]*model.SiteDatabase, error) {
	dbs, err := s.databases.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list site databases: %w", err)
	}
	return dbs, nil
}
