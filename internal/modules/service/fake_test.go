package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/infra/blob"
	"github.com/memodb-io/deploy-platform/internal/infra/cache"
	"github.com/memodb-io/deploy-platform/internal/infra/httpclient"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"github.com/memodb-io/deploy-platform/internal/pkg/utils/secrets"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testPlatformDomain = "sites.example.com"

// memDB is an in-memory stand-in for the four metadata tables. Unique
// constraints mirror the postgres schema and report gorm.ErrDuplicatedKey.
type memDB struct {
	mu          sync.Mutex
	clock       time.Time
	sites       map[uuid.UUID]*model.Site
	domains     map[string]*model.Domain
	deployments map[uuid.UUID]*model.Deployment
	databases   map[uuid.UUID]*model.SiteDatabase
}

func newMemDB() *memDB {
	return &memDB{
		clock:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		sites:       map[uuid.UUID]*model.Site{},
		domains:     map[string]*model.Domain{},
		deployments: map[uuid.UUID]*model.Deployment{},
		databases:   map[uuid.UUID]*model.SiteDatabase{},
	}
}

// tick returns a strictly increasing timestamp so updated_at ordering is
// deterministic.
func (m *memDB) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

type memSiteRepo struct{ db *memDB }

func (r *memSiteRepo) Create(_ context.Context, s *model.Site) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sites[s.ID]; ok {
		return gorm.ErrDuplicatedKey
	}
	for _, o := range r.db.sites {
		if o.Slug == s.Slug {
			return gorm.ErrDuplicatedKey
		}
	}
	now := r.db.tick()
	s.CreatedAt, s.UpdatedAt = now, now
	c := *s
	r.db.sites[s.ID] = &c
	return nil
}

func (r *memSiteRepo) Get(_ context.Context, id uuid.UUID) (*model.Site, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sites[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *s
	return &c, nil
}

func (r *memSiteRepo) GetBySlug(_ context.Context, slug string) (*model.Site, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.sites {
		if s.Slug == slug {
			c := *s
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memSiteRepo) list(match func(*model.Site) bool, limit int) []*model.Site {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []*model.Site{}
	for _, s := range r.db.sites {
		if match(s) {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *memSiteRepo) ListByUser(_ context.Context, userID string, limit int) ([]*model.Site, error) {
	return r.list(func(s *model.Site) bool { return s.UserID == userID }, limit), nil
}

func (r *memSiteRepo) ListByUserAndProjectName(_ context.Context, userID string, name string) ([]*model.Site, error) {
	return r.list(func(s *model.Site) bool {
		return s.UserID == userID && strings.EqualFold(s.ProjectName, name)
	}, 0), nil
}

func (r *memSiteRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if s, ok := r.db.sites[id]; ok {
		s.Status = status
		s.UpdatedAt = r.db.tick()
	}
	return nil
}

type memDomainRepo struct{ db *memDB }

func (r *memDomainRepo) UpsertByHostname(_ context.Context, d *model.Domain) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.tick()
	if cur, ok := r.db.domains[d.Hostname]; ok {
		cur.SiteID = d.SiteID
		cur.IsPrimary = d.IsPrimary
		cur.UpdatedAt = now
		return nil
	}
	c := *d
	c.UpdatedAt = now
	r.db.domains[d.Hostname] = &c
	return nil
}

func (r *memDomainRepo) GetByHostname(_ context.Context, hostname string) (*model.Domain, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.domains[hostname]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *d
	return &c, nil
}

func (r *memDomainRepo) GetPrimary(_ context.Context, siteID uuid.UUID) (*model.Domain, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var best *model.Domain
	for _, d := range r.db.domains {
		if d.SiteID == siteID && d.IsPrimary && (best == nil || d.UpdatedAt.After(best.UpdatedAt)) {
			best = d
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	c := *best
	return &c, nil
}

func (r *memDomainRepo) ListPrimaryBySiteIDs(_ context.Context, ids []uuid.UUID) ([]*model.Domain, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := []*model.Domain{}
	for _, d := range r.db.domains {
		if want[d.SiteID] && d.IsPrimary {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

type memDeploymentRepo struct{ db *memDB }

func (r *memDeploymentRepo) MaxVersion(_ context.Context, siteID uuid.UUID) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	max := 0
	for _, d := range r.db.deployments {
		if d.SiteID == siteID && d.Version > max {
			max = d.Version
		}
	}
	return max, nil
}

func (r *memDeploymentRepo) Create(_ context.Context, d *model.Deployment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, o := range r.db.deployments {
		if o.ID == d.ID || (o.SiteID == d.SiteID && o.Version == d.Version) {
			return gorm.ErrDuplicatedKey
		}
	}
	d.CreatedAt = r.db.tick()
	c := *d
	r.db.deployments[d.ID] = &c
	return nil
}

func (r *memDeploymentRepo) Get(_ context.Context, id uuid.UUID) (*model.Deployment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.deployments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *d
	return &c, nil
}

func (r *memDeploymentRepo) GetActive(_ context.Context, siteID uuid.UUID) (*model.Deployment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, d := range r.db.deployments {
		if d.SiteID == siteID && d.Status == model.DeploymentStatusActive {
			c := *d
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memDeploymentRepo) ListActiveBySiteIDs(_ context.Context, ids []uuid.UUID) ([]*model.Deployment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := []*model.Deployment{}
	for _, d := range r.db.deployments {
		if want[d.SiteID] && d.Status == model.DeploymentStatusActive {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memDeploymentRepo) Activate(_ context.Context, siteID, deploymentID uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	site, ok := r.db.sites[siteID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	target, ok := r.db.deployments[deploymentID]
	if !ok || target.SiteID != siteID {
		return gorm.ErrRecordNotFound
	}
	for _, d := range r.db.deployments {
		if d.SiteID == siteID && d.ID != deploymentID && d.Status == model.DeploymentStatusActive {
			d.Status = model.DeploymentStatusSuperseded
		}
	}
	target.Status = model.DeploymentStatusActive
	target.ActivatedAt = &at
	site.Status = model.SiteStatusActive
	site.UpdatedAt = r.db.tick()
	return nil
}

type memSiteDatabaseRepo struct{ db *memDB }

func (r *memSiteDatabaseRepo) Create(_ context.Context, d *model.SiteDatabase) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.databases[d.SiteID]; ok {
		return gorm.ErrDuplicatedKey
	}
	c := *d
	r.db.databases[d.SiteID] = &c
	return nil
}

func (r *memSiteDatabaseRepo) GetBySiteID(_ context.Context, siteID uuid.UUID) (*model.SiteDatabase, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.databases[siteID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	c := *d
	return &c, nil
}

func (r *memSiteDatabaseRepo) ListByUser(_ context.Context, userID string, limit int) ([]*model.SiteDatabase, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []*model.SiteDatabase{}
	for siteID, d := range r.db.databases {
		if s, ok := r.db.sites[siteID]; ok && s.UserID == userID {
			c := *d
			out = append(out, &c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memObjectStore records every write.
type memObjectStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	types      map[string]string
	putErr     error
	jsonFails  int
	jsonWrites int
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memObjectStore) PutObject(_ context.Context, key string, body []byte, contentType string, _ map[string]string) (*blob.UploadedMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return nil, s.putErr
	}
	s.objects[key] = body
	s.types[key] = contentType
	return &blob.UploadedMeta{Key: key, MIME: contentType, SizeB: int64(len(body))}, nil
}

func (s *memObjectStore) UploadJSON(_ context.Context, key string, data interface{}) (*blob.UploadedMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jsonWrites++
	if s.jsonFails > 0 {
		s.jsonFails--
		return nil, context.DeadlineExceeded
	}
	s.objects[key] = []byte("json")
	return &blob.UploadedMeta{Key: key, MIME: "application/json", SHA256: "deadbeef"}, nil
}

func (s *memObjectStore) ListObjects(_ context.Context, prefix string) ([]blob.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []blob.ObjectInfo
	for k, v := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, blob.ObjectInfo{Key: k, SizeB: int64(len(v))})
		}
	}
	return out, nil
}

func (s *memObjectStore) count(prefix string) int {
	objs, _ := s.ListObjects(context.Background(), prefix)
	return len(objs)
}

// MockTursoAPI is a mock implementation of TursoAPI
type MockTursoAPI struct {
	mock.Mock
}

func (m *MockTursoAPI) CreateDatabase(ctx context.Context, name string) (*httpclient.TursoDatabase, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if fn, ok := args.Get(0).(func(context.Context, string) *httpclient.TursoDatabase); ok {
		return fn(ctx, name), args.Error(1)
	}
	return args.Get(0).(*httpclient.TursoDatabase), args.Error(1)
}

func (m *MockTursoAPI) CreateToken(ctx context.Context, dbName, authorization, expiration string) (string, error) {
	args := m.Called(ctx, dbName, authorization, expiration)
	return args.String(0), args.Error(1)
}

func (m *MockTursoAPI) DeleteDatabase(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// expectProvision wires a successful create + three tokens.
func (m *MockTursoAPI) expectProvision() {
	m.On("CreateDatabase", mock.Anything, mock.AnythingOfType("string")).Return(
		func(_ context.Context, name string) *httpclient.TursoDatabase {
			return &httpclient.TursoDatabase{Name: name, Hostname: name + "-acme.turso.io"}
		}, nil).Once()
	m.On("CreateToken", mock.Anything, mock.Anything, httpclient.AuthorizationFullAccess, "90d").Return("tok-rw", nil).Once()
	m.On("CreateToken", mock.Anything, mock.Anything, httpclient.AuthorizationReadOnly, "90d").Return("tok-ro", nil).Once()
	m.On("CreateToken", mock.Anything, mock.Anything, httpclient.AuthorizationFullAccess, "365d").Return("tok-admin", nil).Once()
}

// MockPipeline is a mock implementation of PipelineExecutor
type MockPipeline struct {
	mock.Mock
}

func (m *MockPipeline) Execute(ctx context.Context, hostname, token string, stmt httpclient.Statement) (any, error) {
	args := m.Called(ctx, hostname, token, stmt)
	return args.Get(0), args.Error(1)
}

// testEnv wires every service over memDB.
type testEnv struct {
	db        *memDB
	store     *memObjectStore
	turso     *MockTursoAPI
	pipeline  *MockPipeline
	cache     *cache.MemoryCache
	codec     *secrets.Codec
	resolver  ResolverService
	sites     SiteService
	deploys   DeploymentService
	databases DatabaseService
	runtime   RuntimeService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	codec, err := secrets.NewCodec(key)
	require.NoError(t, err)

	log := zap.NewNop()
	mdb := newMemDB()
	siteRepo := &memSiteRepo{db: mdb}
	domainRepo := &memDomainRepo{db: mdb}
	depRepo := &memDeploymentRepo{db: mdb}
	dbRepo := &memSiteDatabaseRepo{db: mdb}

	env := &testEnv{
		db:       mdb,
		store:    newMemObjectStore(),
		turso:    &MockTursoAPI{},
		pipeline: &MockPipeline{},
		cache:    cache.NewMemoryCache(),
		codec:    codec,
	}
	env.resolver = NewResolverService(siteRepo, domainRepo, depRepo, env.cache, 15*time.Second, testPlatformDomain, log)
	env.sites = NewSiteService(siteRepo, domainRepo, depRepo, env.resolver, testPlatformDomain)
	env.deploys = NewDeploymentService(env.sites, env.resolver, depRepo, domainRepo, dbRepo, env.store, nil, DeploymentConfig{
		PublicAPIBaseURL: "https://api.example.com/",
	}, log)
	env.databases = NewDatabaseService(env.sites, dbRepo, env.turso, codec, DatabaseConfig{OrgSlug: "acme", Group: "default"}, log)
	env.runtime = NewRuntimeService(env.resolver, env.databases, env.pipeline, log)
	return env
}

func (e *testEnv) createSite(t *testing.T, userID, slug string) *model.Site {
	t.Helper()
	site, err := e.sites.CreateOrGet(context.Background(), CreateSiteInput{
		SiteID: uuid.New(), UserID: userID, ProjectName: strings.ToUpper(slug), Slug: slug,
	})
	require.NoError(t, err)
	return site
}

func (e *testEnv) upload(t *testing.T, site *model.Site, userID string, paths ...string) *UploadSiteFilesOutput {
	t.Helper()
	files := make([]SiteFile, 0, len(paths))
	for _, p := range paths {
		content := "<p>" + p + "</p>"
		files = append(files, SiteFile{Path: p, Content: &content})
	}
	out, err := e.deploys.UploadSiteFiles(context.Background(), UploadSiteFilesInput{SiteID: site.ID, UserID: userID, Files: files})
	require.NoError(t, err)
	return out
}

func strPtr(s string) *string { return &s }
