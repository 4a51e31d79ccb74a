package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"github.com/memodb-io/deploy-platform/internal/modules/service"
	"github.com/stretchr/testify/mock"
)

const testUser = "user-1"

// setupRouter returns a test router. A non-empty userID is placed in the
// context the same way middleware.UserAuth does.
func setupRouter(userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	return r
}

type MockSiteService struct {
	mock.Mock
}

func (m *MockSiteService) CreateOrGet(ctx context.Context, in service.CreateSiteInput) (*model.Site, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Site), args.Error(1)
}

func (m *MockSiteService) GetOwned(ctx context.Context, siteID uuid.UUID, userID string) (*model.Site, error) {
	args := m.Called(ctx, siteID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Site), args.Error(1)
}

func (m *MockSiteService) AssignSubdomain(ctx context.Context, siteID uuid.UUID, userID string) (*model.Domain, error) {
	args := m.Called(ctx, siteID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Domain), args.Error(1)
}

func (m *MockSiteService) ListProjects(ctx context.Context, userID string, limit int) ([]*service.ProjectSummary, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*service.ProjectSummary), args.Error(1)
}

type MockDeploymentService struct {
	mock.Mock
}

func (m *MockDeploymentService) UploadSiteFiles(ctx context.Context, in service.UploadSiteFilesInput) (*service.UploadSiteFilesOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.UploadSiteFilesOutput), args.Error(1)
}

func (m *MockDeploymentService) ActivateDeployment(ctx context.Context, siteID uuid.UUID, userID string, deploymentID uuid.UUID) (*service.ActivateOutput, error) {
	args := m.Called(ctx, siteID, userID, deploymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ActivateOutput), args.Error(1)
}

func (m *MockDeploymentService) UpsertSiteManifest(ctx context.Context, siteID uuid.UUID, userID string, deploymentID uuid.UUID) (*service.ManifestRecord, error) {
	args := m.Called(ctx, siteID, userID, deploymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ManifestRecord), args.Error(1)
}

type MockDatabaseService struct {
	mock.Mock
}

func (m *MockDatabaseService) Provision(ctx context.Context, siteID uuid.UUID, userID string) (*service.ProvisionOutput, error) {
	args := m.Called(ctx, siteID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ProvisionOutput), args.Error(1)
}

func (m *MockDatabaseService) Credentials(ctx context.Context, siteID uuid.UUID, userID string) (*service.PublicDBInfo, error) {
	args := m.Called(ctx, siteID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PublicDBInfo), args.Error(1)
}

func (m *MockDatabaseService) PrivilegedCredentials(ctx context.Context, siteID uuid.UUID, userID string) (*service.PrivilegedDBInfo, error) {
	args := m.Called(ctx, siteID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PrivilegedDBInfo), args.Error(1)
}

func (m *MockDatabaseService) RuntimeCredentials(ctx context.Context, siteID uuid.UUID) (*service.RuntimeDBInfo, error) {
	args := m.Called(ctx, siteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RuntimeDBInfo), args.Error(1)
}

func (m *MockDatabaseService) List(ctx context.Context, userID string, limit int) ([]*model.SiteDatabase, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.SiteDatabase), args.Error(1)
}

type MockRuntimeService struct {
	mock.Mock
}

func (m *MockRuntimeService) Execute(ctx context.Context, in service.RuntimeQueryInput) (*service.RuntimeQueryOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RuntimeQueryOutput), args.Error(1)
}

type MockPreflightService struct {
	mock.Mock
}

func (m *MockPreflightService) Check(ctx context.Context) *service.PreflightReport {
	return m.Called(ctx).Get(0).(*service.PreflightReport)
}
