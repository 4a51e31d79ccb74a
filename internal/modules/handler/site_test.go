package handler

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/modules/model"
	"github.com/memodb-io/deploy-platform/internal/modules/service"
	"github.com/memodb-io/deploy-platform/internal/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSiteHandler_InitSite(t *testing.T) {
	siteID := uuid.New()

	tests := []struct {
		name           string
		body           string
		setup          func(*MockSiteService)
		expectedStatus int
	}{
		{
			name: "create with explicit id",
			body: `{"site_id":"` + siteID.String() + `","project_name":"Demo","slug":"demo"}`,
			setup: func(m *MockSiteService) {
				m.On("CreateOrGet", mock.Anything, service.CreateSiteInput{
					SiteID: siteID, UserID: testUser, ProjectName: "Demo", Slug: "demo",
				}).Return(&model.Site{ID: siteID, UserID: testUser, Slug: "demo"}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "create without id",
			body: `{"slug":"demo"}`,
			setup: func(m *MockSiteService) {
				m.On("CreateOrGet", mock.Anything, mock.MatchedBy(func(in service.CreateSiteInput) bool {
					return in.SiteID == uuid.Nil && in.Slug == "demo"
				})).Return(&model.Site{ID: siteID, Slug: "demo"}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing slug",
			body:           `{"project_name":"Demo"}`,
			setup:          func(m *MockSiteService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed site id",
			body:           `{"site_id":"nope","slug":"demo"}`,
			setup:          func(m *MockSiteService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "bad slug",
			body: `{"slug":"-bad-"}`,
			setup: func(m *MockSiteService) {
				m.On("CreateOrGet", mock.Anything, mock.Anything).Return(nil, apperr.Validation("invalid slug"))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "not owner",
			body: `{"site_id":"` + siteID.String() + `","slug":"demo"}`,
			setup: func(m *MockSiteService) {
				m.On("CreateOrGet", mock.Anything, mock.Anything).Return(nil, apperr.Unauthorized("not owner"))
			},
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockSiteService{}
			tt.setup(svc)
			h := NewSiteHandler(svc)

			r := setupRouter(testUser)
			r.POST("/deploy/site/init", h.InitSite)

			req := httptest.NewRequest("POST", "/deploy/site/init", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestSiteHandler_InitSiteResponse(t *testing.T) {
	siteID := uuid.New()
	svc := &MockSiteService{}
	svc.On("CreateOrGet", mock.Anything, mock.Anything).Return(&model.Site{ID: siteID, Slug: "demo", Status: model.SiteStatusDraft}, nil)

	r := setupRouter(testUser)
	r.POST("/deploy/site/init", NewSiteHandler(svc).InitSite)

	req := httptest.NewRequest("POST", "/deploy/site/init", bytes.NewBufferString(`{"slug":"demo"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OK   bool       `json:"ok"`
		Site model.Site `json:"site"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, siteID, resp.Site.ID)
	assert.Equal(t, model.SiteStatusDraft, resp.Site.Status)
}

func TestSiteHandler_AssignSubdomain(t *testing.T) {
	siteID := uuid.New()

	tests := []struct {
		name           string
		body           string
		setup          func(*MockSiteService)
		expectedStatus int
		expectedHost   string
	}{
		{
			name: "assigned",
			body: `{"site_id":"` + siteID.String() + `"}`,
			setup: func(m *MockSiteService) {
				m.On("AssignSubdomain", mock.Anything, siteID, testUser).Return(&model.Domain{Hostname: "demo.sites.example.com"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedHost:   "demo.sites.example.com",
		},
		{
			name:           "missing site id",
			body:           `{}`,
			setup:          func(m *MockSiteService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown site",
			body: `{"site_id":"` + siteID.String() + `"}`,
			setup: func(m *MockSiteService) {
				m.On("AssignSubdomain", mock.Anything, siteID, testUser).Return(nil, apperr.NotFound("site not found"))
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockSiteService{}
			tt.setup(svc)

			r := setupRouter(testUser)
			r.POST("/deploy/assign-subdomain", NewSiteHandler(svc).AssignSubdomain)

			req := httptest.NewRequest("POST", "/deploy/assign-subdomain", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedHost != "" {
				var resp map[string]any
				require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedHost, resp["hostname"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestSiteHandler_ListProjects(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		setup          func(*MockSiteService)
		expectedStatus int
	}{
		{
			name:  "default limit",
			query: "",
			setup: func(m *MockSiteService) {
				m.On("ListProjects", mock.Anything, testUser, 20).Return([]*service.ProjectSummary{{Site: &model.Site{Slug: "demo"}}}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:  "explicit limit",
			query: "?limit=200",
			setup: func(m *MockSiteService) {
				m.On("ListProjects", mock.Anything, testUser, 200).Return([]*service.ProjectSummary{}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "limit too large",
			query:          "?limit=201",
			setup:          func(m *MockSiteService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "limit zero",
			query:          "?limit=0",
			setup:          func(m *MockSiteService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:  "storage failure",
			query: "",
			setup: func(m *MockSiteService) {
				m.On("ListProjects", mock.Anything, testUser, 20).Return(nil, errors.New("connection refused"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockSiteService{}
			tt.setup(svc)

			r := setupRouter(testUser)
			r.GET("/deploy/projects", NewSiteHandler(svc).ListProjects)

			req := httptest.NewRequest("GET", "/deploy/projects"+tt.query, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "connection refused")
			}
			svc.AssertExpectations(t)
		})
	}
}
