package handler

import (
	"bytes"
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

func TestDatabaseHandler_Provision(t *testing.T) {
	siteID := uuid.New()
	svc := &MockDatabaseService{}
	svc.On("Provision", mock.Anything, siteID, testUser).Return(&service.ProvisionOutput{
		Database:      &model.SiteDatabase{TursoDBName: "s-0123abcdef45-abc123", TursoDBHostname: "s-0123abcdef45-abc123-acme.turso.io", RWTokenEnc: "secret"},
		AlreadyExists: true,
	}, nil)

	r := setupRouter(testUser)
	r.POST("/deploy/provision-database", NewDatabaseHandler(svc).Provision)

	req := httptest.NewRequest("POST", "/deploy/provision-database", bytes.NewBufferString(`{"site_id":"`+siteID.String()+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s-0123abcdef45-abc123", resp["database_name"])
	assert.Equal(t, "s-0123abcdef45-abc123-acme.turso.io", resp["hostname"])
	assert.Equal(t, true, resp["already_exists"])
	assert.NotContains(t, w.Body.String(), "secret")
	svc.AssertExpectations(t)
}

func TestDatabaseHandler_GetCredentials(t *testing.T) {
	siteID := uuid.New()
	pub := &service.PublicDBInfo{DatabaseName: "s-db", Hostname: "s-db.turso.io", URL: "libsql://s-db.turso.io", RWToken: "rw", ROToken: "ro"}

	tests := []struct {
		name           string
		body           string
		setup          func(*MockDatabaseService)
		expectedStatus int
		wantAdmin      bool
	}{
		{
			name: "public tier",
			body: `{"site_id":"` + siteID.String() + `"}`,
			setup: func(m *MockDatabaseService) {
				m.On("Credentials", mock.Anything, siteID, testUser).Return(pub, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "admin opt in",
			body: `{"site_id":"` + siteID.String() + `","include_admin":true}`,
			setup: func(m *MockDatabaseService) {
				m.On("PrivilegedCredentials", mock.Anything, siteID, testUser).Return(&service.PrivilegedDBInfo{PublicDBInfo: *pub, AdminToken: "admin"}, nil)
			},
			expectedStatus: http.StatusOK,
			wantAdmin:      true,
		},
		{
			name: "not provisioned",
			body: `{"site_id":"` + siteID.String() + `"}`,
			setup: func(m *MockDatabaseService) {
				m.On("Credentials", mock.Anything, siteID, testUser).Return(nil, apperr.NotFound("no database"))
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "undecryptable tokens",
			body: `{"site_id":"` + siteID.String() + `"}`,
			setup: func(m *MockDatabaseService) {
				m.On("Credentials", mock.Anything, siteID, testUser).Return(nil, apperr.Decryption(assert.AnError))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockDatabaseService{}
			tt.setup(svc)

			r := setupRouter(testUser)
			r.POST("/deploy/get-db-credentials", NewDatabaseHandler(svc).GetCredentials)

			req := httptest.NewRequest("POST", "/deploy/get-db-credentials", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if w.Code == http.StatusOK {
				var resp struct {
					Credentials map[string]any `json:"credentials"`
				}
				require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, "rw", resp.Credentials["rw_token"])
				assert.Equal(t, "ro", resp.Credentials["ro_token"])
				_, hasAdmin := resp.Credentials["admin_token"]
				assert.Equal(t, tt.wantAdmin, hasAdmin)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestDatabaseHandler_ListDatabases(t *testing.T) {
	svc := &MockDatabaseService{}
	svc.On("List", mock.Anything, testUser, 5).Return([]*model.SiteDatabase{{TursoDBName: "s-db", ROTokenEnc: "ciphertext"}}, nil)

	r := setupRouter(testUser)
	r.GET("/deploy/databases", NewDatabaseHandler(svc).ListDatabases)

	req := httptest.NewRequest("GET", "/deploy/databases?limit=5", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "s-db")
	assert.NotContains(t, w.Body.String(), "ciphertext")
	svc.AssertExpectations(t)
}
