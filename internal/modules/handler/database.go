package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/memodb-io/deploy-platform/internal/middleware"
	"github.com/memodb-io/deploy-platform/internal/modules/serializer"
	"github.com/memodb-io/deploy-platform/internal/modules/service"
)

type DatabaseHandler struct {
	svc service.DatabaseService
}

func NewDatabaseHandler(s service.DatabaseService) *DatabaseHandler {
	return &DatabaseHandler{svc: s}
}

func (h *DatabaseHandler) Provision(c *gin.Context) {
	req := SiteReq{}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}
	siteID, ok := parseSiteID(c, req.SiteID)
	if !ok {
		return
	}

	out, err := h.svc.Provision(c.Request.Context(), siteID, middleware.UserID(c))
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, serializer.OK(gin.H{
		"database_name":  out.Database.TursoDBName,
		"hostname":       out.Database.TursoDBHostname,
		"already_exists": out.AlreadyExists,
	}))
}

type CredentialsReq struct {
	SiteID       string `json:"site_id" binding:"required"`
	IncludeAdmin bool   `json:"include_admin"`
}

// GetCredentials returns the rw and ro tokens. The admin token is included
// only when the caller asks for it.
func (h *DatabaseHandler) GetCredentials(c *gin.Context) {
	req := CredentialsReq{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}
	siteID, ok := parseSiteID(c, req.SiteID)
	if !ok {
		return
	}

	var (
		creds any
		err   error
	)
	if req.IncludeAdmin {
		creds, err = h.svc.PrivilegedCredentials(c.Request.Context(), siteID, middleware.UserID(c))
	} else {
		creds, err = h.svc.Credentials(c.Request.Context(), siteID, middleware.UserID(c))
	}
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, serializer.OK(gin.H{"credentials": creds}))
}

func (h *DatabaseHandler) ListDatabases(c *gin.Context) {
	req := ListReq{}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	dbs, err := h.svc.List(c.Request.Context(), middleware.UserID(c), req.Limit)
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, serializer.OK(gin.H{"databases": dbs}))
}
