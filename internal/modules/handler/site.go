package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/middleware"
	"github.com/memodb-io/deploy-platform/internal/modules/serializer"
	"github.com/memodb-io/deploy-platform/internal/modules/service"
)

type SiteHandler struct {
	svc service.SiteService
}

func NewSiteHandler(s service.SiteService) *SiteHandler {
	return &SiteHandler{svc: s}
}

type InitSiteReq struct {
	SiteID      string `form:"site_id" json:"site_id"`
	ProjectName string `form:"project_name" json:"project_name"`
	Slug        string `form:"slug" json:"slug" binding:"required"`
}

// InitSite creates a site or returns the caller's existing one.
func (h *SiteHandler) InitSite(c *gin.Context) {
	req := InitSiteReq{}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	siteID := uuid.Nil
	if req.SiteID != "" {
		id, ok := parseSiteID(c, req.SiteID)
		if !ok {
			return
		}
		siteID = id
	}

	site, err := h.svc.CreateOrGet(c.Request.Context(), service.CreateSiteInput{
		SiteID:      siteID,
		UserID:      middleware.UserID(c),
		ProjectName: req.ProjectName,
		Slug:        req.Slug,
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, serializer.OK(gin.H{"site": site}))
}

func (h *SiteHandler) AssignSubdomain(c *gin.Context) {
	req := SiteReq{}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}
	siteID, ok := parseSiteID(c, req.SiteID)
	if !ok {
		return
	}

	domain, err := h.svc.AssignSubdomain(c.Request.Context(), siteID, middleware.UserID(c))
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, serializer.OK(gin.H{"hostname": domain.Hostname}))
}

func (h *SiteHandler) ListProjects(c *gin.Context) {
	req := ListReq{}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}

	projects, err := h.svc.ListProjects(c.Request.Context(), middleware.UserID(c), req.Limit)
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, serializer.OK(gin.H{"projects": projects}))
}
