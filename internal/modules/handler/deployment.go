package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/middleware"
	"github.com/memodb-io/deploy-platform/internal/modules/serializer"
	"github.com/memodb-io/deploy-platform/internal/modules/service"
)

type DeploymentHandler struct {
	svc            service.DeploymentService
	maxUploadBytes int64
}

func NewDeploymentHandler(s service.DeploymentService, maxUploadBytes int64) *DeploymentHandler {
	return &DeploymentHandler{svc: s, maxUploadBytes: maxUploadBytes}
}

type UploadSiteReq struct {
	SiteID string             `json:"site_id" binding:"required"`
	Files  []service.SiteFile `json:"files"`
}

// UploadSite stores a new deployment. Files are validated as a whole before
// anything is written, so an empty or invalid list fails with 400.
func (h *DeploymentHandler) UploadSite(c *gin.Context) {
	limitBody(c, h.maxUploadBytes)
	req := UploadSiteReq{}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBodyErr(c, err)
		return
	}
	siteID, ok := parseSiteID(c, req.SiteID)
	if !ok {
		return
	}

	out, err := h.svc.UploadSiteFiles(c.Request.Context(), service.UploadSiteFilesInput{
		SiteID: siteID,
		UserID: middleware.UserID(c),
		Files:  req.Files,
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, serializer.OK(gin.H{
		"deployment_id":  out.DeploymentID,
		"version":        out.Version,
		"r2_prefix":      out.R2Prefix,
		"files_uploaded": out.FilesUploaded,
	}))
}

type ActivateReq struct {
	SiteID       string `json:"site_id" binding:"required"`
	DeploymentID string `json:"deployment_id" binding:"required"`
}

func (h *DeploymentHandler) Activate(c *gin.Context) {
	req := ActivateReq{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
		return
	}
	siteID, ok := parseSiteID(c, req.SiteID)
	if !ok {
		return
	}
	deploymentID, err := uuid.Parse(req.DeploymentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid deployment_id", err))
		return
	}

	out, err := h.svc.ActivateDeployment(c.Request.Context(), siteID, middleware.UserID(c), deploymentID)
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, serializer.OK(gin.H{
		"manifest": out.Manifest,
		"url":      out.URL,
		"active":   out.Active,
	}))
}
