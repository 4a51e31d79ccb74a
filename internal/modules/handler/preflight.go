package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/memodb-io/deploy-platform/internal/modules/service"
)

type PreflightHandler struct {
	svc service.PreflightService
}

func NewPreflightHandler(s service.PreflightService) *PreflightHandler {
	return &PreflightHandler{svc: s}
}

// Preflight reports whether every backing dependency is reachable.
func (h *PreflightHandler) Preflight(c *gin.Context) {
	report := h.svc.Check(c.Request.Context())
	status := http.StatusOK
	if !report.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
