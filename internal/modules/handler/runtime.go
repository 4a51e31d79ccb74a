package handler

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/memodb-io/deploy-platform/internal/middleware"
	"github.com/memodb-io/deploy-platform/internal/modules/serializer"
	"github.com/memodb-io/deploy-platform/internal/modules/service"
)

// numberAPI keeps numeric params as json.Number so integers survive exactly.
var numberAPI = sonic.Config{UseNumber: true}.Froze()

type RuntimeHandler struct {
	svc          service.RuntimeService
	maxBodyBytes int64
}

func NewRuntimeHandler(s service.RuntimeService, maxBodyBytes int64) *RuntimeHandler {
	return &RuntimeHandler{svc: s, maxBodyBytes: maxBodyBytes}
}

type RuntimeQueryReq struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
	SiteID string `json:"site_id"`
}

// Query runs one statement against a site database. Bearer callers pick the
// site with site_id; anonymous callers are bound to the site serving the
// Origin (or Referer) host. Unknown sites are reported as 400 here.
func (h *RuntimeHandler) Query(c *gin.Context) {
	limitBody(c, h.maxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		writeBodyErr(c, err)
		return
	}
	req := RuntimeQueryReq{}
	if err := numberAPI.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid json body", err))
		return
	}

	out, err := h.svc.Execute(c.Request.Context(), service.RuntimeQueryInput{
		SQL:         req.SQL,
		Params:      req.Params,
		SiteRef:     req.SiteID,
		UserID:      middleware.UserID(c),
		OriginHost:  c.GetHeader("Origin"),
		RefererHost: c.GetHeader("Referer"),
	})
	if err != nil {
		c.JSON(serializer.AppErr(err, http.StatusBadRequest))
		return
	}

	c.JSON(http.StatusOK, serializer.OK(gin.H{
		"site_id":  out.SiteID,
		"hostname": out.Hostname,
		"result":   out.Result,
	}))
}
