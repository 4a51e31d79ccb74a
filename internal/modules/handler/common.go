package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/memodb-io/deploy-platform/internal/modules/serializer"
)

// parseSiteID reads a required site id. It writes the 400 itself and reports
// whether the handler may continue.
func parseSiteID(c *gin.Context, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		c.JSON(http.StatusBadRequest, serializer.ParamErr("invalid site_id", err))
		return uuid.Nil, false
	}
	return id, true
}

// limitBody caps the request body at n bytes. n <= 0 leaves it unbounded.
func limitBody(c *gin.Context, n int64) {
	if n > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
	}
}

// writeBodyErr reports a body that could not be read or bound: 413 when it
// hit the limitBody cap, 400 otherwise.
func writeBodyErr(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		msg := fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
		c.JSON(http.StatusRequestEntityTooLarge, serializer.Err(http.StatusRequestEntityTooLarge, msg, nil))
		return
	}
	c.JSON(http.StatusBadRequest, serializer.ParamErr("", err))
}

func writeErr(c *gin.Context, err error) {
	c.JSON(serializer.AppErr(err, http.StatusNotFound))
}

type ListReq struct {
	Limit int `form:"limit,default=20" json:"limit" binding:"min=1,max=200"`
}

type SiteReq struct {
	SiteID string `form:"site_id" json:"site_id" binding:"required"`
}
