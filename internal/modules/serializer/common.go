package serializer

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/memodb-io/deploy-platform/internal/pkg/apperr"
)

var log = zap.NewNop()

// SetLogger sets the logger that receives server side error details.
func SetLogger(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

// Response is the error envelope. Successful responses are flat objects
// built with OK.
type Response struct {
	OK    bool   `json:"ok"`
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Error string `json:"error,omitempty"`
}

// OK adds "ok": true to fields.
func OK(fields gin.H) gin.H {
	if fields == nil {
		fields = gin.H{}
	}
	fields["ok"] = true
	return fields
}

// Err
func Err(errCode int, msg string, err error) Response {
	res := Response{
		Code: errCode,
		Msg:  msg,
	}
	// development mode, show error detail
	if err != nil && gin.Mode() != gin.ReleaseMode {
		res.Error = fmt.Sprintf("%+v", err)
	}
	return res
}

// ParamErr
func ParamErr(msg string, err error) Response {
	if msg == "" {
		msg = "parameter error"
	}
	return Err(http.StatusBadRequest, msg, err)
}

// AuthErr
func AuthErr(msg string) Response {
	if msg == "" {
		msg = "authentication error"
	}
	return Err(http.StatusUnauthorized, msg, nil)
}

// AppErr maps err to a status code and envelope by its apperr.Kind.
// notFoundStatus lets an endpoint report unknown resources as 400 instead
// of 404. Server side failures carry a generic message; the cause is only
// logged.
func AppErr(err error, notFoundStatus int) (int, Response) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest, Err(http.StatusBadRequest, apperr.Message(err), nil)
	case apperr.KindUnauthorized:
		return http.StatusForbidden, Err(http.StatusForbidden, apperr.Message(err), nil)
	case apperr.KindNotFound:
		if notFoundStatus == 0 {
			notFoundStatus = http.StatusNotFound
		}
		return notFoundStatus, Err(notFoundStatus, apperr.Message(err), nil)
	case apperr.KindUpstream:
		log.Error("upstream failure", zap.String("op", apperr.Message(err)), zap.Error(err))
		return http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Msg: "upstream service failed"}
	case apperr.KindDecryption:
		log.Error("stored secret could not be decrypted", zap.Error(err))
		return http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Msg: "internal error"}
	default:
		log.Error("unhandled error", zap.Error(err))
		return http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Msg: "internal error"}
	}
}
