package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/telemetry"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type PageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

func (q PageQuery) limitOr(def int) int {
	if q.Limit <= 0 {
		return def
	}
	return q.Limit
}

func statusFor(kind core.ErrorKind) int {
	switch kind {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindAlreadyQueued, core.KindInvalidState, core.KindInvalidStatus:
		return http.StatusConflict
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindRateLimited:
		return http.StatusTooManyRequests
	case core.KindRefundFailed, core.KindDeviceError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON with the status for its kind. Internal
// failures are logged by the request logger and not echoed to the client.
func respondError(c *gin.Context, err error) {
	kind := core.KindOf(err)
	status := statusFor(kind)

	if kind == core.KindRateLimited {
		telemetry.RateLimitRejects.Inc()
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal server error"
	}
	c.JSON(status, ErrorResponse{Error: kind.String(), Message: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: core.KindInvalidInput.String(), Message: msg})
}
