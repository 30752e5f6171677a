package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/stock-billing/internal/core/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Reason repeats the kind on 400 responses so callers can tell a short
	// balance from a malformed request
	Reason string `json:"reason,omitempty"`
}

var kindStatus = map[domain.Kind]int{
	domain.KindNotFound:            http.StatusNotFound,
	domain.KindInvalidState:        http.StatusBadRequest,
	domain.KindEmptyInvoice:        http.StatusBadRequest,
	domain.KindInsufficientBalance: http.StatusBadRequest,
	domain.KindDuplicateKey:        http.StatusConflict,
	domain.KindConcurrencyConflict: http.StatusConflict,
	domain.KindServiceUnavailable:  http.StatusServiceUnavailable,
	domain.KindUnexpected:          http.StatusInternalServerError,
}

// StatusFor maps an error kind onto the HTTP status both services answer with.
func StatusFor(kind domain.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := StatusFor(kind)

	resp := ErrorResponse{Error: kind.String(), Message: err.Error()}
	if kind == domain.KindUnexpected {
		resp.Message = "internal error"
	}
	if status == http.StatusBadRequest {
		resp.Reason = kind.String()
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, message string) {
	writeError(c, domain.Errorf(domain.KindInvalidState, "%s", message))
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

func healthBody(status, service string) gin.H {
	return gin.H{"status": status, "service": service, "timestamp": time.Now().UTC()}
}
