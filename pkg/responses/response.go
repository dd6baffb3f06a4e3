package responses

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	pkgErrors "reflex-engine/pkg/errors"
)

// authFailDelay slows down credential guessing on 401 responses.
var authFailDelay = 5 * time.Second

// SetAuthFailDelay overrides the 401 delay (tests only).
func SetAuthFailDelay(d time.Duration) {
	authFailDelay = d
}

// Body is the minimal response envelope; every reply carries at least Status.
type Body struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Warning string      `json:"warning,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// OK replies 200 with arbitrary JSON data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Status replies with a bare status body.
func Status(c *gin.Context, httpStatus int, status string) {
	c.JSON(httpStatus, Body{Status: status})
}

// StatusWarning replies with a status and a non-fatal warning string.
func StatusWarning(c *gin.Context, httpStatus int, status, warning string) {
	if warning == "" {
		Status(c, httpStatus, status)
		return
	}
	c.JSON(httpStatus, Body{Status: status, Warning: warning})
}

// Error maps an error onto the wire contract. Unauthorized responses are
// delayed a fixed interval and never leak the underlying reason.
func Error(c *gin.Context, err error) {
	appErr, ok := err.(*pkgErrors.AppError)
	if !ok {
		c.JSON(http.StatusInternalServerError, Body{Status: "failed", Message: "internal error"})
		return
	}

	status := appErr.HTTPStatus()
	switch status {
	case http.StatusUnauthorized:
		time.Sleep(authFailDelay)
		c.JSON(status, Body{Status: "failed", Message: "Unauthorized"})
	case http.StatusAccepted:
		c.JSON(status, Body{Status: "unknown", Message: appErr.Message})
	case http.StatusInternalServerError:
		c.JSON(status, Body{Status: "failed", Message: "internal error"})
	default:
		c.JSON(status, Body{Status: "failed", Message: appErr.Message})
	}
}
