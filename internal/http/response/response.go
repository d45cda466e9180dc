// README: JSON envelope {success, message, data?} and error rendering shared by handlers and middleware.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cabmarket/internal/apperr"
	"cabmarket/internal/logger"
)

type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func OK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func Created(c *gin.Context, message string, data any) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Message: message, Data: data})
}

// Fail renders err with the status of its kind. Internal causes are logged, never shown.
func Fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, Envelope{Success: false, Message: apperr.Message(err), Code: apperr.Code(err)})
}

func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Envelope{Success: false, Message: message, Code: code})
}

func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Envelope{Success: false, Message: message, Code: "bad_request"})
}
