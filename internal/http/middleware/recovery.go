// README: Panic recovery rendering a 500 envelope.
package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"cabmarket/internal/http/response"
)

func Recovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(c.Request.Context(), "panic recovered",
					"request_id", GetRequestID(c), "path", c.Request.URL.Path, "panic", r, "stack", string(debug.Stack()))
				response.Abort(c, http.StatusInternalServerError, "internal_error", "internal error")
			}
		}()
		c.Next()
	}
}
