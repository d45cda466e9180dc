// README: Shared handler helpers: caller extraction, id and query parsing, JSON binding.
package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cabmarket/internal/http/middleware"
	"cabmarket/internal/http/response"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/types"
)

// isValidID accepts up to 64 letters, digits, '-' or '_' (uuids and gateway ids).
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func caller(c *gin.Context) booking.Caller {
	return booking.Caller{ID: middleware.CallerID(c), Role: middleware.CallerRole(c)}
}

// pathID reads and validates the :id param, writing a 400 when it is malformed.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		response.BadRequest(c, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		response.BadRequest(c, "invalid json body")
		return false
	}
	return true
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// queryTime parses an RFC3339 timestamp or a YYYY-MM-DD date; empty yields the zero time.
func queryTime(c *gin.Context, key string) (time.Time, bool) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, true
	}
	response.BadRequest(c, "invalid "+key)
	return time.Time{}, false
}
