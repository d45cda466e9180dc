// README: Bearer-token auth; resolves the caller identity and gates routes by role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cabmarket/internal/http/response"
	"cabmarket/internal/infra"
	"cabmarket/internal/types"
)

const (
	ctxCallerID   = "caller_id"
	ctxCallerRole = "caller_role"
)

// Auth verifies the bearer token and stores the caller id and role. A token without a known role is rejected.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			response.Abort(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		identity, err := verifier.VerifyToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || identity == nil || identity.UID == "" {
			response.Abort(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		role, ok := types.ParseRole(identity.Role())
		if !ok {
			response.Abort(c, http.StatusUnauthorized, "unauthorized", "token carries no valid role")
			return
		}
		c.Set(ctxCallerID, types.ID(identity.UID))
		c.Set(ctxCallerRole, role)
		c.Next()
	}
}

// RequireRoles lets only the listed roles through.
func RequireRoles(roles ...types.Role) gin.HandlerFunc {
	allowed := make(map[types.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role := CallerRole(c)
		if role == "" {
			response.Abort(c, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Abort(c, http.StatusForbidden, "forbidden", "role not allowed")
			return
		}
		c.Next()
	}
}

func CallerID(c *gin.Context) types.ID {
	v, _ := c.Get(ctxCallerID)
	id, _ := v.(types.ID)
	return id
}

func CallerRole(c *gin.Context) types.Role {
	v, _ := c.Get(ctxCallerRole)
	r, _ := v.(types.Role)
	return r
}
