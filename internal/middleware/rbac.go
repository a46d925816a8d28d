package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/beanbrew/coffeeshop-api/internal/models"
	appErrors "github.com/beanbrew/coffeeshop-api/pkg/errors"
	"github.com/beanbrew/coffeeshop-api/pkg/response"
)

// RBAC enforces role-based access control for routes. Roles are carried
// as lowercase scopes in the access token. The special value "SELF"
// additionally admits a caller whose subject matches the :id route param.
func RBAC(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		allowSelf := false
		allowedScopes := make(map[string]struct{})
		for _, a := range allowed {
			if a == "SELF" {
				allowSelf = true
				continue
			}
			allowedScopes[strings.ToLower(a)] = struct{}{}
		}

		for _, scope := range claims.Scopes {
			if _, ok := allowedScopes[scope]; ok {
				c.Next()
				return
			}
		}

		if allowSelf {
			if targetID := c.Param("id"); targetID != "" && targetID == claims.Subject {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make([]string, len(roles))
	for i, r := range roles {
		allowed[i] = string(r)
	}
	return RBAC(allowed...)
}
