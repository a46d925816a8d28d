package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/beanbrew/coffeeshop-api/internal/service"
	appErrors "github.com/beanbrew/coffeeshop-api/pkg/errors"
	"github.com/beanbrew/coffeeshop-api/pkg/response"
	"github.com/beanbrew/coffeeshop-api/pkg/token"
)

// ContextUserKey is the gin context key storing access token claims.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid access token. A refresh token
// in the Authorization header fails here like any other invalid token.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

// CurrentClaims returns the access token claims set by JWT, if any.
func CurrentClaims(c *gin.Context) (*token.Claims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*token.Claims)
	return claims, ok
}
