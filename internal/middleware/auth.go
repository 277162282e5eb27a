package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"telecare-server/internal/config"
	"telecare-server/internal/models"
	"telecare-server/internal/utils"
)

const (
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

// AuthMiddleware creates a middleware for JWT authentication.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			utils.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}
		authenticate(c, cfg, tokenString)
	}
}

// QueryTokenAuthMiddleware authenticates with the `token` query parameter, falling back to
// the Authorization header. Browsers cannot set headers on WebSocket upgrades.
func QueryTokenAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if tokenString == "" {
			var ok bool
			if tokenString, ok = bearerToken(c.GetHeader("Authorization")); !ok {
				utils.Unauthorized(c, "token query parameter required")
				c.Abort()
				return
			}
		}
		authenticate(c, cfg, tokenString)
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func authenticate(c *gin.Context, cfg *config.Config, tokenString string) {
	claims, err := utils.ValidateToken(tokenString, cfg.JWTSecret)
	if err != nil {
		utils.Unauthorized(c, "Invalid token: "+err.Error())
		c.Abort()
		return
	}

	role, ok := models.ParseRole(string(claims.Role))
	if !ok {
		utils.Unauthorized(c, "Invalid token: unknown role")
		c.Abort()
		return
	}

	c.Set(userIDKey, claims.UserID)
	c.Set(userRoleKey, role)
	c.Next()
}

// RoleAuthMiddleware creates a middleware for role-based authorization.
// It should be used *after* AuthMiddleware.
func RoleAuthMiddleware(allowedRoles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetUserRoleFromContext(c)
		if !ok {
			utils.InternalServerError(c, "User role not found in context. AuthMiddleware might be missing.")
			c.Abort()
			return
		}

		for _, allowedRole := range allowedRoles {
			if role == allowedRole {
				c.Next()
				return
			}
		}

		utils.Forbidden(c, "You do not have permission to access this resource.")
		c.Abort()
	}
}

// GetUserIDFromContext returns the authenticated user's id.
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userID, exists := c.Get(userIDKey)
	if !exists {
		return "", false
	}
	idStr, ok := userID.(string)
	return idStr, ok && idStr != ""
}

// GetUserRoleFromContext returns the authenticated user's role.
func GetUserRoleFromContext(c *gin.Context) (models.Role, bool) {
	userRole, exists := c.Get(userRoleKey)
	if !exists {
		return "", false
	}
	role, ok := userRole.(models.Role)
	return role, ok
}
