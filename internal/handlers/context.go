package handlers

import (
	"github.com/gin-gonic/gin"

	"telecare-server/internal/middleware"
	"telecare-server/internal/scheduling"
	"telecare-server/internal/utils"
)

// actorFromContext returns the authenticated caller, responding 401 when missing.
func actorFromContext(c *gin.Context) (scheduling.Actor, bool) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return scheduling.Actor{}, false
	}
	role, ok := middleware.GetUserRoleFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User role not found")
		return scheduling.Actor{}, false
	}
	return scheduling.Actor{UserID: userID, Role: role}, true
}
