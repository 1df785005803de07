package blueprints

import (
	"codeberg.org/lessonforge/server/internal/sessions"
	"github.com/gin-gonic/gin"
)

// registers blueprint routes
func RegisterRoutes(router *gin.RouterGroup, generator Generator, ledger TrackerSource, sessionMgr *sessions.Manager) {
	blueprints := router.Group("/blueprints")
	{
		blueprints.POST("", CreateHandler(generator, ledger, sessionMgr))
		blueprints.GET("/:id", GetHandler(sessionMgr))
		blueprints.DELETE("/:id", DeleteHandler(sessionMgr))
		blueprints.POST("/:id/days/:day", GenerateDayHandler(generator, ledger, sessionMgr))
	}
}
