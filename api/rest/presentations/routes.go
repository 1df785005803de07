package presentations

import (
	"codeberg.org/lessonforge/server/internal/sessions"
	"github.com/gin-gonic/gin"
)

// registers presentation routes
func RegisterRoutes(router *gin.RouterGroup, generator DeckGenerator, finder ImageFinder, ledger TrackerSource, sessionMgr *sessions.Manager) {
	presentations := router.Group("/presentations")
	{
		presentations.POST("", CreateHandler(generator, ledger, sessionMgr))
		presentations.GET("/:id", GetHandler(sessionMgr))
		presentations.DELETE("/:id", DeleteHandler(sessionMgr))
		presentations.PATCH("/:id/slides/:index", UpdateSlideHandler(sessionMgr))
		presentations.POST("/:id/slides/:index/image", ReplaceImageHandler(finder, ledger, sessionMgr))
	}
}
