package websocket

import (
	"github.com/gin-gonic/gin"

	ws "codeberg.org/lessonforge/server/internal/websocket"
)

// wires the hub to the quota ledger and registers the feed endpoint
func RegisterRoutes(router *gin.RouterGroup, hub *ws.Hub, ledger TrackerSource) {
	ConnectHub(hub, ledger)
	router.GET("/quota/ws", QuotaFeedHandler(hub))
}
