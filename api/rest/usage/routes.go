package usage

import "github.com/gin-gonic/gin"

// registers quota routes
func RegisterRoutes(router *gin.RouterGroup, ledger TrackerSource) {
	router.GET("/quota", Handler(ledger))
}
