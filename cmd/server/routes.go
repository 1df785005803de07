package main

import (
	"codeberg.org/lessonforge/server/api/rest/blueprints"
	"codeberg.org/lessonforge/server/api/rest/health"
	"codeberg.org/lessonforge/server/api/rest/media"
	"codeberg.org/lessonforge/server/api/rest/presentations"
	"codeberg.org/lessonforge/server/api/rest/usage"
	"codeberg.org/lessonforge/server/api/websocket"
	"codeberg.org/lessonforge/server/internal/auth"
	"github.com/gin-gonic/gin"
)

// sets up all API routes and middleware
func RegisterRoutes(router *gin.Engine, server *Server) error {
	rateLimit, err := RateLimitMiddleware(server.config, server.redis)
	if err != nil {
		return err
	}

	router.Use(CORSMiddleware(server.config))
	router.GET("/health", health.Handler(server.store))

	// slide images point here directly, outside the versioned api
	media.RegisterProxyRoutes(router, server.services.Images.Resolver())

	v1 := router.Group("/api/v1")
	v1.Use(rateLimit, auth.ClientMiddleware())

	{
		v1.GET("/ping", health.PingHandler)

		usage.RegisterRoutes(v1, server.ledger)
		presentations.RegisterRoutes(v1, server.services.Orchestrator, server.services.Images, server.ledger, server.sessionMgr)
		blueprints.RegisterRoutes(v1, server.services.Orchestrator, server.ledger, server.sessionMgr)
		media.RegisterRoutes(v1, server.services.Images, server.ledger)
		websocket.RegisterRoutes(v1, server.hub, server.ledger)
	}

	return nil
}
