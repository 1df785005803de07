package health

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/lessonforge/server/internal/logger"
	"github.com/gin-gonic/gin"
)

const (
	serviceName  = "lessonforge"
	probeKey     = "lessonforge:health"
	probeTimeout = 2 * time.Second
)

// set at build time with -ldflags
var Version = "dev"

// returns the server health status; a failing store degrades it to 503
func Handler(store Prober) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := Response{
			Status:  "healthy",
			Service: serviceName,
			Version: Version,
		}

		if store == nil {
			c.JSON(http.StatusOK, resp)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		defer cancel()

		if _, _, err := store.Get(ctx, probeKey); err != nil {
			logger.Warn("health probe failed", "error", err)
			resp.Status = "degraded"
			resp.Storage = "unavailable"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}

		resp.Storage = "ok"
		c.JSON(http.StatusOK, resp)
	}
}

// responds with pong for testing
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, PingResponse{Message: "pong"})
}
