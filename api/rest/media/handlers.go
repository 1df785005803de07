package media

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"codeberg.org/lessonforge/server/api/rest/usage"
	"codeberg.org/lessonforge/server/internal/auth"
	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"codeberg.org/lessonforge/server/internal/logger"
	"codeberg.org/lessonforge/server/internal/quota"
	"github.com/gin-gonic/gin"
)

// returns ranked candidates for ?q=; each search spends one image unit
func SearchHandler(source CandidateSource, ledger TrackerSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			apperrors.BadRequest(c, "query parameter q is required", nil)
			return
		}

		limit := defaultSearchLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxSearchLimit {
				apperrors.BadRequest(c, "limit must be between 1 and 50", err)
				return
			}
			limit = n
		}

		ctx := c.Request.Context()
		clientID, _ := auth.GetClientID(c)
		tracker := ledger.For(ctx, clientID)

		if !tracker.CanGenerateImage(ctx) {
			apperrors.QuotaExceeded(c, "image")
			return
		}

		ranked, err := source.Candidates(ctx, query, c.DefaultQuery("lang", "en"))
		if err != nil {
			apperrors.FromError(c, err)
			return
		}

		tracker.Increment(ctx, quota.KindImages)

		total := len(ranked)
		if total > limit {
			ranked = ranked[:limit]
		}

		c.JSON(http.StatusOK, SearchResponse{
			Query:      query,
			Candidates: ranked,
			Total:      total,
			Quota:      usage.FromState(tracker.Usage(), tracker.Limits()),
		})
	}
}

// streams an allow-listed image so slides can show it without cross-origin issues
func ProxyHandler(fetcher ImageFetcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Query("u")
		if raw == "" {
			apperrors.BadRequest(c, "query parameter u is required", nil)
			return
		}

		target, err := url.Parse(raw)
		if err != nil {
			apperrors.BadRequest(c, "invalid image url", err)
			return
		}

		if !fetcher.AllowList().Allows(target) {
			apperrors.Forbidden(c, "host is not allowed")
			return
		}

		data, contentType, err := fetcher.Fetch(c.Request.Context(), target.String())
		if err != nil {
			logger.Warn("image proxy fetch failed",
				"host", target.Hostname(),
				"error", err,
			)
			c.JSON(http.StatusBadGateway, apperrors.ErrorResponse{
				Error:   "upstream_error",
				Message: "failed to fetch image",
			})
			return
		}

		c.Header("Cache-Control", proxyCacheControl)
		c.Header("X-Content-Type-Options", "nosniff")
		c.Data(http.StatusOK, contentType, data)
	}
}
