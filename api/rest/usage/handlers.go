package usage

import (
	"context"
	"net/http"

	"codeberg.org/lessonforge/server/internal/auth"
	"codeberg.org/lessonforge/server/internal/quota"
	"github.com/gin-gonic/gin"
)

// returns the caller's usage, limits and remaining allowance
func Handler(ledger TrackerSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID, _ := auth.GetClientID(c)
		tracker := ledger.For(c.Request.Context(), clientID)

		c.JSON(http.StatusOK, Snapshot(c.Request.Context(), tracker))
	}
}

// builds the usage response from a fresh read of the tracker
func Snapshot(ctx context.Context, tracker *quota.Tracker) Response {
	state := tracker.Refresh(ctx)
	return FromState(state, tracker.Limits())
}

func FromState(state quota.UsageState, limits quota.Limits) Response {
	return Response{
		Date:   state.Date,
		Used:   Counts{Generations: state.Generations, Images: state.Images},
		Limits: Counts{Generations: limits.Generations, Images: limits.Images},
		Remaining: Counts{
			Generations: max(limits.Generations-state.Generations, 0),
			Images:      max(limits.Images-state.Images, 0),
		},
	}
}
