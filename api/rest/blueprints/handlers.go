package blueprints

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"codeberg.org/lessonforge/server/api/rest/usage"
	"codeberg.org/lessonforge/server/internal/auth"
	apperrors "codeberg.org/lessonforge/server/internal/errors"
	"codeberg.org/lessonforge/server/internal/generation"
	"codeberg.org/lessonforge/server/internal/lesson"
	"codeberg.org/lessonforge/server/internal/logger"
	"codeberg.org/lessonforge/server/internal/sessions"
	"github.com/gin-gonic/gin"
)

// generates the day-by-day outline of a lesson unit
func CreateHandler(generator Generator, ledger TrackerSource, sessionMgr *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest

		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.ValidationError(c, err)
			return
		}

		clientID, _ := auth.GetClientID(c)
		tracker := ledger.For(c.Request.Context(), clientID)

		bp, err := generator.GenerateBlueprint(c.Request.Context(), generation.BlueprintRequest{
			Topic:        strings.TrimSpace(req.Topic),
			GradeLevel:   req.GradeLevel,
			Language:     req.Language,
			Instructions: req.Instructions,
			Days:         req.Days,
			Quota:        tracker,
		})

		if err != nil {
			apperrors.FromError(c, err)
			return
		}

		sessionMgr.SaveBlueprint(bp)

		logger.Info("blueprint generated",
			"client_id", clientID,
			"blueprint_id", bp.ID,
			"days", len(bp.Days),
		)

		c.JSON(http.StatusCreated, Response{
			Blueprint: bp,
			Quota:     usage.FromState(tracker.Usage(), tracker.Limits()),
		})
	}
}

func GetHandler(sessionMgr *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		bp, err := sessionMgr.GetBlueprint(c.Param("id"))
		if err != nil {
			apperrors.NotFound(c, "blueprint")
			return
		}

		c.JSON(http.StatusOK, bp)
	}
}

func DeleteHandler(sessionMgr *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		if _, err := sessionMgr.GetBlueprint(id); err != nil {
			apperrors.NotFound(c, "blueprint")
			return
		}

		sessionMgr.DeleteBlueprint(id)
		c.JSON(http.StatusOK, gin.H{"message": "blueprint deleted"})
	}
}

// generates the slides of one day; a day already in progress answers 409
func GenerateDayHandler(generator Generator, ledger TrackerSource, sessionMgr *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := strconv.Atoi(c.Param("day"))
		if err != nil || n < 1 {
			apperrors.BadRequest(c, "day must be a positive integer", err)
			return
		}

		var req DayRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				apperrors.ValidationError(c, err)
				return
			}
		}

		mode := req.ImageMode
		if mode == "" {
			mode = lesson.ImageModeSearch
		}

		if !mode.Valid() {
			apperrors.ValidationError(c, fmt.Errorf("invalid image_mode %q", mode))
			return
		}

		id := c.Param("id")
		bp, idx, err := sessionMgr.ClaimDay(id, n)

		switch {
		case errors.Is(err, sessions.ErrDayBusy):
			c.JSON(http.StatusConflict, apperrors.ErrorResponse{
				Error:   "day_in_progress",
				Message: fmt.Sprintf("day %d is already being generated", n),
			})
			return
		case errors.Is(err, sessions.ErrDayNotFound):
			apperrors.NotFound(c, "day")
			return
		case err != nil:
			apperrors.NotFound(c, "blueprint")
			return
		}

		ctx := c.Request.Context()
		clientID, _ := auth.GetClientID(c)
		tracker := ledger.For(ctx, clientID)
		seen := sessionMgr.SeenImages(id)

		day, genErr := generator.GenerateDay(ctx, bp, idx, generation.DayOptions{
			SlideCount: req.SlideCount,
			ImageMode:  mode,
			Quota:      tracker,
			Exclude:    seen.Contains,
		})

		// release the claim whatever happened; bp carries the reverted status on failure
		outcome := bp.Days[idx]
		if genErr == nil {
			outcome = *day
			seen.AddSlides(day.Slides)
		}

		if err := sessionMgr.FinishDay(id, idx, outcome); err != nil {
			logger.Warn("blueprint expired during day generation",
				"blueprint_id", id,
				"day", n,
				"error", err,
			)
		}

		if genErr != nil {
			if !errors.Is(genErr, context.Canceled) {
				logger.Warn("day generation failed",
					"client_id", clientID,
					"blueprint_id", id,
					"day", n,
					"error", genErr,
				)
			}
			apperrors.FromError(c, genErr)
			return
		}

		c.JSON(http.StatusOK, DayResponse{
			Day:   day,
			Quota: usage.FromState(tracker.Usage(), tracker.Limits()),
		})
	}
}
