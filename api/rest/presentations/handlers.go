package presentations

import (
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
	"codeberg.org/lessonforge/server/internal/quota"
	"codeberg.org/lessonforge/server/internal/sessions"
	"github.com/gin-gonic/gin"
)

// generates a slide deck and stores it for later edits
func CreateHandler(generator DeckGenerator, ledger TrackerSource, sessionMgr *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest

		if err := c.ShouldBindJSON(&req); err != nil {
			apperrors.ValidationError(c, err)
			return
		}

		mode, err := imageMode(req.ImageMode)
		if err != nil {
			apperrors.ValidationError(c, err)
			return
		}

		clientID, _ := auth.GetClientID(c)
		tracker := ledger.For(c.Request.Context(), clientID)
		trace := generation.NewAttempt()

		deck, err := generator.GenerateDeck(c.Request.Context(), generation.DeckRequest{
			Topic:        strings.TrimSpace(req.Topic),
			GradeLevel:   req.GradeLevel,
			Language:     req.Language,
			Instructions: req.Instructions,
			SlideCount:   req.SlideCount,
			ImageMode:    mode,
			Quota:        tracker,
			Trace:        trace,
		})

		if err != nil {
			logger.Warn("deck generation failed",
				"client_id", clientID,
				"state", trace.Final(),
				"retries", len(trace.Retries()),
				"error", err,
			)
			apperrors.FromError(c, err)
			return
		}

		sessionMgr.SeenImages(deck.ID).AddSlides(deck.Slides)
		sessionMgr.SavePresentation(deck)

		logger.Info("deck generated",
			"client_id", clientID,
			"presentation_id", deck.ID,
			"slides", len(deck.Slides),
			"model", trace.Model(),
		)

		c.JSON(http.StatusCreated, Response{
			Presentation: deck,
			Quota:        usage.FromState(tracker.Usage(), tracker.Limits()),
			Trace:        traceOf(trace),
		})
	}
}

func GetHandler(sessionMgr *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		deck, err := sessionMgr.GetPresentation(c.Param("id"))
		if err != nil {
			apperrors.NotFound(c, "presentation")
			return
		}

		c.JSON(http.StatusOK, deck)
	}
}

func DeleteHandler(sessionMgr *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		if _, err := sessionMgr.GetPresentation(id); err != nil {
			apperrors.NotFound(c, "presentation")
			return
		}

		sessionMgr.DeletePresentation(id)
		c.JSON(http.StatusOK, gin.H{"message": "presentation deleted"})
	}
}

// applies speaker-note, overlay and image edits to one slide
func UpdateSlideHandler(sessionMgr *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, ok := slideIndex(c)
		if !ok {
			return
		}

		var edit sessions.SlideEdit
		if err := c.ShouldBindJSON(&edit); err != nil {
			apperrors.ValidationError(c, err)
			return
		}

		slide, err := sessionMgr.UpdateSlide(c.Param("id"), index, edit)
		if err != nil {
			notFound(c, err)
			return
		}

		c.JSON(http.StatusOK, slide)
	}
}

// searches a new picture for one slide, skipping every image the deck already used
func ReplaceImageHandler(finder ImageFinder, ledger TrackerSource, sessionMgr *sessions.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, ok := slideIndex(c)
		if !ok {
			return
		}

		var req ImageRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				apperrors.ValidationError(c, err)
				return
			}
		}

		id := c.Param("id")
		deck, err := sessionMgr.GetPresentation(id)
		if err != nil {
			apperrors.NotFound(c, "presentation")
			return
		}

		if index >= len(deck.Slides) {
			apperrors.NotFound(c, "slide")
			return
		}

		slide := deck.Slides[index]
		prompt := firstNonEmpty(req.Prompt, slide.ImagePrompt, slide.Title, deck.Topic)

		ctx := c.Request.Context()
		clientID, _ := auth.GetClientID(c)
		tracker := ledger.For(ctx, clientID)

		if !tracker.CanGenerateImage(ctx) {
			apperrors.QuotaExceeded(c, "image")
			return
		}

		seen := sessionMgr.SeenImages(id)

		img, err := finder.Find(ctx, prompt, deck.Language, seen.Contains)
		if err != nil {
			apperrors.FromError(c, err)
			return
		}

		tracker.Increment(ctx, quota.KindImages)
		seen.Add(img.SourceURL)

		src := img.Src()
		updated, err := sessionMgr.UpdateSlide(id, index, sessions.SlideEdit{
			ImageURL:    &src,
			ImageSource: img.SourceURL,
		})
		if err != nil {
			notFound(c, err)
			return
		}

		c.JSON(http.StatusOK, SlideResponse{
			Slide: updated,
			Quota: usage.FromState(tracker.Usage(), tracker.Limits()),
		})
	}
}

func imageMode(m lesson.ImageMode) (lesson.ImageMode, error) {
	if m == "" {
		return lesson.ImageModeSearch, nil
	}

	if !m.Valid() {
		return "", fmt.Errorf("invalid image_mode %q", m)
	}

	return m, nil
}

func slideIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		apperrors.BadRequest(c, "slide index must be a non-negative integer", err)
		return 0, false
	}

	return index, true
}

func notFound(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sessions.ErrSlideNotFound):
		apperrors.NotFound(c, "slide")
	case errors.Is(err, sessions.ErrPresentationNotFound):
		apperrors.NotFound(c, "presentation")
	default:
		apperrors.FromError(c, err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}

	return ""
}
