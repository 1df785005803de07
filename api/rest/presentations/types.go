package presentations

import (
	"context"

	"codeberg.org/lessonforge/server/api/rest/usage"
	"codeberg.org/lessonforge/server/internal/generation"
	"codeberg.org/lessonforge/server/internal/images"
	"codeberg.org/lessonforge/server/internal/lesson"
	"codeberg.org/lessonforge/server/internal/quota"
)

type DeckGenerator interface {
	GenerateDeck(ctx context.Context, req generation.DeckRequest) (*lesson.Presentation, error)
}

type TrackerSource interface {
	For(ctx context.Context, clientID string) *quota.Tracker
}

type ImageFinder interface {
	Find(ctx context.Context, prompt, language string, exclude func(sourceURL string) bool) (*images.ResolvedImage, error)
}

// CreateRequest represents a deck generation request
type CreateRequest struct {
	Topic        string           `json:"topic" binding:"required,max=500"`
	GradeLevel   string           `json:"grade_level" binding:"max=100"`
	Language     string           `json:"language" binding:"max=35"`
	Instructions string           `json:"instructions" binding:"max=4000"`
	SlideCount   int              `json:"slide_count" binding:"omitempty,min=1,max=30"`
	ImageMode    lesson.ImageMode `json:"image_mode"`
}

// ImageRequest asks for a different picture on one slide
type ImageRequest struct {
	Prompt string `json:"prompt" binding:"max=500"`
}

type Trace struct {
	Model   string             `json:"model,omitempty"`
	States  []generation.State `json:"states"`
	Retries int                `json:"retries"`
}

type Response struct {
	Presentation *lesson.Presentation `json:"presentation"`
	Quota        usage.Response       `json:"quota"`
	Trace        *Trace               `json:"trace,omitempty"`
}

type SlideResponse struct {
	Slide *lesson.Slide  `json:"slide"`
	Quota usage.Response `json:"quota"`
}

func traceOf(a *generation.Attempt) *Trace {
	return &Trace{
		Model:   a.Model(),
		States:  a.States(),
		Retries: len(a.Retries()),
	}
}
