package blueprints

import (
	"context"

	"codeberg.org/lessonforge/server/api/rest/usage"
	"codeberg.org/lessonforge/server/internal/generation"
	"codeberg.org/lessonforge/server/internal/lesson"
	"codeberg.org/lessonforge/server/internal/quota"
)

type Generator interface {
	GenerateBlueprint(ctx context.Context, req generation.BlueprintRequest) (*lesson.LessonBlueprint, error)
	GenerateDay(ctx context.Context, bp *lesson.LessonBlueprint, dayIndex int, opts generation.DayOptions) (*lesson.DayPlan, error)
}

type TrackerSource interface {
	For(ctx context.Context, clientID string) *quota.Tracker
}

// CreateRequest represents a multi-day lesson plan request
type CreateRequest struct {
	Topic        string `json:"topic" binding:"required,max=500"`
	GradeLevel   string `json:"grade_level" binding:"max=100"`
	Language     string `json:"language" binding:"max=35"`
	Instructions string `json:"instructions" binding:"max=4000"`
	Days         int    `json:"days" binding:"omitempty,min=1,max=10"`
}

// DayRequest fills one day of a blueprint with slides
type DayRequest struct {
	SlideCount int              `json:"slide_count" binding:"omitempty,min=1,max=30"`
	ImageMode  lesson.ImageMode `json:"image_mode"`
}

type Response struct {
	Blueprint *lesson.LessonBlueprint `json:"blueprint"`
	Quota     usage.Response          `json:"quota"`
}

type DayResponse struct {
	Day   *lesson.DayPlan `json:"day"`
	Quota usage.Response  `json:"quota"`
}
