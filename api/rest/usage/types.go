package usage

import (
	"context"

	"codeberg.org/lessonforge/server/internal/quota"
)

// hands out the per-client quota tracker
type TrackerSource interface {
	For(ctx context.Context, clientID string) *quota.Tracker
	Limits() quota.Limits
}

type Counts struct {
	Generations int `json:"generations"`
	Images      int `json:"images"`
}

// Response represents the caller's usage for today
type Response struct {
	Date      string `json:"date"`
	Used      Counts `json:"used"`
	Limits    Counts `json:"limits"`
	Remaining Counts `json:"remaining"`
}
