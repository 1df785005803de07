package media

import (
	"context"

	"codeberg.org/lessonforge/server/api/rest/usage"
	"codeberg.org/lessonforge/server/internal/images"
	"codeberg.org/lessonforge/server/internal/quota"
)

const (
	defaultSearchLimit = 12
	maxSearchLimit     = 50
	proxyCacheControl  = "public, max-age=86400"
)

type CandidateSource interface {
	Candidates(ctx context.Context, query, language string) ([]images.RankedCandidate, error)
}

// downloads allow-listed images for the proxy endpoint
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
	AllowList() images.AllowList
}

type TrackerSource interface {
	For(ctx context.Context, clientID string) *quota.Tracker
}

// SearchResponse lists ranked image candidates for a query
type SearchResponse struct {
	Query      string                   `json:"query"`
	Candidates []images.RankedCandidate `json:"candidates"`
	Total      int                      `json:"total"`
	Quota      usage.Response           `json:"quota"`
}
