package websocket

import (
	"context"

	"codeberg.org/lessonforge/server/internal/quota"
)

type TrackerSource interface {
	For(ctx context.Context, clientID string) *quota.Tracker
	Hold(ctx context.Context, clientID string) (*quota.Tracker, func())
}
