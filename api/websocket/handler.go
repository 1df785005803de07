package websocket

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"codeberg.org/lessonforge/server/api/rest/usage"
	"codeberg.org/lessonforge/server/internal/auth"
	"codeberg.org/lessonforge/server/internal/errors"
	"codeberg.org/lessonforge/server/internal/logger"
	"codeberg.org/lessonforge/server/internal/quota"
	ws "codeberg.org/lessonforge/server/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     ws.CheckOrigin,
}

// ConnectHub makes the hub follow quota changes. Each owner with at least one
// open connection is subscribed to its tracker; every change, including writes
// from other processes picked up by the tracker's watch, reaches all of the
// owner's connections as a quota_update.
func ConnectHub(hub *ws.Hub, ledger TrackerSource) {
	hub.WatchOwner(func(owner string) func() {
		// held so an idle ttl cannot swap the tracker out from under the listener
		tracker, release := ledger.Hold(context.Background(), owner)

		stopListening := tracker.OnChange(func(state quota.UsageState) {
			publish(hub, owner, usage.FromState(state, tracker.Limits()))
		})

		return func() {
			stopListening()
			release()
		}
	})

	// new connections start from a fresh read
	hub.OnClientRegistered(func(client *ws.Client) {
		sendSnapshot(client, ledger)
	})

	hub.RegisterHandler(ws.TypeRefresh, func(_ *ws.Hub, client *ws.Client, _ *ws.Message) error {
		sendSnapshot(client, ledger)
		return nil
	})
}

func sendSnapshot(client *ws.Client, ledger TrackerSource) {
	ctx := context.Background()
	tracker := ledger.For(ctx, client.Owner)

	msg, err := ws.NewMessage(ws.TypeQuotaUpdate, client.Owner, usage.Snapshot(ctx, tracker))
	if err != nil {
		return
	}

	client.Send(msg) //nolint:errcheck,gosec // client may already be gone
}

func publish(hub *ws.Hub, owner string, payload usage.Response) {
	msg, err := ws.NewMessage(ws.TypeQuotaUpdate, owner, payload)
	if err != nil {
		logger.ErrorErr(err, "failed to build quota update", "client_id", owner)
		return
	}

	hub.BroadcastToOwner(owner, msg)
}

// upgrades to a websocket that streams the caller's usage
func QuotaFeedHandler(hub *ws.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, _ := auth.GetClientID(c)
		ipAddress := c.ClientIP()

		if ok, reason := hub.CanAcceptConnection(owner, ipAddress); !ok {
			errors.TooManyRequests(c, reason)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection",
				"client_id", owner,
				"ip", ipAddress,
				"error", err,
			)
			return
		}

		// track IP connection only after successful upgrade
		hub.TrackIPConnection(ipAddress)

		client := ws.NewClient(ws.GenerateClientID(), owner, ipAddress, conn, hub)
		hub.Register <- client

		go client.WritePump()
		go client.ReadPump()

		logger.Debug("quota feed connected",
			"client_id", owner,
			"connection_id", client.ID,
		)
	}
}
