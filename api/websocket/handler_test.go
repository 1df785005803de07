package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/lessonforge/server/api/rest/usage"
	"codeberg.org/lessonforge/server/internal/auth"
	"codeberg.org/lessonforge/server/internal/kv"
	"codeberg.org/lessonforge/server/internal/quota"
	ws "codeberg.org/lessonforge/server/internal/websocket"
)

type update struct {
	Type    string         `json:"type"`
	Seq     uint64         `json:"seq"`
	Payload usage.Response `json:"payload"`
}

func dial(t *testing.T, server *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/quota/ws?client_id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func next(t *testing.T, conn *websocket.Conn) update {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg update
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestQuotaFeed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ledger := quota.NewLedger(kv.NewMemoryStore(), quota.Limits{Generations: 3, Images: 10}, time.Hour)
	defer ledger.Close()

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Shutdown()

	router := gin.New()
	router.Use(auth.ClientMiddleware())
	RegisterRoutes(router.Group("/api/v1"), hub, ledger)

	server := httptest.NewServer(router)
	defer server.Close()

	conn := dial(t, server, "client-aaaa")

	initial := next(t, conn)
	assert.Equal(t, ws.TypeQuotaUpdate, initial.Type)
	assert.Equal(t, 0, initial.Payload.Used.Generations)
	assert.Equal(t, 3, initial.Payload.Remaining.Generations)

	require.Eventually(t, func() bool { return hub.ClientCount("client-aaaa") == 1 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.True(t, ledger.For(ctx, "client-aaaa").TryIncrement(ctx, quota.KindGenerations))

	changed := next(t, conn)
	assert.Equal(t, ws.TypeQuotaUpdate, changed.Type)
	assert.Equal(t, 1, changed.Payload.Used.Generations)
	assert.Equal(t, 2, changed.Payload.Remaining.Generations)

	// another client's usage is not pushed here
	ledger.For(ctx, "client-bbbb").Increment(ctx, quota.KindImages)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": ws.TypeRefresh}))
	refreshed := next(t, conn)
	assert.Equal(t, 0, refreshed.Payload.Used.Images)
	assert.Equal(t, 1, refreshed.Payload.Used.Generations)
}

// an open connection keeps receiving updates after its tracker idles out of
// the ledger, including writes made by another server process
func TestQuotaFeed_SurvivesLedgerExpiry(t *testing.T) {
	gin.SetMode(gin.TestMode)

	backend := kv.NewMemoryStore()
	ledger := quota.NewLedger(backend, quota.Limits{Generations: 3, Images: 10}, 50*time.Millisecond)
	other := quota.NewLedger(backend.Handle(), quota.Limits{Generations: 3, Images: 10}, time.Hour)
	defer ledger.Close()
	defer other.Close()

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Shutdown()

	router := gin.New()
	router.Use(auth.ClientMiddleware())
	RegisterRoutes(router.Group("/api/v1"), hub, ledger)

	server := httptest.NewServer(router)
	defer server.Close()

	conn := dial(t, server, "client-aaaa")
	next(t, conn)

	require.Eventually(t, func() bool { return hub.ClientCount("client-aaaa") == 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return ledger.Size() == 0 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.True(t, other.For(ctx, "client-aaaa").TryIncrement(ctx, quota.KindGenerations))

	changed := next(t, conn)
	assert.Equal(t, ws.TypeQuotaUpdate, changed.Type)
	assert.Equal(t, 1, changed.Payload.Used.Generations)
}
