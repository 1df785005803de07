package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

type Message struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  uint64          `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run test_websocket.go <client_id> [host]")
		fmt.Println("Example: go run test_websocket.go classroom-7 localhost:8080")
		os.Exit(1)
	}

	clientID := os.Args[1]
	host := "localhost:8080"
	if len(os.Args) > 2 {
		host = os.Args[2]
	}

	// build WebSocket URL
	u := url.URL{
		Scheme: "ws",
		Host:   host,
		Path:   "/api/v1/quota/ws",
	}
	q := u.Query()
	q.Set("client_id", clientID)
	u.RawQuery = q.Encode()

	fmt.Printf("Connecting to %s\n", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	fmt.Println("✅ Connected to quota feed")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})

	// print every update until the server goes away
	go func() {
		defer close(done)
		for {
			var msg Message
			if err := c.ReadJSON(&msg); err != nil {
				log.Println("read:", err)
				return
			}
			fmt.Printf("📨 #%d %s %s\n", msg.Sequence, msg.Type, msg.Payload)
		}
	}()

	// ask for a fresh read every 30s so counters written elsewhere show up
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.WriteJSON(map[string]string{"type": "refresh"}); err != nil {
				log.Println("write:", err)
				return
			}
		case <-interrupt:
			fmt.Println("\n🛑 Interrupt received, closing connection...")

			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
