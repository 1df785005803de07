package websocket

import (
	"encoding/json"
	"time"

	"codeberg.org/lessonforge/server/internal/errors"
	"codeberg.org/lessonforge/server/internal/logger"
	"github.com/gorilla/websocket"
)

// creates a new websocket client connection
func NewClient(id, owner, ipAddress string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:                id,
		Owner:             owner,
		IPAddress:         ipAddress,
		conn:              conn,
		hub:               hub,
		send:              make(chan []byte, sendBufferSize),
		messageTimestamps: make([]time.Time, 0, maxMessagesPerSecond),
	}
}

// reads control messages from the connection and hands them to the hub
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister <- c
		c.conn.Close() //nolint:errcheck,gosec // G104: defer cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck,gosec // G104: websocket setup
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck,gosec // G104: pong handler
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket error",
					"connection_id", c.ID,
					"client_id", c.Owner,
					"error", err,
				)
			}

			break
		}

		if !c.checkMessageRateLimit() {
			c.SendError("too_many_requests", "slow down", ErrRateLimitExceeded.Error())
			continue
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.SendError("bad_request", "invalid message format", err.Error())
			continue
		}

		msg.Owner = c.Owner
		msg.ClientID = c.ID
		msg.Timestamp = time.Now()

		c.hub.Inbound <- &msg
	}
}

// writes queued messages to the connection and keeps it alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck,gosec // G104: defer cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck,gosec // G104: websocket timing

			if !ok {
				// hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck,gosec // G104: close message
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck,gosec // G104: websocket ping timing

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// queues a message for the client
func (c *Client) Send(msg *Message) error {
	messageBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.send <- messageBytes:
		return nil
	default:
		// a newer update supersedes whatever is queued; drop the oldest
		select {
		case <-c.send:
		default:
		}

		select {
		case c.send <- messageBytes:
			return nil
		default:
			return ErrConnectionClosed
		}
	}
}

// sends an error message to the client
func (c *Client) SendError(code, message, details string) {
	if details != "" {
		details = sanitizeErrorString(details)
	}

	errorMsg, err := NewMessage(TypeError, c.Owner, errors.ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
	if err != nil {
		logger.ErrorErr(err, "failed to create error message",
			"connection_id", c.ID,
			"error_code", code,
		)
		return
	}

	c.Send(errorMsg) //nolint:errcheck,gosec // G104: best effort error notification
}

// closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// checks if the client is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.closed
}

// checks if the client can send another message this second
func (c *Client) checkMessageRateLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	oneSecondAgo := now.Add(-1 * time.Second)

	valid := c.messageTimestamps[:0]
	for _, ts := range c.messageTimestamps {
		if ts.After(oneSecondAgo) {
			valid = append(valid, ts)
		}
	}

	c.messageTimestamps = valid

	if len(c.messageTimestamps) >= maxMessagesPerSecond {
		return false
	}

	c.messageTimestamps = append(c.messageTimestamps, now)
	return true
}
