package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// message type constants for websocket communication
const (
	// is sent whenever the owner's usage changes, and once on connect
	TypeQuotaUpdate = "quota_update"

	// is sent by clients to force a re-read of their usage
	TypeRefresh = "refresh"

	// is sent when an error occurs
	TypeError = "error"

	// is sent by clients to keep the connection alive
	TypePing = "ping"

	// is sent by server in response to ping
	TypePong = "pong"

	// is sent by server before shutdown
	TypeServerShutdown = "server_shutdown"
)

// client connection constants
const (
	// time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// clients only send small control messages
	maxMessageSize = 4 * 1024

	maxMessagesPerSecond = 5

	sendBufferSize = 32
)

// hub connection limit constants
const (
	maxConnectionsPerOwner = 8
	maxConnectionsPerIP    = 16
)

var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// represents a websocket message with typed payload
type Message struct {
	Type      string          `json:"type"`
	Owner     string          `json:"-"` // quota owner the message belongs to
	ClientID  string          `json:"-"` // internal only, not sent to clients
	Timestamp time.Time       `json:"timestamp"`
	Sequence  uint64          `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// contains information about server shutdown
type ServerShutdownPayload struct {
	Reason string `json:"reason"`
}

// represents one websocket connection of a quota owner
type Client struct {
	// unique identifier for this connection
	ID string

	// client id whose usage this connection follows
	Owner string

	// IP address of the client (for connection tracking)
	IPAddress string

	// websocket connection
	conn *websocket.Conn

	// hub reference for message routing
	hub *Hub

	// buffered channel of outbound messages
	send chan []byte

	mu sync.RWMutex

	closed bool

	// timestamps of recent inbound messages (sliding window)
	messageTimestamps []time.Time
}

// maintains the set of active connections grouped by quota owner
type Hub struct {
	// registered clients by owner and connection ID
	owners map[string]map[string]*Client

	// register requests from clients
	Register chan *Client

	// unregister requests from clients
	Unregister chan *Client

	// inbound messages from clients
	Inbound chan *Message

	mu sync.RWMutex

	// message handlers for different message types
	handlers map[string]MessageHandler

	running bool

	// channel to signal shutdown
	shutdown chan struct{}

	// connection tracking: IP address -> count of connections
	ipConnections map[string]int

	// sequence numbers per owner for message ordering
	sequences map[string]uint64

	// starts following an owner's usage when its first connection registers;
	// the returned func stops it after the last one leaves
	watchOwner func(owner string) func()

	// active watches by owner
	watches map[string]func()

	// called after a client is registered
	onClientRegistered func(client *Client)
}

// processes a specific message type
type MessageHandler func(hub *Hub, client *Client, msg *Message) error
