package websocket

import (
	"time"

	"codeberg.org/lessonforge/server/internal/logger"
)

func NewHub() *Hub {
	h := &Hub{
		owners:        make(map[string]map[string]*Client),
		Register:      make(chan *Client),
		Unregister:    make(chan *Client),
		Inbound:       make(chan *Message, 256),
		handlers:      make(map[string]MessageHandler),
		shutdown:      make(chan struct{}),
		ipConnections: make(map[string]int),
		sequences:     make(map[string]uint64),
		watches:       make(map[string]func()),
	}

	h.RegisterHandler(TypePing, PingHandler())
	return h
}

// registers a handler for a specific message type
func (h *Hub) RegisterHandler(messageType string, handler MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[messageType] = handler
}

// sets the hook that starts following an owner's usage
func (h *Hub) WatchOwner(watch func(owner string) func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchOwner = watch
}

// sets callback to be called after a client is registered
func (h *Hub) OnClientRegistered(callback func(client *Client)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClientRegistered = callback
}

// starts the hub's main loop
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.Inbound:
			h.handleMessage(message)

		case <-h.shutdown:
			h.closeAllConnections()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()

	if h.owners[client.Owner] == nil {
		h.owners[client.Owner] = make(map[string]*Client)

		if h.watchOwner != nil {
			h.watches[client.Owner] = h.watchOwner(client.Owner)
		}
	}

	h.owners[client.Owner][client.ID] = client
	callback := h.onClientRegistered

	h.mu.Unlock()

	logger.Debug("client registered",
		"connection_id", client.ID,
		"client_id", client.Owner,
	)

	if callback != nil {
		go callback(client)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ownerClients, exists := h.owners[client.Owner]
	if !exists {
		return
	}

	if _, exists := ownerClients[client.ID]; !exists {
		return
	}

	delete(ownerClients, client.ID)
	client.Close()

	if client.IPAddress != "" {
		h.ipConnections[client.IPAddress]--

		if h.ipConnections[client.IPAddress] <= 0 {
			delete(h.ipConnections, client.IPAddress)
		}
	}

	logger.Debug("client unregistered",
		"connection_id", client.ID,
		"client_id", client.Owner,
	)

	if len(ownerClients) == 0 {
		delete(h.owners, client.Owner)
		delete(h.sequences, client.Owner)

		if stop := h.watches[client.Owner]; stop != nil {
			stop()
		}
		delete(h.watches, client.Owner)
	}
}

func (h *Hub) handleMessage(msg *Message) {
	h.mu.RLock()

	sender, exists := h.owners[msg.Owner][msg.ClientID]
	handler, handled := h.handlers[msg.Type]

	h.mu.RUnlock()

	if !exists {
		logger.Warn("sender client not found for message",
			"connection_id", msg.ClientID,
			"message_type", msg.Type,
		)
		return
	}

	if !handled {
		sender.SendError("bad_request", "unsupported message type", "message type not recognized")
		return
	}

	// run handler asynchronously to avoid blocking the hub
	go func() {
		if err := handler(h, sender, msg); err != nil {
			logger.ErrorErr(err, "handler error",
				"message_type", msg.Type,
				"connection_id", sender.ID,
			)

			sender.SendError("server_error", "failed to process message", err.Error())
		}
	}()
}

// sends a message to every connection of owner
func (h *Hub) BroadcastToOwner(owner string, msg *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ownerClients, exists := h.owners[owner]
	if !exists {
		return
	}

	h.sequences[owner]++
	msg.Sequence = h.sequences[owner]

	for id, client := range ownerClients {
		if err := client.Send(msg); err != nil {
			logger.Debug("failed to send message to client",
				"connection_id", id,
				"client_id", owner,
				"error", err,
			)
		}
	}
}

// returns the number of connections following owner
func (h *Hub) ClientCount(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[owner])
}

func (h *Hub) OwnerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners)
}

// checks if a new connection should be allowed based on limits
func (h *Hub) CanAcceptConnection(owner, ipAddress string) (bool, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.owners[owner]) >= maxConnectionsPerOwner {
		return false, "maximum connections per client exceeded"
	}

	if h.ipConnections[ipAddress] >= maxConnectionsPerIP {
		return false, "maximum connections per IP address exceeded"
	}

	return true, ""
}

// increments the connection count for an IP address
func (h *Hub) TrackIPConnection(ipAddress string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ipConnections[ipAddress]++
}

func (h *Hub) Shutdown() {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()

	if running {
		close(h.shutdown)
	}
}

func (h *Hub) closeAllConnections() {
	h.mu.Lock()

	logger.Info("notifying clients of server shutdown")

	for owner, ownerClients := range h.owners {
		shutdownMsg, err := NewMessage(TypeServerShutdown, owner, ServerShutdownPayload{
			Reason: "server is shutting down",
		})
		if err != nil {
			continue
		}

		for _, client := range ownerClients {
			client.Send(shutdownMsg) //nolint:errcheck,gosec // best effort
		}
	}

	h.mu.Unlock()

	// give clients time to receive the shutdown message
	time.Sleep(200 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ownerClients := range h.owners {
		for _, client := range ownerClients {
			client.Close()
		}
	}

	for _, stop := range h.watches {
		if stop != nil {
			stop()
		}
	}

	h.owners = make(map[string]map[string]*Client)
	h.ipConnections = make(map[string]int)
	h.sequences = make(map[string]uint64)
	h.watches = make(map[string]func())
}

// answers ping messages from clients (keep-alive)
func PingHandler() MessageHandler {
	return func(_ *Hub, client *Client, _ *Message) error {
		pongMsg, err := NewMessage(TypePong, client.Owner, nil)
		if err != nil {
			return err
		}
		client.Send(pongMsg) //nolint:errcheck,gosec // best-effort pong
		return nil
	}
}
