package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wricardo/courtside/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Outbound messages buffered per client before it is dropped.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dev server is reached through localhost, tunnels and tests.
		return true
	},
}

// Peer identifies the authenticated user behind a connection.
type Peer struct {
	UserID   int
	Username string
}

// Client is one WebSocket connection subscribed to a group.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	group     string
	peer      Peer
	onMessage func(*Client, []byte)
}

func (c *Client) Peer() Peer { return c.peer }

func (c *Client) Group() string { return c.group }

// Send queues data for this client only. It reports false if the client's
// buffer is full or the client is gone.
func (c *Client) Send(data []byte) bool {
	return c.hub.sendTo(c, data)
}

// ErrHubClosed is returned by Publish after Run has returned.
var ErrHubClosed = errors.New("websocket: hub closed")

type envelope struct {
	group string
	data  []byte
	skip  func(Peer) bool
}

// Hub maintains the set of active clients per group and broadcasts messages.
type Hub struct {
	logger *zap.Logger

	mu sync.RWMutex
	// Registered clients by group name
	groups map[string]map[*Client]bool

	// Outbound messages for a group
	broadcast chan envelope

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger.Named("hub"),
		groups:     make(map[string]map[*Client]bool),
		broadcast:  make(chan envelope, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. It returns when ctx is done, after
// closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case env := <-h.broadcast:
			h.broadcastMessage(env)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// ServeOptions configures an accepted connection.
type ServeOptions struct {
	Peer Peer
	// OnMessage receives every frame the client sends. Nil discards them.
	OnMessage func(*Client, []byte)
}

// ServeWS upgrades the request and subscribes the connection to group.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, group string, opts ServeOptions) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		group:     group,
		peer:      opts.Peer,
		onMessage: opts.OnMessage,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Start client goroutines
	go client.writePump()
	go client.readPump()
}

// Reject completes the handshake and immediately closes with code. Browsers
// cannot read HTTP error statuses of a failed handshake, so application
// errors travel as close codes.
func Reject(w http.ResponseWriter, r *http.Request, code int, reason string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	conn.Close()
}

// Publish encodes ev and sends it to every client in group.
func (h *Hub) Publish(group string, ev events.Event) error {
	return h.PublishExcept(group, ev, nil)
}

// PublishExcept is Publish skipping the peers skip reports true for.
func (h *Hub) PublishExcept(group string, ev events.Event, skip func(Peer) bool) error {
	data, err := events.Encode(ev)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- envelope{group: group, data: data, skip: skip}:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Count returns the number of clients in group.
func (h *Hub) Count(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// registerClient adds a client to a group
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.groups[client.group] == nil {
		h.groups[client.group] = make(map[*Client]bool)
	}
	h.groups[client.group][client] = true
	total := len(h.groups[client.group])
	h.mu.Unlock()

	h.logger.Debug("client registered",
		zap.String("group", client.group),
		zap.String("user", client.peer.Username),
		zap.Int("clients", total))
}

// unregisterClient removes a client from a group
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.groups[client.group]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)

	// Clean up empty groups
	if len(clients) == 0 {
		delete(h.groups, client.group)
	}

	h.logger.Debug("client unregistered",
		zap.String("group", client.group),
		zap.Int("remaining", len(clients)))
}

// broadcastMessage sends a message to all clients in a group
func (h *Hub) broadcastMessage(env envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.groups[env.group] {
		if env.skip != nil && env.skip(client.peer) {
			continue
		}
		select {
		case client.send <- env.data:
		default:
			// Client's send channel is full, drop it
			h.removeLocked(client)
		}
	}
}

func (h *Hub) sendTo(client *Client, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.groups[client.group][client] {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		h.removeLocked(client)
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.groups {
		for client := range clients {
			h.removeLocked(client)
		}
	}
}

// readPump pumps messages from the WebSocket connection to the handler
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.String("group", c.group), zap.Error(err))
			}
			break
		}
		if c.onMessage != nil {
			c.onMessage(c, data)
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection. Each
// message is its own frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
