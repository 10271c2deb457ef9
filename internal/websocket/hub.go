package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultMaxPerOwner is the connection limit used when none is configured.
const DefaultMaxPerOwner = 10

// writeTimeout bounds a single push to a slow client.
const writeTimeout = 5 * time.Second

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
	// mu serializes writes; gorilla connections allow one concurrent writer.
	mu sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages active WebSocket connections per owner.
// An owner may have several connections (e.g., multiple tabs).
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]map[*Client]struct{} // owner -> set of clients
	maxPerOwner int
}

// NewHub creates a new Hub with a per-owner connection limit.
func NewHub(maxPerOwner int) *Hub {
	if maxPerOwner <= 0 {
		maxPerOwner = DefaultMaxPerOwner
	}
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		maxPerOwner: maxPerOwner,
	}
}

// Register adds a WebSocket connection for the owner.
// If the per-owner limit is reached, the new connection is closed and nil is returned.
func (h *Hub) Register(owner string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	ownerClients, ok := h.clients[owner]
	if !ok {
		ownerClients = make(map[*Client]struct{})
		h.clients[owner] = ownerClients
	}

	if len(ownerClients) >= h.maxPerOwner {
		logrus.WithFields(logrus.Fields{"owner": owner, "max": h.maxPerOwner}).Warn("Hub: too many connections, closing new connection")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this owner"),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	ownerClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the owner and closes the connection.
// It reports how many connections the owner has left.
func (h *Hub) Unregister(owner string, client *Client) int {
	if client == nil {
		return h.ActiveConnections(owner)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	_ = client.conn.Close()

	ownerClients, ok := h.clients[owner]
	if !ok {
		return 0
	}

	delete(ownerClients, client)
	if len(ownerClients) == 0 {
		delete(h.clients, owner)
	}
	return len(ownerClients)
}

// Send pushes msg to every active client of the owner.
func (h *Hub) Send(owner string, msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[owner]))
	for client := range h.clients[owner] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.write(msg); err != nil {
			logrus.WithField("owner", owner).WithError(err).Warn("Hub: failed to write message")
			// Best-effort cleanup: unregister this client.
			go h.Unregister(owner, client)
		}
	}
}

// ActiveConnections returns the number of active WebSocket connections for an owner.
func (h *Hub) ActiveConnections(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[owner])
}
