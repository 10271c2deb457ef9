package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/auth"
	ws "github.com/vdavid/vmail/mailcore/internal/websocket"
)

// InboxWatcher starts and stops per-owner change watchers.
type InboxWatcher interface {
	Start(owner string)
	Stop(owner string)
}

// WebSocketHandler handles the /api/v1/ws endpoint for real-time updates.
type WebSocketHandler struct {
	verifier *auth.Verifier
	hub      *ws.Hub
	watcher  InboxWatcher
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(verifier *auth.Verifier, hub *ws.Hub, watcher InboxWatcher) *WebSocketHandler {
	return &WebSocketHandler{verifier: verifier, hub: hub, watcher: watcher}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The server is expected to run behind a reverse proxy in a trusted environment.
		return true
	},
}

// Handle upgrades the connection and registers it with the hub. Browsers
// cannot set headers on WebSocket requests, so the token may also come in
// the ?token= query parameter.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r)
	}
	if token == "" {
		logrus.Debug("WebSocketHandler: no token provided")
		writeStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	owner, err := h.verifier.ValidateToken(token)
	if errors.Is(err, auth.ErrInactive) {
		writeStatus(w, http.StatusForbidden, "forbidden")
		return
	}
	if err != nil {
		logrus.WithError(err).Info("WebSocketHandler: token validation failed")
		writeStatus(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithField("owner", owner).WithError(err).Warn("WebSocketHandler: failed to upgrade connection")
		return
	}

	client := h.hub.Register(owner, conn)
	if client == nil {
		return
	}

	logrus.WithField("owner", owner).Debug("WebSocketHandler: connection established")
	h.watcher.Start(owner)

	go h.readLoop(owner, client)
}

// readLoop reads until the connection closes, then unregisters the client
// and stops the owner's watcher once no connection is left.
func (h *WebSocketHandler) readLoop(owner string, client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	if h.hub.Unregister(owner, client) == 0 {
		logrus.WithField("owner", owner).Debug("WebSocketHandler: last connection closed, stopping watcher")
		h.watcher.Stop(owner)
		// A connection may have registered while the watcher was stopping.
		if h.hub.ActiveConnections(owner) > 0 {
			h.watcher.Start(owner)
		}
	}
}
