package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newHubServer registers every upgraded connection under the "owner" query parameter.
func newHubServer(t *testing.T, hub *Hub) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(r.URL.Query().Get("owner"), conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url, owner string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?owner="+owner, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, hub *Hub, owner string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ActiveConnections(owner) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHubSend(t *testing.T) {
	hub := NewHub(5)
	url := newHubServer(t, hub)

	first := dial(t, url, "alice")
	second := dial(t, url, "alice")
	other := dial(t, url, "bob")
	waitForConnections(t, hub, "alice", 2)
	waitForConnections(t, hub, "bob", 1)

	hub.Send("alice", []byte(`{"type":"folder_changed","folder":"inbox"}`))

	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"folder_changed","folder":"inbox"}`, string(msg))
	}

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "another owner's client must not receive the message")
}

func TestHubLimitsConnectionsPerOwner(t *testing.T) {
	hub := NewHub(1)
	url := newHubServer(t, hub)

	dial(t, url, "alice")
	waitForConnections(t, hub, "alice", 1)

	rejected := dial(t, url, "alice")
	_ = rejected.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := rejected.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Equal(t, 1, hub.ActiveConnections("alice"))
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub(0)
	assert.Equal(t, DefaultMaxPerOwner, hub.maxPerOwner)
	assert.Equal(t, 0, hub.Unregister("nobody", nil))

	url := newHubServer(t, hub)
	dial(t, url, "alice")
	dial(t, url, "alice")
	waitForConnections(t, hub, "alice", 2)

	hub.mu.RLock()
	var client *Client
	for c := range hub.clients["alice"] {
		client = c
		break
	}
	hub.mu.RUnlock()

	assert.Equal(t, 1, hub.Unregister("alice", client))
	assert.Equal(t, 1, hub.ActiveConnections("alice"))

	// Sending to the owner still reaches the remaining client without error.
	hub.Send("alice", []byte("ping"))
	hub.Send("nobody", []byte("ping"))
}
