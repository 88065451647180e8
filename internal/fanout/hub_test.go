package fanout

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agentrelay/internal/models"
)

func newTestHub(t *testing.T, opts Options) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop(), opts)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt models.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestBroadcastDeliversInOrder(t *testing.T) {
	hub, srv := newTestHub(t, Options{})
	first := dial(t, srv)
	second := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	const n = 50
	for i := 1; i <= n; i++ {
		hub.Broadcast(models.NewMessageEvent(&models.Message{ID: int64(i), Content: fmt.Sprintf("m%d", i), Room: "general"}))
	}

	for _, conn := range []*websocket.Conn{first, second} {
		for i := 1; i <= n; i++ {
			evt := readEvent(t, conn)
			require.Equal(t, models.EventNewMessage, evt.Type)
			require.NotNil(t, evt.Message)
			assert.EqualValues(t, i, evt.Message.ID)
		}
	}
}

func TestAgentJoinedEventShape(t *testing.T) {
	hub, srv := newTestHub(t, Options{})
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(models.AgentJoinedEvent(&models.Agent{Name: "Alice", CreatedAt: time.Now(), LastSeen: time.Now()}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "agent_joined", raw["type"])
	agent, ok := raw["agent"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", agent["name"])
	assert.NotContains(t, agent, "apiKey")
	assert.NotContains(t, raw, "message")
}

func TestDisconnectedViewerIsRemoved(t *testing.T) {
	hub, srv := newTestHub(t, Options{})
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Broadcasting to nobody is fine.
	hub.Broadcast(models.NewMessageEvent(&models.Message{ID: 1}))
}

func TestSlowViewerIsDroppedWithoutBlocking(t *testing.T) {
	hub := NewHub(zerolog.Nop(), Options{Buffer: 1})

	// No pumps run for this viewer, so its queue never drains.
	slow := newClient(hub, nil, 1)
	require.True(t, hub.register(slow))

	done := make(chan struct{})
	go func() {
		hub.Broadcast(models.NewMessageEvent(&models.Message{ID: 1}))
		hub.Broadcast(models.NewMessageEvent(&models.Message{ID: 2}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow viewer")
	}
	assert.Zero(t, hub.Count())
	assert.False(t, slow.enqueue([]byte("late")))
}

func TestClosedHubRejectsViewers(t *testing.T) {
	hub, srv := newTestHub(t, Options{})
	hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, hub.Count())
}

func TestCheckOrigin(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")

	assert.True(t, checkOrigin(nil)(req))
	assert.True(t, checkOrigin([]string{"*"})(req))
	assert.False(t, checkOrigin([]string{"https://relay.example"})(req))

	req.Header.Set("Origin", "https://relay.example")
	assert.True(t, checkOrigin([]string{"https://relay.example"})(req))
}
