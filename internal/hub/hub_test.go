package hub_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/studyroom-signaling/internal/hub"
)

type echoHandler struct {
	h            *hub.Hub
	mu           sync.Mutex
	disconnected []string
	clients      chan *hub.Client
}

func (e *echoHandler) HandleMessage(c *hub.Client, message []byte) {
	e.h.Deliver(c.ID, append([]byte("echo:"), message...))
}

func (e *echoHandler) HandleDisconnect(c *hub.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, c.ID)
}

func (e *echoHandler) disconnects() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.disconnected)
}

func newServer(t *testing.T, opts hub.Options) (*hub.Hub, *echoHandler, string) {
	t.Helper()
	h := hub.New(opts, zerolog.Nop())
	handler := &echoHandler{h: h, clients: make(chan *hub.Client, 8)}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler.clients <- h.Serve(conn, r.URL.Query().Get("user"), handler)
	}))
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return h, handler, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEchoThroughPumps(t *testing.T) {
	_, handler, url := newServer(t, hub.Options{HeartbeatInterval: time.Second})
	conn := dial(t, url+"?user=u1")

	client := <-handler.clients
	assert.Equal(t, "u1", client.UserID)
	assert.NotEmpty(t, client.ID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(msg))
}

func TestDeliverToUnknownConnection(t *testing.T) {
	h, _, _ := newServer(t, hub.Options{})
	assert.False(t, h.Deliver("missing", []byte("x")))
}

func TestDisconnectSendsCloseAndNotifies(t *testing.T) {
	h, handler, url := newServer(t, hub.Options{HeartbeatInterval: time.Second})
	conn := dial(t, url)
	client := <-handler.clients

	require.True(t, h.Deliver(client.ID, []byte("last words")))
	h.Disconnect(client.ID)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "last words", string(msg))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Eventually(t, func() bool { return handler.disconnects() == 1 && h.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, h.Deliver(client.ID, []byte("late")))
}

func TestClientGoneTriggersDisconnect(t *testing.T) {
	h, handler, url := newServer(t, hub.Options{HeartbeatInterval: time.Second})
	conn := dial(t, url)
	<-handler.clients

	conn.Close()
	assert.Eventually(t, func() bool { return handler.disconnects() == 1 && h.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSilentClientIsDropped(t *testing.T) {
	h, handler, url := newServer(t, hub.Options{
		HeartbeatInterval: 50 * time.Millisecond,
		PongWait:          150 * time.Millisecond,
	})

	// a client that never reads never answers pings
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	<-handler.clients

	assert.Eventually(t, func() bool { return handler.disconnects() == 1 && h.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	_, handler, url := newServer(t, hub.Options{SendBuffer: 1, HeartbeatInterval: time.Second})
	dial(t, url)
	client := <-handler.clients

	accepted := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			if client.Send([]byte(strings.Repeat("x", 1024))) {
				accepted++
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked")
	}
	assert.Less(t, accepted, 10000)
}
