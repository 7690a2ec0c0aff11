package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	frameBuffer    = 64
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrPollStatus = errors.New("unexpected poll status")
)

// Conn is one established realtime connection.
type Conn interface {
	// Frames yields inbound frames and is closed when the connection ends.
	Frames() <-chan []byte
	Send(frame []byte) error
	// Err reports why Frames was closed.
	Err() error
	Close() error
}

// Dialer opens realtime connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Poller fetches a room snapshot over plain request/response.
type Poller interface {
	Poll(ctx context.Context, roomID string) (models.RoomState, error)
}

// WSDialer dials the websocket endpoint of the signaling server.
type WSDialer struct {
	ServerURL         string
	Token             string
	HeartbeatInterval time.Duration
	// HeartbeatMisses silent intervals end the connection.
	HeartbeatMisses int
	Dialer          *websocket.Dialer
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := websocketURL(d.ServerURL, d.Token)
	if err != nil {
		return nil, err
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	interval := d.HeartbeatInterval
	if interval <= 0 {
		interval = 25 * time.Second
	}
	misses := d.HeartbeatMisses
	if misses < 1 {
		misses = 2
	}

	c := &wsConn{
		conn:     conn,
		frames:   make(chan []byte, frameBuffer),
		done:     make(chan struct{}),
		interval: interval,
		pongWait: interval * time.Duration(misses),
	}
	go c.readPump()
	go c.pingPump()
	return c, nil
}

// websocketURL maps an http(s) server URL to its ws(s) room endpoint.
func websocketURL(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/room"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type wsConn struct {
	conn     *websocket.Conn
	frames   chan []byte
	done     chan struct{}
	interval time.Duration
	pongWait time.Duration

	writeMu   sync.Mutex
	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
}

func (c *wsConn) Frames() <-chan []byte { return c.frames }

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) readPump() {
	defer close(c.frames)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			c.conn.Close()
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		select {
		case c.frames <- message:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) pingPump() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// HTTPPoller reads the polling endpoint of the signaling server.
type HTTPPoller struct {
	ServerURL string
	Token     string
	Client    *http.Client
}

func (p *HTTPPoller) Poll(ctx context.Context, roomID string) (models.RoomState, error) {
	var state models.RoomState
	endpoint := strings.TrimSuffix(p.ServerURL, "/") + "/api/rooms/" + url.PathEscape(roomID) + "/state"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return state, fmt.Errorf("build poll request: %w", err)
	}
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	httpClient := p.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return state, fmt.Errorf("poll room state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return state, fmt.Errorf("%w: %s", ErrPollStatus, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return state, fmt.Errorf("decode room state: %w", err)
	}
	return state, nil
}
