// Package hub owns the live websocket connections and their read and write pumps.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mossy-p/studyroom-signaling/internal/metrics"
)

const writeWait = 10 * time.Second

// Handler receives what the pumps read.
type Handler interface {
	HandleMessage(c *Client, message []byte)
	// HandleDisconnect runs once per connection after its read pump stops.
	HandleDisconnect(c *Client)
}

type Options struct {
	SendBuffer        int
	HeartbeatInterval time.Duration
	// PongWait is how long a connection may stay silent before it is dropped.
	PongWait       time.Duration
	MaxMessageSize int64
}

// Hub indexes connections by id so frames can be addressed to one of them.
type Hub struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

func New(opts Options, logger zerolog.Logger) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 25 * time.Second
	}
	if opts.PongWait <= opts.HeartbeatInterval {
		opts.PongWait = 2 * opts.HeartbeatInterval
	}
	return &Hub{
		opts:    opts,
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[string]*Client),
	}
}

// Client is one websocket connection.
type Client struct {
	ID string
	// UserID is the verified identity from the upgrade request, empty when anonymous.
	UserID string

	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Serve registers conn under a fresh connection id and starts its pumps.
func (h *Hub) Serve(conn *websocket.Conn, userID string, handler Handler) *Client {
	c := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	metrics.WebsocketConnections.Inc()
	h.logger.Debug().Str("connection_id", c.ID).Str("user_id", userID).Msg("connection opened")

	go c.writePump()
	go c.readPump(handler)
	return c
}

// Deliver queues frame on connID without blocking. A full buffer drops the frame.
func (h *Hub) Deliver(connID string, frame []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		metrics.MessagesDropped.WithLabelValues("closed").Inc()
		return false
	}
	return c.Send(frame)
}

// Disconnect closes connID if it is still open.
func (h *Hub) Disconnect(connID string) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.Close()
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.ID] == c {
		delete(h.clients, c.ID)
		metrics.WebsocketConnections.Dec()
	}
}

// Send queues frame without blocking and reports whether it was accepted.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		metrics.MessagesDropped.WithLabelValues("closed").Inc()
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		metrics.MessagesDropped.WithLabelValues("buffer_full").Inc()
		c.hub.logger.Warn().Str("connection_id", c.ID).Msg("failed to send message, buffer full")
		return false
	}
}

// Close stops the write pump, which sends a close frame and closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readPump(handler Handler) {
	defer func() {
		c.hub.unregister(c)
		c.Close()
		c.conn.Close()
		handler.HandleDisconnect(c)
		c.hub.logger.Debug().Str("connection_id", c.ID).Msg("connection closed")
	}()

	pongWait := c.hub.opts.PongWait
	if c.hub.opts.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// clients ping too; answer and count it as liveness
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("connection_id", c.ID).Msg("websocket error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		handler.HandleMessage(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// flush what is already queued, then say goodbye
			for {
				select {
				case message := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
