package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quii/vue-fast-sub001/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one websocket connection on the server side.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	dispatcher *Dispatcher
	logger     *slog.Logger
	remote     string

	send   chan []byte
	mu     sync.Mutex
	closed bool

	// codes is guarded by hub.mu.
	codes map[string]bool
}

func NewClient(hub *Hub, conn *websocket.Conn, dispatcher *Dispatcher, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		dispatcher: dispatcher,
		logger:     logger,
		remote:     conn.RemoteAddr().String(),
		send:       make(chan []byte, sendBuffer),
		codes:      make(map[string]bool),
	}
}

// enqueue queues a frame without blocking and reports whether it was accepted.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.send)
		c.closed = true
	}
}

func (c *Client) reply(env models.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("failed to marshal reply", slog.String("type", string(env.Type)), slog.Any("error", err))
		return
	}
	if !c.enqueue(frame) {
		c.logger.Warn("dropping reply for slow client",
			slog.String("remote", c.remote),
			slog.String("request_id", env.RequestID),
		)
	}
}

// ReadPump reads request frames and dispatches them in arrival order. It owns
// unregistration: when the socket fails the client leaves the hub.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.logger.Debug("realtime read pump closed", slog.String("remote", c.remote))
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("realtime client closed unexpectedly", slog.String("remote", c.remote), slog.Any("error", err))
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.reply(errorEnvelope(models.Envelope{}, models.ErrorCodeBadRequest, "frame is not a valid envelope"))
			continue
		}
		c.reply(c.dispatcher.Dispatch(ctx, c, env))
	}
}

func (c *Client) WritePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("realtime write failed", slog.String("remote", c.remote), slog.Any("error", err))
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
