package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client is a middleman between the websocket connection and the hub. It
// satisfies presence.Handle.
type Client struct {
	UserID uuid.UUID

	hub     *Hub
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(hub *Hub, userID uuid.UUID, conn *websocket.Conn) *Client {
	return &Client{
		UserID:  userID,
		hub:     hub,
		id:      uuid.NewString(),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(hub.cfg.RateLimit), hub.cfg.RateBurst),
		send:    make(chan []byte, hub.cfg.SendBuffer),
	}
}

func (c *Client) ID() string { return c.id }

// Deliver queues payload without blocking.
func (c *Client) Deliver(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame and drops the
// connection. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads intents from the connection until it fails, answering each
// with an ack.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(context.Background(), c)
		c.Close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnw("websocket read error", "user", c.UserID, "error", err)
			}
			break
		}
		c.reply(c.handle(message))
	}
}

func (c *Client) handle(message []byte) Ack {
	var intent Intent
	if err := json.Unmarshal(message, &intent); err != nil || intent.Type == "" {
		return c.hub.reject(Ack{Type: AckType}, utils.NewInvalidInputError("malformed intent frame"))
	}
	if !c.limiter.Allow() {
		return c.hub.reject(Ack{Type: AckType, RequestID: intent.RequestID},
			utils.NewAppError(utils.ErrTooManyRequests, "too many requests", nil))
	}
	return c.hub.dispatch(c.UserID, intent)
}

func (c *Client) reply(ack Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		c.hub.log.Errorw("marshal ack", "requestId", ack.RequestID, "error", err)
		return
	}
	if !c.Deliver(data) {
		c.hub.log.Debugw("ack dropped", "user", c.UserID, "requestId", ack.RequestID)
	}
}

// WritePump writes queued frames and keepalive pings to the connection.
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
				// Close was called.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.log.Debugw("websocket write error", "user", c.UserID, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.log.Debugw("websocket ping error", "user", c.UserID, "error", err)
				return
			}
		}
	}
}
