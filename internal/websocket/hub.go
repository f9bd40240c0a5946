package websocket

import (
	"context"
	"encoding/json"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/config"
	"gator-chat/internal/presence"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Intent is a frame sent by a client.
type Intent struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Ack answers exactly one intent.
type Ack struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	OK        bool        `json:"ok"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

const AckType = "ack"

// Dispatcher executes an intent on behalf of userID.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID uuid.UUID, intent Intent) (interface{}, error)
}

// ConnectionObserver runs after a connection has been registered.
type ConnectionObserver func(ctx context.Context, userID uuid.UUID)

// Hub binds websocket clients to the presence registry and pushes events to
// them. It implements bus.Publisher.
type Hub struct {
	Dispatcher Dispatcher
	OnConnect  ConnectionObserver

	registry       presence.Registry
	cfg            *config.WebsocketConfig
	metrics        *utils.MetricsCollector
	requestTimeout time.Duration
	log            *zap.SugaredLogger
}

func NewHub(registry presence.Registry, cfg *config.WebsocketConfig, metrics *utils.MetricsCollector) *Hub {
	if cfg == nil {
		cfg = config.DefaultWebsocketConfig()
	}
	return &Hub{
		registry:       registry,
		cfg:            cfg,
		metrics:        metrics,
		requestTimeout: 5 * time.Second,
		log:            zap.S().With("component", "websocket-hub"),
	}
}

// Publish encodes event once and queues it on every live connection of the
// audience. Full or closed connections drop the frame.
func (h *Hub) Publish(ctx context.Context, audience []uuid.UUID, event bus.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Errorw("marshal event", "type", event.Type, "error", err)
		return
	}

	for _, userID := range audience {
		for _, handle := range h.registry.LiveHandles(userID) {
			ok := handle.Deliver(payload)
			h.metrics.PushResult(ok)
			if !ok {
				h.log.Debugw("push dropped", "type", event.Type, "user", userID, "connection", handle.ID())
			}
		}
	}
}

// Register adds c to the registry, announces the new online set and runs
// the connection observer.
func (h *Hub) Register(ctx context.Context, c *Client) {
	n := h.registry.Register(c.UserID, c)
	h.log.Infow("client registered", "user", c.UserID, "connection", c.id, "connections", n)

	h.broadcastOnline(ctx)
	if h.OnConnect != nil {
		h.OnConnect(ctx, c.UserID)
	}
}

func (h *Hub) Unregister(ctx context.Context, c *Client) {
	remaining := h.registry.Unregister(c.UserID, c)
	h.log.Infow("client unregistered", "user", c.UserID, "connection", c.id, "remaining", remaining)
	if remaining == 0 {
		h.broadcastOnline(ctx)
	}
}

// Disconnect closes every live connection of userID and returns how many
// were closed.
func (h *Hub) Disconnect(userID uuid.UUID) int {
	handles := h.registry.LiveHandles(userID)
	for _, handle := range handles {
		handle.Close()
	}
	return len(handles)
}

func (h *Hub) broadcastOnline(ctx context.Context) {
	online := h.registry.OnlineUsers()
	h.Publish(ctx, online, bus.Event{
		Type:    bus.EventPresenceOnline,
		Payload: bus.PresenceOnline{Online: online},
	})
}

// dispatch runs one intent and builds its ack.
func (h *Hub) dispatch(userID uuid.UUID, intent Intent) Ack {
	h.metrics.IncrementRequests()
	ack := Ack{Type: AckType, RequestID: intent.RequestID}

	if h.Dispatcher == nil {
		appErr := utils.NewAppError(utils.ErrUpstream, "no dispatcher configured", nil)
		ack.Code, ack.Message = appErr.Code, appErr.Message
		return ack
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	data, err := h.Dispatcher.Dispatch(ctx, userID, intent)
	if err != nil {
		return h.reject(ack, err)
	}
	ack.OK = true
	ack.Data = data
	return ack
}

func (h *Hub) reject(ack Ack, err error) Ack {
	appErr := utils.AsAppError(err)
	h.metrics.IncrementErrors(appErr.Code)
	if appErr.Code == utils.ErrUpstream || appErr.Code == utils.ErrDatabase {
		h.log.Errorw("intent failed", "requestId", ack.RequestID, "error", err)
	}
	ack.OK = false
	ack.Code = appErr.Code
	ack.Message = appErr.Message
	return ack
}
