package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/config"
	"gator-chat/internal/presence"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(ctx context.Context, userID uuid.UUID, intent Intent) (interface{}, error) {
	switch intent.Type {
	case "forbidden":
		return nil, utils.NewForbiddenError("not yours")
	case "broken":
		return nil, errors.New("store unavailable")
	}
	return map[string]string{"echo": intent.Type, "user": userID.String()}, nil
}

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	OK        bool            `json:"ok"`
	Code      string          `json:"code"`
	Data      json.RawMessage `json:"data"`
	Payload   json.RawMessage `json:"payload"`
}

func testConfig() *config.WebsocketConfig {
	return &config.WebsocketConfig{SendBuffer: 32, MaxMessageSize: 4096, RateLimit: 1000, RateBurst: 1000}
}

func startServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.URL.Query().Get("user"))
		if err != nil {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, userID, conn)
		hub.Register(context.Background(), client)
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + userID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	// Every connection is greeted with the online list once registered.
	readUntil(t, conn, string(bus.EventPresenceOnline))
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, frameType string) frame {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == frameType {
			return f
		}
	}
}

func sendIntent(t *testing.T, conn *websocket.Conn, intentType, requestID string) frame {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Intent{Type: intentType, RequestID: requestID}))
	return readUntil(t, conn, AckType)
}

func TestIntentsAreAcknowledged(t *testing.T) {
	hub := NewHub(presence.NewRegistry(), testConfig(), nil)
	hub.Dispatcher = stubDispatcher{}
	srv := startServer(t, hub)
	user := uuid.New()
	conn := dial(t, srv, user)

	ack := sendIntent(t, conn, "echo-me", "r1")
	assert.True(t, ack.OK)
	assert.Equal(t, "r1", ack.RequestID)
	assert.JSONEq(t, `{"echo":"echo-me","user":"`+user.String()+`"}`, string(ack.Data))

	ack = sendIntent(t, conn, "forbidden", "r2")
	assert.False(t, ack.OK)
	assert.Equal(t, "r2", ack.RequestID)
	assert.Equal(t, utils.ErrForbidden, ack.Code)

	ack = sendIntent(t, conn, "broken", "r3")
	assert.False(t, ack.OK)
	assert.Equal(t, utils.ErrUpstream, ack.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ack = readUntil(t, conn, AckType)
	assert.False(t, ack.OK)
	assert.Equal(t, utils.ErrInvalidInput, ack.Code)
}

func TestPublishReachesEveryConnectionOfTheAudience(t *testing.T) {
	registry := presence.NewRegistry()
	hub := NewHub(registry, testConfig(), nil)
	srv := startServer(t, hub)

	alice, bob := uuid.New(), uuid.New()
	phone := dial(t, srv, alice)
	laptop := dial(t, srv, alice)
	other := dial(t, srv, bob)
	require.Len(t, registry.LiveHandles(alice), 2)

	hub.Publish(context.Background(), []uuid.UUID{alice}, bus.Event{
		Type:    bus.EventTyping,
		Payload: bus.Typing{UserID: bob, Typing: true},
	})

	for _, conn := range []*websocket.Conn{phone, laptop} {
		f := readUntil(t, conn, string(bus.EventTyping))
		var typing bus.Typing
		require.NoError(t, json.Unmarshal(f.Payload, &typing))
		assert.Equal(t, bob, typing.UserID)
		assert.True(t, typing.Typing)
	}

	// bob is not in the audience; his next frame is the ack to his own intent.
	ack := sendIntent(t, other, "anything", "r1")
	assert.Equal(t, "r1", ack.RequestID)
}

func TestRateLimitedIntentsAreRejected(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	hub := NewHub(presence.NewRegistry(), cfg, nil)
	hub.Dispatcher = stubDispatcher{}
	srv := startServer(t, hub)
	conn := dial(t, srv, uuid.New())

	assert.True(t, sendIntent(t, conn, "first", "r1").OK)

	ack := sendIntent(t, conn, "second", "r2")
	assert.False(t, ack.OK)
	assert.Equal(t, utils.ErrTooManyRequests, ack.Code)
}

func TestConnectObserverAndDisconnect(t *testing.T) {
	registry := presence.NewRegistry()
	hub := NewHub(registry, testConfig(), nil)
	connected := make(chan uuid.UUID, 1)
	hub.OnConnect = func(ctx context.Context, userID uuid.UUID) { connected <- userID }
	srv := startServer(t, hub)

	user := uuid.New()
	conn := dial(t, srv, user)

	select {
	case got := <-connected:
		assert.Equal(t, user, got)
	case <-time.After(2 * time.Second):
		t.Fatal("connect observer was not called")
	}

	assert.Equal(t, 1, hub.Disconnect(user))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return !registry.IsOnline(user) }, 2*time.Second, 10*time.Millisecond)
}

func TestClosedClientDropsDeliveries(t *testing.T) {
	hub := NewHub(presence.NewRegistry(), testConfig(), nil)
	c := &Client{hub: hub, id: "c1", send: make(chan []byte, 1)}

	assert.True(t, c.Deliver([]byte("a")))
	assert.False(t, c.Deliver([]byte("b")), "buffer full")

	c.Close()
	c.Close()
	assert.False(t, c.Deliver([]byte("c")))
}
