package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"gator-chat/internal/config"
	"gator-chat/internal/database"
	"gator-chat/internal/engine"
	"gator-chat/internal/media"
	"gator-chat/internal/middleware"
	"gator-chat/internal/models"
	"gator-chat/internal/presence"
	"gator-chat/internal/utils"
	"gator-chat/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret"

type testEnv struct {
	t        *testing.T
	srv      *httptest.Server
	db       *database.MemoryDB
	registry *presence.ShardedRegistry
	engine   *engine.Engine
}

type testUser struct {
	id    uuid.UUID
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Server:         &config.ServerConfig{NodeName: "test-node", MetricsEnabled: true},
		Database:       &config.DatabaseConfig{Type: config.DBTypeMemory},
		Websocket:      config.DefaultWebsocketConfig(),
		Redis:          &config.RedisConfig{},
		JWTSecret:      testSecret,
		SweepCron:      config.DefaultSweepCron,
		MediaMaxBytes:  1 << 20,
		AllowedOrigins: []string{"*"},
	}

	db := database.NewMemoryDB()
	registry := presence.NewRegistry()
	metrics := utils.NewMetricsCollector()
	hub := websocket.NewHub(registry, cfg.Websocket, metrics)
	eng := engine.NewEngine(db, registry, hub, metrics)
	hub.Dispatcher = NewIntentDispatcher(eng)
	hub.OnConnect = func(ctx context.Context, userID uuid.UUID) {
		eng.Direct.UserConnected(ctx, userID)
	}

	server := NewServer(cfg, eng, db, hub, registry, media.NewMemoryUploader(), metrics)
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)

	return &testEnv{t: t, srv: srv, db: db, registry: registry, engine: eng}
}

func (e *testEnv) do(method, path string, u *testUser, body interface{}) *http.Response {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(e.t, err)
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *testEnv) user(name string) *testUser {
	e.t.Helper()
	id := uuid.New()
	token, err := middleware.GenerateToken(testSecret, id)
	require.NoError(e.t, err)
	u := &testUser{id: id, token: token}

	resp := e.do(http.MethodPut, "/users/me", u, ProfilePayload{Username: name})
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	return u
}

func (e *testEnv) befriend(a, b *testUser) {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/friends/"+b.id.String(), a, nil)
	require.Equal(e.t, http.StatusNoContent, resp.StatusCode)
}

func (e *testEnv) dial(u *testUser) *ws.Conn {
	e.t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + u.token
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { conn.Close() })
	require.Eventually(e.t, func() bool { return e.registry.IsOnline(u.id) }, 2*time.Second, 10*time.Millisecond)
	return conn
}

type wireFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	OK        bool            `json:"ok"`
	Code      string          `json:"code"`
	Data      json.RawMessage `json:"data"`
	Payload   json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *ws.Conn, frameType string) wireFrame {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f wireFrame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == frameType {
			return f
		}
	}
}

func TestHealthIsPublicAndAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test-node", health.Node)

	resp = env.do(http.MethodGet, "/conversations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDirectMessageRESTFlow(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := env.user("alice"), env.user("bob")
	env.befriend(alice, bob)

	resp := env.do(http.MethodPost, "/messages", alice, SendDirectPayload{
		ReceiverID: bob.id,
		Content:    engine.Content{Text: "hi"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sent models.DirectMessage
	decodeBody(t, resp, &sent)
	assert.NotEqual(t, uuid.Nil, sent.ID)
	assert.Equal(t, models.StateSent, sent.State)

	resp = env.do(http.MethodGet, "/conversations/"+alice.id.String()+"/messages", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conversation []models.DirectMessage
	decodeBody(t, resp, &conversation)
	require.Len(t, conversation, 1)
	assert.Equal(t, "hi", conversation[0].Text)

	resp = env.do(http.MethodPost, "/conversations/"+alice.id.String()+"/read", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var read MarkReadResponse
	decodeBody(t, resp, &read)
	assert.Equal(t, []uuid.UUID{sent.ID}, read.MessageIDs)

	resp = env.do(http.MethodGet, "/messages/"+sent.ID.String(), alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched models.DirectMessage
	decodeBody(t, resp, &fetched)
	assert.Equal(t, models.StateRead, fetched.State)

	stranger := env.user("mallory")
	resp = env.do(http.MethodGet, "/messages/"+sent.ID.String(), stranger, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSocialGateErrorsMapToForbidden(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := env.user("alice"), env.user("bob")

	resp := env.do(http.MethodPost, "/messages", alice, SendDirectPayload{
		ReceiverID: bob.id,
		Content:    engine.Content{Text: "hello?"},
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	var appErr utils.AppError
	decodeBody(t, resp, &appErr)
	assert.Equal(t, utils.ErrNotFriends, appErr.Code)

	env.befriend(alice, bob)
	resp = env.do(http.MethodPost, "/blocks/"+alice.id.String(), bob, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(http.MethodPost, "/messages", alice, SendDirectPayload{
		ReceiverID: bob.id,
		Content:    engine.Content{Text: "hello?"},
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	decodeBody(t, resp, &appErr)
	assert.Equal(t, utils.ErrBlockedByReceiver, appErr.Code)

	resp = env.do(http.MethodPost, "/messages", alice, map[string]string{"receiverId": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProfileSaveKeepsRelations(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := env.user("alice"), env.user("bob")
	env.befriend(alice, bob)
	resp := env.do(http.MethodPost, "/blocks/"+alice.id.String(), bob, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(http.MethodPut, "/users/me", bob, ProfilePayload{Username: "bobby", AvatarURL: "http://img.test/b.png"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile models.User
	decodeBody(t, resp, &profile)
	assert.Equal(t, "bobby", profile.Username)
	assert.Contains(t, profile.BlockedUsers, alice.id)
	assert.Contains(t, profile.Friends, alice.id)

	resp = env.do(http.MethodPost, "/messages", alice, SendDirectPayload{
		ReceiverID: bob.id,
		Content:    engine.Content{Text: "still there?"},
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	var appErr utils.AppError
	decodeBody(t, resp, &appErr)
	assert.Equal(t, utils.ErrBlockedByReceiver, appErr.Code)
}

func TestGroupLifecycleOverREST(t *testing.T) {
	env := newTestEnv(t)
	owner, member, late := env.user("owner"), env.user("member"), env.user("late")

	resp := env.do(http.MethodPost, "/groups", owner, CreateGroupPayload{
		Name:      "gators",
		MemberIDs: []uuid.UUID{member.id},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var group models.Group
	decodeBody(t, resp, &group)
	require.Len(t, group.Members, 2)
	groupPath := "/groups/" + group.ID.String()

	resp = env.do(http.MethodPost, groupPath+"/messages", member, SendGroupPayload{Content: engine.Content{Text: "chomp"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(http.MethodPost, groupPath+"/members", member, MembersPayload{UserIDs: []uuid.UUID{late.id}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "members cannot add")

	resp = env.do(http.MethodPost, groupPath+"/members", owner, MembersPayload{UserIDs: []uuid.UUID{late.id}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodGet, groupPath+"/messages", late, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var visible []models.GroupMessage
	decodeBody(t, resp, &visible)
	for _, m := range visible {
		assert.NotEqual(t, "chomp", m.Text, "messages before joining stay hidden")
	}

	resp = env.do(http.MethodPut, groupPath+"/members/"+member.id.String()+"/role", owner, RolePayload{Role: models.RoleAdmin})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodPost, groupPath+"/leave", owner, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "owner must transfer first")

	resp = env.do(http.MethodPut, groupPath+"/owner", owner, OwnerPayload{UserID: member.id})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(http.MethodPost, groupPath+"/leave", owner, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(http.MethodGet, "/groups", member, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var groups []models.Group
	decodeBody(t, resp, &groups)
	require.Len(t, groups, 1)
	assert.Equal(t, member.id, groups[0].OwnerID)
}

func TestMediaUploadAndDownload(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user("alice")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="gator.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	part.Write([]byte("not really a png"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/media", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+alice.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var uploaded UploadResponse
	decodeBody(t, resp, &uploaded)
	assert.Equal(t, models.AttachmentImage, uploaded.Attachment.Kind)
	assert.True(t, strings.HasPrefix(uploaded.Attachment.URL, media.URLPrefix))

	download := env.do(http.MethodGet, uploaded.Attachment.URL, alice, nil)
	require.Equal(t, http.StatusOK, download.StatusCode)
	assert.Equal(t, "image/png", download.Header.Get("Content-Type"))
	data, err := io.ReadAll(download.Body)
	require.NoError(t, err)
	assert.Equal(t, "not really a png", string(data))

	missing := env.do(http.MethodGet, media.URLPrefix+"nothing", alice, nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestWebsocketSendIntentDeliversToReceiver(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := env.user("alice"), env.user("bob")
	env.befriend(alice, bob)

	aliceConn := env.dial(alice)
	bobConn := env.dial(bob)

	payload, err := json.Marshal(SendDirectPayload{ReceiverID: bob.id, Content: engine.Content{Text: "over the wire"}})
	require.NoError(t, err)
	require.NoError(t, aliceConn.WriteJSON(websocket.Intent{Type: IntentSendDirect, RequestID: "req-1", Payload: payload}))

	ack := readFrame(t, aliceConn, websocket.AckType)
	require.True(t, ack.OK, ack.Code)
	assert.Equal(t, "req-1", ack.RequestID)
	var sent models.DirectMessage
	require.NoError(t, json.Unmarshal(ack.Data, &sent))
	assert.Equal(t, models.StateDelivered, sent.State)

	push := readFrame(t, bobConn, "new-message")
	var received models.DirectMessage
	require.NoError(t, json.Unmarshal(push.Payload, &received))
	assert.Equal(t, sent.ID, received.ID)
	assert.Equal(t, "over the wire", received.Text)

	require.NoError(t, bobConn.WriteJSON(websocket.Intent{Type: "launch-rockets", RequestID: "req-2", Payload: json.RawMessage(`{}`)}))
	ack = readFrame(t, bobConn, websocket.AckType)
	assert.False(t, ack.OK)
	assert.Equal(t, utils.ErrInvalidInput, ack.Code)
}

func TestLogoutClosesConnections(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user("alice")
	conn := env.dial(alice)

	resp := env.do(http.MethodPost, "/logout", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out LogoutResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, 1, out.ClosedConnections)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool { return !env.registry.IsOnline(alice.id) }, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherValidatesConversationRef(t *testing.T) {
	env := newTestEnv(t)
	d := NewIntentDispatcher(env.engine)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, uuid.New(), websocket.Intent{Type: IntentMarkRead, Payload: json.RawMessage(`{}`)})
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))

	_, err = d.Dispatch(ctx, uuid.New(), websocket.Intent{Type: IntentTypingStart})
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))

	peer := uuid.New()
	group := uuid.New()
	_, err = d.Dispatch(ctx, uuid.New(), websocket.Intent{
		Type:    IntentTypingStop,
		Payload: json.RawMessage(`{"peerId":"` + peer.String() + `","groupId":"` + group.String() + `"}`),
	})
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))
}
