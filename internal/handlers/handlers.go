package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/config"
	"gator-chat/internal/database"
	"gator-chat/internal/engine"
	"gator-chat/internal/media"
	"gator-chat/internal/middleware"
	"gator-chat/internal/presence"
	"gator-chat/internal/utils"
	"gator-chat/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server holds all HTTP and websocket dependencies
type Server struct {
	Config   *config.Config
	Engine   *engine.Engine
	Users    database.UserStore
	Hub      *websocket.Hub
	Presence presence.Registry
	Media    media.Uploader
	Metrics  *utils.MetricsCollector

	// Publisher reaches every node; it defaults to the local hub.
	Publisher bus.Publisher

	// Optional sweep actor, queried by the health endpoint.
	Context        *actor.RootContext
	SweepPID       *actor.PID
	RequestTimeout time.Duration

	cors     *middleware.CORSConfig
	upgrader ws.Upgrader
	log      *zap.SugaredLogger
}

// NewServer creates a new Server instance with the given components
func NewServer(
	cfg *config.Config,
	eng *engine.Engine,
	users database.UserStore,
	hub *websocket.Hub,
	registry presence.Registry,
	uploader media.Uploader,
	metrics *utils.MetricsCollector,
) *Server {
	s := &Server{
		Config:         cfg,
		Engine:         eng,
		Users:          users,
		Hub:            hub,
		Publisher:      hub,
		Presence:       registry,
		Media:          uploader,
		Metrics:        metrics,
		RequestTimeout: 5 * time.Second, // Default timeout for actor requests
		cors:           middleware.DefaultCORSConfig(cfg.AllowedOrigins),
		log:            zap.S().With("component", "http"),
	}
	s.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.cors.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return s
}

// AttachSweeper lets the health endpoint report sweep statistics.
func (s *Server) AttachSweeper(root *actor.RootContext, pid *actor.PID) {
	s.Context = root
	s.SweepPID = pid
}

// Routes builds the router wrapped in CORS and token middleware.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.HandleHealth()).Methods(http.MethodGet)
	if s.Config.Server.MetricsEnabled && s.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws", s.HandleWebSocket()).Methods(http.MethodGet)

	// Direct messages
	r.HandleFunc("/conversations", s.HandleListConversations()).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{peerId}/messages", s.HandleGetConversation()).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{peerId}/read", s.HandleMarkRead()).Methods(http.MethodPost)
	r.HandleFunc("/messages", s.HandleSendDirect()).Methods(http.MethodPost)
	r.HandleFunc("/messages/{messageId}", s.HandleGetMessage()).Methods(http.MethodGet)

	// Groups
	r.HandleFunc("/groups", s.HandleCreateGroup()).Methods(http.MethodPost)
	r.HandleFunc("/groups", s.HandleListGroups()).Methods(http.MethodGet)
	r.HandleFunc("/groups/{groupId}", s.HandleGetGroup()).Methods(http.MethodGet)
	r.HandleFunc("/groups/{groupId}", s.HandleUpdateGroup()).Methods(http.MethodPatch)
	r.HandleFunc("/groups/{groupId}/members", s.HandleAddMembers()).Methods(http.MethodPost)
	r.HandleFunc("/groups/{groupId}/members/{userId}", s.HandleRemoveMember()).Methods(http.MethodDelete)
	r.HandleFunc("/groups/{groupId}/members/{userId}/role", s.HandleSetRole()).Methods(http.MethodPut)
	r.HandleFunc("/groups/{groupId}/leave", s.HandleLeaveGroup()).Methods(http.MethodPost)
	r.HandleFunc("/groups/{groupId}/owner", s.HandleTransferOwnership()).Methods(http.MethodPut)
	r.HandleFunc("/groups/{groupId}/pin", s.HandlePinGroupMessage()).Methods(http.MethodPut)
	r.HandleFunc("/groups/{groupId}/messages", s.HandleGetGroupConversation()).Methods(http.MethodGet)
	r.HandleFunc("/groups/{groupId}/messages", s.HandleSendGroupMessage()).Methods(http.MethodPost)
	r.HandleFunc("/groups/{groupId}/read", s.HandleMarkGroupRead()).Methods(http.MethodPost)

	// Users and relationships
	r.HandleFunc("/users/me", s.HandleGetProfile()).Methods(http.MethodGet)
	r.HandleFunc("/users/me", s.HandleSaveProfile()).Methods(http.MethodPut)
	r.HandleFunc("/friends/{userId}", s.HandleAcceptFriend()).Methods(http.MethodPost)
	r.HandleFunc("/blocks/{userId}", s.HandleBlock(true)).Methods(http.MethodPost)
	r.HandleFunc("/blocks/{userId}", s.HandleBlock(false)).Methods(http.MethodDelete)
	r.HandleFunc("/presence", s.HandleOnlineUsers()).Methods(http.MethodGet)
	r.HandleFunc("/logout", s.HandleLogout()).Methods(http.MethodPost)

	// Media
	r.HandleFunc("/media", s.HandleUploadMedia()).Methods(http.MethodPost)
	r.HandleFunc(media.URLPrefix+"{blobId}", s.HandleDownloadMedia()).Methods(http.MethodGet)

	var h http.Handler = r
	h = middleware.AuthMiddleware(s.Config.JWTSecret)(h)
	h = middleware.CORSMiddleware(s.cors)(h)
	return h
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warnw("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr := utils.AsAppError(err)
	status := utils.AppErrorToHTTPStatus(appErr.Code)
	s.Metrics.IncrementErrors(appErr.Code)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "code", appErr.Code, "error", err)
	}
	s.writeJSON(w, status, appErr)
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return utils.NewInvalidInputError("invalid request body")
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, utils.NewInvalidInputError("invalid " + name)
	}
	return id, nil
}

func callerID(r *http.Request) (uuid.UUID, error) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, utils.NewUnauthorizedError("missing identity")
	}
	return userID, nil
}

// handle adapts fn into a handler that counts the request, resolves the
// caller and turns fn's error into a JSON error response.
func (s *Server) handle(status int, fn func(r *http.Request, caller uuid.UUID) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()
		caller, err := callerID(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		result, err := fn(r, caller)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if result == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.writeJSON(w, status, result)
	}
}
