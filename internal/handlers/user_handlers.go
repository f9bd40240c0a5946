package handlers

import (
	"net/http"
	"strings"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
)

// ProfilePayload updates the caller's display profile
type ProfilePayload struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

type OnlineResponse struct {
	Online []uuid.UUID `json:"online"`
}

type LogoutResponse struct {
	ClosedConnections int `json:"closedConnections"`
}

func (s *Server) HandleGetProfile() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		return s.Users.GetUser(r.Context(), caller)
	})
}

// HandleSaveProfile creates the caller's user record or updates its display
// fields. Relationship lists are only written by the friend and block routes.
func (s *Server) HandleSaveProfile() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		var req ProfilePayload
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		username := strings.TrimSpace(req.Username)
		if username == "" {
			return nil, utils.NewInvalidInputError("username is required")
		}
		return s.Users.SaveProfile(r.Context(), caller, username, req.AvatarURL, time.Now().UTC())
	})
}

// HandleAcceptFriend records a mutual friendship between the caller and the
// user in the path.
func (s *Server) HandleAcceptFriend() http.HandlerFunc {
	return s.handle(http.StatusNoContent, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		userID, err := pathID(r, "userId")
		if err != nil {
			return nil, err
		}
		if userID == caller {
			return nil, utils.NewInvalidInputError("cannot befriend yourself")
		}
		return nil, s.Users.AddFriendship(r.Context(), caller, userID)
	})
}

func (s *Server) HandleBlock(block bool) http.HandlerFunc {
	return s.handle(http.StatusNoContent, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		userID, err := pathID(r, "userId")
		if err != nil {
			return nil, err
		}
		if userID == caller {
			return nil, utils.NewInvalidInputError("cannot block yourself")
		}
		return nil, s.Users.SetBlocked(r.Context(), caller, userID, block)
	})
}

func (s *Server) HandleOnlineUsers() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		return OnlineResponse{Online: s.Presence.OnlineUsers()}, nil
	})
}

// HandleLogout closes every live connection of the caller and tells the
// remaining online users.
func (s *Server) HandleLogout() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		closed := s.Hub.Disconnect(caller)

		audience := make([]uuid.UUID, 0)
		for _, id := range s.Presence.OnlineUsers() {
			if id != caller {
				audience = append(audience, id)
			}
		}
		s.Publisher.Publish(r.Context(), audience, bus.Event{
			Type:    bus.EventUserLoggedOut,
			Payload: bus.UserLoggedOut{UserID: caller},
		})
		s.log.Infow("user logged out", "user", caller, "connections", closed)
		return LogoutResponse{ClosedConnections: closed}, nil
	})
}
