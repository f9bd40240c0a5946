package handlers

import (
	"net/http"

	"gator-chat/internal/websocket"
)

// HandleWebSocket upgrades an authenticated request and registers the
// connection with the hub. The token may come from the Authorization
// header or the token query parameter.
func (s *Server) HandleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			s.writeError(w, err)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			s.log.Warnw("websocket upgrade failed", "user", userID, "error", err)
			return
		}

		client := websocket.NewClient(s.Hub, userID, conn)
		s.Hub.Register(r.Context(), client)

		go client.WritePump()
		go client.ReadPump()
	}
}
