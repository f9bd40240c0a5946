package handlers

import (
	"net/http"
	"time"

	"gator-chat/internal/engine"

	"github.com/google/uuid"
)

// SendDirectPayload is the body of a direct send, over REST or websocket.
type SendDirectPayload struct {
	ReceiverID  uuid.UUID  `json:"receiverId"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	engine.Content
}

func (p SendDirectPayload) request(sender uuid.UUID) engine.SendDirectRequest {
	return engine.SendDirectRequest{
		SenderID:    sender,
		ReceiverID:  p.ReceiverID,
		Content:     p.Content,
		ScheduledAt: p.ScheduledAt,
	}
}

// MarkReadResponse lists the ids acknowledged by one mark-read call
type MarkReadResponse struct {
	MessageIDs []uuid.UUID `json:"messageIds"`
}

// HandleSendDirect sends a direct message and returns it with its assigned id
func (s *Server) HandleSendDirect() http.HandlerFunc {
	return s.handle(http.StatusCreated, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		var req SendDirectPayload
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		return s.Engine.Direct.SendDirect(r.Context(), req.request(caller))
	})
}

func (s *Server) HandleGetMessage() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		messageID, err := pathID(r, "messageId")
		if err != nil {
			return nil, err
		}
		return s.Engine.Direct.GetMessage(r.Context(), caller, messageID)
	})
}

// HandleListConversations returns the caller's conversations, latest first
func (s *Server) HandleListConversations() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		return s.Engine.Direct.ListConversations(r.Context(), caller)
	})
}

func (s *Server) HandleGetConversation() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		peerID, err := pathID(r, "peerId")
		if err != nil {
			return nil, err
		}
		return s.Engine.Direct.GetConversation(r.Context(), caller, peerID)
	})
}

func (s *Server) HandleMarkRead() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		peerID, err := pathID(r, "peerId")
		if err != nil {
			return nil, err
		}
		ids, err := s.Engine.Direct.MarkRead(r.Context(), caller, peerID)
		if err != nil {
			return nil, err
		}
		return MarkReadResponse{MessageIDs: ids}, nil
	})
}
