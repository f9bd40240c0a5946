package handlers

import (
	"net/http"

	"gator-chat/internal/database"
	"gator-chat/internal/engine"
	"gator-chat/internal/models"

	"github.com/google/uuid"
)

type CreateGroupPayload struct {
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	AvatarURL        string      `json:"avatarUrl"`
	MemberIDs        []uuid.UUID `json:"memberIds"`
	AnnouncementOnly bool        `json:"announcementOnly"`
}

// UpdateGroupPayload carries only the fields being changed
type UpdateGroupPayload struct {
	Name             *string `json:"name"`
	Description      *string `json:"description"`
	AvatarURL        *string `json:"avatarUrl"`
	AnnouncementOnly *bool   `json:"announcementOnly"`
}

type MembersPayload struct {
	UserIDs []uuid.UUID `json:"userIds"`
}

type RolePayload struct {
	Role models.GroupRole `json:"role"`
}

type OwnerPayload struct {
	UserID uuid.UUID `json:"userId"`
}

// PinPayload pins MessageID, or clears the pin when it is null
type PinPayload struct {
	MessageID *uuid.UUID `json:"messageId"`
}

// SendGroupPayload is the body of a group send, over REST or websocket.
type SendGroupPayload struct {
	GroupID  uuid.UUID   `json:"groupId"`
	Mentions []uuid.UUID `json:"mentions,omitempty"`
	engine.Content
}

func (p SendGroupPayload) request(sender uuid.UUID) engine.SendGroupRequest {
	return engine.SendGroupRequest{
		SenderID: sender,
		GroupID:  p.GroupID,
		Content:  p.Content,
		Mentions: p.Mentions,
	}
}

func (s *Server) HandleCreateGroup() http.HandlerFunc {
	return s.handle(http.StatusCreated, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		var req CreateGroupPayload
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		return s.Engine.Groups.CreateGroup(r.Context(), engine.CreateGroupRequest{
			OwnerID:          caller,
			Name:             req.Name,
			Description:      req.Description,
			AvatarURL:        req.AvatarURL,
			MemberIDs:        req.MemberIDs,
			AnnouncementOnly: req.AnnouncementOnly,
		})
	})
}

func (s *Server) HandleListGroups() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		return s.Engine.Groups.ListGroups(r.Context(), caller)
	})
}

func (s *Server) HandleGetGroup() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		return s.Engine.Groups.GetGroup(r.Context(), caller, groupID)
	})
}

func (s *Server) HandleUpdateGroup() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		var req UpdateGroupPayload
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		return s.Engine.Groups.UpdateGroup(r.Context(), caller, groupID, database.GroupUpdate{
			Name:             req.Name,
			Description:      req.Description,
			AvatarURL:        req.AvatarURL,
			AnnouncementOnly: req.AnnouncementOnly,
		})
	})
}

func (s *Server) HandleAddMembers() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		var req MembersPayload
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		return s.Engine.Groups.AddMembers(r.Context(), caller, groupID, req.UserIDs)
	})
}

func (s *Server) HandleRemoveMember() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		userID, err := pathID(r, "userId")
		if err != nil {
			return nil, err
		}
		return s.Engine.Groups.RemoveMember(r.Context(), caller, groupID, userID)
	})
}

func (s *Server) HandleSetRole() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		userID, err := pathID(r, "userId")
		if err != nil {
			return nil, err
		}
		var req RolePayload
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		return s.Engine.Groups.SetRole(r.Context(), caller, groupID, userID, req.Role)
	})
}

func (s *Server) HandleLeaveGroup() http.HandlerFunc {
	return s.handle(http.StatusNoContent, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		return nil, s.Engine.Groups.Leave(r.Context(), caller, groupID)
	})
}

func (s *Server) HandleTransferOwnership() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		var req OwnerPayload
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		return s.Engine.Groups.TransferOwnership(r.Context(), caller, groupID, req.UserID)
	})
}

func (s *Server) HandlePinGroupMessage() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		var req PinPayload
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		return s.Engine.Groups.Pin(r.Context(), caller, groupID, req.MessageID)
	})
}

func (s *Server) HandleGetGroupConversation() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		return s.Engine.Groups.GetConversation(r.Context(), caller, groupID)
	})
}

func (s *Server) HandleSendGroupMessage() http.HandlerFunc {
	return s.handle(http.StatusCreated, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		var req SendGroupPayload
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		req.GroupID = groupID
		return s.Engine.Groups.SendGroupMessage(r.Context(), req.request(caller))
	})
}

func (s *Server) HandleMarkGroupRead() http.HandlerFunc {
	return s.handle(http.StatusOK, func(r *http.Request, caller uuid.UUID) (interface{}, error) {
		groupID, err := pathID(r, "groupId")
		if err != nil {
			return nil, err
		}
		ids, err := s.Engine.Groups.MarkRead(r.Context(), caller, groupID)
		if err != nil {
			return nil, err
		}
		return MarkReadResponse{MessageIDs: ids}, nil
	})
}
