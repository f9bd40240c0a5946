package models

import (
	"time"

	"github.com/google/uuid"
)

type GroupRole string

const (
	RoleAdmin  GroupRole = "admin"
	RoleMember GroupRole = "member"
)

type GroupMember struct {
	UserID   uuid.UUID `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
	Role     GroupRole `json:"role"`
}

// GroupMessageSummary is the denormalized last message kept on the group.
type GroupMessageSummary struct {
	MessageID uuid.UUID   `json:"messageId"`
	SenderID  *uuid.UUID  `json:"senderId,omitempty"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Group struct {
	ID               uuid.UUID            `json:"id"`
	Name             string               `json:"name"`
	Description      string               `json:"description,omitempty"`
	AvatarURL        string               `json:"avatarUrl,omitempty"`
	OwnerID          uuid.UUID            `json:"ownerId"`
	Members          []GroupMember        `json:"members"`
	PinnedMessageID  *uuid.UUID           `json:"pinnedMessageId,omitempty"`
	AnnouncementOnly bool                 `json:"announcementOnly"`
	LastMessage      *GroupMessageSummary `json:"lastMessage,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// Member returns the membership entry of userID, if any.
func (g *Group) Member(userID uuid.UUID) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return GroupMember{}, false
}

func (g *Group) IsMember(userID uuid.UUID) bool {
	_, ok := g.Member(userID)
	return ok
}

// IsAdmin reports whether userID may perform admin operations. The owner is
// always an admin regardless of the stored role.
func (g *Group) IsAdmin(userID uuid.UUID) bool {
	if userID == g.OwnerID {
		return true
	}
	m, ok := g.Member(userID)
	return ok && m.Role == RoleAdmin
}

func (g *Group) MemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// AudienceFor returns the current members allowed to see a message created
// at createdAt, i.e. those who joined at or before it.
func (g *Group) AudienceFor(createdAt time.Time) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.Members))
	for _, m := range g.Members {
		if !m.JoinedAt.After(createdAt) {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

type GroupMessage struct {
	ID            uuid.UUID      `json:"id"`
	GroupID       uuid.UUID      `json:"groupId"`
	SenderID      *uuid.UUID     `json:"senderId,omitempty"` // nil for system messages
	Type          MessageType    `json:"type"`
	Text          string         `json:"text,omitempty"`
	Attachment    *Attachment    `json:"attachment,omitempty"`
	ReplyTo       *ReplySnapshot `json:"replyTo,omitempty"`
	ReadBy        []uuid.UUID    `json:"readBy"`
	DeletedFor    []uuid.UUID    `json:"-"`
	DeletedForAll bool           `json:"deletedForAll"`
	Mentions      []uuid.UUID    `json:"mentions,omitempty"`
	Poll          *Poll          `json:"poll,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// SentBy reports whether userID authored the message.
func (m *GroupMessage) SentBy(userID uuid.UUID) bool {
	return m.SenderID != nil && *m.SenderID == userID
}

func (m *GroupMessage) Summary() *GroupMessageSummary {
	return &GroupMessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Type:      m.Type,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
}

// VisibleTo applies join-date windowing and delete-for-me filtering.
func (m *GroupMessage) VisibleTo(member GroupMember) bool {
	if m.CreatedAt.Before(member.JoinedAt) {
		return false
	}
	return !containsID(m.DeletedFor, member.UserID)
}
