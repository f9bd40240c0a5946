package models

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleState is the delivery progress of a direct message.
type LifecycleState string

const (
	StateScheduled LifecycleState = "scheduled"
	StateSent      LifecycleState = "sent"
	StateDelivered LifecycleState = "delivered"
	StateRead      LifecycleState = "read"
)

// Rank orders lifecycle states. A message never moves to a lower rank.
func (s LifecycleState) Rank() int {
	switch s {
	case StateScheduled:
		return 0
	case StateSent:
		return 1
	case StateDelivered:
		return 2
	case StateRead:
		return 3
	default:
		return -1
	}
}

// EditWindow is how long after creation a sender may still edit a message.
const EditWindow = 5 * time.Minute

// TombstoneText replaces the body of a message deleted for everyone.
const TombstoneText = "This message was deleted"

type DirectMessage struct {
	ID                 uuid.UUID         `json:"id"`
	SenderID           uuid.UUID         `json:"senderId"`
	ReceiverID         uuid.UUID         `json:"receiverId"`
	Text               string            `json:"text,omitempty"`
	Attachment         *Attachment       `json:"attachment,omitempty"`
	State              LifecycleState    `json:"lifecycleState"`
	ScheduledReleaseAt *time.Time        `json:"scheduledReleaseAt,omitempty"`
	ReplyTo            *ReplySnapshot    `json:"replyTo,omitempty"`
	Reactions          map[string]string `json:"reactions,omitempty"` // user id -> emoji
	Edited             bool              `json:"edited"`
	EditedAt           *time.Time        `json:"editedAt,omitempty"`
	Pinned             bool              `json:"pinned"`
	DeletedForAll      bool              `json:"deletedForAll"`
	DeletedFor         []uuid.UUID       `json:"-"`
	Poll               *Poll             `json:"poll,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	SentAt             *time.Time        `json:"sentAt,omitempty"`
	DeliveredAt        *time.Time        `json:"deliveredAt,omitempty"`
	ReadAt             *time.Time        `json:"readAt,omitempty"`
}

// IsParty reports whether userID is the sender or the receiver.
func (m *DirectMessage) IsParty(userID uuid.UUID) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Peer returns the other party of the conversation as seen by userID.
func (m *DirectMessage) Peer(userID uuid.UUID) uuid.UUID {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// VisibleTo reports whether viewer may see the message. Scheduled messages
// stay hidden from the receiver until the sweep releases them.
func (m *DirectMessage) VisibleTo(viewer uuid.UUID) bool {
	if !m.IsParty(viewer) {
		return false
	}
	if containsID(m.DeletedFor, viewer) {
		return false
	}
	if viewer == m.SenderID {
		return true
	}
	if m.State == StateScheduled {
		return false
	}
	return true
}

// Audience returns the users that hold a visible reference to the message.
func (m *DirectMessage) Audience() []uuid.UUID {
	if m.State == StateScheduled {
		return []uuid.UUID{m.SenderID}
	}
	return []uuid.UUID{m.SenderID, m.ReceiverID}
}

// Conversation is the latest visible message exchanged with one peer.
type Conversation struct {
	PeerID      uuid.UUID      `json:"peerId"`
	LastMessage *DirectMessage `json:"lastMessage"`
	UnreadCount int            `json:"unreadCount"`
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
