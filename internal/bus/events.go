// Package bus defines the typed real-time events pushed to clients and the
// publisher abstraction that delivers them.
package bus

import (
	"context"
	"time"

	"gator-chat/internal/models"

	"github.com/google/uuid"
)

type EventType string

// Pushes to clients.
const (
	EventNewMessage        EventType = "new-message"
	EventMessageDelivered  EventType = "message-delivered"
	EventMessagesRead      EventType = "messages-read"
	EventReactionChanged   EventType = "message-reaction-changed"
	EventMessageEdited     EventType = "message-edited"
	EventPinnedChanged     EventType = "message-pinned-changed"
	EventPollUpdated       EventType = "poll-updated"
	EventDeletedForAll     EventType = "message-deleted-for-all"
	EventScheduledReleased EventType = "scheduled-message-released"
	EventTyping            EventType = "typing"
	EventPresenceOnline    EventType = "presence-online-list"
	EventUserLoggedOut     EventType = "user-logged-out"

	EventGroupCreated        EventType = "group-created"
	EventGroupUpdated        EventType = "group-updated"
	EventGroupMemberAdded    EventType = "group-member-added"
	EventGroupMemberRemoved  EventType = "group-member-removed"
	EventGroupMemberLeft     EventType = "group-member-left"
	EventGroupNewMessage     EventType = "group-new-message"
	EventGroupMessageDeleted EventType = "group-message-deleted"
	EventGroupPollUpdated    EventType = "group-poll-updated"
	EventGroupMessagesRead   EventType = "group-messages-read"
	EventGroupPinnedChanged  EventType = "group-pinned-changed"
	EventGroupMention        EventType = "group-mention"
	EventRemovedFromGroup    EventType = "you-were-removed-from-group"
)

// Event is a single push. Payload is marshalled to JSON by the transport.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// Publisher delivers an event to every live connection of the audience.
// Delivery is best-effort: failures are never reported to the caller.
type Publisher interface {
	Publish(ctx context.Context, audience []uuid.UUID, event Event)
}

type MessageDelivered struct {
	MessageID   uuid.UUID `json:"messageId"`
	ReceiverID  uuid.UUID `json:"receiverId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

type MessagesRead struct {
	ReaderID   uuid.UUID   `json:"readerId"`
	PeerID     uuid.UUID   `json:"peerId"`
	MessageIDs []uuid.UUID `json:"messageIds"`
	ReadAt     time.Time   `json:"readAt"`
}

type ReactionChanged struct {
	MessageID uuid.UUID         `json:"messageId"`
	UserID    uuid.UUID         `json:"userId"`
	Emoji     string            `json:"emoji,omitempty"` // empty when removed
	Reactions map[string]string `json:"reactions"`
}

type MessageEdited struct {
	MessageID uuid.UUID `json:"messageId"`
	Text      string    `json:"text"`
	EditedAt  time.Time `json:"editedAt"`
}

type PinnedChanged struct {
	MessageID uuid.UUID `json:"messageId"`
	Pinned    bool      `json:"pinned"`
	ActorID   uuid.UUID `json:"actorId"`
}

type PollUpdated struct {
	GroupID   *uuid.UUID   `json:"groupId,omitempty"`
	MessageID uuid.UUID    `json:"messageId"`
	Poll      *models.Poll `json:"poll"`
}

type MessageDeleted struct {
	GroupID   *uuid.UUID `json:"groupId,omitempty"`
	MessageID uuid.UUID  `json:"messageId"`
	Text      string     `json:"text"`
}

type ScheduledReleased struct {
	MessageID uuid.UUID             `json:"messageId"`
	State     models.LifecycleState `json:"lifecycleState"`
	SentAt    time.Time             `json:"sentAt"`
}

type Typing struct {
	UserID  uuid.UUID  `json:"userId"`
	PeerID  *uuid.UUID `json:"peerId,omitempty"`
	GroupID *uuid.UUID `json:"groupId,omitempty"`
	Typing  bool       `json:"typing"`
}

type PresenceOnline struct {
	Online []uuid.UUID `json:"online"`
}

type UserLoggedOut struct {
	UserID uuid.UUID `json:"userId"`
}

type GroupMembers struct {
	GroupID uuid.UUID     `json:"groupId"`
	ActorID uuid.UUID     `json:"actorId"`
	UserIDs []uuid.UUID   `json:"userIds"`
	Group   *models.Group `json:"group,omitempty"`
}

type RemovedFromGroup struct {
	GroupID   uuid.UUID `json:"groupId"`
	GroupName string    `json:"groupName"`
	ActorID   uuid.UUID `json:"actorId"`
}

type GroupMessagesRead struct {
	GroupID    uuid.UUID   `json:"groupId"`
	UserID     uuid.UUID   `json:"userId"`
	MessageIDs []uuid.UUID `json:"messageIds"`
}

type GroupPinnedChanged struct {
	GroupID   uuid.UUID  `json:"groupId"`
	MessageID *uuid.UUID `json:"messageId"`
	ActorID   uuid.UUID  `json:"actorId"`
}

type GroupMention struct {
	GroupID   uuid.UUID `json:"groupId"`
	MessageID uuid.UUID `json:"messageId"`
	SenderID  uuid.UUID `json:"senderId"`
}
