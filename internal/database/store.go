package database

import (
	"context"
	"errors"
	"time"

	"gator-chat/internal/models"

	"github.com/google/uuid"
)

// ErrConflict is returned when a conditional update matched the document id
// but not the expected prior state.
var ErrConflict = errors.New("conditional update did not match")

// RelationshipStore is the social graph read model consulted by the gate.
type RelationshipStore interface {
	// IsFriend reports whether a and b are mutual friends.
	IsFriend(ctx context.Context, a, b uuid.UUID) (bool, error)
	IsBlocked(ctx context.Context, blocker, blocked uuid.UUID) (bool, error)
}

// UserStore extends the read model with the writes used by friend
// acceptance and block actions.
type UserStore interface {
	RelationshipStore
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	// SaveUser writes the whole user record, relations included. It is meant
	// for seeding and imports.
	SaveUser(ctx context.Context, user *models.User) error
	// SaveProfile creates the user or updates only its display fields.
	// Friends and blocks are never touched by a profile write.
	SaveProfile(ctx context.Context, id uuid.UUID, username, avatarURL string, at time.Time) (*models.User, error)
	AddFriendship(ctx context.Context, a, b uuid.UUID) error
	SetBlocked(ctx context.Context, blocker, blocked uuid.UUID, block bool) error
}

// MessageStore is the durable log of direct messages. Reads are filtered
// views computed per query; every state change is a conditional update.
type MessageStore interface {
	InsertDirectMessage(ctx context.Context, msg *models.DirectMessage) error
	GetDirectMessage(ctx context.Context, id uuid.UUID) (*models.DirectMessage, error)
	// TransitionDirectMessage sets the state to `to` only when the current
	// state is one of `from`, and reports whether it did.
	TransitionDirectMessage(ctx context.Context, id uuid.UUID, from []models.LifecycleState, to models.LifecycleState, at time.Time) (bool, error)
	// FindConversation returns the messages between a and b visible to
	// viewer, ordered by creation time then id.
	FindConversation(ctx context.Context, a, b, viewer uuid.UUID) ([]*models.DirectMessage, error)
	ListConversations(ctx context.Context, viewer uuid.UUID) ([]*models.Conversation, error)
	// FindPendingDelivery returns messages to receiver still in state sent.
	FindPendingDelivery(ctx context.Context, receiver uuid.UUID) ([]*models.DirectMessage, error)
	// FindUnread returns messages from sender to receiver not yet read.
	FindUnread(ctx context.Context, sender, receiver uuid.UUID) ([]*models.DirectMessage, error)
	FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.DirectMessage, error)

	// ToggleReaction removes userID's reaction when it equals emoji and
	// sets it otherwise. The boolean reports whether a reaction is now set.
	ToggleReaction(ctx context.Context, id, userID uuid.UUID, emoji string) (*models.DirectMessage, bool, error)
	EditDirectMessage(ctx context.Context, id, senderID uuid.UUID, text string, editedAt, notBefore time.Time) (*models.DirectMessage, error)
	SetDirectPinned(ctx context.Context, id uuid.UUID, pinned bool) (*models.DirectMessage, error)
	VoteDirectPoll(ctx context.Context, id, userID uuid.UUID, option int) (*models.DirectMessage, error)
	DeleteDirectForAll(ctx context.Context, id, senderID uuid.UUID) (*models.DirectMessage, error)
	DeleteDirectForMe(ctx context.Context, id, viewer uuid.UUID) error
}

// GroupUpdate holds the optional group fields an admin may change.
type GroupUpdate struct {
	Name             *string
	Description      *string
	AvatarURL        *string
	AnnouncementOnly *bool
}

// GroupStore persists groups and their messages. Every membership write
// takes the system message recording it; the change and the record are
// committed as one unit, or neither is.
type GroupStore interface {
	CreateGroup(ctx context.Context, group *models.Group, record *models.GroupMessage) error
	GetGroup(ctx context.Context, id uuid.UUID) (*models.Group, error)
	ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Group, error)
	// AddGroupMembers fails with ErrConflict if any of members already belongs.
	AddGroupMembers(ctx context.Context, groupID uuid.UUID, members []models.GroupMember, record *models.GroupMessage) (*models.Group, error)
	// RemoveGroupMember never removes the owner.
	RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID, record *models.GroupMessage) (*models.Group, error)
	SetMemberRole(ctx context.Context, groupID, userID uuid.UUID, role models.GroupRole, record *models.GroupMessage) (*models.Group, error)
	TransferOwnership(ctx context.Context, groupID, from, to uuid.UUID, record *models.GroupMessage) (*models.Group, error)
	UpdateGroupInfo(ctx context.Context, groupID uuid.UUID, update GroupUpdate, record *models.GroupMessage) (*models.Group, error)
	SetPinnedMessage(ctx context.Context, groupID uuid.UUID, messageID *uuid.UUID) (*models.Group, error)

	// AppendGroupMessage persists msg and the group's last message summary
	// as one unit.
	AppendGroupMessage(ctx context.Context, msg *models.GroupMessage) error
	GetGroupMessage(ctx context.Context, id uuid.UUID) (*models.GroupMessage, error)
	FindGroupConversation(ctx context.Context, groupID uuid.UUID, viewer models.GroupMember) ([]*models.GroupMessage, error)
	// MarkGroupRead adds the member to readBy of every visible message and
	// returns the ids this call marked. Concurrent calls never report the
	// same id twice.
	MarkGroupRead(ctx context.Context, groupID uuid.UUID, member models.GroupMember) ([]uuid.UUID, error)
	DeleteGroupMessageForAll(ctx context.Context, id, senderID uuid.UUID) (*models.GroupMessage, error)
	DeleteGroupMessageForMe(ctx context.Context, id, viewer uuid.UUID) error
	VoteGroupPoll(ctx context.Context, id, userID uuid.UUID, option int) (*models.GroupMessage, error)
}

// Store is everything the engine needs from persistence.
type Store interface {
	UserStore
	MessageStore
	GroupStore
	Close(ctx context.Context) error
}
