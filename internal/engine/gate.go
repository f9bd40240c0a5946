package engine

import (
	"context"

	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
)

// Gate authorizes sends against the social graph. It has no side effects.
type Gate struct {
	relations database.RelationshipStore
}

func NewGate(relations database.RelationshipStore) *Gate {
	return &Gate{relations: relations}
}

// CanSend returns nil when sender may message receiver directly. Blocks are
// checked before friendship so a blocked pair always reports the block.
func (g *Gate) CanSend(ctx context.Context, sender, receiver uuid.UUID) error {
	if sender == receiver {
		return utils.NewInvalidInputError("cannot message yourself")
	}

	blocked, err := g.relations.IsBlocked(ctx, receiver, sender)
	if err != nil {
		return utils.NewAppError(utils.ErrUpstream, "relationship lookup failed", err)
	}
	if blocked {
		return utils.NewAppError(utils.ErrBlockedByReceiver, "you have been blocked by this user", nil)
	}

	blocked, err = g.relations.IsBlocked(ctx, sender, receiver)
	if err != nil {
		return utils.NewAppError(utils.ErrUpstream, "relationship lookup failed", err)
	}
	if blocked {
		return utils.NewAppError(utils.ErrBlockedBySender, "you have blocked this user", nil)
	}

	friends, err := g.relations.IsFriend(ctx, sender, receiver)
	if err != nil {
		return utils.NewAppError(utils.ErrUpstream, "relationship lookup failed", err)
	}
	if !friends {
		return utils.NewAppError(utils.ErrNotFriends, "direct messages require an accepted friendship", nil)
	}
	return nil
}

// CanSendToGroup requires membership, and admin rights when the group is
// announcement-only.
func CanSendToGroup(userID uuid.UUID, group *models.Group) error {
	if !group.IsMember(userID) {
		return utils.NewAppError(utils.ErrNotGroupMember, "not a member of this group", nil)
	}
	if group.AnnouncementOnly && !group.IsAdmin(userID) {
		return utils.NewAppError(utils.ErrAnnouncementOnly, "only admins can post in this group", nil)
	}
	return nil
}
