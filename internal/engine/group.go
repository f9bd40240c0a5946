package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GroupFanout extends delivery to N-member groups: membership-windowed
// visibility, per-member read tracking and role-gated mutations. Every
// membership change is recorded as a system message.
type GroupFanout struct {
	*core
	log *zap.SugaredLogger
}

type CreateGroupRequest struct {
	OwnerID          uuid.UUID
	Name             string
	Description      string
	AvatarURL        string
	MemberIDs        []uuid.UUID
	AnnouncementOnly bool
}

type SendGroupRequest struct {
	SenderID uuid.UUID
	GroupID  uuid.UUID
	Content  Content
	Mentions []uuid.UUID
}

func notMember() error {
	return utils.NewAppError(utils.ErrNotGroupMember, "not a member of this group", nil)
}

func uniqueIDs(ids []uuid.UUID, exclude uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == exclude || id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (f *GroupFanout) displayName(ctx context.Context, id uuid.UUID) string {
	user, err := f.store.GetUser(ctx, id)
	if err != nil || user.Username == "" {
		return id.String()
	}
	return user.Username
}

func (f *GroupFanout) displayNames(ctx context.Context, ids []uuid.UUID) string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, f.displayName(ctx, id))
	}
	return strings.Join(names, ", ")
}

// memberGroup loads the group and requires actorID to be a member.
func (f *GroupFanout) memberGroup(ctx context.Context, actorID, groupID uuid.UUID) (*models.Group, models.GroupMember, error) {
	group, err := f.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, models.GroupMember{}, err
	}
	member, ok := group.Member(actorID)
	if !ok {
		return nil, models.GroupMember{}, notMember()
	}
	return group, member, nil
}

func (f *GroupFanout) adminGroup(ctx context.Context, actorID, groupID uuid.UUID) (*models.Group, error) {
	group, _, err := f.memberGroup(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsAdmin(actorID) {
		return nil, utils.NewForbiddenError("admin rights required")
	}
	return group, nil
}

// systemRecord builds the human readable record of a membership event. The
// store persists it together with the change it describes.
func (f *GroupFanout) systemRecord(groupID uuid.UUID, text string, at time.Time) *models.GroupMessage {
	return &models.GroupMessage{
		ID:        newID(),
		GroupID:   groupID,
		Type:      models.MessageTypeSystem,
		Text:      text,
		ReadBy:    []uuid.UUID{},
		CreatedAt: at,
	}
}

// announce pushes a committed system record to the members of group.
func (f *GroupFanout) announce(ctx context.Context, group *models.Group, record *models.GroupMessage) {
	f.metrics.MessagePersisted("system")
	f.publish(ctx, group.AudienceFor(record.CreatedAt), bus.EventGroupNewMessage, record)
}

func (f *GroupFanout) CreateGroup(ctx context.Context, req CreateGroupRequest) (*models.Group, error) {
	defer f.observe("create_group", time.Now())

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, utils.NewInvalidInputError("group name is required")
	}
	now := f.now()
	group := &models.Group{
		ID:               newID(),
		Name:             name,
		Description:      strings.TrimSpace(req.Description),
		AvatarURL:        req.AvatarURL,
		OwnerID:          req.OwnerID,
		Members:          []models.GroupMember{{UserID: req.OwnerID, JoinedAt: now, Role: models.RoleAdmin}},
		AnnouncementOnly: req.AnnouncementOnly,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, id := range uniqueIDs(req.MemberIDs, req.OwnerID) {
		group.Members = append(group.Members, models.GroupMember{UserID: id, JoinedAt: now, Role: models.RoleMember})
	}

	record := f.systemRecord(group.ID, fmt.Sprintf("%s created the group %q", f.displayName(ctx, req.OwnerID), name), now)
	if err := f.store.CreateGroup(ctx, group, record); err != nil {
		return nil, err
	}
	group.LastMessage = record.Summary()
	f.log.Infow("group created", "groupId", group.ID, "ownerId", group.OwnerID, "members", len(group.Members))

	f.announce(ctx, group, record)
	f.publish(ctx, group.MemberIDs(), bus.EventGroupCreated, group)
	return group, nil
}

func (f *GroupFanout) GetGroup(ctx context.Context, viewerID, groupID uuid.UUID) (*models.Group, error) {
	group, _, err := f.memberGroup(ctx, viewerID, groupID)
	return group, err
}

func (f *GroupFanout) ListGroups(ctx context.Context, userID uuid.UUID) ([]*models.Group, error) {
	return f.store.ListGroupsForUser(ctx, userID)
}

// UpdateGroup changes name, description, avatar or the announcement-only
// flag. Admins only.
func (f *GroupFanout) UpdateGroup(ctx context.Context, actorID, groupID uuid.UUID, update database.GroupUpdate) (*models.Group, error) {
	defer f.observe("update_group", time.Now())

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, utils.NewInvalidInputError("group name cannot be empty")
		}
		update.Name = &name
	}
	if _, err := f.adminGroup(ctx, actorID, groupID); err != nil {
		return nil, err
	}
	record := f.systemRecord(groupID, fmt.Sprintf("%s updated the group info", f.displayName(ctx, actorID)), f.now())
	group, err := f.store.UpdateGroupInfo(ctx, groupID, update, record)
	if err != nil {
		return nil, err
	}

	f.announce(ctx, group, record)
	f.publish(ctx, group.MemberIDs(), bus.EventGroupUpdated, group)
	return group, nil
}

// AddMembers joins userIDs to the group. Any admin may add members.
func (f *GroupFanout) AddMembers(ctx context.Context, actorID, groupID uuid.UUID, userIDs []uuid.UUID) (*models.Group, error) {
	defer f.observe("add_members", time.Now())

	ids := uniqueIDs(userIDs, uuid.Nil)
	if len(ids) == 0 {
		return nil, utils.NewInvalidInputError("no members to add")
	}
	group, err := f.adminGroup(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	alreadyMember := utils.NewAppError(utils.ErrAlreadyGroupMember, "user is already a member", nil)
	for _, id := range ids {
		if group.IsMember(id) {
			return nil, alreadyMember
		}
	}

	now := f.now()
	members := make([]models.GroupMember, 0, len(ids))
	for _, id := range ids {
		members = append(members, models.GroupMember{UserID: id, JoinedAt: now, Role: models.RoleMember})
	}
	record := f.systemRecord(groupID, fmt.Sprintf("%s added %s", f.displayName(ctx, actorID), f.displayNames(ctx, ids)), now)
	group, err = f.store.AddGroupMembers(ctx, groupID, members, record)
	if err != nil {
		return nil, conflictAs(err, alreadyMember)
	}

	f.announce(ctx, group, record)
	f.publish(ctx, group.MemberIDs(), bus.EventGroupMemberAdded, bus.GroupMembers{
		GroupID: groupID,
		ActorID: actorID,
		UserIDs: ids,
		Group:   group,
	})
	return group, nil
}

// RemoveMember removes targetID. Admins may remove ordinary members; only
// the owner may remove another admin. The owner can never be removed.
func (f *GroupFanout) RemoveMember(ctx context.Context, actorID, groupID, targetID uuid.UUID) (*models.Group, error) {
	defer f.observe("remove_member", time.Now())

	if actorID == targetID {
		return nil, utils.NewInvalidInputError("use leave to exit a group")
	}
	group, err := f.adminGroup(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	target, ok := group.Member(targetID)
	if !ok {
		return nil, notMember()
	}
	if targetID == group.OwnerID {
		return nil, utils.NewForbiddenError("the owner cannot be removed")
	}
	if target.Role == models.RoleAdmin && actorID != group.OwnerID {
		return nil, utils.NewForbiddenError("only the owner can remove an admin")
	}

	record := f.systemRecord(groupID, fmt.Sprintf("%s removed %s", f.displayName(ctx, actorID), f.displayName(ctx, targetID)), f.now())
	updated, err := f.store.RemoveGroupMember(ctx, groupID, targetID, record)
	if err != nil {
		return nil, conflictAs(err, notMember())
	}

	f.announce(ctx, updated, record)
	f.publish(ctx, updated.MemberIDs(), bus.EventGroupMemberRemoved, bus.GroupMembers{
		GroupID: groupID,
		ActorID: actorID,
		UserIDs: []uuid.UUID{targetID},
		Group:   updated,
	})
	// The removed member is no longer in the audience above.
	f.publish(ctx, []uuid.UUID{targetID}, bus.EventRemovedFromGroup, bus.RemovedFromGroup{
		GroupID:   groupID,
		GroupName: updated.Name,
		ActorID:   actorID,
	})
	return updated, nil
}

// Leave removes the actor from the group. The owner must transfer ownership
// first.
func (f *GroupFanout) Leave(ctx context.Context, actorID, groupID uuid.UUID) error {
	defer f.observe("leave_group", time.Now())

	group, _, err := f.memberGroup(ctx, actorID, groupID)
	if err != nil {
		return err
	}
	if group.OwnerID == actorID {
		return utils.NewForbiddenError("transfer ownership before leaving")
	}
	record := f.systemRecord(groupID, fmt.Sprintf("%s left the group", f.displayName(ctx, actorID)), f.now())
	updated, err := f.store.RemoveGroupMember(ctx, groupID, actorID, record)
	if err != nil {
		return conflictAs(err, notMember())
	}

	f.announce(ctx, updated, record)
	f.publish(ctx, append(updated.MemberIDs(), actorID), bus.EventGroupMemberLeft, bus.GroupMembers{
		GroupID: groupID,
		ActorID: actorID,
		UserIDs: []uuid.UUID{actorID},
		Group:   updated,
	})
	return nil
}

// SetRole promotes or demotes a member. Owner only.
func (f *GroupFanout) SetRole(ctx context.Context, actorID, groupID, targetID uuid.UUID, role models.GroupRole) (*models.Group, error) {
	defer f.observe("set_role", time.Now())

	if role != models.RoleAdmin && role != models.RoleMember {
		return nil, utils.NewInvalidInputError("unknown role")
	}
	group, _, err := f.memberGroup(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if group.OwnerID != actorID {
		return nil, utils.NewForbiddenError("only the owner can change roles")
	}
	if targetID == group.OwnerID {
		return nil, utils.NewForbiddenError("the owner's role cannot change")
	}
	if !group.IsMember(targetID) {
		return nil, notMember()
	}

	verb := "made %s an admin"
	if role == models.RoleMember {
		verb = "removed %s as admin"
	}
	text := f.displayName(ctx, actorID) + " " + fmt.Sprintf(verb, f.displayName(ctx, targetID))
	record := f.systemRecord(groupID, text, f.now())
	updated, err := f.store.SetMemberRole(ctx, groupID, targetID, role, record)
	if err != nil {
		return nil, conflictAs(err, notMember())
	}

	f.announce(ctx, updated, record)
	f.publish(ctx, updated.MemberIDs(), bus.EventGroupUpdated, updated)
	return updated, nil
}

// TransferOwnership hands the group to another member. Owner only.
func (f *GroupFanout) TransferOwnership(ctx context.Context, actorID, groupID, newOwnerID uuid.UUID) (*models.Group, error) {
	defer f.observe("transfer_ownership", time.Now())

	if actorID == newOwnerID {
		return nil, utils.NewInvalidInputError("already the owner")
	}
	group, _, err := f.memberGroup(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if group.OwnerID != actorID {
		return nil, utils.NewForbiddenError("only the owner can transfer ownership")
	}
	if !group.IsMember(newOwnerID) {
		return nil, notMember()
	}

	record := f.systemRecord(groupID, fmt.Sprintf("%s transferred ownership to %s", f.displayName(ctx, actorID), f.displayName(ctx, newOwnerID)), f.now())
	updated, err := f.store.TransferOwnership(ctx, groupID, actorID, newOwnerID, record)
	if err != nil {
		return nil, conflictAs(err, utils.NewForbiddenError("ownership changed concurrently"))
	}

	f.announce(ctx, updated, record)
	f.publish(ctx, updated.MemberIDs(), bus.EventGroupUpdated, updated)
	return updated, nil
}

// Pin sets or clears the single pinned message. Admins only, and only a
// message inside the admin's own join window.
func (f *GroupFanout) Pin(ctx context.Context, actorID, groupID uuid.UUID, messageID *uuid.UUID) (*models.Group, error) {
	defer f.observe("pin_group_message", time.Now())

	group, err := f.adminGroup(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if messageID != nil {
		msg, err := f.store.GetGroupMessage(ctx, *messageID)
		if err != nil {
			return nil, err
		}
		member, _ := group.Member(actorID)
		if msg.GroupID != groupID || !msg.VisibleTo(member) {
			return nil, utils.NewMessageNotFoundError(messageID.String())
		}
	}

	updated, err := f.store.SetPinnedMessage(ctx, groupID, messageID)
	if err != nil {
		return nil, err
	}
	f.publish(ctx, updated.MemberIDs(), bus.EventGroupPinnedChanged, bus.GroupPinnedChanged{
		GroupID:   groupID,
		MessageID: messageID,
		ActorID:   actorID,
	})
	return updated, nil
}

// SendGroupMessage persists a member's message with the group's last
// message summary as one unit and pushes it to the members.
func (f *GroupFanout) SendGroupMessage(ctx context.Context, req SendGroupRequest) (*models.GroupMessage, error) {
	defer f.observe("send_group", time.Now())

	poll, err := req.Content.validate()
	if err != nil {
		return nil, err
	}
	group, err := f.store.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if err := CanSendToGroup(req.SenderID, group); err != nil {
		return nil, err
	}

	mentions := uniqueIDs(req.Mentions, uuid.Nil)
	for _, id := range mentions {
		if !group.IsMember(id) {
			return nil, utils.NewInvalidInputError("mentioned user is not a member: " + id.String())
		}
	}

	sender := req.SenderID
	msg := &models.GroupMessage{
		ID:         newID(),
		GroupID:    group.ID,
		SenderID:   &sender,
		Type:       models.MessageTypeText,
		Text:       req.Content.Text,
		Attachment: req.Content.Attachment,
		Poll:       poll,
		ReadBy:     []uuid.UUID{sender},
		Mentions:   mentions,
		CreatedAt:  f.now(),
	}
	if req.Content.ReplyToID != nil {
		member, _ := group.Member(sender)
		original, err := f.visibleMessage(ctx, member, *req.Content.ReplyToID)
		if err != nil {
			return nil, err
		}
		if original.GroupID != group.ID {
			return nil, utils.NewInvalidInputError("reply must quote a message from this group")
		}
		var originalSender uuid.UUID
		if original.SenderID != nil {
			originalSender = *original.SenderID
		}
		msg.ReplyTo = replySnapshot(original.ID, originalSender, original.Text, original.Attachment)
	}

	if err := f.store.AppendGroupMessage(ctx, msg); err != nil {
		return nil, err
	}
	f.metrics.MessagePersisted("group")

	f.publish(ctx, group.AudienceFor(msg.CreatedAt), bus.EventGroupNewMessage, msg)
	if notify := uniqueIDs(mentions, sender); len(notify) > 0 {
		f.publish(ctx, notify, bus.EventGroupMention, bus.GroupMention{GroupID: group.ID, MessageID: msg.ID, SenderID: sender})
	}
	return msg, nil
}

func (f *GroupFanout) visibleMessage(ctx context.Context, member models.GroupMember, id uuid.UUID) (*models.GroupMessage, error) {
	msg, err := f.store.GetGroupMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !msg.VisibleTo(member) {
		return nil, utils.NewMessageNotFoundError(id.String())
	}
	return msg, nil
}

// messageForMember loads a group message with its group, requiring actorID
// to be a member who can see it.
func (f *GroupFanout) messageForMember(ctx context.Context, actorID, messageID uuid.UUID) (*models.GroupMessage, *models.Group, error) {
	msg, err := f.store.GetGroupMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	group, member, err := f.memberGroup(ctx, actorID, msg.GroupID)
	if err != nil {
		return nil, nil, err
	}
	if !msg.VisibleTo(member) {
		return nil, nil, utils.NewMessageNotFoundError(messageID.String())
	}
	return msg, group, nil
}

// GetConversation returns the messages created since the viewer joined.
func (f *GroupFanout) GetConversation(ctx context.Context, viewerID, groupID uuid.UUID) ([]*models.GroupMessage, error) {
	defer f.observe("get_group_conversation", time.Now())

	_, member, err := f.memberGroup(ctx, viewerID, groupID)
	if err != nil {
		return nil, err
	}
	return f.store.FindGroupConversation(ctx, groupID, member)
}

// MarkRead adds the actor to readBy of every visible message and tells the
// senders of the newly read messages.
func (f *GroupFanout) MarkRead(ctx context.Context, actorID, groupID uuid.UUID) ([]uuid.UUID, error) {
	defer f.observe("mark_group_read", time.Now())

	_, member, err := f.memberGroup(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	ids, err := f.store.MarkGroupRead(ctx, groupID, member)
	if err != nil || len(ids) == 0 {
		return ids, err
	}

	audience := []uuid.UUID{actorID}
	for _, id := range ids {
		msg, err := f.store.GetGroupMessage(ctx, id)
		if err != nil {
			continue
		}
		if msg.SenderID != nil {
			audience = append(audience, *msg.SenderID)
		}
	}
	f.publish(ctx, uniqueIDs(audience, uuid.Nil), bus.EventGroupMessagesRead, bus.GroupMessagesRead{
		GroupID:    groupID,
		UserID:     actorID,
		MessageIDs: ids,
	})
	return ids, nil
}

// DeleteForAll tombstones the actor's own message for every member.
func (f *GroupFanout) DeleteForAll(ctx context.Context, actorID, messageID uuid.UUID) (*models.GroupMessage, error) {
	defer f.observe("delete_group_for_all", time.Now())

	msg, group, err := f.messageForMember(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}
	forbidden := utils.NewForbiddenError("only the sender can delete a message for everyone")
	if !msg.SentBy(actorID) {
		return nil, forbidden
	}

	updated, err := f.store.DeleteGroupMessageForAll(ctx, messageID, actorID)
	if err != nil {
		return nil, conflictAs(err, forbidden)
	}
	groupID := group.ID
	f.publish(ctx, group.AudienceFor(updated.CreatedAt), bus.EventGroupMessageDeleted, bus.MessageDeleted{
		GroupID:   &groupID,
		MessageID: messageID,
		Text:      updated.Text,
	})
	return updated, nil
}

// DeleteForMe hides the message from the actor only.
func (f *GroupFanout) DeleteForMe(ctx context.Context, actorID, messageID uuid.UUID) error {
	if _, _, err := f.messageForMember(ctx, actorID, messageID); err != nil {
		return err
	}
	return f.store.DeleteGroupMessageForMe(ctx, messageID, actorID)
}

func (f *GroupFanout) VotePoll(ctx context.Context, actorID, messageID uuid.UUID, option int) (*models.GroupMessage, error) {
	defer f.observe("vote_group_poll", time.Now())

	msg, group, err := f.messageForMember(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Poll == nil {
		return nil, utils.NewInvalidInputError("message has no poll")
	}
	if option < 0 || option >= len(msg.Poll.Options) {
		return nil, utils.NewInvalidInputError("poll option out of range")
	}

	updated, err := f.store.VoteGroupPoll(ctx, messageID, actorID, option)
	if err != nil {
		return nil, conflictAs(err, utils.NewInvalidInputError("message has no poll"))
	}
	groupID := group.ID
	f.publish(ctx, group.AudienceFor(updated.CreatedAt), bus.EventGroupPollUpdated, bus.PollUpdated{
		GroupID:   &groupID,
		MessageID: messageID,
		Poll:      updated.Poll,
	})
	return updated, nil
}

// Typing relays a typing indicator to the other members.
func (f *GroupFanout) Typing(ctx context.Context, actorID, groupID uuid.UUID, typing bool) error {
	group, _, err := f.memberGroup(ctx, actorID, groupID)
	if err != nil {
		return err
	}
	f.publish(ctx, uniqueIDs(group.MemberIDs(), actorID), bus.EventTyping, bus.Typing{
		UserID:  actorID,
		GroupID: &groupID,
		Typing:  typing,
	})
	return nil
}
