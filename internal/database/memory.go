package database

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
)

var errDuplicateMessage = errors.New("duplicate message id")

// MemoryDB is an in-process Store with the same conditional-update semantics
// as MongoDB. Every method returns copies, so callers never share state with
// the store.
type MemoryDB struct {
	mu sync.RWMutex

	users         map[uuid.UUID]*models.User
	direct        map[uuid.UUID]*models.DirectMessage
	directOrder   []uuid.UUID
	groups        map[uuid.UUID]*models.Group
	groupMessages map[uuid.UUID]*models.GroupMessage
	groupOrder    []uuid.UUID
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:         make(map[uuid.UUID]*models.User),
		direct:        make(map[uuid.UUID]*models.DirectMessage),
		groups:        make(map[uuid.UUID]*models.Group),
		groupMessages: make(map[uuid.UUID]*models.GroupMessage),
	}
}

func (m *MemoryDB) Close(ctx context.Context) error { return nil }

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func addID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	if containsID(ids, id) {
		return ids
	}
	return append(ids, id)
}

func dropID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Users

func (m *MemoryDB) SaveUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user.Clone()
	return nil
}

func (m *MemoryDB) SaveProfile(ctx context.Context, id uuid.UUID, username, avatarURL string, at time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		u = &models.User{ID: id, Friends: []uuid.UUID{}, BlockedUsers: []uuid.UUID{}, CreatedAt: at}
		m.users[id] = u
	}
	u.Username = username
	u.AvatarURL = avatarURL
	u.LastActive = at
	return u.Clone(), nil
}

func (m *MemoryDB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, utils.NewUserNotFoundError(id.String())
	}
	return u.Clone(), nil
}

func (m *MemoryDB) IsFriend(ctx context.Context, a, b uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ua, okA := m.users[a]
	ub, okB := m.users[b]
	if !okA || !okB {
		return false, nil
	}
	return ua.HasFriend(b) && ub.HasFriend(a), nil
}

func (m *MemoryDB) IsBlocked(ctx context.Context, blocker, blocked uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[blocker]
	return ok && u.HasBlocked(blocked), nil
}

func (m *MemoryDB) AddFriendship(ctx context.Context, a, b uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ua, ok := m.users[a]
	if !ok {
		return utils.NewUserNotFoundError(a.String())
	}
	ub, ok := m.users[b]
	if !ok {
		return utils.NewUserNotFoundError(b.String())
	}
	ua.Friends = addID(ua.Friends, b)
	ub.Friends = addID(ub.Friends, a)
	return nil
}

func (m *MemoryDB) SetBlocked(ctx context.Context, blocker, blocked uuid.UUID, block bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[blocker]
	if !ok {
		return utils.NewUserNotFoundError(blocker.String())
	}
	if block {
		u.BlockedUsers = addID(u.BlockedUsers, blocked)
	} else {
		u.BlockedUsers = dropID(u.BlockedUsers, blocked)
	}
	return nil
}

// Direct messages

func (m *MemoryDB) InsertDirectMessage(ctx context.Context, msg *models.DirectMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.direct[msg.ID] = msg.Clone()
	m.directOrder = append(m.directOrder, msg.ID)
	return nil
}

func (m *MemoryDB) GetDirectMessage(ctx context.Context, id uuid.UUID) (*models.DirectMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.direct[id]
	if !ok {
		return nil, utils.NewMessageNotFoundError(id.String())
	}
	return msg.Clone(), nil
}

func (m *MemoryDB) TransitionDirectMessage(ctx context.Context, id uuid.UUID, from []models.LifecycleState, to models.LifecycleState, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.direct[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range from {
		if msg.State == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	msg.State = to
	ts := at
	switch to {
	case models.StateSent:
		msg.SentAt = &ts
	case models.StateDelivered:
		msg.DeliveredAt = &ts
	case models.StateRead:
		msg.ReadAt = &ts
	}
	return true, nil
}

// directWhere returns the messages matching keep in insertion order. The
// caller must hold the lock.
func (m *MemoryDB) directWhere(keep func(*models.DirectMessage) bool) []*models.DirectMessage {
	out := make([]*models.DirectMessage, 0)
	for _, id := range m.directOrder {
		msg := m.direct[id]
		if keep(msg) {
			out = append(out, msg.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryDB) FindConversation(ctx context.Context, a, b, viewer uuid.UUID) ([]*models.DirectMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.directWhere(func(msg *models.DirectMessage) bool {
		inPair := (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a)
		return inPair && msg.VisibleTo(viewer)
	}), nil
}

func (m *MemoryDB) ListConversations(ctx context.Context, viewer uuid.UUID) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	visible := m.directWhere(func(msg *models.DirectMessage) bool { return msg.VisibleTo(viewer) })

	byPeer := make(map[uuid.UUID]*models.Conversation)
	for _, msg := range visible {
		peer := msg.Peer(viewer)
		conv, ok := byPeer[peer]
		if !ok {
			conv = &models.Conversation{PeerID: peer}
			byPeer[peer] = conv
		}
		conv.LastMessage = msg
		if msg.ReceiverID == viewer && (msg.State == models.StateSent || msg.State == models.StateDelivered) {
			conv.UnreadCount++
		}
	}

	out := make([]*models.Conversation, 0, len(byPeer))
	for _, conv := range byPeer {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}

func (m *MemoryDB) FindPendingDelivery(ctx context.Context, receiver uuid.UUID) ([]*models.DirectMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.directWhere(func(msg *models.DirectMessage) bool {
		return msg.ReceiverID == receiver && msg.State == models.StateSent
	}), nil
}

func (m *MemoryDB) FindUnread(ctx context.Context, sender, receiver uuid.UUID) ([]*models.DirectMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.directWhere(func(msg *models.DirectMessage) bool {
		return msg.SenderID == sender && msg.ReceiverID == receiver &&
			(msg.State == models.StateSent || msg.State == models.StateDelivered)
	}), nil
}

func (m *MemoryDB) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.DirectMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	due := m.directWhere(func(msg *models.DirectMessage) bool {
		return msg.State == models.StateScheduled && msg.ScheduledReleaseAt != nil && !msg.ScheduledReleaseAt.After(now)
	})
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledReleaseAt.Before(*due[j].ScheduledReleaseAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// mutateDirect runs fn on the stored message under the write lock. fn
// returns false when its precondition does not hold.
func (m *MemoryDB) mutateDirect(id uuid.UUID, fn func(*models.DirectMessage) bool) (*models.DirectMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.direct[id]
	if !ok {
		return nil, utils.NewMessageNotFoundError(id.String())
	}
	if !fn(msg) {
		return nil, ErrConflict
	}
	return msg.Clone(), nil
}

func (m *MemoryDB) ToggleReaction(ctx context.Context, id, userID uuid.UUID, emoji string) (*models.DirectMessage, bool, error) {
	var set bool
	msg, err := m.mutateDirect(id, func(msg *models.DirectMessage) bool {
		if msg.Reactions == nil {
			msg.Reactions = map[string]string{}
		}
		key := userID.String()
		if msg.Reactions[key] == emoji {
			delete(msg.Reactions, key)
			set = false
		} else {
			msg.Reactions[key] = emoji
			set = true
		}
		return true
	})
	return msg, set, err
}

func (m *MemoryDB) EditDirectMessage(ctx context.Context, id, senderID uuid.UUID, text string, editedAt, notBefore time.Time) (*models.DirectMessage, error) {
	return m.mutateDirect(id, func(msg *models.DirectMessage) bool {
		if msg.SenderID != senderID || msg.DeletedForAll || msg.CreatedAt.Before(notBefore) {
			return false
		}
		at := editedAt
		msg.Text = text
		msg.Edited = true
		msg.EditedAt = &at
		return true
	})
}

func (m *MemoryDB) SetDirectPinned(ctx context.Context, id uuid.UUID, pinned bool) (*models.DirectMessage, error) {
	return m.mutateDirect(id, func(msg *models.DirectMessage) bool {
		msg.Pinned = pinned
		return true
	})
}

func (m *MemoryDB) VoteDirectPoll(ctx context.Context, id, userID uuid.UUID, option int) (*models.DirectMessage, error) {
	return m.mutateDirect(id, func(msg *models.DirectMessage) bool {
		if msg.Poll == nil || option < 0 || option >= len(msg.Poll.Options) {
			return false
		}
		msg.Poll.Vote(userID, option)
		return true
	})
}

func (m *MemoryDB) DeleteDirectForAll(ctx context.Context, id, senderID uuid.UUID) (*models.DirectMessage, error) {
	return m.mutateDirect(id, func(msg *models.DirectMessage) bool {
		if msg.SenderID != senderID {
			return false
		}
		msg.Text = models.TombstoneText
		msg.DeletedForAll = true
		msg.Attachment = nil
		msg.Poll = nil
		return true
	})
}

func (m *MemoryDB) DeleteDirectForMe(ctx context.Context, id, viewer uuid.UUID) error {
	_, err := m.mutateDirect(id, func(msg *models.DirectMessage) bool {
		if !msg.IsParty(viewer) {
			return false
		}
		msg.DeletedFor = addID(msg.DeletedFor, viewer)
		return true
	})
	return err
}

// Groups

func (m *MemoryDB) CreateGroup(ctx context.Context, group *models.Group, record *models.GroupMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := group.Clone()
	if record != nil {
		if err := m.appendGroupMessageLocked(g, record); err != nil {
			return err
		}
	}
	m.groups[group.ID] = g
	return nil
}

func (m *MemoryDB) GetGroup(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, utils.NewGroupNotFoundError(id.String())
	}
	return g.Clone(), nil
}

func (m *MemoryDB) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Group, 0)
	for _, g := range m.groups {
		if g.IsMember(userID) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// mutateGroup applies fn to a copy of the group and stores it together with
// record. Nothing changes when fn refuses or the record cannot be added.
func (m *MemoryDB) mutateGroup(id uuid.UUID, record *models.GroupMessage, fn func(*models.Group) bool) (*models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.groups[id]
	if !ok {
		return nil, utils.NewGroupNotFoundError(id.String())
	}
	g := current.Clone()
	if !fn(g) {
		return nil, ErrConflict
	}
	g.UpdatedAt = time.Now().UTC()
	if record != nil {
		if err := m.appendGroupMessageLocked(g, record); err != nil {
			return nil, err
		}
	}
	m.groups[id] = g
	return g.Clone(), nil
}

func (m *MemoryDB) AddGroupMembers(ctx context.Context, groupID uuid.UUID, members []models.GroupMember, record *models.GroupMessage) (*models.Group, error) {
	return m.mutateGroup(groupID, record, func(g *models.Group) bool {
		for _, member := range members {
			if g.IsMember(member.UserID) {
				return false
			}
		}
		g.Members = append(g.Members, members...)
		return true
	})
}

func (m *MemoryDB) RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID, record *models.GroupMessage) (*models.Group, error) {
	return m.mutateGroup(groupID, record, func(g *models.Group) bool {
		if userID == g.OwnerID || !g.IsMember(userID) {
			return false
		}
		kept := make([]models.GroupMember, 0, len(g.Members))
		for _, member := range g.Members {
			if member.UserID != userID {
				kept = append(kept, member)
			}
		}
		g.Members = kept
		return true
	})
}

func (m *MemoryDB) SetMemberRole(ctx context.Context, groupID, userID uuid.UUID, role models.GroupRole, record *models.GroupMessage) (*models.Group, error) {
	return m.mutateGroup(groupID, record, func(g *models.Group) bool {
		if userID == g.OwnerID {
			return false
		}
		for i := range g.Members {
			if g.Members[i].UserID == userID {
				g.Members[i].Role = role
				return true
			}
		}
		return false
	})
}

func (m *MemoryDB) TransferOwnership(ctx context.Context, groupID, from, to uuid.UUID, record *models.GroupMessage) (*models.Group, error) {
	return m.mutateGroup(groupID, record, func(g *models.Group) bool {
		if g.OwnerID != from {
			return false
		}
		for i := range g.Members {
			if g.Members[i].UserID == to {
				g.Members[i].Role = models.RoleAdmin
				g.OwnerID = to
				return true
			}
		}
		return false
	})
}

func (m *MemoryDB) UpdateGroupInfo(ctx context.Context, groupID uuid.UUID, update GroupUpdate, record *models.GroupMessage) (*models.Group, error) {
	return m.mutateGroup(groupID, record, func(g *models.Group) bool {
		if update.Name != nil {
			g.Name = *update.Name
		}
		if update.Description != nil {
			g.Description = *update.Description
		}
		if update.AvatarURL != nil {
			g.AvatarURL = *update.AvatarURL
		}
		if update.AnnouncementOnly != nil {
			g.AnnouncementOnly = *update.AnnouncementOnly
		}
		return true
	})
}

func (m *MemoryDB) SetPinnedMessage(ctx context.Context, groupID uuid.UUID, messageID *uuid.UUID) (*models.Group, error) {
	return m.mutateGroup(groupID, nil, func(g *models.Group) bool {
		if messageID == nil {
			g.PinnedMessageID = nil
		} else {
			id := *messageID
			g.PinnedMessageID = &id
		}
		return true
	})
}

// Group messages

func (m *MemoryDB) AppendGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[msg.GroupID]
	if !ok {
		return utils.NewGroupNotFoundError(msg.GroupID.String())
	}
	return m.appendGroupMessageLocked(g, msg)
}

// appendGroupMessageLocked stores msg as g's latest message. m.mu must be
// held for writing.
func (m *MemoryDB) appendGroupMessageLocked(g *models.Group, msg *models.GroupMessage) error {
	if _, exists := m.groupMessages[msg.ID]; exists {
		return utils.NewDatabaseError("insert group message", errDuplicateMessage)
	}
	stored := msg.Clone()
	m.groupMessages[msg.ID] = stored
	m.groupOrder = append(m.groupOrder, msg.ID)
	g.LastMessage = stored.Summary()
	g.UpdatedAt = msg.CreatedAt
	return nil
}

func (m *MemoryDB) GetGroupMessage(ctx context.Context, id uuid.UUID) (*models.GroupMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.groupMessages[id]
	if !ok {
		return nil, utils.NewMessageNotFoundError(id.String())
	}
	return msg.Clone(), nil
}

// groupWhere returns the live stored messages of groupID visible to member,
// ordered by creation. The caller must hold the lock.
func (m *MemoryDB) groupWhere(groupID uuid.UUID, member models.GroupMember) []*models.GroupMessage {
	out := make([]*models.GroupMessage, 0)
	for _, id := range m.groupOrder {
		msg := m.groupMessages[id]
		if msg.GroupID == groupID && msg.VisibleTo(member) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryDB) FindGroupConversation(ctx context.Context, groupID uuid.UUID, viewer models.GroupMember) ([]*models.GroupMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.groupWhere(groupID, viewer)
	out := make([]*models.GroupMessage, 0, len(stored))
	for _, msg := range stored {
		out = append(out, msg.Clone())
	}
	return out, nil
}

func (m *MemoryDB) MarkGroupRead(ctx context.Context, groupID uuid.UUID, member models.GroupMember) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0)
	for _, msg := range m.groupWhere(groupID, member) {
		if containsID(msg.ReadBy, member.UserID) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, member.UserID)
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func (m *MemoryDB) mutateGroupMessage(id uuid.UUID, fn func(*models.GroupMessage) bool) (*models.GroupMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.groupMessages[id]
	if !ok {
		return nil, utils.NewMessageNotFoundError(id.String())
	}
	if !fn(msg) {
		return nil, ErrConflict
	}
	return msg.Clone(), nil
}

func (m *MemoryDB) DeleteGroupMessageForAll(ctx context.Context, id, senderID uuid.UUID) (*models.GroupMessage, error) {
	return m.mutateGroupMessage(id, func(msg *models.GroupMessage) bool {
		if !msg.SentBy(senderID) {
			return false
		}
		msg.Text = models.TombstoneText
		msg.DeletedForAll = true
		msg.Attachment = nil
		msg.Poll = nil
		return true
	})
}

func (m *MemoryDB) DeleteGroupMessageForMe(ctx context.Context, id, viewer uuid.UUID) error {
	_, err := m.mutateGroupMessage(id, func(msg *models.GroupMessage) bool {
		msg.DeletedFor = addID(msg.DeletedFor, viewer)
		return true
	})
	return err
}

func (m *MemoryDB) VoteGroupPoll(ctx context.Context, id, userID uuid.UUID, option int) (*models.GroupMessage, error) {
	return m.mutateGroupMessage(id, func(msg *models.GroupMessage) bool {
		if msg.Poll == nil || option < 0 || option >= len(msg.Poll.Options) {
			return false
		}
		msg.Poll.Vote(userID, option)
		return true
	})
}

var (
	_ Store = (*MemoryDB)(nil)
	_ Store = (*MongoDB)(nil)
)
