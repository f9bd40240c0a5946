package engine

import (
	"context"
	"testing"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type groupFixture struct {
	*fixture
	owner, admin, member uuid.UUID
	group                *models.Group
}

func newGroupFixture(t *testing.T) *groupFixture {
	f := newFixture(t)
	g := &groupFixture{fixture: f, owner: f.user("owner"), admin: f.user("admin1"), member: f.user("member1")}

	group, err := f.engine.Groups.CreateGroup(f.ctx, CreateGroupRequest{
		OwnerID:   g.owner,
		Name:      "Gators",
		MemberIDs: []uuid.UUID{g.admin, g.member, g.owner},
	})
	require.NoError(t, err)
	_, err = f.engine.Groups.SetRole(f.ctx, g.owner, group.ID, g.admin, models.RoleAdmin)
	require.NoError(t, err)
	g.group = group
	f.pub.reset()
	return g
}

func (g *groupFixture) send(sender uuid.UUID, text string) *models.GroupMessage {
	msg, err := g.engine.Groups.SendGroupMessage(g.ctx, SendGroupRequest{SenderID: sender, GroupID: g.group.ID, Content: Content{Text: text}})
	require.NoError(g.t, err)
	return msg
}

func systemTexts(msgs []*models.GroupMessage) []string {
	var out []string
	for _, m := range msgs {
		if m.Type == models.MessageTypeSystem {
			out = append(out, m.Text)
		}
	}
	return out
}

func TestCreateGroupRecordsSystemMessage(t *testing.T) {
	f := newFixture(t)
	owner, friend := f.user("owner"), f.user("friend")

	group, err := f.engine.Groups.CreateGroup(f.ctx, CreateGroupRequest{OwnerID: owner, Name: "  Study  ", MemberIDs: []uuid.UUID{friend, friend}})
	require.NoError(t, err)
	assert.Equal(t, "Study", group.Name)
	assert.Len(t, group.Members, 2)
	assert.True(t, group.IsAdmin(owner))
	assert.Len(t, f.pub.received(friend, bus.EventGroupCreated), 1)

	view, err := f.engine.Groups.GetConversation(f.ctx, friend, group.ID)
	require.NoError(t, err)
	require.Len(t, view, 1)
	assert.Equal(t, models.MessageTypeSystem, view[0].Type)
	assert.Nil(t, view[0].SenderID)

	_, err = f.engine.Groups.CreateGroup(f.ctx, CreateGroupRequest{OwnerID: owner, Name: " "})
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))
}

func TestRemovedMemberGetsDistinctNotice(t *testing.T) {
	g := newGroupFixture(t)

	_, err := g.engine.Groups.RemoveMember(g.ctx, g.admin, g.group.ID, g.member)
	require.NoError(t, err)

	removed := g.pub.received(g.member, bus.EventRemovedFromGroup)
	require.Len(t, removed, 1)
	assert.Equal(t, g.group.ID, removed[0].Payload.(bus.RemovedFromGroup).GroupID)
	assert.Empty(t, g.pub.received(g.member, bus.EventGroupMemberRemoved))
	assert.Len(t, g.pub.received(g.owner, bus.EventGroupMemberRemoved), 1)

	g.send(g.owner, "after removal")
	assert.Empty(t, g.pub.received(g.member, bus.EventGroupNewMessage))

	view, err := g.engine.Groups.GetConversation(g.ctx, g.owner, g.group.ID)
	require.NoError(t, err)
	assert.Contains(t, systemTexts(view), "admin1 removed member1")

	_, err = g.engine.Groups.GetConversation(g.ctx, g.member, g.group.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotGroupMember))
}

func TestMembershipAuthorization(t *testing.T) {
	g := newGroupFixture(t)
	outsider := g.user("outsider")

	_, err := g.engine.Groups.AddMembers(g.ctx, g.member, g.group.ID, []uuid.UUID{outsider})
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden), "members cannot add")

	_, err = g.engine.Groups.AddMembers(g.ctx, g.admin, g.group.ID, []uuid.UUID{g.member})
	assert.True(t, utils.IsErrorCode(err, utils.ErrAlreadyGroupMember))

	_, err = g.engine.Groups.SetRole(g.ctx, g.admin, g.group.ID, g.member, models.RoleAdmin)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden), "only the owner promotes")

	_, err = g.engine.Groups.RemoveMember(g.ctx, g.admin, g.group.ID, g.owner)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	other, err := g.engine.Groups.AddMembers(g.ctx, g.admin, g.group.ID, []uuid.UUID{outsider})
	require.NoError(t, err)
	assert.True(t, other.IsMember(outsider))
	_, err = g.engine.Groups.SetRole(g.ctx, g.owner, g.group.ID, outsider, models.RoleAdmin)
	require.NoError(t, err)

	_, err = g.engine.Groups.RemoveMember(g.ctx, g.admin, g.group.ID, outsider)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden), "admins cannot remove admins")

	_, err = g.engine.Groups.RemoveMember(g.ctx, g.owner, g.group.ID, outsider)
	require.NoError(t, err)

	err = g.engine.Groups.Leave(g.ctx, g.owner, g.group.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))
}

func TestTransferOwnership(t *testing.T) {
	g := newGroupFixture(t)

	_, err := g.engine.Groups.TransferOwnership(g.ctx, g.admin, g.group.ID, g.member)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	updated, err := g.engine.Groups.TransferOwnership(g.ctx, g.owner, g.group.ID, g.member)
	require.NoError(t, err)
	assert.Equal(t, g.member, updated.OwnerID)
	assert.True(t, updated.IsAdmin(g.member))

	require.NoError(t, g.engine.Groups.Leave(g.ctx, g.owner, g.group.ID))
	left := g.pub.received(g.owner, bus.EventGroupMemberLeft)
	require.Len(t, left, 1)

	group, err := g.engine.Groups.GetGroup(g.ctx, g.member, g.group.ID)
	require.NoError(t, err)
	assert.False(t, group.IsMember(g.owner))
}

func TestJoinDateWindowing(t *testing.T) {
	g := newGroupFixture(t)
	early := g.send(g.owner, "before you joined")

	g.clock.advance(time.Minute)
	late := g.user("late")
	_, err := g.engine.Groups.AddMembers(g.ctx, g.owner, g.group.ID, []uuid.UUID{late})
	require.NoError(t, err)

	g.clock.advance(time.Minute)
	after := g.send(g.owner, "welcome")

	view, err := g.engine.Groups.GetConversation(g.ctx, late, g.group.ID)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(view))
	for _, m := range view {
		ids = append(ids, m.ID)
	}
	assert.NotContains(t, ids, early.ID)
	assert.Contains(t, ids, after.ID)

	g.pub.reset()
	_, err = g.engine.Groups.DeleteForAll(g.ctx, g.owner, early.ID)
	require.NoError(t, err)
	assert.Empty(t, g.pub.received(late, bus.EventGroupMessageDeleted))
	assert.Len(t, g.pub.received(g.member, bus.EventGroupMessageDeleted), 1)

	view, _ = g.engine.Groups.GetConversation(g.ctx, late, g.group.ID)
	for _, m := range view {
		assert.NotEqual(t, early.ID, m.ID)
	}

	err = g.engine.Groups.DeleteForMe(g.ctx, late, early.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrMessageNotFound))
}

func TestAnnouncementOnlyGroup(t *testing.T) {
	g := newGroupFixture(t)
	flag := true
	_, err := g.engine.Groups.UpdateGroup(g.ctx, g.member, g.group.ID, database.GroupUpdate{AnnouncementOnly: &flag})
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	_, err = g.engine.Groups.UpdateGroup(g.ctx, g.admin, g.group.ID, database.GroupUpdate{AnnouncementOnly: &flag})
	require.NoError(t, err)

	_, err = g.engine.Groups.SendGroupMessage(g.ctx, SendGroupRequest{SenderID: g.member, GroupID: g.group.ID, Content: Content{Text: "hi"}})
	assert.True(t, utils.IsErrorCode(err, utils.ErrAnnouncementOnly))
	g.send(g.admin, "announcement")

	outsider := g.user("outsider")
	_, err = g.engine.Groups.SendGroupMessage(g.ctx, SendGroupRequest{SenderID: outsider, GroupID: g.group.ID, Content: Content{Text: "hi"}})
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotGroupMember))
}

func TestMentionsMustBeMembers(t *testing.T) {
	g := newGroupFixture(t)
	outsider := g.user("outsider")

	_, err := g.engine.Groups.SendGroupMessage(g.ctx, SendGroupRequest{
		SenderID: g.owner, GroupID: g.group.ID, Content: Content{Text: "@x"}, Mentions: []uuid.UUID{outsider},
	})
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))

	msg, err := g.engine.Groups.SendGroupMessage(g.ctx, SendGroupRequest{
		SenderID: g.owner, GroupID: g.group.ID, Content: Content{Text: "@member1"}, Mentions: []uuid.UUID{g.member, g.owner},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{g.member, g.owner}, msg.Mentions)
	assert.Len(t, g.pub.received(g.member, bus.EventGroupMention), 1)
	assert.Empty(t, g.pub.received(g.owner, bus.EventGroupMention))
	assert.Equal(t, []uuid.UUID{g.owner}, msg.ReadBy)
}

func TestGroupMarkReadNotifiesSenders(t *testing.T) {
	g := newGroupFixture(t)
	msg := g.send(g.admin, "read me")

	ids, err := g.engine.Groups.MarkRead(g.ctx, g.member, g.group.ID)
	require.NoError(t, err)
	assert.Contains(t, ids, msg.ID)
	assert.Len(t, g.pub.received(g.admin, bus.EventGroupMessagesRead), 1)

	ids, err = g.engine.Groups.MarkRead(g.ctx, g.member, g.group.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGroupPollAndPin(t *testing.T) {
	g := newGroupFixture(t)
	poll, err := g.engine.Groups.SendGroupMessage(g.ctx, SendGroupRequest{
		SenderID: g.member,
		GroupID:  g.group.ID,
		Content:  Content{Poll: &PollInput{Question: "Pizza?", Options: []string{"yes", "no", "maybe"}}},
	})
	require.NoError(t, err)

	_, err = g.engine.Groups.VotePoll(g.ctx, g.owner, poll.ID, 2)
	require.NoError(t, err)
	updated, err := g.engine.Groups.VotePoll(g.ctx, g.owner, poll.ID, 0)
	require.NoError(t, err)
	assert.Contains(t, updated.Poll.Options[0].Votes, g.owner)
	assert.NotContains(t, updated.Poll.Options[2].Votes, g.owner)
	assert.Len(t, g.pub.received(g.member, bus.EventGroupPollUpdated), 2)

	_, err = g.engine.Groups.Pin(g.ctx, g.member, g.group.ID, &poll.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	other := g.send(g.owner, "pin me instead")
	group, err := g.engine.Groups.Pin(g.ctx, g.admin, g.group.ID, &poll.ID)
	require.NoError(t, err)
	assert.Equal(t, poll.ID, *group.PinnedMessageID)

	group, err = g.engine.Groups.Pin(g.ctx, g.admin, g.group.ID, &other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, *group.PinnedMessageID)

	group, err = g.engine.Groups.Pin(g.ctx, g.admin, g.group.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, group.PinnedMessageID)
	assert.Len(t, g.pub.received(g.member, bus.EventGroupPinnedChanged), 3)
}

func TestGroupDeleteForAllSenderOnly(t *testing.T) {
	g := newGroupFixture(t)
	msg, err := g.engine.Groups.SendGroupMessage(g.ctx, SendGroupRequest{
		SenderID: g.member,
		GroupID:  g.group.ID,
		Content:  Content{Text: "oops", Attachment: &models.Attachment{Kind: models.AttachmentFile, URL: "/media/f"}},
	})
	require.NoError(t, err)

	_, err = g.engine.Groups.DeleteForAll(g.ctx, g.owner, msg.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	deleted, err := g.engine.Groups.DeleteForAll(g.ctx, g.member, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TombstoneText, deleted.Text)
	assert.Nil(t, deleted.Attachment)
}

// clashingRecordStore stores every membership record under an id that is
// already taken, so persisting the record always fails.
type clashingRecordStore struct {
	*database.MemoryDB
	taken uuid.UUID
}

func (s *clashingRecordStore) RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID, record *models.GroupMessage) (*models.Group, error) {
	clash := *record
	clash.ID = s.taken
	return s.MemoryDB.RemoveGroupMember(ctx, groupID, userID, &clash)
}

func TestMembershipChangeFailsWhenRecordCannotBeStored(t *testing.T) {
	g := newGroupFixture(t)
	first := g.send(g.owner, "hello")
	store := &clashingRecordStore{MemoryDB: g.db, taken: first.ID}
	eng := NewEngine(store, g.registry, g.pub, nil)
	eng.SetClock(g.clock.now)

	_, err := eng.Groups.RemoveMember(g.ctx, g.owner, g.group.ID, g.member)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrDatabase))

	err = eng.Groups.Leave(g.ctx, g.admin, g.group.ID)
	require.Error(t, err)

	group, err := g.db.GetGroup(g.ctx, g.group.ID)
	require.NoError(t, err)
	assert.True(t, group.IsMember(g.member))
	assert.True(t, group.IsMember(g.admin))
	assert.Equal(t, first.ID, group.LastMessage.MessageID)

	assert.Empty(t, g.pub.received(g.member, bus.EventRemovedFromGroup))
	assert.Empty(t, g.pub.received(g.owner, bus.EventGroupMemberRemoved))
	assert.Empty(t, g.pub.received(g.owner, bus.EventGroupMemberLeft))

	view, err := g.engine.Groups.GetConversation(g.ctx, g.owner, g.group.ID)
	require.NoError(t, err)
	assert.NotContains(t, systemTexts(view), "owner removed member1")
}

func TestMembershipChangesAreRecorded(t *testing.T) {
	g := newGroupFixture(t)
	late := g.user("late")

	_, err := g.engine.Groups.AddMembers(g.ctx, g.owner, g.group.ID, []uuid.UUID{late})
	require.NoError(t, err)
	name := "Gators II"
	_, err = g.engine.Groups.UpdateGroup(g.ctx, g.admin, g.group.ID, database.GroupUpdate{Name: &name})
	require.NoError(t, err)
	_, err = g.engine.Groups.SetRole(g.ctx, g.owner, g.group.ID, g.admin, models.RoleMember)
	require.NoError(t, err)
	require.NoError(t, g.engine.Groups.Leave(g.ctx, late, g.group.ID))
	updated, err := g.engine.Groups.TransferOwnership(g.ctx, g.owner, g.group.ID, g.member)
	require.NoError(t, err)

	view, err := g.engine.Groups.GetConversation(g.ctx, g.owner, g.group.ID)
	require.NoError(t, err)
	texts := systemTexts(view)
	assert.Equal(t, []string{
		`owner created the group "Gators"`,
		"owner made admin1 an admin",
		"owner added late",
		"admin1 updated the group info",
		"owner removed admin1 as admin",
		"late left the group",
		"owner transferred ownership to member1",
	}, texts)
	require.NotNil(t, updated.LastMessage)
	assert.Equal(t, view[len(view)-1].ID, updated.LastMessage.MessageID)
	assert.Len(t, g.pub.received(g.member, bus.EventGroupNewMessage), 5)
}

func TestPinRespectsJoinWindow(t *testing.T) {
	g := newGroupFixture(t)
	early := g.send(g.owner, "before you joined")

	g.clock.advance(time.Minute)
	late := g.user("late")
	_, err := g.engine.Groups.AddMembers(g.ctx, g.owner, g.group.ID, []uuid.UUID{late})
	require.NoError(t, err)
	_, err = g.engine.Groups.SetRole(g.ctx, g.owner, g.group.ID, late, models.RoleAdmin)
	require.NoError(t, err)

	_, err = g.engine.Groups.Pin(g.ctx, late, g.group.ID, &early.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrMessageNotFound))

	g.clock.advance(time.Minute)
	after := g.send(g.owner, "welcome")
	group, err := g.engine.Groups.Pin(g.ctx, late, g.group.ID, &after.ID)
	require.NoError(t, err)
	assert.Equal(t, after.ID, *group.PinnedMessageID)

	group, err = g.engine.Groups.Pin(g.ctx, g.owner, g.group.ID, &early.ID)
	require.NoError(t, err)
	assert.Equal(t, early.ID, *group.PinnedMessageID)
}
