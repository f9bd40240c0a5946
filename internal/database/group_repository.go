package database

import (
	"context"
	"errors"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CreateGroup inserts the group together with the system message recording
// its creation.
func (m *MongoDB) CreateGroup(ctx context.Context, group *models.Group, record *models.GroupMessage) error {
	doc := toGroupDocument(group)
	if record != nil {
		doc.LastMessage = toSummaryDocument(record.Summary())
	}
	return m.withTransaction(ctx, func(ctx context.Context) error {
		if _, err := m.Groups.InsertOne(ctx, doc); err != nil {
			return utils.NewDatabaseError("create group", err)
		}
		if record == nil {
			return nil
		}
		if err := m.insertGroupMessage(ctx, record); err != nil {
			if !m.transactions {
				m.Groups.DeleteOne(ctx, bson.M{"_id": doc.ID})
			}
			return err
		}
		return nil
	})
}

// GetGroup retrieves a group by its ID
func (m *MongoDB) GetGroup(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	var doc GroupDocument
	err := m.Groups.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewGroupNotFoundError(id.String())
	}
	if err != nil {
		return nil, utils.NewDatabaseError("get group", err)
	}
	return doc.model(), nil
}

// ListGroupsForUser returns the groups userID belongs to, most recently active first
func (m *MongoDB) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]*models.Group, error) {
	cursor, err := m.Groups.Find(ctx,
		bson.M{"members.userId": userID.String()},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}),
	)
	if err != nil {
		return nil, utils.NewDatabaseError("list groups", err)
	}
	defer cursor.Close(ctx)

	groups := make([]*models.Group, 0)
	for cursor.Next(ctx) {
		var doc GroupDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewDatabaseError("decode group", err)
		}
		groups = append(groups, doc.model())
	}
	if err := cursor.Err(); err != nil {
		return nil, utils.NewDatabaseError("iterate groups", err)
	}
	return groups, nil
}

// updateGroup applies update when filter matches and returns the updated
// group. A miss is reported as not found when the group does not exist and
// as ErrConflict otherwise.
func (m *MongoDB) updateGroup(ctx context.Context, id uuid.UUID, filter bson.M, update bson.M) (*models.Group, error) {
	filter["_id"] = id.String()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc GroupDocument
	err := m.Groups.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		count, cerr := m.Groups.CountDocuments(ctx, bson.M{"_id": id.String()})
		if cerr != nil {
			return nil, utils.NewDatabaseError("update group", cerr)
		}
		if count == 0 {
			return nil, utils.NewGroupNotFoundError(id.String())
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, utils.NewDatabaseError("update group", err)
	}
	return doc.model(), nil
}

// recordedUpdate applies a membership update and inserts the system message
// describing it. Without transactions the inserted record is removed again
// when the update does not apply.
func (m *MongoDB) recordedUpdate(ctx context.Context, id uuid.UUID, filter, update bson.M, record *models.GroupMessage) (*models.Group, error) {
	update = touch(update)
	if record == nil {
		return m.updateGroup(ctx, id, filter, update)
	}
	update["$set"].(bson.M)["lastMessage"] = toSummaryDocument(record.Summary())

	var group *models.Group
	err := m.withTransaction(ctx, func(ctx context.Context) error {
		if err := m.insertGroupMessage(ctx, record); err != nil {
			return err
		}
		updated, err := m.updateGroup(ctx, id, filter, update)
		if err != nil {
			if !m.transactions {
				m.GroupMessages.DeleteOne(ctx, bson.M{"_id": record.ID.String()})
			}
			return err
		}
		group = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func touch(update bson.M) bson.M {
	set, _ := update["$set"].(bson.M)
	if set == nil {
		set = bson.M{}
	}
	set["updatedAt"] = time.Now().UTC()
	update["$set"] = set
	return update
}

func (m *MongoDB) AddGroupMembers(ctx context.Context, groupID uuid.UUID, members []models.GroupMember, record *models.GroupMessage) (*models.Group, error) {
	ids := make([]string, 0, len(members))
	docs := make([]GroupMemberDocument, 0, len(members))
	for _, member := range members {
		ids = append(ids, member.UserID.String())
		docs = append(docs, toMemberDocument(member))
	}

	filter := bson.M{"members.userId": bson.M{"$nin": ids}}
	update := bson.M{"$push": bson.M{"members": bson.M{"$each": docs}}}
	return m.recordedUpdate(ctx, groupID, filter, update, record)
}

func (m *MongoDB) RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID, record *models.GroupMessage) (*models.Group, error) {
	uid := userID.String()
	filter := bson.M{"ownerId": bson.M{"$ne": uid}, "members.userId": uid}
	update := bson.M{"$pull": bson.M{"members": bson.M{"userId": uid}}}
	return m.recordedUpdate(ctx, groupID, filter, update, record)
}

func (m *MongoDB) SetMemberRole(ctx context.Context, groupID, userID uuid.UUID, role models.GroupRole, record *models.GroupMessage) (*models.Group, error) {
	uid := userID.String()
	filter := bson.M{"ownerId": bson.M{"$ne": uid}, "members.userId": uid}
	update := bson.M{"$set": bson.M{"members.$.role": string(role)}}
	return m.recordedUpdate(ctx, groupID, filter, update, record)
}

// TransferOwnership hands the group to another member, who becomes an admin.
func (m *MongoDB) TransferOwnership(ctx context.Context, groupID, from, to uuid.UUID, record *models.GroupMessage) (*models.Group, error) {
	filter := bson.M{"ownerId": from.String(), "members.userId": to.String()}
	update := bson.M{"$set": bson.M{"ownerId": to.String(), "members.$.role": string(models.RoleAdmin)}}
	return m.recordedUpdate(ctx, groupID, filter, update, record)
}

func (m *MongoDB) UpdateGroupInfo(ctx context.Context, groupID uuid.UUID, update GroupUpdate, record *models.GroupMessage) (*models.Group, error) {
	set := bson.M{}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.AvatarURL != nil {
		set["avatarUrl"] = *update.AvatarURL
	}
	if update.AnnouncementOnly != nil {
		set["announcementOnly"] = *update.AnnouncementOnly
	}
	return m.recordedUpdate(ctx, groupID, bson.M{}, bson.M{"$set": set}, record)
}

func (m *MongoDB) SetPinnedMessage(ctx context.Context, groupID uuid.UUID, messageID *uuid.UUID) (*models.Group, error) {
	var update bson.M
	if messageID == nil {
		update = bson.M{"$unset": bson.M{"pinnedMessageId": ""}}
	} else {
		update = bson.M{"$set": bson.M{"pinnedMessageId": messageID.String()}}
	}
	return m.updateGroup(ctx, groupID, bson.M{}, touch(update))
}
