package database

import (
	"context"
	"errors"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AppendGroupMessage inserts the message and updates the group's last
// message summary in one transaction when transactions are enabled.
func (m *MongoDB) AppendGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	return m.withTransaction(ctx, func(ctx context.Context) error {
		if err := m.insertGroupMessage(ctx, msg); err != nil {
			return err
		}

		result, err := m.Groups.UpdateOne(ctx,
			bson.M{"_id": msg.GroupID.String()},
			bson.M{"$set": bson.M{"lastMessage": toSummaryDocument(msg.Summary()), "updatedAt": msg.CreatedAt}},
		)
		if err != nil {
			return utils.NewDatabaseError("update group last message", err)
		}
		if result.MatchedCount == 0 {
			return utils.NewGroupNotFoundError(msg.GroupID.String())
		}
		return nil
	})
}

func (m *MongoDB) insertGroupMessage(ctx context.Context, msg *models.GroupMessage) error {
	if _, err := m.GroupMessages.InsertOne(ctx, toGroupMessageDocument(msg)); err != nil {
		return utils.NewDatabaseError("insert group message", err)
	}
	return nil
}

func (m *MongoDB) GetGroupMessage(ctx context.Context, id uuid.UUID) (*models.GroupMessage, error) {
	var doc GroupMessageDocument
	err := m.GroupMessages.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewMessageNotFoundError(id.String())
	}
	if err != nil {
		return nil, utils.NewDatabaseError("get group message", err)
	}
	return doc.model(), nil
}

// memberWindow restricts a group query to what member may see.
func memberWindow(groupID uuid.UUID, member models.GroupMember) bson.M {
	return bson.M{
		"groupId":    groupID.String(),
		"createdAt":  bson.M{"$gte": member.JoinedAt},
		"deletedFor": bson.M{"$ne": member.UserID.String()},
	}
}

func (m *MongoDB) FindGroupConversation(ctx context.Context, groupID uuid.UUID, viewer models.GroupMember) ([]*models.GroupMessage, error) {
	cursor, err := m.GroupMessages.Find(ctx, memberWindow(groupID, viewer), options.Find().SetSort(conversationSort))
	if err != nil {
		return nil, utils.NewDatabaseError("find group messages", err)
	}
	defer cursor.Close(ctx)

	messages := make([]*models.GroupMessage, 0)
	for cursor.Next(ctx) {
		var doc GroupMessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewDatabaseError("decode group message", err)
		}
		messages = append(messages, doc.model())
	}
	if err := cursor.Err(); err != nil {
		return nil, utils.NewDatabaseError("iterate group messages", err)
	}
	return messages, nil
}

func (m *MongoDB) MarkGroupRead(ctx context.Context, groupID uuid.UUID, member models.GroupMember) ([]uuid.UUID, error) {
	uid := member.UserID.String()
	filter := memberWindow(groupID, member)
	filter["readBy"] = bson.M{"$ne": uid}

	cursor, err := m.GroupMessages.Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(conversationSort))
	if err != nil {
		return nil, utils.NewDatabaseError("find unread group messages", err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, utils.NewDatabaseError("decode unread group messages", err)
	}
	if len(rows) == 0 {
		return []uuid.UUID{}, nil
	}

	// Claim each id conditionally; a concurrent call for the same member
	// skips what this one marked.
	marked := make([]string, 0, len(rows))
	for _, r := range rows {
		result, err := m.GroupMessages.UpdateOne(ctx,
			bson.M{"_id": r.ID, "readBy": bson.M{"$ne": uid}},
			bson.M{"$addToSet": bson.M{"readBy": uid}},
		)
		if err != nil {
			return nil, utils.NewDatabaseError("mark group message read", err)
		}
		if result.ModifiedCount == 1 {
			marked = append(marked, r.ID)
		}
	}
	return parseIDs(marked), nil
}

func (m *MongoDB) updateGroupMessage(ctx context.Context, id uuid.UUID, filter bson.M, update interface{}) (*models.GroupMessage, error) {
	filter["_id"] = id.String()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc GroupMessageDocument
	err := m.GroupMessages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		count, cerr := m.GroupMessages.CountDocuments(ctx, bson.M{"_id": id.String()})
		if cerr != nil {
			return nil, utils.NewDatabaseError("update group message", cerr)
		}
		if count == 0 {
			return nil, utils.NewMessageNotFoundError(id.String())
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, utils.NewDatabaseError("update group message", err)
	}
	return doc.model(), nil
}

func (m *MongoDB) DeleteGroupMessageForAll(ctx context.Context, id, senderID uuid.UUID) (*models.GroupMessage, error) {
	update := bson.M{
		"$set":   bson.M{"text": models.TombstoneText, "deletedForAll": true},
		"$unset": bson.M{"attachment": "", "poll": ""},
	}
	return m.updateGroupMessage(ctx, id, bson.M{"senderId": senderID.String()}, update)
}

func (m *MongoDB) DeleteGroupMessageForMe(ctx context.Context, id, viewer uuid.UUID) error {
	_, err := m.updateGroupMessage(ctx, id, bson.M{}, bson.M{"$addToSet": bson.M{"deletedFor": viewer.String()}})
	return err
}

func (m *MongoDB) VoteGroupPoll(ctx context.Context, id, userID uuid.UUID, option int) (*models.GroupMessage, error) {
	return m.updateGroupMessage(ctx, id, pollOptionFilter(option), pollVotePipeline(userID.String(), option))
}
