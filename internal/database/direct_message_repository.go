package database

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var conversationSort = bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}

// InsertDirectMessage saves a new direct message to MongoDB
func (m *MongoDB) InsertDirectMessage(ctx context.Context, message *models.DirectMessage) error {
	doc := toDirectMessageDocument(message)
	if _, err := m.DirectMessages.InsertOne(ctx, doc); err != nil {
		return utils.NewDatabaseError("insert direct message", err)
	}
	return nil
}

func (m *MongoDB) GetDirectMessage(ctx context.Context, id uuid.UUID) (*models.DirectMessage, error) {
	var doc DirectMessageDocument
	err := m.DirectMessages.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewMessageNotFoundError(id.String())
	}
	if err != nil {
		return nil, utils.NewDatabaseError("get direct message", err)
	}
	return doc.model(), nil
}

func stateTimestampField(state models.LifecycleState) string {
	switch state {
	case models.StateSent:
		return "sentAt"
	case models.StateDelivered:
		return "deliveredAt"
	case models.StateRead:
		return "readAt"
	}
	return ""
}

func (m *MongoDB) TransitionDirectMessage(ctx context.Context, id uuid.UUID, from []models.LifecycleState, to models.LifecycleState, at time.Time) (bool, error) {
	fromStates := make([]string, 0, len(from))
	for _, s := range from {
		fromStates = append(fromStates, string(s))
	}
	set := bson.M{"lifecycleState": string(to)}
	if field := stateTimestampField(to); field != "" {
		set[field] = at
	}

	result, err := m.DirectMessages.UpdateOne(ctx,
		bson.M{"_id": id.String(), "lifecycleState": bson.M{"$in": fromStates}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, utils.NewDatabaseError("transition direct message", err)
	}
	return result.ModifiedCount == 1, nil
}

// visibleToViewer hides scheduled messages from their receiver and
// messages the viewer deleted for themselves.
func visibleToViewer(viewer string) bson.M {
	return bson.M{
		"deletedFor": bson.M{"$ne": viewer},
		"$nor": bson.A{
			bson.M{"receiverId": viewer, "lifecycleState": string(models.StateScheduled)},
		},
	}
}

func (m *MongoDB) findDirectMessages(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.DirectMessage, error) {
	cursor, err := m.DirectMessages.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewDatabaseError("find direct messages", err)
	}
	defer cursor.Close(ctx)

	messages := make([]*models.DirectMessage, 0)
	for cursor.Next(ctx) {
		var doc DirectMessageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, utils.NewDatabaseError("decode direct message", err)
		}
		messages = append(messages, doc.model())
	}
	if err := cursor.Err(); err != nil {
		return nil, utils.NewDatabaseError("iterate direct messages", err)
	}
	return messages, nil
}

func (m *MongoDB) FindConversation(ctx context.Context, a, b, viewer uuid.UUID) ([]*models.DirectMessage, error) {
	aStr, bStr := a.String(), b.String()
	filter := visibleToViewer(viewer.String())
	filter["$or"] = bson.A{
		bson.M{"senderId": aStr, "receiverId": bStr},
		bson.M{"senderId": bStr, "receiverId": aStr},
	}
	return m.findDirectMessages(ctx, filter, options.Find().SetSort(conversationSort))
}

type conversationRow struct {
	PeerID string                `bson:"_id"`
	Last   DirectMessageDocument `bson:"last"`
	Unread int                   `bson:"unread"`
}

func (m *MongoDB) ListConversations(ctx context.Context, viewer uuid.UUID) ([]*models.Conversation, error) {
	v := viewer.String()
	match := visibleToViewer(v)
	match["$or"] = bson.A{bson.M{"senderId": v}, bson.M{"receiverId": v}}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":  bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$senderId", v}}, "$receiverId", "$senderId"}},
			"last": bson.M{"$first": "$$ROOT"},
			"unread": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$receiverId", v}},
					bson.M{"$in": bson.A{"$lifecycleState", bson.A{string(models.StateSent), string(models.StateDelivered)}}},
				}},
				1, 0,
			}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "last.createdAt", Value: -1}}}},
	}

	cursor, err := m.DirectMessages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, utils.NewDatabaseError("list conversations", err)
	}
	defer cursor.Close(ctx)

	conversations := make([]*models.Conversation, 0)
	for cursor.Next(ctx) {
		var row conversationRow
		if err := cursor.Decode(&row); err != nil {
			return nil, utils.NewDatabaseError("decode conversation", err)
		}
		peerID, err := uuid.Parse(row.PeerID)
		if err != nil {
			continue
		}
		conversations = append(conversations, &models.Conversation{
			PeerID:      peerID,
			LastMessage: row.Last.model(),
			UnreadCount: row.Unread,
		})
	}
	return conversations, cursor.Err()
}

func (m *MongoDB) FindPendingDelivery(ctx context.Context, receiver uuid.UUID) ([]*models.DirectMessage, error) {
	filter := bson.M{"receiverId": receiver.String(), "lifecycleState": string(models.StateSent)}
	return m.findDirectMessages(ctx, filter, options.Find().SetSort(conversationSort))
}

func (m *MongoDB) FindUnread(ctx context.Context, sender, receiver uuid.UUID) ([]*models.DirectMessage, error) {
	filter := bson.M{
		"senderId":       sender.String(),
		"receiverId":     receiver.String(),
		"lifecycleState": bson.M{"$in": bson.A{string(models.StateSent), string(models.StateDelivered)}},
	}
	return m.findDirectMessages(ctx, filter, options.Find().SetSort(conversationSort))
}

func (m *MongoDB) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.DirectMessage, error) {
	filter := bson.M{
		"lifecycleState":     string(models.StateScheduled),
		"scheduledReleaseAt": bson.M{"$lte": now},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "scheduledReleaseAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return m.findDirectMessages(ctx, filter, opts)
}

// updateDirectMessage applies update to the document matching filter and
// returns the updated message. A miss is reported as not found when the id
// does not exist and as ErrConflict otherwise.
func (m *MongoDB) updateDirectMessage(ctx context.Context, id uuid.UUID, filter bson.M, update interface{}) (*models.DirectMessage, error) {
	filter["_id"] = id.String()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc DirectMessageDocument
	err := m.DirectMessages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		count, cerr := m.DirectMessages.CountDocuments(ctx, bson.M{"_id": id.String()})
		if cerr != nil {
			return nil, utils.NewDatabaseError("update direct message", cerr)
		}
		if count == 0 {
			return nil, utils.NewMessageNotFoundError(id.String())
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, utils.NewDatabaseError("update direct message", err)
	}
	return doc.model(), nil
}

func (m *MongoDB) ToggleReaction(ctx context.Context, id, userID uuid.UUID, emoji string) (*models.DirectMessage, bool, error) {
	field := "reactions." + userID.String()

	msg, err := m.updateDirectMessage(ctx, id, bson.M{field: emoji}, bson.M{"$unset": bson.M{field: ""}})
	if err == nil {
		return msg, false, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, false, err
	}

	msg, err = m.updateDirectMessage(ctx, id, bson.M{}, bson.M{"$set": bson.M{field: emoji}})
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

func (m *MongoDB) EditDirectMessage(ctx context.Context, id, senderID uuid.UUID, text string, editedAt, notBefore time.Time) (*models.DirectMessage, error) {
	filter := bson.M{
		"senderId":      senderID.String(),
		"deletedForAll": false,
		"createdAt":     bson.M{"$gte": notBefore},
	}
	update := bson.M{"$set": bson.M{"text": text, "edited": true, "editedAt": editedAt}}
	return m.updateDirectMessage(ctx, id, filter, update)
}

func (m *MongoDB) SetDirectPinned(ctx context.Context, id uuid.UUID, pinned bool) (*models.DirectMessage, error) {
	return m.updateDirectMessage(ctx, id, bson.M{}, bson.M{"$set": bson.M{"pinned": pinned}})
}

// pollVotePipeline rebuilds poll.options so that userID appears only in the
// voter set of option. It runs as a single-document pipeline update.
func pollVotePipeline(userID string, option int) mongo.Pipeline {
	stripped := bson.M{"$setDifference": bson.A{
		bson.M{"$ifNull": bson.A{"$$opt.votes", bson.A{}}},
		bson.A{userID},
	}}
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"poll.options": bson.M{
			"$map": bson.M{
				"input": bson.M{"$range": bson.A{0, bson.M{"$size": "$poll.options"}}},
				"as":    "i",
				"in": bson.M{"$let": bson.M{
					"vars": bson.M{"opt": bson.M{"$arrayElemAt": bson.A{"$poll.options", "$$i"}}},
					"in": bson.M{
						"text": "$$opt.text",
						"votes": bson.M{"$cond": bson.A{
							bson.M{"$eq": bson.A{"$$i", option}},
							bson.M{"$concatArrays": bson.A{stripped, bson.A{userID}}},
							stripped,
						}},
					},
				}},
			},
		}}}},
	}
}

func pollOptionFilter(option int) bson.M {
	return bson.M{"poll.options." + strconv.Itoa(option): bson.M{"$exists": true}}
}

func (m *MongoDB) VoteDirectPoll(ctx context.Context, id, userID uuid.UUID, option int) (*models.DirectMessage, error) {
	return m.updateDirectMessage(ctx, id, pollOptionFilter(option), pollVotePipeline(userID.String(), option))
}

func (m *MongoDB) DeleteDirectForAll(ctx context.Context, id, senderID uuid.UUID) (*models.DirectMessage, error) {
	update := bson.M{
		"$set":   bson.M{"text": models.TombstoneText, "deletedForAll": true},
		"$unset": bson.M{"attachment": "", "poll": ""},
	}
	return m.updateDirectMessage(ctx, id, bson.M{"senderId": senderID.String()}, update)
}

func (m *MongoDB) DeleteDirectForMe(ctx context.Context, id, viewer uuid.UUID) error {
	v := viewer.String()
	filter := bson.M{"$or": bson.A{bson.M{"senderId": v}, bson.M{"receiverId": v}}}
	_, err := m.updateDirectMessage(ctx, id, filter, bson.M{"$addToSet": bson.M{"deletedFor": v}})
	return err
}
