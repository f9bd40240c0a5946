// internal/database/user_repository.go
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

// UserDocument represents the MongoDB schema for a user
type UserDocument struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	AvatarURL    string    `bson:"avatarUrl,omitempty"`
	Friends      []string  `bson:"friends"`
	BlockedUsers []string  `bson:"blockedUsers"`
	CreatedAt    time.Time `bson:"createdAt"`
	LastActive   time.Time `bson:"lastActive"`
}

// SaveUser creates or updates a user in MongoDB
func (m *MongoDB) SaveUser(ctx context.Context, user *models.User) error {
	doc := UserDocument{
		ID:           user.ID.String(),
		Username:     user.Username,
		AvatarURL:    user.AvatarURL,
		Friends:      idStrings(user.Friends),
		BlockedUsers: idStrings(user.BlockedUsers),
		CreatedAt:    user.CreatedAt,
		LastActive:   user.LastActive,
	}

	opts := options.Update().SetUpsert(true)
	filter := bson.M{"_id": user.ID.String()}
	update := bson.M{"$set": doc}

	if _, err := m.Users.UpdateOne(ctx, filter, update, opts); err != nil {
		return utils.NewDatabaseError("save user", err)
	}
	return nil
}

// SaveProfile upserts the display fields only. Relations are initialised on
// insert and otherwise left to AddFriendship and SetBlocked.
func (m *MongoDB) SaveProfile(ctx context.Context, id uuid.UUID, username, avatarURL string, at time.Time) (*models.User, error) {
	update := bson.M{
		"$set": bson.M{
			"username":   username,
			"avatarUrl":  avatarURL,
			"lastActive": at,
		},
		"$setOnInsert": bson.M{
			"friends":      bson.A{},
			"blockedUsers": bson.A{},
			"createdAt":    at,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc UserDocument
	if err := m.Users.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, update, opts).Decode(&doc); err != nil {
		return nil, utils.NewDatabaseError("save profile", err)
	}
	return doc.model()
}

// GetUser retrieves a user from MongoDB by their ID
func (m *MongoDB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var doc UserDocument

	err := m.Users.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewUserNotFoundError(id.String())
	}
	if err != nil {
		return nil, utils.NewDatabaseError("get user", err)
	}
	return doc.model()
}

func (d *UserDocument) model() (*models.User, error) {
	userID, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, utils.NewDatabaseError("parse user id", err)
	}

	return &models.User{
		ID:           userID,
		Username:     d.Username,
		AvatarURL:    d.AvatarURL,
		Friends:      parseIDs(d.Friends),
		BlockedUsers: parseIDs(d.BlockedUsers),
		CreatedAt:    d.CreatedAt,
		LastActive:   d.LastActive,
	}, nil
}

// IsFriend requires each side to list the other.
func (m *MongoDB) IsFriend(ctx context.Context, a, b uuid.UUID) (bool, error) {
	aStr, bStr := a.String(), b.String()
	count, err := m.Users.CountDocuments(ctx, bson.M{"$or": bson.A{
		bson.M{"_id": aStr, "friends": bStr},
		bson.M{"_id": bStr, "friends": aStr},
	}})
	if err != nil {
		return false, utils.NewDatabaseError("check friendship", err)
	}
	return count == 2, nil
}

func (m *MongoDB) IsBlocked(ctx context.Context, blocker, blocked uuid.UUID) (bool, error) {
	count, err := m.Users.CountDocuments(ctx, bson.M{"_id": blocker.String(), "blockedUsers": blocked.String()})
	if err != nil {
		return false, utils.NewDatabaseError("check block", err)
	}
	return count > 0, nil
}

// AddFriendship records a mutual friendship between a and b.
func (m *MongoDB) AddFriendship(ctx context.Context, a, b uuid.UUID) error {
	return m.withTransaction(ctx, func(ctx context.Context) error {
		for _, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
			result, err := m.Users.UpdateOne(ctx,
				bson.M{"_id": pair[0].String()},
				bson.M{"$addToSet": bson.M{"friends": pair[1].String()}},
			)
			if err != nil {
				return utils.NewDatabaseError("add friendship", err)
			}
			if result.MatchedCount == 0 {
				return utils.NewUserNotFoundError(pair[0].String())
			}
		}
		return nil
	})
}

// SetBlocked adds or removes blocked from the blocker's block list
func (m *MongoDB) SetBlocked(ctx context.Context, blocker, blocked uuid.UUID, block bool) error {
	var update bson.M
	if block {
		update = bson.M{"$addToSet": bson.M{"blockedUsers": blocked.String()}}
	} else {
		update = bson.M{"$pull": bson.M{"blockedUsers": blocked.String()}}
	}

	result, err := m.Users.UpdateOne(ctx, bson.M{"_id": blocker.String()}, update)
	if err != nil {
		return utils.NewDatabaseError("set blocked", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewUserNotFoundError(blocker.String())
	}
	return nil
}
