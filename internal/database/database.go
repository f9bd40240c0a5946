// internal/database/database.go
package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type MongoDB struct {
	Client         *mongo.Client
	Database       *mongo.Database
	Users          *mongo.Collection
	DirectMessages *mongo.Collection
	Groups         *mongo.Collection
	GroupMessages  *mongo.Collection

	// transactions enables multi-document transactions, which need a
	// replica set or sharded deployment.
	transactions bool
}

// NewMongoDB connects and uses transactions whenever the deployment supports
// them. With requireTransactions set, a standalone server is an error.
func NewMongoDB(uri, dbName string, requireTransactions bool) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	transactions := supportsTransactions(ctx, client)
	if !transactions {
		if requireTransactions {
			client.Disconnect(ctx)
			return nil, fmt.Errorf("MongoDB deployment does not support transactions, a replica set is required")
		}
		zap.S().Warnw("standalone MongoDB server, multi-document writes are not atomic", "database", dbName)
	}
	zap.S().Infow("connected to MongoDB", "database", dbName, "transactions", transactions)

	db := client.Database(dbName)
	m := &MongoDB{
		Client:         client,
		Database:       db,
		Users:          db.Collection("users"),
		DirectMessages: db.Collection("direct_messages"),
		Groups:         db.Collection("groups"),
		GroupMessages:  db.Collection("group_messages"),
		transactions:   transactions,
	}
	if err := m.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// supportsTransactions reports whether the server is a replica set member
// or a mongos router.
func supportsTransactions(ctx context.Context, client *mongo.Client) bool {
	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		zap.S().Warnw("hello command failed", "error", err)
		return false
	}
	return hello.SetName != "" || hello.Msg == "isdbgrid"
}

// EnsureIndexes creates the indexes backing the conversation, unread and
// scheduled-release queries.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := m.DirectMessages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "lifecycleState", Value: 1}}},
		{Keys: bson.D{{Key: "lifecycleState", Value: 1}, {Key: "scheduledReleaseAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create direct message indexes: %w", err)
	}

	_, err = m.GroupMessages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "groupId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create group message indexes: %w", err)
	}

	_, err = m.Groups.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "members.userId", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create group indexes: %w", err)
	}
	return nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// withTransaction runs fn inside a session transaction when enabled, and
// directly otherwise.
func (m *MongoDB) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.transactions {
		return fn(ctx)
	}
	session, err := m.Client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
