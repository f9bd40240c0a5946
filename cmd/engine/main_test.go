package main

import (
	"context"
	"testing"
	"time"

	"gator-chat/internal/config"
	"gator-chat/internal/engine"
	"gator-chat/internal/engine/actors"
	"gator-chat/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Setenv("DB_TYPE", "memory")
	t.Setenv("REDIS_ENABLED", "false")
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	return cfg
}

func TestScheduledMessageReleasedThroughSweepActor(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, memoryConfig(t))
	require.NoError(t, err)
	defer app.Close(ctx)

	alice, bob := uuid.New(), uuid.New()
	require.NoError(t, app.Store.SaveUser(ctx, &models.User{ID: alice, Username: "alice"}))
	require.NoError(t, app.Store.SaveUser(ctx, &models.User{ID: bob, Username: "bob"}))
	require.NoError(t, app.Store.AddFriendship(ctx, alice, bob))

	releaseAt := time.Now().UTC().Add(50 * time.Millisecond)
	msg, err := app.Engine.Direct.SendDirect(ctx, engine.SendDirectRequest{
		SenderID:    alice,
		ReceiverID:  bob,
		Content:     engine.Content{Text: "later"},
		ScheduledAt: &releaseAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StateScheduled, msg.State)

	hidden, err := app.Engine.Direct.GetConversation(ctx, bob, alice)
	require.NoError(t, err)
	assert.Empty(t, hidden)

	time.Sleep(100 * time.Millisecond)

	result, err := app.System.Root.RequestFuture(app.SweepPID, &actors.SweepMsg{}, 5*time.Second).Result()
	require.NoError(t, err)
	sweep, ok := result.(*actors.SweepResult)
	require.True(t, ok)
	require.NoError(t, sweep.Err)
	assert.Equal(t, 1, sweep.Released)

	visible, err := app.Engine.Direct.GetConversation(ctx, bob, alice)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, msg.ID, visible[0].ID)
	assert.Equal(t, models.StateSent, visible[0].State)
}

func TestNewAppRejectsUnreachableRedis(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewApp(ctx, cfg)
	assert.Error(t, err)
}
