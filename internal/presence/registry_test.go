package presence

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	id string
}

func (h *fakeHandle) ID() string { return h.id }
func (h *fakeHandle) Deliver(_ []byte) bool { return true }
func (h *fakeHandle) Close() {}

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()
	a, b := &fakeHandle{id: "a"}, &fakeHandle{id: "b"}

	assert.False(t, r.IsOnline(user))
	assert.Equal(t, 1, r.Register(user, a))
	assert.Equal(t, 2, r.Register(user, b))
	assert.Equal(t, 2, r.Register(user, a), "re-registering a handle does not duplicate it")
	assert.True(t, r.IsOnline(user))

	assert.Equal(t, 1, r.Unregister(user, a))
	assert.Equal(t, 1, r.Unregister(user, &fakeHandle{id: "unknown"}))
	assert.Equal(t, 0, r.Unregister(user, b))
	assert.False(t, r.IsOnline(user))
	assert.Empty(t, r.OnlineUsers())
}

func TestLiveHandlesIsASnapshot(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()
	r.Register(user, &fakeHandle{id: "a"})

	snapshot := r.LiveHandles(user)
	r.Register(user, &fakeHandle{id: "b"})
	r.Unregister(user, &fakeHandle{id: "a"})

	require.Len(t, snapshot, 1)
	assert.Equal(t, "a", snapshot[0].ID())
	require.Len(t, r.LiveHandles(user), 1)
	assert.Equal(t, "b", r.LiveHandles(user)[0].ID())
	assert.Nil(t, r.LiveHandles(uuid.New()))
}

func TestOnlineUsersUnderConcurrentRegistration(t *testing.T) {
	r := NewRegistry()
	users := make([]uuid.UUID, 20)
	for i := range users {
		users[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for _, u := range users {
		for c := 0; c < 5; c++ {
			wg.Add(1)
			go func(u uuid.UUID, c int) {
				defer wg.Done()
				r.Register(u, &fakeHandle{id: u.String() + string(rune('a'+c))})
			}(u, c)
		}
	}
	wg.Wait()

	online := r.OnlineUsers()
	assert.Len(t, online, len(users))
	for i := 1; i < len(online); i++ {
		assert.Less(t, online[i-1].String(), online[i].String())
	}
	for _, u := range users {
		assert.Len(t, r.LiveHandles(u), 5)
	}
}
