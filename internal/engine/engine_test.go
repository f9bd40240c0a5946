package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/presence"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	audience []uuid.UUID
	event    bus.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, audience []uuid.UUID, event bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{audience: append([]uuid.UUID(nil), audience...), event: event})
}

// received returns the events of type t whose audience includes userID.
func (p *recordingPublisher) received(userID uuid.UUID, t bus.EventType) []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bus.Event
	for _, e := range p.events {
		if e.event.Type != t {
			continue
		}
		for _, id := range e.audience {
			if id == userID {
				out = append(out, e.event)
				break
			}
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fakeHandle struct{ id string }

func (h *fakeHandle) ID() string                  { return h.id }
func (h *fakeHandle) Deliver(payload []byte) bool { return true }
func (h *fakeHandle) Close()                      {}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	db       *database.MemoryDB
	registry *presence.ShardedRegistry
	pub      *recordingPublisher
	clock    *fakeClock
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		db:       database.NewMemoryDB(),
		registry: presence.NewRegistry(),
		pub:      &recordingPublisher{},
		clock:    &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.engine = NewEngine(f.db, f.registry, f.pub, nil)
	f.engine.SetClock(f.clock.now)
	return f
}

func (f *fixture) user(name string) uuid.UUID {
	id := uuid.New()
	require.NoError(f.t, f.db.SaveUser(f.ctx, &models.User{ID: id, Username: name}))
	return id
}

func (f *fixture) friends(a, b uuid.UUID) {
	require.NoError(f.t, f.db.AddFriendship(f.ctx, a, b))
}

func (f *fixture) connect(userID uuid.UUID) presence.Handle {
	h := &fakeHandle{id: uuid.NewString()}
	f.registry.Register(userID, h)
	return h
}

func (f *fixture) sendText(from, to uuid.UUID, text string) *models.DirectMessage {
	msg, err := f.engine.Direct.SendDirect(f.ctx, SendDirectRequest{SenderID: from, ReceiverID: to, Content: Content{Text: text}})
	require.NoError(f.t, err)
	return msg
}
