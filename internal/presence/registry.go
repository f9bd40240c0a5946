// Package presence tracks which users currently hold live real-time
// connections. Presence is advisory and never persisted.
package presence

import (
	"sort"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map"
)

// Handle is one live connection of a user.
type Handle interface {
	// ID is unique per connection for the lifetime of the process.
	ID() string
	// Deliver queues payload for the connection without blocking. It
	// returns false when the payload was dropped.
	Deliver(payload []byte) bool
	// Close tears the connection down.
	Close()
}

// Registry maps a user to zero or more live connection handles.
type Registry interface {
	Register(userID uuid.UUID, h Handle) int
	Unregister(userID uuid.UUID, h Handle) int
	LiveHandles(userID uuid.UUID) []Handle
	IsOnline(userID uuid.UUID) bool
	OnlineUsers() []uuid.UUID
}

// ShardedRegistry stores an immutable handle slice per user in a sharded
// concurrent map. Writers replace the slice under the shard lock, so a
// reader always gets a snapshot that is never mutated afterwards.
type ShardedRegistry struct {
	handles cmap.ConcurrentMap
}

func NewRegistry() *ShardedRegistry {
	return &ShardedRegistry{handles: cmap.New()}
}

// Register adds h to userID's handle set and returns the new set size.
func (r *ShardedRegistry) Register(userID uuid.UUID, h Handle) int {
	res := r.handles.Upsert(userID.String(), h, func(exist bool, inMap interface{}, newValue interface{}) interface{} {
		nh := newValue.(Handle)
		if !exist {
			return []Handle{nh}
		}
		current := inMap.([]Handle)
		next := make([]Handle, 0, len(current)+1)
		for _, c := range current {
			if c.ID() != nh.ID() {
				next = append(next, c)
			}
		}
		return append(next, nh)
	})
	return len(res.([]Handle))
}

// Unregister removes h from userID's handle set and returns the number of
// handles left. Removing an unknown handle is a no-op.
func (r *ShardedRegistry) Unregister(userID uuid.UUID, h Handle) int {
	res := r.handles.Upsert(userID.String(), h, func(exist bool, inMap interface{}, newValue interface{}) interface{} {
		if !exist {
			return []Handle{}
		}
		gone := newValue.(Handle)
		current := inMap.([]Handle)
		next := make([]Handle, 0, len(current))
		for _, c := range current {
			if c.ID() != gone.ID() {
				next = append(next, c)
			}
		}
		return next
	})
	return len(res.([]Handle))
}

// LiveHandles returns a snapshot of userID's handles.
func (r *ShardedRegistry) LiveHandles(userID uuid.UUID) []Handle {
	v, ok := r.handles.Get(userID.String())
	if !ok {
		return nil
	}
	return v.([]Handle)
}

func (r *ShardedRegistry) IsOnline(userID uuid.UUID) bool {
	return len(r.LiveHandles(userID)) > 0
}

// OnlineUsers lists every user with at least one live handle, sorted for
// stable output.
func (r *ShardedRegistry) OnlineUsers() []uuid.UUID {
	online := make([]uuid.UUID, 0)
	for key, v := range r.handles.Items() {
		if len(v.([]Handle)) == 0 {
			continue
		}
		id, err := uuid.Parse(key)
		if err != nil {
			continue
		}
		online = append(online, id)
	}
	sort.Slice(online, func(i, j int) bool { return online[i].String() < online[j].String() })
	return online
}
