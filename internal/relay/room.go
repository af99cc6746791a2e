package relay

import (
	"sync"

	"github.com/methatron/worldsync/internal/proto"
)

// Room is a broadcast domain keyed by scene id. It tracks the member
// connections and the spawn cache: the Spawn message of every
// currently-live object, replayed to late joiners.
type Room struct {
	name string

	mu      sync.Mutex
	members map[*Client]struct{}
	cache   map[string]proto.Spawn
}

func newRoom(name string) *Room {
	return &Room{
		name:    name,
		members: make(map[*Client]struct{}),
		cache:   make(map[string]proto.Spawn),
	}
}

// Name returns the scene id this room broadcasts for.
func (r *Room) Name() string { return r.name }

// add registers a member and returns the spawn cache snapshot to
// replay to it. Registration and snapshot happen under one lock
// acquisition, so the joiner cannot miss a spawn that lands in
// between: anything newer reaches it through the member set.
func (r *Room) add(c *Client) []proto.Spawn {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[c] = struct{}{}
	replay := make([]proto.Spawn, 0, len(r.cache))
	for _, spawn := range r.cache {
		replay = append(replay, spawn)
	}
	return replay
}

// remove drops a member; unknown members are a no-op.
func (r *Room) remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, c)
}

// MemberCount returns the current number of member connections.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// fillSpawnCache records a live object so late joiners see it.
func (r *Room) fillSpawnCache(s proto.Spawn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[s.ID] = s
}

// cleanSpawnCache forgets a destroyed object. Idempotent.
func (r *Room) cleanSpawnCache(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, id)
}

// CachedSpawns returns the ids of currently-live objects.
func (r *Room) CachedSpawns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.cache))
	for id := range r.cache {
		ids = append(ids, id)
	}
	return ids
}

// Broadcast enqueues the message to every member, the sender included.
// Delivery is best effort per member: a full queue drops the frame for
// that member only.
func (r *Room) Broadcast(m proto.Message) {
	r.mu.Lock()
	members := make([]*Client, 0, len(r.members))
	for c := range r.members {
		members = append(members, c)
	}
	r.mu.Unlock()

	for _, c := range members {
		c.Send(m)
	}
}
