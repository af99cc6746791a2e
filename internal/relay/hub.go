// Package relay implements the server side of object replication:
// a pure router that tracks connections, groups them into rooms, keeps
// each room's spawn cache current, and fans messages out. It holds no
// simulation state beyond object existence and ownership bookkeeping.
package relay

import (
	"log"
	"sync"
	"time"

	"github.com/methatron/worldsync/internal/proto"
)

// replayWait bounds how long a Join replay waits on the joiner's
// writer loop per cached spawn. Matches the transport's write
// deadline, so only a connection the transport would give up on
// anyway can miss part of its replay.
const replayWait = 10 * time.Second

// Hub owns the global client table and the room set. It is shared by
// every connection's reader goroutine; transports construct one hub at
// startup and hand it to each connection they accept.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client // login id -> connection, last writer wins
	rooms   map[string]*Room

	submu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]*Room),
		subs:    make(map[int]chan Event),
	}
}

// Client looks up a connection by its logged-in id.
func (h *Hub) Client(id string) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	return c, ok
}

// Room returns the room for a scene, or nil if no one ever joined it.
func (h *Hub) Room(scene string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[scene]
}

func (h *Hub) roomOrCreate(scene string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[scene]
	if !ok {
		r = newRoom(scene)
		h.rooms[scene] = r
	}
	return r
}

// RoomCounts snapshots member counts per room, for diagnostics.
func (h *Hub) RoomCounts() map[string]int {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	counts := make(map[string]int, len(rooms))
	for _, r := range rooms {
		counts[r.Name()] = r.MemberCount()
	}
	return counts
}

// Handle dispatches one inbound message from a connection. It is the
// single entry point transports call from their reader loops.
func (h *Hub) Handle(c *Client, m proto.Message) {
	switch {
	case m.Login != nil:
		h.handleLogin(c, *m.Login)
	case m.Join != nil:
		h.handleJoin(c, *m.Join)
	case m.Leave != nil:
		h.handleLeave(c, *m.Leave)
	case m.Spawn != nil:
		h.handleSpawn(c, *m.Spawn)
	case m.Destroy != nil:
		h.handleDestroy(c, *m.Destroy)
	case m.TransformUpdate != nil:
		h.handleTransform(*m.TransformUpdate)
	}
}

// handleLogin binds the connection identity. Duplicate logins are not
// deduplicated: the table entry goes to the last writer.
func (h *Hub) handleLogin(c *Client, m proto.Login) {
	c.setID(m.ID)

	h.mu.Lock()
	h.clients[m.ID] = c
	h.mu.Unlock()

	log.Printf("client %s logged in", m.ID)
}

// handleJoin moves the client into the scene's room (last Join wins)
// and replays the spawn cache to the joiner only. Replayed spawns are
// idempotent on the client, so ordering against concurrent room
// traffic does not matter beyond membership being registered first.
// Replay must reach the joiner in full — a cache larger than the
// outbound queue would silently thin the joiner's world under the
// broadcast path's drop-on-full rule — so it enqueues synchronously,
// pacing against the joiner's own writer loop. No hub lock is held
// here, so waiting cannot stall other connections.
func (h *Hub) handleJoin(c *Client, m proto.Join) {
	if prev := c.Room(); prev != "" && prev != m.Scene {
		if r := h.Room(prev); r != nil {
			r.remove(c)
		}
	}

	room := h.roomOrCreate(m.Scene)
	replay := room.add(c)
	c.setRoom(m.Scene)

	for i := range replay {
		spawn := replay[i]
		if !c.SendSync(proto.Message{Spawn: &spawn}, replayWait) {
			log.Printf("client %s: replay of %s abandoned, writer stalled", c.ID(), m.Scene)
			break
		}
	}

	h.publish(Event{Kind: EventJoin, Room: m.Scene, ClientID: c.ID()})
	log.Printf("client %s joined %s (%d cached spawns)", c.ID(), m.Scene, len(replay))
}

// handleLeave removes the client from the room and destroys everything
// it owns there, so a departed member cannot leave orphans behind.
func (h *Hub) handleLeave(c *Client, m proto.Leave) {
	room := h.Room(m.Scene)
	if room == nil {
		return
	}
	room.remove(c)
	if c.Room() == m.Scene {
		c.setRoom("")
	}

	for _, id := range c.takeOwnedIn(m.Scene) {
		h.destroyObject(room, id, c.ID())
	}
}

// handleSpawn records ownership, caches the message for late joiners,
// and fans it out to the whole room, the sender included — the echo is
// the sender's completion signal. The id is not validated for
// uniqueness: clients generate high-entropy ids.
func (h *Hub) handleSpawn(c *Client, m proto.Spawn) {
	room := h.roomOrCreate(m.Scene)

	c.own(m.ID, m.Scene)
	room.fillSpawnCache(m)
	room.Broadcast(proto.Message{Spawn: &m})

	h.publish(Event{Kind: EventSpawn, Room: m.Scene, ObjectID: m.ID, ClientID: c.ID()})
}

// handleDestroy drops ownership and the cache entry, then relays.
// Destroying an unknown id is a no-op beyond the relay itself; the
// server trusts the sender (see the trust note in DESIGN.md).
func (h *Hub) handleDestroy(c *Client, m proto.Destroy) {
	room := h.Room(m.Scene)
	if room == nil {
		return
	}

	c.disown(m.ID)
	room.cleanSpawnCache(m.ID)
	room.Broadcast(proto.Message{Destroy: &m})

	h.publish(Event{Kind: EventDestroy, Room: m.Scene, ObjectID: m.ID, ClientID: c.ID()})
}

// handleTransform is a stateless relay: no ownership check, no state,
// so the hot path stays cheap. Updates for rooms nobody created are
// dropped.
func (h *Hub) handleTransform(m proto.TransformUpdate) {
	room := h.Room(m.Scene)
	if room == nil {
		return
	}
	room.Broadcast(proto.Message{TransformUpdate: &m})
}

// Disconnect tears down a connection: it leaves the client table and
// its room, and every object it owned gets a synthesized Destroy
// broadcast so no orphan outlives its owner in the cache or on peers.
func (h *Hub) Disconnect(c *Client) {
	c.close()

	h.mu.Lock()
	if id := c.ID(); id != "" && h.clients[id] == c {
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if scene := c.Room(); scene != "" {
		if r := h.Room(scene); r != nil {
			r.remove(c)
		}
	}

	for id, scene := range c.takeOwned() {
		room := h.Room(scene)
		if room == nil {
			continue
		}
		h.destroyObject(room, id, c.ID())
	}

	h.publish(Event{Kind: EventDisconnect, ClientID: c.ID()})
	log.Printf("client %s disconnected", c.ID())
}

func (h *Hub) destroyObject(room *Room, id, clientID string) {
	room.cleanSpawnCache(id)
	room.Broadcast(proto.Message{Destroy: &proto.Destroy{ID: id, Scene: room.Name()}})
	h.publish(Event{Kind: EventDestroy, Room: room.Name(), ObjectID: id, ClientID: clientID})
}
