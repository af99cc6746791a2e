package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/methatron/worldsync/internal/proto"
)

// State tracks where a connection is in its lifecycle.
type State int

const (
	// Greeting: accepted, no Login seen yet.
	Greeting State = iota
	// Listening: identity bound, messages flow.
	Listening
	// Disconnected: torn down, owned objects destroyed.
	Disconnected
)

// outboundDepth is the per-connection send queue capacity. Broadcast
// enqueues without blocking, so a consumer slower than this depth
// starts losing frames rather than stalling the room.
const outboundDepth = 20

// Client is the server's view of one connection: bound identity, the
// room it sits in, the set of object ids it is authoritative for, and
// the outbound queue its writer loop drains.
type Client struct {
	mu     sync.Mutex
	id     string
	state  State
	room   string
	owned  map[string]string // object id -> room it was spawned into
	out    chan proto.Message
	closed atomic.Bool
}

// NewClient creates a client in the Greeting state with an empty
// outbound queue.
func NewClient() *Client {
	return &Client{
		owned: make(map[string]string),
		out:   make(chan proto.Message, outboundDepth),
	}
}

// ID returns the identity bound by Login, or "" before that.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) setID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	c.state = Listening
}

// State returns the connection's lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Room returns the room this client currently belongs to.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = room
}

// own records authority over an object id for a given room.
func (c *Client) own(id, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned[id] = room
}

// disown drops authority; unknown ids are a no-op.
func (c *Client) disown(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.owned, id)
}

// Owns reports whether this connection is authoritative for id.
func (c *Client) Owns(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.owned[id]
	return ok
}

// takeOwned empties and returns the ownership map. Used once, on
// disconnect, to synthesize Destroy for everything the peer left
// behind.
func (c *Client) takeOwned() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	owned := c.owned
	c.owned = make(map[string]string)
	return owned
}

// takeOwnedIn removes and returns the owned ids bound to one room.
func (c *Client) takeOwnedIn(room string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, r := range c.owned {
		if r == room {
			ids = append(ids, id)
			delete(c.owned, id)
		}
	}
	return ids
}

// Send enqueues a message for the writer loop. It never blocks: a full
// or closed queue drops the message and reports false, so one slow or
// dead consumer cannot stall a broadcast.
func (c *Client) Send(m proto.Message) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.out <- m:
		return true
	default:
		return false
	}
}

// SendSync enqueues a message, waiting up to wait for queue space
// while the writer loop drains. Used where delivery must not fall to
// best effort — the Join replay — so a joiner's world state cannot be
// thinned out by its own queue depth. Reports false only for a closed
// client or a writer stalled past the bound.
func (c *Client) SendSync(m proto.Message, wait time.Duration) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.out <- m:
		return true
	default:
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case c.out <- m:
		return true
	case <-t.C:
		return false
	}
}

// Out is drained by the connection's writer loop.
func (c *Client) Out() <-chan proto.Message { return c.out }

// close marks the client disconnected; Send becomes a no-op. The
// outbound channel is left open so a racing Send can never panic.
func (c *Client) close() {
	c.closed.Store(true)
	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
}
