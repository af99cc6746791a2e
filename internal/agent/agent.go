// Package agent owns the client side of object replication: the TCP
// connection lifecycle, the receive loop that reconciles protocol
// events into authoritative vs. mirrored scene nodes, the periodic
// transform push for owned objects, and the blocking Spawn call
// gameplay code uses.
package agent

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/methatron/worldsync/internal/proto"
	"github.com/methatron/worldsync/internal/scene"
)

var (
	ErrDisconnected = errors.New("agent: not connected")
	ErrSpawnTimeout = errors.New("agent: spawn not acknowledged in time")
	ErrNotOwned     = errors.New("agent: object not owned by this client")
)

// Event is delivered on the agent's event channel for gameplay
// callbacks.
type Event int

const (
	Connected Event = iota + 1
	Disconnected
)

// BehaviorRunner executes a named behavior against a freshly spawned
// node, telling it whether this client owns the object.
type BehaviorRunner interface {
	Run(path string, node scene.NodeID, isOwner bool) error
}

// Config tunes the agent. Zero values fall back to defaults.
type Config struct {
	Addr         string
	ClientID     string        // generated when empty
	DialAttempts int           // bounded connect retries, default 3
	DialBackoff  time.Duration // backoff base, attempt*base between tries, default 1s
	SendInterval time.Duration // transform push period, default 50ms
	SpawnTimeout time.Duration // bound on the blocking Spawn wait, default 5s
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 3
	}
	if c.DialBackoff <= 0 {
		c.DialBackoff = time.Second
	}
	if c.SendInterval <= 0 {
		c.SendInterval = 50 * time.Millisecond
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = 5 * time.Second
	}
}

type ownedObject struct {
	scene string
	node  scene.NodeID
}

type spawnResult struct {
	node scene.NodeID
	err  error
}

// Agent is one client's replication endpoint. Safe for concurrent use
// from gameplay code; Spawn must not be called from a behavior running
// on the receive loop's goroutine, it would deadlock waiting for its
// own echo.
type Agent struct {
	cfg    Config
	graph  *scene.Graph
	runner BehaviorRunner

	wmu  sync.Mutex // serializes socket writes
	conn net.Conn

	mu      sync.Mutex
	owned   map[string]ownedObject
	synced  map[string]scene.NodeID
	waiting map[string]chan spawnResult

	events    chan Event
	done      chan struct{} // closed once, on connection loss
	closeOnce sync.Once
}

// Dial connects to the relay with bounded linear-backoff retries,
// sends Login, and starts the receive and transmit loops. The runner
// may be nil when no behavior scripting is wired in.
func Dial(cfg Config, graph *scene.Graph, runner BehaviorRunner) (*Agent, error) {
	cfg.applyDefaults()

	var conn net.Conn
	var err error
	for attempt := 1; ; attempt++ {
		conn, err = net.Dial("tcp", cfg.Addr)
		if err == nil {
			break
		}
		log.Printf("connect %s (attempt %d): %v", cfg.Addr, attempt, err)
		if attempt >= cfg.DialAttempts {
			return nil, fmt.Errorf("connect %s: %w", cfg.Addr, err)
		}
		time.Sleep(time.Duration(attempt) * cfg.DialBackoff)
	}

	a := &Agent{
		cfg:     cfg,
		graph:   graph,
		runner:  runner,
		conn:    conn,
		owned:   make(map[string]ownedObject),
		synced:  make(map[string]scene.NodeID),
		waiting: make(map[string]chan spawnResult),
		events:  make(chan Event, 8),
		done:    make(chan struct{}),
	}

	if err := a.send(proto.Message{Login: &proto.Login{ID: cfg.ClientID}}); err != nil {
		conn.Close()
		return nil, err
	}
	a.emit(Connected)

	go a.recvLoop()
	go a.sendLoop()
	return a, nil
}

// ID returns the identity this agent logged in with.
func (a *Agent) ID() string { return a.cfg.ClientID }

// Events delivers connection lifecycle events. The channel is small
// and never blocks the agent; a slow consumer loses events.
func (a *Agent) Events() <-chan Event { return a.events }

// Join enters the named room; a later Join moves membership.
func (a *Agent) Join(sceneName string) error {
	return a.send(proto.Message{Join: &proto.Join{Scene: sceneName}})
}

// Leave exits the named room; the server destroys everything this
// client owns there.
func (a *Agent) Leave(sceneName string) error {
	return a.send(proto.Message{Leave: &proto.Leave{Scene: sceneName}})
}

// Spawn creates a replicated object and blocks until the server's echo
// confirms it, returning the local authoritative node. behavior may be
// "" for none. The wait is bounded by SpawnTimeout and fails early if
// the connection drops.
func (a *Agent) Spawn(sceneName, drawable, behavior string) (scene.NodeID, error) {
	select {
	case <-a.done:
		return scene.InvalidNode, ErrDisconnected
	default:
	}

	id := uuid.NewString()
	ch := make(chan spawnResult, 1)
	a.mu.Lock()
	a.waiting[id] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.waiting, id)
		a.mu.Unlock()
	}()

	spawn := &proto.Spawn{ID: id, Scene: sceneName, Drawable: drawable}
	if behavior != "" {
		b := behavior
		spawn.Behavior = &b
	}
	if err := a.send(proto.Message{Spawn: spawn}); err != nil {
		return scene.InvalidNode, err
	}

	timer := time.NewTimer(a.cfg.SpawnTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return scene.InvalidNode, res.err
		}
		return res.node, nil
	case <-a.done:
		return scene.InvalidNode, ErrDisconnected
	case <-timer.C:
		return scene.InvalidNode, ErrSpawnTimeout
	}
}

// Destroy asks the relay to remove an object. Local teardown happens
// when the Destroy echoes back through the receive loop.
func (a *Agent) Destroy(sceneName, id string) error {
	return a.send(proto.Message{Destroy: &proto.Destroy{ID: id, Scene: sceneName}})
}

// Update pushes an owned object's transform immediately. Kept from an
// older protocol revision; the periodic push supersedes it but both
// remain valid senders.
func (a *Agent) Update(sceneName, id string) error {
	a.mu.Lock()
	obj, ok := a.owned[id]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotOwned)
	}

	t, err := a.graph.Transform(obj.node)
	if err != nil {
		return err
	}
	return a.send(proto.Message{TransformUpdate: &proto.TransformUpdate{
		Scene: sceneName, ID: id, T: t,
	}})
}

// Owns reports whether this client is authoritative for the object.
func (a *Agent) Owns(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.owned[id]
	return ok
}

// Mirrors reports whether the object is replicated here without local
// authority.
func (a *Agent) Mirrors(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, synced := a.synced[id]
	_, owned := a.owned[id]
	return synced && !owned
}

// Node resolves a replicated object id to its local scene node.
func (a *Agent) Node(id string) (scene.NodeID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.synced[id]
	return n, ok
}

// Close tears the connection down and fails any pending Spawn.
func (a *Agent) Close() error {
	a.shutdown()
	return nil
}

// send serializes one message onto the socket. A write failure means
// the connection is gone, so it tears the agent down the same way a
// failed read would; later calls then fail fast with ErrDisconnected
// instead of writing into a dead socket one by one.
func (a *Agent) send(m proto.Message) error {
	select {
	case <-a.done:
		return ErrDisconnected
	default:
	}

	a.wmu.Lock()
	defer a.wmu.Unlock()
	if err := proto.Write(a.conn, m); err != nil {
		a.shutdown()
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// shutdown flips the liveness flag exactly once. Pending Spawn calls
// wake up on the closed done channel instead of polling.
func (a *Agent) shutdown() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.conn.Close()
		a.emit(Disconnected)
	})
}

func (a *Agent) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
	}
}
