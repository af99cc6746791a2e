// Package scene is the slice of the scene graph the replication layer
// touches: node identity, parent/child attachment, drawables by name,
// and the 4x4 transform. Nodes live in an arena addressed by id; the
// parent back-reference is a plain id lookup, so only the arena owns
// node storage.
package scene

import (
	"errors"
	"fmt"
	"sync"
)

// NodeID addresses a node in the arena. The zero value is never a
// valid node.
type NodeID int

// InvalidNode is returned by operations that fail to produce a node.
const InvalidNode NodeID = 0

// DrawableID addresses a registered drawable.
type DrawableID int

var (
	ErrNodeNotFound     = errors.New("scene: node not found")
	ErrDrawableNotFound = errors.New("scene: drawable not found")
)

// Identity is the identity transform, column-major.
var Identity = [16]float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

type node struct {
	parent        NodeID
	children      []NodeID
	drawable      DrawableID
	networkID     string
	authoritative bool

	// Transforms take their own lock so the render thread and the
	// network thread touching different nodes never contend.
	tmu       sync.Mutex
	transform [16]float32
}

// Graph is an arena of nodes plus the drawable registry.
type Graph struct {
	mu        sync.Mutex
	nodes     map[NodeID]*node
	nextID    NodeID
	root      NodeID
	drawables map[string]DrawableID
	nextDraw  DrawableID
}

// NewGraph creates a graph holding only the root node.
func NewGraph() *Graph {
	g := &Graph{
		nodes:     make(map[NodeID]*node),
		drawables: make(map[string]DrawableID),
	}
	g.root = g.NewNode()
	return g
}

// Root returns the root node every remote object hangs under.
func (g *Graph) Root() NodeID { return g.root }

// NewNode allocates a detached node with an identity transform.
func (g *Graph) NewNode() NodeID {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	id := g.nextID
	g.nodes[id] = &node{transform: Identity}
	return id
}

// Attach parents child under parent, detaching it from any previous
// parent first.
func (g *Graph) Attach(parent, child NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.nodes[parent]
	if !ok {
		return fmt.Errorf("attach parent %d: %w", parent, ErrNodeNotFound)
	}
	c, ok := g.nodes[child]
	if !ok {
		return fmt.Errorf("attach child %d: %w", child, ErrNodeNotFound)
	}

	if c.parent != InvalidNode {
		g.detachLocked(c.parent, child)
	}
	c.parent = parent
	p.children = append(p.children, child)
	return nil
}

func (g *Graph) detachLocked(parent, child NodeID) {
	p, ok := g.nodes[parent]
	if !ok {
		return
	}
	for i, id := range p.children {
		if id == child {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

// RegisterDrawable makes a drawable available under the given name,
// returning the existing handle if the name is already registered.
func (g *Graph) RegisterDrawable(name string) DrawableID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.drawables[name]; ok {
		return id
	}
	g.nextDraw++
	g.drawables[name] = g.nextDraw
	return g.nextDraw
}

// LookupDrawable resolves a drawable name from the active scene.
func (g *Graph) LookupDrawable(name string) (DrawableID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, ok := g.drawables[name]
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrDrawableNotFound)
	}
	return id, nil
}

// SetDrawable attaches a drawable reference to a node.
func (g *Graph) SetDrawable(id NodeID, d DrawableID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("set drawable %d: %w", id, ErrNodeNotFound)
	}
	n.drawable = d
	return nil
}

// SetNetworkID records the replicated object id this node mirrors.
func (g *Graph) SetNetworkID(id NodeID, networkID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n, ok := g.nodes[id]; ok {
		n.networkID = networkID
	}
}

// NetworkID returns the replicated object id bound to the node, if any.
func (g *Graph) NetworkID(id NodeID) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n, ok := g.nodes[id]; ok {
		return n.networkID
	}
	return ""
}

// SetAuthoritative flags whether this client drives the node's
// transform. A node that is not authoritative is a mirror: gameplay
// code must not write its transform.
func (g *Graph) SetAuthoritative(id NodeID, owned bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n, ok := g.nodes[id]; ok {
		n.authoritative = owned
	}
}

// Authoritative reports whether the node's transform is locally driven.
func (g *Graph) Authoritative(id NodeID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n, ok := g.nodes[id]; ok {
		return n.authoritative
	}
	return false
}

// Transform reads the node's current transform.
func (g *Graph) Transform(id NodeID) ([16]float32, error) {
	g.mu.Lock()
	n, ok := g.nodes[id]
	g.mu.Unlock()
	if !ok {
		return Identity, fmt.Errorf("transform %d: %w", id, ErrNodeNotFound)
	}

	n.tmu.Lock()
	defer n.tmu.Unlock()
	return n.transform, nil
}

// SetTransform overwrites the node's transform in place.
func (g *Graph) SetTransform(id NodeID, t [16]float32) error {
	g.mu.Lock()
	n, ok := g.nodes[id]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("set transform %d: %w", id, ErrNodeNotFound)
	}

	n.tmu.Lock()
	n.transform = t
	n.tmu.Unlock()
	return nil
}

// Contains reports whether the node is still live in the arena.
func (g *Graph) Contains(id NodeID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of live nodes, the root included.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// Dispose detaches the node from its parent, releases its drawable
// reference, and removes it and its children from the arena. Unknown
// ids are a no-op, so a second Dispose is safe.
func (g *Graph) Dispose(id NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disposeLocked(id)
}

func (g *Graph) disposeLocked(id NodeID) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	if n.parent != InvalidNode {
		g.detachLocked(n.parent, id)
	}
	children := n.children
	n.children = nil
	n.drawable = 0
	delete(g.nodes, id)
	for _, child := range children {
		if c, ok := g.nodes[child]; ok {
			c.parent = InvalidNode
		}
		g.disposeLocked(child)
	}
}
