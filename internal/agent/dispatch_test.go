package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/methatron/worldsync/internal/proto"
	"github.com/methatron/worldsync/internal/scene"
)

// testAgent builds an agent with no connection; only the dispatch
// paths are exercised.
func testAgent(g *scene.Graph) *Agent {
	cfg := Config{}
	cfg.applyDefaults()
	return &Agent{
		cfg:     cfg,
		graph:   g,
		owned:   make(map[string]ownedObject),
		synced:  make(map[string]scene.NodeID),
		waiting: make(map[string]chan spawnResult),
		events:  make(chan Event, 8),
		done:    make(chan struct{}),
	}
}

func TestHandleTransform_UnknownIDIsDropped(t *testing.T) {
	g := scene.NewGraph()
	a := testAgent(g)

	before := g.Len()
	a.handleTransform(proto.TransformUpdate{Scene: "r1", ID: "never-spawned", T: scene.Identity})
	if g.Len() != before {
		t.Fatal("a stale update must not mutate scene state")
	}
}

func TestHandleTransform_OwnedIDIsIgnored(t *testing.T) {
	g := scene.NewGraph()
	g.RegisterDrawable("cube")
	a := testAgent(g)

	a.handleSpawn(proto.Spawn{ID: "o1", Scene: "r1", Drawable: "cube"})
	node, ok := a.Node("o1")
	if !ok {
		t.Fatal("spawn did not create a node")
	}
	// Simulate local authority, as if this were our echo.
	a.mu.Lock()
	a.owned["o1"] = ownedObject{scene: "r1", node: node}
	a.mu.Unlock()

	local := scene.Identity
	local[12] = 3
	if err := g.SetTransform(node, local); err != nil {
		t.Fatalf("set transform: %v", err)
	}

	remote := scene.Identity
	remote[12] = 99
	a.handleTransform(proto.TransformUpdate{Scene: "r1", ID: "o1", T: remote})

	got, err := g.Transform(node)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if got != local {
		t.Fatal("authoritative transform was overwritten by an inbound update")
	}
}

func TestHandleTransform_MirroredNodeFollowsUpdates(t *testing.T) {
	g := scene.NewGraph()
	g.RegisterDrawable("cube")
	a := testAgent(g)

	a.handleSpawn(proto.Spawn{ID: "o1", Scene: "r1", Drawable: "cube"})
	node, _ := a.Node("o1")

	remote := scene.Identity
	remote[13] = -4.5
	a.handleTransform(proto.TransformUpdate{Scene: "r1", ID: "o1", T: remote})

	got, err := g.Transform(node)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if got != remote {
		t.Fatalf("mirror transform = %v, want %v", got, remote)
	}
}

func TestHandleSpawn_EchoFulfillsPendingCall(t *testing.T) {
	g := scene.NewGraph()
	g.RegisterDrawable("cube")
	a := testAgent(g)

	ch := make(chan spawnResult, 1)
	a.mu.Lock()
	a.waiting["o1"] = ch
	a.mu.Unlock()

	a.handleSpawn(proto.Spawn{ID: "o1", Scene: "r1", Drawable: "cube"})

	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("pending spawn failed: %v", res.err)
		}
		if !a.Owns("o1") {
			t.Fatal("echo must promote the object to owned")
		}
		if synced, _ := a.Node("o1"); synced != res.node {
			t.Fatal("fulfilled node must be the synced node")
		}
		if !g.Authoritative(res.node) {
			t.Fatal("owned node must be authoritative")
		}
	case <-time.After(time.Second):
		t.Fatal("pending spawn was never fulfilled")
	}

	a.mu.Lock()
	_, leaked := a.waiting["o1"]
	a.mu.Unlock()
	if leaked {
		t.Fatal("waiting entry must be removed after fulfillment")
	}
}

func TestHandleSpawn_RemoteObjectBecomesMirror(t *testing.T) {
	g := scene.NewGraph()
	g.RegisterDrawable("cube")
	a := testAgent(g)

	a.handleSpawn(proto.Spawn{ID: "theirs", Scene: "r1", Drawable: "cube"})

	if !a.Mirrors("theirs") {
		t.Fatal("someone else's spawn must be mirrored")
	}
	node, _ := a.Node("theirs")
	if g.Authoritative(node) {
		t.Fatal("mirrored node must not be authoritative")
	}
}

func TestHandleSpawn_DuplicateDeliveryIsIgnored(t *testing.T) {
	g := scene.NewGraph()
	g.RegisterDrawable("cube")
	a := testAgent(g)

	msg := proto.Spawn{ID: "o1", Scene: "r1", Drawable: "cube"}
	a.handleSpawn(msg)
	node, ok := a.Node("o1")
	if !ok {
		t.Fatal("spawn did not create a node")
	}
	nodes := g.Len()

	// The replay and the room broadcast can both carry the same spawn.
	a.handleSpawn(msg)

	if g.Len() != nodes {
		t.Fatalf("duplicate spawn grew the scene from %d to %d nodes", nodes, g.Len())
	}
	if again, _ := a.Node("o1"); again != node {
		t.Fatal("duplicate spawn must keep the original node")
	}
}

func TestHandleSpawn_DuplicateKeepsLocalAuthority(t *testing.T) {
	g := scene.NewGraph()
	g.RegisterDrawable("cube")
	a := testAgent(g)

	ch := make(chan spawnResult, 1)
	a.mu.Lock()
	a.waiting["o1"] = ch
	a.mu.Unlock()

	msg := proto.Spawn{ID: "o1", Scene: "r1", Drawable: "cube"}
	a.handleSpawn(msg)
	res := <-ch

	a.handleSpawn(msg)

	if !a.Owns("o1") {
		t.Fatal("duplicate spawn demoted an owned object")
	}
	if !g.Authoritative(res.node) {
		t.Fatal("duplicate spawn flipped the node's authority")
	}
}

func TestHandleSpawn_MissingDrawableFailsOwnCall(t *testing.T) {
	g := scene.NewGraph() // nothing registered
	a := testAgent(g)

	ch := make(chan spawnResult, 1)
	a.mu.Lock()
	a.waiting["o1"] = ch
	a.mu.Unlock()

	a.handleSpawn(proto.Spawn{ID: "o1", Scene: "r1", Drawable: "ghost"})

	select {
	case res := <-ch:
		if !errors.Is(res.err, scene.ErrDrawableNotFound) {
			t.Fatalf("expected ErrDrawableNotFound, got %v", res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending spawn was never failed")
	}
	if _, ok := a.Node("o1"); ok {
		t.Fatal("no half-built node may survive a failed spawn")
	}
}

func TestHandleDestroy_IsIdempotent(t *testing.T) {
	g := scene.NewGraph()
	g.RegisterDrawable("cube")
	a := testAgent(g)

	a.handleSpawn(proto.Spawn{ID: "o1", Scene: "r1", Drawable: "cube"})
	node, _ := a.Node("o1")

	a.handleDestroy(proto.Destroy{ID: "o1", Scene: "r1"})
	if g.Contains(node) {
		t.Fatal("destroy must dispose the node")
	}
	if a.Mirrors("o1") || a.Owns("o1") {
		t.Fatal("destroy must forget the object")
	}

	// Unknown and repeated ids are silent no-ops.
	a.handleDestroy(proto.Destroy{ID: "o1", Scene: "r1"})
	a.handleDestroy(proto.Destroy{ID: "never-existed", Scene: "r1"})
}
