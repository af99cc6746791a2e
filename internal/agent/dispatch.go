package agent

import (
	"log"
	"time"

	"github.com/methatron/worldsync/internal/proto"
	"github.com/methatron/worldsync/internal/scene"
)

// recvLoop reads one message at a time and reconciles it into the
// scene. It exits on peer close or on a decode error — both mean this
// connection is done.
func (a *Agent) recvLoop() {
	for {
		msg, err := proto.Read(a.conn)
		if err != nil {
			log.Printf("read: %v", err)
			break
		}
		if msg == nil {
			break // peer closed
		}
		a.dispatch(*msg)
	}
	a.shutdown()
}

func (a *Agent) dispatch(m proto.Message) {
	switch {
	case m.Spawn != nil:
		a.handleSpawn(*m.Spawn)
	case m.Destroy != nil:
		a.handleDestroy(*m.Destroy)
	case m.TransformUpdate != nil:
		a.handleTransform(*m.TransformUpdate)
	}
}

// handleSpawn realizes a replicated object locally. If the id matches
// a pending local spawn this is the echo of our own request: the node
// becomes authoritative and the blocked caller is woken with it.
// Anyone else's object becomes a mirror under the scene root. An id
// already replicated here is a duplicate delivery (replay and room
// broadcast can both carry the same spawn) and must not build a second
// node; the first delivery already settled any pending local call.
func (a *Agent) handleSpawn(m proto.Spawn) {
	a.mu.Lock()
	_, known := a.synced[m.ID]
	a.mu.Unlock()
	if known {
		return
	}

	drawable, err := a.graph.LookupDrawable(m.Drawable)
	if err != nil {
		// Cannot realize this spawn. Our own pending call must fail
		// rather than hand back a half-built node; a remote spawn is
		// a logged no-op.
		a.mu.Lock()
		ch, ours := a.waiting[m.ID]
		delete(a.waiting, m.ID)
		a.mu.Unlock()
		if ours {
			ch <- spawnResult{err: err}
		} else {
			log.Printf("spawn %s: %v", m.ID, err)
		}
		return
	}

	node := a.graph.NewNode()
	if err := a.graph.SetDrawable(node, drawable); err != nil {
		log.Printf("spawn %s: %v", m.ID, err)
	}
	a.graph.SetNetworkID(node, m.ID)

	a.mu.Lock()
	a.synced[m.ID] = node
	ch, ours := a.waiting[m.ID]
	if ours {
		delete(a.waiting, m.ID)
		a.owned[m.ID] = ownedObject{scene: m.Scene, node: node}
	}
	a.mu.Unlock()

	a.graph.SetAuthoritative(node, ours)
	if err := a.graph.Attach(a.graph.Root(), node); err != nil {
		log.Printf("attach %s: %v", m.ID, err)
	}

	if ours {
		ch <- spawnResult{node: node}
	}

	if m.Behavior != nil && a.runner != nil {
		path := *m.Behavior
		go func() {
			if err := a.runner.Run(path, node, ours); err != nil {
				log.Printf("behavior %s: %v", path, err)
			}
		}()
	}
}

// handleDestroy removes the object everywhere it is tracked and
// disposes its node. Unknown ids are a silent no-op.
func (a *Agent) handleDestroy(m proto.Destroy) {
	a.mu.Lock()
	delete(a.owned, m.ID)
	node, ok := a.synced[m.ID]
	delete(a.synced, m.ID)
	a.mu.Unlock()

	if ok {
		a.graph.Dispose(node)
	}
}

// handleTransform applies an inbound transform to a mirrored node.
// Updates for owned ids are dropped: the authoritative copy is never
// overwritten by its own echo or a stale remote. Updates for ids not
// replicated here lose the spawn/transform race and are dropped too.
func (a *Agent) handleTransform(m proto.TransformUpdate) {
	a.mu.Lock()
	if _, owned := a.owned[m.ID]; owned {
		a.mu.Unlock()
		return
	}
	node, ok := a.synced[m.ID]
	a.mu.Unlock()
	if !ok {
		return
	}

	if err := a.graph.SetTransform(node, m.T); err != nil {
		log.Printf("transform %s: %v", m.ID, err)
	}
}

// sendLoop pushes every owned object's current transform each tick.
// No acknowledgment: a lost update is superseded by the next tick. A
// write failure surfaces as a disconnect instead of looping silently.
func (a *Agent) sendLoop() {
	ticker := time.NewTicker(a.cfg.SendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			if err := a.pushTransforms(); err != nil {
				log.Printf("transform push: %v", err)
				a.shutdown()
				return
			}
		}
	}
}

func (a *Agent) pushTransforms() error {
	type entry struct {
		id    string
		scene string
		node  scene.NodeID
	}

	a.mu.Lock()
	entries := make([]entry, 0, len(a.owned))
	for id, obj := range a.owned {
		entries = append(entries, entry{id: id, scene: obj.scene, node: obj.node})
	}
	a.mu.Unlock()

	for _, e := range entries {
		t, err := a.graph.Transform(e.node)
		if err != nil {
			continue // disposed under us, the Destroy echo will prune it
		}
		msg := proto.Message{TransformUpdate: &proto.TransformUpdate{
			Scene: e.scene, ID: e.id, T: t,
		}}
		if err := a.send(msg); err != nil {
			return err
		}
	}
	return nil
}
