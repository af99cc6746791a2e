package relay

// Event kinds published to diagnostics subscribers.
const (
	EventJoin       = "join"
	EventSpawn      = "spawn"
	EventDestroy    = "destroy"
	EventDisconnect = "disconnect"
)

// Event describes one room lifecycle change. Consumed by the
// diagnostics feed; the relay itself never reads these back.
type Event struct {
	Kind     string `json:"kind"`
	Room     string `json:"room,omitempty"`
	ObjectID string `json:"objectId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// Subscribe registers a diagnostics listener. The returned cancel
// func must be called exactly once when the listener goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.submu.Lock()
	defer h.submu.Unlock()

	h.nextSub++
	id := h.nextSub
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.submu.Lock()
		defer h.submu.Unlock()
		delete(h.subs, id)
	}
	return ch, cancel
}

// publish fans an event out to subscribers without blocking: a full
// subscriber queue loses events, never stalls the relay.
func (h *Hub) publish(ev Event) {
	h.submu.Lock()
	defer h.submu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
