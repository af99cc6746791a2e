package proto

// ---- Client -> Server ----

// Login binds a connection to a client identity.
type Login struct {
	ID string `cbor:"id"`
}

// Join moves the client into the named scene's room. A later Join wins.
type Join struct {
	Scene string `cbor:"scene"`
}

// Leave removes the client from the named scene's room.
type Leave struct {
	Scene string `cbor:"scene"`
}

// ---- Relayed to every room member (including the sender) ----

// Spawn announces a new replicated object. The id is generated by the
// spawning client; the server records ownership against that connection.
type Spawn struct {
	ID       string  `cbor:"id"`
	Scene    string  `cbor:"scene"`
	Drawable string  `cbor:"drawable"`
	Behavior *string `cbor:"behavior"`
}

// Destroy removes a replicated object. Idempotent for unknown ids.
type Destroy struct {
	ID    string `cbor:"id"`
	Scene string `cbor:"scene"`
}

// TransformUpdate carries the owner's current 4x4 transform, column
// by column. The server relays it verbatim without inspecting ownership.
type TransformUpdate struct {
	Scene string      `cbor:"scene"`
	ID    string      `cbor:"id"`
	T     [16]float32 `cbor:"t"`
}

// Message is the tagged union carried by every frame. Exactly one
// field is non-nil.
type Message struct {
	Login           *Login
	Join            *Join
	Leave           *Leave
	Spawn           *Spawn
	Destroy         *Destroy
	TransformUpdate *TransformUpdate
}
