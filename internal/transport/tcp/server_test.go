package tcp_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/methatron/worldsync/internal/proto"
	"github.com/methatron/worldsync/internal/relay"
	"github.com/methatron/worldsync/internal/transport/tcp"
)

func startServer(t *testing.T) (string, *relay.Hub) {
	t.Helper()
	hub := relay.NewHub()
	srv := tcp.NewServer(tcp.Config{Addr: "127.0.0.1:0"}, hub)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(context.Background())
	t.Cleanup(srv.Close)
	return srv.Addr().String(), hub
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dialAndSpawn(t *testing.T, addr, clientID, objectID string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	for _, m := range []proto.Message{
		{Login: &proto.Login{ID: clientID}},
		{Join: &proto.Join{Scene: "r1"}},
		{Spawn: &proto.Spawn{ID: objectID, Scene: "r1", Drawable: "cube"}},
	} {
		if err := proto.Write(conn, m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return conn
}

func cached(hub *relay.Hub, scene string) []string {
	room := hub.Room(scene)
	if room == nil {
		return nil
	}
	return room.CachedSpawns()
}

func TestCleanDisconnectCleansUpOwnership(t *testing.T) {
	addr, hub := startServer(t)

	conn := dialAndSpawn(t, addr, "m", "o1")
	waitFor(t, "spawn to be cached", func() bool { return len(cached(hub, "r1")) == 1 })

	conn.Close()

	waitFor(t, "cache purge after disconnect", func() bool { return len(cached(hub, "r1")) == 0 })
	waitFor(t, "client table cleanup", func() bool {
		_, ok := hub.Client("m")
		return !ok
	})
}

func TestMalformedFrameIsFatalForThatConnectionOnly(t *testing.T) {
	addr, hub := startServer(t)

	bad := dialAndSpawn(t, addr, "bad", "o1")
	defer bad.Close()
	good := dialAndSpawn(t, addr, "good", "o2")
	defer good.Close()
	waitFor(t, "both spawns cached", func() bool { return len(cached(hub, "r1")) == 2 })

	// Well-framed garbage: one byte of valid CBOR that is not a
	// message envelope. Fatal for this connection.
	if _, err := bad.Write([]byte{0x01, 0x00, 0x00, 0x00, 0x01}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	waitFor(t, "bad client teardown", func() bool {
		_, ok := hub.Client("bad")
		return !ok
	})
	waitFor(t, "bad client's object destroyed", func() bool { return len(cached(hub, "r1")) == 1 })

	// The healthy connection is untouched.
	if _, ok := hub.Client("good"); !ok {
		t.Fatal("healthy connection was torn down too")
	}
	if got := cached(hub, "r1"); len(got) != 1 || got[0] != "o2" {
		t.Fatalf("surviving cache = %v", got)
	}

	// The server closed the bad socket; reads drain to EOF.
	bad.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	for {
		if _, err := bad.Read(buf); err != nil {
			break
		}
	}
}
