// Package tcp accepts relay connections and runs the per-connection
// reader and writer loops: the reader feeds decoded messages to the
// hub, the writer drains the client's outbound queue onto the socket,
// so broadcast fan-out never blocks on any single slow peer.
package tcp

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/methatron/worldsync/internal/proto"
	"github.com/methatron/worldsync/internal/relay"
)

// writeWait bounds how long one socket write may stall before the
// connection is considered dead.
const writeWait = 10 * time.Second

// Config carries transport tuning.
type Config struct {
	Addr string
}

// Server owns the listener and the set of live connections.
type Server struct {
	cfg Config
	hub *relay.Hub

	ln net.Listener
	wg sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewServer creates a server routing into the given hub. Call Listen
// then Serve.
func NewServer(cfg Config, hub *relay.Hub) *Server {
	return &Server{
		cfg:   cfg,
		hub:   hub,
		conns: make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	log.Printf("listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address; valid after Listen.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until the listener closes or the context
// is cancelled. Accept errors on a live listener are logged and do not
// stop the loop; a per-connection failure tears down that connection
// only.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("accept: %v", err)
			continue
		}
		s.track(conn)
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Close stops accepting, closes every live connection, and waits for
// their loops to drain.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if s.ln != nil {
		s.ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handle runs one connection: a writer goroutine draining the client's
// queue, and the reader loop feeding the hub. Either side failing
// tears both down and triggers the hub's disconnect cleanup.
func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	log.Printf("connection from %s", conn.RemoteAddr())

	client := relay.NewClient()
	done := make(chan struct{})

	var writers sync.WaitGroup
	writers.Add(1)
	go func() {
		defer writers.Done()
		for {
			select {
			case msg := <-client.Out():
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := proto.Write(conn, msg); err != nil {
					log.Printf("write to %s: %v", conn.RemoteAddr(), err)
					conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		msg, err := proto.Read(conn)
		if err != nil {
			// Malformed frame or payload: fatal for this connection.
			log.Printf("read from %s: %v", conn.RemoteAddr(), err)
			break
		}
		if msg == nil {
			break // peer closed
		}
		s.hub.Handle(client, *msg)
	}

	s.hub.Disconnect(client)
	close(done)
	conn.Close()
	writers.Wait()
}
