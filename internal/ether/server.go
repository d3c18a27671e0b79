// Package ether simulates the shared radio air over WebSocket. Every binary
// message a client sends is delivered to all other connected clients, the
// way a LoRa transmission reaches every module in range.
package ether

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/loramesh/internal/util"
)

// Path is where the server accepts radio clients.
const Path = "/air"

const (
	clientQueueSize = 64
	writeWait       = 5 * time.Second
	maxFrameSize    = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the shared-air hub. It implements http.Handler.
type Server struct {
	mu      sync.Mutex
	clients map[*peer]struct{}

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// peer is one connected radio. Only its writer goroutine writes to conn.
type peer struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

// NewServer creates an empty shared air.
func NewServer() *Server {
	return &Server{clients: make(map[*peer]struct{})}
}

// Handler returns a mux serving the air at Path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	return mux
}

// ServeHTTP upgrades the request and relays the client's frames until it
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxFrameSize)

	p := &peer{conn: conn, send: make(chan []byte, clientQueueSize), addr: r.RemoteAddr}
	s.mu.Lock()
	s.clients[p] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	util.LogInfo("ether: radio %s joined (%d on air)", p.addr, n)

	go p.writeLoop()
	defer func() {
		s.mu.Lock()
		delete(s.clients, p)
		n := len(s.clients)
		s.mu.Unlock()
		close(p.send)
		conn.Close()
		util.LogInfo("ether: radio %s left (%d on air)", p.addr, n)
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		s.broadcast(p, data)
	}
}

func (s *Server) broadcast(from *peer, frame []byte) {
	s.frames.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.clients {
		if p == from {
			continue
		}
		select {
		case p.send <- frame:
		default:
			// Slow receiver; on real air the frame would be lost too.
			s.dropped.Add(1)
			util.LogDebug("ether: dropped frame for %s", p.addr)
		}
	}
}

func (p *peer) writeLoop() {
	for frame := range p.send {
		p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			p.conn.Close()
			for range p.send {
			}
			return
		}
	}
}

// Clients returns the number of connected radios.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Frames returns how many frames were transmitted on the air.
func (s *Server) Frames() uint64 { return s.frames.Load() }

// Dropped returns how many deliveries were lost to full client queues.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// ListenAndServe serves the air on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	util.LogSuccess("ether: listening on ws://%s%s", listener.Addr(), Path)

	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
