// Package netsrv owns the TCP acceptor and per-connection read/dispatch
// loop, generalized from _examples/mikeqian-rodis's server/net package
// (which wired the same accept-loop/per-connection-goroutine shape around
// a much smaller resp.Parse/command.Handle pair).
package netsrv

import (
	"net"
	"sync"

	"github.com/rod6/log6"

	"github.com/nodisdb/nodis/internal/command"
)

// Server owns the listener and the set of live connections, so Close can
// unblock Accept and tear every connection down cleanly.
type Server struct {
	addr    string
	ctx     *command.Context
	listener net.Listener

	mu      sync.Mutex
	conns   map[string]*Conn
	started bool
	quit    chan struct{}
}

// NewServer returns a Server bound to addr that dispatches every accepted
// connection's commands through ctx.
func NewServer(addr string, ctx *command.Context) *Server {
	return &Server{addr: addr, ctx: ctx, conns: make(map[string]*Conn), quit: make(chan struct{})}
}

// Run blocks accepting connections until Close is called.
func (s *Server) Run() error {
	log6.Info("netsrv: listening on %v", s.addr)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.started = true

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				log6.Warn("netsrv: accept error: %v", err)
				continue
			}
		}
		go s.track(newConn(conn, s))
	}
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	c.handle()

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

// Close stops accepting new connections and closes every live one.
func (s *Server) Close() {
	log6.Info("netsrv: closing")
	if !s.started {
		return
	}
	close(s.quit)
	s.listener.Close()

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	s.started = false
	log6.Info("netsrv: closed")
}
