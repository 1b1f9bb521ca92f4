package netsrv

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/nodisdb/nodis/internal/command"
	"github.com/nodisdb/nodis/internal/config"
	"github.com/nodisdb/nodis/internal/lock"
	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/stats"
	"github.com/nodisdb/nodis/internal/store"
)

func newTestCtx(t *testing.T) *command.Context {
	t.Helper()
	engine, err := store.Open(store.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return &command.Context{
		Engine:  engine,
		Locks:   lock.New(),
		Stats:   stats.New(),
		SlowLog: stats.NewSlowLog(16, 1_000_000),
		PerfLog: stats.NewPerfLog(16),
		Monitor: stats.NewMonitorFanout(),
		PubSub:  stats.NewPubSubHub(),
		State:   stats.NewServerState(),
		Config:  config.Default(),
	}
}

func TestNewConnAssignsDistinctIDs(t *testing.T) {
	sockA, _ := net.Pipe()
	sockB, _ := net.Pipe()
	defer sockA.Close()
	defer sockB.Close()

	s := NewServer("unused", newTestCtx(t))
	a := newConn(sockA, s)
	b := newConn(sockB, s)
	if a.id == "" || b.id == "" {
		t.Fatal("expected non-empty connection IDs")
	}
	if a.id == b.id {
		t.Fatal("expected distinct connection IDs for distinct sockets")
	}
	if a.ccon.ID != a.id {
		t.Fatalf("command.Conn.ID = %q, want %q", a.ccon.ID, a.id)
	}
}

// TestReadLimitsDisablesMultiBulkCapWhenCodisEnabled covers spec.md §4.7's
// "configurable off when the sharded proxy is in front": a Codis proxy
// re-batches client requests before forwarding them, so the single-client
// multi-bulk count cap must not apply once codis_enabled is set.
func TestReadLimitsDisablesMultiBulkCapWhenCodisEnabled(t *testing.T) {
	sock, _ := net.Pipe()
	defer sock.Close()

	ctx := newTestCtx(t)
	s := NewServer("unused", ctx)
	c := newConn(sock, s)

	if got := c.readLimits(); got.MaxMultiBulkLen != resp.DefaultLimits.MaxMultiBulkLen {
		t.Fatalf("MaxMultiBulkLen without codis_enabled = %d, want %d", got.MaxMultiBulkLen, resp.DefaultLimits.MaxMultiBulkLen)
	}

	ctx.Config.CodisEnabled = true
	if got := c.readLimits(); got.MaxMultiBulkLen != 0 {
		t.Fatalf("MaxMultiBulkLen with codis_enabled = %d, want 0 (cap disabled)", got.MaxMultiBulkLen)
	}
	if got := c.readLimits(); got.MaxBulkLen != resp.DefaultLimits.MaxBulkLen || got.MaxInlineLen != resp.DefaultLimits.MaxInlineLen {
		t.Fatalf("codis_enabled must only relax MaxMultiBulkLen, got %+v", got)
	}
}

func TestMonitorSinkFormatsAsSimpleString(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := NewServer("unused", newTestCtx(t))
	c := newConn(server, s)
	sink := monitorSink{c}

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	sink.Feed("other-conn", []string{"SET", "k", "v"})

	select {
	case got := <-done:
		want := "+SET k v\r\n"
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for monitor line")
	}
}

func TestConnFeedDeliversPublishMessage(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := NewServer("unused", newTestCtx(t))
	c := newConn(server, s)

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 256)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	c.Feed("news", []byte("hello"))

	select {
	case got := <-done:
		want := "*3\r\n$7\r\nmessage\r\n$4\r\nnews\r\n$5\r\nhello\r\n"
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish push")
	}
}

func TestServerRunAcceptsAndDispatches(t *testing.T) {
	ctx := newTestCtx(t)
	s := NewServer("127.0.0.1:0", ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run() }()
	t.Cleanup(s.Close)

	var addr string
	for i := 0; i < 50; i++ {
		s.mu.Lock()
		l := s.listener
		s.mu.Unlock()
		if l != nil {
			addr = l.Addr().String()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("server never started listening")
	}

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("PING\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply != "+PONG\r\n" {
		t.Fatalf("reply = %q, want %q", reply, "+PONG\r\n")
	}
}
