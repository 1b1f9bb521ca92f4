package netsrv

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"

	"github.com/pborman/uuid"
	"github.com/rod6/log6"

	"github.com/nodisdb/nodis/internal/command"
	"github.com/nodisdb/nodis/internal/resp"
)

// Conn wraps one accepted socket: its own read buffer and command.Conn
// state, plus a write mutex since PUBLISH/MONITOR fan-out delivers from
// other connections' goroutines concurrently with this one's own replies.
type Conn struct {
	id     string
	sock   net.Conn
	reader *bufio.Reader
	server *Server
	ccon   *command.Conn

	writeMu sync.Mutex
}

func newConn(sock net.Conn, s *Server) *Conn {
	id := uuid.New()
	c := &Conn{
		id:     id,
		sock:   sock,
		reader: bufio.NewReader(sock),
		server: s,
		ccon:   command.NewConn(id),
	}
	c.ccon.Subscriber = c
	c.ccon.MonitorSink = monitorSink{c}
	log6.Debug("netsrv: new connection %v", id)
	return c
}

// readLimits derives this connection's protocol limits from server config:
// spec.md §4.7 requires the multi-bulk count cap be disable-able when a
// sharded proxy (Codis) fronts the server, since the proxy already
// re-batches client requests and may legitimately exceed the single-client
// default.
func (c *Conn) readLimits() resp.Limits {
	lim := resp.DefaultLimits
	if c.server.ctx.Config.CodisEnabled {
		lim.MaxMultiBulkLen = 0
	}
	return lim
}

func (c *Conn) handle() {
	defer c.close()
	limits := c.readLimits()
	for {
		argv, n, err := resp.ReadCommand(c.reader, limits)
		if err != nil {
			if err == io.EOF {
				log6.Debug("netsrv: connection %v closed by client", c.id)
				return
			}
			if pe, ok := err.(*resp.ProtocolError); ok {
				c.write(errorReply(pe.Error()))
				return
			}
			log6.Warn("netsrv: connection %v read error: %v", c.id, err)
			return
		}
		c.server.ctx.Stats.IncrInboundBytes(int64(n))
		if len(argv) == 0 {
			continue
		}

		reply := command.Dispatch(c.server.ctx, c.ccon, argv)

		var buf bytes.Buffer
		if err := reply.WriteTo(&buf); err != nil {
			log6.Warn("netsrv: connection %v encode error: %v", c.id, err)
			return
		}
		c.write(buf.Bytes())

		if c.ccon.CloseAfter {
			return
		}
	}
}

func errorReply(msg string) []byte {
	return []byte("-ERR " + msg + "\r\n")
}

func (c *Conn) write(b []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.sock.Write(b); err != nil {
		log6.Debug("netsrv: connection %v write error: %v", c.id, err)
	}
}

// Feed implements stats.PubSubSubscriber: a PUBLISH payload arrives as an
// out-of-band RESP push while this connection is subscribed.
func (c *Conn) Feed(channel string, payload []byte) {
	msg := resp.Array{
		resp.BulkString([]byte("message")),
		resp.BulkString([]byte(channel)),
		resp.BulkString(payload),
	}
	var buf bytes.Buffer
	if err := msg.WriteTo(&buf); err != nil {
		return
	}
	c.write(buf.Bytes())
}

// monitorSink adapts Conn to stats.MonitorSubscriber. It's a separate type
// because Conn already has a Feed method with a different signature for
// stats.PubSubSubscriber.
type monitorSink struct{ c *Conn }

// Feed delivers another connection's dispatched argv as an out-of-band
// simple-string line once this connection has issued MONITOR.
func (m monitorSink) Feed(connID string, argv []string) {
	var buf bytes.Buffer
	buf.WriteByte('+')
	for i, a := range argv {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(a)
	}
	buf.WriteString("\r\n")
	m.c.write(buf.Bytes())
}

func (c *Conn) close() {
	c.sock.Close()
}
