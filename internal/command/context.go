// Package command implements the wire-visible command set: argument
// parsing, arity/auth/readonly enforcement, and the per-type handlers
// that translate a client's argv into store.Batch mutations, generalized
// from _examples/mikeqian-rodis's server/command package (which handled
// a much smaller command set with the same map-of-name-to-handler
// shape).
package command

import (
	"time"

	"github.com/nodisdb/nodis/internal/config"
	"github.com/nodisdb/nodis/internal/lock"
	"github.com/nodisdb/nodis/internal/stats"
	"github.com/nodisdb/nodis/internal/store"
)

// Context bundles every collaborator the dispatcher and handlers need:
// the storage engine, the key-striped lock manager, the counters/logs/
// fanout spec §6 calls out, server-wide state flags, and the read-only
// config (spec §6's "Collaborator interfaces consumed").
type Context struct {
	Engine *store.Engine
	Locks  *lock.Manager
	Stats  *stats.Stats
	SlowLog *stats.SlowLog
	PerfLog *stats.PerfLog
	Monitor *stats.MonitorFanout
	PubSub  *stats.PubSubHub
	Host    *stats.HostCollector
	State   *stats.ServerState
	Config  *config.Config

	Now func() time.Time // overridable for tests; defaults to time.Now
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Conn is the per-connection state the dispatcher threads through every
// call: which namespace the client has authenticated into, whether it's
// in monitor or subscriber mode, and its identity for logging/fanout.
type Conn struct {
	ID          string
	Namespace   []byte
	Authed      bool
	InMonitor   bool
	SubChannels map[string]bool
	CloseAfter  bool

	// Subscriber delivers PUBLISH payloads for this connection's
	// subscribed channels. Left nil until the transport layer that owns
	// the socket attaches itself; SUBSCRIBE/PUBLISH degrade to
	// bookkeeping-only when it's unset (e.g. under test).
	Subscriber stats.PubSubSubscriber

	// MonitorSink receives every other connection's dispatched argv once
	// this connection issues MONITOR. Same nil-under-test story as
	// Subscriber.
	MonitorSink stats.MonitorSubscriber
}

// NewConn returns a Conn with no namespace and no auth yet.
func NewConn(id string) *Conn {
	return &Conn{ID: id, SubChannels: map[string]bool{}}
}

// DefaultNamespace is the admin namespace a connection is placed into
// once authenticated (or immediately, when no password is configured).
var DefaultNamespace = []byte("")
