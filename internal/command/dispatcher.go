package command

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/stats"
	"github.com/nodisdb/nodis/internal/store"
)

// Handler executes one command's already-arity-checked argv (excluding
// the command name itself) and returns the reply to write back.
type Handler func(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error)

// cmdSpec describes one registered command: its handler, its arity (spec
// §4.8 step 4: positive = exact including the name, negative = minimum
// magnitude), and whether it mutates the keyspace (spec §4.8 step 6:
// writes are rejected on a read-only follower).
type cmdSpec struct {
	handler  Handler
	arity    int
	isWrite  bool
	noAuth   bool // command is in the pre-auth whitelist (just "auth")
}

var registry = map[string]*cmdSpec{}

func register(name string, arity int, isWrite bool, h Handler) {
	registry[name] = &cmdSpec{handler: h, arity: arity, isWrite: isWrite}
}

func init() {
	registerConnectionCommands()
	registerStringCommands()
	registerGenericCommands()
	registerHashCommands()
	registerSetCommands()
	registerZSetCommands()
	registerListCommands()
	registerBitmapCommands()
	registerPubSubCommands()
	registerAdminCommands()

	registry["auth"].noAuth = true
}

// checkArity mirrors spec §4.8 step 4 exactly: argc includes the command
// name itself.
func checkArity(argc int, arity int) bool {
	if arity >= 0 {
		return argc == arity
	}
	return argc >= -arity
}

// Dispatch runs the full command-execution pipeline of spec §4.8 for one
// parsed argv and returns the reply to write back to conn.
func Dispatch(ctx *Context, conn *Conn, argv [][]byte) resp.Value {
	if len(argv) == 0 {
		return resp.Error("ERR no command")
	}
	name := strings.ToLower(string(argv[0]))
	spec, ok := registry[name]
	preAuth := ok && spec.noAuth

	// Step 1: gate on auth / assign default namespace.
	if !conn.Authed {
		if ctx.Config.RequirePass != "" && !preAuth {
			return resp.Error("NOAUTH Authentication required")
		}
		conn.Authed = true
		conn.Namespace = DefaultNamespace
	}

	// Step 2: look the command up.
	if !ok {
		return resp.Error(fmt.Sprintf("ERR unknown command '%s'", name))
	}

	// Step 3: loading-state whitelist.
	if ctx.State.IsLoading() && !preAuth {
		return resp.Error("LOADING nodis is loading the dataset in memory")
	}

	// Step 4: arity.
	if !checkArity(len(argv), spec.arity) {
		return resp.Error(fmt.Sprintf("ERR wrong number of arguments for '%s' command", name))
	}

	// Step 6: read-only follower gate (parse-phase validation, step 5, is
	// delegated into each handler since it's command-specific).
	if ctx.Config.SlaveReadonly && ctx.State.IsSlave() && spec.isWrite {
		return resp.Error("READONLY You can't write against a read only replica.")
	}

	// Step 7: bookkeeping + timer.
	ctx.State.SetLastCommand(name)
	timer := ctx.Stats.StartTimer(name)

	// Step 8: profiling sample.
	sampled := shouldSample(ctx, name)

	// Step 9: run the call under the executing-command counter.
	ctx.State.IncrExecutingCommandNum()
	reply, err := spec.handler(ctx, conn, argv[1:])
	ctx.State.DecrExecutingCommandNum()

	// Step 10-12: timers, slow/perf logs, latency histogram (IncrLatency
	// already ran inside timer.Stop, so this is just threshold checks).
	us := timer.Stop()
	if sampled && us >= ctx.Config.ProfilingSampleRecordThresholdMs*1000 {
		ctx.PerfLog.Push(stats.PerfLogEntry{Cmd: name, DurationUs: us})
	}
	ctx.SlowLog.PushEntryIfNeeded(humanArgs(argv), us, time.Now().UnixNano())

	// Step 13: monitor fanout.
	ctx.Monitor.Feed(conn.ID, humanArgs(argv))

	if err != nil {
		if e, ok := err.(resp.Value); ok {
			return e
		}
		return errToReply(err)
	}
	return reply
}

func shouldSample(ctx *Context, name string) bool {
	if ctx.Config.ProfilingSampleAllCommands {
		return true
	}
	for _, c := range ctx.Config.ProfilingSampleCommands {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	if ctx.Config.ProfilingSampleRatio <= 0 {
		return false
	}
	return rand.Intn(100) < ctx.Config.ProfilingSampleRatio
}

func humanArgs(argv [][]byte) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = string(a)
	}
	return out
}

// errToReply converts a store error (or any other error) into the
// `-ERR <msg>` shape spec §7 mandates: propagated LSM/key-composer
// errors never crash the connection, they become a reply and processing
// continues with the next pipelined command.
func errToReply(err error) resp.Value {
	if se, ok := err.(*store.Error); ok {
		switch se.Kind {
		case store.KindNotFound:
			return resp.Nil
		case store.KindWrongType:
			return resp.Error("WRONGTYPE Operation against a key holding the wrong kind of value")
		case store.KindReadOnly:
			return resp.Error("READONLY " + se.Msg)
		case store.KindSpaceLimit:
			return resp.Error("ERR " + se.Msg)
		default:
			return resp.Error("ERR " + se.Error())
		}
	}
	return resp.Error("ERR " + err.Error())
}
