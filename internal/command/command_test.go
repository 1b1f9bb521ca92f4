package command

import (
	"testing"
	"time"

	"github.com/nodisdb/nodis/internal/config"
	"github.com/nodisdb/nodis/internal/lock"
	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/stats"
	"github.com/nodisdb/nodis/internal/store"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	engine, err := store.Open(store.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return &Context{
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

func newTestConn() *Conn {
	return NewConn("test-conn")
}

func mustDispatch(t *testing.T, ctx *Context, conn *Conn, argv ...string) resp.Value {
	t.Helper()
	raw := make([][]byte, len(argv))
	for i, a := range argv {
		raw[i] = []byte(a)
	}
	return Dispatch(ctx, conn, raw)
}

func TestDispatchUnknownCommand(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	reply := mustDispatch(t, ctx, conn, "notacommand")
	e, ok := reply.(resp.Error)
	if !ok {
		t.Fatalf("expected resp.Error, got %T", reply)
	}
	if !containsSub(string(e), "unknown command") {
		t.Fatalf("got %q", e)
	}
}

func TestDispatchArityRejection(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	reply := mustDispatch(t, ctx, conn, "get")
	e, ok := reply.(resp.Error)
	if !ok || !containsSub(string(e), "wrong number of arguments") {
		t.Fatalf("got %v", reply)
	}
}

func TestDispatchRequiresAuthWhenPasswordSet(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	ctx.Config.RequirePass = "secret"

	reply := mustDispatch(t, ctx, conn, "get", "k")
	if e, ok := reply.(resp.Error); !ok || !containsSub(string(e), "NOAUTH") {
		t.Fatalf("expected NOAUTH before auth, got %v", reply)
	}

	reply = mustDispatch(t, ctx, conn, "auth", "wrong")
	if e, ok := reply.(resp.Error); !ok || !containsSub(string(e), "invalid password") {
		t.Fatalf("expected invalid password error, got %v", reply)
	}

	reply = mustDispatch(t, ctx, conn, "auth", "secret")
	if reply != resp.OK {
		t.Fatalf("expected OK after correct auth, got %v", reply)
	}
	if !conn.Authed {
		t.Fatal("expected conn.Authed to be true after successful AUTH")
	}
}

func TestDispatchReadOnlyGateRejectsWritesOnSlave(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	ctx.State.SetSlave(true)
	reply := mustDispatch(t, ctx, conn, "set", "k", "v")
	if e, ok := reply.(resp.Error); !ok || !containsSub(string(e), "READONLY") {
		t.Fatalf("expected READONLY error, got %v", reply)
	}
}

func TestDispatchLoadingWhitelist(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	ctx.State.SetLoading(true)
	reply := mustDispatch(t, ctx, conn, "get", "k")
	if e, ok := reply.(resp.Error); !ok || !containsSub(string(e), "LOADING") {
		t.Fatalf("expected LOADING error, got %v", reply)
	}
}

func TestDispatchSetGetRoundTrip(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	if reply := mustDispatch(t, ctx, conn, "set", "k", "v"); reply != resp.OK {
		t.Fatalf("SET reply = %v, want OK", reply)
	}
	reply := mustDispatch(t, ctx, conn, "get", "k")
	bs, ok := reply.(resp.BulkString)
	if !ok || string(bs) != "v" {
		t.Fatalf("GET reply = %v, want v", reply)
	}
}

func TestDispatchGetMissingKeyReturnsNil(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	reply := mustDispatch(t, ctx, conn, "get", "missing")
	if reply == nil || reply.(resp.BulkString) != nil {
		t.Fatalf("expected nil bulk string, got %v", reply)
	}
}

func TestSetOverwritesContainerCleansUpSubkeys(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	mustDispatch(t, ctx, conn, "hset", "k", "f1", "v1")
	mustDispatch(t, ctx, conn, "hset", "k", "f2", "v2")

	// SET on a key currently holding a hash must drop the hash's subkeys.
	if reply := mustDispatch(t, ctx, conn, "set", "k", "str"); reply != resp.OK {
		t.Fatalf("SET reply = %v, want OK", reply)
	}
	if reply := mustDispatch(t, ctx, conn, "type", "k"); reply != resp.SimpleString("string") {
		t.Fatalf("TYPE after SET = %v, want string", reply)
	}

	// The metadata record is now a string, and the hash's field subkeys are
	// gone: no CFDefault entry remains under any version below the string's.
	nsKey := nsKeyFor(conn, []byte("k"))
	raw, err := ctx.Engine.Get(nil, store.CFMetadata, nsKey)
	if err != nil {
		t.Fatalf("Get metadata: %v", err)
	}
	meta, err := store.DecodeMetadata(raw)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if meta.Type != store.TypeString {
		t.Fatalf("expected metadata type string, got %v", meta.Type)
	}
	it := ctx.Engine.Iterator(nil, store.CFDefault, store.MakeSubKey(nsKey, 0, nil), store.MakeSubKey(nsKey, meta.Version, nil))
	defer it.Release()
	if it.Next() {
		t.Fatalf("expected the hash's subkeys to be deleted, found %q", it.Key())
	}
}

func TestDispatchIncrDecr(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	reply := mustDispatch(t, ctx, conn, "incr", "counter")
	if reply != resp.Integer(1) {
		t.Fatalf("first INCR = %v, want 1", reply)
	}
	reply = mustDispatch(t, ctx, conn, "incrby", "counter", "5")
	if reply != resp.Integer(6) {
		t.Fatalf("INCRBY = %v, want 6", reply)
	}
	reply = mustDispatch(t, ctx, conn, "decr", "counter")
	if reply != resp.Integer(5) {
		t.Fatalf("DECR = %v, want 5", reply)
	}
}

func TestDispatchIncrOnNonIntegerErrors(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	mustDispatch(t, ctx, conn, "set", "k", "notanumber")
	reply := mustDispatch(t, ctx, conn, "incr", "k")
	if e, ok := reply.(resp.Error); !ok || !containsSub(string(e), "not an integer") {
		t.Fatalf("got %v", reply)
	}
}

func TestDispatchDelExistsExpireTTL(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	mustDispatch(t, ctx, conn, "set", "k1", "v1")
	mustDispatch(t, ctx, conn, "set", "k2", "v2")

	if reply := mustDispatch(t, ctx, conn, "exists", "k1", "k2", "missing"); reply != resp.Integer(2) {
		t.Fatalf("EXISTS = %v, want 2", reply)
	}

	if reply := mustDispatch(t, ctx, conn, "ttl", "k1"); reply != resp.Integer(-1) {
		t.Fatalf("TTL with no expiry = %v, want -1", reply)
	}

	if reply := mustDispatch(t, ctx, conn, "expire", "k1", "100"); reply != resp.Integer(1) {
		t.Fatalf("EXPIRE = %v, want 1", reply)
	}
	reply := mustDispatch(t, ctx, conn, "ttl", "k1")
	ttl, ok := reply.(resp.Integer)
	if !ok || ttl <= 0 || ttl > 100 {
		t.Fatalf("TTL after EXPIRE = %v, want in (0,100]", reply)
	}

	if reply := mustDispatch(t, ctx, conn, "del", "k1", "k2", "missing"); reply != resp.Integer(2) {
		t.Fatalf("DEL = %v, want 2", reply)
	}
	if reply := mustDispatch(t, ctx, conn, "exists", "k1"); reply != resp.Integer(0) {
		t.Fatalf("EXISTS after DEL = %v, want 0", reply)
	}
}

func TestDispatchTTLOnMissingKey(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	if reply := mustDispatch(t, ctx, conn, "ttl", "nope"); reply != resp.Integer(-2) {
		t.Fatalf("TTL on missing key = %v, want -2", reply)
	}
}

func TestErrToReplyMapsStoreErrorKinds(t *testing.T) {
	if got := errToReply(&store.Error{Kind: store.KindNotFound, Msg: "ignored"}); got.(resp.BulkString) != nil {
		t.Errorf("errToReply(KindNotFound) = %v, want resp.Nil", got)
	}

	cases := []struct {
		kind store.Kind
		msg  string
		want resp.Error
	}{
		{store.KindWrongType, "ignored", resp.Error("WRONGTYPE Operation against a key holding the wrong kind of value")},
		{store.KindReadOnly, "replica is read-only", resp.Error("READONLY replica is read-only")},
		// spec §6 closes the error-class prefixes to ERR, NOAUTH, READONLY,
		// WRONGTYPE, NOSCRIPT, LOADING: a space-limit failure still surfaces
		// as a plain ERR, matching "-ERR reach space limit" (spec §8
		// scenario 5), not an OOM prefix Redis itself uses.
		{store.KindSpaceLimit, "reach space limit", resp.Error("ERR reach space limit")},
	}
	for _, c := range cases {
		got, ok := errToReply(&store.Error{Kind: c.kind, Msg: c.msg}).(resp.Error)
		if !ok || got != c.want {
			t.Errorf("errToReply(Kind=%v) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestDispatchWrongTypeError(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	mustDispatch(t, ctx, conn, "set", "k", "v")
	reply := mustDispatch(t, ctx, conn, "hget", "k", "field")
	e, ok := reply.(resp.Error)
	if !ok || !containsSub(string(e), "WRONGTYPE") {
		t.Fatalf("expected WRONGTYPE error, got %v", reply)
	}
}

func TestDispatchHashLifecycle(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	if reply := mustDispatch(t, ctx, conn, "hset", "h", "f1", "v1"); reply != resp.Integer(1) {
		t.Fatalf("first HSET = %v, want 1 (new field)", reply)
	}
	if reply := mustDispatch(t, ctx, conn, "hset", "h", "f1", "v2"); reply != resp.Integer(0) {
		t.Fatalf("HSET overwrite = %v, want 0", reply)
	}
	if reply := mustDispatch(t, ctx, conn, "hget", "h", "f1"); string(reply.(resp.BulkString)) != "v2" {
		t.Fatalf("HGET = %v, want v2", reply)
	}
	if reply := mustDispatch(t, ctx, conn, "hlen", "h"); reply != resp.Integer(1) {
		t.Fatalf("HLEN = %v, want 1", reply)
	}
	if reply := mustDispatch(t, ctx, conn, "hdel", "h", "f1"); reply != resp.Integer(1) {
		t.Fatalf("HDEL = %v, want 1", reply)
	}
	if reply := mustDispatch(t, ctx, conn, "exists", "h"); reply != resp.Integer(0) {
		t.Fatalf("expected the hash to be gone once its last field is deleted, got %v", reply)
	}
}

// TestExpiredHashRecreationDoesNotResurrectStaleFields covers spec §8
// invariants 1 and 3: recreating a key after its previous incarnation
// expired must bump strictly past the expired version, not reuse it, or
// the expired incarnation's never-reclaimed subkeys resurface under the
// new one.
func TestExpiredHashRecreationDoesNotResurrectStaleFields(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	base := time.Unix(1_700_000_000, 0)
	ctx.Now = func() time.Time { return base }

	mustDispatch(t, ctx, conn, "hset", "h", "f1", "v1")
	mustDispatch(t, ctx, conn, "expire", "h", "1")

	ctx.Now = func() time.Time { return base.Add(2 * time.Second) }

	if reply := mustDispatch(t, ctx, conn, "hget", "h", "f1"); reply.(resp.BulkString) != nil {
		t.Fatalf("HGET on expired hash = %v, want nil", reply)
	}
	if reply := mustDispatch(t, ctx, conn, "hset", "h", "f2", "v2"); reply != resp.Integer(1) {
		t.Fatalf("HSET after expiry = %v, want 1 (new field)", reply)
	}

	reply := mustDispatch(t, ctx, conn, "hgetall", "h")
	arr, ok := reply.(resp.Array)
	if !ok {
		t.Fatalf("HGETALL reply type = %T, want resp.Array", reply)
	}
	if len(arr) != 2 {
		t.Fatalf("HGETALL after expire-then-recreate = %v, want exactly [f2 v2] (stale f1 must not resurface)", arr)
	}
	if string(arr[0].(resp.BulkString)) != "f2" || string(arr[1].(resp.BulkString)) != "v2" {
		t.Fatalf("HGETALL = %v, want [f2 v2]", arr)
	}

	nsKey := nsKeyFor(conn, []byte("h"))
	raw, err := ctx.Engine.Get(nil, store.CFMetadata, nsKey)
	if err != nil {
		t.Fatalf("Get metadata: %v", err)
	}
	meta, err := store.DecodeMetadata(raw)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if meta.Version != 2 {
		t.Fatalf("recreated hash version = %d, want 2 (strictly past the expired version 1)", meta.Version)
	}
}

func TestDispatchZRangeFullRange(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	mustDispatch(t, ctx, conn, "zadd", "z", "1", "a")
	mustDispatch(t, ctx, conn, "zadd", "z", "2", "b")

	reply := mustDispatch(t, ctx, conn, "zrange", "z", "0", "-1")
	arr, ok := reply.(resp.Array)
	if !ok || len(arr) != 2 {
		t.Fatalf("ZRANGE 0 -1 = %v, want 2-element array", reply)
	}
	if string(arr[0].(resp.BulkString)) != "a" || string(arr[1].(resp.BulkString)) != "b" {
		t.Fatalf("ZRANGE 0 -1 = %v, want [a b]", reply)
	}
}

func TestDispatchZRangeRejectsUnsupportedIndices(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	mustDispatch(t, ctx, conn, "zadd", "z", "1", "a")
	mustDispatch(t, ctx, conn, "zadd", "z", "2", "b")

	reply := mustDispatch(t, ctx, conn, "zrange", "z", "1", "2")
	e, ok := reply.(resp.Error)
	if !ok || !containsSub(string(e), "ZRANGE only supports") {
		t.Fatalf("ZRANGE 1 2 = %v, want a rejection, not a silently-wrong slice", reply)
	}
}

func TestDispatchZRangeRejectsNonIntegerIndices(t *testing.T) {
	ctx, conn := newTestContext(t), newTestConn()
	reply := mustDispatch(t, ctx, conn, "zrange", "z", "x", "-1")
	if e, ok := reply.(resp.Error); !ok || !containsSub(string(e), "not an integer") {
		t.Fatalf("got %v", reply)
	}
}

func TestDispatchNamespaceIsolation(t *testing.T) {
	ctx := newTestContext(t)
	connA, connB := newTestConn(), newTestConn()
	mustDispatch(t, ctx, connA, "select", "tenant-a")
	mustDispatch(t, ctx, connB, "select", "tenant-b")

	mustDispatch(t, ctx, connA, "set", "k", "a-value")
	mustDispatch(t, ctx, connB, "set", "k", "b-value")

	replyA := mustDispatch(t, ctx, connA, "get", "k")
	replyB := mustDispatch(t, ctx, connB, "get", "k")
	if string(replyA.(resp.BulkString)) != "a-value" || string(replyB.(resp.BulkString)) != "b-value" {
		t.Fatalf("namespace isolation broken: a=%v b=%v", replyA, replyB)
	}
}

func TestDispatchMonitorFanoutSkipsSelf(t *testing.T) {
	ctx := newTestContext(t)
	monConn := newTestConn()
	sink := &recordingSink{}
	monConn.MonitorSink = sink
	mustDispatch(t, ctx, monConn, "monitor")

	otherConn := NewConn("other-conn")
	mustDispatch(t, ctx, otherConn, "set", "k", "v")

	if len(sink.calls) != 1 {
		t.Fatalf("expected the monitor to see the other connection's command, got %v", sink.calls)
	}

	// The monitoring connection's own subsequent commands must not echo
	// back to itself.
	mustDispatch(t, ctx, monConn, "get", "k")
	if len(sink.calls) != 1 {
		t.Fatalf("expected monitor's own command not to be fed back to it, got %v", sink.calls)
	}
}

type recordingSink struct {
	calls [][]string
}

func (r *recordingSink) Feed(connID string, argv []string) {
	r.calls = append(r.calls, argv)
}

func containsSub(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
