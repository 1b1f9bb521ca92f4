package command

import (
	"strconv"

	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/store"
)

func registerStringCommands() {
	register("get", 2, false, cmdGet)
	register("set", -3, true, cmdSet)
	register("getset", 3, true, cmdGetSet)
	register("append", 3, true, cmdAppend)
	register("strlen", 2, false, cmdStrlen)
	register("incr", 2, true, cmdIncr)
	register("decr", 2, true, cmdDecr)
	register("incrby", 3, true, cmdIncrBy)
	register("decrby", 3, true, cmdDecrBy)
}

func cmdGet(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, _, err := lookupMetadata(ctx, conn, args[0], store.TypeString)
	if store.IsNotFound(err) {
		return resp.Nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.BulkString(meta.Value), nil
}

// cmdSet implements `SET key value [EX seconds]`. The full option
// grammar (NX/XX/PX/KEEPTTL/GET) is out of scope; the two forms here
// cover the common write and TTL-setting paths every other string
// command builds on.
func cmdSet(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	key, value := args[0], args[1]
	var expire uint32
	if len(args) > 2 {
		if len(args) != 4 || !equalFoldStr(args[2], "EX") {
			return nil, resp.Error("ERR syntax error")
		}
		secs, err := strconv.ParseInt(string(args[3]), 10, 64)
		if err != nil || secs <= 0 {
			return nil, resp.Error("ERR invalid expire time in 'set' command")
		}
		expire = ttlToExpire(ctx.now(), secondsToDuration(secs))
	}

	nsKey := nsKeyFor(conn, key)
	prev, _, err := lookupMetadata(ctx, conn, key, store.TypeNone)
	if err != nil && !store.IsNotFound(err) {
		return nil, err
	}
	batch := store.NewBatch()
	version := uint64(1)
	if prev != nil {
		version = prev.Version + 1
		if prev.Type.IsContainer() {
			deleteKey(ctx, batch, nsKey, prev)
		}
	}
	batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
		Type: store.TypeString, Expire: expire, Version: version, Size: uint64(len(value)), Value: value,
	}))
	if err := ctx.Engine.Write(batch); err != nil {
		return nil, err
	}
	return resp.OK, nil
}

func cmdGetSet(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	old, _, err := lookupMetadata(ctx, conn, args[0], store.TypeString)
	if err != nil && !store.IsNotFound(err) {
		return nil, err
	}
	nsKey := nsKeyFor(conn, args[0])
	batch := store.NewBatch()
	batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
		Type: store.TypeString, Version: 1, Size: uint64(len(args[1])), Value: args[1],
	}))
	if err := ctx.Engine.Write(batch); err != nil {
		return nil, err
	}
	if err != nil {
		return resp.Nil, nil
	}
	return resp.BulkString(old.Value), nil
}

func cmdAppend(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	var lockErr error
	var result resp.Value
	err := ctx.Locks.WithLock(nsKeyFor(conn, args[0]), func() error {
		meta, nsKey, err := lookupMetadata(ctx, conn, args[0], store.TypeString)
		if err != nil && !store.IsNotFound(err) {
			lockErr = err
			return err
		}
		var newVal []byte
		var expire uint32
		if err == nil {
			newVal = append(append([]byte(nil), meta.Value...), args[1]...)
			expire = meta.Expire
		} else {
			newVal = append([]byte(nil), args[1]...)
		}
		batch := store.NewBatch()
		batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
			Type: store.TypeString, Expire: expire, Version: 1, Size: uint64(len(newVal)), Value: newVal,
		}))
		if err := ctx.Engine.Write(batch); err != nil {
			lockErr = err
			return err
		}
		result = resp.Integer(len(newVal))
		return nil
	})
	if err != nil {
		return nil, lockErr
	}
	return result, nil
}

func cmdStrlen(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, _, err := lookupMetadata(ctx, conn, args[0], store.TypeString)
	if store.IsNotFound(err) {
		return resp.Integer(0), nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Integer(len(meta.Value)), nil
}

func cmdIncr(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	return incrByAmount(ctx, conn, args[0], 1)
}

func cmdDecr(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	return incrByAmount(ctx, conn, args[0], -1)
}

func cmdIncrBy(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	n, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, resp.Error("ERR value is not an integer or out of range")
	}
	return incrByAmount(ctx, conn, args[0], n)
}

func cmdDecrBy(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	n, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, resp.Error("ERR value is not an integer or out of range")
	}
	return incrByAmount(ctx, conn, args[0], -n)
}

func incrByAmount(ctx *Context, conn *Conn, key []byte, delta int64) (resp.Value, error) {
	var result resp.Value
	var opErr error
	err := ctx.Locks.WithLock(nsKeyFor(conn, key), func() error {
		meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeString)
		if err != nil && !store.IsNotFound(err) {
			opErr = err
			return err
		}
		var cur int64
		var expire uint32
		if err == nil {
			cur, err = strconv.ParseInt(string(meta.Value), 10, 64)
			if err != nil {
				opErr = resp.Error("ERR value is not an integer or out of range")
				return opErr
			}
			expire = meta.Expire
		}
		next := cur + delta
		val := []byte(strconv.FormatInt(next, 10))
		batch := store.NewBatch()
		batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
			Type: store.TypeString, Expire: expire, Version: 1, Size: uint64(len(val)), Value: val,
		}))
		if err := ctx.Engine.Write(batch); err != nil {
			opErr = err
			return err
		}
		result = resp.Integer(next)
		return nil
	})
	if err != nil {
		return nil, opErr
	}
	return result, nil
}
