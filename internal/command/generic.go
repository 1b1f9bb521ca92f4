package command

import (
	"strconv"
	"time"

	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/store"
)

func registerGenericCommands() {
	register("del", -2, true, cmdDel)
	register("exists", -2, false, cmdExists)
	register("expire", 3, true, cmdExpire)
	register("pexpire", 3, true, cmdPExpire)
	register("ttl", 2, false, cmdTTL)
	register("pttl", 2, false, cmdPTTL)
	register("persist", 2, true, cmdPersist)
	register("type", 2, false, cmdType)
	register("flushdb", 1, true, cmdFlushDB)
}

func cmdDel(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	batch := store.NewBatch()
	deleted := 0
	release := ctx.Locks.MultiLock(prefixedKeys(conn, args))
	defer release()
	for _, key := range args {
		meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeNone)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		deleteKey(ctx, batch, nsKey, meta)
		deleted++
	}
	if batch.Len() == 0 {
		return resp.Integer(0), nil
	}
	if err := ctx.Engine.Write(batch); err != nil {
		return nil, err
	}
	return resp.Integer(deleted), nil
}

func prefixedKeys(conn *Conn, keys [][]byte) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = nsKeyFor(conn, k)
	}
	return out
}

func cmdExists(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	n := 0
	for _, key := range args {
		if exists(ctx, conn, key) {
			n++
		}
	}
	return resp.Integer(n), nil
}

func cmdExpire(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	secs, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, resp.Error("ERR value is not an integer or out of range")
	}
	return setExpire(ctx, conn, args[0], secondsToDuration(secs))
}

func cmdPExpire(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	ms, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, resp.Error("ERR value is not an integer or out of range")
	}
	return setExpire(ctx, conn, args[0], time.Duration(ms)*time.Millisecond)
}

func setExpire(ctx *Context, conn *Conn, key []byte, ttl time.Duration) (resp.Value, error) {
	meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeNone)
	if store.IsNotFound(err) {
		return resp.Integer(0), nil
	}
	if err != nil {
		return nil, err
	}
	expire := ttlToExpire(ctx.now(), ttl)
	batch := store.NewBatch()
	batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
		Type: meta.Type, Flags: meta.Flags, Expire: expire, Version: meta.Version, Size: meta.Size, Value: meta.Value,
	}))
	if err := ctx.Engine.Write(batch); err != nil {
		return nil, err
	}
	return resp.Integer(1), nil
}

func cmdTTL(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, _, err := lookupMetadata(ctx, conn, args[0], store.TypeNone)
	if store.IsNotFound(err) {
		return resp.Integer(-2), nil
	}
	if err != nil {
		return nil, err
	}
	if meta.Expire == 0 {
		return resp.Integer(-1), nil
	}
	remaining := int64(meta.Expire) - ctx.now().Unix()
	if remaining < 0 {
		remaining = 0
	}
	return resp.Integer(remaining), nil
}

func cmdPTTL(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, _, err := lookupMetadata(ctx, conn, args[0], store.TypeNone)
	if store.IsNotFound(err) {
		return resp.Integer(-2), nil
	}
	if err != nil {
		return nil, err
	}
	if meta.Expire == 0 {
		return resp.Integer(-1), nil
	}
	remaining := (int64(meta.Expire) - ctx.now().Unix()) * 1000
	if remaining < 0 {
		remaining = 0
	}
	return resp.Integer(remaining), nil
}

func cmdPersist(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, nsKey, err := lookupMetadata(ctx, conn, args[0], store.TypeNone)
	if store.IsNotFound(err) {
		return resp.Integer(0), nil
	}
	if err != nil {
		return nil, err
	}
	if meta.Expire == 0 {
		return resp.Integer(0), nil
	}
	batch := store.NewBatch()
	batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
		Type: meta.Type, Flags: meta.Flags, Expire: 0, Version: meta.Version, Size: meta.Size, Value: meta.Value,
	}))
	if err := ctx.Engine.Write(batch); err != nil {
		return nil, err
	}
	return resp.Integer(1), nil
}

func cmdType(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, _, err := lookupMetadata(ctx, conn, args[0], store.TypeNone)
	if store.IsNotFound(err) {
		return resp.SimpleString("none"), nil
	}
	if err != nil {
		return nil, err
	}
	return resp.SimpleString(typeName(meta.Type)), nil
}

func typeName(t store.DataType) string {
	switch t {
	case store.TypeString:
		return "string"
	case store.TypeHash:
		return "hash"
	case store.TypeSet:
		return "set"
	case store.TypeZSet, store.TypeZSetScored:
		return "zset"
	case store.TypeList:
		return "list"
	case store.TypeBitmap:
		return "string"
	default:
		return "none"
	}
}

func cmdFlushDB(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	if err := ctx.Engine.DeleteWholeCF(store.CFMetadata); err != nil {
		return nil, err
	}
	if err := ctx.Engine.DeleteWholeCF(store.CFDefault); err != nil {
		return nil, err
	}
	if err := ctx.Engine.DeleteWholeCF(store.CFZSetScore); err != nil {
		return nil, err
	}
	if ctx.Config.CodisEnabled {
		if err := ctx.Engine.ClearSlotIndex(); err != nil {
			return nil, err
		}
	}
	return resp.OK, nil
}
