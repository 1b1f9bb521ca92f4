package command

import (
	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/store"
)

func registerHashCommands() {
	register("hset", 4, true, cmdHSet)
	register("hget", 3, false, cmdHGet)
	register("hdel", -3, true, cmdHDel)
	register("hexists", 3, false, cmdHExists)
	register("hlen", 2, false, cmdHLen)
	register("hgetall", 2, false, cmdHGetAll)
}

func cmdHSet(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	key, field, value := args[0], args[1], args[2]
	var result resp.Value
	var opErr error
	err := ctx.Locks.WithLock(nsKeyFor(conn, key), func() error {
		meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeHash)
		if err != nil && !store.IsNotFound(err) {
			opErr = err
			return err
		}
		version, live := resolveContainerVersion(err, meta)
		subKey := store.MakeSubKey(nsKey, version, field)
		_, getErr := ctx.Engine.Get(nil, store.CFDefault, subKey)
		isNew := store.IsNotFound(getErr)

		batch := store.NewBatch()
		batch.Put(store.CFDefault, subKey, value)
		delta := int64(0)
		if isNew {
			delta = 1
		}
		upsertContainerMetadata(batch, nsKey, meta, live, version, store.TypeHash, 0, delta)
		if err := ctx.Engine.Write(batch); err != nil {
			opErr = err
			return err
		}
		if isNew {
			result = resp.Integer(1)
		} else {
			result = resp.Integer(0)
		}
		return nil
	})
	if err != nil {
		return nil, opErr
	}
	return result, nil
}

func cmdHGet(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, nsKey, err := lookupMetadata(ctx, conn, args[0], store.TypeHash)
	if store.IsNotFound(err) {
		return resp.Nil, nil
	}
	if err != nil {
		return nil, err
	}
	subKey := store.MakeSubKey(nsKey, meta.Version, args[1])
	val, err := ctx.Engine.Get(nil, store.CFDefault, subKey)
	if store.IsNotFound(err) {
		return resp.Nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.BulkString(val), nil
}

func cmdHExists(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	v, err := cmdHGet(ctx, conn, args)
	if err != nil {
		return nil, err
	}
	if bs, ok := v.(resp.BulkString); ok && bs == nil {
		return resp.Integer(0), nil
	}
	return resp.Integer(1), nil
}

func cmdHDel(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	key, fields := args[0], args[1:]
	var result resp.Value
	var opErr error
	err := ctx.Locks.WithLock(nsKeyFor(conn, key), func() error {
		meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeHash)
		if store.IsNotFound(err) {
			result = resp.Integer(0)
			return nil
		}
		if err != nil {
			opErr = err
			return err
		}
		batch := store.NewBatch()
		removed := int64(0)
		for _, field := range fields {
			subKey := store.MakeSubKey(nsKey, meta.Version, field)
			if _, getErr := ctx.Engine.Get(nil, store.CFDefault, subKey); store.IsNotFound(getErr) {
				continue
			}
			batch.Delete(store.CFDefault, subKey)
			removed++
		}
		if removed == 0 {
			result = resp.Integer(0)
			return nil
		}
		newSize := meta.Size - uint64(removed)
		if newSize == 0 {
			batch.Delete(store.CFMetadata, nsKey)
		} else {
			setContainerSize(batch, nsKey, meta, newSize)
		}
		if err := ctx.Engine.Write(batch); err != nil {
			opErr = err
			return err
		}
		result = resp.Integer(removed)
		return nil
	})
	if err != nil {
		return nil, opErr
	}
	return result, nil
}

func cmdHLen(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, _, err := lookupMetadata(ctx, conn, args[0], store.TypeHash)
	if store.IsNotFound(err) {
		return resp.Integer(0), nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Integer(meta.Size), nil
}

func cmdHGetAll(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, nsKey, err := lookupMetadata(ctx, conn, args[0], store.TypeHash)
	if store.IsNotFound(err) {
		return resp.Array(nil), nil
	}
	if err != nil {
		return nil, err
	}
	start := store.MakeSubKey(nsKey, meta.Version, nil)
	limit := store.MakeSubKey(nsKey, meta.Version+1, nil)
	it := ctx.Engine.Iterator(nil, store.CFDefault, start, limit)
	defer it.Release()

	var out resp.Array
	for it.Next() {
		physKey := it.Key()
		_, _, field, err := store.ParseSubKey(physKey[1:])
		if err != nil {
			continue
		}
		val := append([]byte(nil), it.Value()...)
		out = append(out, resp.BulkString(append([]byte(nil), field...)), resp.BulkString(val))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
