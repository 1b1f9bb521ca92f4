package command

import (
	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/store"
)

var setMember = []byte{1}

func registerSetCommands() {
	register("sadd", -3, true, cmdSAdd)
	register("srem", -3, true, cmdSRem)
	register("sismember", 3, false, cmdSIsMember)
	register("scard", 2, false, cmdSCard)
	register("smembers", 2, false, cmdSMembers)
}

func cmdSAdd(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	key, members := args[0], args[1:]
	var result resp.Value
	var opErr error
	err := ctx.Locks.WithLock(nsKeyFor(conn, key), func() error {
		meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeSet)
		if err != nil && !store.IsNotFound(err) {
			opErr = err
			return err
		}
		version, live := resolveContainerVersion(err, meta)
		batch := store.NewBatch()
		added := int64(0)
		for _, m := range members {
			subKey := store.MakeSubKey(nsKey, version, m)
			if _, getErr := ctx.Engine.Get(nil, store.CFDefault, subKey); !store.IsNotFound(getErr) {
				continue
			}
			batch.Put(store.CFDefault, subKey, setMember)
			added++
		}
		if added == 0 {
			result = resp.Integer(0)
			return nil
		}
		upsertContainerMetadata(batch, nsKey, meta, live, version, store.TypeSet, 0, added)
		if err := ctx.Engine.Write(batch); err != nil {
			opErr = err
			return err
		}
		result = resp.Integer(added)
		return nil
	})
	if err != nil {
		return nil, opErr
	}
	return result, nil
}

func cmdSRem(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	key, members := args[0], args[1:]
	var result resp.Value
	var opErr error
	err := ctx.Locks.WithLock(nsKeyFor(conn, key), func() error {
		meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeSet)
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
		for _, m := range members {
			subKey := store.MakeSubKey(nsKey, meta.Version, m)
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

func cmdSIsMember(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, nsKey, err := lookupMetadata(ctx, conn, args[0], store.TypeSet)
	if store.IsNotFound(err) {
		return resp.Integer(0), nil
	}
	if err != nil {
		return nil, err
	}
	subKey := store.MakeSubKey(nsKey, meta.Version, args[1])
	_, getErr := ctx.Engine.Get(nil, store.CFDefault, subKey)
	if store.IsNotFound(getErr) {
		return resp.Integer(0), nil
	}
	if getErr != nil {
		return nil, getErr
	}
	return resp.Integer(1), nil
}

func cmdSCard(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, _, err := lookupMetadata(ctx, conn, args[0], store.TypeSet)
	if store.IsNotFound(err) {
		return resp.Integer(0), nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Integer(meta.Size), nil
}

func cmdSMembers(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, nsKey, err := lookupMetadata(ctx, conn, args[0], store.TypeSet)
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
		_, _, member, err := store.ParseSubKey(it.Key()[1:])
		if err != nil {
			continue
		}
		out = append(out, resp.BulkString(append([]byte(nil), member...)))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
