package command

import (
	"encoding/binary"

	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/store"
)

// A list's metadata Value field holds a 16-byte head/tail header: the
// index of the leftmost and one-past-the-rightmost live element, so
// LPUSH/RPUSH/LPOP/RPOP are O(1) without renumbering — the same
// head/tail-cursor approach the original Kvrocks list encoding uses,
// rather than a signed/centered index scheme.
func decodeListHeader(v []byte) (head, tail uint64) {
	if len(v) != 16 {
		return 1 << 62, 1 << 62 // empty list, cursors start mid-range
	}
	return binary.BigEndian.Uint64(v[:8]), binary.BigEndian.Uint64(v[8:])
}

func encodeListHeader(head, tail uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], head)
	binary.BigEndian.PutUint64(b[8:], tail)
	return b
}

func listIndexKey(idx uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, idx)
	return b
}

func registerListCommands() {
	register("lpush", -3, true, cmdLPush)
	register("rpush", -3, true, cmdRPush)
	register("lpop", 2, true, cmdLPop)
	register("rpop", 2, true, cmdRPop)
	register("llen", 2, false, cmdLLen)
	register("lrange", 4, false, cmdLRange)
}

func cmdLPush(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	return listPush(ctx, conn, args[0], args[1:], true)
}

func cmdRPush(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	return listPush(ctx, conn, args[0], args[1:], false)
}

func listPush(ctx *Context, conn *Conn, key []byte, values [][]byte, left bool) (resp.Value, error) {
	var result resp.Value
	var opErr error
	err := ctx.Locks.WithLock(nsKeyFor(conn, key), func() error {
		meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeList)
		if err != nil && !store.IsNotFound(err) {
			opErr = err
			return err
		}
		version, live := resolveContainerVersion(err, meta)
		var head, tail uint64
		if live {
			head, tail = decodeListHeader(meta.Value)
		} else {
			head, tail = 1<<62, 1<<62
		}

		batch := store.NewBatch()
		for _, v := range values {
			if left {
				head--
				batch.Put(store.CFDefault, store.MakeSubKey(nsKey, version, listIndexKey(head)), v)
			} else {
				batch.Put(store.CFDefault, store.MakeSubKey(nsKey, version, listIndexKey(tail)), v)
				tail++
			}
		}
		newSize := int64(tail - head)
		batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
			Type: store.TypeList, Version: version, Size: uint64(newSize), Value: encodeListHeader(head, tail),
		}))
		if err := ctx.Engine.Write(batch); err != nil {
			opErr = err
			return err
		}
		result = resp.Integer(newSize)
		return nil
	})
	if err != nil {
		return nil, opErr
	}
	return result, nil
}

func cmdLPop(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	return listPop(ctx, conn, args[0], true)
}

func cmdRPop(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	return listPop(ctx, conn, args[0], false)
}

func listPop(ctx *Context, conn *Conn, key []byte, left bool) (resp.Value, error) {
	var result resp.Value = resp.Nil
	var opErr error
	err := ctx.Locks.WithLock(nsKeyFor(conn, key), func() error {
		meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeList)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			opErr = err
			return err
		}
		head, tail := decodeListHeader(meta.Value)
		if head >= tail {
			return nil
		}
		var idx uint64
		if left {
			idx = head
		} else {
			idx = tail - 1
		}
		subKey := store.MakeSubKey(nsKey, meta.Version, listIndexKey(idx))
		val, getErr := ctx.Engine.Get(nil, store.CFDefault, subKey)
		if getErr != nil {
			opErr = getErr
			return getErr
		}
		batch := store.NewBatch()
		batch.Delete(store.CFDefault, subKey)
		if left {
			head++
		} else {
			tail--
		}
		if head >= tail {
			batch.Delete(store.CFMetadata, nsKey)
		} else {
			batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
				Type: store.TypeList, Version: meta.Version, Size: uint64(tail - head), Value: encodeListHeader(head, tail),
			}))
		}
		if err := ctx.Engine.Write(batch); err != nil {
			opErr = err
			return err
		}
		result = resp.BulkString(val)
		return nil
	})
	if err != nil {
		return nil, opErr
	}
	return result, nil
}

func cmdLLen(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, _, err := lookupMetadata(ctx, conn, args[0], store.TypeList)
	if store.IsNotFound(err) {
		return resp.Integer(0), nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Integer(meta.Size), nil
}

// cmdLRange only supports the whole-list form `LRANGE key 0 -1`.
func cmdLRange(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	if string(args[1]) != "0" || string(args[2]) != "-1" {
		return nil, resp.Error("ERR LRANGE only supports the full range '0 -1'")
	}
	meta, nsKey, err := lookupMetadata(ctx, conn, args[0], store.TypeList)
	if store.IsNotFound(err) {
		return resp.Array(nil), nil
	}
	if err != nil {
		return nil, err
	}
	head, tail := decodeListHeader(meta.Value)
	start := store.MakeSubKey(nsKey, meta.Version, listIndexKey(head))
	limit := store.MakeSubKey(nsKey, meta.Version, listIndexKey(tail))
	it := ctx.Engine.Iterator(nil, store.CFDefault, start, limit)
	defer it.Release()

	var out resp.Array
	for it.Next() {
		out = append(out, resp.BulkString(append([]byte(nil), it.Value()...)))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
