package command

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/store"
)

func registerZSetCommands() {
	register("zadd", -4, true, cmdZAdd)
	register("zscore", 3, false, cmdZScore)
	register("zrem", -3, true, cmdZRem)
	register("zcard", 2, false, cmdZCard)
	register("zrange", -4, false, cmdZRange)
}

func encodeScoreValue(score float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(score))
	return b
}

func decodeScoreValue(v []byte) (float64, error) {
	if len(v) != 8 {
		return 0, &store.Error{Kind: store.KindCorruption, Msg: "zset member value not 8 bytes"}
	}
	return math.Float64frombits(binary.BigEndian.Uint64(v)), nil
}

func cmdZAdd(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	key := args[0]
	pairs := args[1:]
	if len(pairs)%2 != 0 {
		return nil, resp.Error("ERR syntax error")
	}
	var result resp.Value
	var opErr error
	err := ctx.Locks.WithLock(nsKeyFor(conn, key), func() error {
		meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeZSetScored)
		if err != nil && !store.IsNotFound(err) {
			opErr = err
			return err
		}
		version, live := resolveContainerVersion(err, meta)
		batch := store.NewBatch()
		added := int64(0)
		for i := 0; i < len(pairs); i += 2 {
			score, perr := strconv.ParseFloat(string(pairs[i]), 64)
			if perr != nil {
				opErr = resp.Error("ERR value is not a valid float")
				return opErr
			}
			member := pairs[i+1]
			memberKey := store.MakeSubKey(nsKey, version, member)
			old, getErr := ctx.Engine.Get(nil, store.CFDefault, memberKey)
			if getErr != nil && !store.IsNotFound(getErr) {
				opErr = getErr
				return getErr
			}
			if store.IsNotFound(getErr) {
				added++
			} else {
				oldScore, derr := decodeScoreValue(old)
				if derr != nil {
					opErr = derr
					return derr
				}
				batch.Delete(store.CFZSetScore, store.MakeScoreKey(nsKey, version, oldScore, member))
			}
			batch.Put(store.CFDefault, memberKey, encodeScoreValue(score))
			batch.Put(store.CFZSetScore, store.MakeScoreKey(nsKey, version, score, member), nil)
		}
		upsertContainerMetadata(batch, nsKey, meta, live, version, store.TypeZSetScored, 0, added)
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

func cmdZScore(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, nsKey, err := lookupMetadata(ctx, conn, args[0], store.TypeZSetScored)
	if store.IsNotFound(err) {
		return resp.Nil, nil
	}
	if err != nil {
		return nil, err
	}
	val, getErr := ctx.Engine.Get(nil, store.CFDefault, store.MakeSubKey(nsKey, meta.Version, args[1]))
	if store.IsNotFound(getErr) {
		return resp.Nil, nil
	}
	if getErr != nil {
		return nil, getErr
	}
	score, derr := decodeScoreValue(val)
	if derr != nil {
		return nil, derr
	}
	return resp.BulkString(strconv.FormatFloat(score, 'g', -1, 64)), nil
}

func cmdZRem(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	key, members := args[0], args[1:]
	var result resp.Value
	var opErr error
	err := ctx.Locks.WithLock(nsKeyFor(conn, key), func() error {
		meta, nsKey, err := lookupMetadata(ctx, conn, key, store.TypeZSetScored)
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
		for _, member := range members {
			memberKey := store.MakeSubKey(nsKey, meta.Version, member)
			val, getErr := ctx.Engine.Get(nil, store.CFDefault, memberKey)
			if store.IsNotFound(getErr) {
				continue
			}
			if getErr != nil {
				opErr = getErr
				return getErr
			}
			score, derr := decodeScoreValue(val)
			if derr != nil {
				opErr = derr
				return derr
			}
			batch.Delete(store.CFDefault, memberKey)
			batch.Delete(store.CFZSetScore, store.MakeScoreKey(nsKey, meta.Version, score, member))
			removed++
		}
		if removed == 0 {
			result = resp.Integer(0)
			return nil
		}
		newSize := meta.Size - uint64(removed)
		if newSize == 0 {
			deleteKey(ctx, batch, nsKey, meta)
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

func cmdZCard(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, _, err := lookupMetadata(ctx, conn, args[0], store.TypeZSetScored)
	if store.IsNotFound(err) {
		return resp.Integer(0), nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Integer(meta.Size), nil
}

// cmdZRange implements the ascending-by-score, whole-range form
// `ZRANGE key 0 -1 [WITHSCORES]`; arbitrary start/stop
// indices beyond 0..-1 would require materializing the score range to
// count and slice it by rank, which this command doesn't do, so any
// other index pair is rejected rather than silently returning the whole
// range under a request that asked for a slice of it.
func cmdZRange(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	startIdx, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return nil, resp.Error("ERR value is not an integer or out of range")
	}
	stopIdx, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return nil, resp.Error("ERR value is not an integer or out of range")
	}
	if startIdx != 0 || stopIdx != -1 {
		return nil, resp.Error("ERR ZRANGE only supports the full range '0 -1'")
	}

	meta, nsKey, err := lookupMetadata(ctx, conn, args[0], store.TypeZSetScored)
	if store.IsNotFound(err) {
		return resp.Array(nil), nil
	}
	if err != nil {
		return nil, err
	}
	withScores := len(args) > 3 && equalFoldStr(args[3], "WITHSCORES")

	start := store.MakeScoreKey(nsKey, meta.Version, math.Inf(-1), nil)
	limit := store.MakeScoreKey(nsKey, meta.Version+1, math.Inf(-1), nil)
	it := ctx.Engine.Iterator(nil, store.CFZSetScore, start, limit)
	defer it.Release()

	var out resp.Array
	for it.Next() {
		_, _, score, member, err := store.ParseScoreKey(it.Key()[1:])
		if err != nil {
			continue
		}
		out = append(out, resp.BulkString(append([]byte(nil), member...)))
		if withScores {
			out = append(out, resp.BulkString(strconv.FormatFloat(score, 'g', -1, 64)))
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}
