package command

import (
	"strconv"

	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/store"
)

func registerBitmapCommands() {
	register("setbit", 4, true, cmdSetBit)
	register("getbit", 3, false, cmdGetBit)
	register("bitcount", 2, false, cmdBitCount)
}

// readSegment returns segment idx's current bytes: segment 0 lives
// inline in the metadata record (spec §3's "string/bitmap records
// additionally carry the payload or its first segment inline"); every
// other segment is a subkey record.
func readSegment(ctx *Context, nsKey []byte, version uint64, meta *store.Metadata, live bool, idx uint32) ([]byte, error) {
	if idx == 0 {
		if !live {
			return nil, nil
		}
		return meta.Value, nil
	}
	subKey := store.MakeSubKey(nsKey, version, store.EncodeSegmentID(idx))
	v, err := ctx.Engine.Get(nil, store.CFDefault, subKey)
	if store.IsNotFound(err) {
		return nil, nil
	}
	return v, err
}

func cmdSetBit(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	key := args[0]
	bitOffset, err := strconv.ParseUint(string(args[1]), 10, 64)
	if err != nil {
		return nil, resp.Error("ERR bit offset is not an integer or out of range")
	}
	var bitVal bool
	switch string(args[2]) {
	case "0":
		bitVal = false
	case "1":
		bitVal = true
	default:
		return nil, resp.Error("ERR bit is not an integer or out of range")
	}

	var result resp.Value
	var opErr error
	err2 := ctx.Locks.WithLock(nsKeyFor(conn, key), func() error {
		meta, nsKey, lookErr := lookupMetadata(ctx, conn, key, store.TypeBitmap)
		if lookErr != nil && !store.IsNotFound(lookErr) {
			opErr = lookErr
			return lookErr
		}
		version, live := resolveContainerVersion(lookErr, meta)

		segIdx := store.SegmentIndex(bitOffset)
		segBit := store.SegmentBitOffset(bitOffset)
		segLen := store.SegmentSize

		segment, gerr := readSegment(ctx, nsKey, version, meta, live, segIdx)
		if gerr != nil {
			opErr = gerr
			return gerr
		}
		newSeg, oldBit, isEmpty := store.SetBit(segment, segLen, segBit, bitVal)

		batch := store.NewBatch()
		if segIdx == 0 {
			byteLen := 0
			if !isEmpty {
				byteLen = len(newSeg)
			}
			expire := uint32(0)
			if live {
				expire = meta.Expire
			}
			batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
				Type: store.TypeBitmap, Expire: expire, Version: version, Size: uint64(byteLen), Value: newSeg,
			}))
		} else {
			subKey := store.MakeSubKey(nsKey, version, store.EncodeSegmentID(segIdx))
			if isEmpty {
				batch.Delete(store.CFDefault, subKey)
			} else {
				batch.Put(store.CFDefault, subKey, newSeg)
			}
			if !live {
				batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
					Type: store.TypeBitmap, Version: version, Size: 0,
				}))
			}
		}
		if err := ctx.Engine.Write(batch); err != nil {
			opErr = err
			return err
		}
		if oldBit {
			result = resp.Integer(1)
		} else {
			result = resp.Integer(0)
		}
		return nil
	})
	if err2 != nil {
		return nil, opErr
	}
	return result, nil
}

func cmdGetBit(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	bitOffset, err := strconv.ParseUint(string(args[1]), 10, 64)
	if err != nil {
		return nil, resp.Error("ERR bit offset is not an integer or out of range")
	}
	meta, nsKey, lookErr := lookupMetadata(ctx, conn, args[0], store.TypeBitmap)
	if store.IsNotFound(lookErr) {
		return resp.Integer(0), nil
	}
	if lookErr != nil {
		return nil, lookErr
	}
	segIdx := store.SegmentIndex(bitOffset)
	segBit := store.SegmentBitOffset(bitOffset)
	segment, gerr := readSegment(ctx, nsKey, meta.Version, meta, true, segIdx)
	if gerr != nil {
		return nil, gerr
	}
	if store.GetBit(segment, segBit) {
		return resp.Integer(1), nil
	}
	return resp.Integer(0), nil
}

// cmdBitCount only supports the whole-string form `BITCOUNT key`,
// scanning every segment the key currently has.
func cmdBitCount(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	meta, nsKey, err := lookupMetadata(ctx, conn, args[0], store.TypeBitmap)
	if store.IsNotFound(err) {
		return resp.Integer(0), nil
	}
	if err != nil {
		return nil, err
	}
	total := store.CountBits(meta.Value)

	start := store.MakeSubKey(nsKey, meta.Version, nil)
	limit := store.MakeSubKey(nsKey, meta.Version+1, nil)
	it := ctx.Engine.Iterator(nil, store.CFDefault, start, limit)
	defer it.Release()
	for it.Next() {
		total += store.CountBits(it.Value())
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return resp.Integer(total), nil
}
