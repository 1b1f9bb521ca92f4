package command

import (
	"math"
	"time"

	"github.com/nodisdb/nodis/internal/store"
)

// nsKeyFor composes the physical ns_key for a client key under conn's
// namespace (spec §4.1).
func nsKeyFor(conn *Conn, key []byte) []byte {
	return store.MakeNsKey(conn.Namespace, key)
}

// lookupMetadata reads and decodes a key's metadata record, applying the
// lazy TTL check spec §4.2 describes: an expired record reads as
// store.ErrNotFound. Unlike a truly absent key, an expired one still
// returns its decoded Metadata alongside that error — callers must not
// treat it as live data, but need its Version to recreate the key at
// previous_version + 1 rather than resetting to 1 and colliding with
// subkeys the reaper hasn't reclaimed yet (spec §4.2, §8 invariant 3).
// wantType, when not store.TypeNone, additionally enforces the
// type-safety invariant and returns WrongType on mismatch.
func lookupMetadata(ctx *Context, conn *Conn, key []byte, wantType store.DataType) (*store.Metadata, []byte, error) {
	nsKey := nsKeyFor(conn, key)
	raw, err := ctx.Engine.Get(nil, store.CFMetadata, nsKey)
	if err != nil {
		return nil, nsKey, err
	}
	meta, err := store.DecodeMetadata(raw)
	if err != nil {
		return nil, nsKey, err
	}
	if meta.Expired(ctx.now()) {
		return meta, nsKey, store.ErrNotFound
	}
	if wantType != store.TypeNone && meta.Type != wantType {
		return nil, nsKey, &store.Error{Kind: store.KindWrongType}
	}
	return meta, nsKey, nil
}

// resolveContainerVersion decides the version a container write should
// target from lookupMetadata's result: the live record's own version
// when one exists, otherwise one past whatever version a now-expired or
// never-existing record left behind. live reports whether meta reflects
// the record actually backing the key right now; when live is false,
// meta may still be non-nil (an expired record kept only for its
// version) and callers must not read its Value/Size as current data.
func resolveContainerVersion(err error, meta *store.Metadata) (version uint64, live bool) {
	if err == nil {
		return meta.Version, true
	}
	if meta != nil {
		return meta.Version + 1, false
	}
	return 1, false
}

// upsertContainerMetadata writes (or rewrites) a container key's
// metadata record at version, either updating an existing same-type live
// record in place or creating a fresh one. existing/live come from
// resolveContainerVersion: existing is only dereferenced when live is
// true, so a stale (expired) existing pointer carried purely for its
// version is safe to pass through.
func upsertContainerMetadata(batch *store.Batch, nsKey []byte, existing *store.Metadata, live bool, version uint64, typ store.DataType, expire uint32, sizeDelta int64) {
	if live && existing.Type == typ {
		size := int64(existing.Size) + sizeDelta
		if size < 0 {
			size = 0
		}
		batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
			Type: typ, Flags: existing.Flags, Expire: existing.Expire, Version: version, Size: uint64(size),
		}))
		return
	}
	size := sizeDelta
	if size < 0 {
		size = 0
	}
	batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
		Type: typ, Expire: expire, Version: version, Size: uint64(size),
	}))
}

// setContainerSize rewrites the size field of an existing metadata
// record in place, used after operations that don't change its type or
// version (e.g. HDEL shrinking a hash).
func setContainerSize(batch *store.Batch, nsKey []byte, meta *store.Metadata, newSize uint64) {
	batch.Put(store.CFMetadata, nsKey, store.EncodeMetadata(&store.Metadata{
		Type: meta.Type, Flags: meta.Flags, Expire: meta.Expire, Version: meta.Version, Size: newSize,
	}))
}

// deleteKey removes a key's metadata record and, for container types,
// the range of subkeys (or score entries) its current version owns, in the
// caller's batch. DEL, SET over an existing container, and ZREM emptying a
// sorted set go through it; the other handlers that empty a container
// delete its metadata record themselves.
func deleteKey(ctx *Context, batch *store.Batch, nsKey []byte, meta *store.Metadata) {
	batch.Delete(store.CFMetadata, nsKey)
	if !meta.Type.IsContainer() {
		return
	}
	subStart := store.MakeSubKey(nsKey, meta.Version, nil)
	subLimit := store.MakeSubKey(nsKey, meta.Version+1, nil)
	if meta.Type == store.TypeZSetScored {
		scoreStart := store.MakeScoreKey(nsKey, meta.Version, negInf, nil)
		scoreLimit := store.MakeScoreKey(nsKey, meta.Version+1, negInf, nil)
		batch.DeleteRange(store.CFZSetScore, scoreStart, scoreLimit)
	}
	batch.DeleteRange(store.CFDefault, subStart, subLimit)
}

var negInf = math.Inf(-1)

// exists reports whether a live (non-expired, correctly-typed) value is
// present, without distinguishing "absent" from "wrong type" — callers
// that need the distinction should use lookupMetadata directly.
func exists(ctx *Context, conn *Conn, key []byte) bool {
	_, _, err := lookupMetadata(ctx, conn, key, store.TypeNone)
	return err == nil
}

// ttlToExpire converts a relative TTL into an absolute unix-seconds
// deadline, or 0 for "no expiry".
func ttlToExpire(now time.Time, ttl time.Duration) uint32 {
	if ttl <= 0 {
		return 0
	}
	return uint32(now.Add(ttl).Unix())
}
