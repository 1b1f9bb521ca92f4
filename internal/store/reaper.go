package store

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/rod6/log6"
)

// ReaperConfig tunes the background reaper's pass interval and batch size.
type ReaperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultReaperConfig mirrors the interval the original compaction filter
// ran at implicitly (once per compaction), approximated here as a fixed
// wall-clock tick since this engine has no compaction-filter hook to key
// off of.
var DefaultReaperConfig = ReaperConfig{
	Interval:  time.Minute,
	BatchSize: 1000,
}

// reapCache remembers the last namespaced key this reaper looked at and
// whether it was found live, so a run of subkeys/score-entries belonging
// to the same logical key doesn't repeat the metadata lookup for each one
// — the same optimization original_source/src/compact_filter.cc's
// SubKeyFilter applies via its cached_key_/cached_metadata_ fields, since
// subkeys of one key are always adjacent under the shared ns_key prefix.
type reapCache struct {
	nsKey []byte
	meta  *Metadata // nil means "confirmed gone"
	valid bool
}

func (c *reapCache) lookup(e *Engine, nsKey []byte) (*Metadata, error) {
	if c.valid && string(c.nsKey) == string(nsKey) {
		return c.meta, nil
	}
	raw, err := e.Get(nil, CFMetadata, nsKey)
	if IsNotFound(err) {
		c.nsKey, c.meta, c.valid = append([]byte(nil), nsKey...), nil, true
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	meta, err := DecodeMetadata(raw)
	if err != nil {
		return nil, err
	}
	c.nsKey, c.meta, c.valid = append([]byte(nil), nsKey...), meta, true
	return meta, nil
}

// Reaper periodically walks the metadata, score, and pub-sub column
// families and drops anything a live compaction filter would have
// dropped inline, standing in for the compaction-filter hook goleveldb
// doesn't expose (spec §4.3's ExpiredMetadataFilter/SubKeyFilter
// contract; SPEC_FULL.md §4.3 redesign note).
type Reaper struct {
	e   *Engine
	cfg ReaperConfig
}

// NewReaper builds a reaper bound to e. Run must be started separately so
// callers can control its lifetime with a context.
func NewReaper(e *Engine, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReaperConfig.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReaperConfig.BatchSize
	}
	return &Reaper{e: e, cfg: cfg}
}

// Run loops until ctx is cancelled, sweeping once per tick.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.sweepOnce(); err != nil {
				log6.Warn("reaper: sweep failed: %v", err)
			}
		}
	}
}

// sweepOnce runs the four passes spec §4.3's compaction filters describe —
// metadata, subkeys, scores, pub-sub — plus the slot reverse index spec
// §4.6 adds, each releasing its engine ref before the next begins so a
// long sweep never holds Close back indefinitely.
func (r *Reaper) sweepOnce() error {
	if err := r.sweepMetadata(); err != nil {
		return err
	}
	if err := r.sweepSubkeys(); err != nil {
		return err
	}
	if err := r.sweepScores(); err != nil {
		return err
	}
	if err := r.sweepSlots(); err != nil {
		return err
	}
	return r.sweepPubSub()
}

// sweepMetadata drops expired top-level metadata records, mirroring
// ExpiredMetadataFilter::Filter in the original compaction filter: a
// record whose Expired(now) is true is deleted outright, string and
// bitmap values included since those live inline in the metadata record
// itself (spec §4.1's inline-value optimization).
func (r *Reaper) sweepMetadata() error {
	release, err := r.e.IncrRefs()
	if err != nil {
		return err
	}
	defer release()

	now := time.Now()
	it := r.e.CFIterator(nil, CFMetadata)
	defer it.Release()

	batch := NewBatch()
	dropped := 0
	for it.Next() {
		raw := it.Value()
		meta, err := DecodeMetadata(raw)
		if err != nil {
			continue // leave unparseable records for a human, don't wedge the sweep
		}
		if !meta.Expired(now) {
			continue
		}
		nsKey := append([]byte(nil), it.Key()[1:]...) // strip the CF prefix byte
		batch.Delete(CFMetadata, nsKey)
		dropped++
		if batch.Len() >= r.cfg.BatchSize {
			if err := r.e.Write(batch); err != nil {
				return err
			}
			batch = NewBatch()
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	if batch.Len() > 0 {
		if err := r.e.Write(batch); err != nil {
			return err
		}
	}
	if dropped > 0 {
		log6.Info("reaper: dropped %d expired metadata records", dropped)
	}
	return nil
}

// sweepSubkeys drops CFDefault entries whose owning key is gone or has
// moved past the version the entry was written under, mirroring
// SubKeyFilter::IsKeyExpired the same way sweepScores does for the score
// index. CFDefault holds hash fields, set members, list elements, bitmap
// segments, and a zset's member-to-score cache entries, so unlike
// sweepScores this doesn't check against one specific type: any live
// container or bitmap whose version matches keeps the entry.
func (r *Reaper) sweepSubkeys() error {
	release, err := r.e.IncrRefs()
	if err != nil {
		return err
	}
	defer release()

	it := r.e.CFIterator(nil, CFDefault)
	defer it.Release()

	var cache reapCache
	batch := NewBatch()
	dropped := 0
	for it.Next() {
		physKey := it.Key()
		key := append([]byte(nil), physKey[1:]...)
		nsKey, version, _, err := ParseSubKey(key)
		if err != nil {
			continue
		}
		meta, err := cache.lookup(r.e, nsKey)
		if err != nil {
			return err
		}
		if meta == nil || !(meta.Type.IsContainer() || meta.Type == TypeBitmap) || meta.Version != version {
			batch.Delete(CFDefault, key)
			dropped++
		}
		if batch.Len() >= r.cfg.BatchSize {
			if err := r.e.Write(batch); err != nil {
				return err
			}
			batch = NewBatch()
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	if batch.Len() > 0 {
		if err := r.e.Write(batch); err != nil {
			return err
		}
	}
	if dropped > 0 {
		log6.Info("reaper: dropped %d orphaned subkey entries", dropped)
	}
	return nil
}

// sweepScores drops CFZSetScore entries whose owning key is gone or has
// moved past the version the entry was written under, the same check
// SubKeyFilter::IsKeyExpired performs (parse the owning ns_key out of the
// subkey, look its metadata up — via cache when adjacent — and compare
// versions), applied here to the score index specifically since it's the
// column family most prone to orphaned entries after a ZSet-wide delete.
func (r *Reaper) sweepScores() error {
	release, err := r.e.IncrRefs()
	if err != nil {
		return err
	}
	defer release()

	it := r.e.CFIterator(nil, CFZSetScore)
	defer it.Release()

	var cache reapCache
	batch := NewBatch()
	dropped := 0
	for it.Next() {
		physKey := it.Key()
		key := append([]byte(nil), physKey[1:]...)
		nsKey, version, _, _, err := ParseScoreKey(key)
		if err != nil {
			continue
		}
		meta, err := cache.lookup(r.e, nsKey)
		if err != nil {
			return err
		}
		if meta == nil || meta.Type != TypeZSetScored || meta.Version != version {
			batch.Delete(CFZSetScore, key)
			dropped++
		}
		if batch.Len() >= r.cfg.BatchSize {
			if err := r.e.Write(batch); err != nil {
				return err
			}
			batch = NewBatch()
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	if batch.Len() > 0 {
		if err := r.e.Write(batch); err != nil {
			return err
		}
	}
	if dropped > 0 {
		log6.Info("reaper: dropped %d orphaned score entries", dropped)
	}
	return nil
}

// sweepSlots drops CFSlot reverse-index entries whose backing key no
// longer has live metadata, decrementing the slot's CFSlotMetadata
// counter for each entry dropped so the per-slot count foldSlotIndex
// maintains stays accurate (spec §4.6). extractTouchedKeys folds every
// namespace's writes into a single user-key-keyed index (the slot index
// is meant to reflect the raw keyspace a sharded proxy sees, not a
// per-connection auth namespace), so liveness here is judged the same
// way: against the default namespace's metadata record for that key.
func (r *Reaper) sweepSlots() error {
	release, err := r.e.IncrRefs()
	if err != nil {
		return err
	}
	defer release()

	it := r.e.CFIterator(nil, CFSlot)
	defer it.Release()

	var cache reapCache
	batch := NewBatch()
	decr := map[uint16]int64{}
	dropped := 0
	for it.Next() {
		physKey := it.Key()
		key := append([]byte(nil), physKey[1:]...)
		if len(key) < 2 {
			continue
		}
		slot := binary.BigEndian.Uint16(key[:2])
		userKey := key[2:]
		meta, err := cache.lookup(r.e, MakeNsKey(nil, userKey))
		if err != nil {
			return err
		}
		if meta != nil {
			continue
		}
		batch.Delete(CFSlot, key)
		decr[slot]++
		dropped++
		if batch.Len() >= r.cfg.BatchSize {
			if err := r.flushSlotDecrements(batch, decr); err != nil {
				return err
			}
			batch = NewBatch()
			decr = map[uint16]int64{}
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	if batch.Len() > 0 || len(decr) > 0 {
		if err := r.flushSlotDecrements(batch, decr); err != nil {
			return err
		}
	}
	if dropped > 0 {
		log6.Info("reaper: dropped %d orphaned slot index entries", dropped)
	}
	return nil
}

// flushSlotDecrements writes batch and folds decr's per-slot counts into
// CFSlotMetadata's counters in the same write, clamped at zero.
func (r *Reaper) flushSlotDecrements(batch *Batch, decr map[uint16]int64) error {
	for slot, d := range decr {
		cur, err := r.e.Get(nil, CFSlotMetadata, slotCounterKey(slot))
		if err != nil && !IsNotFound(err) {
			return err
		}
		var count int64
		if len(cur) == 8 {
			count = int64(binary.BigEndian.Uint64(cur))
		}
		count -= d
		if count < 0 {
			count = 0
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, uint64(count))
		batch.Put(CFSlotMetadata, slotCounterKey(slot), out)
	}
	return r.e.Write(batch)
}

// sweepPubSub drops pub-sub channel records past their staleness window —
// this column family holds ephemeral subscriber bookkeeping, not
// versioned subkeys, so there is no owning metadata record to consult;
// staleness is judged purely by the record's own recorded timestamp.
func (r *Reaper) sweepPubSub() error {
	release, err := r.e.IncrRefs()
	if err != nil {
		return err
	}
	defer release()

	const staleAfter = 10 * time.Minute
	cutoff := uint32(time.Now().Add(-staleAfter).Unix())

	it := r.e.CFIterator(nil, CFPubSub)
	defer it.Release()

	batch := NewBatch()
	dropped := 0
	for it.Next() {
		val := it.Value()
		if len(val) < 4 {
			continue
		}
		lastSeen := beUint32(val)
		if lastSeen >= cutoff {
			continue
		}
		key := append([]byte(nil), it.Key()[1:]...)
		batch.Delete(CFPubSub, key)
		dropped++
		if batch.Len() >= r.cfg.BatchSize {
			if err := r.e.Write(batch); err != nil {
				return err
			}
			batch = NewBatch()
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	if batch.Len() > 0 {
		if err := r.e.Write(batch); err != nil {
			return err
		}
	}
	if dropped > 0 {
		log6.Info("reaper: dropped %d stale pubsub records", dropped)
	}
	return nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
