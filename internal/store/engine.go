package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rod6/log6"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Options bundles the LSM tunables spec §6 enumerates. Zero values pick
// goleveldb's own defaults where that makes sense.
type Options struct {
	Dir string

	// MaxDBSize is the soft cap on total on-disk size in GiB; 0 means
	// unlimited (spec §6).
	MaxDBSize int64
	// MaxIOMB is the write throughput cap in MiB/s; 0 uses a ~1 TiB/s
	// built-in cap (spec §6).
	MaxIOMB int64

	WriteBufferSize int // bytes
	MaxOpenFiles    int
	Compression     opt.Compression
	BlockCacheSize  int // bytes, shared across all column families

	// ReadOnly opens the underlying engine without accepting writes,
	// used by the WAL-streamer's backup-directory reopen (spec §4.5).
	ReadOnly bool

	// CodisEnabled turns on the slot index (spec §4.6).
	CodisEnabled bool
}

// Engine owns the LSM handle, the fixed column-family prefix table, a
// rate limiter, a backup directory, a db_closing flag, and a db_refs
// counter — the storage engine wrapper of spec §4.4. It is the single
// point every command implementation, the reaper, and the WAL streamer
// go through to touch disk.
type Engine struct {
	opts Options

	mu sync.RWMutex // guards the db handle; closing is atomic
	db *leveldb.DB

	rate *RateLimiter

	closing atomic.Bool
	refs    atomic.Int64

	overLimit atomic.Bool

	replSeq atomic.Uint64

	backupDir string
}

// Open creates missing state on first open and returns a ready Engine.
// Failure to open the underlying LSM returns a DBOpenErr and leaks no
// handles — goleveldb itself either returns a *DB or an error, never
// both, so there is nothing to clean up on the failure path.
func Open(o Options) (*Engine, error) {
	ldbOpts := &opt.Options{
		WriteBuffer:            o.WriteBufferSize,
		OpenFilesCacheCapacity: o.MaxOpenFiles,
		Compression:            o.Compression,
		BlockCacheCapacity:     o.BlockCacheSize,
		ReadOnly:               o.ReadOnly,
	}

	db, err := leveldb.OpenFile(o.Dir, ldbOpts)
	if err != nil {
		return nil, newErr(KindDBOpenErr, "open %s: %v", o.Dir, err)
	}

	maxIOBytes := o.MaxIOMB * 1 << 20
	if maxIOBytes <= 0 {
		maxIOBytes = 1 << 40 // ~1 TiB/s built-in cap, per spec §6
	}

	e := &Engine{
		opts:      o,
		db:        db,
		rate:      NewRateLimiter(maxIOBytes, nil),
		backupDir: o.Dir + ".backup",
	}
	log6.Info("store: opened %s (read_only=%v)", o.Dir, o.ReadOnly)
	return e, nil
}

// IncrRefs takes a reference on the engine for a subsystem — notably the
// reaper and the WAL streamer — that reads the DB outside a normal client
// command. It fails with NotOK once Close has begun, guaranteeing the
// paired Release below never touches a handle that's mid-teardown.
func (e *Engine) IncrRefs() (release func(), err error) {
	if e.closing.Load() {
		return nil, newErr(KindNotOK, "engine is closing")
	}
	e.refs.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { e.refs.Add(-1) })
	}, nil
}

// Close flushes, stops accepting new refs, waits for outstanding refs to
// drain, and destroys the handle. This is the spin-and-drain shutdown
// protocol of spec §4.4/§5: no filter or streamer can be mid-read when
// the handle is freed, because Close doesn't proceed until db_refs==0.
func (e *Engine) Close() error {
	e.closing.Store(true)
	for e.refs.Load() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	log6.Info("store: closed %s", e.opts.Dir)
	return err
}

// Write applies batch atomically. When the size gate has tripped, writes
// are rejected with SpaceLimit until a later tick clears it (spec §4.4:
// the gate is not consulted per-operation, only set/cleared by the tick —
// callers still observe it here because Write reads the cached flag, not
// because Write itself measures anything).
func (e *Engine) Write(batch *Batch) error {
	if e.overLimit.Load() {
		return newErr(KindSpaceLimit, "reach space limit")
	}

	if e.opts.CodisEnabled {
		if err := e.foldSlotIndex(batch); err != nil {
			return err
		}
	}

	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()
	if db == nil {
		return newErr(KindNotOK, "engine is closed")
	}

	lb := new(leveldb.Batch)
	size := 0
	for _, op := range batch.Ops() {
		switch op.Kind {
		case opPut:
			lb.Put(prefixKey(op.CF, op.Key), op.Value)
			size += len(op.Key) + len(op.Value)
		case opDelete:
			lb.Delete(prefixKey(op.CF, op.Key))
			size += len(op.Key)
		case opDeleteRange:
			if err := e.foldDeleteRange(lb, op.CF, op.Key, op.Limit); err != nil {
				return err
			}
		}
	}

	if wait := e.rate.Allow(size); wait > 0 {
		time.Sleep(wait)
	}

	seq := e.replSeq.Add(1)
	appendReplicationEntry(lb, seq, batch)

	if err := db.Write(lb, nil); err != nil {
		return wrapErr(err)
	}
	return nil
}

// foldDeleteRange expands a [start, limit) range delete into individual
// point deletes within lb. goleveldb, unlike RocksDB, has no native range
// tombstone; this is the direct translation and is bounded by the number
// of live keys in the range, which for the subkey/score/pubsub/slot CFs
// this engine uses it for is exactly the set of records being logically
// dropped anyway.
func (e *Engine) foldDeleteRange(lb *leveldb.Batch, cf ColumnFamily, start, limit []byte) error {
	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()
	if db == nil {
		return newErr(KindNotOK, "engine is closed")
	}
	r := &util.Range{Start: prefixKey(cf, start), Limit: prefixKey(cf, limit)}
	it := db.NewIterator(r, nil)
	defer it.Release()
	for it.Next() {
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		lb.Delete(k)
	}
	return wrapErr(it.Error())
}

// Get reads a single key from cf under snap, or from the live DB if snap
// is nil.
func (e *Engine) Get(snap *Snapshot, cf ColumnFamily, key []byte) ([]byte, error) {
	pk := prefixKey(cf, key)
	if snap != nil {
		v, err := snap.snap.Get(pk, nil)
		return v, wrapErr(err)
	}
	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()
	if db == nil {
		return nil, newErr(KindNotOK, "engine is closed")
	}
	v, err := db.Get(pk, nil)
	return v, wrapErr(err)
}

// Iterator returns an iterator over every physical key in [start, limit)
// of cf, under snap if provided.
func (e *Engine) Iterator(snap *Snapshot, cf ColumnFamily, start, limit []byte) iteratorLike {
	r := &util.Range{Start: prefixKey(cf, start), Limit: prefixKey(cf, limit)}
	if snap != nil {
		return snap.snap.NewIterator(r, nil)
	}
	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()
	return db.NewIterator(r, nil)
}

// CFIterator returns an iterator over the whole of cf.
func (e *Engine) CFIterator(snap *Snapshot, cf ColumnFamily) iteratorLike {
	start, limit := physicalCFBounds(cf)
	r := &util.Range{Start: start, Limit: limit}
	if snap != nil {
		return snap.snap.NewIterator(r, nil)
	}
	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()
	return db.NewIterator(r, nil)
}

// DeleteWholeCF removes every key in cf as a single atomic batch, used by
// flushdb-style operations (spec §4.6).
func (e *Engine) DeleteWholeCF(cf ColumnFamily) error {
	start, limit := physicalCFBounds(cf)
	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()
	if db == nil {
		return newErr(KindNotOK, "engine is closed")
	}
	it := db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer it.Release()
	lb := new(leveldb.Batch)
	for it.Next() {
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		lb.Delete(k)
	}
	if err := it.Error(); err != nil {
		return wrapErr(err)
	}
	if lb.Len() == 0 {
		return nil
	}
	return wrapErr(db.Write(lb, nil))
}

type iteratorLike interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Release()
}

// LatestSeq returns the sequence number of the most recently committed
// batch, used both by GetWALIter and by backup manifests.
func (e *Engine) LatestSeq() uint64 {
	return e.replSeq.Load()
}

// GetTotalSize approximates the on-disk footprint of the whole keyspace,
// used by the size gate.
func (e *Engine) GetTotalSize() (uint64, error) {
	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()
	if db == nil {
		return 0, newErr(KindNotOK, "engine is closed")
	}
	sizes, err := db.SizeOf([]util.Range{{Start: nil, Limit: nil}})
	if err != nil {
		return 0, wrapErr(err)
	}
	return uint64(sizes.Sum()), nil
}

// CheckDBSizeLimit is invoked by a periodic ticker (never on the hot write
// path, per spec §4.4) to flip the over-limit flag that Write consults.
func (e *Engine) CheckDBSizeLimit() {
	if e.opts.MaxDBSize <= 0 {
		return
	}
	total, err := e.GetTotalSize()
	if err != nil {
		log6.Warn("store: size check failed: %v", err)
		return
	}
	limit := uint64(e.opts.MaxDBSize) << 30
	over := total > limit
	if over != e.overLimit.Load() {
		e.overLimit.Store(over)
		if over {
			log6.Warn("store: total size %d exceeds max_db_size %d, writes will fail", total, limit)
		} else {
			log6.Info("store: total size %d back under max_db_size %d, writes re-enabled", total, limit)
		}
	}
}

// Compact runs LSM compaction over [begin, end) of the given column
// family; nil/nil compacts the whole family.
func (e *Engine) Compact(cf ColumnFamily, begin, end []byte) error {
	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()
	if db == nil {
		return newErr(KindNotOK, "engine is closed")
	}
	var r util.Range
	if begin == nil && end == nil {
		s, l := physicalCFBounds(cf)
		r = util.Range{Start: s, Limit: l}
	} else {
		r = util.Range{Start: prefixKey(cf, begin), Limit: prefixKey(cf, end)}
	}
	return wrapErr(db.CompactRange(r))
}

// SetRateLimit hot-swaps the write-throughput cap (spec §9's atomic-slot
// treatment of hot-reloadable config).
func (e *Engine) SetRateLimit(bytesPerSec int64) {
	e.rate.SetBytesPerSec(bytesPerSec)
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if err == leveldb.ErrNotFound || err == errors.ErrNotFound {
		return ErrNotFound
	}
	return newErr(KindNotOK, "%v", err)
}
