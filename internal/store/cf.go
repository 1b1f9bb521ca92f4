package store

// ColumnFamily identifies one of the fixed logical keyspaces this engine
// multiplexes onto a single goleveldb database. goleveldb has no native
// column-family concept (unlike the RocksDB this design is modeled on), so
// each column family is a one-byte prefix over the physical key. This buys
// something RocksDB's own column families don't give for free: a single
// leveldb.Batch spanning several "column families" commits atomically by
// construction, because it is, physically, one batch against one DB.
//
// The order below is part of the on-disk format and must never change —
// see cf_test.go for the golden-order check spec.md §6 requires.
type ColumnFamily byte

const (
	CFDefault ColumnFamily = iota
	CFMetadata
	CFZSetScore
	CFPubSub
	CFSlotMetadata
	CFSlot
	// NamedCFCount is the number of column families spec §6's inventory
	// names and that downstream code addresses by index. This boundary
	// must never move: everything from here on is engine-internal.
	NamedCFCount

	// CFReplLog is an internal-only 7th column family holding the
	// application-level replication log the WAL-streaming redesign uses
	// (see wal.go) in place of goleveldb's absent WAL-tailing API. It is
	// not part of the six-name inventory spec §6 requires downstream code
	// to address by index, and is never exposed to a client.
	CFReplLog
	cfCount
)

var cfNames = [cfCount]string{
	CFDefault:      "default",
	CFMetadata:     "metadata",
	CFZSetScore:    "zset_score",
	CFPubSub:       "pubsub",
	CFSlotMetadata: "slot_metadata",
	CFSlot:         "slot",
	CFReplLog:      "repl_log",
}

func (cf ColumnFamily) String() string {
	if cf < cfCount {
		return cfNames[cf]
	}
	return "unknown"
}

// prefixKey returns key physically stored for a logical (cf, key) pair.
// The prefix byte keeps every column family's keyspace disjoint and,
// because it always sorts before any subsequent byte a real key would use,
// preserves per-CF lexicographic ordering under goleveldb's default
// byte-wise comparator.
func prefixKey(cf ColumnFamily, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(cf)
	copy(out[1:], key)
	return out
}

// physicalCFBounds returns the [start, limit) physical byte range covering
// every key in cf. Unlike prefixKey, these are ready to hand directly to
// goleveldb's NewIterator/util.Range — they must not be passed through
// prefixKey again.
func physicalCFBounds(cf ColumnFamily) (start, limit []byte) {
	return []byte{byte(cf)}, []byte{byte(cf) + 1}
}
