package store

import (
	"encoding/binary"

	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb"
)

// appendReplicationEntry folds a snappy-compressed encoding of batch into
// lb under CFReplLog, keyed by seq. goleveldb exposes no WAL-tailing API
// (RocksDB's GetUpdatesSince has no equivalent here), so replicas instead
// tail this application-level log: every batch that reaches Write is also
// recorded here, in the same physical leveldb.Batch, so the log and the
// user-visible state can never diverge (spec §4.5's "the follower applies
// each batch through the normal write path so the slot index stays
// consistent" holds precisely because this entry travels with the batch
// it describes). Compressing with snappy reuses the codec goleveldb
// already links in for its own block compression, rather than adding a
// second compression dependency for one wire format.
func appendReplicationEntry(lb *leveldb.Batch, seq uint64, batch *Batch) {
	raw := encodeBatch(batch)
	compressed := snappy.Encode(nil, raw)
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	lb.Put(prefixKey(CFReplLog, key), compressed)
}

// encodeBatch renders batch as a flat byte stream: a varint op count,
// then per-op (kind, cf, key-len, key, value-len, value). Only used for
// the replication log, never for the primary on-disk record — decoding
// errors here indicate WAL corruption, not client-facing data corruption.
func encodeBatch(batch *Batch) []byte {
	buf := make([]byte, 0, 64*batch.Len())
	var tmp [binary.MaxVarintLen64]byte

	putUvarint := func(v uint64) {
		n := binary.PutUvarint(tmp[:], v)
		buf = append(buf, tmp[:n]...)
	}
	putBytes := func(b []byte) {
		putUvarint(uint64(len(b)))
		buf = append(buf, b...)
	}

	putUvarint(uint64(batch.Len()))
	for _, op := range batch.Ops() {
		buf = append(buf, byte(op.Kind), byte(op.CF))
		putBytes(op.Key)
		switch op.Kind {
		case opPut:
			putBytes(op.Value)
		case opDeleteRange:
			putBytes(op.Limit)
		}
	}
	return buf
}

// decodeBatch is the inverse of encodeBatch, used by followers applying a
// streamed WAL entry.
func decodeBatch(raw []byte) (*Batch, error) {
	b := NewBatch()
	pos := 0
	readUvarint := func() (uint64, error) {
		v, n := binary.Uvarint(raw[pos:])
		if n <= 0 {
			return 0, newErr(KindCorruption, "wal entry: bad varint")
		}
		pos += n
		return v, nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readUvarint()
		if err != nil {
			return nil, err
		}
		if pos+int(n) > len(raw) {
			return nil, newErr(KindCorruption, "wal entry: truncated")
		}
		out := raw[pos : pos+int(n)]
		pos += int(n)
		return out, nil
	}

	count, err := readUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		if pos+2 > len(raw) {
			return nil, newErr(KindCorruption, "wal entry: truncated header")
		}
		kind := opKind(raw[pos])
		cf := ColumnFamily(raw[pos+1])
		pos += 2
		key, err := readBytes()
		if err != nil {
			return nil, err
		}
		switch kind {
		case opPut:
			val, err := readBytes()
			if err != nil {
				return nil, err
			}
			b.Put(cf, key, val)
		case opDelete:
			b.Delete(cf, key)
		case opDeleteRange:
			limit, err := readBytes()
			if err != nil {
				return nil, err
			}
			b.DeleteRange(cf, key, limit)
		}
	}
	return b, nil
}

// WALEntry is one replication-log record, decoded and ready to be
// re-applied via Engine.Write.
type WALEntry struct {
	Seq   uint64
	Batch *Batch
}

// GetWALIter returns every replication-log entry with sequence number
// greater than seq, in ascending order. Used by replicas to catch up
// after a restore, per spec §4.5.
func (e *Engine) GetWALIter(seq uint64) ([]WALEntry, error) {
	release, err := e.IncrRefs()
	if err != nil {
		return nil, newErr(KindDBGetWALErr, "%v", err)
	}
	defer release()

	start := make([]byte, 8)
	binary.BigEndian.PutUint64(start, seq+1)
	limit := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

	it := e.Iterator(nil, CFReplLog, start, limit)
	defer it.Release()

	var entries []WALEntry
	for it.Next() {
		key := it.Key()
		// key is prefixed with the CF byte; strip it before parsing seq.
		s := binary.BigEndian.Uint64(key[1:])
		raw, err := snappy.Decode(nil, it.Value())
		if err != nil {
			return nil, newErr(KindDBGetWALErr, "decompress entry %d: %v", s, err)
		}
		b, err := decodeBatch(raw)
		if err != nil {
			return nil, newErr(KindDBGetWALErr, "decode entry %d: %v", s, err)
		}
		entries = append(entries, WALEntry{Seq: s, Batch: b})
	}
	if err := it.Error(); err != nil {
		return nil, newErr(KindDBGetWALErr, "%v", err)
	}
	return entries, nil
}

// ApplyWALEntry re-applies a replicated batch through the normal write
// path, which keeps the slot index consistent on the follower exactly as
// it would be had the write happened locally (spec §4.5).
func (e *Engine) ApplyWALEntry(entry WALEntry) error {
	return e.Write(entry.Batch)
}
