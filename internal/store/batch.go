package store

// opKind distinguishes a batch entry's mutation type. Modeled as a small
// closed tag rather than an interface hierarchy, per the "tagged-union and
// fold" shape spec §4.9's Design Notes recommend for the slot extractor —
// applied here to the batch itself so both the extractor and the WAL
// streamer can fold over the same representation.
type opKind byte

const (
	opPut opKind = iota
	opDelete
	opDeleteRange
)

// Op is one mutation within a Batch: a put, a point delete, or a range
// delete, always addressed to a single column family.
type Op struct {
	Kind  opKind
	CF    ColumnFamily
	Key   []byte
	Value []byte // unused for opDelete/opDeleteRange
	Limit []byte // only used for opDeleteRange (exclusive upper bound)
}

// Batch is an ordered list of column-family-scoped mutations that must
// commit atomically (spec invariant 2). Batches are built up by command
// implementations and handed to Engine.Write as a single unit; the slot
// indexer (§4.6) folds additional Ops into the same Batch before it is
// applied, so the reverse index and the user-visible state always land
// together or not at all.
type Batch struct {
	ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Put appends a put mutation.
func (b *Batch) Put(cf ColumnFamily, key, value []byte) *Batch {
	b.ops = append(b.ops, Op{Kind: opPut, CF: cf, Key: key, Value: value})
	return b
}

// Delete appends a point delete mutation.
func (b *Batch) Delete(cf ColumnFamily, key []byte) *Batch {
	b.ops = append(b.ops, Op{Kind: opDelete, CF: cf, Key: key})
	return b
}

// DeleteRange appends a [start, limit) range delete mutation.
func (b *Batch) DeleteRange(cf ColumnFamily, start, limit []byte) *Batch {
	b.ops = append(b.ops, Op{Kind: opDeleteRange, CF: cf, Key: start, Limit: limit})
	return b
}

// Len reports the number of mutations queued.
func (b *Batch) Len() int { return len(b.ops) }

// Ops exposes the underlying mutation list for read-only folds (the slot
// extractor, the WAL encoder). Callers must not retain or mutate the
// returned slice past the batch's lifetime.
func (b *Batch) Ops() []Op { return b.ops }
