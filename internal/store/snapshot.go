package store

import "github.com/syndtr/goleveldb/leveldb"

// Snapshot is a read-only view of the engine pinned to a specific
// sequence number, released on scope exit (spec §5). Command
// implementations obtain one at the start of a read command and release
// it via defer, guaranteeing release happens on every exit path including
// early returns on error.
type Snapshot struct {
	snap *leveldb.Snapshot
}

// NewSnapshot pins the engine's current state. Callers must call
// Release exactly once, typically via defer immediately after a
// successful call:
//
//	snap, err := engine.NewSnapshot()
//	if err != nil { return err }
//	defer snap.Release()
func (e *Engine) NewSnapshot() (*Snapshot, error) {
	e.mu.RLock()
	db := e.db
	e.mu.RUnlock()
	if db == nil {
		return nil, newErr(KindNotOK, "engine is closed")
	}
	snap, err := db.GetSnapshot()
	if err != nil {
		return nil, wrapErr(err)
	}
	return &Snapshot{snap: snap}, nil
}

// Release returns the snapshot's resources to the engine. Safe to call on
// a nil *Snapshot (no-op), so deferred release code doesn't need to guard
// against an early return before acquisition.
func (s *Snapshot) Release() {
	if s == nil || s.snap == nil {
		return
	}
	s.snap.Release()
}
