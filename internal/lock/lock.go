// Package lock provides key-striped mutual exclusion for command
// handlers that must read-modify-write a key across more than one engine
// call (e.g. HSET, SETBIT, ZADD's score-index maintenance) — the
// underlying storage engine only guarantees atomicity within a single
// batch, so anything spanning two Engine calls needs an explicit lock at
// this layer, the same role _examples/aalhour-rockyardkv's LockManager
// plays for its transactions. This package keeps the striping idea —
// hash the key down to a small fixed table of mutexes — without the
// transaction/deadlock-detection machinery a single-statement command
// pipeline has no use for.
package lock

import (
	"sync"

	"github.com/zeebo/xxh3"
)

// NumStripes is the number of independent mutexes keys are hashed across.
// A small power of two keeps false-sharing contention low without paying
// for a mutex per key.
const NumStripes = 16

// Manager stripes keys across NumStripes mutexes by hash.
type Manager struct {
	stripes [NumStripes]sync.Mutex
}

// New returns a ready Manager.
func New() *Manager {
	return &Manager{}
}

func (m *Manager) stripe(key []byte) *sync.Mutex {
	h := xxh3.Hash(key)
	return &m.stripes[h%NumStripes]
}

// Lock acquires the stripe guarding key.
func (m *Manager) Lock(key []byte) {
	m.stripe(key).Lock()
}

// Unlock releases the stripe guarding key.
func (m *Manager) Unlock(key []byte) {
	m.stripe(key).Unlock()
}

// WithLock runs fn while holding key's stripe.
func (m *Manager) WithLock(key []byte, fn func() error) error {
	s := m.stripe(key)
	s.Lock()
	defer s.Unlock()
	return fn()
}

// MultiLock acquires every distinct stripe touched by keys, in a stable
// order (the stripe index itself), so two callers locking overlapping
// key sets can never deadlock against each other.
func (m *Manager) MultiLock(keys [][]byte) func() {
	var idxs []int
	seen := [NumStripes]bool{}
	for _, k := range keys {
		i := int(xxh3.Hash(k) % NumStripes)
		if !seen[i] {
			seen[i] = true
			idxs = append(idxs, i)
		}
	}
	for i := 0; i < len(idxs); i++ {
		for j := i + 1; j < len(idxs); j++ {
			if idxs[j] < idxs[i] {
				idxs[i], idxs[j] = idxs[j], idxs[i]
			}
		}
	}
	for _, i := range idxs {
		m.stripes[i].Lock()
	}
	return func() {
		for _, i := range idxs {
			m.stripes[i].Unlock()
		}
	}
}
