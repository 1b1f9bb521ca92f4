package stats

import (
	"sync"

	"github.com/caio/go-tdigest/v4"
)

// PerfContext and IOStatsContext are opaque counter snapshots the LSM
// wrapper fills in when a call was sampled for profiling (spec §4.8 step
// 8-10). The dispatcher treats these as pass-through blobs; only the
// admin surface interprets their keys.
type PerfContext map[string]int64
type IOStatsContext map[string]int64

// PerfLogEntry is one profiled call's recorded dump.
type PerfLogEntry struct {
	Cmd            string
	DurationUs     int64
	PerfContext    PerfContext
	IOStatsContext IOStatsContext
}

// PerfLog is the bounded ring spec §4.8/§9 describes, plus a running
// t-digest of sampled durations from which Quantile answers "what's my
// p99 among profiled calls" without retaining every sample (no admin
// command calls Quantile) — the same
// job _examples/iDanielLaw-nexusbase uses go-tdigest for over its own
// per-field latency distributions.
type PerfLog struct {
	mu       sync.Mutex
	entries  []PerfLogEntry
	capacity int
	next     int
	full     bool
	digest   *tdigest.TDigest
}

// NewPerfLog returns a ring holding up to capacity profiled-call dumps.
func NewPerfLog(capacity int) *PerfLog {
	if capacity <= 0 {
		capacity = 128
	}
	d, _ := tdigest.New()
	return &PerfLog{entries: make([]PerfLogEntry, capacity), capacity: capacity, digest: d}
}

// Push records one profiled call's dump (spec §4.8 step 10: "push the
// perf/iostats dump to a bounded ring").
func (l *PerfLog) Push(e PerfLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	l.digest.Add(float64(e.DurationUs))
}

// Recent returns every entry currently held, oldest first.
func (l *PerfLog) Recent() []PerfLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]PerfLogEntry, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]PerfLogEntry, l.capacity)
	copy(out, l.entries[l.next:])
	copy(out[l.capacity-l.next:], l.entries[:l.next])
	return out
}

// Quantile returns the approximate q-quantile (0..1) of every duration
// ever pushed, independent of the ring's own retention window.
func (l *PerfLog) Quantile(q float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.digest.Quantile(q)
}
