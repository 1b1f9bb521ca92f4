// Package stats implements the counters, slow/perf logs, monitor
// fanout, host telemetry, and server-state flags the command dispatcher
// consults and updates on every request (spec §6's "collaborator
// interfaces consumed": Stats, SlowLog, PerfLog, MonitorFanout,
// ServerState).
package stats

import (
	"time"

	"github.com/rcrowley/go-metrics"
)

// Stats is the counters collaborator spec §6 names: an inbound-bytes
// counter, a per-command call counter, and a per-command latency
// histogram. Built on rcrowley/go-metrics rather than a hand-rolled
// atomic map, the same registry style _examples/ValentinKolb-dKV pulls
// in for its own operational counters.
type Stats struct {
	registry metrics.Registry

	inboundBytes metrics.Counter
}

// New returns a ready Stats backed by a fresh metrics registry.
func New() *Stats {
	r := metrics.NewRegistry()
	return &Stats{
		registry:     r,
		inboundBytes: metrics.GetOrRegisterCounter("inbound_bytes", r),
	}
}

// IncrInboundBytes adds n to the running count of bytes read off client
// sockets (spec §4.7: every byte the tokenizer consumes is counted here).
func (s *Stats) IncrInboundBytes(n int64) {
	s.inboundBytes.Inc(n)
}

// IncrCalls bumps the call counter for a command name.
func (s *Stats) IncrCalls(name string) {
	metrics.GetOrRegisterCounter("cmd."+name+".calls", s.registry).Inc(1)
}

// IncrLatency records one command's latency, in microseconds, into that
// command's histogram.
func (s *Stats) IncrLatency(us int64, name string) {
	h := metrics.GetOrRegisterHistogram("cmd."+name+".latency_us", s.registry, metrics.NewExpDecaySample(1028, 0.015))
	h.Update(us)
}

// Snapshot is a point-in-time render of every counter and histogram,
// used by the INFO command and by tests.
type Snapshot struct {
	InboundBytes int64
	Commands     map[string]CommandStats
}

// CommandStats summarizes one command's observed call volume and
// latency distribution.
type CommandStats struct {
	Calls      int64
	P50Micros  float64
	P99Micros  float64
	MeanMicros float64
}

// Snapshot renders the current state of every registered metric.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		InboundBytes: s.inboundBytes.Count(),
		Commands:     map[string]CommandStats{},
	}
	s.registry.Each(func(name string, i any) {
		const suffix = ".calls"
		if len(name) <= len(suffix)+4 || name[len(name)-len(suffix):] != suffix {
			return
		}
		cmdName := name[4 : len(name)-len(suffix)] // strip "cmd." and ".calls"
		c, ok := i.(metrics.Counter)
		if !ok {
			return
		}
		cs := snap.Commands[cmdName]
		cs.Calls = c.Count()
		if h, ok := s.registry.Get("cmd." + cmdName + ".latency_us").(metrics.Histogram); ok {
			ps := h.Percentiles([]float64{0.5, 0.99})
			cs.P50Micros, cs.P99Micros = ps[0], ps[1]
			cs.MeanMicros = h.Mean()
		}
		snap.Commands[cmdName] = cs
	})
	return snap
}

// Timer measures one command's execution and feeds Stats on Stop.
type Timer struct {
	s     *Stats
	name  string
	start time.Time
}

// StartTimer begins timing a command's execution and bumps its call
// counter immediately, matching the dispatcher's per-step contract of
// counting a call as soon as it's accepted for execution (spec §4.8).
func (s *Stats) StartTimer(name string) *Timer {
	s.IncrCalls(name)
	return &Timer{s: s, name: name, start: time.Now()}
}

// Stop records the elapsed time and returns it in microseconds.
func (t *Timer) Stop() int64 {
	us := time.Since(t.start).Microseconds()
	t.s.IncrLatency(us, t.name)
	return us
}
