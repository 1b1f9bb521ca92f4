package stats

import (
	"sync"
	"time"

	"github.com/rod6/log6"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSnapshot is a point-in-time render of the host metrics the INFO
// command's "# Host" section reports.
type HostSnapshot struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// HostCollector periodically samples CPU, memory, and data-directory
// disk usage, the same three signals _examples/iDanielLaw-nexusbase's
// SystemCollector publishes via expvar — collected here into a plain
// struct instead, since the admin surface renders these into the INFO
// reply rather than an expvar page.
type HostCollector struct {
	diskPath string
	interval time.Duration

	mu   sync.RWMutex
	last HostSnapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewHostCollector returns a collector that samples diskPath's usage
// every interval once Start is called.
func NewHostCollector(diskPath string, interval time.Duration) *HostCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HostCollector{diskPath: diskPath, interval: interval, stop: make(chan struct{})}
}

// Start begins the background sampling loop.
func (c *HostCollector) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Stop halts the sampling loop and waits for it to exit.
func (c *HostCollector) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *HostCollector) loop() {
	defer c.wg.Done()
	t := time.NewTicker(c.interval)
	defer t.Stop()
	c.sampleOnce()
	for {
		select {
		case <-t.C:
			c.sampleOnce()
		case <-c.stop:
			return
		}
	}
}

func (c *HostCollector) sampleOnce() {
	var snap HostSnapshot
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	} else if err != nil {
		log6.Warn("stats: cpu sample failed: %v", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemPercent = vm.UsedPercent
	} else {
		log6.Warn("stats: mem sample failed: %v", err)
	}
	if du, err := disk.Usage(c.diskPath); err == nil {
		snap.DiskPercent = du.UsedPercent
	} else {
		log6.Warn("stats: disk sample failed: %v", err)
	}
	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()
}

// Snapshot returns the most recently sampled host metrics.
func (c *HostCollector) Snapshot() HostSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
