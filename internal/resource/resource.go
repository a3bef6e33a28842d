// Package resource samples host CPU/memory/load and gates worker spawning
// so the supervisor never oversubscribes the machine it runs on.
package resource

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dean0x/claudine-sub000/internal/errs"
)

const (
	defaultMaxCPUPercent  = 80.0
	defaultMinMemoryBytes = 1 << 30 // 1 GiB
)

// Snapshot is a point-in-time read of host resource usage plus the
// supervisor's own worker bookkeeping.
type Snapshot struct {
	CPUUsagePercent      float64
	AvailableMemoryBytes int64
	TotalMemoryBytes     int64
	LoadAverage          [3]float64
	WorkerCount          int
}

// Thresholds are the admission limits canSpawnWorker evaluates against.
type Thresholds struct {
	MaxCPUPercent  float64
	MinMemoryBytes int64
}

// Sampler abstracts the host facts the Monitor needs, so tests can inject
// deterministic readings instead of depending on the real machine.
type Sampler interface {
	LoadAverage() (load1, load5, load15 float64, err error)
	Memory() (availableBytes, totalBytes int64, err error)
}

// gopsutilSampler is the production Sampler, backed by gopsutil/v3.
type gopsutilSampler struct{}

func (gopsutilSampler) LoadAverage() (float64, float64, float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, 0, 0, err
	}
	return avg.Load1, avg.Load5, avg.Load15, nil
}

func (gopsutilSampler) Memory() (int64, int64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return int64(vm.Available), int64(vm.Total), nil
}

// Monitor tracks host resource usage and the supervisor's live worker count.
type Monitor struct {
	mu sync.Mutex

	sampler Sampler
	cpuCount int

	cpuCoresReserved int
	memoryReserve    int64
	thresholds       Thresholds

	workerCount   int
	lastSpawnTime time.Time
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithSampler injects a Sampler, e.g. a fake for tests.
func WithSampler(s Sampler) Option {
	return func(m *Monitor) { m.sampler = s }
}

// WithReservedCapacity subtracts coresReserved from the usable CPU count and
// reserveBytes from the usable memory pool before admission math runs.
func WithReservedCapacity(coresReserved int, reserveBytes int64) Option {
	return func(m *Monitor) {
		m.cpuCoresReserved = coresReserved
		m.memoryReserve = reserveBytes
	}
}

// WithThresholds overrides the default admission thresholds.
func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// New creates a resource monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		sampler:  gopsutilSampler{},
		cpuCount: runtime.NumCPU(),
		thresholds: Thresholds{
			MaxCPUPercent:  defaultMaxCPUPercent,
			MinMemoryBytes: defaultMinMemoryBytes,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) usableCPUCount() int {
	n := m.cpuCount - m.cpuCoresReserved
	if n < 1 {
		return 1
	}
	return n
}

// GetResources samples the host and returns a Snapshot, or a
// ResourceMonitoringFailed error if the underlying sampler fails.
func (m *Monitor) GetResources() (Snapshot, error) {
	load1, load5, load15, err := m.sampler.LoadAverage()
	if err != nil {
		return Snapshot{}, errs.Wrap(errs.ResourceMonitoringFailed, "failed to read load average", err)
	}
	available, total, err := m.sampler.Memory()
	if err != nil {
		return Snapshot{}, errs.Wrap(errs.ResourceMonitoringFailed, "failed to read memory stats", err)
	}

	cpuCount := m.usableCPUCount()
	cpuPercent := load1 / float64(cpuCount) * 100
	if cpuPercent < 0 {
		cpuPercent = 0
	}
	if cpuPercent > 100 {
		cpuPercent = 100
	}

	available -= m.memoryReserve
	if available < 0 {
		available = 0
	}

	m.mu.Lock()
	workerCount := m.workerCount
	m.mu.Unlock()

	return Snapshot{
		CPUUsagePercent:      cpuPercent,
		AvailableMemoryBytes: available,
		TotalMemoryBytes:     total,
		LoadAverage:          [3]float64{load1, load5, load15},
		WorkerCount:          workerCount,
	}, nil
}

// CanSpawnWorker applies the admission rule: deny on high CPU, low memory,
// or a 1-minute load average exceeding 3x the usable CPU count; otherwise
// admit. A sampling failure is treated as a denial.
func (m *Monitor) CanSpawnWorker() bool {
	snap, err := m.GetResources()
	if err != nil {
		return false
	}

	if snap.CPUUsagePercent >= m.thresholds.MaxCPUPercent {
		return false
	}
	if snap.AvailableMemoryBytes <= m.thresholds.MinMemoryBytes {
		return false
	}
	if snap.LoadAverage[0] > float64(m.usableCPUCount())*3 {
		return false
	}
	return true
}

// IncrementWorkerCount records a newly spawned worker.
func (m *Monitor) IncrementWorkerCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workerCount++
}

// DecrementWorkerCount records a worker's exit.
func (m *Monitor) DecrementWorkerCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workerCount > 0 {
		m.workerCount--
	}
}

// RecordSpawn stamps the moment a worker was successfully spawned, used by
// the spawn-delay gate to enforce minSpawnDelayMs between spawns.
func (m *Monitor) RecordSpawn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSpawnTime = time.Now()
}

// LastSpawnTime returns the last time RecordSpawn was called, or the zero
// time if a spawn has never been recorded.
func (m *Monitor) LastSpawnTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSpawnTime
}

// GetThresholds returns the admission thresholds in effect.
func (m *Monitor) GetThresholds() Thresholds {
	return m.thresholds
}
