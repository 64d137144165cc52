package runtime

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const bytesPerMB = 1 << 20

// ResourceUsage is a coarse process sample taken after each invocation.
type ResourceUsage struct {
	// CPUPercent is averaged over all cores since the previous sample.
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// MemoryMB rounds MemoryBytes up to whole megabytes.
func (u ResourceUsage) MemoryMB() uint64 {
	return (u.MemoryBytes + bytesPerMB - 1) / bytesPerMB
}

// Exceeds reports whether the sampled heap is above limitMB. A zero limit is
// never exceeded.
func (u ResourceUsage) Exceeds(limitMB uint64) bool {
	return limitMB > 0 && u.MemoryBytes > limitMB*bytesPerMB
}

// usageTracker samples CPU and heap for InvocationInfo.Usage.
type usageTracker struct {
	mu             sync.Mutex
	proc           *process.Process
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newUsageTracker() *usageTracker {
	u := &usageTracker{numCPU: float64(runtime.NumCPU())}
	// Without a process handle only heap and goroutines are sampled.
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		u.proc = p
	}
	return u
}

// cpuSeconds is the user plus system CPU time consumed by this process.
func (u *usageTracker) cpuSeconds() (float64, bool) {
	if u.proc == nil {
		return 0, false
	}
	times, err := u.proc.Times()
	if err != nil {
		return 0, false
	}
	return times.User + times.System, true
}

func (u *usageTracker) Snapshot() ResourceUsage {
	if u == nil {
		return ResourceUsage{}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	cpuSeconds, haveCPU := u.cpuSeconds()
	now := time.Now()

	var cpuPercent float64
	if haveCPU && !u.lastSample.IsZero() {
		deltaCPU := cpuSeconds - u.lastCPUSeconds
		deltaWall := now.Sub(u.lastSample).Seconds()
		if deltaWall > 0 && deltaCPU > 0 && u.numCPU > 0 {
			cpuPercent = (deltaCPU / deltaWall) / u.numCPU * 100
		}
	}
	if haveCPU {
		u.lastCPUSeconds = cpuSeconds
		u.lastSample = now
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.HeapAlloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}
