package executor

import (
	goruntime "runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/miradorstack/mirador-osint/internal/models"
)

const (
	// DefaultOutputLimit caps captured stdout and stderr per stream.
	DefaultOutputLimit = 5 << 20
	// DefaultTimeout bounds one invocation when the descriptor leaves it unset.
	DefaultTimeout = 300 * time.Second
	// DefaultMemoryBytes is the per-container memory limit.
	DefaultMemoryBytes = 768 << 20
	// DefaultCPUShares is the relative CPU weight of a tool container.
	DefaultCPUShares = 512
	// DefaultPidsLimit caps processes inside a tool container.
	DefaultPidsLimit = 64

	minWorkers = 2
	maxWorkers = 16
)

// DefaultResources returns the standard resource profile for a tool.
func DefaultResources() models.ResourceProfile {
	return models.ResourceProfile{
		CPUShares:   DefaultCPUShares,
		MemoryBytes: DefaultMemoryBytes,
		PidsLimit:   DefaultPidsLimit,
		Timeout:     DefaultTimeout,
	}
}

func withDefaults(p models.ResourceProfile) models.ResourceProfile {
	def := DefaultResources()
	if p.CPUShares <= 0 {
		p.CPUShares = def.CPUShares
	}
	if p.MemoryBytes <= 0 {
		p.MemoryBytes = def.MemoryBytes
	}
	if p.PidsLimit <= 0 {
		p.PidsLimit = def.PidsLimit
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	return p
}

// DefaultWorkers sizes the worker pool from logical CPUs and the number of
// default-sized tool containers that fit in available memory.
func DefaultWorkers() int {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = goruntime.NumCPU()
	}
	var available uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		available = vm.Available
	}
	return WorkersFor(cores, available)
}

// WorkersFor is the pure sizing rule behind DefaultWorkers.
func WorkersFor(cores int, availableBytes uint64) int {
	workers := cores
	if availableBytes > 0 {
		if byMemory := int(availableBytes / DefaultMemoryBytes); byMemory < workers {
			workers = byMemory
		}
	}
	return clampWorkers(workers)
}

// clampWorkers bounds a derived pool size to the floor and ceiling.
func clampWorkers(n int) int {
	if n < minWorkers {
		return minWorkers
	}
	if n > maxWorkers {
		return maxWorkers
	}
	return n
}
