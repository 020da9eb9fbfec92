// SPDX-License-Identifier: GPL-2.0-or-later

package system

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type (
	cpuCountFunc func(logical bool) (int, error)
	ramFunc      func() (*mem.VirtualMemoryStat, error)
)

// Memory reserved for each extraction worker.
const workerMemory = 64 * 1024 * 1024

// System host resources.
type System struct {
	cpuCount cpuCountFunc
	ram      ramFunc
}

// New returns new System.
func New() *System {
	return &System{
		cpuCount: cpu.Counts,
		ram:      mem.VirtualMemory,
	}
}

// Workers returns the number of files that can be extracted in parallel.
// The result is between 1 and n.
func (s *System) Workers(n int) int {
	workers, err := s.cpuCount(true)
	if err != nil || workers < 1 {
		workers = runtime.NumCPU()
	}

	if ram, err := s.ram(); err == nil {
		byMemory := int(ram.Available / workerMemory)
		if byMemory < workers {
			workers = byMemory
		}
	}

	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Info returns a summary of the host resources.
func (s *System) Info() (string, error) {
	cpus, err := s.cpuCount(true)
	if err != nil {
		return "", fmt.Errorf("could not get cpu count: %w", err)
	}
	ram, err := s.ram()
	if err != nil {
		return "", fmt.Errorf("could not get ram usage: %w", err)
	}
	return fmt.Sprintf("cpus: %v, ram available: %vMiB (%.0f%% used)",
		cpus, ram.Available/1024/1024, ram.UsedPercent), nil
}
