package executor

import (
	"github.com/shirou/gopsutil/v3/process"
)

// cpuSample is a point-in-time reading of the executing process's CPU and
// memory consumption. diffCPU turns two samples into a single Execute
// call's CPU delta and reports the later sample's memory reading as is
// (spec §4.6 "resource accounting").
type cpuSample struct {
	cpuSeconds  float64
	memoryBytes uint64
}

func sampleCPU(proc *process.Process) *cpuSample {
	s := &cpuSample{}
	if times, err := proc.Times(); err == nil {
		s.cpuSeconds = times.User + times.System
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		s.memoryBytes = mem.RSS
	}
	return s
}

func diffCPU(before, after *cpuSample) ResourceUsage {
	if before == nil || after == nil {
		return ResourceUsage{}
	}
	delta := after.cpuSeconds - before.cpuSeconds
	if delta < 0 {
		delta = 0
	}
	return ResourceUsage{CPUSeconds: delta, MemoryBytes: after.memoryBytes}
}
