package policy

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// systemSnapshot is the host health stamped on every event.
type systemSnapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	SystemLoad    float64
}

// systemSampler reads host utilization from procfs. On platforms without
// /proc every field degrades to zero; the event schema keeps the fields so
// consumers never branch on platform.
type systemSampler struct {
	mu sync.Mutex

	// previous /proc/stat aggregates for delta-based CPU percent
	prevTotal float64
	prevIdle  float64
}

func newSystemSampler() *systemSampler {
	s := &systemSampler{}
	// Prime the CPU counters so the first real sample has a delta.
	s.prevTotal, s.prevIdle = readCPUTotals()
	return s
}

// Sample returns a best-effort snapshot. Never fails.
func (s *systemSampler) Sample() systemSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap systemSnapshot

	total, idle := readCPUTotals()
	if total > s.prevTotal {
		dTotal := total - s.prevTotal
		dIdle := idle - s.prevIdle
		snap.CPUPercent = clampPercent(100 * (dTotal - dIdle) / dTotal)
	}
	s.prevTotal, s.prevIdle = total, idle

	snap.MemoryPercent = readMemoryPercent()
	snap.SystemLoad = readLoadAverage()
	return snap
}

// readCPUTotals parses the aggregate cpu line of /proc/stat.
func readCPUTotals() (total, idle float64) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				continue
			}
			total += v
			// idle + iowait
			if i == 3 || i == 4 {
				idle += v
			}
		}
		return total, idle
	}
	return 0, 0
}

// readMemoryPercent computes used memory from /proc/meminfo.
func readMemoryPercent() float64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	var total, available float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if total <= 0 {
		return 0
	}
	return clampPercent(100 * (total - available) / total)
}

// readLoadAverage returns the 1-minute load from /proc/loadavg.
func readLoadAverage() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
