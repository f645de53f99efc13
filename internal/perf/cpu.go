package perf

import "time"

// cpuPercent is the share of elapsed wall time the process spent on CPU,
// across numCPU processors, clamped to [0,100].
func cpuPercent(prevSeconds, curSeconds float64, elapsed time.Duration, numCPU int) float64 {
	if elapsed <= 0 || numCPU <= 0 {
		return 0
	}
	pct := (curSeconds - prevSeconds) / (elapsed.Seconds() * float64(numCPU)) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}
