// Package healthscore derives a single-number health indicator for this
// worker from its current metrics snapshot. Grounded on the teacher's
// pkg/router/scorer.go Score, which ranked workers against each other
// for routing decisions; repointed here at a single worker with no
// peers to rank against, so the score becomes a dashboard display
// signal instead of a routing input.
package healthscore

import "github.com/kunal/embedserve/pkg/gpu"

// Snapshot is the subset of live metrics the score formula consumes. GPU
// is nil when NVML is unavailable (simulated executor, or no NVIDIA
// device present) — the formula then falls back to the queue/latency
// terms alone.
type Snapshot struct {
	QueueDepth    int
	QueueCapacity int
	AvgLatencyMs  float64
	Healthy       bool
	GPU           *gpu.Info
}

// Score computes a health indicator. Higher is healthier; it is never
// compared across workers (there is only one), only against its own
// history. An unhealthy snapshot scores -1000.
//
// Formula — the queue/latency terms are this worker's own stand-in for
// what the teacher's scorer ranked workers on; the GPU terms below are
// the teacher's original ones, unchanged, applied when real NVML
// telemetry is available:
//   - (1 - queueDepth/queueCapacity) * 100   → queue headroom, more is better
//   - avgLatencyMs / 10                       → latency penalty
//   - (vramFreeGB / vramTotalGB) * 100        → memory headroom, more is better
//   - (gpuUtilization / 100) * 50             → busier GPU = worse
//   - 50 if temperature > 80°C                → thermal throttling penalty
func Score(s Snapshot) float64 {
	if !s.Healthy {
		return -1000
	}

	score := 0.0
	if s.QueueCapacity > 0 {
		headroom := 1 - float64(s.QueueDepth)/float64(s.QueueCapacity)
		score += headroom * 100
	}
	score -= s.AvgLatencyMs / 10

	if s.GPU != nil {
		if s.GPU.MemoryTotalGB > 0 {
			score += (s.GPU.MemoryFreeGB / s.GPU.MemoryTotalGB) * 100
		}
		score -= (s.GPU.GPUUtilization / 100) * 50
		if s.GPU.TemperatureC > 80 {
			score -= 50
		}
	}
	return score
}

// Ready reports whether the snapshot is healthy with queue headroom
// left. It does not consult Score.
func Ready(s Snapshot) bool {
	return s.Healthy && s.QueueDepth < s.QueueCapacity
}
