package service

import (
	"sync"

	"trade_sim/internal/domain"
)

// DefaultLatencyWindow is how many recent samples feed the average.
const DefaultLatencyWindow = 100

// LatencyTracker keeps the most recent latency samples in a fixed ring.
// Max is tracked over the tracker's whole lifetime, the average over the window.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []domain.LatencySample
	head    int // next write position
	count   int

	last   float64
	max    float64
	hasMax bool
}

// NewLatencyTracker creates a tracker with the given window; <= 0 uses the default.
func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = DefaultLatencyWindow
	}
	return &LatencyTracker{
		samples: make([]domain.LatencySample, window), // Fixed size allocation
	}
}

// Record adds one sample, evicting the oldest when the ring is full.
// Negative delays (clock skew) are kept as measured.
func (t *LatencyTracker) Record(s domain.LatencySample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples[t.head] = s
	t.head = (t.head + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}

	t.last = s.DelayMs
	if !t.hasMax || s.DelayMs > t.max {
		t.max = s.DelayMs
		t.hasMax = true
	}
}

// Stats summarises the window.
func (t *LatencyTracker) Stats() domain.LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return domain.LatencyStats{}
	}

	var delaySum, procSum float64
	for i := 0; i < t.count; i++ {
		delaySum += t.samples[i].DelayMs
		procSum += t.samples[i].ProcessingMs
	}
	n := float64(t.count)

	return domain.LatencyStats{
		Count:           t.count,
		LastMs:          t.last,
		AvgMs:           delaySum / n,
		MaxMs:           t.max,
		AvgProcessingMs: procSum / n,
	}
}
