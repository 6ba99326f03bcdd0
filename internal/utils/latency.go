package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent duration samples in a fixed-size ring
// and computes percentiles over them.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	full    bool
}

// NewLatencyTracker creates a tracker storing up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{samples: make([]time.Duration, maxSize)}
}

// Observe records a new duration, evicting the oldest sample once full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.samples[l.next] = d
	l.next++
	if l.next == len(l.samples) {
		l.next = 0
		l.full = true
	}
}

// Count returns the number of samples currently held.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count()
}

func (l *LatencyTracker) count() int {
	if l.full {
		return len(l.samples)
	}
	return l.next
}

// Percentile returns the percentile (0-100) duration over the held samples,
// or zero when no samples were observed.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.count()
	if n == 0 {
		return 0
	}

	sorted := append([]time.Duration(nil), l.samples[:n]...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	index := int((p / 100.0) * float64(n-1))
	return sorted[index]
}
