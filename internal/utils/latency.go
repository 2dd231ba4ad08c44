package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker stores recent duration samples per key (tool ID) and computes percentiles.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples map[string][]time.Duration
	maxSize int
}

// NewLatencyTracker creates a tracker storing up to maxSize samples per key.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{maxSize: maxSize, samples: make(map[string][]time.Duration)}
}

// Observe records a new duration for key.
func (l *LatencyTracker) Observe(key string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	samples := append(l.samples[key], d)
	if len(samples) > l.maxSize {
		// Drop oldest sample to bound memory.
		samples = samples[len(samples)-l.maxSize:]
	}
	l.samples[key] = samples
}

// Percentile returns the percentile (0-100) duration for key. Returns zero if no samples.
func (l *LatencyTracker) Percentile(key string, p float64) time.Duration {
	l.mu.RLock()
	sorted := append([]time.Duration(nil), l.samples[key]...)
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	index := int((p / 100.0) * float64(len(sorted)-1))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// Count returns number of samples recorded for key.
func (l *LatencyTracker) Count(key string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples[key])
}

// Keys returns the tracked keys in sorted order.
func (l *LatencyTracker) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.samples))
	for k := range l.samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
