package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Histogram keeps the most recent latency samples and reports percentiles.
type Histogram struct {
	mu      sync.Mutex
	samples []float64 // milliseconds, oldest first
	maxSize int
}

// NewHistogram creates a histogram holding at most maxSize samples.
func NewHistogram(maxSize int) *Histogram {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Histogram{
		samples: make([]float64, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record adds a sample. Once full, the oldest fifth of the samples is dropped.
func (h *Histogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples = append(h.samples, float64(d.Microseconds())/1000.0)
	if len(h.samples) > h.maxSize {
		drop := max(h.maxSize/5, 1)
		h.samples = append(h.samples[:0], h.samples[drop:]...)
	}
}

// LatencyStats summarizes a histogram in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Stats computes the summary over the current samples.
func (h *Histogram) Stats() LatencyStats {
	h.mu.Lock()
	sorted := append([]float64(nil), h.samples...)
	h.mu.Unlock()

	if len(sorted) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return LatencyStats{
		Count: len(sorted),
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
	}
}

// Count returns the number of samples held.
func (h *Histogram) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}

// Reset drops all samples.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = h.samples[:0]
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	index := (p / 100.0) * float64(len(sorted)-1)
	lower, upper := int(math.Floor(index)), int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	fraction := index - float64(lower)
	return sorted[lower]*(1-fraction) + sorted[upper]*fraction
}
