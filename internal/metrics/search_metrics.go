// Package metrics collects in-process latency and counter statistics for
// searches and imports.
package metrics

import (
	"sync/atomic"
	"time"
)

const defaultSamples = 1000

// SearchMetrics tracks how searches are served.
type SearchMetrics struct {
	LocalLatency  *Histogram
	RemoteLatency *Histogram

	LocalSearches    atomic.Uint64
	RemoteSearches   atomic.Uint64
	RemoteFailures   atomic.Uint64
	SharedRequests   atomic.Uint64 // remote searches whose request was shared with a concurrent caller
	MalformedFilters atomic.Uint64
	Imports          atomic.Uint64

	startTime atomic.Int64
}

// NewSearchMetrics creates an empty collector.
func NewSearchMetrics() *SearchMetrics {
	m := &SearchMetrics{
		LocalLatency:  NewHistogram(defaultSamples),
		RemoteLatency: NewHistogram(defaultSamples),
	}
	m.startTime.Store(time.Now().UnixNano())
	return m
}

// RecordLocal records one local store search.
func (m *SearchMetrics) RecordLocal(d time.Duration) {
	m.LocalSearches.Add(1)
	m.LocalLatency.Record(d)
}

// RecordRemote records one remote search. Failed searches count but are not
// timed.
func (m *SearchMetrics) RecordRemote(d time.Duration, err error, shared bool) {
	m.RemoteSearches.Add(1)
	if err != nil {
		m.RemoteFailures.Add(1)
		return
	}
	if shared {
		m.SharedRequests.Add(1)
	}
	m.RemoteLatency.Record(d)
}

// SearchStats is a snapshot of SearchMetrics.
type SearchStats struct {
	Local  LatencyStats `json:"local"`
	Remote LatencyStats `json:"remote"`

	LocalSearches     uint64  `json:"local_searches"`
	RemoteSearches    uint64  `json:"remote_searches"`
	RemoteFailures    uint64  `json:"remote_failures"`
	SharedRequests    uint64  `json:"shared_requests"`
	MalformedFilters  uint64  `json:"malformed_filters"`
	Imports           uint64  `json:"imports"`
	RemoteSuccessRate float64 `json:"remote_success_rate"` // percentage

	Uptime string `json:"uptime"`
}

// Stats returns a snapshot of the collected metrics.
func (m *SearchMetrics) Stats() *SearchStats {
	remote := m.RemoteSearches.Load()
	failures := m.RemoteFailures.Load()

	successRate := 0.0
	if remote > 0 {
		successRate = float64(remote-failures) / float64(remote) * 100
	}

	started := time.Unix(0, m.startTime.Load())

	return &SearchStats{
		Local:             m.LocalLatency.Stats(),
		Remote:            m.RemoteLatency.Stats(),
		LocalSearches:     m.LocalSearches.Load(),
		RemoteSearches:    remote,
		RemoteFailures:    failures,
		SharedRequests:    m.SharedRequests.Load(),
		MalformedFilters:  m.MalformedFilters.Load(),
		Imports:           m.Imports.Load(),
		RemoteSuccessRate: successRate,
		Uptime:            time.Since(started).Round(time.Second).String(),
	}
}

// Reset clears all metrics.
func (m *SearchMetrics) Reset() {
	m.LocalLatency.Reset()
	m.RemoteLatency.Reset()

	m.LocalSearches.Store(0)
	m.RemoteSearches.Store(0)
	m.RemoteFailures.Store(0)
	m.SharedRequests.Store(0)
	m.MalformedFilters.Store(0)
	m.Imports.Store(0)

	m.startTime.Store(time.Now().UnixNano())
}
