package goShield

import "sync/atomic"

// MetricID identifies one gate counter.
type MetricID uint16

const (
	// MetricRequestsAdmitted counts requests forwarded to business logic.
	MetricRequestsAdmitted MetricID = iota
	// MetricRequestsBlocked counts requests rejected by an active block.
	MetricRequestsBlocked
	// MetricScannerReconHits counts reconnaissance signature matches.
	MetricScannerReconHits
	// MetricScannerMaliciousHits counts malicious signature matches.
	MetricScannerMaliciousHits
	// MetricStrikesRecorded counts accepted strike writes.
	MetricStrikesRecorded
	// MetricBlocksSet counts ledger writes that produced a new block.
	MetricBlocksSet
	// MetricRateLimited counts rate-limit rejections across all tiers.
	MetricRateLimited
	// MetricCSRFRejected counts CSRF verification failures.
	MetricCSRFRejected
	// MetricCSRFIssued counts freshly minted CSRF tokens.
	MetricCSRFIssued
	// MetricStoreFailOpen counts enforcement reads/writes degraded open
	// because the store was unreachable.
	MetricStoreFailOpen
	// MetricCacheHits counts strike-cache hits.
	MetricCacheHits
	// MetricCacheMisses counts strike-cache misses.
	MetricCacheMisses
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the gate's in-process counters. All methods are safe for
// concurrent use and are no-ops on a nil or disabled receiver.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics builds the counter set. Disabled metrics cost one branch per
// increment.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
