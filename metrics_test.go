package goShield

import (
	"sync"
	"testing"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	for i := 0; i < 3; i++ {
		m.Inc(MetricRequestsAdmitted)
	}
	m.Inc(MetricRateLimited)

	if got := m.Value(MetricRequestsAdmitted); got != 3 {
		t.Fatalf("admitted = %d, want 3", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricRequestsAdmitted] != 3 {
		t.Fatalf("snapshot admitted = %d, want 3", snap.Counters[MetricRequestsAdmitted])
	}
	if snap.Counters[MetricRateLimited] != 1 {
		t.Fatalf("snapshot rate limited = %d, want 1", snap.Counters[MetricRateLimited])
	}
	if snap.Counters[MetricBlocksSet] != 0 {
		t.Fatalf("untouched counter = %d, want 0", snap.Counters[MetricBlocksSet])
	}
}

func TestMetricsDisabledRecordsNothing(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricRequestsAdmitted)

	if m.Enabled() {
		t.Fatal("metrics should report disabled")
	}
	if got := m.Value(MetricRequestsAdmitted); got != 0 {
		t.Fatalf("disabled counter = %d, want 0", got)
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled snapshot should be empty")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricRequestsAdmitted)
	if m.Value(MetricRequestsAdmitted) != 0 {
		t.Fatal("nil metrics should read zero")
	}
	if m.Enabled() {
		t.Fatal("nil metrics should report disabled")
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricStrikesRecorded)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricStrikesRecorded); got != workers*perWorker {
		t.Fatalf("concurrent count = %d, want %d", got, workers*perWorker)
	}
}
