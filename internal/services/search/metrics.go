package search

import "sync/atomic"

// Metrics tracks SERP client activity. All counters are monotonic for the
// process lifetime; in-flight tracks current semaphore utilization.
type Metrics struct {
	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	rateLimited     atomic.Int64
	totalLatencyMs  atomic.Int64
	inFlight        atomic.Int64
}

// MetricsSnapshot is a point-in-time copy for handlers and liveness logs.
type MetricsSnapshot struct {
	TotalRequests   int64 `json:"total_requests"`
	SuccessRequests int64 `json:"successful_requests"`
	FailedRequests  int64 `json:"failed_requests"`
	RateLimited     int64 `json:"rate_limited_requests"`
	TotalLatencyMs  int64 `json:"total_latency_ms"`
	InFlight        int64 `json:"in_flight"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   m.totalRequests.Load(),
		SuccessRequests: m.successRequests.Load(),
		FailedRequests:  m.failedRequests.Load(),
		RateLimited:     m.rateLimited.Load(),
		TotalLatencyMs:  m.totalLatencyMs.Load(),
		InFlight:        m.inFlight.Load(),
	}
}
