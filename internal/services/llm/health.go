package llm

import (
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// Health score weights and thresholds. The score blends success rate,
// recent latency, rate-limit pressure and failure recency into a 0-100
// value used for provider selection.
const (
	weightSuccessRate = 0.40
	weightLatency     = 0.30
	weightRateLimit   = 0.20
	weightRecency     = 0.10

	unhealthyThreshold = 30
	degradedThreshold  = 60

	latencyIdealMs = 2000
	latencyMaxMs   = 30000

	recentLatencyWindow = 50
)

// FailureKind labels a recorded failure for scoring purposes.
type FailureKind int

const (
	FailureError FailureKind = iota
	FailureTimeout
	FailureRateLimit
	FailureBadRequest
)

type providerMetrics struct {
	requestsTotal   int64
	requestsSuccess int64
	requestsFailed  int64
	rateLimitsHit   int64
	timeouts        int64
	errors          int64
	lastSuccess     time.Time
	lastFailure     time.Time
	healthScore     int
	recentLatencies []float64
}

func (m *providerMetrics) successRate() float64 {
	if m.requestsTotal == 0 {
		return 1.0
	}
	return float64(m.requestsSuccess) / float64(m.requestsTotal)
}

func (m *providerMetrics) avgLatencyMs() float64 {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.recentLatencies {
		sum += v
	}
	return sum / float64(len(m.recentLatencies))
}

func (m *providerMetrics) pushLatency(ms float64) {
	m.recentLatencies = append(m.recentLatencies, ms)
	if len(m.recentLatencies) > recentLatencyWindow {
		m.recentLatencies = m.recentLatencies[len(m.recentLatencies)-recentLatencyWindow:]
	}
}

// HealthMonitor tracks per-provider outcomes and exposes a health
// score for the pool's selection strategies.
type HealthMonitor struct {
	mu      sync.Mutex
	metrics map[string]*providerMetrics
	logger  arbor.ILogger
}

func NewHealthMonitor(logger arbor.ILogger) *HealthMonitor {
	return &HealthMonitor{
		metrics: make(map[string]*providerMetrics),
		logger:  logger,
	}
}

func (h *HealthMonitor) get(provider string) *providerMetrics {
	m, ok := h.metrics[provider]
	if !ok {
		m = &providerMetrics{healthScore: 100}
		h.metrics[provider] = m
	}
	return m
}

// RecordSuccess registers a completed call and its latency.
func (h *HealthMonitor) RecordSuccess(provider string, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := h.get(provider)
	m.requestsTotal++
	m.requestsSuccess++
	m.pushLatency(float64(latency.Milliseconds()))
	m.lastSuccess = time.Now()
	m.healthScore = calculateScore(m, time.Now())
}

// RecordFailure registers a failed call. A zero latency means the
// failure happened before any round trip completed.
func (h *HealthMonitor) RecordFailure(provider string, kind FailureKind, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := h.get(provider)
	m.requestsTotal++
	m.requestsFailed++
	m.lastFailure = time.Now()
	if latency > 0 {
		m.pushLatency(float64(latency.Milliseconds()))
	}

	switch kind {
	case FailureTimeout:
		m.timeouts++
	case FailureRateLimit:
		m.rateLimitsHit++
	default:
		m.errors++
	}

	m.healthScore = calculateScore(m, time.Now())
}

func calculateScore(m *providerMetrics, now time.Time) int {
	successScore := m.successRate() * 100

	var latencyScore float64
	avgLatency := m.avgLatencyMs()
	switch {
	case avgLatency <= latencyIdealMs:
		latencyScore = 100
	case avgLatency >= latencyMaxMs:
		latencyScore = 0
	default:
		ratio := (avgLatency - latencyIdealMs) / (latencyMaxMs - latencyIdealMs)
		latencyScore = 100 * (1 - ratio)
	}

	rateLimitScore := 100.0
	if m.requestsTotal > 0 {
		ratio := float64(m.rateLimitsHit) / float64(m.requestsTotal)
		penalty := ratio * 5
		if penalty > 1 {
			penalty = 1
		}
		rateLimitScore = 100 * (1 - penalty)
	}

	recencyScore := 100.0
	if !m.lastFailure.IsZero() {
		since := now.Sub(m.lastFailure)
		switch {
		case since < 10*time.Second:
			recencyScore = 30
		case since < time.Minute:
			recencyScore = 60
		case since < 5*time.Minute:
			recencyScore = 80
		}
	}

	score := successScore*weightSuccessRate +
		latencyScore*weightLatency +
		rateLimitScore*weightRateLimit +
		recencyScore*weightRecency

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(score)
}

// Score returns the current health score for a provider. Providers
// with no recorded calls start at 100.
func (h *HealthMonitor) Score(provider string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.get(provider).healthScore
}

// IsHealthy reports whether the provider is above the unhealthy
// threshold.
func (h *HealthMonitor) IsHealthy(provider string) bool {
	return h.Score(provider) > unhealthyThreshold
}

// HealthyProviders filters and sorts providers by score, best first.
func (h *HealthMonitor) HealthyProviders(providers []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	healthy := make([]string, 0, len(providers))
	for _, p := range providers {
		if h.get(p).healthScore > unhealthyThreshold {
			healthy = append(healthy, p)
		}
	}
	sort.SliceStable(healthy, func(i, j int) bool {
		return h.get(healthy[i]).healthScore > h.get(healthy[j]).healthScore
	})
	return healthy
}

// ProviderHealth is a point-in-time view of one provider's metrics.
type ProviderHealth struct {
	Provider      string  `json:"provider"`
	HealthScore   int     `json:"health_score"`
	Status        string  `json:"status"`
	RequestsTotal int64   `json:"requests_total"`
	SuccessRate   float64 `json:"success_rate"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	RateLimits    int64   `json:"rate_limits"`
	Timeouts      int64   `json:"timeouts"`
	Errors        int64   `json:"errors"`
}

func statusLabel(score int) string {
	switch {
	case score > degradedThreshold:
		return "HEALTHY"
	case score > unhealthyThreshold:
		return "DEGRADED"
	default:
		return "UNHEALTHY"
	}
}

// Snapshot returns the metrics for every provider seen so far.
func (h *HealthMonitor) Snapshot() map[string]ProviderHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]ProviderHealth, len(h.metrics))
	for name, m := range h.metrics {
		out[name] = ProviderHealth{
			Provider:      name,
			HealthScore:   m.healthScore,
			Status:        statusLabel(m.healthScore),
			RequestsTotal: m.requestsTotal,
			SuccessRate:   m.successRate(),
			AvgLatencyMs:  m.avgLatencyMs(),
			RateLimits:    m.rateLimitsHit,
			Timeouts:      m.timeouts,
			Errors:        m.errors,
		}
	}
	return out
}
