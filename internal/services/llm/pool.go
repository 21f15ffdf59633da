package llm

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"
)

// Priority selects the admission lane for a call. High-priority calls
// run immediately; normal-priority calls wait until no high-priority
// call is in flight, so the discovery stage is never starved by bulk
// profile extraction.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

const (
	highPriorityPollInterval = 50 * time.Millisecond

	defaultFallbackRetries   = 2
	defaultFallbackBaseDelay = time.Second
)

// Selection is the outcome of ranking providers for a call.
type Selection struct {
	Provider      string
	HealthScore   int
	EstimatedWait time.Duration
}

// Pool owns the configured providers, their concurrency limits and
// their health state, and routes calls across them.
type Pool struct {
	configs    map[string]ProviderConfig
	providers  map[string]Provider
	semaphores map[string]*semaphore.Weighted
	names      []string

	health     *HealthMonitor
	highActive atomic.Int64
	rrIndex    atomic.Uint64

	fallbackRetries   int
	fallbackBaseDelay time.Duration

	logger arbor.ILogger
}

// NewPool builds adapters for every usable provider config.
func NewPool(configs []ProviderConfig, logger arbor.ILogger) (*Pool, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no usable LLM providers configured")
	}

	pool := &Pool{
		configs:           make(map[string]ProviderConfig, len(configs)),
		providers:         make(map[string]Provider, len(configs)),
		semaphores:        make(map[string]*semaphore.Weighted, len(configs)),
		names:             make([]string, 0, len(configs)),
		health:            NewHealthMonitor(logger),
		fallbackRetries:   defaultFallbackRetries,
		fallbackBaseDelay: defaultFallbackBaseDelay,
		logger:            logger,
	}

	for _, cfg := range configs {
		provider, err := newProvider(cfg, logger)
		if err != nil {
			return nil, err
		}
		pool.configs[cfg.Name] = cfg
		pool.providers[cfg.Name] = provider
		pool.semaphores[cfg.Name] = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
		pool.names = append(pool.names, cfg.Name)

		logger.Info().
			Str("provider", cfg.Name).
			Str("type", cfg.Type).
			Str("model", cfg.Model).
			Int("max_concurrent", cfg.MaxConcurrent).
			Int("priority", cfg.Priority).
			Int("weight", cfg.Weight).
			Msg("LLM provider registered")
	}

	return pool, nil
}

// Providers returns the registered provider names in registration order.
func (p *Pool) Providers() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Health exposes the pool's health monitor.
func (p *Pool) Health() *HealthMonitor { return p.health }

// Call runs one completion on a named provider, honoring the priority
// gate and the provider's concurrency limit. It returns the response
// content and the round-trip latency.
func (p *Pool) Call(ctx context.Context, provider string, req Request, priority Priority) (string, time.Duration, error) {
	adapter, ok := p.providers[provider]
	if !ok {
		return "", 0, &ProviderError{Provider: provider, Err: fmt.Errorf("provider not registered")}
	}
	cfg := p.configs[provider]

	if priority == PriorityHigh {
		p.highActive.Add(1)
		defer p.highActive.Add(-1)
	} else {
		if err := p.waitForHighPriority(ctx); err != nil {
			return "", 0, err
		}
	}

	sem := p.semaphores[provider]
	if err := sem.Acquire(ctx, 1); err != nil {
		return "", 0, &ProviderError{Provider: provider, Err: fmt.Errorf("failed to acquire provider slot: %w", err)}
	}
	defer sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSecs*float64(time.Second)))
	defer cancel()

	start := time.Now()
	content, err := adapter.Complete(callCtx, req)
	latency := time.Since(start)

	if err != nil {
		p.recordFailure(provider, err, latency)
		return "", latency, err
	}

	p.health.RecordSuccess(provider, latency)
	p.logger.Debug().
		Str("provider", provider).
		Int("response_chars", len(content)).
		Int64("latency_ms", latency.Milliseconds()).
		Msg("LLM call completed")

	return content, latency, nil
}

// waitForHighPriority blocks a normal-priority caller while any
// high-priority call is in flight, polling every 50ms.
func (p *Pool) waitForHighPriority(ctx context.Context) error {
	for p.highActive.Load() > 0 {
		select {
		case <-ctx.Done():
			return &ProviderError{Provider: "pool", Err: ctx.Err()}
		case <-time.After(highPriorityPollInterval):
		}
	}
	return nil
}

func (p *Pool) recordFailure(provider string, err error, latency time.Duration) {
	kind := FailureError
	switch {
	case IsRateLimit(err):
		kind = FailureRateLimit
	case IsTimeout(err):
		kind = FailureTimeout
	case IsBadRequest(err):
		kind = FailureBadRequest
	}
	p.health.RecordFailure(provider, kind, latency)

	p.logger.Warn().
		Str("provider", provider).
		Int64("latency_ms", latency.Milliseconds()).
		Err(err).
		Msg("LLM call failed")
}

// WeightedList builds a shuffled list of count provider names where
// each healthy provider appears proportionally to its weight. Used to
// spread a batch of chunks across providers.
func (p *Pool) WeightedList(count int) []string {
	providers := p.health.HealthyProviders(p.names)
	if len(providers) == 0 {
		providers = p.Providers()
	}
	if len(providers) == 0 || count <= 0 {
		return nil
	}

	totalWeight := 0
	for _, name := range providers {
		totalWeight += p.configs[name].Weight
	}

	distributed := make([]string, 0, count)
	for _, name := range providers {
		share := count * p.configs[name].Weight / totalWeight
		if share < 1 {
			share = 1
		}
		for i := 0; i < share; i++ {
			distributed = append(distributed, name)
		}
	}

	for len(distributed) < count {
		best := providers[0]
		for _, name := range providers[1:] {
			if p.configs[name].Weight > p.configs[best].Weight {
				best = name
			}
		}
		distributed = append(distributed, best)
	}

	rand.Shuffle(len(distributed), func(i, j int) {
		distributed[i], distributed[j] = distributed[j], distributed[i]
	})

	return distributed[:count]
}

// BestProvider ranks providers by combined health, configured priority
// and estimated wait, excluding any names in exclude. When no provider
// is healthy the full candidate set is ranked anyway so the caller can
// still make progress.
func (p *Pool) BestProvider(exclude []string) (*Selection, bool) {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	candidates := make([]string, 0, len(p.names))
	for _, name := range p.names {
		if !excluded[name] {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}

	ranked := p.health.HealthyProviders(candidates)
	if len(ranked) == 0 {
		p.logger.Warn().Msg("No healthy LLM provider, ranking all candidates")
		ranked = candidates
	}

	var best *Selection
	var bestScore float64
	for _, name := range ranked {
		healthScore := p.health.Score(name)
		wait := p.estimatedWait(name)

		waitPenalty := wait.Seconds() * 10
		if waitPenalty > 100 {
			waitPenalty = 100
		}
		combined := float64(healthScore)*0.5 +
			float64(p.configs[name].Priority)*0.3 +
			(100-waitPenalty)*0.2

		if best == nil || combined > bestScore {
			best = &Selection{Provider: name, HealthScore: healthScore, EstimatedWait: wait}
			bestScore = combined
		}
	}

	return best, best != nil
}

// estimatedWait probes the provider's semaphore. A saturated provider
// gets a flat one-second estimate, which is enough to push the ranking
// toward an idle one.
func (p *Pool) estimatedWait(provider string) time.Duration {
	sem := p.semaphores[provider]
	if sem.TryAcquire(1) {
		sem.Release(1)
		return 0
	}
	return time.Second
}

// NextRoundRobin returns the next provider in rotation, skipping the
// exclude set.
func (p *Pool) NextRoundRobin(exclude []string) (string, bool) {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	available := make([]string, 0, len(p.names))
	for _, name := range p.names {
		if !excluded[name] {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return "", false
	}

	idx := p.rrIndex.Add(1) - 1
	return available[idx%uint64(len(available))], true
}

// CallWithFallback tries each provider in order (preferred first, then
// the remaining providers sorted by health) with per-provider retries
// and exponential backoff. A BadRequestError aborts the whole chain:
// the payload itself is broken and no provider will accept it.
func (p *Pool) CallWithFallback(ctx context.Context, req Request, priority Priority, preferred string) (string, string, time.Duration, error) {
	order := p.fallbackOrder(preferred)
	if len(order) == 0 {
		return "", "", 0, &ProviderError{Provider: "pool", Err: fmt.Errorf("no providers available")}
	}

	var lastErr error
	for _, provider := range order {
		content, latency, err := p.callWithRetry(ctx, provider, req, priority)
		if err == nil {
			return content, provider, latency, nil
		}
		if IsBadRequest(err) {
			return "", provider, latency, err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}

		p.logger.Warn().
			Str("provider", provider).
			Err(err).
			Msg("Provider exhausted, falling back to next")
	}

	return "", "", 0, fmt.Errorf("all providers failed: %w", lastErr)
}

func (p *Pool) fallbackOrder(preferred string) []string {
	ranked := p.health.HealthyProviders(p.names)
	if len(ranked) == 0 {
		ranked = p.Providers()
	}

	if preferred == "" {
		return ranked
	}
	if _, ok := p.providers[preferred]; !ok {
		return ranked
	}

	order := make([]string, 0, len(ranked)+1)
	order = append(order, preferred)
	for _, name := range ranked {
		if name != preferred {
			order = append(order, name)
		}
	}
	return order
}

func (p *Pool) callWithRetry(ctx context.Context, provider string, req Request, priority Priority) (string, time.Duration, error) {
	var lastErr error
	var lastLatency time.Duration

	for attempt := 0; attempt <= p.fallbackRetries; attempt++ {
		content, latency, err := p.Call(ctx, provider, req, priority)
		if err == nil {
			return content, latency, nil
		}
		if IsBadRequest(err) {
			return "", latency, err
		}
		lastErr = err
		lastLatency = latency

		if attempt < p.fallbackRetries {
			delay := p.fallbackBaseDelay << uint(attempt)
			p.logger.Info().
				Str("provider", provider).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying LLM call")

			select {
			case <-ctx.Done():
				return "", lastLatency, &ProviderError{Provider: provider, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
	}

	return "", lastLatency, lastErr
}

// Status reports per-provider configuration and health for the status
// endpoint.
func (p *Pool) Status() map[string]any {
	healthByName := p.health.Snapshot()

	status := make(map[string]any, len(p.names))
	for _, name := range p.names {
		cfg := p.configs[name]
		entry := map[string]any{
			"model":          cfg.Model,
			"type":           cfg.Type,
			"priority":       cfg.Priority,
			"weight":         cfg.Weight,
			"max_concurrent": cfg.MaxConcurrent,
		}
		if h, ok := healthByName[name]; ok {
			entry["health"] = h
		}
		status[name] = entry
	}
	return status
}
