package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/datalupa/perfilador/internal/common"
	"github.com/datalupa/perfilador/internal/models"
	"github.com/datalupa/perfilador/internal/storage/serpcache"
)

// batchCap is the provider's per-request query limit.
const batchCap = 100

var (
	// ErrRateLimiterTimeout means no pacing token became available within
	// the acquisition timeout. Callers retry via queue backoff.
	ErrRateLimiterTimeout = errors.New("search: rate limiter acquisition timed out")

	// ErrSemaphoreTimeout means no connection slot became available within
	// the acquisition timeout.
	ErrSemaphoreTimeout = errors.New("search: connection semaphore acquisition timed out")
)

// Client mediates all calls to the Serpshot SERP API. Admission is
// two-gated: a token bucket shapes the rate of new requests, a semaphore
// bounds the population of in-flight requests. Both are process-wide.
type Client struct {
	cfg        common.SearchConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	sem        *semaphore.Weighted
	cache      *serpcache.Cache
	metrics    *Metrics
	logger     arbor.ILogger
}

// NewClient builds the SERP client. cache may be nil to disable caching.
func NewClient(cfg common.SearchConfig, cache *serpcache.Cache, logger arbor.ILogger) *Client {
	dialer := &net.Dialer{Timeout: time.Duration(cfg.ConnectTimeoutSecs) * time.Second}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        int(cfg.MaxConcurrent),
		MaxIdleConnsPerHost: int(cfg.MaxConcurrent),
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		cache:   cache,
		metrics: &Metrics{},
		logger:  logger,
	}
}

// Metrics returns the client's live metrics.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Search runs one query. Returns the parsed rows, the number of retries
// consumed, and totalFailure=true when retries were exhausted or the
// provider rejected the request permanently (empty rows, callers persist an
// empty marker row). Capacity timeouts surface as errors instead.
func (c *Client) Search(ctx context.Context, query string, numResults int) ([]models.SerpRow, int, bool, error) {
	if c.cache != nil {
		if rows, ok := c.cache.Get(query, numResults); ok {
			c.logger.Debug().Str("query", query).Msg("SERP cache hit")
			return rows, 0, false, nil
		}
	}

	if err := c.acquireGates(ctx, false); err != nil {
		return nil, 0, false, err
	}
	defer c.releaseSlot()

	rows, retries, totalFailure := c.searchWithRetry(ctx, []string{query}, numResults)

	var result []models.SerpRow
	if len(rows) > 0 {
		result = rows[0]
	}
	if !totalFailure && c.cache != nil {
		c.cache.Set(query, numResults, result)
	}
	return result, retries, totalFailure, nil
}

// SearchBatch runs up to 100 queries in one provider call. Queries beyond
// the cap are dropped with a warning. Cached queries are served locally and
// only the misses go over the wire.
func (c *Client) SearchBatch(ctx context.Context, queries []string, numResults int) ([][]models.SerpRow, int, bool, error) {
	if len(queries) == 0 {
		return nil, 0, false, nil
	}
	if len(queries) > batchCap {
		c.logger.Warn().
			Int("requested", len(queries)).
			Int("cap", batchCap).
			Msg("Batch truncated to provider cap")
		queries = queries[:batchCap]
	}

	results := make([][]models.SerpRow, len(queries))
	missIdx := make([]int, 0, len(queries))
	missQueries := make([]string, 0, len(queries))
	for i, q := range queries {
		if c.cache != nil {
			if rows, ok := c.cache.Get(q, numResults); ok {
				results[i] = rows
				continue
			}
		}
		missIdx = append(missIdx, i)
		missQueries = append(missQueries, q)
	}
	if len(missQueries) == 0 {
		return results, 0, false, nil
	}

	if err := c.acquireGates(ctx, false); err != nil {
		return nil, 0, false, err
	}
	defer c.releaseSlot()

	fetched, retries, totalFailure := c.searchWithRetry(ctx, missQueries, numResults)

	for j, idx := range missIdx {
		var rows []models.SerpRow
		if j < len(fetched) {
			rows = fetched[j]
		}
		results[idx] = rows
		if !totalFailure && c.cache != nil {
			c.cache.Set(missQueries[j], numResults, rows)
		}
	}

	return results, retries, totalFailure, nil
}

// acquireGates waits for a pacing token, then an in-flight slot. The retry
// flag selects the shorter token timeout used between attempts.
func (c *Client) acquireGates(ctx context.Context, retry bool) error {
	limiterTimeout := time.Duration(c.cfg.LimiterTimeoutSecs) * time.Second
	if retry {
		limiterTimeout = time.Duration(c.cfg.RetryLimiterTimeoutSec) * time.Second
	}

	rateCtx, cancel := context.WithTimeout(ctx, limiterTimeout)
	defer cancel()
	if err := c.limiter.Wait(rateCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRateLimiterTimeout
	}
	if retry {
		// Retries already hold a connection slot.
		return nil
	}

	semCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.SemaphoreTimeoutSecs)*time.Second)
	defer cancel()
	if err := c.sem.Acquire(semCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrSemaphoreTimeout
	}
	c.metrics.inFlight.Add(1)
	return nil
}

func (c *Client) releaseSlot() {
	c.metrics.inFlight.Add(-1)
	c.sem.Release(1)
}

// searchWithRetry issues the provider call with up to MaxRetries attempts.
// 429 responses reuse the parsed Retry-After as base delay; other transient
// failures use capped exponential backoff. Jitter is added either way, and a
// fresh pacing token is taken before every retry.
func (c *Client) searchWithRetry(ctx context.Context, queries []string, numResults int) ([][]models.SerpRow, int, bool) {
	var (
		lastErr       string
		lastErrType   string
		retryAfter    time.Duration
		hasRetryAfter bool
		retries       int
	)

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			retries++

			baseDelay := time.Duration(c.cfg.BaseDelayMs) * time.Millisecond << (attempt - 1)
			maxDelay := time.Duration(c.cfg.MaxDelayMs) * time.Millisecond
			if baseDelay > maxDelay {
				baseDelay = maxDelay
			}
			delaySrc := "backoff"
			if hasRetryAfter {
				baseDelay = retryAfter
				delaySrc = "retry-after"
				hasRetryAfter = false
			}

			jitterCap := time.Duration(c.cfg.JitterMs) * time.Millisecond
			if half := baseDelay / 2; half < jitterCap {
				jitterCap = half
			}
			delay := baseDelay
			if jitterCap > 0 {
				delay += time.Duration(rand.Int63n(int64(jitterCap)))
			}

			c.logger.Warn().
				Int("attempt", attempt+1).
				Int("max_retries", c.cfg.MaxRetries).
				Dur("delay", delay).
				Str("reason", lastErrType).
				Str("delay_src", delaySrc).
				Msg("Serpshot retry")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.metrics.failedRequests.Add(1)
				return emptyResults(len(queries)), retries, true
			}

			if err := c.acquireGates(ctx, true); err != nil {
				lastErr = err.Error()
				lastErrType = "rate_limit_timeout"
				continue
			}
		}

		start := time.Now()
		status, headers, body, err := c.doRequest(ctx, queries, numResults)
		latency := time.Since(start)

		c.metrics.totalRequests.Add(1)
		c.metrics.totalLatencyMs.Add(latency.Milliseconds())

		if err != nil {
			lastErr = err.Error()
			lastErrType = "error"
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				lastErrType = "timeout"
			}
			c.logger.Warn().
				Str("error", lastErr).
				Int("attempt", attempt+1).
				Msg("Serpshot request failed")
			continue
		}

		logRateLimitHeaders(c.logger, headers, status)

		switch {
		case status == http.StatusTooManyRequests:
			c.metrics.rateLimited.Add(1)
			if d, ok := ParseRetryAfter(headers.Get("Retry-After"), time.Duration(c.cfg.RetryAfterMaxSecs)*time.Second); ok {
				retryAfter = d
				hasRetryAfter = true
			}
			lastErr = "rate limit (429)"
			lastErrType = "rate_limit"
			continue

		case status >= 500:
			lastErr = fmt.Sprintf("server error (%d)", status)
			lastErrType = "error"
			continue

		case status >= 400:
			c.metrics.failedRequests.Add(1)
			c.logger.Error().Int("status", status).Msg("Serpshot client error")
			return emptyResults(len(queries)), retries, true
		}

		batch := parseResponse(body, len(queries))
		c.metrics.successRequests.Add(1)
		c.logger.Info().
			Int("queries", len(queries)).
			Int("results", totalRows(batch)).
			Int64("latency_ms", latency.Milliseconds()).
			Msg("Serpshot search completed")
		return batch, retries, false
	}

	c.metrics.failedRequests.Add(1)
	c.logger.Error().
		Int("max_retries", c.cfg.MaxRetries).
		Str("error_type", lastErrType).
		Str("error", lastErr).
		Msg("Serpshot failed after all retries")
	return emptyResults(len(queries)), retries, true
}

// doRequest performs one HTTP round trip against the provider.
func (c *Client) doRequest(ctx context.Context, queries []string, numResults int) (int, http.Header, []byte, error) {
	num := numResults
	if num > 30 {
		num = 30
	}
	payload, err := json.Marshal(map[string]any{
		"queries":  queries,
		"type":     "search",
		"num":      num,
		"page":     1,
		"location": "BR",
		"lr":       "pt-BR",
		"gl":       "br",
		"hl":       "pt-BR",
	})
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/search/google"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, resp.Header, body, nil
}

// parseResponse maps the provider payload to one row list per query.
// data may be a single object or an array of per-query objects; anything
// malformed maps to empty lists, never an error.
func parseResponse(body []byte, queryCount int) [][]models.SerpRow {
	var envelope struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Data) == 0 {
		return emptyResults(queryCount)
	}

	type entry struct {
		Results []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}

	var entries []entry
	if err := json.Unmarshal(envelope.Data, &entries); err != nil {
		var single entry
		if err := json.Unmarshal(envelope.Data, &single); err != nil {
			return emptyResults(queryCount)
		}
		entries = []entry{single}
	}

	out := emptyResults(queryCount)
	for i := 0; i < queryCount && i < len(entries); i++ {
		rows := make([]models.SerpRow, 0, len(entries[i].Results))
		for _, r := range entries[i].Results {
			rows = append(rows, models.SerpRow{
				Title:   strings.TrimSpace(r.Title),
				Link:    strings.TrimSpace(r.Link),
				Snippet: strings.TrimSpace(r.Snippet),
			})
		}
		out[i] = rows
	}
	return out
}

func emptyResults(n int) [][]models.SerpRow {
	out := make([][]models.SerpRow, n)
	for i := range out {
		out[i] = []models.SerpRow{}
	}
	return out
}

func totalRows(batch [][]models.SerpRow) int {
	total := 0
	for _, rows := range batch {
		total += len(rows)
	}
	return total
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// logRateLimitHeaders surfaces the provider's X-RateLimit-* headers for
// quota monitoring. Observability only.
func logRateLimitHeaders(logger arbor.ILogger, headers http.Header, status int) {
	limit := headers.Get("X-RateLimit-Limit")
	remaining := headers.Get("X-RateLimit-Remaining")
	reset := headers.Get("X-RateLimit-Reset")
	if limit == "" && remaining == "" && reset == "" {
		return
	}
	logger.Debug().
		Int("status", status).
		Str("limit", limit).
		Str("remaining", remaining).
		Str("reset", reset).
		Msg("Serpshot rate limit headers")
}
