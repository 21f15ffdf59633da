package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/common"
	"github.com/datalupa/perfilador/internal/storage/serpcache"
)

func testSearchConfig(baseURL string) common.SearchConfig {
	return common.SearchConfig{
		BaseURL:                baseURL,
		APIKey:                 "test-key",
		RatePerSecond:          1000,
		Burst:                  1000,
		MaxConcurrent:          10,
		RequestTimeoutSecs:     5,
		ConnectTimeoutSecs:     2,
		MaxRetries:             2,
		BaseDelayMs:            1,
		MaxDelayMs:             5,
		LimiterTimeoutSecs:     2,
		RetryLimiterTimeoutSec: 1,
		SemaphoreTimeoutSecs:   2,
		RetryAfterMaxSecs:      60,
		JitterMs:               0,
		NumResults:             10,
	}
}

func testCache(t *testing.T) *serpcache.Cache {
	t.Helper()
	cache, err := serpcache.New("", time.Hour, arbor.NewLogger())
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func serpBody(perQuery ...int) string {
	type result struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	}
	type entry struct {
		Results []result `json:"results"`
	}
	entries := make([]entry, len(perQuery))
	for i, n := range perQuery {
		for j := 0; j < n; j++ {
			entries[i].Results = append(entries[i].Results, result{
				Title:   "Acme Cabos",
				Link:    "https://acmecabos.com.br",
				Snippet: "Site oficial",
			})
		}
	}
	body, _ := json.Marshal(map[string]any{"code": 200, "data": entries})
	return string(body)
}

func TestSearchServesRepeatQueriesFromCache(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(serpBody(2)))
	}))
	defer server.Close()

	client := NewClient(testSearchConfig(server.URL), testCache(t), arbor.NewLogger())

	rows, _, totalFailure, err := client.Search(context.Background(), "acme cabos joinville site oficial", 10)
	if err != nil || totalFailure {
		t.Fatalf("first search failed: err=%v totalFailure=%v", err, totalFailure)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	cached, _, totalFailure, err := client.Search(context.Background(), "acme cabos joinville site oficial", 10)
	if err != nil || totalFailure {
		t.Fatalf("second search failed: err=%v totalFailure=%v", err, totalFailure)
	}
	if len(cached) != 2 {
		t.Fatalf("expected 2 cached rows, got %d", len(cached))
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("expected exactly 1 provider call, got %d", got)
	}
}

func TestSearchCacheKeysIncludeNumResults(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(serpBody(1)))
	}))
	defer server.Close()

	client := NewClient(testSearchConfig(server.URL), testCache(t), arbor.NewLogger())

	if _, _, _, err := client.Search(context.Background(), "acme", 10); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if _, _, _, err := client.Search(context.Background(), "acme", 20); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("different num_results must not share cache entries, got %d calls", got)
	}
}

func TestSearchDoesNotCacheTotalFailures(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(testSearchConfig(server.URL), testCache(t), arbor.NewLogger())

	_, _, totalFailure, err := client.Search(context.Background(), "acme", 10)
	if err != nil {
		t.Fatalf("search errored: %v", err)
	}
	if !totalFailure {
		t.Fatal("expected total failure on 403")
	}

	if _, _, _, err := client.Search(context.Background(), "acme", 10); err != nil {
		t.Fatalf("search errored: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("failed lookups must not be cached, got %d calls", got)
	}
}

func TestSearchBatchTruncatesToProviderCap(t *testing.T) {
	var calls atomic.Int64
	var gotQueries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var payload struct {
			Queries []string `json:"queries"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		gotQueries = payload.Queries

		counts := make([]int, len(payload.Queries))
		for i := range counts {
			counts[i] = 1
		}
		w.Write([]byte(serpBody(counts...)))
	}))
	defer server.Close()

	client := NewClient(testSearchConfig(server.URL), nil, arbor.NewLogger())

	queries := make([]string, 150)
	for i := range queries {
		queries[i] = "empresa " + string(rune('a'+i%26)) + " site oficial"
	}

	results, _, totalFailure, err := client.SearchBatch(context.Background(), queries, 10)
	if err != nil || totalFailure {
		t.Fatalf("batch failed: err=%v totalFailure=%v", err, totalFailure)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 provider call, got %d", got)
	}
	if len(gotQueries) != 100 {
		t.Errorf("expected 100 queries on the wire, got %d", len(gotQueries))
	}
	if len(results) != 100 {
		t.Errorf("expected 100 result lists, got %d", len(results))
	}
}

func TestSearchBatchServesMissesOnlyOverTheWire(t *testing.T) {
	var gotQueries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Queries []string `json:"queries"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		gotQueries = payload.Queries

		counts := make([]int, len(payload.Queries))
		for i := range counts {
			counts[i] = 1
		}
		w.Write([]byte(serpBody(counts...)))
	}))
	defer server.Close()

	client := NewClient(testSearchConfig(server.URL), testCache(t), arbor.NewLogger())

	if _, _, _, err := client.Search(context.Background(), "cached query", 10); err != nil {
		t.Fatalf("priming search failed: %v", err)
	}

	results, _, _, err := client.SearchBatch(context.Background(), []string{"cached query", "fresh query"}, 10)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 result lists, got %d", len(results))
	}
	if len(gotQueries) != 1 || gotQueries[0] != "fresh query" {
		t.Errorf("only the cache miss should go over the wire, got %v", gotQueries)
	}
	if len(results[0]) != 1 || len(results[1]) != 1 {
		t.Errorf("both queries should have rows: %d, %d", len(results[0]), len(results[1]))
	}
}
