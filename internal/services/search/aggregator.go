package search

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

// SubmitResult is handed back to each aggregator submitter.
type SubmitResult struct {
	Rows         []models.SerpRow
	Retries      int
	TotalFailure bool
	Err          error
}

type batchItem struct {
	query    string
	resultCh chan SubmitResult
}

// Aggregator coalesces concurrent single-query submissions into provider
// batch calls: a background consumer drains the submit channel until the
// batch is full or the wait window elapses, then issues one SearchBatch and
// fans results back out by index.
type Aggregator struct {
	client     *Client
	numResults int
	maxSize    int
	maxWait    time.Duration
	submitCh   chan *batchItem
	logger     arbor.ILogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewAggregator builds an aggregator over the given client. maxSize is
// clamped to the provider cap.
func NewAggregator(client *Client, numResults, maxSize int, maxWait time.Duration, logger arbor.ILogger) *Aggregator {
	if maxSize < 1 {
		maxSize = 1
	}
	if maxSize > batchCap {
		maxSize = batchCap
	}
	return &Aggregator{
		client:     client,
		numResults: numResults,
		maxSize:    maxSize,
		maxWait:    maxWait,
		submitCh:   make(chan *batchItem, batchCap),
		logger:     logger,
	}
}

// Start launches the consumer loop. Safe to call once.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.started = true

	go a.consumerLoop(ctx)

	a.logger.Info().
		Int("max_size", a.maxSize).
		Dur("max_wait", a.maxWait).
		Msg("Search batch aggregator started")
}

// Stop cancels the consumer and waits for it to drain.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}
	a.cancel()
	<-a.done
	a.started = false
	a.logger.Info().Msg("Search batch aggregator stopped")
}

// Submit hands one query to the aggregator and blocks until its batch
// completes or ctx is cancelled.
func (a *Aggregator) Submit(ctx context.Context, query string) (SubmitResult, error) {
	item := &batchItem{query: query, resultCh: make(chan SubmitResult, 1)}
	select {
	case a.submitCh <- item:
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}

	select {
	case result := <-item.resultCh:
		return result, nil
	case <-ctx.Done():
		return SubmitResult{}, ctx.Err()
	}
}

func (a *Aggregator) consumerLoop(ctx context.Context) {
	defer close(a.done)
	for {
		batch, shutdown := a.collectBatch(ctx)
		if len(batch) > 0 {
			a.processBatch(ctx, batch)
		}
		if shutdown {
			return
		}
	}
}

// collectBatch blocks for the first item, then drains until the batch is
// full or the wait window expires.
func (a *Aggregator) collectBatch(ctx context.Context) ([]*batchItem, bool) {
	var batch []*batchItem

	select {
	case item := <-a.submitCh:
		batch = append(batch, item)
	case <-ctx.Done():
		return nil, true
	}

	timer := time.NewTimer(a.maxWait)
	defer timer.Stop()

	for len(batch) < a.maxSize {
		select {
		case item := <-a.submitCh:
			batch = append(batch, item)
		case <-timer.C:
			return batch, false
		case <-ctx.Done():
			return batch, true
		}
	}
	return batch, false
}

func (a *Aggregator) processBatch(ctx context.Context, batch []*batchItem) {
	queries := make([]string, len(batch))
	for i, item := range batch {
		queries[i] = item.query
	}

	results, retries, totalFailure, err := a.client.SearchBatch(ctx, queries, a.numResults)
	if err != nil {
		a.logger.Error().Err(err).Int("queries", len(queries)).Msg("Batch search failed")
		for _, item := range batch {
			item.resultCh <- SubmitResult{Err: err}
		}
		return
	}

	a.logger.Info().
		Int("queries", len(queries)).
		Int("results", totalRows(results)).
		Msg("Batch search processed")

	for i, item := range batch {
		var rows []models.SerpRow
		if i < len(results) {
			rows = results[i]
		}
		item.resultCh <- SubmitResult{Rows: rows, Retries: retries, TotalFailure: totalFailure}
	}
}
