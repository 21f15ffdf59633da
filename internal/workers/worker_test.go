package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/common"
	"github.com/datalupa/perfilador/internal/models"
)

type fakeQueue struct {
	mu     sync.Mutex
	jobs   []models.ClaimedJob
	acked  []int64
	failed map[int64]string
}

func newFakeQueue(jobs ...models.ClaimedJob) *fakeQueue {
	return &fakeQueue{jobs: jobs, failed: make(map[int64]string)}
}

func (f *fakeQueue) Table() string { return "queue_test" }

func (f *fakeQueue) Claim(ctx context.Context, workerID string, limit int) ([]models.ClaimedJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return nil, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return []models.ClaimedJob{job}, nil
}

func (f *fakeQueue) Ack(ctx context.Context, jobID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, jobID)
	return nil
}

func (f *fakeQueue) Fail(ctx context.Context, jobID int64, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = errMessage
	return nil
}

func (f *fakeQueue) Metrics(ctx context.Context) (*models.QueueMetrics, error) {
	return &models.QueueMetrics{}, nil
}

func (f *fakeQueue) settled() (acked []int64, failed map[int64]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.acked...), f.failed
}

func testQueueConfig() common.QueueConfig {
	return common.QueueConfig{SleepEmptySecs: 1, LivenessCycles: 30}
}

// runUntilDrained runs the worker and cancels it once fn observes the
// expected number of processed jobs.
func runUntilDrained(t *testing.T, w *Worker, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		for {
			if done() {
				cancel()
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestWorkerAcksSuccessfulJobs(t *testing.T) {
	queue := newFakeQueue(
		models.ClaimedJob{ID: 1, CNPJBasico: "11111111"},
		models.ClaimedJob{ID: 2, CNPJBasico: "22222222"},
	)

	var mu sync.Mutex
	var processed []string
	runner := func(ctx context.Context, cnpjBasico string) error {
		mu.Lock()
		defer mu.Unlock()
		processed = append(processed, cnpjBasico)
		return nil
	}

	w := NewWorker(queue, runner, "test-worker-1", testQueueConfig(), arbor.NewLogger())
	runUntilDrained(t, w, func() bool {
		acked, _ := queue.settled()
		return len(acked) == 2
	})

	acked, failed := queue.settled()
	if len(acked) != 2 || len(failed) != 0 {
		t.Fatalf("acked = %v, failed = %v", acked, failed)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(processed) != 2 {
		t.Errorf("processed = %v", processed)
	}
}

func TestWorkerFailsErroringJobs(t *testing.T) {
	queue := newFakeQueue(models.ClaimedJob{ID: 9, CNPJBasico: "33333333"})
	runner := func(ctx context.Context, cnpjBasico string) error {
		return errors.New("stage blew up")
	}

	w := NewWorker(queue, runner, "test-worker-2", testQueueConfig(), arbor.NewLogger())
	runUntilDrained(t, w, func() bool {
		_, failed := queue.settled()
		return len(failed) == 1
	})

	_, failed := queue.settled()
	if failed[9] != "stage blew up" {
		t.Errorf("failed[9] = %q", failed[9])
	}
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	queue := newFakeQueue(models.ClaimedJob{ID: 4, CNPJBasico: "44444444"})
	runner := func(ctx context.Context, cnpjBasico string) error {
		panic("nil map write")
	}

	w := NewWorker(queue, runner, "test-worker-3", testQueueConfig(), arbor.NewLogger())
	runUntilDrained(t, w, func() bool {
		_, failed := queue.settled()
		return len(failed) == 1
	})

	_, failed := queue.settled()
	if failed[4] == "" {
		t.Fatal("panicking job was not failed")
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	queue := newFakeQueue()
	w := NewWorker(queue, func(ctx context.Context, s string) error { return nil },
		"test-worker-4", testQueueConfig(), arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestWorkerIDs(t *testing.T) {
	if id := DiscoveryWorkerID(); id == "" || id == ProfileWorkerID() {
		t.Errorf("discovery id = %q, profile id = %q", id, ProfileWorkerID())
	}
}
