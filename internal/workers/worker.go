package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/common"
	"github.com/datalupa/perfilador/internal/models"
)

// JobQueue is the durable queue surface a worker drives.
type JobQueue interface {
	Table() string
	Claim(ctx context.Context, workerID string, limit int) ([]models.ClaimedJob, error)
	Ack(ctx context.Context, jobID int64) error
	Fail(ctx context.Context, jobID int64, errMessage string) error
	Metrics(ctx context.Context) (*models.QueueMetrics, error)
}

// JobRunner executes one claimed job. A nil return acks the job; an error
// fails it, leaving the retry decision to the queue protocol.
type JobRunner func(ctx context.Context, cnpjBasico string) error

// DiscoveryWorkerID returns the default stage-2 worker identity.
func DiscoveryWorkerID() string {
	return common.WorkerID("discovery")
}

// ProfileWorkerID returns the default stage-4 worker identity.
func ProfileWorkerID() string {
	return common.WorkerID("")
}

// Worker is one claim loop over one queue: claim, run, ack or fail,
// sleep when the queue is empty. Shutdown rides the context.
type Worker struct {
	queue          JobQueue
	run            JobRunner
	id             string
	sleepEmpty     time.Duration
	livenessCycles int
	logger         arbor.ILogger
}

func NewWorker(queue JobQueue, run JobRunner, id string, cfg common.QueueConfig, logger arbor.ILogger) *Worker {
	return &Worker{
		queue:          queue,
		run:            run,
		id:             id,
		sleepEmpty:     time.Duration(cfg.SleepEmptySecs) * time.Second,
		livenessCycles: cfg.LivenessCycles,
		logger:         logger,
	}
}

// Run drives the claim loop until ctx is cancelled. Always returns nil on
// clean shutdown so a supervised process exits 0.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Str("worker_id", w.id).
		Str("queue", w.queue.Table()).
		Msg("Worker started")

	emptyCycles := 0
	for {
		if ctx.Err() != nil {
			break
		}

		jobs, err := w.queue.Claim(ctx, w.id, 1)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error().
				Str("queue", w.queue.Table()).
				Err(err).
				Msg("Claim failed")
			if !w.sleep(ctx) {
				break
			}
			continue
		}

		if len(jobs) == 0 {
			emptyCycles++
			if w.livenessCycles > 0 && emptyCycles%w.livenessCycles == 0 {
				w.logLiveness(ctx)
			}
			if !w.sleep(ctx) {
				break
			}
			continue
		}

		emptyCycles = 0
		for _, job := range jobs {
			w.process(ctx, job)
		}
	}

	w.logger.Info().
		Str("worker_id", w.id).
		Str("queue", w.queue.Table()).
		Msg("Worker stopped")
	return nil
}

// process runs one job and settles it. A panic inside the stage is treated
// like any other failure so the claim does not stay locked until the
// stale-lock sweep.
func (w *Worker) process(ctx context.Context, job models.ClaimedJob) {
	err := w.runSafely(ctx, job.CNPJBasico)
	if err != nil {
		w.logger.Error().
			Int64("job_id", job.ID).
			Str("cnpj_basico", job.CNPJBasico).
			Str("queue", w.queue.Table()).
			Err(err).
			Msg("Job failed")
		if failErr := w.queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error().Int64("job_id", job.ID).Err(failErr).Msg("Failed to settle job as failed")
		}
		return
	}

	if ackErr := w.queue.Ack(ctx, job.ID); ackErr != nil {
		w.logger.Error().Int64("job_id", job.ID).Err(ackErr).Msg("Failed to ack job")
	}
}

func (w *Worker) runSafely(ctx context.Context, cnpjBasico string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.run(ctx, cnpjBasico)
}

// logLiveness emits a heartbeat with queue depth so an idle worker is
// distinguishable from a wedged one.
func (w *Worker) logLiveness(ctx context.Context) {
	event := w.logger.Info().
		Str("worker_id", w.id).
		Str("queue", w.queue.Table())

	if metrics, err := w.queue.Metrics(ctx); err == nil {
		event = event.
			Int("queued", metrics.Queued).
			Int("processing", metrics.Processing).
			Int("failed", metrics.Failed)
	}
	event.Msg("Worker idle")
}

func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-time.After(w.sleepEmpty):
		return true
	case <-ctx.Done():
		return false
	}
}
