package workers

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/common"
)

// StaleQueue is the slice of the queue surface the sweeper needs.
type StaleQueue interface {
	Table() string
	ResetStaleLocks(ctx context.Context, grace time.Duration) (int64, error)
}

// Sweeper periodically requeues jobs whose worker died mid-claim: any job
// still locked past the grace window goes back to queued.
type Sweeper struct {
	queues   []StaleQueue
	schedule string
	grace    time.Duration
	cron     *cron.Cron
	logger   arbor.ILogger
}

func NewSweeper(queues []StaleQueue, cfg common.QueueConfig, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		queues:   queues,
		schedule: cfg.SweepSchedule,
		grace:    time.Duration(cfg.StaleGraceMins) * time.Minute,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the sweep job and launches the cron loop.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("grace", s.grace).
		Msg("Stale-lock sweeper started")
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Stale-lock sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, queue := range s.queues {
		reset, err := queue.ResetStaleLocks(ctx, s.grace)
		if err != nil {
			s.logger.Error().
				Str("queue", queue.Table()).
				Err(err).
				Msg("Stale-lock sweep failed")
			continue
		}
		if reset > 0 {
			s.logger.Warn().
				Str("queue", queue.Table()).
				Int64("reset", reset).
				Msg("Requeued stale jobs")
		}
	}
}
