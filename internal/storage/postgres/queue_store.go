package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ternarybob/arbor"

	"github.com/datalupa/perfilador/internal/models"
)

const (
	// maxErrorLength bounds last_error so a pathological stack trace cannot
	// bloat the queue table.
	maxErrorLength = 5000

	uniqueViolationCode = "23505"
)

// ErrJobNotFound is returned when an ack or fail references a job id that
// does not exist in the queue table.
var ErrJobNotFound = errors.New("queue job not found")

// QueueStore implements the durable queue protocol over one Postgres table.
// Both pipeline queues (discovery and profile) are instances of this type
// pointed at different tables.
type QueueStore struct {
	db          *sql.DB
	table       string
	maxAttempts int
	backoff     time.Duration
	logger      arbor.ILogger
}

// NewQueueStore creates a queue store bound to the given queue table.
func NewQueueStore(db *sql.DB, table string, maxAttempts int, backoff time.Duration, logger arbor.ILogger) *QueueStore {
	return &QueueStore{
		db:          db,
		table:       table,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      logger,
	}
}

// Table returns the queue table name (used in logs and metrics labels).
func (s *QueueStore) Table() string {
	return s.table
}

// Enqueue creates a job for the company unless an active one already exists.
// Returns true iff a new row was inserted. The pre-check keeps the common
// path cheap; the unique-violation catch makes concurrent duplicates safe.
func (s *QueueStore) Enqueue(ctx context.Context, cnpjBasico string) (bool, error) {
	var exists bool
	checkQuery := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM busca_fornecedor.%s
			WHERE cnpj_basico = $1 AND status IN ('queued', 'processing')
		)`, s.table)
	if err := s.db.QueryRowContext(ctx, checkQuery, cnpjBasico).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check active job: %w", err)
	}
	if exists {
		return false, nil
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO busca_fornecedor.%s (cnpj_basico, status, max_attempts)
		VALUES ($1, 'queued', $2)`, s.table)
	if _, err := s.db.ExecContext(ctx, insertQuery, cnpjBasico, s.maxAttempts); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			// Lost the race to a concurrent enqueue of the same company.
			s.logger.Debug().Str("cnpj_basico", cnpjBasico).Msg("Concurrent enqueue detected")
			return false, nil
		}
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return true, nil
}

// Claim atomically reserves up to limit available jobs for the worker.
// Rows locked by concurrent claims are skipped, so parallel workers always
// receive disjoint work.
func (s *QueueStore) Claim(ctx context.Context, workerID string, limit int) ([]models.ClaimedJob, error) {
	query := fmt.Sprintf(`
		WITH next_jobs AS (
			SELECT id FROM busca_fornecedor.%s
			WHERE status = 'queued' AND available_at <= now()
			ORDER BY id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE busca_fornecedor.%s q
		SET status = 'processing', locked_at = now(), locked_by = $2
		FROM next_jobs
		WHERE q.id = next_jobs.id
		RETURNING q.id, q.cnpj_basico`, s.table, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit, workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ClaimedJob
	for rows.Next() {
		var job models.ClaimedJob
		if err := rows.Scan(&job.ID, &job.CNPJBasico); err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed jobs: %w", err)
	}

	return jobs, nil
}

// Ack marks a processing job done and clears its error.
func (s *QueueStore) Ack(ctx context.Context, jobID int64) error {
	query := fmt.Sprintf(`
		UPDATE busca_fornecedor.%s
		SET status = 'done', locked_at = NULL, locked_by = NULL, last_error = NULL
		WHERE id = $1`, s.table)

	result, err := s.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("failed to ack job %d: %w", jobID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Fail records a failure: increments attempts and either requeues the job
// with linear backoff (attempts x backoff) or marks it failed when the
// attempt cap is reached. The lock is released either way.
func (s *QueueStore) Fail(ctx context.Context, jobID int64, errMessage string) error {
	if len(errMessage) > maxErrorLength {
		errMessage = errMessage[:maxErrorLength]
	}

	query := fmt.Sprintf(`
		UPDATE busca_fornecedor.%s
		SET attempts   = attempts + 1,
		    status     = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'queued' END,
		    available_at = now() + make_interval(secs => (attempts + 1) * $2),
		    locked_at  = NULL,
		    locked_by  = NULL,
		    last_error = $3
		WHERE id = $1
		RETURNING status, attempts`, s.table)

	var status string
	var attempts int
	err := s.db.QueryRowContext(ctx, query, jobID, s.backoff.Seconds(), errMessage).Scan(&status, &attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to fail job %d: %w", jobID, err)
	}

	s.logger.Warn().
		Str("table", s.table).
		Int64("job_id", jobID).
		Int("attempts", attempts).
		Str("status", status).
		Msg("Job failed")

	return nil
}

// Metrics returns the operational snapshot: per-status counts plus the age
// of the oldest queued row (nil when the queue is drained).
func (s *QueueStore) Metrics(ctx context.Context) (*models.QueueMetrics, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued')     AS queued,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'failed')     AS failed,
			EXTRACT(EPOCH FROM (now() - MIN(created_at) FILTER (WHERE status = 'queued')))
		FROM busca_fornecedor.%s`, s.table)

	var m models.QueueMetrics
	var oldest sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query).Scan(&m.Queued, &m.Processing, &m.Failed, &oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue metrics: %w", err)
	}
	if oldest.Valid {
		m.OldestQueuedAgeSecs = &oldest.Float64
	}

	return &m, nil
}

// ResetStaleLocks requeues processing rows whose lock is older than grace.
// Covers workers that died between claim and ack. Attempts are left
// untouched: a crash is not a business failure.
func (s *QueueStore) ResetStaleLocks(ctx context.Context, grace time.Duration) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE busca_fornecedor.%s
		SET status = 'queued', locked_at = NULL, locked_by = NULL
		WHERE status = 'processing' AND locked_at < now() - make_interval(secs => $1)`, s.table)

	result, err := s.db.ExecContext(ctx, query, grace.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale locks: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.logger.Warn().Str("table", s.table).Int64("reclaimed", n).Msg("Reset stale job locks")
	}
	return n, nil
}
