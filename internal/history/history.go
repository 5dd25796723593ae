// Package history persists and tracks BatchRunHistory records, the durable
// lifecycle record of one orchestrator invocation (spec.md §4.H). The
// orchestrator always pairs a Start with a Finish in a defer/finally block,
// so no run is ever left in the "running" state after the process observes
// its own completion.
//
// Grounded in internal/modules/calculations/sync_processor.go's narrow
// constructor-injected repository shape, adapted from an in-memory interval
// cache to a durable Postgres-backed run ledger.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sigmasight/batch-core/internal/domain"
)

// Repository persists BatchRunHistory rows.
type Repository struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewRepository creates a BatchRunHistory repository.
func NewRepository(pool *pgxpool.Pool, log zerolog.Logger) *Repository {
	return &Repository{pool: pool, log: log.With().Str("repo", "batch_run_history").Logger()}
}

// Start inserts a new batch_run_history row in the running state.
func (r *Repository) Start(ctx context.Context, run domain.BatchRunHistory) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO batch_run_history (batch_run_id, status, triggered_by, source, started_at, total_jobs, successful, failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.BatchRunID, domain.BatchRunning, run.TriggeredBy, run.Source, run.StartedAt, run.TotalJobs, run.Successful, run.Failed)
	if err != nil {
		return fmt.Errorf("failed to start batch run %s: %w", run.BatchRunID, err)
	}
	return nil
}

// Finish marks batchRunID completed/failed/cancelled, recording final
// counters. Called unconditionally from the orchestrator's finally block
// (spec.md §3's "never left in running state" invariant).
func (r *Repository) Finish(ctx context.Context, batchRunID uuid.UUID, status domain.BatchRunStatus, successful, failed int, errorSummary string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE batch_run_history
		SET status = $2, completed_at = now(), successful = $3, failed = $4, error_summary = $5
		WHERE batch_run_id = $1
	`, batchRunID, status, successful, failed, errorSummary)
	if err != nil {
		return fmt.Errorf("failed to finish batch run %s: %w", batchRunID, err)
	}
	return nil
}

// SetTotalJobs updates total_jobs once the orchestrator has resolved its
// cohort size, which may be unknown at Start time.
func (r *Repository) SetTotalJobs(ctx context.Context, batchRunID uuid.UUID, totalJobs int) error {
	_, err := r.pool.Exec(ctx, `UPDATE batch_run_history SET total_jobs = $2 WHERE batch_run_id = $1`, batchRunID, totalJobs)
	if err != nil {
		return fmt.Errorf("failed to set total jobs for batch run %s: %w", batchRunID, err)
	}
	return nil
}

// Get loads a single batch run by ID, the status endpoint's backing query
// (spec.md §6). It returns nil, nil when no such run exists.
func (r *Repository) Get(ctx context.Context, batchRunID uuid.UUID) (*domain.BatchRunHistory, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT batch_run_id, status, triggered_by, source, started_at, completed_at, total_jobs, successful, failed, error_summary
		FROM batch_run_history WHERE batch_run_id = $1
	`, batchRunID)
	run, err := scanRun(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch run %s: %w", batchRunID, err)
	}
	return run, nil
}

// Recent returns the most recent batch runs, newest first, bounded by limit.
func (r *Repository) Recent(ctx context.Context, limit int) ([]domain.BatchRunHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT batch_run_id, status, triggered_by, source, started_at, completed_at, total_jobs, successful, failed, error_summary
		FROM batch_run_history ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent batch runs: %w", err)
	}
	defer rows.Close()

	var out []domain.BatchRunHistory
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// ReapStaleRunning marks any run still "running" after olderThan as failed.
// A process crash mid-run otherwise leaves a permanently stuck row; called
// once at startup (spec.md §4.H, §7).
func (r *Repository) ReapStaleRunning(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE batch_run_history
		SET status = $1, completed_at = now(), error_summary = 'reaped: process restarted while run was in progress'
		WHERE status = $2 AND started_at < now() - $3::interval
	`, domain.BatchFailed, domain.BatchRunning, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale running batch runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.BatchRunHistory, error) {
	var run domain.BatchRunHistory
	err := row.Scan(
		&run.BatchRunID, &run.Status, &run.TriggeredBy, &run.Source,
		&run.StartedAt, &run.CompletedAt, &run.TotalJobs, &run.Successful, &run.Failed, &run.ErrorSummary,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Tracker holds the in-process progress of the currently running batch (if
// any), reported by the /api/status endpoint and checked by the
// orchestrator's run-already-in-progress guard, separate from the durable
// Repository: progress is ephemeral and never replayed after a restart.
type Tracker struct {
	mu      sync.RWMutex
	current *Progress
}

// Progress is a snapshot of an in-flight batch run's phase and portfolio
// counts, updated as the orchestrator advances.
type Progress struct {
	BatchRunID        uuid.UUID
	Phase             string
	PortfoliosTotal   int
	PortfoliosDone    int
	PortfoliosFailed  int
	UpdatedAt         time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Start records a new in-flight run, replacing any previous snapshot.
func (t *Tracker) Start(batchRunID uuid.UUID, portfoliosTotal int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = &Progress{
		BatchRunID:      batchRunID,
		Phase:           "starting",
		PortfoliosTotal: portfoliosTotal,
		UpdatedAt:       time.Now(),
	}
}

// AdvancePhase updates the current phase name (the orchestrator passes
// "date:YYYY-MM-DD" for the trading date it is processing).
func (t *Tracker) AdvancePhase(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	t.current.Phase = phase
	t.current.UpdatedAt = time.Now()
}

// RecordPortfolioDone increments the done or failed counter for the current run.
func (t *Tracker) RecordPortfolioDone(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	if failed {
		t.current.PortfoliosFailed++
	} else {
		t.current.PortfoliosDone++
	}
	t.current.UpdatedAt = time.Now()
}

// Finish clears the in-flight snapshot once the orchestrator completes.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
}

// Snapshot returns the current progress, or nil if no batch is running.
func (t *Tracker) Snapshot() *Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil
	}
	cp := *t.current
	return &cp
}
