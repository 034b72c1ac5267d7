package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sorajobs/internal/domain"
)

// jobColumns is the scan order shared by every job select.
const jobColumns = `id, user_id, prompt, image_url, status, provider, coalesce(provider_job_id, ''),
coalesce(provider_status, ''), queue_position, coalesce(provider_error, ''), coalesce(video_url, ''),
credit_cost, provider_last_checked, created_at, updated_at`

// terminalStatuses guards every mutation: once a job is terminal it stays
// immutable and no concurrent reconciliation can double-apply a refund.
const terminalStatuses = `('completed', 'failed', 'cancelled', 'cancelled_user')`

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts the job and its credit debit in one transaction. The balance
// check runs inside the same transaction so the debit never lands on a user
// whose ledger no longer covers the cost.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job, debit *domain.LedgerEntry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if debit != nil {
		var balance int
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE user_id = $1;`,
			job.UserID,
		).Scan(&balance)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if balance+debit.Delta < 0 {
			return domain.ErrInsufficientCredits
		}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO jobs (id, user_id, prompt, image_url, status, provider, provider_job_id, provider_status, credit_cost)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9);
`,
		job.ID,
		job.UserID,
		job.Prompt,
		job.ImageURL,
		job.Status,
		job.Provider,
		job.ProviderJobID,
		job.ProviderStatus,
		job.CreditCost,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if debit != nil {
		if err := insertLedgerEntry(ctx, tx, debit); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, jobID)
	return scanJob(row)
}

// GetByProviderJobID resolves the job a webhook refers to.
func (r *JobRepositoryPG) GetByProviderJobID(ctx context.Context, provider domain.Provider, providerJobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE provider = $1 AND provider_job_id = $2;`,
		provider, providerJobID)
	return scanJob(row)
}

// ListByUser returns the user's most recent jobs.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2;`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListActive returns non-terminal jobs due for a poll, least recently
// checked first; jobs never checked sort before everything else.
func (r *JobRepositoryPG) ListActive(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Job, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE status NOT IN `+terminalStatuses+`
  AND provider_job_id IS NOT NULL
  AND (provider_last_checked IS NULL OR provider_last_checked < $1)
ORDER BY provider_last_checked ASC NULLS FIRST
LIMIT $2;
`, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// SetSubmission records provider identifiers after a successful submit.
func (r *JobRepositoryPG) SetSubmission(ctx context.Context, jobID, providerJobID, providerStatus string, status domain.JobStatus) error {
	_, err := r.pool.Exec(ctx, `
UPDATE jobs
SET provider_job_id = $2,
    provider_status = NULLIF($3, ''),
    status = $4,
    updated_at = now()
WHERE id = $1 AND status NOT IN `+terminalStatuses+`;
`, jobID, providerJobID, providerStatus, status)
	return err
}

// ApplyTransition performs the guarded reconciliation write. The conditional
// update and the refund insert share one transaction: either both land or
// neither does, and only the first writer on a terminal transition gets to
// insert the refund.
func (r *JobRepositoryPG) ApplyTransition(ctx context.Context, jobID string, tr domain.Transition) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE jobs
SET status = $2,
    provider_status = NULLIF($3, ''),
    queue_position = $4,
    provider_error = $5,
    video_url = COALESCE($6, video_url),
    provider_last_checked = $7,
    updated_at = now()
WHERE id = $1 AND status NOT IN `+terminalStatuses+`;
`,
		jobID,
		tr.Status,
		tr.ProviderStatus,
		tr.QueuePosition,
		tr.ProviderError,
		tr.VideoURL,
		tr.CheckedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if tr.Refund != nil {
		if err := insertLedgerEntry(ctx, tx, tr.Refund); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transition: %w", err)
	}
	return true, nil
}

func insertLedgerEntry(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error {
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO credit_ledger (id, user_id, delta, reason) VALUES ($1, $2, $3, $4);`,
		id, entry.UserID, entry.Delta, entry.Reason)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Prompt,
		&job.ImageURL,
		&job.Status,
		&job.Provider,
		&job.ProviderJobID,
		&job.ProviderStatus,
		&job.QueuePosition,
		&job.ProviderError,
		&job.VideoURL,
		&job.CreditCost,
		&job.ProviderLastChecked,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
