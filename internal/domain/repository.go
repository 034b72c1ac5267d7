package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities.
type JobRepository interface {
	// Create inserts the job together with its credit debit in one
	// transaction. Returns ErrInsufficientCredits when the user's ledger
	// balance does not cover the debit.
	Create(ctx context.Context, job *Job, debit *LedgerEntry) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetByProviderJobID(ctx context.Context, provider Provider, providerJobID string) (*Job, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Job, error)
	// ListActive returns non-terminal jobs whose last provider check is
	// older than staleBefore (never-checked jobs sort first).
	ListActive(ctx context.Context, staleBefore time.Time, limit int) ([]Job, error)
	// SetSubmission records the provider's job id and initial status after
	// a successful submission.
	SetSubmission(ctx context.Context, jobID, providerJobID, providerStatus string, status JobStatus) error
	// ApplyTransition applies tr only while the job is still non-terminal
	// and reports whether the write won. The job update and any refund
	// insert commit in the same transaction.
	ApplyTransition(ctx context.Context, jobID string, tr Transition) (bool, error)
}

// LedgerRepository handles the append-only credit ledger.
type LedgerRepository interface {
	Insert(ctx context.Context, entry *LedgerEntry) error
	Balance(ctx context.Context, userID string) (int, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
}

// WebhookEventRepository deduplicates payment-provider events.
type WebhookEventRepository interface {
	// ProcessOnce records the event and, when this delivery is the first
	// with its id, applies the credit grant in the same transaction.
	// Reports whether the grant landed; a duplicate delivery observes
	// false with no error. A failed delivery leaves no event record, so
	// the provider's retry gets a clean attempt.
	ProcessOnce(ctx context.Context, event *WebhookEvent, grant *LedgerEntry) (bool, error)
}
