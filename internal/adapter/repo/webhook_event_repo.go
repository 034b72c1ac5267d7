package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sorajobs/internal/domain"
)

// WebhookEventRepositoryPG implements domain.WebhookEventRepository on a
// (provider, event_id) primary key, so event processing is exactly-once no
// matter how many times the provider retries delivery.
type WebhookEventRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewWebhookEventRepository creates a webhook event repository.
func NewWebhookEventRepository(pool *pgxpool.Pool) *WebhookEventRepositoryPG {
	return &WebhookEventRepositoryPG{pool: pool}
}

// ProcessOnce inserts the event record and the credit grant in one
// transaction. A duplicate event id observes zero rows affected and skips
// the grant; a failed grant rolls the event record back with it, so the
// retry is not mistaken for a duplicate.
func (r *WebhookEventRepositoryPG) ProcessOnce(ctx context.Context, event *domain.WebhookEvent, grant *domain.LedgerEntry) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
INSERT INTO webhook_events (provider, event_id, event_type)
VALUES ($1, $2, $3)
ON CONFLICT (provider, event_id) DO NOTHING;
`, event.Provider, event.EventID, event.EventType)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if grant != nil {
		if err := insertLedgerEntry(ctx, tx, grant); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit grant: %w", err)
	}
	return true, nil
}

var _ domain.WebhookEventRepository = (*WebhookEventRepositoryPG)(nil)
