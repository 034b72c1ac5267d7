package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id                    uuid PRIMARY KEY,
    user_id               text NOT NULL,
    prompt                text NOT NULL,
    image_url             text NOT NULL DEFAULT '',
    status                text NOT NULL,
    provider              text NOT NULL,
    provider_job_id       text,
    provider_status       text,
    queue_position        int,
    provider_error        text,
    video_url             text,
    credit_cost           int NOT NULL,
    provider_last_checked timestamptz,
    created_at            timestamptz NOT NULL DEFAULT now(),
    updated_at            timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_active ON jobs (provider_last_checked)
    WHERE status IN ('queued', 'processing');
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_provider_job ON jobs (provider, provider_job_id)
    WHERE provider_job_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS credit_ledger (
    id         uuid PRIMARY KEY,
    user_id    text NOT NULL,
    delta      int NOT NULL,
    reason     text NOT NULL,
    created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_credit_ledger_user ON credit_ledger (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS webhook_events (
    provider    text NOT NULL,
    event_id    text NOT NULL,
    event_type  text NOT NULL DEFAULT '',
    received_at timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (provider, event_id)
);
`

// Migrate applies the schema. Statements are idempotent so this is safe to
// run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
