package repo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"sorajobs/internal/domain"
)

// LedgerRepositoryPG implements domain.LedgerRepository. Entries are
// append-only; there is no mutable balance column anywhere, the balance is
// always recomputed as the sum of a user's entries.
type LedgerRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a ledger repository backed by PostgreSQL.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{pool: pool}
}

// Insert appends a signed adjustment.
func (r *LedgerRepositoryPG) Insert(ctx context.Context, entry *domain.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO credit_ledger (id, user_id, delta, reason) VALUES ($1, $2, $3, $4);`,
		entry.ID, entry.UserID, entry.Delta, entry.Reason)
	return err
}

// Balance returns the sum of the user's entries.
func (r *LedgerRepositoryPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM credit_ledger WHERE user_id = $1;`,
		userID).Scan(&balance)
	return balance, err
}

// ListByUser returns the user's most recent entries.
func (r *LedgerRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, delta, reason, created_at
FROM credit_ledger
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ domain.LedgerRepository = (*LedgerRepositoryPG)(nil)
