package domain

import "time"

// Ledger reasons. The balance shown to a user is the sum of all their
// entries; entries are never updated or deleted.
const (
	ReasonGeneration      = "sora_generation"
	ReasonRefundFailed    = "refund_failed_generation"
	ReasonRefundCancelled = "refund_cancelled_generation"
	ReasonStripeCheckout  = "stripe_checkout"
)

// LedgerEntry is an append-only signed credit adjustment.
type LedgerEntry struct {
	ID        string
	UserID    string
	Delta     int
	Reason    string
	CreatedAt time.Time
}

// WebhookEvent records a processed payment-provider event so credit grants
// stay exactly-once per event id.
type WebhookEvent struct {
	Provider   string
	EventID    string
	EventType  string
	ReceivedAt time.Time
}
