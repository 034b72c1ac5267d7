package domain

import "time"

// Provider identifies an external video generation backend.
type Provider string

const (
	ProviderFal       Provider = "fal"
	ProviderWaveSpeed Provider = "wavespeed"
)

// JobStatus enumerates canonical job lifecycle states, independent of any
// provider's vocabulary.
type JobStatus string

const (
	JobStatusQueued        JobStatus = "queued"
	JobStatusProcessing    JobStatus = "processing"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusFailed        JobStatus = "failed"
	JobStatusCancelled     JobStatus = "cancelled"
	JobStatusCancelledUser JobStatus = "cancelled_user"
)

// Terminal reports whether no further transition is legal from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusCancelledUser:
		return true
	}
	return false
}

// Job encapsulates one video generation request and its reconciled state.
type Job struct {
	ID                  string
	UserID              string
	Prompt              string
	ImageURL            string
	Status              JobStatus
	Provider            Provider
	ProviderJobID       string
	ProviderStatus      string
	QueuePosition       *int
	ProviderError       string
	VideoURL            string
	CreditCost          int
	ProviderLastChecked *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ProviderUpdate is one raw report from a provider about a submitted job,
// before normalization. Status carries the poll/queue token, ResultStatus the
// token embedded in a result payload when one was fetched in the same refresh
// cycle.
type ProviderUpdate struct {
	Status        string
	ResultStatus  string
	QueuePosition *int
	Error         string
	Payload       map[string]any
}

// Transition is one reconciliation write: the job-row update plus an optional
// refund, applied atomically behind a terminal-state guard. A nil VideoURL
// leaves the stored value untouched; a nil QueuePosition or ProviderError
// writes NULL, so stale diagnostics never survive a transition.
type Transition struct {
	Status         JobStatus
	ProviderStatus string
	QueuePosition  *int
	ProviderError  *string
	VideoURL       *string
	CheckedAt      time.Time
	Refund         *LedgerEntry
}
