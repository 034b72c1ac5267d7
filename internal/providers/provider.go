package providers

import (
	"context"

	"sorajobs/internal/domain"
)

// SubmitRequest carries the inputs forwarded to a generation backend.
type SubmitRequest struct {
	Prompt     string
	ImageURL   string
	WebhookURL string
}

// Submission is the provider's acknowledgement of a new job.
type Submission struct {
	ProviderJobID string
	// RawStatus is the provider's initial status token, when it reports one.
	RawStatus string
}

// Adapter abstracts one external video generation backend. Poll returns the
// provider's raw view of the job; normalization happens downstream.
type Adapter interface {
	Name() domain.Provider
	Submit(ctx context.Context, req SubmitRequest) (Submission, error)
	Poll(ctx context.Context, providerJobID string) (domain.ProviderUpdate, error)
	// Cancel is best-effort: callers proceed with the local transition
	// whether or not the upstream accepts it.
	Cancel(ctx context.Context, providerJobID string) error
}

// Registry resolves adapters by provider name.
type Registry map[domain.Provider]Adapter

// Get returns the adapter for p.
func (r Registry) Get(p domain.Provider) (Adapter, bool) {
	a, ok := r[p]
	return a, ok
}
