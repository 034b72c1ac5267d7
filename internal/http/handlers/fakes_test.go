package handlers_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sorajobs/internal/domain"
	"sorajobs/internal/http/handlers"
	"sorajobs/internal/infra"
	"sorajobs/internal/lifecycle"
	"sorajobs/internal/poller"
	"sorajobs/internal/providers"
)

// memStore is an in-memory stand-in for the Postgres repositories with the
// same conditional-update semantics.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	entries []domain.LedgerEntry
	events  map[string]bool
	// grantErr fails the next ProcessOnce call, then clears itself.
	grantErr error
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*domain.Job), events: make(map[string]bool)}
}

func (s *memStore) grant(userID string, credits int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Delta:     credits,
		Reason:    domain.ReasonStripeCheckout,
		CreatedAt: time.Now(),
	})
}

func (s *memStore) balanceLocked(userID string) int {
	total := 0
	for _, e := range s.entries {
		if e.UserID == userID {
			total += e.Delta
		}
	}
	return total
}

func (s *memStore) entriesFor(userID, reason string) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.UserID == userID && (reason == "" || e.Reason == reason) {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) job(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) Create(_ context.Context, job *domain.Job, debit *domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if debit != nil {
		if s.balanceLocked(job.UserID)+debit.Delta < 0 {
			return domain.ErrInsufficientCredits
		}
		entry := *debit
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.CreatedAt = time.Now()
		s.entries = append(s.entries, entry)
	}
	stored := *job
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	s.jobs[job.ID] = &stored
	return nil
}

func (s *memStore) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *memStore) GetByProviderJobID(_ context.Context, provider domain.Provider, providerJobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.Provider == provider && job.ProviderJobID == providerJobID {
			copied := *job
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) ListByUser(_ context.Context, userID string, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.UserID == userID && len(out) < limit {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *memStore) ListActive(_ context.Context, staleBefore time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.Status.Terminal() || job.ProviderJobID == "" || len(out) >= limit {
			continue
		}
		if job.ProviderLastChecked == nil || job.ProviderLastChecked.Before(staleBefore) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *memStore) SetSubmission(_ context.Context, jobID, providerJobID, providerStatus string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return nil
	}
	job.ProviderJobID = providerJobID
	job.ProviderStatus = providerStatus
	job.Status = status
	job.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) ApplyTransition(_ context.Context, jobID string, tr domain.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, errors.New("job missing")
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.Status = tr.Status
	job.ProviderStatus = tr.ProviderStatus
	job.QueuePosition = tr.QueuePosition
	if tr.ProviderError != nil {
		job.ProviderError = *tr.ProviderError
	} else {
		job.ProviderError = ""
	}
	if tr.VideoURL != nil {
		job.VideoURL = *tr.VideoURL
	}
	checked := tr.CheckedAt
	job.ProviderLastChecked = &checked
	job.UpdatedAt = time.Now()
	if tr.Refund != nil {
		entry := *tr.Refund
		entry.CreatedAt = time.Now()
		s.entries = append(s.entries, entry)
	}
	return true, nil
}

func (s *memStore) Insert(_ context.Context, entry *domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	stored := *entry
	stored.CreatedAt = time.Now()
	s.entries = append(s.entries, stored)
	return nil
}

func (s *memStore) Balance(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(userID), nil
}

// ProcessOnce mirrors the transactional semantics of the real repository: a
// failed grant records neither the event nor the entry, so a retry of the
// same event id starts clean.
func (s *memStore) ProcessOnce(_ context.Context, event *domain.WebhookEvent, grant *domain.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := event.Provider + ":" + event.EventID
	if s.events[key] {
		return false, nil
	}
	if s.grantErr != nil {
		err := s.grantErr
		s.grantErr = nil
		return false, err
	}
	s.events[key] = true
	if grant != nil {
		entry := *grant
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.CreatedAt = time.Now()
		s.entries = append(s.entries, entry)
	}
	return true, nil
}

var (
	_ domain.JobRepository          = (*memStore)(nil)
	_ domain.WebhookEventRepository = (*memStore)(nil)
)

// memLedger adapts memStore to domain.LedgerRepository (the job repository
// interface also wants a ListByUser with a different element type).
type memLedger struct{ store *memStore }

func (l *memLedger) Insert(ctx context.Context, entry *domain.LedgerEntry) error {
	return l.store.Insert(ctx, entry)
}

func (l *memLedger) Balance(ctx context.Context, userID string) (int, error) {
	return l.store.Balance(ctx, userID)
}

func (l *memLedger) ListByUser(_ context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	out := l.store.entriesFor(userID, "")
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.LedgerRepository = (*memLedger)(nil)

// fakeAdapter is a scriptable providers.Adapter.
type fakeAdapter struct {
	mu           sync.Mutex
	name         domain.Provider
	submitID     string
	submitStatus string
	submitErr    error
	pollUpd      domain.ProviderUpdate
	pollErr      error
	cancelErr    error
	cancelled    []string
}

func (f *fakeAdapter) Name() domain.Provider { return f.name }

func (f *fakeAdapter) Submit(context.Context, providers.SubmitRequest) (providers.Submission, error) {
	if f.submitErr != nil {
		return providers.Submission{}, f.submitErr
	}
	return providers.Submission{ProviderJobID: f.submitID, RawStatus: f.submitStatus}, nil
}

func (f *fakeAdapter) Poll(context.Context, string) (domain.ProviderUpdate, error) {
	if f.pollErr != nil {
		return domain.ProviderUpdate{}, f.pollErr
	}
	return f.pollUpd, nil
}

func (f *fakeAdapter) Cancel(_ context.Context, providerJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, providerJobID)
	return f.cancelErr
}

const testJWTSecret = "test-secret"

func newTestApp(store *memStore, adapter *fakeAdapter) *handlers.App {
	logger := infra.Logger(zerolog.Nop())
	cfg := &infra.Config{
		AppEnv:              "test",
		JWTSecret:           testJWTSecret,
		AdminToken:          "admin-token",
		StripeWebhookSecret: "whsec_test",
		DefaultProvider:     string(adapter.name),
		VideoCreditCost:     20,
		PollInterval:        15 * time.Second,
		PollStaleAfter:      10 * time.Minute,
		PollBatchSize:       5,
		RateLimitPerMin:     1000,
		PublicBaseURL:       "http://app.local",
	}
	registry := providers.Registry{adapter.name: adapter}
	reconciler := lifecycle.NewReconciler(store, logger)
	return &handlers.App{
		Jobs:       store,
		Ledger:     &memLedger{store: store},
		Events:     store,
		Providers:  registry,
		Reconciler: reconciler,
		Poller:     poller.New(store, registry, reconciler, nil, logger, poller.Options{}),
		Logger:     logger,
		Config:     cfg,
	}
}
