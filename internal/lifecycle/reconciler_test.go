package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"sorajobs/internal/domain"
)

// fakeStore mimics the conditional-update semantics of the real repository:
// a transition lands only while the tracked status is non-terminal.
type fakeStore struct {
	mu      sync.Mutex
	status  domain.JobStatus
	applied []domain.Transition
	refunds []domain.LedgerEntry
	err     error
}

func (s *fakeStore) ApplyTransition(_ context.Context, _ string, tr domain.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.status.Terminal() {
		return false, nil
	}
	s.status = tr.Status
	s.applied = append(s.applied, tr)
	if tr.Refund != nil {
		s.refunds = append(s.refunds, *tr.Refund)
	}
	return true, nil
}

func newTestReconciler(store *fakeStore) *Reconciler {
	return NewReconciler(store, zerolog.Nop())
}

func activeJob(status domain.JobStatus) *domain.Job {
	return &domain.Job{
		ID:         "job-1",
		UserID:     "user-1",
		Status:     status,
		Provider:   domain.ProviderFal,
		CreditCost: 20,
	}
}

func TestReconcileQueuedWithPosition(t *testing.T) {
	store := &fakeStore{status: domain.JobStatusProcessing}
	rec := newTestReconciler(store)

	pos := 3
	outcome, err := rec.Reconcile(context.Background(), activeJob(domain.JobStatusProcessing), domain.ProviderUpdate{
		Status:        "IN_QUEUE",
		QueuePosition: &pos,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !outcome.Applied || outcome.Status != domain.JobStatusQueued {
		t.Fatalf("outcome = %+v", outcome)
	}
	tr := store.applied[0]
	if tr.QueuePosition == nil || *tr.QueuePosition != 3 {
		t.Fatalf("queue position not carried: %+v", tr)
	}
	if tr.ProviderStatus != "IN_QUEUE" {
		t.Fatalf("provider status = %q", tr.ProviderStatus)
	}
}

func TestReconcileCompletedSetsVideoURL(t *testing.T) {
	store := &fakeStore{status: domain.JobStatusProcessing}
	rec := newTestReconciler(store)

	outcome, err := rec.Reconcile(context.Background(), activeJob(domain.JobStatusProcessing), domain.ProviderUpdate{
		Status: "completed",
		Payload: map[string]any{
			"output": map[string]any{"video_url": "https://x/y.mp4"},
		},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !outcome.Applied || outcome.Status != domain.JobStatusCompleted || outcome.Refunded {
		t.Fatalf("outcome = %+v", outcome)
	}
	tr := store.applied[0]
	if tr.VideoURL == nil || *tr.VideoURL != "https://x/y.mp4" {
		t.Fatalf("video url not set: %+v", tr)
	}
	if tr.QueuePosition != nil {
		t.Fatalf("queue position should be nulled on terminal transition")
	}
	if len(store.refunds) != 0 {
		t.Fatalf("completion must not refund")
	}
}

func TestReconcileCompletedWithoutAssetStaysProcessing(t *testing.T) {
	store := &fakeStore{status: domain.JobStatusProcessing}
	rec := newTestReconciler(store)

	outcome, err := rec.Reconcile(context.Background(), activeJob(domain.JobStatusProcessing), domain.ProviderUpdate{
		Status:  "completed",
		Payload: map[string]any{"progress": 99},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Status != domain.JobStatusProcessing {
		t.Fatalf("asset-not-ready must stay processing, got %q", outcome.Status)
	}
	if store.status.Terminal() {
		t.Fatalf("job must remain non-terminal")
	}
}

func TestReconcileTerminalResultBeatsStalePoll(t *testing.T) {
	store := &fakeStore{status: domain.JobStatusProcessing}
	rec := newTestReconciler(store)

	outcome, err := rec.Reconcile(context.Background(), activeJob(domain.JobStatusProcessing), domain.ProviderUpdate{
		Status:       "in_progress",
		ResultStatus: "completed",
		Payload:      map[string]any{"video": map[string]any{"url": "https://x/z.mp4"}},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Status != domain.JobStatusCompleted {
		t.Fatalf("terminal result must win, got %q", outcome.Status)
	}
	if store.applied[0].ProviderStatus != "completed" {
		t.Fatalf("provider status should reflect the winning token, got %q", store.applied[0].ProviderStatus)
	}
}

func TestReconcileFailureRefundsOnce(t *testing.T) {
	store := &fakeStore{status: domain.JobStatusProcessing}
	rec := newTestReconciler(store)
	job := activeJob(domain.JobStatusProcessing)

	outcome, err := rec.Reconcile(context.Background(), job, domain.ProviderUpdate{Status: "error", Error: "boom"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !outcome.Applied || !outcome.Refunded || outcome.Status != domain.JobStatusFailed {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(store.refunds) != 1 {
		t.Fatalf("refunds = %d, want 1", len(store.refunds))
	}
	refund := store.refunds[0]
	if refund.Delta != 20 || refund.Reason != domain.ReasonRefundFailed || refund.UserID != "user-1" {
		t.Fatalf("refund = %+v", refund)
	}

	// Re-delivering the failure after the job went terminal is a no-op.
	job.Status = domain.JobStatusFailed
	outcome, err = rec.Reconcile(context.Background(), job, domain.ProviderUpdate{Status: "error"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Applied || outcome.Refunded {
		t.Fatalf("terminal job must be a no-op, got %+v", outcome)
	}
	if len(store.refunds) != 1 {
		t.Fatalf("refunds = %d after replay, want 1", len(store.refunds))
	}
}

func TestReconcileCancellationRefundReason(t *testing.T) {
	store := &fakeStore{status: domain.JobStatusQueued}
	rec := newTestReconciler(store)

	outcome, err := rec.Reconcile(context.Background(), activeJob(domain.JobStatusQueued), domain.ProviderUpdate{Status: "cancelled"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !outcome.Refunded {
		t.Fatalf("provider cancellation must refund")
	}
	if store.refunds[0].Reason != domain.ReasonRefundCancelled {
		t.Fatalf("reason = %q", store.refunds[0].Reason)
	}
}

func TestReconcileConcurrentFailuresSingleRefund(t *testing.T) {
	store := &fakeStore{status: domain.JobStatusProcessing}
	rec := newTestReconciler(store)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each writer read the job while it was still non-terminal.
			_, _ = rec.Reconcile(context.Background(), activeJob(domain.JobStatusProcessing), domain.ProviderUpdate{Status: "failed"})
		}()
	}
	wg.Wait()

	if len(store.refunds) != 1 {
		t.Fatalf("refunds = %d, want exactly 1", len(store.refunds))
	}
}

func TestUserCancelNoRefund(t *testing.T) {
	store := &fakeStore{status: domain.JobStatusQueued}
	rec := newTestReconciler(store)

	outcome, err := rec.UserCancel(context.Background(), activeJob(domain.JobStatusQueued))
	if err != nil {
		t.Fatalf("user cancel: %v", err)
	}
	if !outcome.Applied || outcome.Status != domain.JobStatusCancelledUser {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(store.refunds) != 0 {
		t.Fatalf("user cancel must not refund automatically")
	}
}

func TestSubmissionFailedRefunds(t *testing.T) {
	store := &fakeStore{status: domain.JobStatusProcessing}
	rec := newTestReconciler(store)

	outcome, err := rec.SubmissionFailed(context.Background(), activeJob(domain.JobStatusProcessing), context.DeadlineExceeded)
	if err != nil {
		t.Fatalf("submission failed: %v", err)
	}
	if outcome.Status != domain.JobStatusFailed || !outcome.Refunded {
		t.Fatalf("outcome = %+v", outcome)
	}
	if got := *store.applied[0].ProviderError; got != context.DeadlineExceeded.Error() {
		t.Fatalf("provider error = %q", got)
	}
}

func TestReconcileZeroCostNoRefundEntry(t *testing.T) {
	store := &fakeStore{status: domain.JobStatusProcessing}
	rec := newTestReconciler(store)
	job := activeJob(domain.JobStatusProcessing)
	job.CreditCost = 0

	outcome, err := rec.Reconcile(context.Background(), job, domain.ProviderUpdate{Status: "failed"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if outcome.Refunded || len(store.refunds) != 0 {
		t.Fatalf("zero-cost job must not produce a refund entry")
	}
}
