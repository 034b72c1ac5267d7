package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sorajobs/internal/domain"
	"sorajobs/internal/telemetry"
)

// TransitionStore applies a reconciliation write atomically. The write must
// only take effect while the job is still non-terminal and must report
// whether it did; several triggers can race on the same job and at most one
// of them may land a terminal transition (and its refund).
type TransitionStore interface {
	ApplyTransition(ctx context.Context, jobID string, tr domain.Transition) (bool, error)
}

// Outcome describes what a reconciliation did.
type Outcome struct {
	// Applied is true when this call's write won the conditional update.
	Applied bool
	// Status is the canonical status the job was driven toward.
	Status domain.JobStatus
	// Refunded is true when this call inserted a refund ledger entry.
	Refunded bool
}

// Reconciler folds raw provider updates into job transitions and refunds.
type Reconciler struct {
	store  TransitionStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewReconciler wires a reconciler over the given store.
func NewReconciler(store TransitionStore, logger zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger, now: time.Now}
}

// Reconcile folds one provider update into the job. Jobs already terminal are
// a no-op regardless of what the provider says now.
func (r *Reconciler) Reconcile(ctx context.Context, job *domain.Job, upd domain.ProviderUpdate) (Outcome, error) {
	if job.Status.Terminal() {
		return Outcome{Status: job.Status}, nil
	}

	status := Normalize(upd.Status)
	rawStatus := upd.Status
	if upd.ResultStatus != "" {
		if resolved := Resolve(status, Normalize(upd.ResultStatus)); resolved != status {
			status = resolved
			rawStatus = upd.ResultStatus
		}
	}

	tr := domain.Transition{
		Status:         status,
		ProviderStatus: rawStatus,
		CheckedAt:      r.now(),
	}

	switch status {
	case domain.JobStatusQueued, domain.JobStatusProcessing:
		tr.QueuePosition = upd.QueuePosition
	case domain.JobStatusCompleted:
		url, ok := ExtractVideoURL(upd.Payload)
		if !ok {
			// Result reported done but the asset is not ready yet.
			// Not a failure: stay in processing and retry later.
			tr.Status = domain.JobStatusProcessing
			tr.QueuePosition = upd.QueuePosition
			break
		}
		tr.VideoURL = &url
	case domain.JobStatusFailed:
		tr.ProviderError = strptr(orDefault(upd.Error, "generation failed"))
		tr.Refund = r.refund(job, domain.ReasonRefundFailed)
	case domain.JobStatusCancelled:
		tr.ProviderError = strptr(orDefault(upd.Error, "cancelled by provider"))
		tr.Refund = r.refund(job, domain.ReasonRefundCancelled)
	}

	return r.apply(ctx, job, tr)
}

// UserCancel drives a job to cancelled_user. The upstream cancel request is
// the caller's concern and best-effort; local state is authoritative. No
// refund is attached to this transition.
func (r *Reconciler) UserCancel(ctx context.Context, job *domain.Job) (Outcome, error) {
	if job.Status.Terminal() {
		return Outcome{Status: job.Status}, nil
	}
	tr := domain.Transition{
		Status:         domain.JobStatusCancelledUser,
		ProviderStatus: job.ProviderStatus,
		CheckedAt:      r.now(),
	}
	return r.apply(ctx, job, tr)
}

// SubmissionFailed marks a freshly created job failed because the provider
// rejected the submission, refunding the charge through the same guarded
// path used by every other failure.
func (r *Reconciler) SubmissionFailed(ctx context.Context, job *domain.Job, cause error) (Outcome, error) {
	upd := domain.ProviderUpdate{Status: "error"}
	if cause != nil {
		upd.Error = cause.Error()
	}
	return r.Reconcile(ctx, job, upd)
}

func (r *Reconciler) apply(ctx context.Context, job *domain.Job, tr domain.Transition) (Outcome, error) {
	applied, err := r.store.ApplyTransition(ctx, job.ID, tr)
	if err != nil {
		telemetry.Reconciliations.WithLabelValues("error").Inc()
		return Outcome{}, fmt.Errorf("apply transition for job %s: %w", job.ID, err)
	}
	outcome := Outcome{Applied: applied, Status: tr.Status}
	if !applied {
		// Lost the race to a concurrent reconciliation, or the job went
		// terminal between the read and this write. Either way: no-op.
		telemetry.Reconciliations.WithLabelValues("skipped").Inc()
		return outcome, nil
	}
	telemetry.Reconciliations.WithLabelValues("applied").Inc()
	if tr.Refund != nil {
		outcome.Refunded = true
		telemetry.Refunds.WithLabelValues(tr.Refund.Reason).Inc()
		r.logger.Info().
			Str("job_id", job.ID).
			Str("user_id", job.UserID).
			Int("delta", tr.Refund.Delta).
			Str("reason", tr.Refund.Reason).
			Msg("reconciler: refund issued")
	}
	r.logger.Debug().
		Str("job_id", job.ID).
		Str("from", string(job.Status)).
		Str("to", string(tr.Status)).
		Str("provider_status", tr.ProviderStatus).
		Msg("reconciler: transition applied")
	return outcome, nil
}

func (r *Reconciler) refund(job *domain.Job, reason string) *domain.LedgerEntry {
	if job.CreditCost <= 0 {
		return nil
	}
	return &domain.LedgerEntry{
		ID:     uuid.NewString(),
		UserID: job.UserID,
		Delta:  job.CreditCost,
		Reason: reason,
	}
}

func strptr(s string) *string { return &s }

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
