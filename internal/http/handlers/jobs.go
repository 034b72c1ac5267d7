package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sorajobs/internal/domain"
	"sorajobs/internal/lifecycle"
	"sorajobs/internal/providers"
	"sorajobs/internal/telemetry"
)

const maxPromptLength = 2000

type jobCreateRequest struct {
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url"`
}

type jobView struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Provider      string     `json:"provider"`
	Prompt        string     `json:"prompt"`
	ImageURL      string     `json:"image_url,omitempty"`
	QueuePosition *int       `json:"queue_position,omitempty"`
	ProviderError string     `json:"provider_error,omitempty"`
	VideoURL      string     `json:"video_url,omitempty"`
	CreditCost    int        `json:"credit_cost"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastChecked   *time.Time `json:"provider_last_checked,omitempty"`
}

func viewOf(job *domain.Job) jobView {
	return jobView{
		ID:            job.ID,
		Status:        string(job.Status),
		Provider:      string(job.Provider),
		Prompt:        job.Prompt,
		ImageURL:      job.ImageURL,
		QueuePosition: job.QueuePosition,
		ProviderError: job.ProviderError,
		VideoURL:      job.VideoURL,
		CreditCost:    job.CreditCost,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		LastChecked:   job.ProviderLastChecked,
	}
}

// JobsCreate charges the user and submits a generation job. The job row and
// the ledger debit commit together; a submission failure afterwards flips the
// job to failed and refunds through the reconciler's guarded path.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req jobCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" || len(req.Prompt) > maxPromptLength {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt must be 1-2000 characters")
		return
	}
	if req.Provider == "" {
		req.Provider = a.Config.DefaultProvider
	}
	adapter, ok := a.Providers.Get(domain.Provider(req.Provider))
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported provider")
		return
	}

	cost := a.Config.VideoCreditCost
	job := &domain.Job{
		ID:         uuid.NewString(),
		UserID:     userID,
		Prompt:     req.Prompt,
		ImageURL:   req.ImageURL,
		Status:     domain.JobStatusProcessing,
		Provider:   adapter.Name(),
		CreditCost: cost,
	}
	debit := &domain.LedgerEntry{
		UserID: userID,
		Delta:  -cost,
		Reason: domain.ReasonGeneration,
	}
	if err := a.Jobs.Create(r.Context(), job, debit); err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this generation")
			return
		}
		a.Logger.Error().Err(err).Msg("jobs: create failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}
	telemetry.JobsCreated.WithLabelValues(string(adapter.Name())).Inc()

	submission, err := adapter.Submit(r.Context(), providers.SubmitRequest{
		Prompt:     job.Prompt,
		ImageURL:   job.ImageURL,
		WebhookURL: a.webhookURL(adapter.Name()),
	})
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: provider submission failed")
		if _, rerr := a.Reconciler.SubmissionFailed(r.Context(), job, err); rerr != nil {
			a.Logger.Error().Err(rerr).Str("job_id", job.ID).Msg("jobs: failed to record submission failure")
		}
		a.respondWithJob(w, r, http.StatusAccepted, job.ID)
		return
	}

	status := lifecycle.Normalize(submission.RawStatus)
	if status.Terminal() {
		// Providers occasionally reject synchronously with a terminal token.
		status = domain.JobStatusProcessing
	}
	if err := a.Jobs.SetSubmission(r.Context(), job.ID, submission.ProviderJobID, submission.RawStatus, status); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: record submission failed")
	}
	if a.Schedule != nil {
		if err := a.Schedule.Schedule(r.Context(), job.ID, time.Now().Add(a.Config.PollInterval)); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: schedule poll failed")
		}
	}
	a.respondWithJob(w, r, http.StatusAccepted, job.ID)
}

// JobsGet returns the job, refreshing it from the provider first when it is
// still active. Provider errors fail soft: the stored state is returned.
func (a *App) JobsGet(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	if !job.Status.Terminal() && job.ProviderJobID != "" {
		if adapter, ok := a.Providers.Get(job.Provider); ok {
			if upd, err := adapter.Poll(r.Context(), job.ProviderJobID); err != nil {
				a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: on-demand poll failed")
			} else if _, err := a.Reconciler.Reconcile(r.Context(), job, upd); err != nil {
				a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: on-demand reconcile failed")
			}
		}
	}
	a.respondWithJob(w, r, http.StatusOK, job.ID)
}

// JobsList returns the user's recent jobs.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobs, err := a.Jobs.ListByUser(r.Context(), userID, 50)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}
	items := make([]jobView, 0, len(jobs))
	for i := range jobs {
		items = append(items, viewOf(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// JobsCancel is the user-initiated cancellation path. The upstream cancel is
// best-effort; the local cancelled_user transition happens regardless.
func (a *App) JobsCancel(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		a.error(w, http.StatusConflict, "conflict", "job already finished")
		return
	}
	if adapter, ok := a.Providers.Get(job.Provider); ok && job.ProviderJobID != "" {
		if err := adapter.Cancel(r.Context(), job.ProviderJobID); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: upstream cancel failed")
		}
	}
	if _, err := a.Reconciler.UserCancel(r.Context(), job); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	if a.Schedule != nil {
		if err := a.Schedule.Remove(r.Context(), job.ID); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: schedule remove failed")
		}
	}
	a.respondWithJob(w, r, http.StatusOK, job.ID)
}

func (a *App) ownedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job id required")
		return nil, false
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil || job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	return job, true
}

func (a *App) respondWithJob(w http.ResponseWriter, r *http.Request, code int, jobID string) {
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, code, viewOf(job))
}

func (a *App) webhookURL(provider domain.Provider) string {
	base := strings.TrimRight(a.Config.PublicBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/v1/webhooks/" + string(provider)
}
