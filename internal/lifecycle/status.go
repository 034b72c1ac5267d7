package lifecycle

import (
	"strings"

	"sorajobs/internal/domain"
)

// vocabulary maps every known provider status token (lowercased) onto the
// canonical set. It covers the fal queue vocabulary, the WaveSpeed prediction
// vocabulary, and the looser tokens observed in stored jobs.
var vocabulary = map[string]domain.JobStatus{
	"queued":   domain.JobStatusQueued,
	"queue":    domain.JobStatusQueued,
	"queueing": domain.JobStatusQueued,
	"in_queue": domain.JobStatusQueued,
	"created":  domain.JobStatusQueued,
	"pending":  domain.JobStatusQueued,

	"processing":  domain.JobStatusProcessing,
	"running":     domain.JobStatusProcessing,
	"in_progress": domain.JobStatusProcessing,
	"submitted":   domain.JobStatusProcessing,
	"started":     domain.JobStatusProcessing,

	"completed": domain.JobStatusCompleted,
	"succeeded": domain.JobStatusCompleted,
	"finished":  domain.JobStatusCompleted,
	"success":   domain.JobStatusCompleted,

	"failed":         domain.JobStatusFailed,
	"error":          domain.JobStatusFailed,
	"policy_blocked": domain.JobStatusFailed,

	"cancelled": domain.JobStatusCancelled,
	"canceled":  domain.JobStatusCancelled,
}

// Normalize maps a raw provider status token onto the canonical set. Unknown
// or empty tokens normalize to processing: a job the provider cannot describe
// is treated as still going rather than left ambiguous.
func Normalize(token string) domain.JobStatus {
	if status, ok := vocabulary[strings.ToLower(strings.TrimSpace(token))]; ok {
		return status
	}
	return domain.JobStatusProcessing
}

// Resolve picks between the poll status and the status carried by a result
// payload fetched in the same refresh cycle. A terminal result status beats a
// possibly stale in-progress poll status.
func Resolve(poll, result domain.JobStatus) domain.JobStatus {
	if result.Terminal() {
		return result
	}
	return poll
}
