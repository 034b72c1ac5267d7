package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sora_reconciliations_total", Help: "Reconciliation attempts by outcome"},
		[]string{"outcome"},
	)
	Refunds = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sora_refunds_total", Help: "Refund ledger entries by reason"},
		[]string{"reason"},
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sora_webhook_events_total", Help: "Webhook deliveries by provider"},
		[]string{"provider"},
	)
	PollerRuns  = prometheus.NewCounter(prometheus.CounterOpts{Name: "sora_poller_runs_total", Help: "Poller sweep invocations"})
	PolledJobs  = prometheus.NewCounter(prometheus.CounterOpts{Name: "sora_polled_jobs_total", Help: "Jobs examined by the poller"})
	JobsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sora_jobs_created_total", Help: "Jobs submitted by provider"},
		[]string{"provider"},
	)
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Reconciliations,
			Refunds,
			WebhookEvents,
			PollerRuns,
			PolledJobs,
			JobsCreated,
		)
	})
	return promhttp.Handler()
}
