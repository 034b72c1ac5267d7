package handlers

import (
	"encoding/json"
	"net/http"

	"sorajobs/internal/domain"
	"sorajobs/internal/infra"
	"sorajobs/internal/lifecycle"
	"sorajobs/internal/middleware"
	"sorajobs/internal/poller"
	"sorajobs/internal/providers"
	"sorajobs/internal/queue"
)

// App is the handler container holding every dependency the routes need.
type App struct {
	Jobs       domain.JobRepository
	Ledger     domain.LedgerRepository
	Events     domain.WebhookEventRepository
	Providers  providers.Registry
	Reconciler *lifecycle.Reconciler
	Poller     *poller.Poller
	Schedule   *queue.PollSchedule
	Logger     infra.Logger
	Config     *infra.Config
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, tag, message string) {
	a.json(w, code, map[string]any{
		"error":   tag,
		"message": message,
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
