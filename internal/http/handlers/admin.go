package handlers

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultPollerLimit = 5
	maxPollerLimit     = 25
)

// PollerTrigger runs one poller sweep on demand. Guarded by the admin
// dashboard token rather than user auth.
func (a *App) PollerTrigger(w http.ResponseWriter, r *http.Request) {
	if !a.adminAuthorized(r) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
		return
	}
	limit := defaultPollerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxPollerLimit {
		limit = maxPollerLimit
	}
	processed, updated, err := a.Poller.Run(r.Context(), limit)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "poller sweep failed")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"processed": processed,
		"updated":   updated,
	})
}

func (a *App) adminAuthorized(r *http.Request) bool {
	token := a.Config.AdminToken
	if token == "" {
		return false
	}
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	return len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] == token
}
