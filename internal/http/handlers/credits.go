package handlers

import (
	"net/http"
	"time"
)

type ledgerEntryView struct {
	ID        string    `json:"id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// CreditsBalance returns the sum of the user's ledger entries.
func (a *App) CreditsBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Ledger.Balance(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to read balance")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"balance": balance})
}

// CreditsHistory returns the user's recent ledger entries.
func (a *App) CreditsHistory(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	entries, err := a.Ledger.ListByUser(r.Context(), userID, 100)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to read ledger")
		return
	}
	items := make([]ledgerEntryView, 0, len(entries))
	for _, e := range entries {
		items = append(items, ledgerEntryView{
			ID:        e.ID,
			Delta:     e.Delta,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
