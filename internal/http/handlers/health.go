package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(a.Providers))
	for name := range a.Providers {
		names = append(names, string(name))
	}
	a.json(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": names,
	})
}
