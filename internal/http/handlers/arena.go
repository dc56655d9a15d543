package handlers

import (
	"net/http"
	"strconv"
)

// ArenaLeaderboard returns the top-rated submissions.
func (a *App) ArenaLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	entries, err := a.Service.Leaderboard(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":     true,
		"leaderboard": entries,
		"total":       len(entries),
	})
}
