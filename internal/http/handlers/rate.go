package handlers

import (
	"net/http"

	"stylist/internal/outfit"
)

type rateRequest struct {
	Image    string `json:"image"`
	Occasion string `json:"occasion"`
	Budget   string `json:"budget"`
}

// RateOutfit scores a submitted outfit photo for an occasion.
func (a *App) RateOutfit(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Occasion == "" {
		req.Occasion = "Casual Outing"
	}

	result, err := a.Service.Rate(r.Context(), outfit.RateRequest{
		ImageDataURL: req.Image,
		Occasion:     req.Occasion,
		Budget:       req.Budget,
	})
	if err != nil {
		a.fail(w, err)
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success":        true,
		"rating":         result.Rating,
		"occasion":       result.Occasion,
		"arena_entry_id": result.ArenaEntryID,
	})
}
