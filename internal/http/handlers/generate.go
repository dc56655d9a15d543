package handlers

import (
	"net/http"

	"stylist/internal/outfit"
)

type generateRequest struct {
	UserImage  string   `json:"user_image"`
	Occasion   string   `json:"occasion"`
	WowFactor  int      `json:"wow_factor"`
	Brands     []string `json:"brands"`
	Budget     string   `json:"budget"`
	Conditions string   `json:"conditions"`
}

// GenerateOutfit renders a recommended outfit onto the submitted person
// photo. This is the long request of the API; its budget is bounded by
// the generation poller, not the HTTP server write timeout.
func (a *App) GenerateOutfit(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Occasion == "" {
		req.Occasion = "Casual Outing"
	}
	if req.WowFactor == 0 {
		req.WowFactor = 5
	}

	result, err := a.Service.Generate(r.Context(), outfit.GenerateRequest{
		ImageDataURL: req.UserImage,
		Occasion:     req.Occasion,
		WowFactor:    req.WowFactor,
		Brands:       req.Brands,
		Budget:       req.Budget,
		Conditions:   req.Conditions,
	})
	if err != nil {
		a.fail(w, err)
		return
	}

	a.json(w, http.StatusOK, map[string]any{
		"success":            true,
		"generated_image":    result.ImageDataURL,
		"outfit_description": result.Description,
		"occasion":           result.Occasion,
		"job_id":             result.JobID,
		"attempts":           result.Attempts,
	})
}
