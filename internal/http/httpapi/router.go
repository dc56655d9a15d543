package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"stylist/internal/http/handlers"
	"stylist/internal/middleware"
)

// Options carries router-level settings that come from config.
type Options struct {
	AllowedOrigins  []string
	ClientPerMinute int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*app.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	if opts.ClientPerMinute > 0 {
		r.Use(middleware.RateLimit(opts.ClientPerMinute, time.Minute))
	}

	r.Get("/api/health", app.Health)
	r.Post("/api/rate-outfit", app.RateOutfit)
	r.Post("/api/generate-outfit", app.GenerateOutfit)
	r.Get("/api/arena/leaderboard", app.ArenaLeaderboard)

	return r
}
