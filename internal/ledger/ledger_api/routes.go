package ledger_api

import (
	"net/http"

	"ms-contest/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the cross-cutting pieces the routes need
type RouterOptions struct {
	Admin       func(http.Handler) http.Handler
	Limiter     *IPRateLimiter
	CORSOrigins []string
}

func denyAdmin(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, http.StatusForbidden, "admin access is disabled", nil)
	})
}

// Routes builds the router. Without an Admin middleware the admin routes refuse every request.
func (h *Handler) Routes(opts RouterOptions) http.Handler {
	admin := opts.Admin
	if admin == nil {
		admin = denyAdmin
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Admin-Token"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/contestants", h.ListContestants)
		if h.QR != nil {
			r.Get("/contestants/{id}/qr", h.ContestantQR)
		}
		r.Get("/results", h.Results)
		r.Get("/results/stream", h.ResultsStream)
		r.Get("/stats", h.Stats)

		// Ballot traffic is rate limited per client address.
		r.Group(func(r chi.Router) {
			if opts.Limiter != nil {
				r.Use(RateLimitMiddleware(opts.Limiter))
			}
			r.Get("/contestants/vote", h.Feed)
			r.Post("/view", h.RecordView)
			r.Post("/vote", h.Vote)
		})

		r.Group(func(r chi.Router) {
			r.Use(admin)
			r.Post("/contestants", h.CreateContestants)
			r.Delete("/contestants/{id}", h.DeleteContestant)
			r.Post("/reset-votes", h.ResetVotes)
			r.Delete("/admin/views", h.ClearViews)
			r.Get("/admin/audit", h.Audit)
		})
	})

	return r
}
